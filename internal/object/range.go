package object

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"gitdb/internal/codec"
	"gitdb/internal/gitdberr"
)

// GetRawRange returns up to length bytes of id's content starting at
// offset, clamped to what's available: if offset >= total size the result
// is empty, and a request extending past the end returns whatever remains.
// Negative offset or length is rejected with ErrInvalidRange.
func (s *Store) GetRawRange(ctx context.Context, id codec.ObjectID, offset, length int64) ([]byte, error) {
	if offset < 0 || length < 0 {
		return nil, gitdberr.ErrInvalidRange
	}

	row := objectRow{}
	err := s.db.QueryRowContext(ctx, `SELECT type, data, chunk_refs, total_size, compression FROM objects WHERE id = ?`, id[:]).
		Scan(&row.typ, &row.data, &row.chunkRefs, &row.totalSize, &row.compression)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, gitdberr.ErrObjectNotFound
	case err != nil:
		return nil, fmt.Errorf("get raw range: %w", wrapBusy(err))
	}

	if offset >= row.totalSize {
		return []byte{}, nil
	}
	end := offset + length
	if end > row.totalSize {
		end = row.totalSize
	}

	if row.chunkRefs == nil {
		raw, err := s.compressor.Decompress(codec.Method(row.compression), row.data, int(row.totalSize))
		if err != nil {
			return nil, err
		}
		if end > int64(len(raw)) {
			end = int64(len(raw))
		}
		return raw[offset:end], nil
	}

	return s.reassembleChunked(ctx, row.chunkRefs, offset, end)
}

// reassembleChunked fetches and decompresses only the chunks overlapping
// [start, end) (end exclusive, both measured in raw/uncompressed bytes from
// the object's start) and slices the result to exactly that range. Passing
// start=0, end=totalSize reassembles the whole object.
func (s *Store) reassembleChunked(ctx context.Context, chunkRefs []byte, start, end int64) ([]byte, error) {
	rowids, err := codec.UnpackRefs(chunkRefs)
	if err != nil {
		return nil, err
	}
	if len(rowids) == 0 {
		return []byte{}, nil
	}

	sizes, err := fetchChunkSizes(ctx, s.db, rowids)
	if err != nil {
		return nil, err
	}

	// Cumulative raw offsets, one past each chunk's end.
	cum := make([]int64, len(sizes)+1)
	for i, sz := range sizes {
		cum[i+1] = cum[i] + sz
	}

	// First chunk whose end-offset exceeds start, last chunk whose
	// start-offset precedes end.
	firstIdx := sort.Search(len(sizes), func(i int) bool { return cum[i+1] > start })
	lastIdx := sort.Search(len(sizes), func(i int) bool { return cum[i] >= end })
	if lastIdx > len(sizes) {
		lastIdx = len(sizes)
	}
	if firstIdx >= len(sizes) {
		return []byte{}, nil
	}

	wanted := rowids[firstIdx:lastIdx]
	chunks, err := fetchChunks(ctx, s.db, wanted)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, end-start)
	for i, rowid := range wanted {
		c, ok := chunks[rowid]
		if !ok {
			return nil, fmt.Errorf("%w: missing chunk rowid %d", gitdberr.ErrCorruptReferenceList, rowid)
		}
		raw, err := s.compressor.Decompress(c.compression, c.data, int(c.rawSize))
		if err != nil {
			return nil, err
		}

		chunkStart := cum[firstIdx+i]
		loCut := int64(0)
		if start > chunkStart {
			loCut = start - chunkStart
		}
		hiCut := int64(len(raw))
		chunkEnd := chunkStart + int64(len(raw))
		if end < chunkEnd {
			hiCut = int64(len(raw)) - (chunkEnd - end)
		}
		if loCut < 0 {
			loCut = 0
		}
		if hiCut > int64(len(raw)) {
			hiCut = int64(len(raw))
		}
		if loCut < hiCut {
			out = append(out, raw[loCut:hiCut]...)
		}
	}

	return out, nil
}

type chunkRow struct {
	data        []byte
	compression codec.Method
	rawSize     int64
}

func fetchChunkSizes(ctx context.Context, db *sql.DB, rowids []int64) ([]int64, error) {
	placeholders, args := inClause(rowids)
	rows, err := db.QueryContext(ctx, `SELECT rowid, raw_size FROM chunks WHERE rowid IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("query chunk sizes: %w", wrapBusy(err))
	}
	defer rows.Close()

	bySize := make(map[int64]int64, len(rowids))
	for rows.Next() {
		var rowid, size int64
		if err := rows.Scan(&rowid, &size); err != nil {
			return nil, fmt.Errorf("scan chunk size: %w", err)
		}
		bySize[rowid] = size
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunk sizes: %w", err)
	}

	sizes := make([]int64, len(rowids))
	for i, r := range rowids {
		sz, ok := bySize[r]
		if !ok {
			return nil, fmt.Errorf("%w: chunk rowid %d not found", gitdberr.ErrCorruptReferenceList, r)
		}
		sizes[i] = sz
	}
	return sizes, nil
}

func fetchChunks(ctx context.Context, db *sql.DB, rowids []int64) (map[int64]chunkRow, error) {
	if len(rowids) == 0 {
		return map[int64]chunkRow{}, nil
	}
	placeholders, args := inClause(rowids)
	rows, err := db.QueryContext(ctx, `SELECT rowid, data, compression, raw_size FROM chunks WHERE rowid IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", wrapBusy(err))
	}
	defer rows.Close()

	out := make(map[int64]chunkRow, len(rowids))
	for rows.Next() {
		var rowid int64
		var c chunkRow
		var compression byte
		if err := rows.Scan(&rowid, &c.data, &compression, &c.rawSize); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		c.compression = codec.Method(compression)
		out[rowid] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return out, nil
}

func inClause(rowids []int64) (string, []any) {
	args := make([]any, len(rowids))
	placeholders := make([]byte, 0, len(rowids)*2)
	for i, r := range rowids {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args[i] = r
	}
	return string(placeholders), args
}
