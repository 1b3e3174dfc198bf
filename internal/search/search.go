// Package search implements the Search Engine: byte-substring lookup over
// blob content stored either inline or as chunk sequences, without
// maintaining a persistent inverted index.
package search

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"iter"
	"log/slog"

	"gitdb/internal/codec"
	"gitdb/internal/gitdberr"
	"gitdb/internal/obslog"
)

// Engine is the non-owning handle used to run content searches over an
// object store's underlying tables. Blobs and chunks are never
// dictionary-coded, so the engine's own undictionaried Compressor can
// always decode them regardless of which dictionaries the repository
// handle loaded for commit/tree compression.
type Engine struct {
	db         *sql.DB
	compressor *codec.Compressor
	logger     *slog.Logger
}

// New constructs a Search Engine over db. logger may be nil.
func New(db *sql.DB, logger *slog.Logger) (*Engine, error) {
	logger = obslog.Default(logger)
	compressor, err := codec.NewCompressor(nil)
	if err != nil {
		return nil, err
	}
	return &Engine{db: db, compressor: compressor, logger: logger.With("component", obslog.ComponentSearch)}, nil
}

// Close releases the engine's compressor resources.
func (e *Engine) Close() {
	e.compressor.Close()
}

// SearchContent returns, as a lazy sequence, the IDs of every blob object
// whose raw content contains query as a byte substring. Its four passes
// run in sequence and their results are deduplicated before yielding;
// there is no persistent index backing this, so each call re-scans.
func (e *Engine) SearchContent(ctx context.Context, query []byte) (iter.Seq2[codec.ObjectID, error], error) {
	if len(query) == 0 {
		return func(yield func(codec.ObjectID, error) bool) {}, nil
	}

	return func(yield func(codec.ObjectID, error) bool) {
		seen := make(map[codec.ObjectID]bool)

		emit := func(id codec.ObjectID) bool {
			if seen[id] {
				return true
			}
			seen[id] = true
			return yield(id, nil)
		}

		if !e.scanInlineUncompressed(ctx, query, emit, yield) {
			return
		}
		if !e.scanInlineCompressed(ctx, query, emit, yield) {
			return
		}

		chunkRowids, ok := e.scanChunksUncompressed(ctx, query, yield)
		if !ok {
			return
		}
		if len(chunkRowids) > 0 {
			if !e.reverseMapChunksToObjects(ctx, chunkRowids, emit, yield) {
				return
			}
		}

		compressedChunkRowids, ok := e.scanChunksCompressed(ctx, query, yield)
		if !ok {
			return
		}
		if len(compressedChunkRowids) > 0 {
			e.reverseMapChunksToObjects(ctx, compressedChunkRowids, emit, yield)
		}
	}, nil
}

// scanInlineUncompressed is pass 1: a SQL substring match directly on inline
// blob rows stored with compression=none.
func (e *Engine) scanInlineUncompressed(ctx context.Context, query []byte, emit func(codec.ObjectID) bool, yield func(codec.ObjectID, error) bool) bool {
	rows, err := e.db.QueryContext(ctx, `SELECT id FROM objects
		WHERE type = ? AND chunk_refs IS NULL AND compression = ? AND instr(data, ?) > 0`,
		byte(codec.ObjectBlob), byte(codec.MethodNone), query)
	if err != nil {
		yield(codec.ObjectID{}, fmt.Errorf("search inline uncompressed: %w", err))
		return false
	}
	defer rows.Close()

	for rows.Next() {
		id, err := scanObjectID(rows)
		if err != nil {
			yield(codec.ObjectID{}, err)
			return false
		}
		if !emit(id) {
			return false
		}
	}
	if err := rows.Err(); err != nil {
		yield(codec.ObjectID{}, fmt.Errorf("iterate inline uncompressed matches: %w", err))
		return false
	}
	return true
}

// scanInlineCompressed is pass 2: host-side decompression of every
// compressed inline blob row, then an in-process substring match. There is
// no way to push this into SQL since compressed bytes don't preserve
// substring structure.
func (e *Engine) scanInlineCompressed(ctx context.Context, query []byte, emit func(codec.ObjectID) bool, yield func(codec.ObjectID, error) bool) bool {
	rows, err := e.db.QueryContext(ctx, `SELECT id, data, compression, total_size FROM objects
		WHERE type = ? AND chunk_refs IS NULL AND compression != ?`,
		byte(codec.ObjectBlob), byte(codec.MethodNone))
	if err != nil {
		yield(codec.ObjectID{}, fmt.Errorf("search inline compressed: %w", err))
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var idBytes, data []byte
		var compression byte
		var totalSize int64
		if err := rows.Scan(&idBytes, &data, &compression, &totalSize); err != nil {
			yield(codec.ObjectID{}, fmt.Errorf("scan inline compressed row: %w", err))
			return false
		}
		raw, err := e.compressor.Decompress(codec.Method(compression), data, int(totalSize))
		if err != nil {
			yield(codec.ObjectID{}, err)
			return false
		}
		if !bytes.Contains(raw, query) {
			continue
		}
		var id codec.ObjectID
		copy(id[:], idBytes)
		if !emit(id) {
			return false
		}
	}
	if err := rows.Err(); err != nil {
		yield(codec.ObjectID{}, fmt.Errorf("iterate inline compressed rows: %w", err))
		return false
	}
	return true
}

// scanChunksUncompressed is pass 3's SQL half: find chunk rowids whose
// uncompressed data contains query.
func (e *Engine) scanChunksUncompressed(ctx context.Context, query []byte, yield func(codec.ObjectID, error) bool) ([]int64, bool) {
	rows, err := e.db.QueryContext(ctx, `SELECT rowid FROM chunks WHERE compression = ? AND instr(data, ?) > 0`,
		byte(codec.MethodNone), query)
	if err != nil {
		yield(codec.ObjectID{}, fmt.Errorf("search chunks uncompressed: %w", err))
		return nil, false
	}
	defer rows.Close()

	var rowids []int64
	for rows.Next() {
		var rowid int64
		if err := rows.Scan(&rowid); err != nil {
			yield(codec.ObjectID{}, fmt.Errorf("scan chunk rowid: %w", err))
			return nil, false
		}
		rowids = append(rowids, rowid)
	}
	if err := rows.Err(); err != nil {
		yield(codec.ObjectID{}, fmt.Errorf("iterate chunk uncompressed matches: %w", err))
		return nil, false
	}
	return rowids, true
}

// scanChunksCompressed is pass 4's SQL-plus-host half: decompress every
// compressed chunk and match in-process.
func (e *Engine) scanChunksCompressed(ctx context.Context, query []byte, yield func(codec.ObjectID, error) bool) ([]int64, bool) {
	rows, err := e.db.QueryContext(ctx, `SELECT rowid, data, compression, raw_size FROM chunks WHERE compression != ?`,
		byte(codec.MethodNone))
	if err != nil {
		yield(codec.ObjectID{}, fmt.Errorf("search chunks compressed: %w", err))
		return nil, false
	}
	defer rows.Close()

	var rowids []int64
	for rows.Next() {
		var rowid int64
		var data []byte
		var compression byte
		var rawSize int64
		if err := rows.Scan(&rowid, &data, &compression, &rawSize); err != nil {
			yield(codec.ObjectID{}, fmt.Errorf("scan compressed chunk: %w", err))
			return nil, false
		}
		raw, err := e.compressor.Decompress(codec.Method(compression), data, int(rawSize))
		if err != nil {
			yield(codec.ObjectID{}, err)
			return nil, false
		}
		if bytes.Contains(raw, query) {
			rowids = append(rowids, rowid)
		}
	}
	if err := rows.Err(); err != nil {
		yield(codec.ObjectID{}, fmt.Errorf("iterate compressed chunks: %w", err))
		return nil, false
	}
	return rowids, true
}

// reverseMapChunksToObjects scans every chunked object's chunk_refs blob
// (there is no chunk→object join table) and emits the object ID for any
// object referencing one of wantRowids.
func (e *Engine) reverseMapChunksToObjects(ctx context.Context, wantRowids []int64, emit func(codec.ObjectID) bool, yield func(codec.ObjectID, error) bool) bool {
	want := make(map[int64]bool, len(wantRowids))
	for _, r := range wantRowids {
		want[r] = true
	}

	rows, err := e.db.QueryContext(ctx, `SELECT id, chunk_refs FROM objects WHERE chunk_refs IS NOT NULL`)
	if err != nil {
		yield(codec.ObjectID{}, fmt.Errorf("reverse map chunks: %w", err))
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var idBytes, packed []byte
		if err := rows.Scan(&idBytes, &packed); err != nil {
			yield(codec.ObjectID{}, fmt.Errorf("scan chunked object: %w", err))
			return false
		}
		refs, err := codec.UnpackRefs(packed)
		if err != nil {
			yield(codec.ObjectID{}, fmt.Errorf("%w: %v", gitdberr.ErrCorruptReferenceList, err))
			return false
		}
		matched := false
		for _, r := range refs {
			if want[r] {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		var id codec.ObjectID
		copy(id[:], idBytes)
		if !emit(id) {
			return false
		}
	}
	if err := rows.Err(); err != nil {
		yield(codec.ObjectID{}, fmt.Errorf("iterate chunked objects: %w", err))
		return false
	}
	return true
}

func scanObjectID(rows *sql.Rows) (codec.ObjectID, error) {
	var idBytes []byte
	if err := rows.Scan(&idBytes); err != nil {
		return codec.ObjectID{}, fmt.Errorf("scan object id: %w", err)
	}
	var id codec.ObjectID
	copy(id[:], idBytes)
	return id, nil
}
