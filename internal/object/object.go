// Package object implements the Object Store: content-addressed reads and
// writes of commit/tree/blob/tag objects, dispatching through the chunker
// and codec packages for the chunked-blob and compression paths.
package object

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/google/uuid"

	"gitdb/internal/chunker"
	"gitdb/internal/codec"
	"gitdb/internal/gitdberr"
	"gitdb/internal/obslog"
)

// Object is a single content-addressed unit: a commit, tree, blob, or tag.
// ID is derived; callers populate Type and Raw.
type Object struct {
	ID   codec.ObjectID
	Type codec.ObjectType
	Raw  []byte
}

// Store is the non-owning handle to the objects/chunks tables. It is valid
// only while the repo.Handle that constructed it remains open.
type Store struct {
	db         *sql.DB
	compressor *codec.Compressor
	method     codec.Method
	logger     *slog.Logger
}

// New constructs an Object Store over db, compressing new writes with
// method via compressor. logger may be nil.
func New(db *sql.DB, compressor *codec.Compressor, method codec.Method, logger *slog.Logger) *Store {
	logger = obslog.Default(logger)
	return &Store{
		db:         db,
		compressor: compressor,
		method:     method,
		logger:     logger.With("component", obslog.ComponentObject),
	}
}

// AddObject computes the object's ID from framed (the canonical
// "type size\0data" byte string built by the caller) via codec.HashObject
// and inserts it, replacing any existing row with the same ID. The write
// commits before returning.
func (s *Store) AddObject(ctx context.Context, framed []byte, typ codec.ObjectType) (codec.ObjectID, error) {
	id := codec.HashObject(framed)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return id, wrapBusy(err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op once committed

	if err := s.writeObject(ctx, tx, id, typ, framed); err != nil {
		return id, err
	}

	if err := tx.Commit(); err != nil {
		return id, wrapBusy(err)
	}
	return id, nil
}

// AddObjects ingests every object yielded by objs atomically: all rows
// become visible in a single commit, or none do. progress, if non-nil, is
// called once per object after it is staged (not per chunk) — the engine
// never logs or calls back inside chunk-cutting hot paths.
func (s *Store) AddObjects(ctx context.Context, objs iter.Seq2[[]byte, codec.ObjectType], progress func(done int)) ([]codec.ObjectID, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapBusy(err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op once committed

	batchID := uuid.New()
	s.logger.Debug("batch ingest started", "batch_id", batchID)

	var ids []codec.ObjectID
	done := 0
	for framed, typ := range objs {
		id := codec.HashObject(framed)
		if err := s.writeObject(ctx, tx, id, typ, framed); err != nil {
			return nil, err
		}
		ids = append(ids, id)
		done++
		if progress != nil {
			progress(done)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapBusy(err)
	}
	s.logger.Debug("batch ingest committed", "batch_id", batchID, "count", done)
	return ids, nil
}

// writeObject runs the write algorithm within an already-open transaction:
// compress inline data, or ask the chunker and pack the resulting rowid
// list.
func (s *Store) writeObject(ctx context.Context, tx *sql.Tx, id codec.ObjectID, typ codec.ObjectType, raw []byte) error {
	decision := chunker.Decide(typ, raw)

	if !decision.Chunked {
		compressed, err := s.compressor.Compress(s.method, typ, raw)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO objects (id, type, data, chunk_refs, total_size, compression)
			VALUES (?, ?, ?, NULL, ?, ?)
			ON CONFLICT(id) DO UPDATE SET type=excluded.type, data=excluded.data, chunk_refs=NULL,
				total_size=excluded.total_size, compression=excluded.compression`,
			id[:], byte(typ), compressed, len(raw), byte(s.method))
		if err != nil {
			return fmt.Errorf("insert inline object: %w", wrapBusy(err))
		}
		return nil
	}

	rowids := make([]int64, len(decision.Chunks))
	for i, c := range decision.Chunks {
		compressed, err := s.compressor.CompressChunk(s.method, c.Raw)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `INSERT INTO chunks (id, data, compression, raw_size) VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING`, c.ID[:], compressed, byte(s.method), c.Size)
		if err != nil {
			return fmt.Errorf("insert chunk: %w", wrapBusy(err))
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 1 {
			rowid, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("last insert id: %w", err)
			}
			rowids[i] = rowid
		} else {
			var rowid int64
			if err := tx.QueryRowContext(ctx, `SELECT rowid FROM chunks WHERE id = ?`, c.ID[:]).Scan(&rowid); err != nil {
				return fmt.Errorf("query existing chunk rowid: %w", err)
			}
			rowids[i] = rowid
		}
	}

	packed := codec.PackRefs(rowids)
	var totalSize int
	for _, c := range decision.Chunks {
		totalSize += c.Size
	}

	_, err := tx.ExecContext(ctx, `INSERT INTO objects (id, type, data, chunk_refs, total_size, compression)
		VALUES (?, ?, NULL, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET type=excluded.type, data=NULL, chunk_refs=excluded.chunk_refs,
			total_size=excluded.total_size, compression=excluded.compression`,
		id[:], byte(typ), packed, totalSize, byte(codec.MethodNone))
	if err != nil {
		return fmt.Errorf("insert chunked object: %w", wrapBusy(err))
	}
	return nil
}

// Contains reports whether id exists in the object store.
func (s *Store) Contains(ctx context.Context, id codec.ObjectID) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM objects WHERE id = ?`, id[:]).Scan(&exists)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("contains: %w", wrapBusy(err))
	default:
		return true, nil
	}
}

// GetSize returns the object's total_size field.
func (s *Store) GetSize(ctx context.Context, id codec.ObjectID) (int64, error) {
	var size int64
	err := s.db.QueryRowContext(ctx, `SELECT total_size FROM objects WHERE id = ?`, id[:]).Scan(&size)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, gitdberr.ErrObjectNotFound
	case err != nil:
		return 0, fmt.Errorf("get size: %w", wrapBusy(err))
	default:
		return size, nil
	}
}

// GetRaw fully reassembles id's content: a direct decompress for inline
// objects, or a fetch-decompress-concatenate over every referenced chunk in
// list order for chunked ones.
func (s *Store) GetRaw(ctx context.Context, id codec.ObjectID) (codec.ObjectType, []byte, error) {
	row := objectRow{}
	err := s.db.QueryRowContext(ctx, `SELECT type, data, chunk_refs, total_size, compression FROM objects WHERE id = ?`, id[:]).
		Scan(&row.typ, &row.data, &row.chunkRefs, &row.totalSize, &row.compression)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, nil, gitdberr.ErrObjectNotFound
	case err != nil:
		return 0, nil, fmt.Errorf("get raw: %w", wrapBusy(err))
	}

	typ := codec.ObjectType(row.typ)
	if row.chunkRefs == nil {
		raw, err := s.compressor.Decompress(codec.Method(row.compression), row.data, int(row.totalSize))
		if err != nil {
			return 0, nil, err
		}
		return typ, raw, nil
	}

	raw, err := s.reassembleChunked(ctx, row.chunkRefs, 0, row.totalSize)
	if err != nil {
		return 0, nil, err
	}
	return typ, raw, nil
}

// IterIDs returns a lazy sequence of every object ID, in unspecified order.
func (s *Store) IterIDs(ctx context.Context) iter.Seq2[codec.ObjectID, error] {
	return func(yield func(codec.ObjectID, error) bool) {
		rows, err := s.db.QueryContext(ctx, `SELECT id FROM objects`)
		if err != nil {
			yield(codec.ObjectID{}, fmt.Errorf("iter ids: %w", wrapBusy(err)))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var idBytes []byte
			if err := rows.Scan(&idBytes); err != nil {
				yield(codec.ObjectID{}, fmt.Errorf("scan id: %w", err))
				return
			}
			var id codec.ObjectID
			copy(id[:], idBytes)
			if !yield(id, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(codec.ObjectID{}, fmt.Errorf("iterate ids: %w", err))
		}
	}
}

type objectRow struct {
	typ         byte
	data        []byte
	chunkRefs   []byte
	totalSize   int64
	compression byte
}

func wrapBusy(err error) error {
	if err == nil {
		return nil
	}
	if isSQLiteBusy(err) {
		return fmt.Errorf("%w: %v", gitdberr.ErrBusy, err)
	}
	return err
}
