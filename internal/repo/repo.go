// Package repo implements the Repository Handle: the top-level entry point
// that owns the database connection and wires together the object store,
// reference store, and search engine over it.
package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"gitdb/internal/codec"
	"gitdb/internal/gitdberr"
	"gitdb/internal/object"
	"gitdb/internal/obslog"
	"gitdb/internal/ref"
	"gitdb/internal/schema"
	"gitdb/internal/search"
)

// NamedFile paths reserved by the engine.
const (
	NamedFileConfig      = "config"
	NamedFileDescription = "description"
	NamedFileExclude     = "info/exclude"

	namedFileDictCommit = "_zstd_dict_commit"
	namedFileDictTree   = "_zstd_dict_tree"
	namedFileDictChunk  = "_zstd_dict_chunk"
	namedFileDictLegacy = "_zstd_dict"
)

const metadataKeyCompression = "compression"

// Handle owns the repository's single database connection for its entire
// lifetime. The Object Store and Reference Store handles it exposes are
// non-owning: they become invalid once Close returns.
type Handle struct {
	db     *sql.DB
	logger *slog.Logger

	compressor *codec.Compressor
	method     codec.Method

	objects *object.Store
	refs    *ref.Store
	search  *search.Engine
}

// Open opens an existing repository database at path. It fails with
// ErrNotARepository if no database exists there yet — use InitBare to
// create one.
func Open(path string, logger *slog.Logger) (*Handle, error) {
	return open(path, false, codec.MethodNone, logger)
}

// InitBare creates a new repository database at path, recording method as
// the active compression for new writes. It fails if a database already
// exists there.
func InitBare(path string, method codec.Method, logger *slog.Logger) (*Handle, error) {
	return open(path, true, method, logger)
}

func open(path string, create bool, method codec.Method, logger *slog.Logger) (*Handle, error) {
	logger = obslog.Default(logger)
	logger = logger.With("component", obslog.ComponentRepo)

	db, fresh, err := schema.Open(path, create)
	if err != nil {
		return nil, err
	}
	if create && !fresh {
		db.Close()
		return nil, fmt.Errorf("repository already exists at %q", path)
	}

	h := &Handle{db: db, logger: logger}

	if fresh {
		if err := h.setMetadata(context.Background(), metadataKeyCompression, method.MetadataName()); err != nil {
			db.Close()
			return nil, err
		}
	} else {
		stored, err := h.getMetadata(context.Background(), metadataKeyCompression)
		if err != nil {
			db.Close()
			return nil, err
		}
		if stored != "" {
			method, err = codec.ParseMethod(stored)
			if err != nil {
				db.Close()
				return nil, err
			}
		}
	}
	h.method = method

	dicts, err := h.loadDictionaries(context.Background())
	if err != nil {
		db.Close()
		return nil, err
	}
	compressor, err := codec.NewCompressor(dicts)
	if err != nil {
		db.Close()
		return nil, err
	}
	h.compressor = compressor

	h.objects = object.New(db, compressor, method, logger)
	h.refs = ref.New(db, logger)
	searchEngine, err := search.New(db, logger)
	if err != nil {
		compressor.Close()
		db.Close()
		return nil, err
	}
	h.search = searchEngine

	logger.Debug("repository opened", "path", path, "fresh", fresh, "compression", method)
	return h, nil
}

// Close releases the handle's database connection and compressor. The
// ObjectStore/RefStore/SearchEngine accessors become invalid afterward.
func (h *Handle) Close() error {
	h.search.Close()
	h.compressor.Close()
	return h.db.Close()
}

// ObjectStore returns the handle's Object Store.
func (h *Handle) ObjectStore() *object.Store { return h.objects }

// RefStore returns the handle's Reference Store.
func (h *Handle) RefStore() *ref.Store { return h.refs }

// SearchEngine returns the handle's Search Engine.
func (h *Handle) SearchEngine() *search.Engine { return h.search }

// OpenIndex always fails: this engine models a bare repository and never
// maintains working-tree/index state.
func (h *Handle) OpenIndex() error {
	return gitdberr.ErrNoIndex
}

// Config returns the contents of the reserved "config" named file.
func (h *Handle) Config(ctx context.Context) ([]byte, error) {
	return h.NamedFile(ctx, NamedFileConfig)
}

// SetConfig writes the reserved "config" named file.
func (h *Handle) SetConfig(ctx context.Context, data []byte) error {
	return h.SetNamedFile(ctx, NamedFileConfig, data)
}

// Description returns the contents of the reserved "description" named file.
func (h *Handle) Description(ctx context.Context) ([]byte, error) {
	return h.NamedFile(ctx, NamedFileDescription)
}

// SetDescription writes the reserved "description" named file.
func (h *Handle) SetDescription(ctx context.Context, data []byte) error {
	return h.SetNamedFile(ctx, NamedFileDescription, data)
}

// NamedFile reads path's contents from the NamedFile relation.
func (h *Handle) NamedFile(ctx context.Context, path string) ([]byte, error) {
	var data []byte
	err := h.db.QueryRowContext(ctx, `SELECT contents FROM named_files WHERE path = ?`, path).Scan(&data)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("read named file %q: %w", path, err)
	default:
		return data, nil
	}
}

// SetNamedFile writes path's contents to the NamedFile relation.
func (h *Handle) SetNamedFile(ctx context.Context, path string, data []byte) error {
	_, err := h.db.ExecContext(ctx, `INSERT INTO named_files (path, contents) VALUES (?, ?)
		ON CONFLICT(path) DO UPDATE SET contents = excluded.contents`, path, data)
	if err != nil {
		return fmt.Errorf("write named file %q: %w", path, err)
	}
	return nil
}

func (h *Handle) getMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := h.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", nil
	case err != nil:
		return "", fmt.Errorf("read metadata %q: %w", key, err)
	default:
		return value, nil
	}
}

func (h *Handle) setMetadata(ctx context.Context, key, value string) error {
	_, err := h.db.ExecContext(ctx, `INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("write metadata %q: %w", key, err)
	}
	return nil
}

// loadDictionaries reads whichever of the four reserved dictionary named
// files are present and maps them to their codec.DictSlot.
func (h *Handle) loadDictionaries(ctx context.Context) (map[codec.DictSlot][]byte, error) {
	slots := map[string]codec.DictSlot{
		namedFileDictCommit: codec.DictCommit,
		namedFileDictTree:   codec.DictTree,
		namedFileDictChunk:  codec.DictChunk,
		namedFileDictLegacy: codec.DictLegacy,
	}
	dicts := make(map[codec.DictSlot][]byte)
	for path, slot := range slots {
		data, err := h.NamedFile(ctx, path)
		if err != nil {
			return nil, err
		}
		if len(data) > 0 {
			dicts[slot] = data
		}
	}
	return dicts, nil
}
