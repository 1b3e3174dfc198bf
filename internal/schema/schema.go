// Package schema owns the engine's on-disk schema: pragma configuration,
// fresh-vs-existing detection, and forward migration to CurrentVersion. It
// is the only package that runs raw DDL.
package schema

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"gitdb/internal/gitdberr"
)

// BusyTimeoutMS is the lock-wait timeout applied to every connection:
// writers block up to this long on contention before failing with
// ErrBusy.
const BusyTimeoutMS = 5000

// Open opens (or, if it doesn't exist and createIfMissing is true, creates)
// the SQLite file at path, applies connection pragmas, and migrates the
// schema to CurrentVersion. It returns the fresh flag (true iff this call
// created a fresh schema); a newer-than-supported on-disk schema fails with
// ErrUnsupportedSchemaVersion.
func Open(path string, createIfMissing bool) (db *sql.DB, fresh bool, err error) {
	db, err = sql.Open("sqlite", path)
	if err != nil {
		return nil, false, fmt.Errorf("open sqlite: %w", err)
	}

	// A single, serialized connection: this engine is handle-local, not
	// shareable across goroutines, and SQLite's own writer exclusivity is
	// simplest to reason about with exactly one *sql.Conn ever checked out
	// from the pool.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, false, err
	}

	fresh, err = isFresh(db)
	if err != nil {
		db.Close()
		return nil, false, err
	}
	if fresh && !createIfMissing {
		db.Close()
		return nil, false, gitdberr.ErrNotARepository
	}

	maxApplied, err := maxAppliedVersion(db)
	if err != nil {
		db.Close()
		return nil, false, err
	}
	if maxApplied > CurrentVersion {
		db.Close()
		return nil, false, fmt.Errorf("%w: on-disk version %d newer than engine version %d",
			gitdberr.ErrUnsupportedSchemaVersion, maxApplied, CurrentVersion)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, false, fmt.Errorf("%w: %v", gitdberr.ErrUnsupportedSchemaVersion, err)
	}

	if err := writeSchemaVersion(db); err != nil {
		db.Close()
		return nil, false, err
	}

	return db, fresh, nil
}

// applyPragmas sets the three pragmas this engine requires on every
// connection: WAL journaling, moderate (not full) synchronous durability,
// and the busy-lock timeout.
func applyPragmas(db *sql.DB) error {
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return fmt.Errorf("set journal_mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		return fmt.Errorf("set synchronous: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", BusyTimeoutMS)); err != nil {
		return fmt.Errorf("set busy_timeout: %w", err)
	}
	return nil
}

// isFresh reports whether the Metadata relation is absent, i.e. this
// database was never initialized by this engine.
func isFresh(db *sql.DB) (bool, error) {
	var name string
	err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'metadata'`).Scan(&name)
	switch {
	case err == sql.ErrNoRows:
		return true, nil
	case err != nil:
		return false, fmt.Errorf("detect schema: %w", err)
	default:
		return false, nil
	}
}

func maxAppliedVersion(db *sql.DB) (int, error) {
	var exists int
	err := db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_migrations'`).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("check schema_migrations: %w", err)
	}
	if exists == 0 {
		return 0, nil
	}

	var max sql.NullInt64
	if err := db.QueryRow(`SELECT max(version) FROM schema_migrations`).Scan(&max); err != nil {
		return 0, fmt.Errorf("query max schema version: %w", err)
	}
	return int(max.Int64), nil
}

func writeSchemaVersion(db *sql.DB) error {
	_, err := db.Exec(`INSERT INTO metadata (key, value) VALUES ('schema_version', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, fmt.Sprintf("%d", CurrentVersion))
	if err != nil {
		return fmt.Errorf("write schema_version: %w", err)
	}
	return nil
}
