// Package ref implements the Reference Store: compare-and-swap mutations
// over the refs/peeled_refs tables, with every mutation appending an entry
// to the append-only reflog in the same transaction.
package ref

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gitdb/internal/gitdberr"
	"gitdb/internal/obslog"
)

// ZeroID is the forty-character all-zero hex sentinel conventionally meaning
// "should not exist". set_if_equals with old=ZeroID behaves like add_if_new;
// remove_if_equals with old=ZeroID is an unconditional delete.
const ZeroID = "0000000000000000000000000000000000000000"

const symbolicPrefix = "ref: "

// DefaultCommitter is the identity recorded on a reflog entry when the
// caller doesn't supply one.
const DefaultCommitter = "gitdb"

// Store is the non-owning handle to the refs/peeled_refs/reflog tables.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New constructs a Reference Store over db. logger may be nil.
func New(db *sql.DB, logger *slog.Logger) *Store {
	logger = obslog.Default(logger)
	return &Store{db: db, logger: logger.With("component", obslog.ComponentRef)}
}

// Mutation carries the reflog fields a caller may want to override; the
// zero value records under DefaultCommitter with an empty message.
type Mutation struct {
	Committer string
	Message   string
	When      time.Time
}

func (m Mutation) committer() string {
	if m.Committer == "" {
		return DefaultCommitter
	}
	return m.Committer
}

// Get returns name's raw stored value (a symbolic target prefixed with
// "ref: ", or a hex object ID), without following symbolic chains.
func (s *Store) Get(ctx context.Context, name string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM refs WHERE name = ?`, name).Scan(&value)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", gitdberr.ErrRefNotFound
	case err != nil:
		return "", fmt.Errorf("get ref %q: %w", name, wrapBusy(err))
	default:
		return value, nil
	}
}

// Resolve follows name's symbolic chain to the terminal hex object ID.
// maxDepth bounds the chain length against a cycle.
func (s *Store) Resolve(ctx context.Context, name string) (string, error) {
	const maxDepth = 32
	cur := name
	for i := 0; i < maxDepth; i++ {
		value, err := s.Get(ctx, cur)
		if err != nil {
			return "", err
		}
		target, ok := strings.CutPrefix(value, symbolicPrefix)
		if !ok {
			return value, nil
		}
		cur = target
	}
	return "", fmt.Errorf("resolve %q: %w: symbolic chain too deep", name, gitdberr.ErrRefNotFound)
}

// ListAll returns every reference name.
func (s *Store) ListAll(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM refs`)
	if err != nil {
		return nil, fmt.Errorf("list refs: %w", wrapBusy(err))
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan ref name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// SetIfEquals atomically sets name to newValue iff its current value equals
// old (old=ZeroID succeeds only while name does not exist, matching
// add_if_new). It
// reports whether the CAS succeeded; a false return with a nil error means
// the current value didn't match, not a failure. The read-then-write runs
// inside one transaction; with the store's single serialized connection
// that gives the same exclusivity BEGIN IMMEDIATE would buy on a
// multi-connection pool.
func (s *Store) SetIfEquals(ctx context.Context, name, old, newValue string, mut Mutation) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, wrapBusy(err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op once committed

	ok, err := setIfEquals(ctx, tx, name, old, newValue, mut)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, tx.Commit()
	}
	if err := tx.Commit(); err != nil {
		return false, wrapBusy(err)
	}
	return true, nil
}

func setIfEquals(ctx context.Context, tx *sql.Tx, name, old, newValue string, mut Mutation) (bool, error) {
	var current sql.NullString
	err := tx.QueryRowContext(ctx, `SELECT value FROM refs WHERE name = ?`, name).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		current = sql.NullString{}
	case err != nil:
		return false, fmt.Errorf("read current value of %q: %w", name, wrapBusy(err))
	}

	exists := current.Valid
	matches := (!exists && old == ZeroID) || (exists && current.String == old)
	if !matches {
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO refs (name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value`, name, newValue)
	if err != nil {
		return false, fmt.Errorf("set ref %q: %w", name, wrapBusy(err))
	}

	if err := appendReflog(ctx, tx, name, nullIfAbsent(current), newValue, mut); err != nil {
		return false, err
	}
	return true, nil
}

// AddIfNew creates name with value iff it doesn't already exist.
func (s *Store) AddIfNew(ctx context.Context, name, value string, mut Mutation) (bool, error) {
	return s.SetIfEquals(ctx, name, ZeroID, value, mut)
}

// RemoveIfEquals atomically deletes name iff its current value equals old
// (old=ZeroID permits an unconditional delete).
func (s *Store) RemoveIfEquals(ctx context.Context, name, old string, mut Mutation) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, wrapBusy(err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op once committed

	var current sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT value FROM refs WHERE name = ?`, name).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("read current value of %q: %w", name, wrapBusy(err))
	}

	if old != ZeroID && current.String != old {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM refs WHERE name = ?`, name); err != nil {
		return false, fmt.Errorf("delete ref %q: %w", name, wrapBusy(err))
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM peeled_refs WHERE name = ?`, name); err != nil {
		return false, fmt.Errorf("delete peeled ref %q: %w", name, wrapBusy(err))
	}

	if err := appendReflog(ctx, tx, name, nullIfAbsent(current), "", mut); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, wrapBusy(err)
	}
	return true, nil
}

// SetSymbolic points name at target, storing "ref: "+target as the value.
func (s *Store) SetSymbolic(ctx context.Context, name, target string, mut Mutation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapBusy(err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op once committed

	var current sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT value FROM refs WHERE name = ?`, name).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read current value of %q: %w", name, wrapBusy(err))
	}

	newValue := symbolicPrefix + target
	_, err = tx.ExecContext(ctx, `INSERT INTO refs (name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value`, name, newValue)
	if err != nil {
		return fmt.Errorf("set symbolic ref %q: %w", name, wrapBusy(err))
	}

	if err := appendReflog(ctx, tx, name, nullIfAbsent(current), newValue, mut); err != nil {
		return err
	}
	return tx.Commit()
}

// GetPeeled returns the cached peeled (fully dereferenced tag → commit)
// value for name, if one has been recorded.
func (s *Store) GetPeeled(ctx context.Context, name string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM peeled_refs WHERE name = ?`, name).Scan(&value)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("get peeled ref %q: %w", name, wrapBusy(err))
	default:
		return value, true, nil
	}
}

// SetPeeled records name's peeled value. It does not touch the reflog:
// the peeled cache is a derived index, not a user-visible mutation.
func (s *Store) SetPeeled(ctx context.Context, name, value string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO peeled_refs (name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value`, name, value)
	if err != nil {
		return fmt.Errorf("set peeled ref %q: %w", name, wrapBusy(err))
	}
	return nil
}

func nullIfAbsent(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

func appendReflog(ctx context.Context, tx *sql.Tx, name string, oldValue *string, newValue string, mut Mutation) error {
	when := mut.When
	if when.IsZero() {
		when = time.Now()
	}
	_, offset := when.Zone()
	_, err := tx.ExecContext(ctx, `INSERT INTO reflog (ref_name, old_value, new_value, committer, timestamp, tz_offset, message)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		name, oldValue, newValue, mut.committer(), when.Unix(), offset, mut.Message)
	if err != nil {
		return fmt.Errorf("append reflog for %q: %w", name, wrapBusy(err))
	}
	return nil
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

func isSQLiteBusy(err error) bool {
	s := err.Error()
	return strings.Contains(s, "SQLITE_BUSY") || strings.Contains(s, "database is locked")
}
