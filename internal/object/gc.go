package object

import (
	"context"
	"fmt"

	"gitdb/internal/codec"
)

// GC deletes every chunk row not referenced by any object's chunk_refs list.
// It is never invoked implicitly by AddObject/AddObjects — callers schedule
// it explicitly; orphan reclamation is opt-in, not an automatic background
// sweep. It returns the number of chunk rows removed.
func (s *Store) GC(ctx context.Context) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrapBusy(err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op once committed

	rows, err := tx.QueryContext(ctx, `SELECT chunk_refs FROM objects WHERE chunk_refs IS NOT NULL`)
	if err != nil {
		return 0, fmt.Errorf("gc: query chunk_refs: %w", wrapBusy(err))
	}
	live := make(map[int64]struct{})
	for rows.Next() {
		var packed []byte
		if err := rows.Scan(&packed); err != nil {
			rows.Close()
			return 0, fmt.Errorf("gc: scan chunk_refs: %w", err)
		}
		rowids, err := codec.UnpackRefs(packed)
		if err != nil {
			rows.Close()
			return 0, err
		}
		for _, r := range rowids {
			live[r] = struct{}{}
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("gc: iterate chunk_refs: %w", err)
	}
	rows.Close()

	allRows, err := tx.QueryContext(ctx, `SELECT rowid FROM chunks`)
	if err != nil {
		return 0, fmt.Errorf("gc: query chunk rowids: %w", wrapBusy(err))
	}
	var orphans []int64
	for allRows.Next() {
		var rowid int64
		if err := allRows.Scan(&rowid); err != nil {
			allRows.Close()
			return 0, fmt.Errorf("gc: scan chunk rowid: %w", err)
		}
		if _, ok := live[rowid]; !ok {
			orphans = append(orphans, rowid)
		}
	}
	if err := allRows.Err(); err != nil {
		allRows.Close()
		return 0, fmt.Errorf("gc: iterate chunk rowids: %w", err)
	}
	allRows.Close()

	var deleted int64
	for _, rowid := range orphans {
		res, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE rowid = ?`, rowid)
		if err != nil {
			return 0, fmt.Errorf("gc: delete orphan chunk: %w", wrapBusy(err))
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("gc: rows affected: %w", err)
		}
		deleted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, wrapBusy(err)
	}
	s.logger.Debug("gc complete", "orphans_deleted", deleted)
	return deleted, nil
}
