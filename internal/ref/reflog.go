package ref

import (
	"context"
	"database/sql"
	"fmt"
)

// ReflogEntry is one row of a reference's reflog, oldest first.
type ReflogEntry struct {
	OldValue  string
	NewValue  string
	Committer string
	Timestamp int64
	TZOffset  int
	Message   string
}

// ListReflog returns name's reflog entries in chronological order.
func (s *Store) ListReflog(ctx context.Context, name string) ([]ReflogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT old_value, new_value, committer, timestamp, tz_offset, message
		FROM reflog WHERE ref_name = ? ORDER BY id`, name)
	if err != nil {
		return nil, fmt.Errorf("list reflog for %q: %w", name, wrapBusy(err))
	}
	defer rows.Close()

	var entries []ReflogEntry
	for rows.Next() {
		var e ReflogEntry
		var oldValue sql.NullString
		if err := rows.Scan(&oldValue, &e.NewValue, &e.Committer, &e.Timestamp, &e.TZOffset, &e.Message); err != nil {
			return nil, fmt.Errorf("scan reflog entry: %w", err)
		}
		e.OldValue = oldValue.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// PruneReflog trims name's reflog to its most recent keep entries, discarding
// the rest. This is a maintenance operation with no automatic trigger —
// callers schedule it (e.g. on a retention cron), it never runs implicitly.
func (s *Store) PruneReflog(ctx context.Context, name string, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM reflog WHERE ref_name = ? AND id NOT IN (
		SELECT id FROM reflog WHERE ref_name = ? ORDER BY id DESC LIMIT ?)`, name, name, keep)
	if err != nil {
		return 0, fmt.Errorf("prune reflog for %q: %w", name, wrapBusy(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune reflog rows affected: %w", err)
	}
	s.logger.Debug("reflog pruned", "ref", name, "removed", n, "keep", keep)
	return n, nil
}
