package object

import "strings"

// isSQLiteBusy reports whether err came from a SQLITE_BUSY condition —
// another connection (or this one, after the busy_timeout elapsed) held
// the write lock. modernc.org/sqlite surfaces this as a driver error whose
// text names the SQLite result code; matching on that text avoids a direct
// dependency on the driver's internal error type from every query site.
func isSQLiteBusy(err error) bool {
	s := err.Error()
	return strings.Contains(s, "SQLITE_BUSY") || strings.Contains(s, "database is locked")
}
