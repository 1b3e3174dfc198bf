// Package gitdberr declares the sentinel error values returned by every
// other package in this module, so callers can match them with errors.Is
// regardless of which layer produced the wrapped error.
package gitdberr

import "errors"

var (
	// ErrNotARepository is returned by Open when path does not contain a
	// database this engine recognizes.
	ErrNotARepository = errors.New("gitdb: not a repository")

	// ErrUnsupportedSchemaVersion is returned at open time when the stored
	// schema version is newer than this engine understands, or when a
	// migration fails to reach the target version.
	ErrUnsupportedSchemaVersion = errors.New("gitdb: unsupported schema version")

	// ErrObjectNotFound is returned by object lookups when no row exists
	// for the requested object ID.
	ErrObjectNotFound = errors.New("gitdb: object not found")

	// ErrRefNotFound is returned by reference lookups when no row exists
	// for the requested name.
	ErrRefNotFound = errors.New("gitdb: ref not found")

	// ErrBusy is returned when the underlying database could not acquire
	// a write lock within the configured busy timeout. Callers may retry.
	ErrBusy = errors.New("gitdb: database busy")

	// ErrCorruptReferenceList is returned when a packed chunk_refs blob
	// fails to decode (truncated varint or trailing garbage).
	ErrCorruptReferenceList = errors.New("gitdb: corrupt reference list")

	// ErrNoIndex is returned by OpenIndex: this engine is always bare.
	ErrNoIndex = errors.New("gitdb: repository has no index")

	// ErrCompression is returned when a compression or decompression
	// operation fails.
	ErrCompression = errors.New("gitdb: compression error")

	// ErrInvalidRange is returned by byte-range reads given a negative
	// offset or length.
	ErrInvalidRange = errors.New("gitdb: invalid byte range")
)
