// Package codec implements the engine's low-level binary format: object and
// chunk content-addressing (SHA-1 / SHA-256), the delta-zigzag-varint
// encoding used for packed chunk-reference lists, and the pluggable
// compression dispatch (none / deflate / lz-family-with-dictionaries).
package codec

import (
	"crypto/sha1" //nolint:gosec // G505: SHA-1 is the git object-ID algorithm, not used for security
	"crypto/sha256"
)

// ObjectType is the four-way tagged variant every object row carries.
// All serialization and chunking decisions dispatch on this tag.
type ObjectType byte

const (
	ObjectCommit ObjectType = 1
	ObjectTree   ObjectType = 2
	ObjectBlob   ObjectType = 3
	ObjectTag    ObjectType = 4
)

func (t ObjectType) String() string {
	switch t {
	case ObjectCommit:
		return "commit"
	case ObjectTree:
		return "tree"
	case ObjectBlob:
		return "blob"
	case ObjectTag:
		return "tag"
	default:
		return "unknown"
	}
}

// ObjectID is a 20-byte SHA-1 object identifier.
type ObjectID [20]byte

// ChunkID is a 32-byte SHA-256 chunk identifier, always computed over raw
// (pre-compression) bytes so identity is stable across codec choices.
type ChunkID [32]byte

// HashObject computes the SHA-1 object ID over a caller-framed byte string.
// Framing (the "type size\0data" canonicalization) is the caller's object
// model's responsibility, not reimplemented here.
func HashObject(framed []byte) ObjectID {
	return ObjectID(sha1.Sum(framed)) //nolint:gosec // G401: git object IDs are SHA-1 by definition
}

// HashChunk computes the SHA-256 chunk ID over raw, uncompressed bytes.
func HashChunk(raw []byte) ChunkID {
	return ChunkID(sha256.Sum256(raw))
}
