// Package chunker implements the engine's content-defined chunking layer:
// the inline-vs-chunked decision tree, line-aware text CDC, and a
// FastCDC-family rolling-hash binary CDC. Only blob objects are ever
// candidates for chunking; commits, trees, and tags are always inline.
package chunker

import (
	"bytes"

	"gitdb/internal/codec"
)

// InlineThreshold is the minimum blob length considered for chunking.
// Smaller blobs always go inline.
const InlineThreshold = 4096

// binarySniffWindow is the number of leading bytes inspected to classify
// a blob as text or binary.
const binarySniffWindow = 8000

// Chunk is one ordered piece of a chunked blob's raw bytes.
type Chunk struct {
	Raw  []byte
	ID   codec.ChunkID
	Size int
}

// Decision is the outcome of evaluating a blob against the chunking policy.
type Decision struct {
	Chunked bool
	// Chunks is populated only when Chunked is true.
	Chunks []Chunk
}

// Decide implements the chunking decision tree for an object of type t
// holding raw bytes data. Only blobs are ever chunked; every other object
// type (and any blob under InlineThreshold) goes inline.
func Decide(t codec.ObjectType, data []byte) Decision {
	if t != codec.ObjectBlob {
		return Decision{Chunked: false}
	}
	if len(data) < InlineThreshold {
		return Decision{Chunked: false}
	}

	var raws [][]byte
	if isBinary(data) {
		raws = binaryChunks(data)
	} else {
		raws = textChunks(data)
	}

	if len(raws) <= 1 {
		return Decision{Chunked: false}
	}

	chunks := make([]Chunk, len(raws))
	for i, r := range raws {
		chunks[i] = Chunk{Raw: r, ID: codec.HashChunk(r), Size: len(r)}
	}
	return Decision{Chunked: true, Chunks: chunks}
}

// isBinary classifies data as binary when a null byte appears in its first
// binarySniffWindow bytes.
func isBinary(data []byte) bool {
	window := data
	if len(window) > binarySniffWindow {
		window = window[:binarySniffWindow]
	}
	return bytes.IndexByte(window, 0) >= 0
}
