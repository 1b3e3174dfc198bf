package codec

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"

	"gitdb/internal/gitdberr"
)

// Method selects the compression algorithm stored alongside an object or
// chunk row.
type Method byte

const (
	MethodNone     Method = 0
	MethodDeflate  Method = 1
	MethodLZFamily Method = 2
)

func (m Method) String() string {
	switch m {
	case MethodNone:
		return "none"
	case MethodDeflate:
		return "deflate"
	case MethodLZFamily:
		return "lz-family"
	default:
		return "unknown"
	}
}

// ParseMethod maps the metadata-table spelling ("none"/"zlib"/"zstd") to a
// Method.
func ParseMethod(s string) (Method, error) {
	switch s {
	case "none":
		return MethodNone, nil
	case "zlib":
		return MethodDeflate, nil
	case "zstd":
		return MethodLZFamily, nil
	default:
		return 0, fmt.Errorf("%w: unknown compression method %q", gitdberr.ErrCompression, s)
	}
}

// MetadataName is the inverse of ParseMethod.
func (m Method) MetadataName() string {
	switch m {
	case MethodDeflate:
		return "zlib"
	case MethodLZFamily:
		return "zstd"
	default:
		return "none"
	}
}

// DictSlot names the up-to-three type-keyed trained dictionaries the
// lz-family mode may use, plus a legacy single-dictionary slot honored for
// backward compatibility.
type DictSlot int

const (
	DictCommit DictSlot = iota
	DictTree
	DictChunk
	DictLegacy
)

// dictSlotForType maps an object type to the dictionary slot used when
// compressing its inline data. Blobs and tags are never dictionary-coded.
func dictSlotForType(t ObjectType) (DictSlot, bool) {
	switch t {
	case ObjectCommit:
		return DictCommit, true
	case ObjectTree:
		return DictTree, true
	default:
		return 0, false
	}
}

// Compressor dispatches compression/decompression across the three modes.
// A Compressor owns its zstd encoders/decoders for the lifetime of the
// repository handle; compression dictionaries, once loaded at open time,
// are read-only for the rest of the session.
type Compressor struct {
	mu sync.Mutex

	// plainEnc/plainDec handle lz-family data with no dictionary (inline
	// blobs, tags, and chunk data — chunks are never dictionary-coded since
	// their content is arbitrary blob bytes, not git object framing).
	plainEnc *zstd.Encoder
	plainDec *zstd.Decoder

	// dictEnc holds one encoder per populated dictionary slot, keyed by
	// DictSlot. dictDec is a single decoder registered with every loaded
	// dictionary (including the legacy slot) so it can decode any frame
	// regardless of which dictionary, if any, produced it.
	dictEnc map[DictSlot]*zstd.Encoder
	dictDec *zstd.Decoder
}

// NewCompressor builds a Compressor. dicts maps dictionary slots to their
// trained dictionary bytes (as read from the corresponding NamedFile); a
// nil or empty map means lz-family compression runs without dictionaries.
func NewCompressor(dicts map[DictSlot][]byte) (*Compressor, error) {
	plainEnc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: new plain encoder: %v", gitdberr.ErrCompression, err)
	}
	plainDec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: new plain decoder: %v", gitdberr.ErrCompression, err)
	}

	c := &Compressor{
		plainEnc: plainEnc,
		plainDec: plainDec,
		dictEnc:  make(map[DictSlot]*zstd.Encoder),
	}

	var decoderDicts [][]byte
	for slot, data := range dicts {
		if len(data) == 0 {
			continue
		}
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderDict(data))
		if err != nil {
			return nil, fmt.Errorf("%w: new dict encoder for slot %d: %v", gitdberr.ErrCompression, slot, err)
		}
		c.dictEnc[slot] = enc
		decoderDicts = append(decoderDicts, data)
	}

	// The decoder registers every available dictionary up front; zstd
	// selects the right one per frame by the dictionary ID embedded in the
	// frame header. A frame with dict_id=0 (no dictionary) always decodes
	// regardless of what's registered here.
	dictDecOpts := []zstd.DOption{}
	if len(decoderDicts) > 0 {
		dictDecOpts = append(dictDecOpts, zstd.WithDecoderDicts(decoderDicts...))
	}
	dictDec, err := zstd.NewReader(nil, dictDecOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: new dict decoder: %v", gitdberr.ErrCompression, err)
	}
	c.dictDec = dictDec

	return c, nil
}

// Close releases the encoders/decoders backing c. The decoders returned by
// zstd.NewReader don't require Close for correctness but release
// background goroutines promptly when closed.
func (c *Compressor) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.plainEnc.Close()
	c.plainDec.Close()
	for _, enc := range c.dictEnc {
		enc.Close()
	}
	c.dictDec.Close()
}

// Compress encodes raw bytes for object type t using method m. Inline
// blobs and tags, and all chunk data, are compressed without a dictionary
// even when m is lz-family; commits and trees use their trained dictionary
// when one is loaded.
func (c *Compressor) Compress(m Method, t ObjectType, raw []byte) ([]byte, error) {
	switch m {
	case MethodNone:
		return raw, nil
	case MethodDeflate:
		return compressDeflate(raw)
	case MethodLZFamily:
		return c.compressZstd(t, raw)
	default:
		return nil, fmt.Errorf("%w: unknown method %d", gitdberr.ErrCompression, m)
	}
}

// CompressChunk encodes raw chunk bytes. Chunks never use a type dictionary.
func (c *Compressor) CompressChunk(m Method, raw []byte) ([]byte, error) {
	switch m {
	case MethodNone:
		return raw, nil
	case MethodDeflate:
		return compressDeflate(raw)
	case MethodLZFamily:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.plainEnc.EncodeAll(raw, nil), nil
	default:
		return nil, fmt.Errorf("%w: unknown method %d", gitdberr.ErrCompression, m)
	}
}

func (c *Compressor) compressZstd(t ObjectType, raw []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if slot, ok := dictSlotForType(t); ok {
		if enc, ok := c.dictEnc[slot]; ok {
			return enc.EncodeAll(raw, nil), nil
		}
	}
	return c.plainEnc.EncodeAll(raw, nil), nil
}

// Decompress reverses Compress/CompressChunk. rawSize bounds the output
// buffer; it is advisory (a hint sized from the stored raw_size/total_size
// column), not load-bearing for correctness.
func (c *Compressor) Decompress(m Method, compressed []byte, rawSize int) ([]byte, error) {
	switch m {
	case MethodNone:
		return compressed, nil
	case MethodDeflate:
		return decompressDeflate(compressed, rawSize)
	case MethodLZFamily:
		c.mu.Lock()
		defer c.mu.Unlock()
		out, err := c.dictDec.DecodeAll(compressed, make([]byte, 0, rawSize))
		if err != nil {
			return nil, fmt.Errorf("%w: zstd decode: %v", gitdberr.ErrCompression, err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown method %d", gitdberr.ErrCompression, m)
	}
}

func compressDeflate(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, fmt.Errorf("%w: new deflate writer: %v", gitdberr.ErrCompression, err)
	}
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("%w: deflate write: %v", gitdberr.ErrCompression, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%w: deflate close: %v", gitdberr.ErrCompression, err)
	}
	return buf.Bytes(), nil
}

func decompressDeflate(compressed []byte, rawSize int) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(compressed))
	defer r.Close()
	out := make([]byte, 0, rawSize)
	buf := bytes.NewBuffer(out)
	if _, err := io.Copy(buf, r); err != nil {
		return nil, fmt.Errorf("%w: deflate read: %v", gitdberr.ErrCompression, err)
	}
	return buf.Bytes(), nil
}
