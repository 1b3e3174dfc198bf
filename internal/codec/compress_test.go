package codec

import (
	"bytes"
	"strings"
	"testing"
)

func newTestCompressor(t *testing.T, dicts map[DictSlot][]byte) *Compressor {
	t.Helper()
	c, err := NewCompressor(dicts)
	if err != nil {
		t.Fatalf("NewCompressor: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestCompressRoundTripAllMethods(t *testing.T) {
	c := newTestCompressor(t, nil)
	raw := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog ", 200))

	for _, m := range []Method{MethodNone, MethodDeflate, MethodLZFamily} {
		compressed, err := c.Compress(m, ObjectBlob, raw)
		if err != nil {
			t.Fatalf("Compress(%v): %v", m, err)
		}
		got, err := c.Decompress(m, compressed, len(raw))
		if err != nil {
			t.Fatalf("Decompress(%v): %v", m, err)
		}
		if !bytes.Equal(got, raw) {
			t.Errorf("Method %v: roundtrip mismatch", m)
		}
	}
}

func TestCompressChunkRoundTrip(t *testing.T) {
	c := newTestCompressor(t, nil)
	raw := bytes.Repeat([]byte("chunk payload data "), 500)

	for _, m := range []Method{MethodNone, MethodDeflate, MethodLZFamily} {
		compressed, err := c.CompressChunk(m, raw)
		if err != nil {
			t.Fatalf("CompressChunk(%v): %v", m, err)
		}
		got, err := c.Decompress(m, compressed, len(raw))
		if err != nil {
			t.Fatalf("Decompress(%v): %v", m, err)
		}
		if !bytes.Equal(got, raw) {
			t.Errorf("Method %v: chunk roundtrip mismatch", m)
		}
	}
}

// TestCompressWithDictionary checks compression transparency with a
// trained per-type dictionary: decompression reproduces the original
// bytes regardless of which type used the dictionary.
func TestCompressWithDictionary(t *testing.T) {
	dict := bytes.Repeat([]byte("tree entry mode 100644 blob "), 400)
	c := newTestCompressor(t, map[DictSlot][]byte{DictTree: dict})

	raw := []byte("100644 blob deadbeefcafebabe\tfile.txt\n100755 blob 1234\tscript.sh\n")
	compressed, err := c.Compress(MethodLZFamily, ObjectTree, raw)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	got, err := c.Decompress(MethodLZFamily, compressed, len(raw))
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(got, raw) {
		t.Errorf("dictionary roundtrip mismatch: want %q got %q", raw, got)
	}

	// Blobs never use a type dictionary even when one is loaded for trees.
	blobCompressed, err := c.Compress(MethodLZFamily, ObjectBlob, raw)
	if err != nil {
		t.Fatalf("Compress blob: %v", err)
	}
	blobGot, err := c.Decompress(MethodLZFamily, blobCompressed, len(raw))
	if err != nil {
		t.Fatalf("Decompress blob: %v", err)
	}
	if !bytes.Equal(blobGot, raw) {
		t.Errorf("blob roundtrip mismatch: want %q got %q", raw, blobGot)
	}
}

// TestDecompressNoDictFrame checks that a frame with dict_id=0 decodes
// fine even when dictionaries are registered.
func TestDecompressNoDictFrame(t *testing.T) {
	dict := bytes.Repeat([]byte("commit author committer tree parent "), 400)
	c := newTestCompressor(t, map[DictSlot][]byte{DictCommit: dict})

	raw := []byte("a message with no dictionary applied")
	compressed, err := c.Compress(MethodLZFamily, ObjectTag, raw) // tags never use a dictionary
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	got, err := c.Decompress(MethodLZFamily, compressed, len(raw))
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(got, raw) {
		t.Errorf("roundtrip mismatch: want %q got %q", raw, got)
	}
}

func TestParseMethodRoundTrip(t *testing.T) {
	cases := map[string]Method{"none": MethodNone, "zlib": MethodDeflate, "zstd": MethodLZFamily}
	for name, method := range cases {
		got, err := ParseMethod(name)
		if err != nil {
			t.Fatalf("ParseMethod(%q): %v", name, err)
		}
		if got != method {
			t.Errorf("ParseMethod(%q) = %v, want %v", name, got, method)
		}
		if method.MetadataName() != name {
			t.Errorf("MetadataName() = %q, want %q", method.MetadataName(), name)
		}
	}
}

func TestParseMethodUnknown(t *testing.T) {
	if _, err := ParseMethod("lzma"); err == nil {
		t.Fatal("expected error for unknown method")
	}
}
