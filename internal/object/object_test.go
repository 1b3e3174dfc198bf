package object

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"

	"gitdb/internal/codec"
	"gitdb/internal/gitdberr"
	"gitdb/internal/schema"
)

func newTestStore(t *testing.T, method codec.Method) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "repo.db")
	db, _, err := schema.Open(path, true)
	if err != nil {
		t.Fatalf("schema.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	compressor, err := codec.NewCompressor(nil)
	if err != nil {
		t.Fatalf("NewCompressor: %v", err)
	}
	t.Cleanup(compressor.Close)

	return New(db, compressor, method, nil)
}

func TestAddGetRoundtripInline(t *testing.T) {
	ctx := context.Background()
	for _, method := range []codec.Method{codec.MethodNone, codec.MethodDeflate, codec.MethodLZFamily} {
		t.Run(method.String(), func(t *testing.T) {
			s := newTestStore(t, method)
			framed := []byte("blob 13\x00hello, world!")

			id, err := s.AddObject(ctx, framed, codec.ObjectBlob)
			if err != nil {
				t.Fatalf("AddObject: %v", err)
			}

			typ, raw, err := s.GetRaw(ctx, id)
			if err != nil {
				t.Fatalf("GetRaw: %v", err)
			}
			if typ != codec.ObjectBlob {
				t.Errorf("type = %v, want blob", typ)
			}
			if !bytes.Equal(raw, framed) {
				t.Errorf("raw = %q, want %q", raw, framed)
			}
		})
	}
}

func TestAddObjectIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, codec.MethodNone)
	framed := []byte("blob 5\x00hello")

	id1, err := s.AddObject(ctx, framed, codec.ObjectBlob)
	if err != nil {
		t.Fatalf("AddObject (1): %v", err)
	}
	id2, err := s.AddObject(ctx, framed, codec.ObjectBlob)
	if err != nil {
		t.Fatalf("AddObject (2): %v", err)
	}
	if id1 != id2 {
		t.Fatalf("ids differ: %x vs %x", id1, id2)
	}

	var count int
	if err := s.db.QueryRow(`SELECT count(*) FROM objects WHERE id = ?`, id1[:]).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("object row count = %d, want 1", count)
	}
}

func TestLargeBlobChunksAndRoundtrips(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, codec.MethodLZFamily)

	data := make([]byte, 200000)
	rng := rand.New(rand.NewSource(42))
	rng.Read(data)
	framed := append([]byte(fmt.Sprintf("blob %d\x00", len(data))), data...)

	id, err := s.AddObject(ctx, framed, codec.ObjectBlob)
	if err != nil {
		t.Fatalf("AddObject: %v", err)
	}

	var chunkRefs []byte
	if err := s.db.QueryRow(`SELECT chunk_refs FROM objects WHERE id = ?`, id[:]).Scan(&chunkRefs); err != nil {
		t.Fatalf("query chunk_refs: %v", err)
	}
	if chunkRefs == nil {
		t.Fatal("expected object to be chunked, chunk_refs is NULL")
	}

	_, raw, err := s.GetRaw(ctx, id)
	if err != nil {
		t.Fatalf("GetRaw: %v", err)
	}
	if !bytes.Equal(raw, framed) {
		t.Fatalf("reassembled %d bytes, want %d bytes; mismatch", len(raw), len(framed))
	}
}

func TestChunkDedupAcrossObjects(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, codec.MethodNone)

	shared := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog\n"), 3000)
	framedA := append([]byte("blob a\x00"), shared...)
	framedB := append(append([]byte("blob b\x00"), shared...), []byte("trailing unique tail bytes appended here")...)

	idA, err := s.AddObject(ctx, framedA, codec.ObjectBlob)
	if err != nil {
		t.Fatalf("AddObject A: %v", err)
	}
	idB, err := s.AddObject(ctx, framedB, codec.ObjectBlob)
	if err != nil {
		t.Fatalf("AddObject B: %v", err)
	}

	var countA, countB int
	if err := s.db.QueryRow(`SELECT count(*) FROM objects WHERE id IN (?, ?)`, idA[:], idB[:]).Scan(&countA); err != nil {
		t.Fatalf("count objects: %v", err)
	}
	if countA != 2 {
		t.Fatalf("expected 2 distinct objects, got %d", countA)
	}

	if err := s.db.QueryRow(`SELECT count(*) FROM chunks`).Scan(&countB); err != nil {
		t.Fatalf("count chunks: %v", err)
	}
	var refsA, refsB []byte
	if err := s.db.QueryRow(`SELECT chunk_refs FROM objects WHERE id = ?`, idA[:]).Scan(&refsA); err != nil {
		t.Fatalf("query chunk_refs A: %v", err)
	}
	if err := s.db.QueryRow(`SELECT chunk_refs FROM objects WHERE id = ?`, idB[:]).Scan(&refsB); err != nil {
		t.Fatalf("query chunk_refs B: %v", err)
	}
	rowidsA, errA := codec.UnpackRefs(refsA)
	rowidsB, errB := codec.UnpackRefs(refsB)
	if errA != nil || errB != nil {
		t.Fatalf("unpack chunk_refs: %v, %v", errA, errB)
	}
	if countB >= len(rowidsA)+len(rowidsB) {
		t.Errorf("chunk rows = %d, want fewer than %d references (shared content not deduplicated)", countB, len(rowidsA)+len(rowidsB))
	}

	_, rawA, err := s.GetRaw(ctx, idA)
	if err != nil {
		t.Fatalf("GetRaw A: %v", err)
	}
	if !bytes.Equal(rawA, framedA) {
		t.Fatal("object A did not roundtrip")
	}
	_, rawB, err := s.GetRaw(ctx, idB)
	if err != nil {
		t.Fatalf("GetRaw B: %v", err)
	}
	if !bytes.Equal(rawB, framedB) {
		t.Fatal("object B did not roundtrip")
	}
}

func TestGetRawNotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, codec.MethodNone)

	var missing codec.ObjectID
	_, _, err := s.GetRaw(ctx, missing)
	if !errors.Is(err, gitdberr.ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestGetRawRangeInline(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, codec.MethodDeflate)
	framed := []byte("blob 26\x00abcdefghijklmnopqrstuvwxyz")

	id, err := s.AddObject(ctx, framed, codec.ObjectBlob)
	if err != nil {
		t.Fatalf("AddObject: %v", err)
	}

	got, err := s.GetRawRange(ctx, id, 5, 10)
	if err != nil {
		t.Fatalf("GetRawRange: %v", err)
	}
	want := framed[5:15]
	if !bytes.Equal(got, want) {
		t.Errorf("range = %q, want %q", got, want)
	}

	got, err = s.GetRawRange(ctx, id, int64(len(framed)), 10)
	if err != nil {
		t.Fatalf("GetRawRange past end: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty range past end, got %q", got)
	}

	got, err = s.GetRawRange(ctx, id, int64(len(framed)-3), 100)
	if err != nil {
		t.Fatalf("GetRawRange overrun: %v", err)
	}
	if !bytes.Equal(got, framed[len(framed)-3:]) {
		t.Errorf("overrunning range = %q, want %q", got, framed[len(framed)-3:])
	}
}

func TestGetRawRangeRejectsNegative(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, codec.MethodNone)
	id, err := s.AddObject(ctx, []byte("blob 1\x00a"), codec.ObjectBlob)
	if err != nil {
		t.Fatalf("AddObject: %v", err)
	}

	if _, err := s.GetRawRange(ctx, id, -1, 5); !errors.Is(err, gitdberr.ErrInvalidRange) {
		t.Fatalf("negative offset: expected ErrInvalidRange, got %v", err)
	}
	if _, err := s.GetRawRange(ctx, id, 0, -5); !errors.Is(err, gitdberr.ErrInvalidRange) {
		t.Fatalf("negative length: expected ErrInvalidRange, got %v", err)
	}
}

func TestGetRawRangeChunked(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, codec.MethodLZFamily)

	data := make([]byte, 300000)
	rng := rand.New(rand.NewSource(7))
	rng.Read(data)
	framed := append([]byte(fmt.Sprintf("blob %d\x00", len(data))), data...)

	id, err := s.AddObject(ctx, framed, codec.ObjectBlob)
	if err != nil {
		t.Fatalf("AddObject: %v", err)
	}

	offsets := []int64{0, 1, 4095, 4096, 100000, int64(len(framed)) - 1}
	for _, off := range offsets {
		length := int64(50)
		got, err := s.GetRawRange(ctx, id, off, length)
		if err != nil {
			t.Fatalf("GetRawRange at %d: %v", off, err)
		}
		end := off + length
		if end > int64(len(framed)) {
			end = int64(len(framed))
		}
		want := framed[off:end]
		if !bytes.Equal(got, want) {
			t.Errorf("range at offset %d: got %d bytes, want %d bytes (mismatch)", off, len(got), len(want))
		}
	}
}

func TestContainsAndGetSize(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, codec.MethodNone)
	framed := []byte("blob 3\x00xyz")

	var missing codec.ObjectID
	ok, err := s.Contains(ctx, missing)
	if err != nil {
		t.Fatalf("Contains: %v", err)
	}
	if ok {
		t.Fatal("expected Contains=false for absent object")
	}

	id, err := s.AddObject(ctx, framed, codec.ObjectBlob)
	if err != nil {
		t.Fatalf("AddObject: %v", err)
	}
	ok, err = s.Contains(ctx, id)
	if err != nil {
		t.Fatalf("Contains: %v", err)
	}
	if !ok {
		t.Fatal("expected Contains=true")
	}

	size, err := s.GetSize(ctx, id)
	if err != nil {
		t.Fatalf("GetSize: %v", err)
	}
	if size != int64(len(framed)) {
		t.Errorf("size = %d, want %d", size, len(framed))
	}
}

func TestAddObjectsBatchAtomicAndProgress(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, codec.MethodNone)

	items := [][]byte{
		[]byte("blob 1\x00a"),
		[]byte("blob 1\x00b"),
		[]byte("blob 1\x00c"),
	}
	seq := func(yield func([]byte, codec.ObjectType) bool) {
		for _, it := range items {
			if !yield(it, codec.ObjectBlob) {
				return
			}
		}
	}

	var calls []int
	ids, err := s.AddObjects(ctx, seq, func(done int) { calls = append(calls, done) })
	if err != nil {
		t.Fatalf("AddObjects: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("got %d ids, want 3", len(ids))
	}
	if len(calls) != 3 || calls[0] != 1 || calls[2] != 3 {
		t.Errorf("progress calls = %v, want [1 2 3]", calls)
	}

	for i, id := range ids {
		_, raw, err := s.GetRaw(ctx, id)
		if err != nil {
			t.Fatalf("GetRaw %d: %v", i, err)
		}
		if !bytes.Equal(raw, items[i]) {
			t.Errorf("object %d = %q, want %q", i, raw, items[i])
		}
	}
}

func TestIterIDs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, codec.MethodNone)

	want := map[codec.ObjectID]bool{}
	for _, data := range [][]byte{[]byte("blob 1\x00a"), []byte("blob 1\x00b")} {
		id, err := s.AddObject(ctx, data, codec.ObjectBlob)
		if err != nil {
			t.Fatalf("AddObject: %v", err)
		}
		want[id] = true
	}

	got := map[codec.ObjectID]bool{}
	for id, err := range s.IterIDs(ctx) {
		if err != nil {
			t.Fatalf("IterIDs: %v", err)
		}
		got[id] = true
	}

	if len(got) != len(want) {
		t.Fatalf("got %d ids, want %d", len(got), len(want))
	}
	for id := range want {
		if !got[id] {
			t.Errorf("missing id %x", id)
		}
	}
}

func TestGCRemovesOrphanChunksOnly(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, codec.MethodNone)

	data := make([]byte, 200000)
	rng := rand.New(rand.NewSource(99))
	rng.Read(data)
	framed := append([]byte(fmt.Sprintf("blob %d\x00", len(data))), data...)

	id, err := s.AddObject(ctx, framed, codec.ObjectBlob)
	if err != nil {
		t.Fatalf("AddObject: %v", err)
	}

	var before int
	if err := s.db.QueryRow(`SELECT count(*) FROM chunks`).Scan(&before); err != nil {
		t.Fatalf("count before: %v", err)
	}
	if before == 0 {
		t.Fatal("expected chunk rows after adding a large blob")
	}

	deleted, err := s.GC(ctx)
	if err != nil {
		t.Fatalf("GC (no orphans): %v", err)
	}
	if deleted != 0 {
		t.Errorf("GC deleted %d chunks with a live referencer, want 0", deleted)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM objects WHERE id = ?`, id[:]); err != nil {
		t.Fatalf("delete object row: %v", err)
	}

	deleted, err = s.GC(ctx)
	if err != nil {
		t.Fatalf("GC (orphans): %v", err)
	}
	if deleted != int64(before) {
		t.Errorf("GC deleted %d chunks, want %d", deleted, before)
	}

	var after int
	if err := s.db.QueryRow(`SELECT count(*) FROM chunks`).Scan(&after); err != nil {
		t.Fatalf("count after: %v", err)
	}
	if after != 0 {
		t.Errorf("chunks remaining after GC = %d, want 0", after)
	}
}
