package delta

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func hashOf(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

func TestSignatureNeverEmitsEmptyChunk(t *testing.T) {
	content := bytes.Repeat([]byte("a"), 10)
	sigs := Signature(content, 4)
	if len(sigs) != 3 {
		t.Fatalf("expected 3 chunks (4,4,2), got %d", len(sigs))
	}
	if sigs[2].Size != 2 {
		t.Fatalf("last chunk should be the short remainder, got size %d", sigs[2].Size)
	}
	for _, s := range sigs {
		if s.Size == 0 {
			t.Fatal("signature emitted an empty chunk")
		}
	}
}

func TestSignatureEmptyContent(t *testing.T) {
	if sigs := Signature(nil, 4096); sigs != nil {
		t.Fatalf("expected no signatures for empty content, got %d", len(sigs))
	}
}

// S1 — initial upload: old empty, single add.
func TestComputeDeltaOldEmpty(t *testing.T) {
	newBytes := []byte("hello world")
	d := ComputeDelta(nil, newBytes, DefaultChunkSize)

	if len(d.ChunksToAdd) != 1 {
		t.Fatalf("expected exactly one add chunk, got %d", len(d.ChunksToAdd))
	}
	if d.BandwidthSaved != 0 {
		t.Fatalf("expected zero bandwidth saved on initial upload, got %d", d.BandwidthSaved)
	}
	if d.NewContentHash != hashOf(newBytes) {
		t.Fatal("new content hash mismatch")
	}
}

func TestComputeDeltaNewEmpty(t *testing.T) {
	oldBytes := []byte("goodbye")
	d := ComputeDelta(oldBytes, nil, DefaultChunkSize)

	if len(d.ChunksToAdd) != 0 {
		t.Fatal("expected no adds when new content is empty")
	}
	if len(d.ChunksToRemove) != 1 {
		t.Fatalf("expected a single remove covering all of old content, got %d", len(d.ChunksToRemove))
	}
	if d.ChunksToRemove[0].Size != len(oldBytes) {
		t.Fatalf("remove size = %d, want %d", d.ChunksToRemove[0].Size, len(oldBytes))
	}
}

func TestComputeDeltaNewEmptyMultiChunkOld(t *testing.T) {
	oldBytes := bytes.Repeat([]byte("x"), 4*DefaultChunkSize+17)
	d := ComputeDelta(oldBytes, nil, DefaultChunkSize)

	if len(d.ChunksToAdd) != 0 {
		t.Fatal("expected no adds when new content is empty")
	}
	if len(d.ChunksToRemove) != 1 {
		t.Fatalf("expected a single remove covering all of old content regardless of chunk count, got %d", len(d.ChunksToRemove))
	}
	if d.ChunksToRemove[0].Offset != 0 || d.ChunksToRemove[0].Size != len(oldBytes) {
		t.Fatalf("remove = {offset:%d size:%d}, want {offset:0 size:%d}", d.ChunksToRemove[0].Offset, d.ChunksToRemove[0].Size, len(oldBytes))
	}
}

func TestComputeDeltaIdenticalBytes(t *testing.T) {
	content := bytes.Repeat([]byte("xyz"), 500)
	d := ComputeDelta(content, content, DefaultChunkSize)

	if len(d.ChunksToAdd) != 0 {
		t.Fatalf("identical content should add nothing, got %d adds", len(d.ChunksToAdd))
	}
	if d.BandwidthSaved != len(content) {
		t.Fatalf("bandwidth_saved = %d, want %d", d.BandwidthSaved, len(content))
	}
	if d.CompressionRatio != 1.0 {
		t.Fatalf("compression_ratio = %f, want 1.0", d.CompressionRatio)
	}
}

func TestComputeDeltaEmptyNewGivesZeroRatio(t *testing.T) {
	d := ComputeDelta([]byte("x"), nil, DefaultChunkSize)
	if d.CompressionRatio != 0 {
		t.Fatalf("expected ratio 0 for empty new content, got %f", d.CompressionRatio)
	}
}

// S2 — small edit: with large chunk size the whole file is one add; with
// a tiny chunk size only the changed chunk is added and the rest match.
func TestComputeDeltaSmallEditLargeChunks(t *testing.T) {
	oldBytes := []byte("hello world")
	newBytes := []byte("hello wOrld")

	d := ComputeDelta(oldBytes, newBytes, 4096)
	if len(d.ChunksToAdd) != 1 || d.ChunksToAdd[0].Size != 11 {
		t.Fatalf("expected one 11-byte add chunk, got %+v", d.ChunksToAdd)
	}
	if len(d.Unchanged) != 0 {
		t.Fatalf("expected no unchanged chunks with a single whole-file chunk, got %d", len(d.Unchanged))
	}
	if d.BandwidthSaved != 0 {
		t.Fatalf("expected zero bandwidth saved, got %d", d.BandwidthSaved)
	}
}

func TestComputeDeltaSmallEditTinyChunks(t *testing.T) {
	oldBytes := []byte("hello world") // offsets: "hell"(0) "o wo"(4) "rld"(8)
	newBytes := []byte("hello wOrld")

	d := ComputeDelta(oldBytes, newBytes, 4)

	if len(d.ChunksToAdd) != 1 {
		t.Fatalf("expected exactly one add chunk, got %d: %+v", len(d.ChunksToAdd), d.ChunksToAdd)
	}
	// The edited byte is index 7, which falls in the chunk at offset 4.
	if d.ChunksToAdd[0].Offset != 4 {
		t.Fatalf("expected the add chunk at offset 4, got %d", d.ChunksToAdd[0].Offset)
	}

	gotOffsets := map[int]bool{}
	for _, u := range d.Unchanged {
		gotOffsets[u.NewOffset] = true
	}
	if !gotOffsets[0] || !gotOffsets[8] {
		t.Fatalf("expected unchanged chunks at offsets 0 and 8, got %+v", d.Unchanged)
	}
}

// Property 5: apply_delta(old, compute_delta(old, new)) == new.
func TestApplyDeltaRoundTrips(t *testing.T) {
	cases := [][2][]byte{
		{nil, []byte("hello world")},
		{[]byte("hello world"), nil},
		{[]byte("hello world"), []byte("hello wOrld")},
		{bytes.Repeat([]byte("a"), 10000), append(bytes.Repeat([]byte("a"), 5000), bytes.Repeat([]byte("b"), 5000)...)},
	}

	for i, c := range cases {
		d := ComputeDelta(c[0], c[1], 256)
		got, err := ApplyDelta(c[0], d)
		if err != nil {
			t.Fatalf("case %d: ApplyDelta failed: %v", i, err)
		}
		if !bytes.Equal(got, c[1]) {
			t.Fatalf("case %d: round-trip mismatch: got %d bytes, want %d bytes", i, len(got), len(c[1]))
		}
	}
}

func TestApplyDeltaRejectsTamperedHash(t *testing.T) {
	oldBytes := []byte("hello world")
	newBytes := []byte("hello wOrld")
	d := ComputeDelta(oldBytes, newBytes, 4096)
	d.NewContentHash = "0000000000000000000000000000000000000000000000000000000000000000"

	if _, err := ApplyDelta(oldBytes, d); err == nil {
		t.Fatal("expected reconstruction mismatch error for tampered hash")
	}
}

// Property 6: bandwidth_saved <= len(new) and equals the sum of unchanged sizes.
func TestBandwidthSavedNeverExceedsNewSize(t *testing.T) {
	oldBytes := bytes.Repeat([]byte("0123456789"), 100)
	newBytes := append(bytes.Repeat([]byte("0123456789"), 50), bytes.Repeat([]byte("z"), 100)...)

	d := ComputeDelta(oldBytes, newBytes, 64)
	if d.BandwidthSaved > len(newBytes) {
		t.Fatalf("bandwidth_saved %d exceeds new size %d", d.BandwidthSaved, len(newBytes))
	}
	sum := 0
	for _, u := range d.Unchanged {
		sum += u.Size
	}
	if sum != d.BandwidthSaved {
		t.Fatalf("bandwidth_saved %d != sum of unchanged sizes %d", d.BandwidthSaved, sum)
	}
}

func TestOptimizeMergesAdjacentAdds(t *testing.T) {
	d := Delta{
		ChunksToAdd: []AddChunk{
			{Offset: 0, Size: 4, Data: []byte("abcd")},
			{Offset: 4, Size: 4, Data: []byte("efgh")},
			{Offset: 20, Size: 2, Data: []byte("xy")}, // not adjacent
		},
	}
	out := Optimize(d)
	if len(out.ChunksToAdd) != 2 {
		t.Fatalf("expected 2 merged add ops, got %d", len(out.ChunksToAdd))
	}
	if string(out.ChunksToAdd[0].Data) != "abcdefgh" {
		t.Fatalf("merged data = %q, want %q", out.ChunksToAdd[0].Data, "abcdefgh")
	}
	if out.ChunksToAdd[0].Size != 8 {
		t.Fatalf("merged size = %d, want 8", out.ChunksToAdd[0].Size)
	}
}

func TestChunkStoreReferenceCountedGC(t *testing.T) {
	store := NewChunkStore()
	hash := StrongHash([]byte("chunk-a"))

	store.Put(hash, []byte("chunk-a"))
	store.Put(hash, []byte("chunk-a")) // second reference

	if !store.Has(hash) {
		t.Fatal("expected chunk to be present after Put")
	}

	store.Release(hash)
	if store.GC() != 0 {
		t.Fatal("GC should not remove a chunk with a remaining reference")
	}

	store.Release(hash)
	if removed := store.GC(); removed != 1 {
		t.Fatalf("expected GC to remove the chunk once refs hit zero, removed=%d", removed)
	}
	if store.Has(hash) {
		t.Fatal("chunk should be gone after GC")
	}
}
