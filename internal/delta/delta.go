package delta

import "fmt"

// AddChunk is a chunk of new_bytes that the receiver does not already
// have and must be transferred in full.
type AddChunk struct {
	NewIndex int    `json:"new_index"`
	Offset   int    `json:"offset"`
	Size     int    `json:"size"`
	Data     []byte `json:"-"`
	DataHex  string `json:"data"` // hex-encoded Data, for the wire
}

// UnchangedChunk is a chunk of new_bytes whose bytes are already present
// in old_bytes at SourceOffset — no transfer needed, just a copy.
type UnchangedChunk struct {
	NewIndex     int `json:"new_index"`
	NewOffset    int `json:"new_offset"`
	Size         int `json:"size"`
	SourceOffset int `json:"source_offset"`
}

// RemovedChunk is a chunk present in old_bytes that no longer appears
// anywhere in new_bytes.
type RemovedChunk struct {
	OldIndex int `json:"old_index"`
	Offset   int `json:"offset"`
	Size     int `json:"size"`
}

// Delta is the minimal set of operations that transforms old_bytes into
// new_bytes, plus the bandwidth-savings accounting clients care about.
type Delta struct {
	FileID           string           `json:"file_id,omitempty"`
	OriginalSize     int              `json:"original_size"` // len(new_bytes)
	NewContentHash   string           `json:"new_content_hash"`
	Unchanged        []UnchangedChunk `json:"unchanged"`
	ChunksToAdd      []AddChunk       `json:"chunks_to_add"`
	ChunksToRemove   []RemovedChunk   `json:"chunks_to_remove"`
	BandwidthSaved   int              `json:"bandwidth_saved"`
	CompressionRatio float64          `json:"compression_ratio"`
}

// UnchangedIndices returns the new-content chunk indices that needed no
// transfer — the field name spec callers expect.
func (d Delta) UnchangedIndices() []int {
	idx := make([]int, len(d.Unchanged))
	for i, u := range d.Unchanged {
		idx[i] = u.NewIndex
	}
	return idx
}

// ComputeDelta builds the signatures of old and new content and produces
// the delta that transforms the former into the latter.
//
// Edge cases (contractual, spec §4.3):
//   - old empty  → one add covering all of new.
//   - new empty  → one remove covering all of old, no adds.
//   - identical  → no adds; bandwidth_saved = len(new); ratio = 1.0.
func ComputeDelta(oldBytes, newBytes []byte, chunkSize int) Delta {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	d := Delta{
		OriginalSize:   len(newBytes),
		NewContentHash: StrongHash(newBytes),
	}

	if len(oldBytes) == 0 {
		if len(newBytes) > 0 {
			d.ChunksToAdd = []AddChunk{{
				NewIndex: 0,
				Offset:   0,
				Size:     len(newBytes),
				Data:     cloneBytes(newBytes),
				DataHex:  hexEncode(newBytes),
			}}
		}
		return d
	}

	if len(newBytes) == 0 {
		d.ChunksToRemove = []RemovedChunk{{OldIndex: 0, Offset: 0, Size: len(oldBytes)}}
		return d
	}

	oldSigs := Signature(oldBytes, chunkSize)
	oldByHash := make(map[string]ChunkSignature, len(oldSigs))
	for _, s := range oldSigs {
		// First writer wins; interchangeable chunks share a strong hash.
		if _, ok := oldByHash[s.StrongHash]; !ok {
			oldByHash[s.StrongHash] = s
		}
	}

	newSigs := Signature(newBytes, chunkSize)
	newByHash := make(map[string]struct{}, len(newSigs))
	for _, s := range newSigs {
		newByHash[s.StrongHash] = struct{}{}
	}

	for _, s := range newSigs {
		if old, ok := oldByHash[s.StrongHash]; ok {
			d.Unchanged = append(d.Unchanged, UnchangedChunk{
				NewIndex:     s.Index,
				NewOffset:    s.Offset,
				Size:         s.Size,
				SourceOffset: old.Offset,
			})
			d.BandwidthSaved += s.Size
		} else {
			chunkData := newBytes[s.Offset : s.Offset+s.Size]
			d.ChunksToAdd = append(d.ChunksToAdd, AddChunk{
				NewIndex: s.Index,
				Offset:   s.Offset,
				Size:     s.Size,
				Data:     cloneBytes(chunkData),
				DataHex:  hexEncode(chunkData),
			})
		}
	}

	for _, s := range oldSigs {
		if _, ok := newByHash[s.StrongHash]; !ok {
			d.ChunksToRemove = append(d.ChunksToRemove, RemovedChunk{
				OldIndex: s.Index, Offset: s.Offset, Size: s.Size,
			})
		}
	}

	if d.OriginalSize > 0 {
		d.CompressionRatio = float64(d.BandwidthSaved) / float64(d.OriginalSize)
	}
	return d
}

// ApplyDelta reconstructs new_bytes from old_bytes plus the delta's
// chunks_to_add, copying unchanged ranges out of old_bytes at their
// recorded source offsets. Rebuilding only from chunks_to_add would
// silently corrupt any file whose delta contains unchanged chunks, so
// this function always consults both sources.
//
// The reconstructed bytes are verified against delta.NewContentHash;
// a mismatch returns ErrReconstructionMismatch rather than returning
// silently-wrong bytes.
func ApplyDelta(oldBytes []byte, d Delta) ([]byte, error) {
	total := d.OriginalSize
	result := make([]byte, total)

	for _, u := range d.Unchanged {
		if u.SourceOffset+u.Size > len(oldBytes) {
			return nil, fmt.Errorf("%w: unchanged chunk at new offset %d reads past old content", ErrReconstructionMismatch, u.NewOffset)
		}
		copy(result[u.NewOffset:u.NewOffset+u.Size], oldBytes[u.SourceOffset:u.SourceOffset+u.Size])
	}
	for _, a := range d.ChunksToAdd {
		data := a.Data
		if data == nil && a.DataHex != "" {
			decoded, err := hexDecode(a.DataHex)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrReconstructionMismatch, err)
			}
			data = decoded
		}
		if a.Offset+len(data) > total {
			return nil, fmt.Errorf("%w: add chunk at offset %d overflows reconstructed size %d", ErrReconstructionMismatch, a.Offset, total)
		}
		copy(result[a.Offset:a.Offset+len(data)], data)
	}

	if got := StrongHash(result); got != d.NewContentHash {
		return nil, fmt.Errorf("%w: reconstructed hash %s != expected %s", ErrReconstructionMismatch, got, d.NewContentHash)
	}
	return result, nil
}

// Optimize merges adjacent add operations when the second begins exactly
// where the first ends, reducing the number of discrete write calls a
// receiver has to make.
func Optimize(d Delta) Delta {
	if len(d.ChunksToAdd) < 2 {
		return d
	}

	merged := make([]AddChunk, 0, len(d.ChunksToAdd))
	current := d.ChunksToAdd[0]

	for _, next := range d.ChunksToAdd[1:] {
		if current.Offset+current.Size == next.Offset {
			data := append(append([]byte(nil), current.Data...), next.Data...)
			current = AddChunk{
				NewIndex: current.NewIndex,
				Offset:   current.Offset,
				Size:     current.Size + next.Size,
				Data:     data,
				DataHex:  hexEncode(data),
			}
			continue
		}
		merged = append(merged, current)
		current = next
	}
	merged = append(merged, current)

	out := d
	out.ChunksToAdd = merged
	return out
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
