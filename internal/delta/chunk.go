// Package delta implements the coordinator's content-addressed delta
// engine: splitting file payloads into fixed-size chunks, fingerprinting
// each one with a cheap rolling hash and a strong SHA-256 hash, and
// computing the minimal set of chunks that must travel over the wire
// when a file changes.
//
// Big idea — why two hashes?
//
// The weak (rolling) hash is fast to compute and fast to compare, but it
// collides often enough that it can't be trusted alone. The strong hash
// (SHA-256) is expensive but collision-proof in practice. Every signature
// carries both; ComputeDelta decides whether two chunks are "the same" by
// comparing strong hashes only, and does not use the weak hash as a
// pre-filter.
package delta

import (
	"crypto/sha256"
	"encoding/hex"
)

// DefaultChunkSize is the target size of a chunk, in bytes, when the
// caller doesn't specify one.
const DefaultChunkSize = 4096

// windowSize returns the rolling-hash window for a given chunk size:
// at most 64 bytes, and never more than a quarter of the chunk.
func windowSize(chunkSize int) int {
	w := chunkSize / 4
	if w > 64 {
		w = 64
	}
	if w < 1 {
		w = 1
	}
	return w
}

// ChunkSignature is the fingerprint of one contiguous byte range of a
// file: enough information to decide, without moving the bytes, whether
// the receiver already has this exact chunk.
type ChunkSignature struct {
	Index      int    `json:"index"`
	Offset     int    `json:"offset"`
	Size       int    `json:"size"`
	WeakHash   uint32 `json:"weak_hash"`
	StrongHash string `json:"strong_hash"` // hex-encoded SHA-256
}

// StrongHash returns the hex-encoded SHA-256 of data — the same
// "verified read" primitive used to check an upload's declared hash and
// to verify a delta's reconstruction result (spec §9's "extract a small
// verified-read primitive, reuse on upload and on delta apply").
func StrongHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Signature splits content into consecutive chunkSize-sized blocks (the
// final block may be shorter, but is never emitted empty) and returns one
// signature per block. A zero or negative chunkSize falls back to
// DefaultChunkSize.
func Signature(content []byte, chunkSize int) []ChunkSignature {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if len(content) == 0 {
		return nil
	}

	window := windowSize(chunkSize)
	var sigs []ChunkSignature
	for offset, idx := 0, 0; offset < len(content); idx++ {
		end := offset + chunkSize
		if end > len(content) {
			end = len(content)
		}
		chunk := content[offset:end]

		sigs = append(sigs, ChunkSignature{
			Index:      idx,
			Offset:     offset,
			Size:       len(chunk),
			WeakHash:   rollingHash(chunk, window),
			StrongHash: StrongHash(chunk),
		})
		offset = end
	}
	return sigs
}
