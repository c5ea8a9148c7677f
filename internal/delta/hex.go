package delta

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
)

// ErrReconstructionMismatch is returned by ApplyDelta when the
// reconstructed bytes don't hash to the delta's declared content hash —
// the DeltaReconstructionMismatch error kind from spec §4.3/§7.
var ErrReconstructionMismatch = errors.New("delta reconstruction mismatch")

func hexEncode(b []byte) string {
	return hex.EncodeToString(b)
}

func hexDecode(s string) ([]byte, error) {
	return hex.DecodeString(s)
}

// DecodeChunkData accepts either hex or base64 encoded bytes, per spec
// §6.1: "the coordinator MUST accept both". Hex is tried first since it's
// the canonical outgoing encoding.
func DecodeChunkData(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	if b, err := hex.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.StdEncoding.DecodeString(s)
}
