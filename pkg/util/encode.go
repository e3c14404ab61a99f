package util

import (
	"fmt"

	"github.com/btcsuite/btcutil/base58"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// DecodePubkey parses a base58-encoded 32-byte account key.
func DecodePubkey(s string) ([32]byte, error) {
	var out [32]byte
	raw := base58.Decode(s)
	if len(raw) != 32 {
		return out, fmt.Errorf("invalid pubkey %q: decodes to %d bytes, want 32", s, len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

// EncodePubkey renders a 32-byte account key in base58.
func EncodePubkey(key [32]byte) string {
	return base58.Encode(key[:])
}

// DecodeHash32 parses a 0x-prefixed hex string into a 32-byte hash.
func DecodeHash32(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := hexutil.Decode(s)
	if err != nil {
		return out, fmt.Errorf("invalid hash %q: %w", s, err)
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("invalid hash %q: decodes to %d bytes, want 32", s, len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

// EncodeHash32 renders a 32-byte hash as 0x-prefixed hex.
func EncodeHash32(h [32]byte) string {
	return hexutil.Encode(h[:])
}
