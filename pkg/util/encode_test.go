package util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPubkeyRoundTrip(t *testing.T) {
	var key [32]byte
	for i := range key {
		key[i] = byte(i * 3)
	}

	encoded := EncodePubkey(key)
	require.NotEmpty(t, encoded)

	decoded, err := DecodePubkey(encoded)
	require.NoError(t, err)
	require.Equal(t, key, decoded)
}

func TestDecodePubkeyInvalid(t *testing.T) {
	testCases := []struct {
		name  string
		input string
	}{
		{"Empty", ""},
		{"Not base58", "0OIl"},
		{"Too short", "2g"},
		{"Hex instead of base58", "0x1234"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodePubkey(tc.input)
			require.Error(t, err)
		})
	}
}

func TestHash32RoundTrip(t *testing.T) {
	var h [32]byte
	h[0] = 0xDE
	h[31] = 0xAD

	encoded := EncodeHash32(h)
	require.Equal(t, "0x", encoded[:2])
	require.Len(t, encoded, 2+64)

	decoded, err := DecodeHash32(encoded)
	require.NoError(t, err)
	require.Equal(t, h, decoded)
}

func TestDecodeHash32Invalid(t *testing.T) {
	testCases := []struct {
		name  string
		input string
	}{
		{"Empty", ""},
		{"Missing prefix", "deadbeef"},
		{"Too short", "0x1234"},
		{"Too long", "0x00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff00"},
		{"Non-hex characters", "0xzz112233445566778899aabbccddeeff00112233445566778899aabbccddee"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeHash32(tc.input)
			require.Error(t, err)
		})
	}
}
