package leaf

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/twzrd/attention-oracle-go/pkg/types"
)

func testClaimer() [32]byte {
	var claimer [32]byte
	for i := range claimer {
		claimer[i] = 0x07
	}
	return claimer
}

// TestComputeClaimLeafOpen tests the open-variant byte layout field by field
func TestComputeClaimLeafOpen(t *testing.T) {
	claimer := testClaimer()
	c := types.Claim{
		Claimer: claimer,
		Index:   5,
		Amount:  123456,
		ID:      "twitch:unit:alice",
		Variant: types.VariantOpen,
	}

	got, err := ComputeClaimLeaf(c)
	require.NoError(t, err)

	// Rebuild the message by hand to pin the layout
	msg := make([]byte, 0, 32+4+8+len(c.ID))
	msg = append(msg, claimer[:]...)
	msg = binary.LittleEndian.AppendUint32(msg, 5)
	msg = binary.LittleEndian.AppendUint64(msg, 123456)
	msg = append(msg, []byte("twitch:unit:alice")...)

	want := [32]byte(crypto.Keccak256Hash(msg))
	require.Equal(t, want, got)
}

// TestComputeClaimLeafRing tests that ring leaves omit the id entirely
func TestComputeClaimLeafRing(t *testing.T) {
	claimer := testClaimer()

	ring, err := ComputeClaimLeaf(types.Claim{
		Claimer: claimer,
		Index:   5,
		Amount:  123456,
		Variant: types.VariantRing,
	})
	require.NoError(t, err)

	msg := make([]byte, 0, 32+4+8)
	msg = append(msg, claimer[:]...)
	msg = binary.LittleEndian.AppendUint32(msg, 5)
	msg = binary.LittleEndian.AppendUint64(msg, 123456)
	require.Equal(t, [32]byte(crypto.Keccak256Hash(msg)), ring)

	// A ring claim with an id set must hash identically: the variant
	// decides, not the field contents
	ringWithID, err := ComputeClaimLeaf(types.Claim{
		Claimer: claimer,
		Index:   5,
		Amount:  123456,
		ID:      "twitch:unit:alice",
		Variant: types.VariantRing,
	})
	require.NoError(t, err)
	require.Equal(t, ring, ringWithID)
}

// TestClaimVariantsDiverge tests that the same claim produces different
// leaves under the two variants
func TestClaimVariantsDiverge(t *testing.T) {
	c := types.Claim{
		Claimer: testClaimer(),
		Index:   1,
		Amount:  10,
		ID:      "dist-1",
	}

	c.Variant = types.VariantRing
	ring, err := ComputeClaimLeaf(c)
	require.NoError(t, err)

	c.Variant = types.VariantOpen
	open, err := ComputeClaimLeaf(c)
	require.NoError(t, err)

	require.NotEqual(t, ring, open)
}

// TestComputeClaimLeafIDTooLong tests the id length cap
func TestComputeClaimLeafIDTooLong(t *testing.T) {
	c := types.Claim{
		Claimer: testClaimer(),
		Index:   1,
		Amount:  10,
		ID:      strings.Repeat("a", MaxIDBytes+1),
		Variant: types.VariantOpen,
	}

	_, err := ComputeClaimLeaf(c)
	require.ErrorIs(t, err, ErrIDTooLong)

	// Exactly at the cap is fine
	c.ID = strings.Repeat("a", MaxIDBytes)
	_, err = ComputeClaimLeaf(c)
	require.NoError(t, err)

	// The cap only applies where the id is part of the message
	c.ID = strings.Repeat("a", MaxIDBytes+1)
	c.Variant = types.VariantRing
	_, err = ComputeClaimLeaf(c)
	require.NoError(t, err)
}

// TestComputeClaimLeafUnknownVariant tests that untagged claims are rejected
func TestComputeClaimLeafUnknownVariant(t *testing.T) {
	_, err := ComputeClaimLeaf(types.Claim{Claimer: testClaimer()})
	require.ErrorIs(t, err, ErrUnknownVariant)

	_, err = ComputeClaimLeaf(types.Claim{Claimer: testClaimer(), Variant: "gated"})
	require.ErrorIs(t, err, ErrUnknownVariant)
}

// TestComputeParticipationLeaf tests the participation byte layout
func TestComputeParticipationLeaf(t *testing.T) {
	var userHash [32]byte
	for i := range userHash {
		userHash[i] = byte(i)
	}

	got := ComputeParticipationLeaf(userHash, "somestreamer", 42)

	msg := make([]byte, 0, 32+len("somestreamer")+8)
	msg = append(msg, userHash[:]...)
	msg = append(msg, []byte("somestreamer")...)
	msg = binary.LittleEndian.AppendUint64(msg, 42)

	require.Equal(t, [32]byte(crypto.Keccak256Hash(msg)), got)

	// Every field must influence the leaf
	require.NotEqual(t, got, ComputeParticipationLeaf(userHash, "somestreamer", 43))
	require.NotEqual(t, got, ComputeParticipationLeaf(userHash, "otherstreamer", 42))
	userHash[0] ^= 0xFF
	require.NotEqual(t, got, ComputeParticipationLeaf(userHash, "somestreamer", 42))
}

// TestComputeCumulativeLeaf tests the domain-separated cumulative layout
func TestComputeCumulativeLeaf(t *testing.T) {
	var channelConfig, mint, wallet [32]byte
	channelConfig[0] = 1
	mint[0] = 2
	wallet[0] = 3

	got := ComputeCumulativeLeaf(channelConfig, mint, 7, wallet, 5000)

	msg := make([]byte, 0, len(CumulativeDomain)+32+32+8+32+8)
	msg = append(msg, []byte(CumulativeDomain)...)
	msg = append(msg, channelConfig[:]...)
	msg = append(msg, mint[:]...)
	msg = binary.LittleEndian.AppendUint64(msg, 7)
	msg = append(msg, wallet[:]...)
	msg = binary.LittleEndian.AppendUint64(msg, 5000)

	require.Equal(t, [32]byte(crypto.Keccak256Hash(msg)), got)

	// Root sequence prevents replaying an old total against a newer root
	require.NotEqual(t, got, ComputeCumulativeLeaf(channelConfig, mint, 8, wallet, 5000))
}
