package leaf

import (
	"encoding/binary"
	"errors"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/twzrd/attention-oracle-go/pkg/types"
)

// MaxIDBytes caps the distribution id carried by open-variant claims.
// The payout program rejects longer ids, so enforcing the cap here keeps
// every leaf computed off-chain claimable on-chain.
const MaxIDBytes = 32

// CumulativeDomain is the domain separator for cumulative distribution
// leaves. It is the only leaf encoding with a domain prefix; the claim
// and participation encodings hash the raw concatenation.
const CumulativeDomain = "TWZRD:CUMULATIVE_V2"

var (
	// ErrIDTooLong is returned when an open claim's id exceeds MaxIDBytes.
	ErrIDTooLong = errors.New("leaf: distribution id exceeds 32 bytes")
	// ErrUnknownVariant is returned when a claim carries no recognized variant tag.
	ErrUnknownVariant = errors.New("leaf: unknown claim variant")
)

// ComputeClaimLeaf computes the 32-byte leaf committing a claim to a
// distribution root.
//
//	ring: keccak256(claimer(32) || index(4, LE) || amount(8, LE))
//	open: keccak256(claimer(32) || index(4, LE) || amount(8, LE) || id)
//
// The two variants are not interchangeable: a ring leaf never includes
// the id even when the claim carries one. Field widths and byte order
// match the on-chain verifier exactly.
func ComputeClaimLeaf(c types.Claim) ([32]byte, error) {
	switch c.Variant {
	case types.VariantRing, types.VariantOpen:
	default:
		return [32]byte{}, ErrUnknownVariant
	}

	data := make([]byte, 0, 32+4+8+len(c.ID))
	data = append(data, c.Claimer[:]...)
	data = binary.LittleEndian.AppendUint32(data, c.Index)
	data = binary.LittleEndian.AppendUint64(data, c.Amount)

	if c.Variant == types.VariantOpen {
		if len(c.ID) > MaxIDBytes {
			return [32]byte{}, ErrIDTooLong
		}
		data = append(data, c.ID...)
	}

	return [32]byte(crypto.Keccak256Hash(data)), nil
}

// ComputeParticipationLeaf computes the leaf binding one viewer identity
// to one channel epoch: keccak256(userHash(32) || channel || epoch(8, LE)).
// The channel string is hashed as given; callers pass the canonical
// channel name the epoch was sealed under.
func ComputeParticipationLeaf(userHash [32]byte, channel string, epoch uint64) [32]byte {
	data := make([]byte, 0, 32+len(channel)+8)
	data = append(data, userHash[:]...)
	data = append(data, channel...)
	data = binary.LittleEndian.AppendUint64(data, epoch)
	return [32]byte(crypto.Keccak256Hash(data))
}

// ComputeCumulativeLeaf computes the v2 cumulative distribution leaf:
//
//	keccak256(domain || channelConfig(32) || mint(32) || rootSeq(8, LE) || wallet(32) || total(8, LE))
//
// cumulativeTotal is the wallet's lifetime entitlement for the channel,
// not a per-epoch delta.
func ComputeCumulativeLeaf(channelConfig, mint [32]byte, rootSeq uint64, wallet [32]byte, cumulativeTotal uint64) [32]byte {
	data := make([]byte, 0, len(CumulativeDomain)+32+32+8+32+8)
	data = append(data, CumulativeDomain...)
	data = append(data, channelConfig[:]...)
	data = append(data, mint[:]...)
	data = binary.LittleEndian.AppendUint64(data, rootSeq)
	data = append(data, wallet[:]...)
	data = binary.LittleEndian.AppendUint64(data, cumulativeTotal)
	return [32]byte(crypto.Keccak256Hash(data))
}
