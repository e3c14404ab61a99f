package chainstate

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildEpochAccount lays out an epoch state account byte by byte at the
// documented offsets, independently of the decoder.
func buildEpochAccount(epoch uint64, claimCount uint32, closed bool, bitmap []byte) []byte {
	data := make([]byte, EpochStateMinLen+len(bitmap))
	binary.LittleEndian.PutUint64(data[8:], epoch)
	for i := 0; i < 32; i++ {
		data[16+i] = byte(0x10 + i)
		data[52+i] = byte(0x20 + i)
		data[84+i] = byte(0x30 + i)
		data[116+i] = byte(0x40 + i)
	}
	binary.LittleEndian.PutUint32(data[48:], claimCount)
	binary.LittleEndian.PutUint64(data[148:], 1_755_000_000)
	data[156] = 254
	binary.LittleEndian.PutUint64(data[157:], 123_456_789)
	if closed {
		data[165] = 1
	}
	binary.LittleEndian.PutUint32(data[166:], uint32(len(bitmap)))
	copy(data[EpochStateMinLen:], bitmap)
	return data
}

func TestDecodeEpochState(t *testing.T) {
	bitmap := []byte{0b1000_0001, 0b0000_0100}
	data := buildEpochAccount(42, 11, false, bitmap)

	s, err := DecodeEpochState(data)
	require.NoError(t, err)

	require.Equal(t, uint64(42), s.Epoch)
	require.Equal(t, uint32(11), s.ClaimCount)
	require.Equal(t, int64(1_755_000_000), s.Timestamp)
	require.Equal(t, uint8(254), s.Bump)
	require.Equal(t, uint64(123_456_789), s.TotalClaimed)
	require.False(t, s.Closed)
	require.Equal(t, bitmap, s.Bitmap)

	var root, mint, streamer, treasury [32]byte
	for i := 0; i < 32; i++ {
		root[i] = byte(0x10 + i)
		mint[i] = byte(0x20 + i)
		streamer[i] = byte(0x30 + i)
		treasury[i] = byte(0x40 + i)
	}
	require.Equal(t, root, s.Root)
	require.Equal(t, mint, s.Mint)
	require.Equal(t, streamer, s.Streamer)
	require.Equal(t, treasury, s.Treasury)
}

func TestDecodeEpochStateClosed(t *testing.T) {
	s, err := DecodeEpochState(buildEpochAccount(7, 0, true, nil))
	require.NoError(t, err)
	require.True(t, s.Closed)
	require.Empty(t, s.Bitmap)
}

func TestEpochStateIsClaimed(t *testing.T) {
	// Bits 0 and 7 in the first byte, bit 10 in the second.
	s, err := DecodeEpochState(buildEpochAccount(1, 16, false, []byte{0b1000_0001, 0b0000_0100}))
	require.NoError(t, err)

	claimed := map[uint32]bool{0: true, 1: false, 6: false, 7: true, 8: false, 10: true, 15: false}
	for index, want := range claimed {
		require.Equal(t, want, s.IsClaimed(index), "index %d", index)
	}

	// Beyond the bitmap reads as unclaimed.
	require.False(t, s.IsClaimed(16))
	require.False(t, s.IsClaimed(100_000))
}

func TestDecodeEpochStateTooShort(t *testing.T) {
	_, err := DecodeEpochState(make([]byte, EpochStateMinLen-1))
	require.ErrorIs(t, err, ErrBadAccountData)
	require.ErrorContains(t, err, "too short")
}

func TestDecodeEpochStateBitmapTruncated(t *testing.T) {
	data := buildEpochAccount(3, 128, false, make([]byte, 16))
	// Declare more bitmap bytes than the account carries.
	binary.LittleEndian.PutUint32(data[166:], 32)
	_, err := DecodeEpochState(data)
	require.ErrorIs(t, err, ErrBadAccountData)
	require.ErrorContains(t, err, "truncated")
}

type slotFixture struct {
	epoch      uint64
	claimCount uint16
	claimed    []uint32
}

// buildChannelAccount lays out a channel ring account at the documented
// offsets. Slots not listed stay zeroed.
func buildChannelAccount(latestEpoch uint64, slots map[int]slotFixture) []byte {
	data := make([]byte, channelStateLen)
	data[8] = 2
	data[9] = 253
	for i := 0; i < 32; i++ {
		data[10+i] = byte(0x50 + i)
		data[42+i] = byte(0x60 + i)
	}
	binary.LittleEndian.PutUint64(data[74:], latestEpoch)
	for idx, s := range slots {
		off := 82 + idx*channelSlotLen
		binary.LittleEndian.PutUint64(data[off:], s.epoch)
		for i := 0; i < 32; i++ {
			data[off+8+i] = byte(idx + 1)
		}
		binary.LittleEndian.PutUint16(data[off+40:], s.claimCount)
		for _, c := range s.claimed {
			data[off+42+int(c/8)] |= 1 << (c % 8)
		}
	}
	return data
}

func TestDecodeChannelState(t *testing.T) {
	data := buildChannelAccount(12, map[int]slotFixture{
		1: {epoch: 11, claimCount: 4},
		2: {epoch: 12, claimCount: 900, claimed: []uint32{0, 5, 1023}},
	})

	s, err := DecodeChannelState(data)
	require.NoError(t, err)

	require.Equal(t, uint8(2), s.Version)
	require.Equal(t, uint8(253), s.Bump)
	require.Equal(t, uint64(12), s.LatestEpoch)

	var mint, streamer [32]byte
	for i := 0; i < 32; i++ {
		mint[i] = byte(0x50 + i)
		streamer[i] = byte(0x60 + i)
	}
	require.Equal(t, mint, s.Mint)
	require.Equal(t, streamer, s.Streamer)

	slot, err := s.SlotFor(12)
	require.NoError(t, err)
	require.Equal(t, uint64(12), slot.Epoch)
	require.Equal(t, uint16(900), slot.ClaimCount)

	var wantRoot [32]byte
	for i := range wantRoot {
		wantRoot[i] = 3
	}
	require.Equal(t, wantRoot, slot.Root)

	require.True(t, slot.IsClaimed(0))
	require.False(t, slot.IsClaimed(1))
	require.True(t, slot.IsClaimed(5))
	require.True(t, slot.IsClaimed(1023))

	prev, err := s.SlotFor(11)
	require.NoError(t, err)
	require.Equal(t, uint16(4), prev.ClaimCount)
	require.False(t, prev.IsClaimed(0))
}

func TestSlotForRecycledEpoch(t *testing.T) {
	// Epochs 2 and 12 share slot 2; the slot now holds 12.
	data := buildChannelAccount(12, map[int]slotFixture{
		2: {epoch: 12, claimCount: 1},
	})
	s, err := DecodeChannelState(data)
	require.NoError(t, err)

	_, err = s.SlotFor(2)
	require.ErrorIs(t, err, ErrSlotEpochMismatch)
}

func TestSlotIndex(t *testing.T) {
	cases := map[uint64]int{0: 0, 9: 9, 10: 0, 12: 2, 1_000_003: 3}
	for epoch, want := range cases {
		require.Equal(t, want, SlotIndex(epoch), "epoch %d", epoch)
	}
}

func TestChannelSlotIsClaimedBeyondBitmap(t *testing.T) {
	var slot ChannelSlot
	slot.Bitmap[channelBitmapLen-1] = 0xFF
	require.True(t, slot.IsClaimed(ChannelMaxClaims-1))
	require.False(t, slot.IsClaimed(ChannelMaxClaims))
	require.False(t, slot.IsClaimed(4096))
}

func TestDecodeChannelStateTooShort(t *testing.T) {
	_, err := DecodeChannelState(make([]byte, channelStateLen-1))
	require.ErrorIs(t, err, ErrBadAccountData)
	require.ErrorContains(t, err, "too short")
}
