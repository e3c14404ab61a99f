package chainstate

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Account data layout constants. Account bodies start after an 8-byte
// discriminator; all integers are little-endian.
const (
	DiscriminatorLen = 8

	// EpochStateMinLen covers the fixed fields plus the bitmap length
	// prefix; the bitmap bytes follow.
	EpochStateMinLen = 170

	// ChannelRingSlots is the number of epoch slots a channel account
	// retains; older epochs are overwritten in ring order.
	ChannelRingSlots = 10

	// ChannelMaxClaims bounds claims per ring slot; the claimed bitmap
	// is sized for it.
	ChannelMaxClaims = 1024
)

const (
	channelBitmapLen = (ChannelMaxClaims + 7) / 8
	channelSlotLen   = 8 + 32 + 2 + channelBitmapLen
	channelStateLen  = DiscriminatorLen + 1 + 1 + 32 + 32 + 8 + ChannelRingSlots*channelSlotLen
)

var (
	// ErrSlotEpochMismatch is returned when a ring slot has been
	// overwritten by a later epoch sharing the same slot index.
	ErrSlotEpochMismatch = errors.New("chainstate: ring slot holds a different epoch")

	// ErrBadAccountData is returned when account bytes do not decode as
	// the expected layout, usually because the caller supplied the wrong
	// account address.
	ErrBadAccountData = errors.New("chainstate: malformed account data")
)

// EpochState mirrors the distribution program's per-epoch account.
type EpochState struct {
	Epoch        uint64
	Root         [32]byte
	ClaimCount   uint32
	Mint         [32]byte
	Streamer     [32]byte
	Treasury     [32]byte
	Timestamp    int64
	Bump         uint8
	TotalClaimed uint64
	Closed       bool
	Bitmap       []byte
}

// DecodeEpochState decodes a raw epoch state account.
func DecodeEpochState(data []byte) (*EpochState, error) {
	if len(data) < EpochStateMinLen {
		return nil, fmt.Errorf("%w: epoch state account too short: %d bytes, want at least %d", ErrBadAccountData, len(data), EpochStateMinLen)
	}

	s := &EpochState{
		Epoch:        binary.LittleEndian.Uint64(data[8:16]),
		ClaimCount:   binary.LittleEndian.Uint32(data[48:52]),
		Timestamp:    int64(binary.LittleEndian.Uint64(data[148:156])),
		Bump:         data[156],
		TotalClaimed: binary.LittleEndian.Uint64(data[157:165]),
		Closed:       data[165] != 0,
	}
	copy(s.Root[:], data[16:48])
	copy(s.Mint[:], data[52:84])
	copy(s.Streamer[:], data[84:116])
	copy(s.Treasury[:], data[116:148])

	bitmapLen := binary.LittleEndian.Uint32(data[166:170])
	if int(bitmapLen) > len(data)-EpochStateMinLen {
		return nil, fmt.Errorf("%w: epoch state bitmap truncated: declares %d bytes, %d available", ErrBadAccountData, bitmapLen, len(data)-EpochStateMinLen)
	}
	s.Bitmap = append([]byte{}, data[EpochStateMinLen:EpochStateMinLen+int(bitmapLen)]...)

	return s, nil
}

// IsClaimed reports whether the claim at index has already been redeemed.
// Indexes beyond the bitmap read as unclaimed; callers gate on ClaimCount
// separately.
func (s *EpochState) IsClaimed(index uint32) bool {
	byteIdx := int(index / 8)
	if byteIdx >= len(s.Bitmap) {
		return false
	}
	return s.Bitmap[byteIdx]&(1<<(index%8)) != 0
}

// ChannelSlot is one epoch's entry in a channel's ring buffer.
type ChannelSlot struct {
	Epoch      uint64
	Root       [32]byte
	ClaimCount uint16
	Bitmap     [channelBitmapLen]byte
}

// IsClaimed reports whether the claim at index in this slot has been
// redeemed.
func (s *ChannelSlot) IsClaimed(index uint32) bool {
	byteIdx := int(index / 8)
	if byteIdx >= len(s.Bitmap) {
		return false
	}
	return s.Bitmap[byteIdx]&(1<<(index%8)) != 0
}

// ChannelState mirrors the ring-buffer channel account: the latest
// ChannelRingSlots epochs, each in slot epoch % ChannelRingSlots.
type ChannelState struct {
	Version     uint8
	Bump        uint8
	Mint        [32]byte
	Streamer    [32]byte
	LatestEpoch uint64
	Slots       [ChannelRingSlots]ChannelSlot
}

// DecodeChannelState decodes a raw channel ring account.
func DecodeChannelState(data []byte) (*ChannelState, error) {
	if len(data) < channelStateLen {
		return nil, fmt.Errorf("%w: channel state account too short: %d bytes, want %d", ErrBadAccountData, len(data), channelStateLen)
	}

	s := &ChannelState{
		Version: data[8],
		Bump:    data[9],
	}
	copy(s.Mint[:], data[10:42])
	copy(s.Streamer[:], data[42:74])
	s.LatestEpoch = binary.LittleEndian.Uint64(data[74:82])

	off := 82
	for i := 0; i < ChannelRingSlots; i++ {
		slot := &s.Slots[i]
		slot.Epoch = binary.LittleEndian.Uint64(data[off : off+8])
		copy(slot.Root[:], data[off+8:off+40])
		slot.ClaimCount = binary.LittleEndian.Uint16(data[off+40 : off+42])
		copy(slot.Bitmap[:], data[off+42:off+42+channelBitmapLen])
		off += channelSlotLen
	}

	return s, nil
}

// SlotIndex returns the ring position for an epoch.
func SlotIndex(epoch uint64) int {
	return int(epoch % ChannelRingSlots)
}

// SlotFor returns the ring slot holding the given epoch, or
// ErrSlotEpochMismatch when the slot has been recycled by a newer epoch.
func (s *ChannelState) SlotFor(epoch uint64) (*ChannelSlot, error) {
	slot := &s.Slots[SlotIndex(epoch)]
	if slot.Epoch != epoch {
		return nil, fmt.Errorf("slot %d holds epoch %d, requested %d: %w",
			SlotIndex(epoch), slot.Epoch, epoch, ErrSlotEpochMismatch)
	}
	return slot, nil
}
