package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twzrd/attention-oracle-go/pkg/epochcache"
	"github.com/twzrd/attention-oracle-go/pkg/types"
)

func sampleSnapshot() *types.SealedSnapshot {
	return &types.SealedSnapshot{
		Channel: "shroud",
		Epoch:   4721,
		Root:    [32]byte{0xAB, 0xCD},
		Participants: []types.Participant{
			{Channel: "shroud", Epoch: 4721, Index: 0, UserHash: [32]byte{1}},
			{Channel: "shroud", Epoch: 4721, Index: 1, UserHash: [32]byte{2}},
		},
	}
}

func TestMemoryCache_PutAndGet(t *testing.T) {
	mc := NewMemoryCache()
	defer func() { _ = mc.Close() }()
	ctx := context.Background()

	snap := sampleSnapshot()
	require.NoError(t, mc.PutSnapshot(ctx, snap))

	got, err := mc.GetSnapshot(ctx, epochcache.KeyFor(snap))
	require.NoError(t, err)
	assert.Equal(t, snap, got)
}

func TestMemoryCache_Get_Miss(t *testing.T) {
	mc := NewMemoryCache()
	defer func() { _ = mc.Close() }()

	_, err := mc.GetSnapshot(context.Background(), epochcache.SnapshotKey{Channel: "nobody", Epoch: 1})
	require.ErrorIs(t, err, epochcache.ErrCacheMiss)
}

func TestMemoryCache_Put_Nil(t *testing.T) {
	mc := NewMemoryCache()
	defer func() { _ = mc.Close() }()

	err := mc.PutSnapshot(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil SealedSnapshot")
}

func TestMemoryCache_Invalidate(t *testing.T) {
	mc := NewMemoryCache()
	defer func() { _ = mc.Close() }()
	ctx := context.Background()

	snap := sampleSnapshot()
	require.NoError(t, mc.PutSnapshot(ctx, snap))
	require.NoError(t, mc.InvalidateSnapshot(ctx, epochcache.KeyFor(snap)))

	_, err := mc.GetSnapshot(ctx, epochcache.KeyFor(snap))
	require.ErrorIs(t, err, epochcache.ErrCacheMiss)

	// Idempotent
	require.NoError(t, mc.InvalidateSnapshot(ctx, epochcache.KeyFor(snap)))
}

func TestMemoryCache_DeepCopy_Mutation(t *testing.T) {
	mc := NewMemoryCache()
	defer func() { _ = mc.Close() }()
	ctx := context.Background()

	snap := sampleSnapshot()
	require.NoError(t, mc.PutSnapshot(ctx, snap))

	// Mutating the original must not reach the cached copy.
	snap.Participants[0].UserHash = [32]byte{0xFF}

	got, err := mc.GetSnapshot(ctx, epochcache.KeyFor(snap))
	require.NoError(t, err)
	assert.Equal(t, [32]byte{1}, got.Participants[0].UserHash)

	// Mutating a returned copy must not reach the cached copy either.
	got.Participants[1].UserHash = [32]byte{0xEE}

	again, err := mc.GetSnapshot(ctx, epochcache.KeyFor(snap))
	require.NoError(t, err)
	assert.Equal(t, [32]byte{2}, again.Participants[1].UserHash)
}

func TestMemoryCache_GroupedKeysAreDistinct(t *testing.T) {
	mc := NewMemoryCache()
	defer func() { _ = mc.Close() }()
	ctx := context.Background()

	chat := sampleSnapshot()
	chat.TokenGroup = "chat"
	clip := sampleSnapshot()
	clip.TokenGroup = "clip"
	clip.Root = [32]byte{0x11}

	require.NoError(t, mc.PutSnapshot(ctx, chat))
	require.NoError(t, mc.PutSnapshot(ctx, clip))

	got, err := mc.GetSnapshot(ctx, epochcache.KeyFor(chat))
	require.NoError(t, err)
	assert.Equal(t, chat.Root, got.Root)

	got, err = mc.GetSnapshot(ctx, epochcache.KeyFor(clip))
	require.NoError(t, err)
	assert.Equal(t, clip.Root, got.Root)
}

func TestMemoryCache_Close(t *testing.T) {
	mc := NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, mc.PutSnapshot(ctx, sampleSnapshot()))
	require.NoError(t, mc.Close())

	err := mc.PutSnapshot(ctx, sampleSnapshot())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")

	_, err = mc.GetSnapshot(ctx, epochcache.SnapshotKey{Channel: "shroud", Epoch: 4721})
	require.Error(t, err)

	require.Error(t, mc.HealthCheck(ctx))

	// Idempotent
	require.NoError(t, mc.Close())
}

func TestMemoryCache_HealthCheck(t *testing.T) {
	mc := NewMemoryCache()
	defer func() { _ = mc.Close() }()

	require.NoError(t, mc.HealthCheck(context.Background()))
}
