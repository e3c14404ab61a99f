package badger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twzrd/attention-oracle-go/pkg/epochcache"
	"github.com/twzrd/attention-oracle-go/pkg/logger"
	"github.com/twzrd/attention-oracle-go/pkg/types"
)

func newTestCache(t *testing.T, dir string) *BadgerCache {
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	bc, err := NewBadgerCache(dir, time.Hour, testLogger)
	require.NoError(t, err)
	return bc
}

func sampleSnapshot(epoch uint64) *types.SealedSnapshot {
	return &types.SealedSnapshot{
		Channel: "shroud",
		Epoch:   epoch,
		Root:    [32]byte{0xAB, byte(epoch)},
		Participants: []types.Participant{
			{Channel: "shroud", Epoch: epoch, Index: 0, UserHash: [32]byte{1}},
			{Channel: "shroud", Epoch: epoch, Index: 1, UserHash: [32]byte{2}},
		},
	}
}

func TestBadgerCache_PutAndGet(t *testing.T) {
	bc := newTestCache(t, t.TempDir())
	defer func() { _ = bc.Close() }()
	ctx := context.Background()

	snap := sampleSnapshot(4721)
	require.NoError(t, bc.PutSnapshot(ctx, snap))

	got, err := bc.GetSnapshot(ctx, epochcache.KeyFor(snap))
	require.NoError(t, err)
	assert.Equal(t, snap, got)
}

func TestBadgerCache_Get_Miss(t *testing.T) {
	bc := newTestCache(t, t.TempDir())
	defer func() { _ = bc.Close() }()

	_, err := bc.GetSnapshot(context.Background(), epochcache.SnapshotKey{Channel: "nobody", Epoch: 1})
	require.ErrorIs(t, err, epochcache.ErrCacheMiss)
}

func TestBadgerCache_Put_Nil(t *testing.T) {
	bc := newTestCache(t, t.TempDir())
	defer func() { _ = bc.Close() }()

	err := bc.PutSnapshot(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil SealedSnapshot")
}

func TestBadgerCache_Invalidate(t *testing.T) {
	bc := newTestCache(t, t.TempDir())
	defer func() { _ = bc.Close() }()
	ctx := context.Background()

	snap := sampleSnapshot(4721)
	require.NoError(t, bc.PutSnapshot(ctx, snap))
	require.NoError(t, bc.InvalidateSnapshot(ctx, epochcache.KeyFor(snap)))

	_, err := bc.GetSnapshot(ctx, epochcache.KeyFor(snap))
	require.ErrorIs(t, err, epochcache.ErrCacheMiss)

	// Idempotent
	require.NoError(t, bc.InvalidateSnapshot(ctx, epochcache.KeyFor(snap)))
}

func TestBadgerCache_Overwrite(t *testing.T) {
	bc := newTestCache(t, t.TempDir())
	defer func() { _ = bc.Close() }()
	ctx := context.Background()

	snap := sampleSnapshot(9)
	require.NoError(t, bc.PutSnapshot(ctx, snap))

	updated := snap.Clone()
	updated.Root = [32]byte{0xEE}
	require.NoError(t, bc.PutSnapshot(ctx, updated))

	got, err := bc.GetSnapshot(ctx, epochcache.KeyFor(snap))
	require.NoError(t, err)
	assert.Equal(t, [32]byte{0xEE}, got.Root)
}

func TestBadgerCache_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	snap := sampleSnapshot(4721)

	bc := newTestCache(t, dir)
	require.NoError(t, bc.PutSnapshot(ctx, snap))
	require.NoError(t, bc.Close())

	reopened := newTestCache(t, dir)
	defer func() { _ = reopened.Close() }()

	got, err := reopened.GetSnapshot(ctx, epochcache.KeyFor(snap))
	require.NoError(t, err)
	assert.Equal(t, snap, got)
}

func TestBadgerCache_Close_Idempotent(t *testing.T) {
	bc := newTestCache(t, t.TempDir())

	require.NoError(t, bc.Close())
	require.NoError(t, bc.Close())

	err := bc.PutSnapshot(context.Background(), sampleSnapshot(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}

func TestBadgerCache_HealthCheck(t *testing.T) {
	bc := newTestCache(t, t.TempDir())

	require.NoError(t, bc.HealthCheck(context.Background()))

	require.NoError(t, bc.Close())
	require.Error(t, bc.HealthCheck(context.Background()))
}

func TestBadgerCache_ThreadSafety(t *testing.T) {
	bc := newTestCache(t, t.TempDir())
	defer func() { _ = bc.Close() }()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(epoch uint64) {
			defer wg.Done()
			snap := sampleSnapshot(epoch)
			assert.NoError(t, bc.PutSnapshot(ctx, snap))
			_, err := bc.GetSnapshot(ctx, epochcache.KeyFor(snap))
			assert.NoError(t, err)
		}(uint64(i))
	}
	wg.Wait()
}
