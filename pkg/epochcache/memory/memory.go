package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/twzrd/attention-oracle-go/pkg/epochcache"
	"github.com/twzrd/attention-oracle-go/pkg/types"
)

// MemoryCache is an in-memory implementation of ISnapshotCache.
// This implementation is intended for TESTING and single-process setups.
//
// All cached snapshots are lost when the process exits. Thread-safe
// using sync.RWMutex. Deep copies snapshots on both put and get to
// prevent external mutation.
type MemoryCache struct {
	mu        sync.RWMutex
	snapshots map[epochcache.SnapshotKey]*types.SealedSnapshot
	closed    bool
}

// Ensure MemoryCache implements ISnapshotCache
var _ epochcache.ISnapshotCache = (*MemoryCache)(nil)

// NewMemoryCache creates a new in-memory snapshot cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		snapshots: make(map[epochcache.SnapshotKey]*types.SealedSnapshot),
	}
}

// PutSnapshot caches a sealed snapshot.
func (m *MemoryCache) PutSnapshot(_ context.Context, snap *types.SealedSnapshot) error {
	if snap == nil {
		return fmt.Errorf("cannot cache nil SealedSnapshot")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("cache is closed")
	}

	m.snapshots[epochcache.KeyFor(snap)] = snap.Clone()
	return nil
}

// GetSnapshot retrieves a cached snapshot.
func (m *MemoryCache) GetSnapshot(_ context.Context, key epochcache.SnapshotKey) (*types.SealedSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("cache is closed")
	}

	snap, exists := m.snapshots[key]
	if !exists {
		return nil, epochcache.ErrCacheMiss
	}
	return snap.Clone(), nil
}

// InvalidateSnapshot removes a cached snapshot. Idempotent.
func (m *MemoryCache) InvalidateSnapshot(_ context.Context, key epochcache.SnapshotKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("cache is closed")
	}

	delete(m.snapshots, key)
	return nil
}

// Close shuts down the cache. Idempotent.
func (m *MemoryCache) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.snapshots = nil
	return nil
}

// HealthCheck reports whether the cache is usable.
func (m *MemoryCache) HealthCheck(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return fmt.Errorf("cache is closed")
	}
	return nil
}
