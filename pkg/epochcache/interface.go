package epochcache

import (
	"context"
	"errors"
	"fmt"

	"github.com/twzrd/attention-oracle-go/pkg/types"
)

// ErrCacheMiss is returned when no snapshot is cached under a key.
var ErrCacheMiss = errors.New("epochcache: snapshot not cached")

// SnapshotKey identifies one sealed snapshot. TokenGroup and Category
// stay empty on deployments that do not segment epochs.
type SnapshotKey struct {
	Channel    string
	Epoch      uint64
	TokenGroup string
	Category   string
}

// String renders the key in storage form. Twitch channel names cannot
// contain ':', so the separator is unambiguous.
func (k SnapshotKey) String() string {
	return fmt.Sprintf("%s:%d:%s:%s", k.Channel, k.Epoch, k.TokenGroup, k.Category)
}

// KeyFor derives the cache key of a snapshot.
func KeyFor(snap *types.SealedSnapshot) SnapshotKey {
	return SnapshotKey{
		Channel:    snap.Channel,
		Epoch:      snap.Epoch,
		TokenGroup: snap.TokenGroup,
		Category:   snap.Category,
	}
}

// ISnapshotCache caches sealed snapshots in front of the epoch store.
// Sealed snapshots are immutable, so implementations never read-repair;
// eviction is purely a capacity concern. All implementations must be
// safe for concurrent use.
//
// The interface supports:
// - Snapshot storage keyed by channel/epoch/tokenGroup/category
// - Explicit invalidation (operational tooling, reseal recovery)
// - Lifecycle management (close, health check)
type ISnapshotCache interface {
	// PutSnapshot caches a sealed snapshot under its derived key.
	// Overwrites any existing entry (idempotent).
	PutSnapshot(ctx context.Context, snap *types.SealedSnapshot) error

	// GetSnapshot retrieves a cached snapshot.
	// Returns ErrCacheMiss when nothing is cached under the key; other
	// errors indicate storage failure.
	GetSnapshot(ctx context.Context, key SnapshotKey) (*types.SealedSnapshot, error)

	// InvalidateSnapshot removes a cached snapshot.
	// Idempotent - returns nil if nothing was cached.
	InvalidateSnapshot(ctx context.Context, key SnapshotKey) error

	// Close cleanly shuts down the cache.
	// Idempotent - safe to call multiple times.
	// After Close(), all other operations return errors.
	Close() error

	// HealthCheck verifies the cache is operational.
	// Called during server startup to fail fast.
	HealthCheck(ctx context.Context) error
}
