package badger

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v3"
	"github.com/twzrd/attention-oracle-go/pkg/epochcache"
	"github.com/twzrd/attention-oracle-go/pkg/types"
	"go.uber.org/zap"
)

// Key prefixes for namespacing
const (
	keyPrefixSnapshot    = "snapshot:"
	keySchemaVersion     = "metadata:schema_version"
	currentSchemaVersion = "v1"
)

// BadgerCache is a disk-backed implementation of ISnapshotCache using
// Badger. Suits single-instance deployments that want the cache to
// survive restarts.
type BadgerCache struct {
	db       *badgerdb.DB
	logger   *zap.Logger
	ttl      time.Duration
	gcCancel context.CancelFunc
	gcWg     sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
}

// Ensure BadgerCache implements ISnapshotCache
var _ epochcache.ISnapshotCache = (*BadgerCache)(nil)

// NewBadgerCache opens a Badger-backed snapshot cache at dataPath.
// SyncWrites is enabled so cached snapshots survive a crash. Entries
// expire after ttl to bound disk growth; ttl <= 0 disables expiry.
// A background goroutine is started for value log garbage collection.
func NewBadgerCache(dataPath string, ttl time.Duration, logger *zap.Logger) (*BadgerCache, error) {
	absPath, err := filepath.Abs(dataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	opts := badgerdb.DefaultOptions(absPath)
	opts.Logger = &badgerLoggerAdapter{logger: logger}
	opts.SyncWrites = true
	opts.CompactL0OnClose = true
	opts.NumVersionsToKeep = 1

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %s: %w", absPath, err)
	}

	bc := &BadgerCache{
		db:     db,
		logger: logger,
		ttl:    ttl,
	}

	if err := bc.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	bc.gcCancel = cancel
	bc.gcWg.Add(1)
	go bc.runGC(ctx)

	logger.Sugar().Infow("Badger snapshot cache initialized", "path", absPath, "ttl", ttl)

	return bc, nil
}

// initSchema initializes or validates the schema version
func (b *BadgerCache) initSchema() error {
	return b.db.Update(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(keySchemaVersion))
		if err == badgerdb.ErrKeyNotFound {
			return txn.Set([]byte(keySchemaVersion), []byte(currentSchemaVersion))
		}
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}

		var existingVersion string
		err = item.Value(func(val []byte) error {
			existingVersion = string(val)
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to read schema version value: %w", err)
		}

		if existingVersion != currentSchemaVersion {
			return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
		}

		return nil
	})
}

// runGC runs periodic garbage collection in the background
func (b *BadgerCache) runGC(ctx context.Context) {
	defer b.gcWg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := b.db.RunValueLogGC(0.5)
			if err != nil && err != badgerdb.ErrNoRewrite {
				b.logger.Sugar().Warnw("Badger GC error", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func snapshotDBKey(key epochcache.SnapshotKey) []byte {
	return []byte(keyPrefixSnapshot + key.String())
}

// PutSnapshot caches a sealed snapshot.
func (b *BadgerCache) PutSnapshot(_ context.Context, snap *types.SealedSnapshot) error {
	if snap == nil {
		return fmt.Errorf("cannot cache nil SealedSnapshot")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("cache is closed")
	}

	data, err := epochcache.MarshalSnapshot(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal SealedSnapshot: %w", err)
	}

	return b.db.Update(func(txn *badgerdb.Txn) error {
		entry := badgerdb.NewEntry(snapshotDBKey(epochcache.KeyFor(snap)), data)
		if b.ttl > 0 {
			entry = entry.WithTTL(b.ttl)
		}
		return txn.SetEntry(entry)
	})
}

// GetSnapshot retrieves a cached snapshot.
func (b *BadgerCache) GetSnapshot(_ context.Context, key epochcache.SnapshotKey) (*types.SealedSnapshot, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("cache is closed")
	}

	var data []byte
	err := b.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(snapshotDBKey(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			data = append([]byte{}, val...) // Copy value
			return nil
		})
	})
	if err == badgerdb.ErrKeyNotFound {
		return nil, epochcache.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot %s: %w", key, err)
	}

	snap, err := epochcache.UnmarshalSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot %s: %w", key, err)
	}
	return snap, nil
}

// InvalidateSnapshot removes a cached snapshot. Idempotent.
func (b *BadgerCache) InvalidateSnapshot(_ context.Context, key epochcache.SnapshotKey) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("cache is closed")
	}

	return b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete(snapshotDBKey(key))
	})
}

// Close shuts down the cache
func (b *BadgerCache) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil // Already closed, idempotent
	}
	b.closed = true
	b.mu.Unlock()

	// Stop GC goroutine
	if b.gcCancel != nil {
		b.gcCancel()
	}
	b.gcWg.Wait()

	if err := b.db.Close(); err != nil {
		return fmt.Errorf("failed to close badger database: %w", err)
	}

	b.logger.Sugar().Info("Badger snapshot cache closed")
	return nil
}

// HealthCheck verifies the cache is operational
func (b *BadgerCache) HealthCheck(_ context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("cache is closed")
	}

	return b.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get([]byte(keySchemaVersion))
		if err == badgerdb.ErrKeyNotFound {
			return fmt.Errorf("schema version not found - database may be corrupted")
		}
		return err
	})
}
