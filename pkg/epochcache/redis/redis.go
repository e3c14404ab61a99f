package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/twzrd/attention-oracle-go/pkg/epochcache"
	"github.com/twzrd/attention-oracle-go/pkg/types"
	"go.uber.org/zap"
)

// Key prefixes for namespacing in Redis
const (
	keyPrefixSnapshot    = "oracle:snapshot:"
	keySchemaVersion     = "oracle:metadata:schema_version"
	currentSchemaVersion = "v1"
)

// RedisCache is a Redis-backed implementation of ISnapshotCache, suitable
// for deployments where several oracle replicas share one cache.
type RedisCache struct {
	client    *redis.Client
	logger    *zap.Logger
	keyPrefix string // Custom prefix for all keys
	mu        sync.RWMutex
	closed    bool
}

// Ensure RedisCache implements ISnapshotCache
var _ epochcache.ISnapshotCache = (*RedisCache)(nil)

// RedisConfig holds the configuration for connecting to Redis
type RedisConfig struct {
	// Address is the Redis server address (host:port)
	Address string
	// Password is the optional Redis password
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// KeyPrefix is an optional custom prefix for all keys (for multi-tenant
	// setups). If set, keys become e.g. "myapp:oracle:snapshot:...".
	KeyPrefix string
}

// NewRedisCache creates a new Redis-backed snapshot cache.
func NewRedisCache(cfg *RedisConfig, logger *zap.Logger) (*RedisCache, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	rc := &RedisCache{
		client:    client,
		logger:    logger,
		keyPrefix: cfg.KeyPrefix,
	}

	if err := rc.initSchema(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Sugar().Infow("Redis snapshot cache initialized", "address", cfg.Address, "db", cfg.DB)

	return rc, nil
}

// prefixKey adds the custom key prefix (if configured) to a key
func (r *RedisCache) prefixKey(key string) string {
	if r.keyPrefix == "" {
		return key
	}
	return r.keyPrefix + key
}

// initSchema initializes or validates the schema version
func (r *RedisCache) initSchema(ctx context.Context) error {
	schemaKey := r.prefixKey(keySchemaVersion)

	existingVersion, err := r.client.Get(ctx, schemaKey).Result()
	if err == redis.Nil {
		return r.client.Set(ctx, schemaKey, currentSchemaVersion, 0).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if existingVersion != currentSchemaVersion {
		return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
	}
	return nil
}

func (r *RedisCache) snapshotKey(key epochcache.SnapshotKey) string {
	return r.prefixKey(keyPrefixSnapshot + key.String())
}

// PutSnapshot caches a sealed snapshot. Snapshots are stored without
// expiry; sealed epochs never change, and operators invalidate
// explicitly on reseal.
func (r *RedisCache) PutSnapshot(ctx context.Context, snap *types.SealedSnapshot) error {
	if snap == nil {
		return fmt.Errorf("cannot cache nil SealedSnapshot")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return fmt.Errorf("cache is closed")
	}

	data, err := epochcache.MarshalSnapshot(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal SealedSnapshot: %w", err)
	}

	key := r.snapshotKey(epochcache.KeyFor(snap))
	if err := r.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store snapshot %s: %w", key, err)
	}
	return nil
}

// GetSnapshot retrieves a cached snapshot.
func (r *RedisCache) GetSnapshot(ctx context.Context, key epochcache.SnapshotKey) (*types.SealedSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, fmt.Errorf("cache is closed")
	}

	data, err := r.client.Get(ctx, r.snapshotKey(key)).Bytes()
	if err == redis.Nil {
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
func (r *RedisCache) InvalidateSnapshot(ctx context.Context, key epochcache.SnapshotKey) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return fmt.Errorf("cache is closed")
	}

	if err := r.client.Del(ctx, r.snapshotKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate snapshot %s: %w", key, err)
	}
	return nil
}

// Close shuts down the cache
func (r *RedisCache) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil // Already closed, idempotent
	}
	r.closed = true

	if err := r.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}

	r.logger.Sugar().Info("Redis snapshot cache closed")
	return nil
}

// HealthCheck verifies the cache is operational
func (r *RedisCache) HealthCheck(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return fmt.Errorf("cache is closed")
	}

	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}
