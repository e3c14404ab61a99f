package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/twzrd/attention-oracle-go/pkg/chainreader"
	"github.com/twzrd/attention-oracle-go/pkg/config"
	"github.com/twzrd/attention-oracle-go/pkg/distributor"
	"github.com/twzrd/attention-oracle-go/pkg/epochcache"
	"github.com/twzrd/attention-oracle-go/pkg/epochcache/badger"
	"github.com/twzrd/attention-oracle-go/pkg/epochcache/memory"
	"github.com/twzrd/attention-oracle-go/pkg/epochcache/redis"
	"github.com/twzrd/attention-oracle-go/pkg/epochstore"
	"github.com/twzrd/attention-oracle-go/pkg/logger"
	"github.com/twzrd/attention-oracle-go/pkg/rpcpool"
)

const shutdownTimeout = 10 * time.Second

func main() {
	app := &cli.App{
		Name:  "oracle-server",
		Usage: "TWZRD attention oracle distribution server",
		Description: `Serves sealed epoch snapshots and Merkle membership proofs for
channel reward distributions.

This server implements:
- Sealed root and participant lookups backed by the sealer database
- Membership proof generation, verified against the sealed root before serving
- Claim status reads from chain through a health-tracked RPC endpoint pool
- Pluggable snapshot caching (memory, badger, redis)`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Value:   config.DefaultPort,
				Usage:   "HTTP server port",
				EnvVars: []string{config.EnvOraclePort},
			},
			&cli.StringFlag{
				Name:     "database-url",
				Aliases:  []string{"db"},
				Usage:    "Sealer database DSN (postgres:// or sqlite file path)",
				EnvVars:  []string{config.EnvOracleDatabaseURL},
				Required: true,
			},
			&cli.StringFlag{
				Name:     "rpc-endpoints",
				Aliases:  []string{"rpc"},
				Usage:    "Comma-separated chain RPC endpoint URLs, tried in rotation",
				EnvVars:  []string{config.EnvOracleRPCEndpoints},
				Required: true,
			},
			&cli.DurationFlag{
				Name:    "rpc-cooldown",
				Value:   config.DefaultRPCCooldown,
				Usage:   "How long a failing endpoint sits out before reuse",
				EnvVars: []string{config.EnvOracleRPCCooldown},
			},
			&cli.Float64Flag{
				Name:    "rpc-rate-limit",
				Value:   0,
				Usage:   "Outbound RPC requests per second across all endpoints (0 disables)",
				EnvVars: []string{config.EnvOracleRPCRateLimit},
			},
			&cli.DurationFlag{
				Name:    "rpc-timeout",
				Value:   config.DefaultRPCTimeout,
				Usage:   "Per-request RPC timeout",
				EnvVars: []string{config.EnvOracleRPCTimeout},
			},
			&cli.StringFlag{
				Name:    "cache-backend",
				Value:   string(config.CacheBackendMemory),
				Usage:   fmt.Sprintf("Snapshot cache backend: %s", config.SupportedCacheBackendsString()),
				EnvVars: []string{config.EnvOracleCacheBackend},
			},
			&cli.StringFlag{
				Name:    "cache-dir",
				Usage:   "Badger cache data directory",
				EnvVars: []string{config.EnvOracleCacheDir},
			},
			&cli.StringFlag{
				Name:    "redis-address",
				Usage:   "Redis cache address (host:port)",
				EnvVars: []string{config.EnvOracleRedisAddress},
			},
			&cli.StringFlag{
				Name:    "redis-password",
				Usage:   "Redis cache password",
				EnvVars: []string{config.EnvOracleRedisPassword},
			},
			&cli.IntFlag{
				Name:    "redis-db",
				Value:   0,
				Usage:   "Redis cache database number",
				EnvVars: []string{config.EnvOracleRedisDB},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Usage:   "Enable verbose logging",
				EnvVars: []string{config.EnvOracleVerbose},
			},
		},
		Action: runOracleServer,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func runOracleServer(c *cli.Context) error {
	l, err := logger.NewLogger(&logger.LoggerConfig{
		Debug: c.Bool("verbose"),
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = l.Sync() }()

	cfg, err := parseOracleConfig(c)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	db, err := epochstore.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open sealer database: %w", err)
	}
	store := epochstore.NewStore(db, l, nil)
	defer func() { _ = store.Close() }()

	cache, err := buildCache(&cfg.Cache, l)
	if err != nil {
		return fmt.Errorf("failed to build snapshot cache: %w", err)
	}
	defer func() { _ = cache.Close() }()

	pool, err := rpcpool.NewPool(cfg.Pool.Endpoints, rpcpool.Options{
		Cooldown:          cfg.Pool.Cooldown,
		RequestsPerSecond: cfg.Pool.RequestsPerSecond,
		RequestTimeout:    cfg.Pool.RequestTimeout,
	}, l)
	if err != nil {
		return fmt.Errorf("failed to build endpoint pool: %w", err)
	}
	defer pool.Close()

	dist, err := distributor.New(distributor.Options{
		Store:  store,
		Cache:  cache,
		Pool:   pool,
		Reader: chainreader.NewReader(pool, l, config.DefaultReaderAttempts),
		Logger: l,
	})
	if err != nil {
		return fmt.Errorf("failed to build distributor: %w", err)
	}

	srv := distributor.NewServer(dist, cfg.Port)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	l.Sugar().Infow("Oracle server running",
		"port", cfg.Port,
		"cache_backend", cfg.Cache.Backend,
		"rpc_endpoints", len(cfg.Pool.Endpoints),
	)
	l.Sugar().Infow("Available endpoints",
		"epoch_root", "GET /epoch/root",
		"epoch_participants", "GET /epoch/participants",
		"epoch_proof", "GET /epoch/proof",
		"proof_verify", "POST /proof/verify",
		"claim_status", "GET /claim/status",
		"health", "GET /health")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	l.Sugar().Infow("Shutting down", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		l.Sugar().Warnw("HTTP server shutdown did not finish cleanly", "error", err)
	}
	return nil
}

func parseOracleConfig(c *cli.Context) (*config.OracleServerConfig, error) {
	backend, err := config.ParseCacheBackend(c.String("cache-backend"))
	if err != nil {
		return nil, err
	}

	return &config.OracleServerConfig{
		Port:        c.Int("port"),
		DatabaseURL: c.String("database-url"),
		Pool: config.EndpointPoolConfig{
			Endpoints:         config.ParseEndpoints(c.String("rpc-endpoints")),
			Cooldown:          c.Duration("rpc-cooldown"),
			RequestsPerSecond: c.Float64("rpc-rate-limit"),
			RequestTimeout:    c.Duration("rpc-timeout"),
		},
		Cache: config.CacheConfig{
			Backend:       backend,
			Dir:           c.String("cache-dir"),
			RedisAddress:  c.String("redis-address"),
			RedisPassword: c.String("redis-password"),
			RedisDB:       c.Int("redis-db"),
		},
		Debug:   c.Bool("verbose"),
		Verbose: c.Bool("verbose"),
	}, nil
}

// buildCache constructs the configured snapshot cache backend. Sealed
// snapshots never change, so badger entries get no TTL; operators evict
// explicitly if a sealer row is ever corrected.
func buildCache(cfg *config.CacheConfig, l *zap.Logger) (epochcache.ISnapshotCache, error) {
	switch cfg.Backend {
	case config.CacheBackendMemory:
		return memory.NewMemoryCache(), nil
	case config.CacheBackendBadger:
		return badger.NewBadgerCache(cfg.Dir, 0, l)
	case config.CacheBackendRedis:
		return redis.NewRedisCache(&redis.RedisConfig{
			Address:  cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, l)
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", cfg.Backend)
	}
}
