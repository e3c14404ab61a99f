package tests

import (
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/twzrd/attention-oracle-go/pkg/chainreader"
	"github.com/twzrd/attention-oracle-go/pkg/clients/oracle"
	"github.com/twzrd/attention-oracle-go/pkg/distributor"
	"github.com/twzrd/attention-oracle-go/pkg/epochcache"
	"github.com/twzrd/attention-oracle-go/pkg/epochcache/memory"
	"github.com/twzrd/attention-oracle-go/pkg/epochstore"
	"github.com/twzrd/attention-oracle-go/pkg/logger"
	"github.com/twzrd/attention-oracle-go/pkg/rpcpool"
	"github.com/twzrd/attention-oracle-go/pkg/testutil"
	"github.com/twzrd/attention-oracle-go/pkg/types"
	"github.com/twzrd/attention-oracle-go/pkg/util"
)

// Options configures a full-stack oracle harness. Zero value gives an
// in-memory cache and a single mock RPC endpoint.
type Options struct {
	Cache     epochcache.ISnapshotCache
	Endpoints []string
}

// OracleHarness runs the whole serving stack for integration tests:
// sqlite-backed sealed store, snapshot cache, endpoint pool, the HTTP
// server, and a typed client pointed at it.
type OracleHarness struct {
	URL    string
	Client *oracle.Client
	RPC    *testutil.MockRPCServer
	DB     *gorm.DB
	Cache  epochcache.ISnapshotCache
	Logger *zap.Logger
}

// StartOracle assembles the stack and tears it down on test cleanup.
func StartOracle(t *testing.T, opts Options) *OracleHarness {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	require.NoError(t, err)

	db, err := epochstore.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, err := db.DB()
		require.NoError(t, err)
		_ = sqlDB.Close()
	})
	require.NoError(t, db.Exec(
		"CREATE TABLE sealed_epochs (channel TEXT NOT NULL, epoch INTEGER NOT NULL, root TEXT NOT NULL, "+
			"token_group TEXT NOT NULL DEFAULT '', category TEXT NOT NULL DEFAULT '')").Error)
	require.NoError(t, db.Exec(
		"CREATE TABLE sealed_participants (channel TEXT NOT NULL, epoch INTEGER NOT NULL, idx INTEGER NOT NULL, "+
			"user_hash TEXT NOT NULL, token_group TEXT NOT NULL DEFAULT '', category TEXT NOT NULL DEFAULT '')").Error)

	var rpcSrv *testutil.MockRPCServer
	endpoints := opts.Endpoints
	if len(endpoints) == 0 {
		rpcSrv = testutil.NewMockRPCServer(t)
		endpoints = []string{rpcSrv.URL()}
	}

	pool, err := rpcpool.NewPool(endpoints, rpcpool.Options{
		Cooldown:       time.Minute,
		RequestTimeout: 2 * time.Second,
	}, l)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	cache := opts.Cache
	if cache == nil {
		cache = memory.NewMemoryCache()
	}

	attempts := len(endpoints)
	if attempts < 2 {
		attempts = 2
	}
	dist, err := distributor.New(distributor.Options{
		Store:  epochstore.NewStore(db, l, nil),
		Cache:  cache,
		Pool:   pool,
		Reader: chainreader.NewReader(pool, l, attempts),
		Logger: l,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(distributor.NewServer(dist, 0).GetHandler())
	t.Cleanup(srv.Close)

	client, err := oracle.NewClient(&oracle.ClientConfig{
		BaseURL: srv.URL,
		Logger:  l,
		Retry: &oracle.RetryConfig{
			MaxAttempts:     2,
			InitialBackoff:  time.Millisecond,
			MaxBackoff:      5 * time.Millisecond,
			BackoffMultiple: 2.0,
		},
	})
	require.NoError(t, err)

	return &OracleHarness{
		URL:    srv.URL,
		Client: client,
		RPC:    rpcSrv,
		DB:     db,
		Cache:  cache,
		Logger: l,
	}
}

// Seed inserts a sealed snapshot into the harness store the way the
// sealing pipeline would have written it.
func (h *OracleHarness) Seed(t *testing.T, snap *types.SealedSnapshot) {
	require.NoError(t, h.DB.Exec(
		"INSERT INTO sealed_epochs (channel, epoch, root, token_group, category) VALUES (?, ?, ?, ?, ?)",
		snap.Channel, snap.Epoch, util.EncodeHash32(snap.Root), snap.TokenGroup, snap.Category,
	).Error)
	for _, p := range snap.Participants {
		require.NoError(t, h.DB.Exec(
			"INSERT INTO sealed_participants (channel, epoch, idx, user_hash, token_group, category) VALUES (?, ?, ?, ?, ?, ?)",
			snap.Channel, snap.Epoch, p.Index, util.EncodeHash32(p.UserHash), snap.TokenGroup, snap.Category,
		).Error)
	}
}

// Unseed removes every sealed row, simulating a store outage or retention
// purge after the cache has been warmed.
func (h *OracleHarness) Unseed(t *testing.T) {
	require.NoError(t, h.DB.Exec("DELETE FROM sealed_epochs").Error)
	require.NoError(t, h.DB.Exec("DELETE FROM sealed_participants").Error)
}
