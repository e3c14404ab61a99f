package chainreader

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/twzrd/attention-oracle-go/pkg/logger"
	"github.com/twzrd/attention-oracle-go/pkg/rpcpool"
	"github.com/twzrd/attention-oracle-go/pkg/testutil"
)

func newTestReader(t *testing.T, attempts int, endpoints ...string) (*Reader, *rpcpool.Pool) {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	require.NoError(t, err)

	pool, err := rpcpool.NewPool(endpoints, rpcpool.Options{
		Cooldown:       time.Minute,
		RequestTimeout: 2 * time.Second,
	}, l)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return NewReader(pool, l, attempts), pool
}

func TestLatestBlockhash(t *testing.T) {
	srv := testutil.NewMockRPCServer(t)
	srv.HandleResult("getLatestBlockhash", map[string]any{
		"context": map[string]any{"slot": 431},
		"value": map[string]any{
			"blockhash":            "9s3ZS1PhnTDShBbnPVkAtBgvChRBFzyVYaQW8CjHDEvc",
			"lastValidBlockHeight": 8942,
		},
	})

	r, _ := newTestReader(t, 1, srv.URL())

	bh, err := r.LatestBlockhash(context.Background())
	require.NoError(t, err)
	require.Equal(t, "9s3ZS1PhnTDShBbnPVkAtBgvChRBFzyVYaQW8CjHDEvc", bh.Hash)
	require.Equal(t, uint64(8942), bh.LastValidBlockHeight)
	require.Equal(t, uint64(431), bh.Slot)
}

func TestAccountInfo(t *testing.T) {
	raw := []byte("account-body-bytes-for-decode-check")
	const pubkey = "4Nd1mY5a9St1cU5VnLJ8wGB6KvK9Nr3XrkFZ9CfAfyyz"

	srv := testutil.NewMockRPCServer(t)
	srv.Handle("getAccountInfo", func(params []json.RawMessage) (any, *testutil.RPCError) {
		var gotKey string
		if err := json.Unmarshal(params[0], &gotKey); err != nil || gotKey != pubkey {
			return nil, &testutil.RPCError{Code: -32602, Message: "unexpected pubkey param"}
		}
		var opts map[string]string
		if err := json.Unmarshal(params[1], &opts); err != nil || opts["encoding"] != "base64" {
			return nil, &testutil.RPCError{Code: -32602, Message: "unexpected encoding param"}
		}
		return map[string]any{
			"context": map[string]any{"slot": 10},
			"value": map[string]any{
				"data":       []string{base64.StdEncoding.EncodeToString(raw), "base64"},
				"executable": false,
				"lamports":   1_461_600,
				"owner":      "TWZRDdstr1111111111111111111111111111111111",
			},
		}, nil
	})

	r, _ := newTestReader(t, 1, srv.URL())

	acct, err := r.AccountInfo(context.Background(), pubkey)
	require.NoError(t, err)
	require.Equal(t, raw, acct.Data)
	require.Equal(t, uint64(1_461_600), acct.Lamports)
	require.Equal(t, "TWZRDdstr1111111111111111111111111111111111", acct.Owner)
	require.False(t, acct.Executable)
}

func TestAccountInfoNotFound(t *testing.T) {
	srv := testutil.NewMockRPCServer(t)
	srv.HandleResult("getAccountInfo", map[string]any{
		"context": map[string]any{"slot": 10},
		"value":   nil,
	})

	r, _ := newTestReader(t, 1, srv.URL())

	_, err := r.AccountInfo(context.Background(), "missing")
	require.ErrorIs(t, err, ErrAccountNotFound)
}

func TestBalance(t *testing.T) {
	srv := testutil.NewMockRPCServer(t)
	srv.HandleResult("getBalance", map[string]any{
		"context": map[string]any{"slot": 77},
		"value":   5_000_000,
	})

	r, _ := newTestReader(t, 1, srv.URL())

	balance, err := r.Balance(context.Background(), "anyWallet")
	require.NoError(t, err)
	require.Equal(t, uint64(5_000_000), balance)
}

func TestInfrastructureFailureRotatesEndpoint(t *testing.T) {
	bad := testutil.NewFailingHTTPServer(t, http.StatusServiceUnavailable)
	good := testutil.NewMockRPCServer(t)
	good.HandleResult("getBalance", map[string]any{
		"context": map[string]any{"slot": 1},
		"value":   42,
	})

	// The failing endpoint is first in rotation.
	r, pool := newTestReader(t, 2, bad.URL, good.URL())

	balance, err := r.Balance(context.Background(), "wallet")
	require.NoError(t, err)
	require.Equal(t, uint64(42), balance)
	require.Equal(t, 1, good.Calls("getBalance"))

	status := pool.Status()
	require.False(t, status[0].Healthy)
	require.True(t, status[1].Healthy)
}

func TestApplicationErrorNotRetried(t *testing.T) {
	srv := testutil.NewMockRPCServer(t)
	srv.Handle("getBalance", func([]json.RawMessage) (any, *testutil.RPCError) {
		return nil, &testutil.RPCError{Code: 3, Message: "custom program error: 0x3"}
	})

	r, pool := newTestReader(t, 3, srv.URL())

	_, err := r.Balance(context.Background(), "wallet")
	require.Error(t, err)
	require.Contains(t, err.Error(), "custom program error")
	require.Equal(t, 1, srv.Calls("getBalance"))
	require.True(t, pool.Status()[0].Healthy)
}

func TestAllAttemptsExhausted(t *testing.T) {
	bad1 := testutil.NewFailingHTTPServer(t, http.StatusBadGateway)
	bad2 := testutil.NewFailingHTTPServer(t, http.StatusServiceUnavailable)

	r, _ := newTestReader(t, 2, bad1.URL, bad2.URL)

	_, err := r.Balance(context.Background(), "wallet")
	require.Error(t, err)
	require.Contains(t, err.Error(), "after 2 attempts")
}
