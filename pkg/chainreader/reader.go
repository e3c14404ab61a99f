package chainreader

import (
	"context"
	"encoding/base64"

	"github.com/pkg/errors"
	"github.com/twzrd/attention-oracle-go/pkg/rpcpool"
	"go.uber.org/zap"
)

// DefaultAttempts bounds how many endpoints a single read tries before
// giving up. Only infrastructure failures trigger a retry; application
// errors surface immediately.
const DefaultAttempts = 2

// ErrAccountNotFound is returned when the node reports no account at the
// requested address.
var ErrAccountNotFound = errors.New("chainreader: account not found")

// Blockhash is a recent blockhash with its validity horizon.
type Blockhash struct {
	Hash                 string
	LastValidBlockHeight uint64
	Slot                 uint64
}

// Account is a decoded on-chain account.
type Account struct {
	Data       []byte
	Lamports   uint64
	Owner      string
	Executable bool
}

// Reader issues read-only JSON-RPC calls through the endpoint pool,
// reporting outcomes back so unhealthy endpoints rotate out.
type Reader struct {
	pool     *rpcpool.Pool
	logger   *zap.Logger
	attempts int
}

func NewReader(pool *rpcpool.Pool, logger *zap.Logger, attempts int) *Reader {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	return &Reader{
		pool:     pool,
		logger:   logger,
		attempts: attempts,
	}
}

// LatestBlockhash fetches the most recent blockhash.
func (r *Reader) LatestBlockhash(ctx context.Context) (*Blockhash, error) {
	var res struct {
		Context rpcCallContext `json:"context"`
		Value   struct {
			Blockhash            string `json:"blockhash"`
			LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
		} `json:"value"`
	}
	if err := r.call(ctx, &res, "getLatestBlockhash"); err != nil {
		return nil, err
	}
	return &Blockhash{
		Hash:                 res.Value.Blockhash,
		LastValidBlockHeight: res.Value.LastValidBlockHeight,
		Slot:                 res.Context.Slot,
	}, nil
}

// AccountInfo fetches and base64-decodes the account at pubkey.
func (r *Reader) AccountInfo(ctx context.Context, pubkey string) (*Account, error) {
	var res struct {
		Context rpcCallContext `json:"context"`
		Value   *struct {
			Data       [2]string `json:"data"`
			Executable bool      `json:"executable"`
			Lamports   uint64    `json:"lamports"`
			Owner      string    `json:"owner"`
		} `json:"value"`
	}
	if err := r.call(ctx, &res, "getAccountInfo", pubkey, accountEncoding); err != nil {
		return nil, err
	}
	if res.Value == nil {
		return nil, errors.Wrapf(ErrAccountNotFound, "account %s", pubkey)
	}

	data, err := base64.StdEncoding.DecodeString(res.Value.Data[0])
	if err != nil {
		return nil, errors.Wrapf(err, "decoding data for account %s", pubkey)
	}
	return &Account{
		Data:       data,
		Lamports:   res.Value.Lamports,
		Owner:      res.Value.Owner,
		Executable: res.Value.Executable,
	}, nil
}

// Balance fetches the lamport balance of pubkey.
func (r *Reader) Balance(ctx context.Context, pubkey string) (uint64, error) {
	var res struct {
		Context rpcCallContext `json:"context"`
		Value   uint64         `json:"value"`
	}
	if err := r.call(ctx, &res, "getBalance", pubkey); err != nil {
		return 0, err
	}
	return res.Value, nil
}

type rpcCallContext struct {
	Slot uint64 `json:"slot"`
}

var accountEncoding = map[string]string{"encoding": "base64"}

// call runs one JSON-RPC request, rotating to the next endpoint when the
// failure is infrastructural. Each attempt gets its own timeout derived
// from the pool's request timeout.
func (r *Reader) call(ctx context.Context, result any, method string, args ...any) error {
	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		conn, err := r.pool.GetConnection(ctx)
		if err != nil {
			return err
		}

		callCtx, cancel := context.WithTimeout(ctx, r.pool.RequestTimeout())
		err = conn.Client.CallContext(callCtx, result, method, args...)
		cancel()

		if err == nil {
			r.pool.ReportSuccess(conn)
			return nil
		}

		class := r.pool.ReportFailure(conn, err)
		if class != rpcpool.FailureInfrastructure {
			return err
		}
		lastErr = err
		r.logger.Sugar().Warnw("endpoint failed, rotating",
			"method", method,
			"endpoint", conn.URL,
			"attempt", attempt,
			"error", err,
		)
	}
	return errors.Wrapf(lastErr, "%s failed after %d attempts", method, r.attempts)
}
