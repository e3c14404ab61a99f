package main

import (
	"context"
	"math/bits"
	"os"
	"time"

	"github.com/twzrd/attention-oracle-go/pkg/chainreader"
	"github.com/twzrd/attention-oracle-go/pkg/chainstate"
	"github.com/twzrd/attention-oracle-go/pkg/config"
	"github.com/twzrd/attention-oracle-go/pkg/logger"
	"github.com/twzrd/attention-oracle-go/pkg/rpcpool"
	"github.com/twzrd/attention-oracle-go/pkg/util"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	l, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	csv := os.Getenv(config.EnvOracleRPCEndpoints)
	if csv == "" {
		l.Sugar().Fatalf("Environment variable %s is not set", config.EnvOracleRPCEndpoints)
	}

	account := os.Getenv("EPOCH_ACCOUNT")
	if account == "" {
		l.Sugar().Fatal("EPOCH_ACCOUNT environment variable is not set")
	}
	if _, err := util.DecodePubkey(account); err != nil {
		l.Sugar().Fatalw("invalid epoch account", "error", err)
	}

	pool, err := rpcpool.NewPool(config.ParseEndpoints(csv), rpcpool.Options{
		Cooldown:       config.DefaultRPCCooldown,
		RequestTimeout: config.DefaultRPCTimeout,
	}, l)
	if err != nil {
		l.Sugar().Fatalw("failed to create endpoint pool", "error", err)
	}
	defer pool.Close()

	reader := chainreader.NewReader(pool, l, config.DefaultReaderAttempts)

	acct, err := reader.AccountInfo(ctx, account)
	if err != nil {
		l.Sugar().Fatalw("failed to fetch account", "account", account, "error", err)
	}

	state, err := chainstate.DecodeEpochState(acct.Data)
	if err != nil {
		l.Sugar().Fatalw("failed to decode epoch state", "account", account, "error", err)
	}

	claimedBits := 0
	for _, b := range state.Bitmap {
		claimedBits += bits.OnesCount8(b)
	}

	l.Sugar().Infow("Epoch state",
		"account", account,
		"owner", acct.Owner,
		"lamports", acct.Lamports,
		"epoch", state.Epoch,
		"root", util.EncodeHash32(state.Root),
		"claimCount", state.ClaimCount,
		"mint", util.EncodePubkey(state.Mint),
		"streamer", util.EncodePubkey(state.Streamer),
		"treasury", util.EncodePubkey(state.Treasury),
		"sealedAt", time.Unix(state.Timestamp, 0).UTC(),
		"totalClaimed", state.TotalClaimed,
		"closed", state.Closed,
		"claimedBits", claimedBits,
	)
}
