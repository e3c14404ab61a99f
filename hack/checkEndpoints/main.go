package main

import (
	"context"
	"os"
	"time"

	"github.com/twzrd/attention-oracle-go/pkg/chainreader"
	"github.com/twzrd/attention-oracle-go/pkg/config"
	"github.com/twzrd/attention-oracle-go/pkg/logger"
	"github.com/twzrd/attention-oracle-go/pkg/rpcpool"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	l, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	csv := os.Getenv(config.EnvOracleRPCEndpoints)
	if csv == "" {
		l.Sugar().Fatalf("Environment variable %s is not set", config.EnvOracleRPCEndpoints)
	}
	endpoints := config.ParseEndpoints(csv)

	pool, err := rpcpool.NewPool(endpoints, rpcpool.Options{
		Cooldown:       config.DefaultRPCCooldown,
		RequestTimeout: config.DefaultRPCTimeout,
	}, l)
	if err != nil {
		l.Sugar().Fatalw("failed to create endpoint pool", "error", err)
	}
	defer pool.Close()

	// Allow the probe to walk the whole pool when endpoints are down
	reader := chainreader.NewReader(pool, l, len(endpoints))

	bh, err := reader.LatestBlockhash(ctx)
	if err != nil {
		l.Sugar().Fatalw("failed to fetch latest blockhash", "error", err)
	}
	l.Sugar().Infow("Latest blockhash",
		"blockhash", bh.Hash,
		"slot", bh.Slot,
		"lastValidBlockHeight", bh.LastValidBlockHeight,
	)

	for _, st := range pool.Status() {
		l.Sugar().Infow("Endpoint",
			"url", st.URL,
			"healthy", st.Healthy,
			"cooldownRemaining", st.CooldownRemaining,
			"consecutiveFailures", st.ConsecutiveFailures,
			"lastError", st.LastError,
		)
	}
}
