package main

import (
	"os"

	"github.com/twzrd/attention-oracle-go/pkg/identity"
	"github.com/twzrd/attention-oracle-go/pkg/logger"
	"github.com/twzrd/attention-oracle-go/pkg/util"
)

func main() {
	l, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	userID := os.Getenv("USER_ID")
	userLogin := os.Getenv("USER_LOGIN")
	channel := os.Getenv("CHANNEL")

	if userID == "" && userLogin == "" && channel == "" {
		l.Sugar().Fatal("set USER_ID and/or USER_LOGIN, or CHANNEL")
	}

	if userID != "" || userLogin != "" {
		hash, err := identity.UserHash(userID, userLogin)
		if err != nil {
			l.Sugar().Fatalw("failed to derive user hash", "error", err)
		}
		l.Sugar().Infow("User hash",
			"userId", userID,
			"userLogin", userLogin,
			"hash", util.EncodeHash32(hash),
		)
	}

	if channel != "" {
		l.Sugar().Infow("Channel hash",
			"channel", channel,
			"hash", util.EncodeHash32(identity.ChannelHash(channel)),
		)
	}
}
