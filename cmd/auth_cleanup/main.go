package main

import (
	"context"
	"crypto/rand"
	"log/slog"
	"os"
	"time"

	"marketplace/internal/config"
	"marketplace/internal/database"
	"marketplace/internal/logging"
	"marketplace/internal/modules/maintenance"
	"marketplace/internal/modules/otp"
	"marketplace/internal/modules/refresh"
	"marketplace/internal/repository"
)

// One-shot sweep of expired refresh tokens and codes, for cron.
func main() {
	if err := run(); err != nil {
		slog.Error("auth cleanup failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logging.New(os.Stdout, cfg.AppEnv, cfg.LogLevel)
	slog.SetDefault(log)

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return err
	}

	vault, err := otp.NewVault(repository.NewEmailOtpRepository(db), nil, rand.Reader, otp.WithLogger(log))
	if err != nil {
		return err
	}
	ledger := refresh.NewLedger(
		repository.NewRefreshTokenRepository(db),
		cfg.RefreshTokenPepper,
		cfg.RefreshTTL,
		refresh.WithLogger(log),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	_, err = maintenance.NewSweeper(ledger, vault, log).Run(ctx)
	return err
}
