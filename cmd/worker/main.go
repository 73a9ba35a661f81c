// cmd/worker consumes job notifications, claims jobs against the ledger,
// runs the document operations and finalizes results. It also runs the
// lease sweeper that recovers jobs from crashed workers.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/CoderFake/document-processing-system/internal/app"
	"github.com/CoderFake/document-processing-system/internal/config"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		fatal(logger, "load config", err)
	}
	logger.Info("worker starting",
		"nats_url", cfg.NATSURL,
		"concurrency", cfg.Concurrency,
		"max_attempts", cfg.MaxAttempts,
		"exec_timeout", cfg.ExecTimeout,
		"lease_duration", cfg.LeaseDuration,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		fatal(logger, "build application", err)
	}
	defer a.Close()

	go a.Coordinator.RunSweeper(ctx, cfg.SweepInterval)

	if err := a.Coordinator.Run(ctx); err != nil {
		fatal(logger, "run worker", err)
	}
	logger.Info("worker stopped")
}

func fatal(logger *slog.Logger, msg string, err error, attrs ...any) {
	logger.Error(msg, append(attrs, "err", err)...)
	os.Exit(1)
}
