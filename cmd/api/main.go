// cmd/api serves the HTTP surface: artifact upload/download, job
// submission, status and cancellation. When no NATS URL is configured it
// also runs the worker loop in-process so a single binary serves
// development runs end to end.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/CoderFake/document-processing-system/internal/app"
	"github.com/CoderFake/document-processing-system/internal/config"
	"github.com/CoderFake/document-processing-system/internal/httpapi"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		fatal(logger, "load config", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		fatal(logger, "build application", err)
	}
	defer a.Close()

	if cfg.NATSURL == "" {
		go func() {
			if err := a.Coordinator.Run(ctx); err != nil {
				logger.Error("in-process worker stopped", "err", err)
			}
		}()
		go a.Coordinator.RunSweeper(ctx, cfg.SweepInterval)
		logger.Info("running in-process worker", "concurrency", cfg.Concurrency)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewServer(a.Coordinator, a.Store, logger).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("api listening", "addr", cfg.HTTPAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fatal(logger, "http server", err)
	}
	logger.Info("api stopped")
}

func fatal(logger *slog.Logger, msg string, err error, attrs ...any) {
	logger.Error(msg, append(attrs, "err", err)...)
	os.Exit(1)
}
