// Package app wires configuration into concrete backends: Postgres or
// in-memory ledger, MinIO or in-memory artifact store, JetStream or
// in-process transport. Both binaries share this assembly so a single
// process can run the API and the worker against the same stack.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CoderFake/document-processing-system/internal/artifact"
	"github.com/CoderFake/document-processing-system/internal/config"
	"github.com/CoderFake/document-processing-system/internal/coordinator"
	"github.com/CoderFake/document-processing-system/internal/ledger"
	"github.com/CoderFake/document-processing-system/internal/operation"
	"github.com/CoderFake/document-processing-system/internal/ops"
	"github.com/CoderFake/document-processing-system/internal/queue"
)

type App struct {
	Config      config.Config
	Ledger      ledger.Ledger
	Store       artifact.Store
	Transport   queue.Transport
	Registry    *operation.Registry
	Coordinator *coordinator.Coordinator
	Logger      *slog.Logger

	pool *pgxpool.Pool
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	tc, err := ops.LoadToolchain(cfg.ToolsConfig)
	if err != nil {
		return nil, fmt.Errorf("load toolchain config: %w", err)
	}
	registry, err := operation.NewRegistry(ops.All(tc)...)
	if err != nil {
		return nil, fmt.Errorf("build operation registry: %w", err)
	}

	a := &App{Config: cfg, Registry: registry, Logger: logger}

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		pg := ledger.NewPostgres(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ensure ledger schema: %w", err)
		}
		a.pool = pool
		a.Ledger = pg
		logger.Info("using postgres ledger")
	} else {
		a.Ledger = ledger.NewMemory()
		logger.Warn("DATABASE_URL not set, using in-memory ledger")
	}

	if cfg.Minio.Endpoint != "" {
		store, err := artifact.NewMinioStore(ctx, cfg.Minio)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to minio: %w", err)
		}
		a.Store = store
		logger.Info("using minio artifact store", "endpoint", cfg.Minio.Endpoint, "bucket", cfg.Minio.Bucket)
	} else {
		a.Store = artifact.NewMemoryStore()
		logger.Warn("MINIO_ENDPOINT not set, using in-memory artifact store")
	}

	var events queue.EventSink
	if cfg.NATSURL != "" {
		transport, err := queue.ConnectNATS(cfg.NATSURL, cfg.NATSAckWait)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to nats: %w", err)
		}
		a.Transport = transport
		events = transport
		logger.Info("using jetstream transport", "nats_url", cfg.NATSURL)
	} else {
		mem := queue.NewMemory()
		a.Transport = mem
		events = mem
		logger.Warn("NATS_URL not set, using in-process transport")
	}

	a.Coordinator = coordinator.New(a.Ledger, a.Store, a.Transport, registry, events, coordinator.Config{
		MaxAttempts:    cfg.MaxAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
		LeaseDuration:  cfg.LeaseDuration,
		ExecTimeout:    cfg.ExecTimeout,
		WorkDir:        cfg.WorkDir,
		Concurrency:    cfg.Concurrency,
	}, logger)
	return a, nil
}

func (a *App) Close() {
	if a.Transport != nil {
		a.Transport.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
