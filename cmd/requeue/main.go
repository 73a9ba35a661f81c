// cmd/requeue is the operator tool for stuck jobs: it re-announces a
// single queued job, or performs one recovery sweep returning expired
// claims to the queue and re-publishing queued jobs whose notification
// was lost.
//
// Usage:
//
//	requeue -job 6f1c...            # re-announce one queued job
//	requeue -sweep                  # one recovery pass over the ledger
//	requeue -sweep -dry-run         # report what would be recovered
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/CoderFake/document-processing-system/internal/app"
	"github.com/CoderFake/document-processing-system/internal/config"
	"github.com/CoderFake/document-processing-system/internal/job"
	"github.com/CoderFake/document-processing-system/internal/queue"
	"github.com/CoderFake/document-processing-system/pkg/schema"
)

func main() {
	_ = godotenv.Load()

	jobID := flag.String("job", "", "id of a queued job to re-announce")
	sweep := flag.Bool("sweep", false, "reclaim expired claims and re-publish stale queued jobs")
	dryRun := flag.Bool("dry-run", false, "report without publishing or mutating the ledger")
	olderThan := flag.Duration("older-than", 0, "staleness cutoff for -sweep (default: configured lease duration)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if *jobID == "" && !*sweep {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fatal(logger, "load config", err)
	}
	if cfg.DatabaseURL == "" {
		fatal(logger, "requeue needs the shared ledger", os.ErrInvalid, "hint", "set DATABASE_URL")
	}

	ctx := context.Background()
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		fatal(logger, "build application", err)
	}
	defer a.Close()

	if *jobID != "" {
		reannounceOne(ctx, a, *jobID, *dryRun, logger)
	}
	if *sweep {
		cutoffAge := cfg.LeaseDuration
		if *olderThan > 0 {
			cutoffAge = *olderThan
		}
		sweepOnce(ctx, a, cutoffAge, *dryRun, logger)
	}
}

func reannounceOne(ctx context.Context, a *app.App, id string, dryRun bool, logger *slog.Logger) {
	j, err := a.Ledger.Get(ctx, id)
	if err != nil {
		fatal(logger, "load job", err, "job_id", id)
	}
	if j.Status != job.StatusQueued {
		fatal(logger, "job is not queued", os.ErrInvalid, "job_id", id, "status", j.Status)
	}
	if dryRun {
		logger.Info("would re-announce", "job_id", j.ID, "operation", j.Operation)
		return
	}
	if err := publish(ctx, a, j); err != nil {
		fatal(logger, "re-announce", err, "job_id", id)
	}
	logger.Info("re-announced", "job_id", j.ID, "operation", j.Operation)
}

func sweepOnce(ctx context.Context, a *app.App, cutoffAge time.Duration, dryRun bool, logger *slog.Logger) {
	cutoff := time.Now().Add(-cutoffAge)

	if dryRun {
		stale, err := a.Ledger.StaleQueued(ctx, cutoff)
		if err != nil {
			fatal(logger, "list stale queued jobs", err)
		}
		for _, id := range stale {
			logger.Info("would re-announce stale queued job", "job_id", id)
		}
		logger.Info("dry run complete", "stale_queued", len(stale),
			"note", "expired claims are only listed by a real sweep")
		return
	}

	reclaimed, err := a.Ledger.ReclaimExpired(ctx, cutoff)
	if err != nil {
		fatal(logger, "reclaim expired claims", err)
	}
	for _, id := range reclaimed {
		logger.Info("reclaimed expired claim", "job_id", id)
		announceByID(ctx, a, id, logger)
	}

	stale, err := a.Ledger.StaleQueued(ctx, cutoff)
	if err != nil {
		fatal(logger, "list stale queued jobs", err)
	}
	for _, id := range stale {
		logger.Info("re-announcing stale queued job", "job_id", id)
		announceByID(ctx, a, id, logger)
	}
	logger.Info("sweep complete", "reclaimed", len(reclaimed), "re_announced", len(stale))
}

func announceByID(ctx context.Context, a *app.App, id string, logger *slog.Logger) {
	j, err := a.Ledger.Get(ctx, id)
	if err != nil {
		logger.Error("load job failed", "job_id", id, "err", err)
		return
	}
	if err := publish(ctx, a, j); err != nil {
		logger.Error("publish failed", "job_id", id, "err", err)
	}
}

func publish(ctx context.Context, a *app.App, j *job.Job) error {
	return a.Transport.Publish(ctx, queue.Category(j.Operation), schema.JobEnqueued{
		JobID:      j.ID,
		Operation:  j.Operation,
		HappenedAt: time.Now().UnixMilli(),
	})
}

func fatal(logger *slog.Logger, msg string, err error, attrs ...any) {
	logger.Error(msg, append(attrs, "err", err)...)
	os.Exit(1)
}
