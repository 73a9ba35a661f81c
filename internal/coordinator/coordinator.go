// Package coordinator ties admission, the ledger, the queue transport and
// the operation registry into the job pipeline: Submit admits work, the
// worker loop claims and executes it, and the sweeper recovers jobs whose
// worker died mid-flight.
package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/CoderFake/document-processing-system/internal/artifact"
	"github.com/CoderFake/document-processing-system/internal/dataset"
	"github.com/CoderFake/document-processing-system/internal/job"
	"github.com/CoderFake/document-processing-system/internal/ledger"
	"github.com/CoderFake/document-processing-system/internal/operation"
	"github.com/CoderFake/document-processing-system/internal/queue"
	"github.com/CoderFake/document-processing-system/pkg/schema"
)

// Config carries the pipeline tunables. Zero values fall back to the
// defaults below.
type Config struct {
	// MaxAttempts bounds retries for transient failures; once reached the
	// job fails terminally.
	MaxAttempts int

	// RetryBaseDelay is doubled per attempt up to RetryMaxDelay before a
	// requeued job is re-announced on the transport.
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// LeaseDuration is how long a claimed or processing job may go without
	// a ledger update before the sweeper returns it to queued.
	LeaseDuration time.Duration

	// ExecTimeout bounds a single executor run.
	ExecTimeout time.Duration

	// WorkDir is the parent for per-attempt scratch directories; empty
	// means the system temp dir.
	WorkDir string

	// Concurrency is the number of consumers per queue category.
	Concurrency int
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 2 * time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = time.Minute
	}
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = 5 * time.Minute
	}
	if c.ExecTimeout <= 0 {
		c.ExecTimeout = 10 * time.Minute
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	return c
}

type Coordinator struct {
	ledger    ledger.Ledger
	store     artifact.Store
	transport queue.Transport
	registry  *operation.Registry
	events    queue.EventSink
	cfg       Config
	logger    *slog.Logger
}

func New(led ledger.Ledger, store artifact.Store, transport queue.Transport, registry *operation.Registry, events queue.EventSink, cfg Config, logger *slog.Logger) *Coordinator {
	if events == nil {
		events = queue.NopEvents{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		ledger:    led,
		store:     store,
		transport: transport,
		registry:  registry,
		events:    events,
		cfg:       cfg.withDefaults(),
		logger:    logger,
	}
}

// SubmitRequest is an admission request: a registered operation name plus
// references to already-uploaded input artifacts.
type SubmitRequest struct {
	Operation  string
	CallerID   string
	Inputs     []job.ArtifactRef
	Parameters map[string]string
}

// Submit validates the request, persists the job as queued and announces it
// on the operation's category queue. Validation failures surface as
// *job.Error and no job row is created for them.
func (c *Coordinator) Submit(ctx context.Context, req SubmitRequest) (*job.Job, error) {
	desc, ok := c.registry.Resolve(req.Operation)
	if !ok {
		return nil, job.Errf(job.KindUnknownOperation, "operation %q is not registered", req.Operation)
	}
	if err := desc.ValidateInputs(req.Inputs); err != nil {
		return nil, err
	}
	if err := c.checkDataset(ctx, req); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	j := &job.Job{
		ID:         uuid.NewString(),
		Operation:  req.Operation,
		CallerID:   req.CallerID,
		Inputs:     req.Inputs,
		Parameters: req.Parameters,
		Status:     job.StatusQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := c.ledger.Create(ctx, j); err != nil {
		return nil, err
	}

	if err := c.announce(ctx, j.ID, j.Operation); err != nil {
		// The row is durable and the sweeper re-announces stale queued
		// jobs, so admission still succeeds.
		c.logger.Warn("announce failed, sweeper will re-publish",
			"job_id", j.ID, "operation", j.Operation, "err", err)
	}
	return j, nil
}

// checkDataset rejects empty datasets at admission instead of burning an
// attempt on a job that can only produce zero outputs.
func (c *Coordinator) checkDataset(ctx context.Context, req SubmitRequest) error {
	var ref job.ArtifactRef
	found := false
	for _, in := range req.Inputs {
		if in.Role == "dataset" {
			ref, found = in, true
			break
		}
	}
	if !found {
		return nil
	}
	data, err := c.store.Get(ctx, ref.StorageID)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			return job.Errf(job.KindValidation, "dataset artifact %s does not exist", ref.StorageID)
		}
		return job.Errf(job.KindStoreUnavailable, "read dataset: %v", err)
	}
	n, err := dataset.Count(data)
	if err != nil {
		return job.Errf(job.KindValidation, "dataset is not decodable: %v", err)
	}
	if n == 0 {
		return job.Errf(job.KindValidation, "dataset has no rows")
	}
	return nil
}

// Status returns the authoritative job record.
func (c *Coordinator) Status(ctx context.Context, id string) (*job.Job, error) {
	return c.ledger.Get(ctx, id)
}

// List returns the caller's jobs, newest first.
func (c *Coordinator) List(ctx context.Context, callerID string, limit int) ([]*job.Job, error) {
	return c.ledger.ListByCaller(ctx, callerID, limit)
}

// Cancel marks a non-terminal job cancelled. A worker already executing the
// job finishes its attempt but the cancelled row rejects its result.
func (c *Coordinator) Cancel(ctx context.Context, id string) error {
	return c.ledger.Cancel(ctx, id)
}

func (c *Coordinator) announce(ctx context.Context, id, op string) error {
	return c.transport.Publish(ctx, queue.Category(op), schema.JobEnqueued{
		JobID:      id,
		Operation:  op,
		HappenedAt: time.Now().UnixMilli(),
	})
}
