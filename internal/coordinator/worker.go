package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/CoderFake/document-processing-system/internal/artifact"
	"github.com/CoderFake/document-processing-system/internal/job"
	"github.com/CoderFake/document-processing-system/internal/ledger"
	"github.com/CoderFake/document-processing-system/internal/operation"
	"github.com/CoderFake/document-processing-system/pkg/schema"
)

// Run subscribes a consumer pool to every category the registry serves and
// blocks until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	var stops []func() error
	for _, category := range c.registry.Categories() {
		stop, err := c.transport.Subscribe(category, c.cfg.Concurrency, c.HandleNotification)
		if err != nil {
			for _, s := range stops {
				_ = s()
			}
			return fmt.Errorf("subscribe %s: %w", category, err)
		}
		c.logger.Info("consuming", "category", category, "workers", c.cfg.Concurrency)
		stops = append(stops, stop)
	}

	<-ctx.Done()
	for _, stop := range stops {
		if err := stop(); err != nil {
			c.logger.Warn("unsubscribe failed", "err", err)
		}
	}
	return nil
}

// HandleNotification processes one delivery. Redeliveries are harmless: the
// claim transition admits exactly one worker per attempt and anything else
// drops the message. A non-nil return means the notification could not even
// be checked against the ledger and should be redelivered.
func (c *Coordinator) HandleNotification(ctx context.Context, note schema.JobEnqueued) error {
	j, err := c.ledger.Get(ctx, note.JobID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			c.logger.Warn("notification for unknown job dropped", "job_id", note.JobID)
			return nil
		}
		return fmt.Errorf("load job %s: %w", note.JobID, err)
	}
	if j.Status != job.StatusQueued {
		// Duplicate or stale delivery.
		return nil
	}

	token := uuid.NewString()
	j, err = c.ledger.Claim(ctx, note.JobID, token)
	if err != nil {
		if errors.Is(err, ledger.ErrNotQueued) || errors.Is(err, ledger.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("claim job %s: %w", note.JobID, err)
	}
	log := c.logger.With("job_id", j.ID, "operation", j.Operation, "attempt", j.AttemptCount)

	desc, ok := c.registry.Resolve(j.Operation)
	if !ok {
		// Registered set changed between admission and execution.
		c.finalize(log, j, token, nil, nil,
			job.Errf(job.KindUnknownOperation, "operation %q is not registered on this worker", j.Operation),
			time.Now())
		return nil
	}

	if err := c.ledger.Begin(ctx, j.ID, token); err != nil {
		log.Warn("begin rejected, leaving job to the sweeper", "err", err)
		return nil
	}

	started := time.Now()
	refs, rows, execErr := c.executeAttempt(ctx, j, desc)
	c.finalize(log, j, token, refs, rows, execErr, started)
	return nil
}

// executeAttempt materializes inputs into a scratch directory, runs the
// executor under the attempt timeout and uploads its outputs in order.
func (c *Coordinator) executeAttempt(ctx context.Context, j *job.Job, desc operation.Descriptor) ([]job.ArtifactRef, []job.RowOutcome, error) {
	dir, err := os.MkdirTemp(c.cfg.WorkDir, "attempt-"+j.ID+"-")
	if err != nil {
		return nil, nil, job.Errf(job.KindExecutorCrash, "create scratch dir: %v", err)
	}
	defer os.RemoveAll(dir)

	inputs := make([]operation.Input, 0, len(j.Inputs))
	for _, ref := range j.Inputs {
		path, err := artifact.Materialize(ctx, c.store, ref, dir)
		if err != nil {
			if errors.Is(err, artifact.ErrNotFound) {
				return nil, nil, job.Errf(job.KindValidation, "input artifact %s does not exist", ref.StorageID)
			}
			return nil, nil, job.Errf(job.KindStoreUnavailable, "materialize %s: %v", ref.StorageID, err)
		}
		inputs = append(inputs, operation.Input{Ref: ref, Path: path})
	}

	execCtx, cancel := context.WithTimeout(ctx, c.cfg.ExecTimeout)
	defer cancel()
	res, err := runExecutor(execCtx, desc.Executor, operation.Request{
		JobID:      j.ID,
		Inputs:     inputs,
		Parameters: j.Parameters,
		WorkDir:    dir,
	})
	if err != nil {
		return nil, nil, err
	}

	refs := make([]job.ArtifactRef, 0, len(res.Outputs))
	for _, out := range res.Outputs {
		data, err := os.ReadFile(out.Path)
		if err != nil {
			return nil, nil, job.Errf(job.KindExecutorCrash, "read output %s: %v", out.Path, err)
		}
		ref, err := c.store.Put(ctx, data)
		if err != nil {
			return nil, nil, job.Errf(job.KindStoreUnavailable, "store output: %v", err)
		}
		ref.Role = out.Role
		refs = append(refs, ref)
	}
	return refs, res.RowOutcomes, nil
}

// runExecutor isolates executor panics so a buggy operation fails one
// attempt instead of the whole consumer.
func runExecutor(ctx context.Context, exec operation.Executor, req operation.Request) (res operation.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = job.Errf(job.KindExecutorCrash, "executor panicked: %v", r)
		}
	}()
	return exec.Execute(ctx, req)
}

// finalize records the attempt outcome. Transient failures go back to the
// queue with backoff until attempts run out; everything else is
// terminal. Fencing errors mean another worker or a cancel won the row, so
// the result is discarded.
func (c *Coordinator) finalize(log *slog.Logger, j *job.Job, token string, refs []job.ArtifactRef, rows []job.RowOutcome, execErr error, started time.Time) {
	ctx := context.Background()
	elapsed := time.Since(started)

	if execErr == nil {
		switch err := c.ledger.Succeed(ctx, j.ID, token, refs, rows); {
		case err == nil:
			log.Info("job completed", "outputs", len(refs), "elapsed", elapsed)
			c.publishDone(ctx, j, job.StatusCompleted, refs, nil, elapsed)
		case errors.Is(err, ledger.ErrTerminal):
			log.Info("job finished elsewhere, discarding result")
		case errors.Is(err, ledger.ErrStaleClaim):
			log.Warn("claim lost before finalize, discarding result")
		default:
			log.Error("record success failed", "err", err)
		}
		return
	}

	jerr := job.Classify(execErr)
	if jerr.Kind.Retryable() && j.AttemptCount < c.cfg.MaxAttempts {
		switch err := c.ledger.Requeue(ctx, j.ID, token, jerr); {
		case err == nil:
			delay := c.backoff(j.AttemptCount)
			log.Warn("attempt failed, requeued", "kind", jerr.Kind, "detail", jerr.Detail, "retry_in", delay)
			c.republishAfter(j.ID, j.Operation, delay)
		case errors.Is(err, ledger.ErrTerminal), errors.Is(err, ledger.ErrStaleClaim):
			log.Warn("requeue rejected, dropping attempt", "err", err)
		default:
			log.Error("requeue failed", "err", err)
		}
		return
	}

	switch err := c.ledger.Fail(ctx, j.ID, token, jerr); {
	case err == nil:
		log.Error("job failed", "kind", jerr.Kind, "detail", jerr.Detail, "attempts", j.AttemptCount)
		c.publishDone(ctx, j, job.StatusFailed, nil, jerr, elapsed)
	case errors.Is(err, ledger.ErrTerminal), errors.Is(err, ledger.ErrStaleClaim):
		log.Warn("fail rejected, job already settled", "err", err)
	default:
		log.Error("record failure failed", "err", err)
	}
}

// backoff doubles the base delay per completed attempt, capped.
func (c *Coordinator) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := c.cfg.RetryBaseDelay << (attempt - 1)
	if d <= 0 || d > c.cfg.RetryMaxDelay {
		return c.cfg.RetryMaxDelay
	}
	return d
}

// republishAfter re-announces a requeued job once its backoff elapses. If
// the process dies first, the sweeper's stale-queued pass covers the gap.
func (c *Coordinator) republishAfter(id, op string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		if err := c.announce(context.Background(), id, op); err != nil {
			c.logger.Warn("re-announce failed, sweeper will retry", "job_id", id, "err", err)
		}
	})
}

func (c *Coordinator) publishDone(ctx context.Context, j *job.Job, status job.Status, refs []job.ArtifactRef, jerr *job.Error, elapsed time.Duration) {
	evt := schema.JobDone{
		JobID:            j.ID,
		Operation:        j.Operation,
		Status:           string(status),
		AttemptCount:     j.AttemptCount,
		ProcessingTimeMs: elapsed.Milliseconds(),
		HappenedAt:       time.Now().UnixMilli(),
	}
	for _, r := range refs {
		evt.Results = append(evt.Results, schema.ResultRef{
			StorageID:   r.StorageID,
			ContentHash: r.ContentHash,
			Size:        r.Size,
			Role:        r.Role,
		})
	}
	if jerr != nil {
		evt.Error = jerr.Detail
		evt.ErrorKind = string(jerr.Kind)
		evt.FailureType = jerr.Kind.FailureType()
	}
	if err := c.events.PublishDone(ctx, evt); err != nil {
		c.logger.Warn("publish result event failed", "job_id", j.ID, "err", err)
	}
}
