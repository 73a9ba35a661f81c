// Package ledger is the durable record of job identity and status: the
// single source of truth for whether a job has run and with what result.
// Every mutation is a conditional update, so the claim/finalize protocol
// holds under concurrent workers and at-least-once redelivery.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/CoderFake/document-processing-system/internal/job"
)

var (
	ErrNotFound = errors.New("ledger: job not found")

	// ErrNotQueued is returned by Claim when the job is not in the queued
	// state, which is how redelivered notifications for an already-claimed
	// or terminal job turn into no-ops.
	ErrNotQueued = errors.New("ledger: job not queued")

	// ErrStaleClaim is returned when a finalize call presents an owner
	// token that no longer matches the row, fencing out workers whose
	// lease expired and whose job was reclaimed.
	ErrStaleClaim = errors.New("ledger: stale claim token")

	// ErrTerminal is returned when a transition is requested on a job that
	// already reached completed, failed or cancelled.
	ErrTerminal = errors.New("ledger: job already terminal")
)

// Ledger persists jobs and enforces the state machine:
//
//	queued -> claimed -> processing -> completed | failed
//	queued/claimed/processing -> cancelled
//	claimed/processing -> queued (retry or lease reclaim)
type Ledger interface {
	Create(ctx context.Context, j *job.Job) error
	Get(ctx context.Context, id string) (*job.Job, error)
	ListByCaller(ctx context.Context, callerID string, limit int) ([]*job.Job, error)

	// Claim atomically moves a queued job to claimed, stamps the owner
	// token and increments the attempt counter. Exactly one concurrent
	// claim per queued->claimed transition succeeds.
	Claim(ctx context.Context, id, token string) (*job.Job, error)

	// Begin moves a claimed job to processing; the token must match.
	Begin(ctx context.Context, id, token string) error

	// Succeed finalizes a processing job as completed, linking its result
	// references atomically. A cancelled row rejects with ErrTerminal so
	// the worker discards its output.
	Succeed(ctx context.Context, id, token string, results []job.ArtifactRef, rows []job.RowOutcome) error

	// Fail finalizes the job as failed (terminal).
	Fail(ctx context.Context, id, token string, jobErr *job.Error) error

	// Requeue returns a claimed/processing job to queued for another
	// attempt, recording the failure that caused the retry.
	Requeue(ctx context.Context, id, token string, jobErr *job.Error) error

	// Cancel marks any non-terminal job cancelled.
	Cancel(ctx context.Context, id string) error

	// ReclaimExpired returns claimed/processing jobs whose lease ran out
	// (no update since the cutoff) to queued and reports their ids.
	ReclaimExpired(ctx context.Context, cutoff time.Time) ([]string, error)

	// StaleQueued lists queued jobs untouched since the cutoff, so lost
	// enqueue notifications can be re-published.
	StaleQueued(ctx context.Context, cutoff time.Time) ([]string, error)
}
