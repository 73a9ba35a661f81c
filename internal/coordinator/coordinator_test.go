package coordinator

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/CoderFake/document-processing-system/internal/artifact"
	"github.com/CoderFake/document-processing-system/internal/job"
	"github.com/CoderFake/document-processing-system/internal/ledger"
	"github.com/CoderFake/document-processing-system/internal/operation"
	"github.com/CoderFake/document-processing-system/internal/queue"
	"github.com/CoderFake/document-processing-system/pkg/schema"
)

type pipeline struct {
	coord *Coordinator
	led   *ledger.Memory
	store *artifact.MemoryStore
	bus   *queue.Memory
}

func newPipeline(t *testing.T, cfg Config, descs ...operation.Descriptor) *pipeline {
	t.Helper()
	reg, err := operation.NewRegistry(descs...)
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	led := ledger.NewMemory()
	store := artifact.NewMemoryStore()
	bus := queue.NewMemory()
	t.Cleanup(bus.Close)
	if cfg.WorkDir == "" {
		cfg.WorkDir = t.TempDir()
	}
	if cfg.ExecTimeout == 0 {
		cfg.ExecTimeout = 5 * time.Second
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &pipeline{
		coord: New(led, store, bus, reg, bus, cfg, logger),
		led:   led,
		store: store,
		bus:   bus,
	}
}

func (p *pipeline) put(t *testing.T, role string, data []byte) job.ArtifactRef {
	t.Helper()
	ref, err := p.store.Put(context.Background(), data)
	if err != nil {
		t.Fatalf("store input: %v", err)
	}
	ref.Role = role
	return ref
}

func (p *pipeline) deliver(t *testing.T, j *job.Job) {
	t.Helper()
	err := p.coord.HandleNotification(context.Background(), schema.JobEnqueued{
		JobID:     j.ID,
		Operation: j.Operation,
	})
	if err != nil {
		t.Fatalf("handle notification: %v", err)
	}
}

// transformDesc copies the primary input with a suffix appended, the
// smallest executor that visibly changes the bytes.
func transformDesc() operation.Descriptor {
	return operation.Descriptor{
		Name:  "fake.transform",
		Roles: []string{"primary"},
		Executor: operation.Func(func(_ context.Context, req operation.Request) (operation.Result, error) {
			in, err := os.ReadFile(req.Inputs[0].Path)
			if err != nil {
				return operation.Result{}, err
			}
			out := filepath.Join(req.WorkDir, "out.bin")
			if err := os.WriteFile(out, append(in, []byte("+transformed")...), 0o644); err != nil {
				return operation.Result{}, err
			}
			return operation.Result{Outputs: []operation.Output{{Path: out, Role: "output"}}}, nil
		}),
	}
}

func TestSubmitAndExecuteCompletes(t *testing.T) {
	p := newPipeline(t, Config{}, transformDesc())
	input := []byte("original document bytes")
	ref := p.put(t, "primary", input)

	j, err := p.coord.Submit(context.Background(), SubmitRequest{
		Operation: "fake.transform",
		CallerID:  "tester",
		Inputs:    []job.ArtifactRef{ref},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if j.Status != job.StatusQueued {
		t.Fatalf("status after submit = %s, want queued", j.Status)
	}

	p.deliver(t, j)

	got, err := p.coord.Status(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if got.Status != job.StatusCompleted {
		t.Fatalf("status = %s (err=%v), want completed", got.Status, got.Error)
	}
	if got.AttemptCount != 1 {
		t.Fatalf("attempt count = %d, want 1", got.AttemptCount)
	}
	if len(got.ResultRefs) != 1 {
		t.Fatalf("result refs = %d, want 1", len(got.ResultRefs))
	}
	out, err := p.store.Get(context.Background(), got.ResultRefs[0].StorageID)
	if err != nil {
		t.Fatalf("fetch result: %v", err)
	}
	if bytes.Equal(out, input) {
		t.Fatal("result bytes identical to input, no transformation happened")
	}
	if got.ResultRefs[0].ContentHash != artifact.HashID(out) {
		t.Fatal("result ref hash does not match stored bytes")
	}

	events := p.bus.DoneEvents()
	if len(events) != 1 || events[0].Status != string(job.StatusCompleted) {
		t.Fatalf("done events = %+v, want one completed event", events)
	}
}

func TestSubmitRejectsUnknownOperation(t *testing.T) {
	p := newPipeline(t, Config{}, transformDesc())
	_, err := p.coord.Submit(context.Background(), SubmitRequest{Operation: "no.such_op"})
	var jerr *job.Error
	if !errors.As(err, &jerr) || jerr.Kind != job.KindUnknownOperation {
		t.Fatalf("err = %v, want unknown_operation", err)
	}
}

func TestSubmitRejectsMissingRole(t *testing.T) {
	p := newPipeline(t, Config{}, transformDesc())
	ref := p.put(t, "sidecar", []byte("x"))
	_, err := p.coord.Submit(context.Background(), SubmitRequest{
		Operation: "fake.transform",
		Inputs:    []job.ArtifactRef{ref},
	})
	var jerr *job.Error
	if !errors.As(err, &jerr) || jerr.Kind != job.KindValidation {
		t.Fatalf("err = %v, want validation", err)
	}
}

func TestSubmitRejectsEmptyDataset(t *testing.T) {
	batch := operation.Descriptor{
		Name:  "fake.batch",
		Roles: []string{"template", "dataset"},
		Executor: operation.Func(func(context.Context, operation.Request) (operation.Result, error) {
			t.Fatal("executor must not run for a rejected submission")
			return operation.Result{}, nil
		}),
	}
	p := newPipeline(t, Config{}, batch)
	tmpl := p.put(t, "template", []byte("Hello {{name}}"))
	data := p.put(t, "dataset", []byte("name\n")) // header only, zero rows

	_, err := p.coord.Submit(context.Background(), SubmitRequest{
		Operation: "fake.batch",
		Inputs:    []job.ArtifactRef{tmpl, data},
	})
	var jerr *job.Error
	if !errors.As(err, &jerr) || jerr.Kind != job.KindValidation {
		t.Fatalf("err = %v, want validation for empty dataset", err)
	}
	if jobs, _ := p.coord.List(context.Background(), "", 10); len(jobs) != 0 {
		t.Fatalf("rejected submission left %d job rows", len(jobs))
	}
}

func TestBatchResultsPreserveRowOrder(t *testing.T) {
	batch := operation.Descriptor{
		Name:  "fake.batch",
		Roles: []string{"template", "dataset"},
		Executor: operation.Func(func(_ context.Context, req operation.Request) (operation.Result, error) {
			var res operation.Result
			for i, name := range []string{"first", "second", "third"} {
				path := filepath.Join(req.WorkDir, name)
				if err := os.WriteFile(path, []byte("row "+name), 0o644); err != nil {
					return operation.Result{}, err
				}
				res.Outputs = append(res.Outputs, operation.Output{Path: path, Role: "row", Row: i})
			}
			return res, nil
		}),
	}
	p := newPipeline(t, Config{}, batch)
	tmpl := p.put(t, "template", []byte("Hello {{name}}"))
	data := p.put(t, "dataset", []byte("name\na\nb\nc\n"))

	j, err := p.coord.Submit(context.Background(), SubmitRequest{
		Operation: "fake.batch",
		Inputs:    []job.ArtifactRef{tmpl, data},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	p.deliver(t, j)

	got, _ := p.coord.Status(context.Background(), j.ID)
	if got.Status != job.StatusCompleted {
		t.Fatalf("status = %s (err=%v), want completed", got.Status, got.Error)
	}
	if len(got.ResultRefs) != 3 {
		t.Fatalf("result refs = %d, want 3", len(got.ResultRefs))
	}
	want := []string{"row first", "row second", "row third"}
	for i, ref := range got.ResultRefs {
		data, err := p.store.Get(context.Background(), ref.StorageID)
		if err != nil {
			t.Fatalf("fetch result %d: %v", i, err)
		}
		if string(data) != want[i] {
			t.Fatalf("result %d = %q, want %q", i, data, want[i])
		}
	}
}

func TestTransientFailureRetriesUntilExhausted(t *testing.T) {
	var runs atomic.Int32
	failing := operation.Descriptor{
		Name:  "fake.flaky",
		Roles: []string{"primary"},
		Executor: operation.Func(func(context.Context, operation.Request) (operation.Result, error) {
			runs.Add(1)
			return operation.Result{}, job.Errf(job.KindExecutorCrash, "simulated crash")
		}),
	}
	p := newPipeline(t, Config{MaxAttempts: 3, RetryBaseDelay: time.Millisecond}, failing)
	ref := p.put(t, "primary", []byte("doc"))
	j, err := p.coord.Submit(context.Background(), SubmitRequest{
		Operation: "fake.flaky",
		Inputs:    []job.ArtifactRef{ref},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	// Requeue happens synchronously inside the handler, so each delivery
	// models one broker redelivery after backoff.
	for i := 0; i < 3; i++ {
		got, _ := p.coord.Status(context.Background(), j.ID)
		if got.Status != job.StatusQueued {
			t.Fatalf("before attempt %d status = %s, want queued", i+1, got.Status)
		}
		p.deliver(t, j)
	}

	got, _ := p.coord.Status(context.Background(), j.ID)
	if got.Status != job.StatusFailed {
		t.Fatalf("status = %s, want failed after exhausting retries", got.Status)
	}
	if got.AttemptCount != 3 {
		t.Fatalf("attempt count = %d, want 3", got.AttemptCount)
	}
	if got.Error == nil || got.Error.Kind != job.KindExecutorCrash {
		t.Fatalf("error = %v, want executor_crash", got.Error)
	}
	if runs.Load() != 3 {
		t.Fatalf("executor ran %d times, want 3", runs.Load())
	}

	events := p.bus.DoneEvents()
	if len(events) != 1 || events[0].FailureType != schema.FailureTypeRetryable {
		t.Fatalf("done events = %+v, want one retryable failure", events)
	}
}

func TestPermanentFailureDoesNotRetry(t *testing.T) {
	var runs atomic.Int32
	rejecting := operation.Descriptor{
		Name:  "fake.reject",
		Roles: []string{"primary"},
		Executor: operation.Func(func(context.Context, operation.Request) (operation.Result, error) {
			runs.Add(1)
			return operation.Result{}, job.Errf(job.KindExecutorRejected, "unsupported payload")
		}),
	}
	p := newPipeline(t, Config{MaxAttempts: 3}, rejecting)
	ref := p.put(t, "primary", []byte("doc"))
	j, _ := p.coord.Submit(context.Background(), SubmitRequest{
		Operation: "fake.reject",
		Inputs:    []job.ArtifactRef{ref},
	})
	p.deliver(t, j)

	got, _ := p.coord.Status(context.Background(), j.ID)
	if got.Status != job.StatusFailed || got.AttemptCount != 1 {
		t.Fatalf("status = %s attempts = %d, want failed after one attempt", got.Status, got.AttemptCount)
	}
	if runs.Load() != 1 {
		t.Fatalf("executor ran %d times, want 1", runs.Load())
	}
}

func TestExecutorPanicIsContained(t *testing.T) {
	panicking := operation.Descriptor{
		Name:  "fake.panic",
		Roles: []string{"primary"},
		Executor: operation.Func(func(context.Context, operation.Request) (operation.Result, error) {
			panic("executor bug")
		}),
	}
	p := newPipeline(t, Config{MaxAttempts: 1}, panicking)
	ref := p.put(t, "primary", []byte("doc"))
	j, _ := p.coord.Submit(context.Background(), SubmitRequest{
		Operation: "fake.panic",
		Inputs:    []job.ArtifactRef{ref},
	})
	p.deliver(t, j)

	got, _ := p.coord.Status(context.Background(), j.ID)
	if got.Status != job.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.Error == nil || got.Error.Kind != job.KindExecutorCrash {
		t.Fatalf("error = %v, want executor_crash from recovered panic", got.Error)
	}
}

func TestRedeliveryIsIdempotent(t *testing.T) {
	var runs atomic.Int32
	counted := transformDesc()
	inner := counted.Executor
	counted.Executor = operation.Func(func(ctx context.Context, req operation.Request) (operation.Result, error) {
		runs.Add(1)
		return inner.Execute(ctx, req)
	})

	p := newPipeline(t, Config{}, counted)
	ref := p.put(t, "primary", []byte("doc"))
	j, _ := p.coord.Submit(context.Background(), SubmitRequest{
		Operation: "fake.transform",
		Inputs:    []job.ArtifactRef{ref},
	})

	p.deliver(t, j)
	p.deliver(t, j) // duplicate delivery of the same notification

	got, _ := p.coord.Status(context.Background(), j.ID)
	if got.Status != job.StatusCompleted || got.AttemptCount != 1 {
		t.Fatalf("status = %s attempts = %d, want completed after one attempt", got.Status, got.AttemptCount)
	}
	if runs.Load() != 1 {
		t.Fatalf("executor ran %d times on duplicate delivery, want 1", runs.Load())
	}
	if events := p.bus.DoneEvents(); len(events) != 1 {
		t.Fatalf("done events = %d, want 1", len(events))
	}
}

func TestCancelQueuedJobBlocksExecution(t *testing.T) {
	var runs atomic.Int32
	counted := transformDesc()
	counted.Executor = operation.Func(func(context.Context, operation.Request) (operation.Result, error) {
		runs.Add(1)
		return operation.Result{}, nil
	})
	p := newPipeline(t, Config{}, counted)
	ref := p.put(t, "primary", []byte("doc"))
	j, _ := p.coord.Submit(context.Background(), SubmitRequest{
		Operation: "fake.transform",
		Inputs:    []job.ArtifactRef{ref},
	})

	if err := p.coord.Cancel(context.Background(), j.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	p.deliver(t, j)

	got, _ := p.coord.Status(context.Background(), j.ID)
	if got.Status != job.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}
	if runs.Load() != 0 {
		t.Fatal("executor ran for a cancelled job")
	}

	if err := p.coord.Cancel(context.Background(), j.ID); !errors.Is(err, ledger.ErrTerminal) {
		t.Fatalf("second cancel err = %v, want ErrTerminal", err)
	}
}

func TestCancelDuringExecutionDiscardsResult(t *testing.T) {
	p := newPipeline(t, Config{})

	midCancel := operation.Descriptor{
		Name:  "fake.transform",
		Roles: []string{"primary"},
		Executor: operation.Func(func(ctx context.Context, req operation.Request) (operation.Result, error) {
			if err := p.coord.Cancel(ctx, req.JobID); err != nil {
				return operation.Result{}, err
			}
			out := filepath.Join(req.WorkDir, "out.bin")
			if err := os.WriteFile(out, []byte("late result"), 0o644); err != nil {
				return operation.Result{}, err
			}
			return operation.Result{Outputs: []operation.Output{{Path: out, Role: "output"}}}, nil
		}),
	}
	reg, err := operation.NewRegistry(midCancel)
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	p.coord.registry = reg

	ref := p.put(t, "primary", []byte("doc"))
	j, _ := p.coord.Submit(context.Background(), SubmitRequest{
		Operation: "fake.transform",
		Inputs:    []job.ArtifactRef{ref},
	})
	p.deliver(t, j)

	got, _ := p.coord.Status(context.Background(), j.ID)
	if got.Status != job.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}
	if len(got.ResultRefs) != 0 {
		t.Fatal("cancelled job kept result refs from the in-flight attempt")
	}
	if events := p.bus.DoneEvents(); len(events) != 0 {
		t.Fatalf("done events = %+v, want none for a discarded result", events)
	}
}

func TestSweepReclaimsExpiredLease(t *testing.T) {
	p := newPipeline(t, Config{LeaseDuration: 5 * time.Millisecond}, transformDesc())
	ref := p.put(t, "primary", []byte("doc"))
	j, _ := p.coord.Submit(context.Background(), SubmitRequest{
		Operation: "fake.transform",
		Inputs:    []job.ArtifactRef{ref},
	})

	// Simulate a worker that claimed the job and died.
	if _, err := p.led.Claim(context.Background(), j.ID, "dead-worker"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	p.coord.sweep(context.Background())

	got, _ := p.coord.Status(context.Background(), j.ID)
	if got.Status != job.StatusQueued {
		t.Fatalf("status = %s, want queued after reclaim", got.Status)
	}

	// The reclaimed job is deliverable again and a fresh claim succeeds.
	p.deliver(t, j)
	got, _ = p.coord.Status(context.Background(), j.ID)
	if got.Status != job.StatusCompleted {
		t.Fatalf("status = %s (err=%v), want completed after reclaim", got.Status, got.Error)
	}
	if got.AttemptCount != 2 {
		t.Fatalf("attempt count = %d, want 2", got.AttemptCount)
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	p := newPipeline(t, Config{RetryBaseDelay: 2 * time.Second, RetryMaxDelay: 5 * time.Second}, transformDesc())
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 5 * time.Second},
		{10, 5 * time.Second},
		{0, 2 * time.Second},
	}
	for _, tc := range cases {
		if got := p.coord.backoff(tc.attempt); got != tc.want {
			t.Fatalf("backoff(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestListByCaller(t *testing.T) {
	p := newPipeline(t, Config{}, transformDesc())
	ref := p.put(t, "primary", []byte("doc"))
	for i := 0; i < 3; i++ {
		if _, err := p.coord.Submit(context.Background(), SubmitRequest{
			Operation: "fake.transform",
			CallerID:  "alice",
			Inputs:    []job.ArtifactRef{ref},
		}); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	if _, err := p.coord.Submit(context.Background(), SubmitRequest{
		Operation: "fake.transform",
		CallerID:  "bob",
		Inputs:    []job.ArtifactRef{ref},
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	jobs, err := p.coord.List(context.Background(), "alice", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("alice has %d jobs, want 3", len(jobs))
	}
}
