package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/CoderFake/document-processing-system/internal/job"
)

// Memory is a mutex-guarded in-process ledger with the same transition
// semantics as the Postgres implementation. It backs the test suite and
// single-node development runs.
type Memory struct {
	mu   sync.Mutex
	jobs map[string]*job.Job
}

func NewMemory() *Memory {
	return &Memory{jobs: make(map[string]*job.Job)}
}

func (m *Memory) Create(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[j.ID] = clone(j)
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(j), nil
}

func (m *Memory) ListByCaller(_ context.Context, callerID string, limit int) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*job.Job
	for _, j := range m.jobs {
		if j.CallerID == callerID {
			out = append(out, clone(j))
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Claim(_ context.Context, id, token string) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if j.Status != job.StatusQueued {
		return nil, ErrNotQueued
	}
	j.Status = job.StatusClaimed
	j.OwnerToken = token
	j.AttemptCount++
	j.UpdatedAt = time.Now()
	return clone(j), nil
}

func (m *Memory) Begin(_ context.Context, id, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.Status.Terminal() {
		return ErrTerminal
	}
	if j.Status != job.StatusClaimed || j.OwnerToken != token {
		return ErrStaleClaim
	}
	j.Status = job.StatusProcessing
	j.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) Succeed(_ context.Context, id, token string, results []job.ArtifactRef, rows []job.RowOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.Status.Terminal() {
		return ErrTerminal
	}
	if j.Status != job.StatusProcessing || j.OwnerToken != token {
		return ErrStaleClaim
	}
	j.Status = job.StatusCompleted
	j.ResultRefs = append([]job.ArtifactRef(nil), results...)
	j.RowOutcomes = append([]job.RowOutcome(nil), rows...)
	j.Error = nil
	j.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) Fail(_ context.Context, id, token string, jobErr *job.Error) error {
	return m.finishAttempt(id, token, job.StatusFailed, jobErr)
}

func (m *Memory) Requeue(_ context.Context, id, token string, jobErr *job.Error) error {
	return m.finishAttempt(id, token, job.StatusQueued, jobErr)
}

func (m *Memory) finishAttempt(id, token string, next job.Status, jobErr *job.Error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.Status.Terminal() {
		return ErrTerminal
	}
	if (j.Status != job.StatusClaimed && j.Status != job.StatusProcessing) || j.OwnerToken != token {
		return ErrStaleClaim
	}
	j.Status = next
	j.Error = jobErr
	if next == job.StatusQueued {
		j.OwnerToken = ""
	}
	j.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) Cancel(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.Status.Terminal() {
		return ErrTerminal
	}
	j.Status = job.StatusCancelled
	j.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) ReclaimExpired(_ context.Context, cutoff time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, j := range m.jobs {
		if (j.Status == job.StatusClaimed || j.Status == job.StatusProcessing) && j.UpdatedAt.Before(cutoff) {
			j.Status = job.StatusQueued
			j.OwnerToken = ""
			j.UpdatedAt = time.Now()
			ids = append(ids, j.ID)
		}
	}
	return ids, nil
}

func (m *Memory) StaleQueued(_ context.Context, cutoff time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, j := range m.jobs {
		if j.Status == job.StatusQueued && j.UpdatedAt.Before(cutoff) {
			ids = append(ids, j.ID)
		}
	}
	return ids, nil
}

func clone(j *job.Job) *job.Job {
	cp := *j
	cp.Inputs = append([]job.ArtifactRef(nil), j.Inputs...)
	cp.ResultRefs = append([]job.ArtifactRef(nil), j.ResultRefs...)
	cp.RowOutcomes = append([]job.RowOutcome(nil), j.RowOutcomes...)
	if j.Parameters != nil {
		cp.Parameters = make(map[string]string, len(j.Parameters))
		for k, v := range j.Parameters {
			cp.Parameters[k] = v
		}
	}
	if j.Error != nil {
		e := *j.Error
		cp.Error = &e
	}
	return &cp
}
