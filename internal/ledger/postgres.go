package ledger

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CoderFake/document-processing-system/internal/job"
)

//go:embed schema.sql
var schemaSQL string

// Postgres stores one row per job. Claim and finalize are single
// conditional UPDATE statements, so the compare-and-swap on status and
// owner token happens inside the database.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// EnsureSchema creates the jobs table and indexes if they do not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure jobs schema: %w", err)
	}
	return nil
}

const jobColumns = `id, operation, caller_id, inputs, parameters, status, attempt_count,
owner_token, result_refs, row_outcomes, error, created_at, updated_at`

func (p *Postgres) Create(ctx context.Context, j *job.Job) error {
	inputs, err := json.Marshal(j.Inputs)
	if err != nil {
		return fmt.Errorf("encode inputs: %w", err)
	}
	params, err := json.Marshal(orEmptyMap(j.Parameters))
	if err != nil {
		return fmt.Errorf("encode parameters: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
INSERT INTO jobs (id, operation, caller_id, inputs, parameters, status, attempt_count, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		j.ID, j.Operation, j.CallerID, inputs, params, j.Status, j.AttemptCount, j.CreatedAt)
	return err
}

func (p *Postgres) Get(ctx context.Context, id string) (*job.Job, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

func (p *Postgres) ListByCaller(ctx context.Context, callerID string, limit int) ([]*job.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.pool.Query(ctx, `
SELECT `+jobColumns+` FROM jobs WHERE caller_id = $1 ORDER BY created_at DESC LIMIT $2`,
		callerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (p *Postgres) Claim(ctx context.Context, id, token string) (*job.Job, error) {
	row := p.pool.QueryRow(ctx, `
UPDATE jobs
SET status = 'claimed', owner_token = $2, attempt_count = attempt_count + 1, updated_at = now()
WHERE id = $1 AND status = 'queued'
RETURNING `+jobColumns, id, token)

	j, err := scanJob(row)
	if errors.Is(err, ErrNotFound) {
		return nil, p.resolveClaimMiss(ctx, id)
	}
	return j, err
}

// resolveClaimMiss distinguishes "no such job" from "already claimed or
// terminal" after a conditional claim updated zero rows.
func (p *Postgres) resolveClaimMiss(ctx context.Context, id string) error {
	var status string
	err := p.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrNotQueued
}

func (p *Postgres) Begin(ctx context.Context, id, token string) error {
	tag, err := p.pool.Exec(ctx, `
UPDATE jobs SET status = 'processing', updated_at = now()
WHERE id = $1 AND owner_token = $2 AND status = 'claimed'`, id, token)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return p.resolveFenceMiss(ctx, id)
	}
	return nil
}

func (p *Postgres) Succeed(ctx context.Context, id, token string, results []job.ArtifactRef, rows []job.RowOutcome) error {
	resultJSON, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("encode result refs: %w", err)
	}
	var rowJSON []byte
	if len(rows) > 0 {
		if rowJSON, err = json.Marshal(rows); err != nil {
			return fmt.Errorf("encode row outcomes: %w", err)
		}
	}
	tag, err := p.pool.Exec(ctx, `
UPDATE jobs SET status = 'completed', result_refs = $3, row_outcomes = $4, error = NULL, updated_at = now()
WHERE id = $1 AND owner_token = $2 AND status = 'processing'`, id, token, resultJSON, rowJSON)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return p.resolveFenceMiss(ctx, id)
	}
	return nil
}

func (p *Postgres) Fail(ctx context.Context, id, token string, jobErr *job.Error) error {
	return p.finishAttempt(ctx, id, token, "failed", jobErr)
}

func (p *Postgres) Requeue(ctx context.Context, id, token string, jobErr *job.Error) error {
	return p.finishAttempt(ctx, id, token, "queued", jobErr)
}

func (p *Postgres) finishAttempt(ctx context.Context, id, token, next string, jobErr *job.Error) error {
	errJSON, err := json.Marshal(jobErr)
	if err != nil {
		return fmt.Errorf("encode job error: %w", err)
	}
	tag, err := p.pool.Exec(ctx, `
UPDATE jobs
SET status = $3,
    error = $4,
    owner_token = CASE WHEN $3 = 'queued' THEN '' ELSE owner_token END,
    updated_at = now()
WHERE id = $1 AND owner_token = $2 AND status IN ('claimed', 'processing')`,
		id, token, next, errJSON)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return p.resolveFenceMiss(ctx, id)
	}
	return nil
}

// resolveFenceMiss classifies a zero-row fenced update: missing row,
// terminal row, or a token that no longer owns the job.
func (p *Postgres) resolveFenceMiss(ctx context.Context, id string) error {
	var status job.Status
	err := p.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if status.Terminal() {
		return ErrTerminal
	}
	return ErrStaleClaim
}

func (p *Postgres) Cancel(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `
UPDATE jobs SET status = 'cancelled', updated_at = now()
WHERE id = $1 AND status IN ('queued', 'claimed', 'processing')`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var status string
		err := p.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return ErrTerminal
	}
	return nil
}

func (p *Postgres) ReclaimExpired(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := p.pool.Query(ctx, `
UPDATE jobs SET status = 'queued', owner_token = '', updated_at = now()
WHERE status IN ('claimed', 'processing') AND updated_at < $1
RETURNING id`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectIDs(rows)
}

func (p *Postgres) StaleQueued(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := p.pool.Query(ctx, `
SELECT id FROM jobs WHERE status = 'queued' AND updated_at < $1`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectIDs(rows)
}

func collectIDs(rows pgx.Rows) ([]string, error) {
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j          job.Job
		inputs     []byte
		params     []byte
		resultRefs []byte
		rowOut     []byte
		errJSON    []byte
	)
	err := row.Scan(&j.ID, &j.Operation, &j.CallerID, &inputs, &params, &j.Status,
		&j.AttemptCount, &j.OwnerToken, &resultRefs, &rowOut, &errJSON,
		&j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(inputs, &j.Inputs); err != nil {
		return nil, fmt.Errorf("decode inputs for %s: %w", j.ID, err)
	}
	if err := json.Unmarshal(params, &j.Parameters); err != nil {
		return nil, fmt.Errorf("decode parameters for %s: %w", j.ID, err)
	}
	if len(resultRefs) > 0 {
		if err := json.Unmarshal(resultRefs, &j.ResultRefs); err != nil {
			return nil, fmt.Errorf("decode result refs for %s: %w", j.ID, err)
		}
	}
	if len(rowOut) > 0 {
		if err := json.Unmarshal(rowOut, &j.RowOutcomes); err != nil {
			return nil, fmt.Errorf("decode row outcomes for %s: %w", j.ID, err)
		}
	}
	if len(errJSON) > 0 && string(errJSON) != "null" {
		j.Error = &job.Error{}
		if err := json.Unmarshal(errJSON, j.Error); err != nil {
			return nil, fmt.Errorf("decode error for %s: %w", j.ID, err)
		}
	}
	return &j, nil
}

func orEmptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
