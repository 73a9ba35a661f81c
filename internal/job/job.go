// Package job defines the unit of asynchronous work tracked by the ledger:
// the job record, its status state machine, and structured failure reasons.
package job

import "time"

type Status string

const (
	StatusQueued     Status = "queued"
	StatusClaimed    Status = "claimed"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ArtifactRef points at a blob in the artifact store. The store owns the
// bytes; the ledger only ever persists references.
type ArtifactRef struct {
	StorageID   string `json:"storage_id"`
	ContentHash string `json:"content_hash,omitempty"`
	Size        int64  `json:"size,omitempty"`
	Role        string `json:"role"`
}

// RowOutcome records the fate of a single dataset row for batch operations
// whose executor opts into per-row reporting.
type RowOutcome struct {
	Row    int    `json:"row"`
	Status string `json:"status"` // "ok" or "failed"
	Detail string `json:"detail,omitempty"`
}

// Job is one admitted request to run a named operation over declared inputs.
// Rows are created by admission and mutated only through the ledger's
// claim/finalize protocol; a terminal row never transitions again.
type Job struct {
	ID           string            `json:"id"`
	Operation    string            `json:"operation"`
	CallerID     string            `json:"caller_id,omitempty"`
	Inputs       []ArtifactRef     `json:"inputs"`
	Parameters   map[string]string `json:"parameters,omitempty"`
	Status       Status            `json:"status"`
	AttemptCount int               `json:"attempt_count"`
	OwnerToken   string            `json:"-"`
	ResultRefs   []ArtifactRef     `json:"result_refs,omitempty"`
	RowOutcomes  []RowOutcome      `json:"row_outcomes,omitempty"`
	Error        *Error            `json:"error,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Input returns the first input carrying the given role.
func (j *Job) Input(role string) (ArtifactRef, bool) {
	for _, in := range j.Inputs {
		if in.Role == role {
			return in, true
		}
	}
	return ArtifactRef{}, false
}
