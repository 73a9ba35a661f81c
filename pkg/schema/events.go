// pkg/schema/events.go
package schema

// JobEnqueued is the notification carried on the queue transport. It is
// deliberately thin: workers re-read the authoritative job row from the
// ledger, so a redelivered or stale notification carries no state that
// could go out of date.
type JobEnqueued struct {
	JobID      string `json:"job_id"`
	Operation  string `json:"operation"`
	HappenedAt int64  `json:"happened_at"`
}

type FailureType string

const (
	FailureTypeRetryable  FailureType = "retryable"
	FailureTypePermanent  FailureType = "permanent"
	FailureTypeValidation FailureType = "validation"
)

// ResultRef mirrors a stored output artifact in result events.
type ResultRef struct {
	StorageID   string `json:"storage_id"`
	ContentHash string `json:"content_hash,omitempty"`
	Size        int64  `json:"size,omitempty"`
	Role        string `json:"role,omitempty"`
}

// JobDone is published on the events subject when a job reaches a terminal
// state, so downstream consumers do not have to poll the ledger.
type JobDone struct {
	JobID            string      `json:"job_id"`
	Operation        string      `json:"operation"`
	Status           string      `json:"status"`
	AttemptCount     int         `json:"attempt_count"`
	Results          []ResultRef `json:"results,omitempty"`
	Error            string      `json:"error,omitempty"`
	ErrorKind        string      `json:"error_kind,omitempty"`
	FailureType      FailureType `json:"failure_type,omitempty"`
	ProcessingTimeMs int64       `json:"processing_time_ms,omitempty"`
	HappenedAt       int64       `json:"happened_at"`
}
