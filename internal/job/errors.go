package job

import (
	"context"
	"errors"
	"fmt"

	"github.com/CoderFake/document-processing-system/pkg/schema"
)

// Kind is a stable machine-readable failure reason.
type Kind string

const (
	KindValidation           Kind = "validation"
	KindUnknownOperation     Kind = "unknown_operation"
	KindExecutorTimeout      Kind = "executor_timeout"
	KindExecutorCrash        Kind = "executor_crash"
	KindExecutorRejected     Kind = "executor_rejected"
	KindStoreUnavailable     Kind = "store_unavailable"
	KindTransportUnavailable Kind = "transport_unavailable"
	KindStaleClaim           Kind = "stale_claim"
)

// Retryable reports whether a failure of this kind is transient and the
// attempt may be re-run. Validation, unknown operations and executor
// rejections are permanent: the same input can never succeed.
func (k Kind) Retryable() bool {
	switch k {
	case KindExecutorTimeout, KindExecutorCrash, KindStoreUnavailable, KindTransportUnavailable:
		return true
	}
	return false
}

// FailureType maps the kind onto the coarse wire-level classification.
func (k Kind) FailureType() schema.FailureType {
	switch {
	case k == KindValidation:
		return schema.FailureTypeValidation
	case k.Retryable():
		return schema.FailureTypeRetryable
	}
	return schema.FailureTypePermanent
}

// Error is the structured failure reason persisted on a failed job and
// surfaced to callers through the status query.
type Error struct {
	Kind   Kind   `json:"kind"`
	Detail string `json:"detail"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Errf builds a structured job error with a formatted detail message.
func Errf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Classify maps an arbitrary execution error onto a structured job error.
// Structured errors pass through unchanged; a deadline hit is an executor
// timeout; anything else is treated as an executor crash, which is
// retryable, so an unknown failure never silently becomes permanent.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var jerr *Error
	if errors.As(err, &jerr) {
		return jerr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Errf(KindExecutorTimeout, "execution exceeded deadline: %v", err)
	}
	return Errf(KindExecutorCrash, "%v", err)
}
