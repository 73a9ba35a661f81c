// Package queue carries job-ready notifications between admission and the
// worker pool: durable, at-least-once, acknowledged only after finalize.
package queue

import (
	"context"
	"strings"

	"github.com/CoderFake/document-processing-system/pkg/schema"
)

// Handler processes one delivered notification. Returning nil acknowledges
// the delivery; returning an error leaves it for redelivery. Claim fencing
// in the ledger makes redelivery safe, so handlers return errors only for
// infrastructure failures that happened before the job could be claimed.
type Handler func(ctx context.Context, note schema.JobEnqueued) error

// Transport is the durable queue contract. One logical queue per operation
// category (word, excel, pdf), delivery is at-least-once and may reorder
// on redelivery.
type Transport interface {
	Publish(ctx context.Context, category string, note schema.JobEnqueued) error

	// Subscribe starts the given number of concurrent consumers on a
	// category queue and returns a stop function.
	Subscribe(category string, workers int, h Handler) (func() error, error)

	Close()
}

// EventSink publishes terminal job results for downstream consumers.
type EventSink interface {
	PublishDone(ctx context.Context, evt schema.JobDone) error
}

// Category derives the queue name from an operation name: the prefix
// before the first dot ("word.to_pdf" -> "word").
func Category(operation string) string {
	if i := strings.IndexByte(operation, '.'); i > 0 {
		return operation[:i]
	}
	return operation
}

// NopEvents drops result events; used when no events subject is configured.
type NopEvents struct{}

func (NopEvents) PublishDone(context.Context, schema.JobDone) error { return nil }
