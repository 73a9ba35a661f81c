// internal/queue/nats.go
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/CoderFake/document-processing-system/pkg/schema"
)

const (
	streamName    = "JOBS"
	subjectPrefix = "jobs."
	// Result events use core NATS publish outside the work-queue stream.
	doneSubject = "events.jobs.done"
)

// NATS is the JetStream-backed transport. Each operation category maps to
// a subject under the JOBS stream with a durable queue-group consumer, so
// delivery is at-least-once and survives broker and worker restarts.
// Messages are acknowledged manually after the handler returns, which is
// after the coordinator finalized or deliberately dropped the job.
type NATS struct {
	nc      *nats.Conn
	js      nats.JetStreamContext
	ackWait time.Duration
}

// ConnectNATS dials the broker and ensures the JOBS stream exists. ackWait
// bounds how long an unacknowledged delivery stays outstanding before the
// broker redelivers it; it should exceed the job lease duration.
func ConnectNATS(url string, ackWait time.Duration) (*NATS, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, err
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	_, err = js.StreamInfo(streamName)
	if errors.Is(err, nats.ErrStreamNotFound) {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:      streamName,
			Subjects:  []string{subjectPrefix + ">"},
			Retention: nats.WorkQueuePolicy,
			Storage:   nats.FileStorage,
		})
	}
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream %s: %w", streamName, err)
	}

	return &NATS{nc: nc, js: js, ackWait: ackWait}, nil
}

func (t *NATS) Publish(_ context.Context, category string, note schema.JobEnqueued) error {
	b, err := json.Marshal(note)
	if err != nil {
		return err
	}
	if _, err := t.js.Publish(subjectPrefix+category, b); err != nil {
		return fmt.Errorf("publish to %s: %w", category, err)
	}
	return nil
}

func (t *NATS) Subscribe(category string, workers int, h Handler) (func() error, error) {
	if workers <= 0 {
		workers = 1
	}
	subject := subjectPrefix + category
	group := category + "-workers"

	subs := make([]*nats.Subscription, 0, workers)
	for i := 0; i < workers; i++ {
		sub, err := t.js.QueueSubscribe(subject, group, func(msg *nats.Msg) {
			var note schema.JobEnqueued
			if err := json.Unmarshal(msg.Data, &note); err != nil {
				// Malformed notification: never processable, drop it.
				_ = msg.Term()
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), t.ackWait)
			defer cancel()
			if err := h(ctx, note); err != nil {
				_ = msg.NakWithDelay(2 * time.Second)
				return
			}
			_ = msg.Ack()
		},
			nats.ManualAck(),
			nats.AckWait(t.ackWait),
			nats.Durable(group),
			nats.DeliverAll(),
		)
		if err != nil {
			for _, s := range subs {
				_ = s.Drain()
			}
			return nil, fmt.Errorf("subscribe %s: %w", subject, err)
		}
		subs = append(subs, sub)
	}

	return func() error {
		var firstErr error
		for _, s := range subs {
			if err := s.Drain(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}, nil
}

// PublishDone emits a terminal-state event on the events subject. Events
// are advisory; the ledger remains the source of truth.
func (t *NATS) PublishDone(_ context.Context, evt schema.JobDone) error {
	b, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return t.nc.Publish(doneSubject, b)
}

func (t *NATS) Close() {
	if t.nc != nil {
		_ = t.nc.Drain()
	}
}
