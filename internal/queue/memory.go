package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/CoderFake/document-processing-system/pkg/schema"
)

// Memory is an in-process transport with at-least-once semantics: a
// delivery whose handler errors is pushed back on the queue. It backs the
// test suite and single-process development runs.
type Memory struct {
	mu     sync.Mutex
	queues map[string]chan schema.JobEnqueued
	done   []schema.JobDone
	closed bool
	wg     sync.WaitGroup
	stop   chan struct{}
}

const memoryQueueDepth = 1024

func NewMemory() *Memory {
	return &Memory{
		queues: make(map[string]chan schema.JobEnqueued),
		stop:   make(chan struct{}),
	}
}

func (m *Memory) queue(category string) chan schema.JobEnqueued {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[category]
	if !ok {
		q = make(chan schema.JobEnqueued, memoryQueueDepth)
		m.queues[category] = q
	}
	return q
}

func (m *Memory) Publish(_ context.Context, category string, note schema.JobEnqueued) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return fmt.Errorf("memory transport closed")
	}
	select {
	case m.queue(category) <- note:
		return nil
	default:
		return fmt.Errorf("queue %q full", category)
	}
}

func (m *Memory) Subscribe(category string, workers int, h Handler) (func() error, error) {
	if workers <= 0 {
		workers = 1
	}
	q := m.queue(category)
	sub := make(chan struct{})
	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for {
				select {
				case <-m.stop:
					return
				case <-sub:
					return
				case note := <-q:
					if err := h(context.Background(), note); err != nil {
						// Redeliver after a short pause, like a broker Nak.
						time.AfterFunc(10*time.Millisecond, func() {
							select {
							case q <- note:
							default:
							}
						})
					}
				}
			}
		}()
	}
	var once sync.Once
	return func() error {
		once.Do(func() { close(sub) })
		return nil
	}, nil
}

// PublishDone records result events so tests can assert on them.
func (m *Memory) PublishDone(_ context.Context, evt schema.JobDone) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.done = append(m.done, evt)
	return nil
}

// DoneEvents returns a snapshot of published result events.
func (m *Memory) DoneEvents() []schema.JobDone {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]schema.JobDone(nil), m.done...)
}

func (m *Memory) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()
	close(m.stop)
	m.wg.Wait()
}
