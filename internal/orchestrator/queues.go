// Package orchestrator runs the multi-process worker pool: it spawns worker
// processes, streams tasks to them, collects result envelopes, and persists
// outcomes with graduated back-pressure.
package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/mitto-dev/mitto/internal/models"
)

// ErrQueueOverflow is returned when a bounded queue refuses an item.
var ErrQueueOverflow = errors.New("queue overflow")

var enqueueBackoff = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// TaskQueue is the bounded inbound queue feeding worker processes.
type TaskQueue struct {
	ch chan *models.TaskEnvelope
}

// NewTaskQueue creates a bounded task queue.
func NewTaskQueue(size int) *TaskQueue {
	if size <= 0 {
		size = 100
	}
	return &TaskQueue{ch: make(chan *models.TaskEnvelope, size)}
}

// TryEnqueue offers a task without blocking.
func (q *TaskQueue) TryEnqueue(t *models.TaskEnvelope) error {
	select {
	case q.ch <- t:
		return nil
	default:
		return ErrQueueOverflow
	}
}

// Enqueue offers a task, retrying a full queue 3 times with 1/2/4 s backoff
// before giving up with ErrQueueOverflow.
func (q *TaskQueue) Enqueue(ctx context.Context, t *models.TaskEnvelope) error {
	if err := q.TryEnqueue(t); err == nil {
		return nil
	}
	for _, delay := range enqueueBackoff {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if err := q.TryEnqueue(t); err == nil {
			return nil
		}
	}
	return ErrQueueOverflow
}

// Dequeue pulls the next task, waiting up to timeout. Returns nil on
// timeout so pollers can run their cooperative stop check.
func (q *TaskQueue) Dequeue(ctx context.Context, timeout time.Duration) (*models.TaskEnvelope, error) {
	select {
	case t := <-q.ch:
		return t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, nil
	}
}

// Len returns the number of queued tasks.
func (q *TaskQueue) Len() int { return len(q.ch) }

// ResultQueue is the bounded outbound queue carrying worker envelopes.
type ResultQueue struct {
	ch chan *models.ResultEnvelope
}

// NewResultQueue creates a bounded result queue.
func NewResultQueue(size int) *ResultQueue {
	if size <= 0 {
		size = 200
	}
	return &ResultQueue{ch: make(chan *models.ResultEnvelope, size)}
}

// TryEnqueue offers a result without blocking.
func (q *ResultQueue) TryEnqueue(r *models.ResultEnvelope) error {
	select {
	case q.ch <- r:
		return nil
	default:
		return ErrQueueOverflow
	}
}

// Enqueue offers a result with the same retry ladder as task enqueue.
func (q *ResultQueue) Enqueue(ctx context.Context, r *models.ResultEnvelope) error {
	if err := q.TryEnqueue(r); err == nil {
		return nil
	}
	for _, delay := range enqueueBackoff {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if err := q.TryEnqueue(r); err == nil {
			return nil
		}
	}
	return ErrQueueOverflow
}

// Dequeue pulls the next result, waiting up to timeout; nil on timeout.
func (q *ResultQueue) Dequeue(ctx context.Context, timeout time.Duration) (*models.ResultEnvelope, error) {
	select {
	case r := <-q.ch:
		return r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, nil
	}
}

// Len returns the number of queued results.
func (q *ResultQueue) Len() int { return len(q.ch) }
