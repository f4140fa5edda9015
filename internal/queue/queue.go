// Package queue serializes file-change tasks into the incremental indexer.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/semdex/internal/apperr"
	"github.com/starford/semdex/internal/models"
)

const (
	// DefaultCapacity bounds the number of pending tasks.
	DefaultCapacity = 10000
	// DefaultRetryDelay is how long a busy task waits before it is retried.
	DefaultRetryDelay = 500 * time.Millisecond
)

// Handler processes one task.
type Handler func(ctx context.Context, t models.Task) error

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithCapacity bounds the number of pending tasks.
func WithCapacity(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.capacity = n
		}
	}
}

// WithRetryDelay sets the back-off after an apperr.ErrBusy result.
func WithRetryDelay(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.retryDelay = d
		}
	}
}

// Queue is a FIFO of tasks keyed by (op, path). A task already pending is not
// added twice, and a newer task for a path replaces a pending one with the
// opposite operation.
type Queue struct {
	logger     *slog.Logger
	capacity   int
	retryDelay time.Duration

	mu      sync.Mutex
	items   []models.Task
	pending map[string]struct{}
	wake    chan struct{}
}

// New creates an empty queue.
func New(opts ...Option) *Queue {
	q := &Queue{
		logger:     slog.Default(),
		capacity:   DefaultCapacity,
		retryDelay: DefaultRetryDelay,
		pending:    map[string]struct{}{},
		wake:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Push enqueues t. It returns false when the queue is full.
func (q *Queue) Push(t models.Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.pending[t.Key()]; ok {
		return true
	}
	q.dropOpposite(t)
	if len(q.items) >= q.capacity {
		q.logger.Warn("queue: full, task dropped",
			slog.String("op", string(t.Op)),
			slog.String("path", t.RelativePath))
		return false
	}
	q.items = append(q.items, t)
	q.pending[t.Key()] = struct{}{}
	q.signal()
	return true
}

// PushAll enqueues tasks in order and returns how many were accepted.
func (q *Queue) PushAll(tasks []models.Task) int {
	n := 0
	for _, t := range tasks {
		if q.Push(t) {
			n++
		}
	}
	return n
}

// Len returns the number of pending tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pending returns a copy of the pending tasks in processing order.
func (q *Queue) Pending() []models.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]models.Task(nil), q.items...)
}

func (q *Queue) dropOpposite(t models.Task) {
	other := models.Task{Op: models.OpDelete, RelativePath: t.RelativePath}
	if t.Op == models.OpDelete {
		other.Op = models.OpUpsert
	}
	if _, ok := q.pending[other.Key()]; !ok {
		return
	}
	delete(q.pending, other.Key())
	for i, it := range q.items {
		if it == other {
			q.items = append(q.items[:i], q.items[i+1:]...)
			break
		}
	}
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) pop() (models.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return models.Task{}, false
	}
	t := q.items[0]
	q.items = q.items[1:]
	delete(q.pending, t.Key())
	return t, true
}

// requeue puts t back at the head unless a task for the same path arrived
// while it was being processed.
func (q *Queue) requeue(t models.Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.items {
		if it.RelativePath == t.RelativePath {
			return
		}
	}
	q.items = append([]models.Task{t}, q.items...)
	q.pending[t.Key()] = struct{}{}
}

// Run consumes tasks one at a time until ctx is cancelled. A task failing with
// apperr.ErrBusy is retried after the retry delay; other failures are logged
// and the task is dropped.
func (q *Queue) Run(ctx context.Context, h Handler) error {
	for {
		t, ok := q.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-q.wake:
				continue
			}
		}

		err := h(ctx, t)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, apperr.ErrBusy):
			q.logger.Debug("queue: index busy, retrying",
				slog.String("path", t.RelativePath),
				slog.Duration("delay", q.retryDelay))
			q.requeue(t)
			timer := time.NewTimer(q.retryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
			}
		default:
			q.logger.Error("queue: task failed",
				slog.String("op", string(t.Op)),
				slog.String("path", t.RelativePath),
				slog.String("error", err.Error()))
		}
	}
}
