// Package queue implements the sequential FIFO job queue with a single
// background dispatcher.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// ErrQueueFull is returned by Enqueue once the configured depth is reached,
// so the HTTP layer can answer 503.
var ErrQueueFull = errors.New("queue is full")

// ErrClosed is returned by Enqueue after Close has begun.
var ErrClosed = errors.New("queue is closed")

// Runner executes one job to a terminal state. Engines implement it; a
// returned error means the run itself failed (the engine has already marked
// the job failed) and the dispatcher simply advances.
type Runner interface {
	StartJob(ctx context.Context, jobID string) error
}

// Config controls Queue behavior.
//   - MaxDepth: maximum queued jobs; 0 means unbounded.
//   - BaseContext: parent context passed to Runner calls (defaults to
//     context.Background()).
//   - Logger: optional structured logger.
type Config struct {
	MaxDepth    int
	BaseContext context.Context
	Logger      *zap.Logger
}

// Queue is a strict-FIFO, single-worker dispatcher. Enqueue never blocks the
// caller; at most one job is executing at any time per Queue instance.
type Queue struct {
	cfg    Config
	runner Runner
	logger *zap.Logger

	mu    sync.Mutex
	items []string

	wake       chan struct{}
	stopCh     chan struct{}
	doneCh     chan struct{}
	processing atomic.Bool
	closed     atomic.Bool
	closeOnce  sync.Once
}

// New constructs a Queue and starts its dispatcher goroutine. The returned
// Queue immediately accepts enqueues.
func New(runner Runner, cfg Config) *Queue {
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	q := &Queue{
		cfg:    cfg,
		runner: runner,
		logger: logger,
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go q.run()
	return q
}

// Enqueue appends a job ID and wakes the dispatcher if it is idle. It never
// blocks and is safe to call while a job is running. The returned position
// counts jobs ahead of this one, including the in-flight job.
func (q *Queue) Enqueue(jobID string) (int, error) {
	if q.closed.Load() {
		return 0, ErrClosed
	}
	q.mu.Lock()
	if q.cfg.MaxDepth > 0 && len(q.items) >= q.cfg.MaxDepth {
		q.mu.Unlock()
		return 0, fmt.Errorf("enqueue %s: %w", jobID, ErrQueueFull)
	}
	q.items = append(q.items, jobID)
	position := len(q.items)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	if !q.processing.Load() {
		position--
	}
	return position, nil
}

// Length returns the number of jobs waiting (not counting the in-flight job).
func (q *Queue) Length() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// IsProcessing reports whether the dispatcher currently holds the execution
// slot.
func (q *Queue) IsProcessing() bool {
	return q.processing.Load()
}

// Close stops accepting enqueues and blocks until the in-flight job (if any)
// returns or ctx expires. Queued-but-undispatched jobs stay queued in the
// store and are never started.
func (q *Queue) Close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	q.closeOnce.Do(func() {
		q.closed.Store(true)
		close(q.stopCh)
	})
	select {
	case <-q.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue close wait: %w", ctx.Err())
	}
}

func (q *Queue) run() {
	defer close(q.doneCh)
	for {
		select {
		case <-q.stopCh:
			return
		case <-q.wake:
			q.drain()
		}
	}
}

// drain pops and runs jobs until the queue is empty. The processing flag
// covers the whole drain, including the gap between consecutive jobs.
func (q *Queue) drain() {
	q.processing.Store(true)
	defer q.processing.Store(false)
	for {
		select {
		case <-q.stopCh:
			return
		default:
		}
		jobID, ok := q.pop()
		if !ok {
			return
		}
		q.dispatch(jobID)
	}
}

func (q *Queue) pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return "", false
	}
	jobID := q.items[0]
	q.items = q.items[1:]
	return jobID, true
}

// dispatch runs one job. A Runner error is swallowed: the engine has already
// recorded the failure on the job, and the loop proceeds to the next entry.
func (q *Queue) dispatch(jobID string) {
	q.logger.Debug("dispatching job", zap.String("job_id", jobID))
	if err := q.runner.StartJob(q.cfg.BaseContext, jobID); err != nil {
		q.logger.Warn("job run failed",
			zap.String("job_id", jobID),
			zap.Error(err),
		)
	}
}
