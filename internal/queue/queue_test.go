package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingRunner struct {
	mu      sync.Mutex
	started []string
	block   chan struct{}
	fail    map[string]error
}

func newRecordingRunner() *recordingRunner {
	return &recordingRunner{fail: make(map[string]error)}
}

func (r *recordingRunner) StartJob(_ context.Context, jobID string) error {
	r.mu.Lock()
	r.started = append(r.started, jobID)
	block := r.block
	err := r.fail[jobID]
	r.mu.Unlock()
	if block != nil {
		<-block
	}
	return err
}

func (r *recordingRunner) Started() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.started...)
}

// TestQueueFIFOOrder verifies jobs start in enqueue order.
func TestQueueFIFOOrder(t *testing.T) {
	t.Parallel()

	runner := newRecordingRunner()
	runner.block = make(chan struct{})
	q := New(runner, Config{})
	defer func() { require.NoError(t, q.Close(context.Background())) }()

	ids := []string{"a", "b", "c", "d"}
	for _, id := range ids {
		_, err := q.Enqueue(id)
		require.NoError(t, err)
	}
	close(runner.block)

	require.Eventually(t, func() bool {
		return len(runner.Started()) == len(ids)
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, ids, runner.Started())
	require.Zero(t, q.Length())
}

// TestQueueEnqueueNeverBlocks asserts Enqueue returns promptly while a job
// is in flight.
func TestQueueEnqueueNeverBlocks(t *testing.T) {
	t.Parallel()

	runner := newRecordingRunner()
	runner.block = make(chan struct{})
	q := New(runner, Config{})
	defer func() {
		close(runner.block)
		require.NoError(t, q.Close(context.Background()))
	}()

	_, err := q.Enqueue("long-running")
	require.NoError(t, err)
	require.Eventually(t, q.IsProcessing, time.Second, time.Millisecond)

	start := time.Now()
	_, err = q.Enqueue("waiting")
	require.NoError(t, err)
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.Equal(t, 1, q.Length())
}

// TestQueueRunnerErrorSwallowed ensures a failing job does not stop dispatch.
func TestQueueRunnerErrorSwallowed(t *testing.T) {
	t.Parallel()

	runner := newRecordingRunner()
	runner.fail["bad"] = errors.New("engine failure")
	q := New(runner, Config{})
	defer func() { require.NoError(t, q.Close(context.Background())) }()

	_, err := q.Enqueue("bad")
	require.NoError(t, err)
	_, err = q.Enqueue("good")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(runner.Started()) == 2
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"bad", "good"}, runner.Started())
}

// TestQueueMaxDepth checks saturation yields ErrQueueFull.
func TestQueueMaxDepth(t *testing.T) {
	t.Parallel()

	runner := newRecordingRunner()
	runner.block = make(chan struct{})
	q := New(runner, Config{MaxDepth: 2})
	defer func() {
		close(runner.block)
		require.NoError(t, q.Close(context.Background()))
	}()

	// First enqueue is popped by the dispatcher and blocks in the runner;
	// the next two fill the queue to its depth.
	_, err := q.Enqueue("running")
	require.NoError(t, err)
	require.Eventually(t, q.IsProcessing, time.Second, time.Millisecond)

	_, err = q.Enqueue("q1")
	require.NoError(t, err)
	_, err = q.Enqueue("q2")
	require.NoError(t, err)
	_, err = q.Enqueue("overflow")
	require.ErrorIs(t, err, ErrQueueFull)
}

// TestQueueCloseRejectsEnqueue verifies post-close enqueues fail fast.
func TestQueueCloseRejectsEnqueue(t *testing.T) {
	t.Parallel()

	q := New(newRecordingRunner(), Config{})
	require.NoError(t, q.Close(context.Background()))
	_, err := q.Enqueue("late")
	require.ErrorIs(t, err, ErrClosed)
}

// TestQueueIsProcessing covers the slot semantics around a running job.
func TestQueueIsProcessing(t *testing.T) {
	t.Parallel()

	runner := newRecordingRunner()
	runner.block = make(chan struct{})
	q := New(runner, Config{})
	defer func() { require.NoError(t, q.Close(context.Background())) }()

	require.False(t, q.IsProcessing())
	_, err := q.Enqueue("job")
	require.NoError(t, err)
	require.Eventually(t, q.IsProcessing, time.Second, time.Millisecond)

	close(runner.block)
	require.Eventually(t, func() bool { return !q.IsProcessing() }, time.Second, time.Millisecond)
}
