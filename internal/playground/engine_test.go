package playground

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/crawld/crawld/internal/clock/system"
	"github.com/crawld/crawld/internal/event"
	"github.com/crawld/crawld/internal/id/uuid"
	"github.com/crawld/crawld/internal/job"
	"github.com/crawld/crawld/internal/plugin"
	"github.com/crawld/crawld/internal/plugin/builtin"
)

type slowPlugin struct {
	plugin.Base
	delay time.Duration
}

func (p *slowPlugin) Execute(_ context.Context, run *plugin.Run) (any, error) {
	time.Sleep(p.delay)
	return map[string]any{"slept": p.delay.Milliseconds()}, nil
}

type failingPlugin struct {
	plugin.Base
	err error
}

func (p *failingPlugin) Execute(context.Context, *plugin.Run) (any, error) {
	return nil, p.err
}

type eventRecorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *eventRecorder) record(e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) count(t event.Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func newFixture(t *testing.T, plugins ...plugin.Plugin) (*Engine, *eventRecorder) {
	t.Helper()
	clk := system.New()
	store := job.NewStore(clk)
	bus := event.NewBus(nil)
	rec := &eventRecorder{}
	bus.SubscribeAll(rec.record)
	if plugins == nil {
		reg := plugin.NewRegistry()
		require.NoError(t, builtin.Register(reg))
		plugins = reg.BuildAll()
	}
	pipe := plugin.NewPipeline(plugins, bus, clk, nil)
	return New(store, bus, pipe, clk, uuid.New(), nil, nil), rec
}

// TestPlaygroundSyncHappyPath mirrors the reverse-plugin scenario: a sync
// run returns the finished job with metrics and summary.
func TestPlaygroundSyncHappyPath(t *testing.T) {
	t.Parallel()

	eng, rec := newFixture(t)
	final, err := eng.CreateAndStart(context.Background(), job.Params{
		Input:   "hello",
		Plugins: []string{"reverse"},
	}, false)
	require.NoError(t, err)

	require.Equal(t, job.StatusCompleted, final.Progress.Status)
	require.Equal(t, []string{"reverse"}, final.Progress.CompletedPlugins)
	require.NotNil(t, final.Progress.EndTime)

	require.Len(t, final.Result.Metrics, 1)
	metric, ok := final.Result.Metrics[0]["reverse"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, 5, metric["inputLength"])
	require.Equal(t, 5, metric["outputLength"])
	require.Contains(t, metric, "processedAt")
	require.Contains(t, metric, "processingTimeMs")

	summary, ok := final.Result.Summary["reverse"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, 1, summary["totalProcessed"])

	require.Equal(t, 1, rec.count(event.TypeJobStart))
	require.Equal(t, 1, rec.count(event.TypePluginComplete))
	require.Equal(t, 1, rec.count(event.TypeJobComplete))
}

// TestPlaygroundAsyncReturnsRunning checks the async variant returns before
// the pipeline finishes.
func TestPlaygroundAsyncReturnsRunning(t *testing.T) {
	t.Parallel()

	slow := &slowPlugin{Base: plugin.NewBase("slow"), delay: 300 * time.Millisecond}
	eng, _ := newFixture(t, slow)

	start := time.Now()
	j, err := eng.CreateAndStart(context.Background(), job.Params{Input: "x"}, true)
	require.NoError(t, err)
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.Equal(t, job.StatusRunning, j.Progress.Status)

	require.Eventually(t, func() bool {
		got, err := eng.GetJob(j.ID)
		return err == nil && got.Progress.Status == job.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

// TestPlaygroundPluginFailureIsolated verifies a throwing execute leaves
// the job completed with result.error populated.
func TestPlaygroundPluginFailureIsolated(t *testing.T) {
	t.Parallel()

	bad := &failingPlugin{Base: plugin.NewBase("bad"), err: errors.New("boom")}
	eng, rec := newFixture(t, bad)

	final, err := eng.CreateAndStart(context.Background(), job.Params{Input: "x"}, false)
	require.NoError(t, err)
	require.Equal(t, job.StatusCompleted, final.Progress.Status)
	require.NotNil(t, final.Result.Error)
	require.Equal(t, "boom", final.Result.Error.Message)
	require.Equal(t, "bad", final.Result.Error.Plugin)
	require.False(t, final.Result.Error.Timestamp.IsZero())
	require.Equal(t, 1, rec.count(event.TypePluginError))
	require.Equal(t, 1, rec.count(event.TypeJobComplete))
}

// TestPlaygroundPluginsFilter ensures only named plugins execute.
func TestPlaygroundPluginsFilter(t *testing.T) {
	t.Parallel()

	eng, _ := newFixture(t)
	final, err := eng.CreateAndStart(context.Background(), job.Params{
		Input:   "one two",
		Plugins: []string{"wordstats"},
	}, false)
	require.NoError(t, err)

	require.Equal(t, []string{"wordstats"}, final.Progress.CompletedPlugins)
	require.Len(t, final.Result.Metrics, 1)
	require.Contains(t, final.Result.Metrics[0], "wordstats")
	require.NotContains(t, final.Result.Summary, "reverse")
}

// TestPlaygroundMetricsBound asserts |metrics| never exceeds the executed
// plugin count.
func TestPlaygroundMetricsBound(t *testing.T) {
	t.Parallel()

	eng, _ := newFixture(t)
	final, err := eng.CreateAndStart(context.Background(), job.Params{
		Input:   "hello world",
		Plugins: []string{"reverse", "wordstats"},
	}, false)
	require.NoError(t, err)
	require.LessOrEqual(t, len(final.Result.Metrics), 2)
	require.Len(t, final.Progress.CompletedPlugins, 2)
}

// TestPlaygroundStartGateIdempotent covers the HTTP re-start endpoint
// semantics.
func TestPlaygroundStartGateIdempotent(t *testing.T) {
	t.Parallel()

	eng, rec := newFixture(t)
	created, err := eng.CreateJob(job.Params{Input: "hi", Plugins: []string{"reverse"}})
	require.NoError(t, err)
	require.Equal(t, job.StatusQueued, created.Progress.Status)

	require.NoError(t, eng.StartJob(context.Background(), created.ID))
	require.NoError(t, eng.StartJob(context.Background(), created.ID))
	require.Equal(t, 1, rec.count(event.TypeJobStart))
	require.Equal(t, 1, rec.count(event.TypeJobComplete))
}

// TestPlaygroundValidation rejects jobs without input.
func TestPlaygroundValidation(t *testing.T) {
	t.Parallel()

	eng, _ := newFixture(t)
	_, err := eng.CreateJob(job.Params{})
	require.Error(t, err)
}

// TestPlaygroundGetProgressNotFound covers the lookup miss.
func TestPlaygroundGetProgressNotFound(t *testing.T) {
	t.Parallel()

	eng, _ := newFixture(t)
	_, err := eng.GetProgress("missing")
	require.ErrorIs(t, err, job.ErrNotFound)
}
