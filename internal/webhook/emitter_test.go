package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/crawld/crawld/internal/event"
	"github.com/crawld/crawld/internal/job"
)

type receiver struct {
	mu       sync.Mutex
	bodies   [][]byte
	statuses []int
	next     int
	times    []time.Time
}

// serve returns the queued status for each request, defaulting to 200.
func (r *receiver) serve(w http.ResponseWriter, req *http.Request) {
	body, _ := io.ReadAll(req.Body)
	r.mu.Lock()
	r.bodies = append(r.bodies, body)
	r.times = append(r.times, time.Now())
	status := http.StatusOK
	if r.next < len(r.statuses) {
		status = r.statuses[r.next]
		r.next++
	}
	r.mu.Unlock()
	w.WriteHeader(status)
}

func (r *receiver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bodies)
}

func (r *receiver) body(i int) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bodies[i]
}

func fastEmitter() *Emitter {
	e := NewEmitter(&http.Client{Timeout: 5 * time.Second}, nil, nil)
	e.backoff = func(retry int) time.Duration {
		return time.Duration(1<<retry) * 10 * time.Millisecond
	}
	return e
}

func webhookJob(kind job.Kind, cfg *job.WebhookConfig) *job.Job {
	now := time.Now().UTC()
	return &job.Job{
		ID:       "job-1",
		Kind:     kind,
		Params:   job.Params{URL: "https://example.com", Webhook: cfg},
		Progress: job.Progress{Status: job.StatusRunning, StartTime: now},
	}
}

func emit(e *Emitter, j *job.Job, evt event.Event) {
	evt.JobID = j.ID
	evt.Job = j
	if evt.TS.IsZero() {
		evt.TS = time.Now().UTC()
	}
	e.handle(evt)
}

// TestEmitterDeliversStarted checks the basic payload envelope.
func TestEmitterDeliversStarted(t *testing.T) {
	t.Parallel()

	rec := &receiver{}
	srv := httptest.NewServer(http.HandlerFunc(rec.serve))
	defer srv.Close()

	e := fastEmitter()
	j := webhookJob(job.KindCrawl, &job.WebhookConfig{URL: srv.URL})
	j.Params.MaxDepth = 2
	j.Params.MaxPages = 10
	emit(e, j, event.Event{Type: event.TypeJobStart})
	require.NoError(t, e.Close(context.Background()))

	require.Equal(t, 1, rec.count())
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.body(0), &payload))
	require.Equal(t, "started", payload["status"])
	require.Equal(t, "job-1", payload["jobId"])
	require.Contains(t, payload, "timestamp")
	cfg := payload["config"].(map[string]any)
	require.Equal(t, "https://example.com", cfg["url"])
	require.Equal(t, float64(2), cfg["maxDepth"])
}

// TestEmitterFilter verifies only listed statuses are delivered.
func TestEmitterFilter(t *testing.T) {
	t.Parallel()

	rec := &receiver{}
	srv := httptest.NewServer(http.HandlerFunc(rec.serve))
	defer srv.Close()

	e := fastEmitter()
	j := webhookJob(job.KindCrawl, &job.WebhookConfig{
		URL: srv.URL,
		On:  []string{"completed", "failed"},
	})
	emit(e, j, event.Event{Type: event.TypeJobStart})
	emit(e, j, event.Event{Type: event.TypeProgress})
	emit(e, j, event.Event{Type: event.TypeJobComplete})
	require.NoError(t, e.Close(context.Background()))

	require.Equal(t, 1, rec.count())
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.body(0), &payload))
	require.Equal(t, "completed", payload["status"])
}

// TestEmitterInternalEventsNotDelivered checks unmapped kinds stay inside.
func TestEmitterInternalEventsNotDelivered(t *testing.T) {
	t.Parallel()

	rec := &receiver{}
	srv := httptest.NewServer(http.HandlerFunc(rec.serve))
	defer srv.Close()

	e := fastEmitter()
	j := webhookJob(job.KindCrawl, &job.WebhookConfig{URL: srv.URL})
	emit(e, j, event.Event{Type: event.TypePageStart, URL: "https://example.com/a"})
	emit(e, j, event.Event{Type: event.TypePageError, URL: "https://example.com/a", Err: "nav timeout"})
	emit(e, j, event.Event{Type: event.TypePluginStart, PluginName: "p"})
	emit(e, j, event.Event{Type: event.TypePluginError, PluginName: "p", Err: "boom"})
	// pluginComplete is playground-only; on a crawl job it stays internal.
	emit(e, j, event.Event{Type: event.TypePluginComplete, PluginName: "p", Metrics: 1})
	require.NoError(t, e.Close(context.Background()))
	require.Zero(t, rec.count())
}

// TestEmitterRetriesUntilSuccess covers the 500,500,200 scenario: exactly
// three POSTs with identical bodies and growing gaps.
func TestEmitterRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	rec := &receiver{statuses: []int{500, 500, 200}}
	srv := httptest.NewServer(http.HandlerFunc(rec.serve))
	defer srv.Close()

	e := fastEmitter()
	j := webhookJob(job.KindCrawl, &job.WebhookConfig{URL: srv.URL, Retries: 3})
	emit(e, j, event.Event{Type: event.TypeJobComplete})
	require.NoError(t, e.Close(context.Background()))

	require.Equal(t, 3, rec.count())
	require.Equal(t, rec.body(0), rec.body(1))
	require.Equal(t, rec.body(1), rec.body(2))

	gap1 := rec.times[1].Sub(rec.times[0])
	gap2 := rec.times[2].Sub(rec.times[1])
	require.GreaterOrEqual(t, gap1, 10*time.Millisecond)
	require.GreaterOrEqual(t, gap2, 20*time.Millisecond)
}

// TestEmitterExhaustionDropsEvent verifies delivery stops after the budget.
func TestEmitterExhaustionDropsEvent(t *testing.T) {
	t.Parallel()

	rec := &receiver{statuses: []int{500, 500, 500, 500, 500}}
	srv := httptest.NewServer(http.HandlerFunc(rec.serve))
	defer srv.Close()

	e := fastEmitter()
	j := webhookJob(job.KindCrawl, &job.WebhookConfig{URL: srv.URL, Retries: 2})
	emit(e, j, event.Event{Type: event.TypeJobComplete})
	require.NoError(t, e.Close(context.Background()))
	require.Equal(t, 2, rec.count())
}

// TestEmitterCustomHeaders checks header merging on delivery.
func TestEmitterCustomHeaders(t *testing.T) {
	t.Parallel()

	var gotAuth, gotCT string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotCT = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e := fastEmitter()
	j := webhookJob(job.KindPlayground, &job.WebhookConfig{
		URL:     srv.URL,
		Headers: map[string]string{"Authorization": "Bearer tok"},
	})
	emit(e, j, event.Event{Type: event.TypeJobStart})
	require.NoError(t, e.Close(context.Background()))
	require.Equal(t, "Bearer tok", gotAuth)
	require.Equal(t, "application/json", gotCT)
}

// TestEmitterPlaygroundProgressPayload validates the pluginComplete mapping.
func TestEmitterPlaygroundProgressPayload(t *testing.T) {
	t.Parallel()

	rec := &receiver{}
	srv := httptest.NewServer(http.HandlerFunc(rec.serve))
	defer srv.Close()

	e := fastEmitter()
	j := webhookJob(job.KindPlayground, &job.WebhookConfig{URL: srv.URL})
	j.Progress.CompletedPlugins = []string{"reverse"}
	emit(e, j, event.Event{
		Type:       event.TypePluginComplete,
		PluginName: "reverse",
		Metrics:    map[string]any{"inputLength": 5},
	})
	require.NoError(t, e.Close(context.Background()))

	require.Equal(t, 1, rec.count())
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.body(0), &payload))
	require.Equal(t, "progress", payload["status"])
	require.Equal(t, "reverse", payload["pluginName"])
	progress := payload["progress"].(map[string]any)
	require.Equal(t, []any{"reverse"}, progress["completedPlugins"])
}

// TestEmitterNoWebhookConfigured ensures jobs without webhooks emit nothing.
func TestEmitterNoWebhookConfigured(t *testing.T) {
	t.Parallel()

	e := fastEmitter()
	j := webhookJob(job.KindCrawl, nil)
	require.NotPanics(t, func() {
		emit(e, j, event.Event{Type: event.TypeJobStart})
	})
	require.NoError(t, e.Close(context.Background()))
}
