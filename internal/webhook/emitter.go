// Package webhook delivers job events to user-supplied URLs with retries.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/crawld/crawld/internal/event"
	"github.com/crawld/crawld/internal/job"
)

// External event names carried in the payload status field.
const (
	StatusStarted   = "started"
	StatusProgress  = "progress"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// externalName maps internal bus events to outbound statuses. Events with
// no mapping are internal-only and never leave the process.
func externalName(t event.Type) (string, bool) {
	switch t {
	case event.TypeJobStart:
		return StatusStarted, true
	case event.TypeJobComplete:
		return StatusCompleted, true
	case event.TypeJobError:
		return StatusFailed, true
	case event.TypePageComplete, event.TypePluginComplete, event.TypeProgress:
		return StatusProgress, true
	default:
		return "", false
	}
}

// Emitter subscribes to the event bus and fans out filtered webhook
// deliveries. Delivery is fire-and-forget per event: the subscribing
// goroutine only marshals and spawns, so a slow receiver never blocks the
// engine. Delivery failures never mutate job state.
type Emitter struct {
	client  *http.Client
	clock   job.Clock
	logger  *zap.Logger
	wg      sync.WaitGroup
	backoff func(retry int) time.Duration
}

// NewEmitter constructs an Emitter. A nil client gets a default with a sane
// timeout; per-delivery timeouts still come from the job's request timeout.
func NewEmitter(client *http.Client, clock job.Clock, logger *zap.Logger) *Emitter {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{
		client: client,
		clock:  clock,
		logger: logger,
		backoff: func(retry int) time.Duration {
			return time.Duration(1<<retry) * time.Second
		},
	}
}

// Attach subscribes the emitter to every event kind on the bus.
func (e *Emitter) Attach(bus *event.Bus) {
	bus.SubscribeAll(e.handle)
}

// Close waits for in-flight deliveries to finish or ctx to expire.
func (e *Emitter) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("webhook drain: %w", ctx.Err())
	}
}

func (e *Emitter) handle(evt event.Event) {
	if evt.Job == nil {
		return
	}
	cfg := evt.Job.Params.Webhook
	if cfg == nil || cfg.URL == "" {
		return
	}
	name, ok := externalName(evt.Type)
	if !ok {
		return
	}
	// pluginComplete maps to progress for playground jobs only; crawl jobs
	// report progress per page instead.
	if evt.Type == event.TypePluginComplete && evt.Job.Kind != job.KindPlayground {
		return
	}
	if !cfg.Wants(name) {
		return
	}
	payload := e.buildPayload(name, evt)
	body, err := json.Marshal(payload)
	if err != nil {
		e.logger.Warn("webhook payload marshal failed",
			zap.String("job_id", evt.JobID),
			zap.String("status", name),
			zap.Error(err),
		)
		return
	}
	timeout := evt.Job.Params.Timeout.RequestTimeout()
	e.wg.Add(1)
	go e.deliver(freeze(cfg), name, evt.JobID, body, timeout)
}

// deliver POSTs the payload with up to the configured number of attempts.
// The body is marshaled once, so retries are byte-identical. After
// exhaustion the event is logged and dropped.
func (e *Emitter) deliver(cfg deliveryConfig, name, jobID string, body []byte, timeout time.Duration) {
	defer e.wg.Done()
	attempts := cfg.retries
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			time.Sleep(e.backoff(i - 1))
		}
		if err := e.post(cfg, body, timeout); err != nil {
			lastErr = err
			continue
		}
		return
	}
	e.logger.Warn("webhook delivery exhausted",
		zap.String("job_id", jobID),
		zap.String("status", name),
		zap.String("url", cfg.url),
		zap.Int("attempts", attempts),
		zap.Error(lastErr),
	)
}

func (e *Emitter) post(cfg deliveryConfig, body []byte, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range cfg.headers {
		req.Header.Set(k, v)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook post: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// deliveryConfig is the frozen slice of the webhook config a delivery
// goroutine needs; copying it keeps the goroutine clear of the job snapshot.
type deliveryConfig struct {
	url     string
	headers map[string]string
	retries int
}

func freeze(cfg *job.WebhookConfig) deliveryConfig {
	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	return deliveryConfig{
		url:     cfg.URL,
		headers: headers,
		retries: cfg.RetryBudget(),
	}
}

func (e *Emitter) now() time.Time {
	if e.clock != nil {
		return e.clock.Now()
	}
	return time.Now().UTC()
}
