package crawlengine

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/crawld/crawld/internal/driver"
	"github.com/crawld/crawld/internal/event"
	"github.com/crawld/crawld/internal/job"
	"github.com/crawld/crawld/internal/plugin"
)

// progressTickInterval is how often a running job emits a periodic progress
// event, in addition to the per-page and every-ten-pages emissions.
const progressTickInterval = 10 * time.Second

// progressPageStride emits an extra progress event every N completed pages.
const progressPageStride = 10

// Enqueuer hands a created job to the dispatch queue. It returns the queue
// position of the new entry.
type Enqueuer interface {
	Enqueue(jobID string) (int, error)
}

// Config carries engine-level knobs that are not per-job.
type Config struct {
	DefaultUserAgent string
	SitemapTimeout   time.Duration
}

// Engine orchestrates crawl jobs: it creates them, drives the plugin
// pipeline over each discovered page, updates progress, and publishes
// domain events.
type Engine struct {
	store      *job.Store
	bus        *event.Bus
	pipeline   *plugin.Pipeline
	driver     driver.PageDriver
	clock      job.Clock
	idGen      job.IDGenerator
	httpClient *http.Client
	cfg        Config
	logger     *zap.Logger
	enqueuer   Enqueuer
}

// New constructs an Engine. The enqueuer is attached afterwards with
// SetEnqueuer because the queue needs the engine as its runner.
func New(
	store *job.Store,
	bus *event.Bus,
	pipeline *plugin.Pipeline,
	drv driver.PageDriver,
	clock job.Clock,
	idGen job.IDGenerator,
	httpClient *http.Client,
	cfg Config,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.SitemapTimeout <= 0 {
		cfg.SitemapTimeout = 30 * time.Second
	}
	return &Engine{
		store:      store,
		bus:        bus,
		pipeline:   pipeline,
		driver:     drv,
		clock:      clock,
		idGen:      idGen,
		httpClient: httpClient,
		cfg:        cfg,
		logger:     logger,
	}
}

// SetEnqueuer attaches the dispatch queue.
func (e *Engine) SetEnqueuer(q Enqueuer) {
	e.enqueuer = q
}

// NewJob validates params, applies defaults, and persists a queued job
// without handing it to the queue (queued-only mode).
func (e *Engine) NewJob(params job.Params) (job.Job, error) {
	params = params.WithDefaults()
	if err := params.ValidateCrawl(); err != nil {
		return job.Job{}, err
	}
	id, err := e.idGen.NewID()
	if err != nil {
		return job.Job{}, err
	}
	now := e.clock.Now()
	j := job.Job{
		ID:     id,
		Kind:   job.KindCrawl,
		Params: params,
		Progress: job.Progress{
			Status:    job.StatusQueued,
			StartTime: now,
		},
		MaxRetries: params.Retries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.store.Insert(j); err != nil {
		return job.Job{}, err
	}
	return j, nil
}

// CreateJob allocates a queued job and hands it to the queue. Queue
// saturation rolls the insert back so no orphan job is left behind; the
// returned position counts jobs ahead of this one.
func (e *Engine) CreateJob(params job.Params) (job.Job, int, error) {
	j, err := e.NewJob(params)
	if err != nil {
		return job.Job{}, 0, err
	}
	position, err := e.enqueuer.Enqueue(j.ID)
	if err != nil {
		e.store.Delete(j.ID)
		return job.Job{}, 0, err
	}
	return j, position, nil
}

// GetJob fetches a job snapshot.
func (e *Engine) GetJob(id string) (job.Job, error) {
	return e.store.Get(id)
}

// GetProgress fetches a job's progress snapshot.
func (e *Engine) GetProgress(id string) (job.Progress, error) {
	return e.store.GetProgress(id)
}

// FailJob transitions a job to failed, stamps the end time, records the
// error, and emits jobError. It is a no-op on jobs that already reached a
// terminal state.
func (e *Engine) FailJob(id string, cause error) (job.Job, error) {
	current, err := e.store.Get(id)
	if err != nil {
		return job.Job{}, err
	}
	if current.Progress.Status.Terminal() {
		return current, nil
	}
	now := e.clock.Now()
	failed, err := e.store.Update(id, func(j *job.Job) {
		j.Progress.Status = job.StatusFailed
		j.Progress.EndTime = &now
		j.Progress.Error = cause.Error()
		if j.Result != nil && j.Result.Error == nil {
			j.Result.Error = &job.ErrorRecord{Message: cause.Error(), Timestamp: now}
		}
	})
	if err != nil {
		return job.Job{}, err
	}
	e.emit(event.Event{
		Type: event.TypeJobError, JobID: id, Job: &failed, Err: cause.Error(),
	})
	return failed, nil
}

// StartJob transitions queued -> running, runs the crawl, and finishes the
// job. A run-level failure marks the job failed and is re-raised to the
// dispatcher; page- and plugin-level failures are absorbed along the way.
func (e *Engine) StartJob(ctx context.Context, id string) error {
	current, err := e.store.Get(id)
	if err != nil {
		return err
	}
	if current.Progress.Status != job.StatusQueued {
		return nil
	}
	running, err := e.store.Update(id, func(j *job.Job) {
		j.Progress.Status = job.StatusRunning
		j.Result = &job.Result{Metrics: []job.MetricSet{}}
	})
	if err != nil {
		return err
	}
	e.emit(event.Event{Type: event.TypeJobStart, JobID: id, Job: &running})

	if err := e.run(ctx, running); err != nil {
		if _, failErr := e.FailJob(id, err); failErr != nil {
			e.logger.Error("fail job after run error",
				zap.String("job_id", id), zap.Error(failErr))
		}
		return err
	}
	return e.finish(ctx, id)
}

// run drives the crawl itself: frontier seeding, traversal, and the crawl
// boundary hooks. The periodic progress ticker lives for the duration.
func (e *Engine) run(ctx context.Context, j job.Job) error {
	e.pipeline.BeforeCrawl(ctx, &j)

	stopTick := make(chan struct{})
	go e.progressTicker(j.ID, stopTick)
	defer close(stopTick)

	c := newCrawl(e, j.ID, j.Params)
	if err := c.run(ctx); err != nil {
		return err
	}

	snapshot, err := e.store.Get(j.ID)
	if err != nil {
		return err
	}
	e.pipeline.AfterCrawl(ctx, &snapshot)
	return nil
}

// finish summarizes plugin metrics and moves the job to completed.
func (e *Engine) finish(ctx context.Context, id string) error {
	snapshot, err := e.store.Get(id)
	if err != nil {
		return err
	}
	var summary map[string]any
	if snapshot.Result != nil {
		summary = e.pipeline.Summarize(ctx, &snapshot, snapshot.Result.Metrics, nil)
	}
	now := e.clock.Now()
	completed, err := e.store.Update(id, func(j *job.Job) {
		j.Progress.Status = job.StatusCompleted
		j.Progress.EndTime = &now
		j.Progress.CurrentURL = ""
		if j.Result != nil && len(summary) > 0 {
			j.Result.Summary = summary
		}
	})
	if err != nil {
		return err
	}
	e.emit(event.Event{Type: event.TypeJobComplete, JobID: id, Job: &completed})
	return nil
}

// progressTicker emits a progress event every tick while the job runs.
func (e *Engine) progressTicker(id string, stop <-chan struct{}) {
	ticker := time.NewTicker(progressTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			snapshot, err := e.store.Get(id)
			if err != nil || snapshot.Progress.Status.Terminal() {
				return
			}
			e.emit(event.Event{Type: event.TypeProgress, JobID: id, Job: &snapshot})
		}
	}
}

func (e *Engine) emit(evt event.Event) {
	if e.bus == nil {
		return
	}
	if evt.TS.IsZero() {
		evt.TS = e.clock.Now()
	}
	e.bus.Publish(evt)
}
