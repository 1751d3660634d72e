// Package playground implements the plugin-pipeline job engine that reuses
// the job, progress, and webhook machinery over arbitrary inputs instead of
// URLs.
package playground

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/crawld/crawld/internal/event"
	"github.com/crawld/crawld/internal/job"
	"github.com/crawld/crawld/internal/plugin"
)

// Engine orchestrates playground jobs. Unlike the crawl engine, the
// reference behavior is create-and-start within the same call; the async
// variant returns as soon as the job is running.
type Engine struct {
	store    *job.Store
	bus      *event.Bus
	pipeline *plugin.Pipeline
	clock    job.Clock
	idGen    job.IDGenerator
	logger   *zap.Logger
	baseCtx  context.Context
}

// New constructs an Engine. baseCtx bounds asynchronous runs; nil means
// context.Background().
func New(
	store *job.Store,
	bus *event.Bus,
	pipeline *plugin.Pipeline,
	clock job.Clock,
	idGen job.IDGenerator,
	baseCtx context.Context,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Engine{
		store:    store,
		bus:      bus,
		pipeline: pipeline,
		clock:    clock,
		idGen:    idGen,
		logger:   logger,
		baseCtx:  baseCtx,
	}
}

// CreateJob validates params and persists a queued playground job without
// starting it.
func (e *Engine) CreateJob(params job.Params) (job.Job, error) {
	if err := params.ValidatePlayground(); err != nil {
		return job.Job{}, err
	}
	id, err := e.idGen.NewID()
	if err != nil {
		return job.Job{}, err
	}
	now := e.clock.Now()
	j := job.Job{
		ID:     id,
		Kind:   job.KindPlayground,
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

// CreateAndStart is the thin auto-start wrapper over CreateJob. In
// synchronous mode it returns the finished job; in async mode it returns as
// soon as the job is running, with the pipeline continuing in the
// background.
func (e *Engine) CreateAndStart(ctx context.Context, params job.Params, async bool) (job.Job, error) {
	created, err := e.CreateJob(params)
	if err != nil {
		return job.Job{}, err
	}
	if async {
		running, err := e.begin(created.ID)
		if err != nil {
			return job.Job{}, err
		}
		go func() {
			if err := e.execute(e.baseCtx, created.ID); err != nil {
				e.logger.Warn("async playground run failed",
					zap.String("job_id", created.ID), zap.Error(err))
				if _, failErr := e.FailJob(created.ID, err); failErr != nil {
					e.logger.Error("fail job after async run error",
						zap.String("job_id", created.ID), zap.Error(failErr))
				}
			}
		}()
		return running, nil
	}
	if err := e.StartJob(ctx, created.ID); err != nil {
		return job.Job{}, err
	}
	return e.store.Get(created.ID)
}

// StartJob transitions queued -> running and runs the pipeline to a
// terminal state. Starting a job that is no longer queued is a no-op, which
// makes the HTTP re-start gate idempotent.
func (e *Engine) StartJob(ctx context.Context, id string) error {
	current, err := e.store.Get(id)
	if err != nil {
		return err
	}
	if current.Progress.Status != job.StatusQueued {
		return nil
	}
	if _, err := e.begin(id); err != nil {
		return err
	}
	if err := e.execute(ctx, id); err != nil {
		if _, failErr := e.FailJob(id, err); failErr != nil {
			e.logger.Error("fail job after run error",
				zap.String("job_id", id), zap.Error(failErr))
		}
		return err
	}
	return nil
}

// GetJob fetches a job snapshot.
func (e *Engine) GetJob(id string) (job.Job, error) {
	return e.store.Get(id)
}

// GetProgress fetches a job's progress snapshot.
func (e *Engine) GetProgress(id string) (job.Progress, error) {
	return e.store.GetProgress(id)
}

// FailJob transitions a job to failed and emits jobError. Calling it on a
// terminal job is a no-op.
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

// begin performs the queued -> running transition and emits jobStart.
func (e *Engine) begin(id string) (job.Job, error) {
	running, err := e.store.Update(id, func(j *job.Job) {
		j.Progress.Status = job.StatusRunning
		j.Result = &job.Result{Metrics: []job.MetricSet{}}
	})
	if err != nil {
		return job.Job{}, fmt.Errorf("begin job %s: %w", id, err)
	}
	e.emit(event.Event{Type: event.TypeJobStart, JobID: id, Job: &running})
	return running, nil
}

// execute runs the pipeline once over the job's input. A single plugin
// failure is recorded on result.error and the job still completes; only a
// failure of the run itself marks the job failed.
func (e *Engine) execute(ctx context.Context, id string) error {
	snapshot, err := e.store.Get(id)
	if err != nil {
		return err
	}
	run := &plugin.Run{
		JobID:     id,
		Input:     snapshot.Params.Input,
		StartTime: snapshot.Progress.StartTime,
		Storage:   plugin.NewStorage(),
	}

	began := func(name string) {
		if _, err := e.store.Update(id, func(j *job.Job) {
			j.Progress.CurrentPlugin = name
		}); err != nil {
			e.logger.Debug("set current plugin failed", zap.Error(err))
		}
	}
	observe := func(name string, metrics any, failed bool) *job.Job {
		updated, err := e.store.Update(id, func(j *job.Job) {
			j.Progress.CurrentPlugin = ""
			j.Progress.CompletedPlugins = appendUnique(j.Progress.CompletedPlugins, name)
			if !failed {
				j.Result.Metrics = append(j.Result.Metrics, job.MetricSet{name: metrics})
			}
		})
		if err != nil {
			e.logger.Debug("record plugin completion failed", zap.Error(err))
			return nil
		}
		return &updated
	}

	_, errRec := e.pipeline.Execute(ctx, &snapshot, run, snapshot.Params.Plugins, began, observe)
	if errRec != nil {
		if _, err := e.store.Update(id, func(j *job.Job) {
			j.Result.Error = errRec
		}); err != nil {
			e.logger.Debug("record plugin error failed", zap.Error(err))
		}
	}

	return e.finish(ctx, id)
}

// finish summarizes plugin metrics and moves the job to completed.
func (e *Engine) finish(ctx context.Context, id string) error {
	snapshot, err := e.store.Get(id)
	if err != nil {
		return err
	}
	var summary map[string]any
	if snapshot.Result != nil {
		summary = e.pipeline.Summarize(ctx, &snapshot, snapshot.Result.Metrics, snapshot.Params.Plugins)
	}
	now := e.clock.Now()
	completed, err := e.store.Update(id, func(j *job.Job) {
		j.Progress.Status = job.StatusCompleted
		j.Progress.EndTime = &now
		j.Progress.CurrentPlugin = ""
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

func (e *Engine) emit(evt event.Event) {
	if e.bus == nil {
		return
	}
	if evt.TS.IsZero() {
		evt.TS = e.now()
	}
	e.bus.Publish(evt)
}

func (e *Engine) now() time.Time {
	if e.clock != nil {
		return e.clock.Now()
	}
	return time.Now().UTC()
}

func appendUnique(list []string, name string) []string {
	for _, existing := range list {
		if existing == name {
			return list
		}
	}
	return append(list, name)
}
