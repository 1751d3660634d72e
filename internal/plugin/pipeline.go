package plugin

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/crawld/crawld/internal/driver"
	"github.com/crawld/crawld/internal/event"
	"github.com/crawld/crawld/internal/job"
)

// Pipeline runs an ordered set of plugins over pages or playground inputs.
// Every hook call is isolated: a panic or error in one plugin never affects
// siblings, the page, or the job. The pipeline emits the plugin* events;
// job- and page-level events stay with the engines.
type Pipeline struct {
	plugins []Plugin
	bus     *event.Bus
	clock   job.Clock
	logger  *zap.Logger
}

// NewPipeline constructs a Pipeline over the given plugins, preserving
// their order.
func NewPipeline(plugins []Plugin, bus *event.Bus, clock job.Clock, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		plugins: append([]Plugin(nil), plugins...),
		bus:     bus,
		clock:   clock,
		logger:  logger,
	}
}

// Plugins returns the enabled plugins, restricted to the filter when one is
// given. Filtered-out plugins are skipped, not disabled.
func (p *Pipeline) Plugins(filter []string) []Plugin {
	var allow map[string]struct{}
	if len(filter) > 0 {
		allow = make(map[string]struct{}, len(filter))
		for _, name := range filter {
			allow[name] = struct{}{}
		}
	}
	out := make([]Plugin, 0, len(p.plugins))
	for _, pl := range p.plugins {
		if !pl.Enabled() {
			continue
		}
		if allow != nil {
			if _, ok := allow[pl.Name()]; !ok {
				continue
			}
		}
		out = append(out, pl)
	}
	return out
}

// Initialize runs the Initialize hook of every plugin exactly once. A
// failing initializer is logged and skipped; the engine keeps running with
// the remaining plugins.
func (p *Pipeline) Initialize(ctx context.Context) {
	for _, pl := range p.plugins {
		init, ok := pl.(Initializer)
		if !ok {
			continue
		}
		if err := p.guard("initialize", func() error { return init.Initialize(ctx) }); err != nil {
			p.logger.Warn("plugin initialize failed",
				zap.String("plugin", pl.Name()), zap.Error(err))
		}
	}
}

// Destroy runs the Destroy hook of every plugin at engine shutdown.
func (p *Pipeline) Destroy(ctx context.Context) {
	for _, pl := range p.plugins {
		destroy, ok := pl.(Destroyer)
		if !ok {
			continue
		}
		if err := p.guard("destroy", func() error { return destroy.Destroy(ctx) }); err != nil {
			p.logger.Warn("plugin destroy failed",
				zap.String("plugin", pl.Name()), zap.Error(err))
		}
	}
}

// BeforeCrawl notifies every enabled plugin that a crawl job is starting.
func (p *Pipeline) BeforeCrawl(ctx context.Context, j *job.Job) {
	for _, pl := range p.Plugins(nil) {
		obs, ok := pl.(CrawlObserver)
		if !ok {
			continue
		}
		if err := p.guard("beforeCrawl", func() error { return obs.BeforeCrawl(ctx, j) }); err != nil {
			p.emitPluginError(j, pl.Name(), err)
		}
	}
}

// AfterCrawl notifies every enabled plugin that all pages were visited.
func (p *Pipeline) AfterCrawl(ctx context.Context, j *job.Job) {
	for _, pl := range p.Plugins(nil) {
		obs, ok := pl.(CrawlObserver)
		if !ok {
			continue
		}
		if err := p.guard("afterCrawl", func() error { return obs.AfterCrawl(ctx, j) }); err != nil {
			p.emitPluginError(j, pl.Name(), err)
		}
	}
}

// EvaluatePage drives beforeEach -> evaluate -> afterEach for each enabled
// plugin against one page. It returns the metric set keyed by plugin name
// and the last plugin error, if any. A plugin error yields no entry in the
// metric set for that plugin and is never fatal to the page.
func (p *Pipeline) EvaluatePage(
	ctx context.Context,
	j *job.Job,
	page *driver.Page,
	loadTime time.Duration,
) (job.MetricSet, *job.ErrorRecord) {
	metrics := make(job.MetricSet)
	var lastErr *job.ErrorRecord
	for _, pl := range p.Plugins(nil) {
		eval, ok := pl.(Evaluator)
		if !ok {
			continue
		}
		name := pl.Name()
		p.emit(event.Event{Type: event.TypePluginStart, JobID: j.ID, Job: j, PluginName: name, URL: page.URL})

		if obs, ok := pl.(PageObserver); ok {
			if err := p.guard("beforeEach", func() error { return obs.BeforeEach(ctx, page) }); err != nil {
				p.emitPluginError(j, name, err)
				lastErr = p.errorRecord(name, err)
				continue
			}
		}

		var value any
		err := p.guard("evaluate", func() error {
			v, evalErr := eval.Evaluate(ctx, page, loadTime)
			value = v
			return evalErr
		})
		if err != nil {
			p.emitPluginError(j, name, err)
			lastErr = p.errorRecord(name, err)
		} else {
			metrics[name] = value
			p.emit(event.Event{
				Type: event.TypePluginComplete, JobID: j.ID, Job: j,
				PluginName: name, Metrics: value, URL: page.URL,
			})
		}

		if obs, ok := pl.(PageObserver); ok {
			if err := p.guard("afterEach", func() error { return obs.AfterEach(ctx, page) }); err != nil {
				p.emitPluginError(j, name, err)
				lastErr = p.errorRecord(name, err)
			}
		}
	}
	return metrics, lastErr
}

// Execute drives before -> execute -> after for each enabled plugin against
// a playground run, strictly in configuration order. The began callback
// fires as a plugin takes the slot; observe fires once it finishes
// (successfully or not) so the engine can update progress between plugins,
// and may return a fresh job snapshot for the pluginComplete event. Returns
// the metric set keyed by plugin name and the last plugin error.
func (p *Pipeline) Execute(
	ctx context.Context,
	j *job.Job,
	run *Run,
	filter []string,
	began func(pluginName string),
	observe func(pluginName string, metrics any, failed bool) *job.Job,
) (job.MetricSet, *job.ErrorRecord) {
	metrics := make(job.MetricSet)
	var lastErr *job.ErrorRecord
	for _, pl := range p.Plugins(filter) {
		exec, ok := pl.(Executor)
		if !ok {
			continue
		}
		name := pl.Name()
		if began != nil {
			began(name)
		}
		p.emit(event.Event{Type: event.TypePluginStart, JobID: j.ID, Job: j, PluginName: name})

		failed := false
		if obs, ok := pl.(RunObserver); ok {
			if err := p.guard("before", func() error { return obs.Before(ctx, run) }); err != nil {
				p.emitPluginError(j, name, err)
				lastErr = p.errorRecord(name, err)
				failed = true
			}
		}

		var value any
		if !failed {
			err := p.guard("execute", func() error {
				v, execErr := exec.Execute(ctx, run)
				value = v
				return execErr
			})
			if err != nil {
				p.emitPluginError(j, name, err)
				lastErr = p.errorRecord(name, err)
				failed = true
			} else {
				metrics[name] = value
			}
		}

		if obs, ok := pl.(RunObserver); ok {
			if err := p.guard("after", func() error { return obs.After(ctx, run) }); err != nil {
				p.emitPluginError(j, name, err)
				lastErr = p.errorRecord(name, err)
			}
		}

		current := j
		if observe != nil {
			if fresh := observe(name, value, failed); fresh != nil {
				current = fresh
			}
		}
		if !failed {
			p.emit(event.Event{
				Type: event.TypePluginComplete, JobID: j.ID, Job: current,
				PluginName: name, Metrics: value,
			})
		}
	}
	return metrics, lastErr
}

// Summarize folds each plugin's ordered metric list into result.summary. A
// throwing summarize is logged and omitted; other summaries are unaffected.
func (p *Pipeline) Summarize(
	ctx context.Context,
	j *job.Job,
	collected []job.MetricSet,
	filter []string,
) map[string]any {
	summary := make(map[string]any)
	for _, pl := range p.Plugins(filter) {
		sum, ok := pl.(Summarizer)
		if !ok {
			continue
		}
		name := pl.Name()
		ordered := make([]any, 0, len(collected))
		for _, set := range collected {
			if v, ok := set[name]; ok {
				ordered = append(ordered, v)
			}
		}
		var value any
		err := p.guard("summarize", func() error {
			v, sumErr := sum.Summarize(ctx, ordered)
			value = v
			return sumErr
		})
		if err != nil {
			p.logger.Warn("plugin summarize failed",
				zap.String("job_id", j.ID),
				zap.String("plugin", name),
				zap.Error(err),
			)
			continue
		}
		summary[name] = value
	}
	return summary
}

// guard invokes a hook, converting panics into errors so one plugin cannot
// take down the pipeline. The hook's own error passes through unwrapped so
// its message lands verbatim on result.error.
func (p *Pipeline) guard(hook string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s hook panic: %v", hook, r)
		}
	}()
	return fn()
}

func (p *Pipeline) errorRecord(pluginName string, err error) *job.ErrorRecord {
	return &job.ErrorRecord{
		Message:   err.Error(),
		Plugin:    pluginName,
		Timestamp: p.now(),
	}
}

func (p *Pipeline) emitPluginError(j *job.Job, pluginName string, err error) {
	p.logger.Debug("plugin hook failed",
		zap.String("job_id", j.ID),
		zap.String("plugin", pluginName),
		zap.Error(err),
	)
	p.emit(event.Event{
		Type: event.TypePluginError, JobID: j.ID, Job: j,
		PluginName: pluginName, Err: err.Error(),
	})
}

func (p *Pipeline) emit(evt event.Event) {
	if p.bus == nil {
		return
	}
	if evt.TS.IsZero() {
		evt.TS = p.now()
	}
	p.bus.Publish(evt)
}

func (p *Pipeline) now() time.Time {
	if p.clock != nil {
		return p.clock.Now()
	}
	return time.Now().UTC()
}
