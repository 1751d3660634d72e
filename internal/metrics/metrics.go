// Package metrics exports Prometheus collectors fed from the event bus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crawld/crawld/internal/event"
)

// Collector owns the Prometheus collectors for jobs, pages, plugins, and
// webhook-relevant progress. It subscribes to the event bus and needs no
// cooperation from the engines.
type Collector struct {
	registry prometheus.Registerer
	gatherer prometheus.Gatherer

	jobsStarted   prometheus.Counter
	jobsFinished  *prometheus.CounterVec
	jobsRunning   prometheus.Gauge
	jobRuntime    *prometheus.HistogramVec
	pagesTotal    *prometheus.CounterVec
	pluginEvents  *prometheus.CounterVec
	progressTicks prometheus.Counter
}

// NewCollector registers the collectors against the provided registry. A
// nil registry is replaced by a fresh, private registry.
func NewCollector(reg *prometheus.Registry) (*Collector, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	c := &Collector{
		registry: reg,
		gatherer: reg,
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawld_jobs_started_total",
			Help: "Total jobs that have started running.",
		}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawld_jobs_finished_total",
			Help: "Total jobs finished partitioned by result.",
		}, []string{"result"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawld_jobs_running",
			Help: "Current number of running jobs.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawld_job_runtime_seconds",
			Help:    "Wall time per finished job.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		pagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawld_pages_total",
			Help: "Pages processed partitioned by outcome.",
		}, []string{"outcome"}),
		pluginEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawld_plugin_events_total",
			Help: "Plugin hook completions partitioned by plugin and outcome.",
		}, []string{"plugin", "outcome"}),
		progressTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawld_progress_events_total",
			Help: "Periodic progress events emitted by running jobs.",
		}),
	}
	collectors := []prometheus.Collector{
		c.jobsStarted, c.jobsFinished, c.jobsRunning, c.jobRuntime,
		c.pagesTotal, c.pluginEvents, c.progressTicks,
	}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// RegisterQueueDepth exposes the queue length as a gauge.
func (c *Collector) RegisterQueueDepth(length func() int) error {
	return c.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "crawld_queue_depth",
		Help: "Jobs waiting in the dispatch queue.",
	}, func() float64 { return float64(length()) }))
}

// Attach subscribes the collector to every event kind on the bus.
func (c *Collector) Attach(bus *event.Bus) {
	bus.SubscribeAll(c.handle)
}

// Handler serves the metrics endpoint for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

func (c *Collector) handle(evt event.Event) {
	switch evt.Type {
	case event.TypeJobStart:
		c.jobsStarted.Inc()
		c.jobsRunning.Inc()
	case event.TypeJobComplete:
		c.jobsRunning.Dec()
		c.jobsFinished.WithLabelValues("completed").Inc()
		c.observeRuntime(evt, "completed")
	case event.TypeJobError:
		c.jobsRunning.Dec()
		c.jobsFinished.WithLabelValues("failed").Inc()
		c.observeRuntime(evt, "failed")
	case event.TypePageComplete:
		c.pagesTotal.WithLabelValues("analyzed").Inc()
	case event.TypePageError:
		c.pagesTotal.WithLabelValues("failed").Inc()
	case event.TypePluginComplete:
		c.pluginEvents.WithLabelValues(evt.PluginName, "complete").Inc()
	case event.TypePluginError:
		c.pluginEvents.WithLabelValues(evt.PluginName, "error").Inc()
	case event.TypeProgress:
		c.progressTicks.Inc()
	}
}

func (c *Collector) observeRuntime(evt event.Event, result string) {
	if evt.Job == nil || evt.Job.Progress.EndTime == nil {
		return
	}
	runtime := evt.Job.Progress.EndTime.Sub(evt.Job.Progress.StartTime).Seconds()
	if runtime < 0 {
		return
	}
	c.jobRuntime.WithLabelValues(result).Observe(runtime)
}
