// Package plugin defines the analysis plugin contract, the per-plugin
// storage, the registry, and the pipeline that runs plugins over pages and
// playground inputs.
package plugin

import (
	"context"
	"time"

	"github.com/crawld/crawld/internal/driver"
	"github.com/crawld/crawld/internal/job"
)

// Plugin is the base capability every plugin carries. The lifecycle hooks
// are optional and declared through the narrower interfaces below; the
// pipeline type-asserts for each hook at the call site.
type Plugin interface {
	Name() string
	Enabled() bool
}

// Initializer runs once when the engine is constructed.
type Initializer interface {
	Initialize(ctx context.Context) error
}

// Destroyer runs once at engine shutdown.
type Destroyer interface {
	Destroy(ctx context.Context) error
}

// CrawlObserver is notified at the boundaries of a crawl job.
type CrawlObserver interface {
	BeforeCrawl(ctx context.Context, j *job.Job) error
	AfterCrawl(ctx context.Context, j *job.Job) error
}

// PageObserver brackets the evaluation of each page.
type PageObserver interface {
	BeforeEach(ctx context.Context, page *driver.Page) error
	AfterEach(ctx context.Context, page *driver.Page) error
}

// Evaluator produces the per-page metric for crawl jobs. This is the one
// hook a crawl plugin must implement to contribute metrics.
type Evaluator interface {
	Evaluate(ctx context.Context, page *driver.Page, loadTime time.Duration) (any, error)
}

// Executor produces the per-run metric for playground jobs.
type Executor interface {
	Execute(ctx context.Context, run *Run) (any, error)
}

// RunObserver brackets a playground execution.
type RunObserver interface {
	Before(ctx context.Context, run *Run) error
	After(ctx context.Context, run *Run) error
}

// Summarizer folds the ordered metric list a plugin produced over a job into
// a single summary value.
type Summarizer interface {
	Summarize(ctx context.Context, metrics []any) (any, error)
}

// Run is the context a playground pipeline passes through its plugins.
type Run struct {
	JobID     string
	Input     any
	Output    any
	StartTime time.Time
	Storage   Storage
}

// Base provides the Plugin identity plumbing builtins embed.
type Base struct {
	name    string
	enabled bool
	storage Storage
}

// NewBase constructs an enabled Base with its own storage.
func NewBase(name string) Base {
	return Base{name: name, enabled: true, storage: NewStorage()}
}

// Name returns the unique plugin name.
func (b Base) Name() string { return b.name }

// Enabled reports whether the pipeline should run this plugin.
func (b Base) Enabled() bool { return b.enabled }

// Storage returns the plugin's isolated keyed store.
func (b Base) Storage() Storage { return b.storage }

// SetEnabled toggles the plugin.
func (b *Base) SetEnabled(enabled bool) { b.enabled = enabled }
