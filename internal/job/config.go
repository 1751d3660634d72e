package job

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Default limits applied when a request leaves a knob unset.
const (
	DefaultMaxDepth             = 3
	DefaultMaxPages             = 100
	DefaultMaxRequestsPerMinute = 60
	DefaultMaxConcurrency       = 5
	DefaultTimeoutMs            = 30000
	DefaultWebhookRetries       = 3
)

// URLFilter is an in-process extension point; URLs for which it returns
// false are counted as skipped. It is never serialized.
type URLFilter func(url string) bool

// Timeouts carries the per-page and per-request timeouts in milliseconds.
type Timeouts struct {
	Page    int `json:"page,omitempty" validate:"omitempty,min=1000,max=60000"`
	Request int `json:"request,omitempty" validate:"omitempty,min=1000,max=60000"`
}

// PageTimeout returns the page timeout as a duration, defaulted.
func (t Timeouts) PageTimeout() time.Duration {
	if t.Page <= 0 {
		return DefaultTimeoutMs * time.Millisecond
	}
	return time.Duration(t.Page) * time.Millisecond
}

// RequestTimeout returns the request timeout as a duration, defaulted.
func (t Timeouts) RequestTimeout() time.Duration {
	if t.Request <= 0 {
		return DefaultTimeoutMs * time.Millisecond
	}
	return time.Duration(t.Request) * time.Millisecond
}

// WebhookConfig describes the outbound delivery target for job events.
type WebhookConfig struct {
	URL     string            `json:"url" validate:"required,url"`
	Headers map[string]string `json:"headers,omitempty"`
	Retries int               `json:"retries,omitempty" validate:"omitempty,min=1,max=5"`
	On      []string          `json:"on,omitempty"`
}

// RetryBudget returns the attempt count, defaulted.
func (w *WebhookConfig) RetryBudget() int {
	if w == nil || w.Retries <= 0 {
		return DefaultWebhookRetries
	}
	return w.Retries
}

// Wants reports whether the given external event name passes the per-job
// filter. An absent filter delivers everything; unknown names in the filter
// are ignored by construction.
func (w *WebhookConfig) Wants(event string) bool {
	if w == nil {
		return false
	}
	if len(w.On) == 0 {
		return true
	}
	for _, name := range w.On {
		if name == event {
			return true
		}
	}
	return false
}

func (w *WebhookConfig) clone() *WebhookConfig {
	if w == nil {
		return nil
	}
	cp := *w
	if w.Headers != nil {
		cp.Headers = make(map[string]string, len(w.Headers))
		for k, v := range w.Headers {
			cp.Headers[k] = v
		}
	}
	if w.On != nil {
		cp.On = append([]string(nil), w.On...)
	}
	return &cp
}

// Params is the frozen configuration snapshot attached to a job. Crawl and
// playground jobs populate different subsets; Kind discriminates.
type Params struct {
	// Crawl knobs.
	URL                  string            `json:"url,omitempty"`
	MaxDepth             int               `json:"maxDepth,omitempty" validate:"omitempty,min=1,max=10"`
	MaxPages             int               `json:"maxPages,omitempty" validate:"omitempty,min=1,max=1000"`
	MaxRequestsPerMinute int               `json:"maxRequestsPerMinute,omitempty" validate:"omitempty,min=1,max=300"`
	MaxConcurrency       int               `json:"maxConcurrency,omitempty" validate:"omitempty,min=1,max=100"`
	Timeout              Timeouts          `json:"timeout,omitempty"`
	Headers              map[string]string `json:"headers,omitempty"`
	UserAgent            string            `json:"userAgent,omitempty"`
	RespectRobotsTxt     bool              `json:"respectRobotsTxt,omitempty"`
	SitemapURL           string            `json:"sitemapUrl,omitempty"`
	URLFilter            URLFilter         `json:"-"`

	// Playground knobs.
	Input   any      `json:"input,omitempty"`
	Plugins []string `json:"plugins,omitempty"`

	// Shared knobs.
	Retries int            `json:"retries,omitempty" validate:"omitempty,min=0,max=10"`
	Webhook *WebhookConfig `json:"webhook,omitempty"`
}

func (p Params) clone() Params {
	cp := p
	if p.Headers != nil {
		cp.Headers = make(map[string]string, len(p.Headers))
		for k, v := range p.Headers {
			cp.Headers[k] = v
		}
	}
	if p.Plugins != nil {
		cp.Plugins = append([]string(nil), p.Plugins...)
	}
	cp.Webhook = p.Webhook.clone()
	return cp
}

// WithDefaults returns a copy with unset crawl limits replaced by defaults.
func (p Params) WithDefaults() Params {
	cp := p.clone()
	if cp.MaxDepth == 0 {
		cp.MaxDepth = DefaultMaxDepth
	}
	if cp.MaxPages == 0 {
		cp.MaxPages = DefaultMaxPages
	}
	if cp.MaxRequestsPerMinute == 0 {
		cp.MaxRequestsPerMinute = DefaultMaxRequestsPerMinute
	}
	if cp.MaxConcurrency == 0 {
		cp.MaxConcurrency = DefaultMaxConcurrency
	}
	return cp
}

var validate = validator.New()

// ValidateCrawl checks the parameter ranges for a crawl job. The webhook
// config is mandatory for crawl submissions.
func (p Params) ValidateCrawl() error {
	if p.URL == "" {
		return fmt.Errorf("crawl params: url is required")
	}
	if p.Webhook == nil {
		return fmt.Errorf("crawl params: webhook is required")
	}
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("crawl params: %w", err)
	}
	return nil
}

// ValidatePlayground checks the parameter ranges for a playground job.
func (p Params) ValidatePlayground() error {
	if p.Input == nil {
		return fmt.Errorf("playground params: input is required")
	}
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("playground params: %w", err)
	}
	return nil
}
