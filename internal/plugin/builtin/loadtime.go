package builtin

import (
	"context"
	"time"

	"github.com/crawld/crawld/internal/driver"
	"github.com/crawld/crawld/internal/plugin"
)

// LoadTime is a crawl plugin that records page load latency.
type LoadTime struct {
	plugin.Base
}

// NewLoadTime constructs the loadtime plugin.
func NewLoadTime() *LoadTime {
	return &LoadTime{Base: plugin.NewBase("loadtime")}
}

// Evaluate reports the load time of the page in milliseconds.
func (p *LoadTime) Evaluate(_ context.Context, page *driver.Page, loadTime time.Duration) (any, error) {
	return map[string]any{
		"url":        page.URL,
		"loadTimeMs": loadTime.Milliseconds(),
		"statusCode": page.StatusCode,
	}, nil
}

// Summarize reports average and worst-case load times.
func (p *LoadTime) Summarize(_ context.Context, metrics []any) (any, error) {
	if len(metrics) == 0 {
		return map[string]any{"pages": 0}, nil
	}
	var total, worst int64
	for _, m := range metrics {
		set, ok := m.(map[string]any)
		if !ok {
			continue
		}
		ms, ok := set["loadTimeMs"].(int64)
		if !ok {
			continue
		}
		total += ms
		if ms > worst {
			worst = ms
		}
	}
	return map[string]any{
		"pages":     len(metrics),
		"avgMs":     total / int64(len(metrics)),
		"slowestMs": worst,
	}, nil
}
