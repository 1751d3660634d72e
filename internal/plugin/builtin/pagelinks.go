package builtin

import (
	"context"
	"net/url"
	"time"

	"github.com/crawld/crawld/internal/driver"
	"github.com/crawld/crawld/internal/plugin"
)

// PageLinks is a crawl plugin that classifies each page's outgoing links as
// internal or external to the page's host.
type PageLinks struct {
	plugin.Base
}

// NewPageLinks constructs the pagelinks plugin.
func NewPageLinks() *PageLinks {
	return &PageLinks{Base: plugin.NewBase("pagelinks")}
}

// Evaluate partitions the extracted links by host.
func (p *PageLinks) Evaluate(_ context.Context, page *driver.Page, _ time.Duration) (any, error) {
	base, err := url.Parse(page.URL)
	if err != nil {
		return nil, err
	}
	internal, external := 0, 0
	for _, link := range page.Links {
		parsed, err := url.Parse(link)
		if err != nil {
			continue
		}
		if parsed.Hostname() == base.Hostname() {
			internal++
		} else {
			external++
		}
	}
	return map[string]any{
		"url":      page.URL,
		"total":    len(page.Links),
		"internal": internal,
		"external": external,
	}, nil
}

// Summarize totals link counts across pages.
func (p *PageLinks) Summarize(_ context.Context, metrics []any) (any, error) {
	total, internal, external := 0, 0, 0
	for _, m := range metrics {
		set, ok := m.(map[string]any)
		if !ok {
			continue
		}
		if n, ok := set["total"].(int); ok {
			total += n
		}
		if n, ok := set["internal"].(int); ok {
			internal += n
		}
		if n, ok := set["external"].(int); ok {
			external += n
		}
	}
	return map[string]any{
		"totalLinks":    total,
		"internalLinks": internal,
		"externalLinks": external,
	}, nil
}
