// Package driver defines the page driver contract consumed by the crawl
// engine. Implementations wrap a concrete fetch mechanism (headless browser,
// plain HTTP) and hand back rendered pages with extracted links.
package driver

import (
	"context"
	"time"
)

// Request captures everything needed to visit a URL.
type Request struct {
	URL       string
	Headers   map[string]string
	UserAgent string
	Timeout   time.Duration
}

// Page is the result of one visit: the rendered document plus the timing and
// link data the engine and plugins consume.
type Page struct {
	// URL is the address that was requested.
	URL string
	// FinalURL is the address after redirects; equal to URL when none fired.
	FinalURL string
	// StatusCode is the HTTP status of the main document.
	StatusCode int
	// Title is the document title, possibly empty.
	Title string
	// HTML is the document markup as returned by the driver.
	HTML string
	// Links holds the absolute URLs extracted from anchors on the page.
	Links []string
	// WordCount is the driver's estimate of visible words.
	WordCount int
	// LoadTime measures navigation start to document ready.
	LoadTime time.Duration
}

// PageDriver opens URLs and returns page snapshots. Implementations must be
// safe for concurrent use; the crawl engine calls Visit from a worker pool.
type PageDriver interface {
	Visit(ctx context.Context, req Request) (*Page, error)
	Close() error
}
