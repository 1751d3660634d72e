// Package collydriver implements driver.PageDriver using the Colly
// collector. It fetches static HTML without executing JavaScript, which
// makes it the cheap default for sites that render server-side.
package collydriver

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/crawld/crawld/internal/driver"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Driver implements driver.PageDriver using a cloned Colly collector per
// visit. The base collector carries shared transport settings.
type Driver struct {
	cfg           Config
	baseCollector *colly.Collector
}

// New builds a Driver.
func New(cfg Config) *Driver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true // robots enforcement lives in the engine
	return &Driver{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Close implements driver.PageDriver; the collector holds no resources
// beyond its transport pool.
func (d *Driver) Close() error { return nil }

// Visit fetches a single URL and extracts the links, title and word count
// from the returned document.
func (d *Driver) Visit(ctx context.Context, req driver.Request) (*driver.Page, error) {
	collector := d.baseCollector.Clone()
	collector.IgnoreRobotsTxt = true
	userAgent := req.UserAgent
	if userAgent == "" {
		userAgent = d.cfg.UserAgent
	}
	if userAgent != "" {
		collector.UserAgent = userAgent
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = d.cfg.Timeout
	}
	collector.SetRequestTimeout(timeout)

	var (
		mu       sync.Mutex
		page     = &driver.Page{URL: req.URL}
		fetchErr error
	)

	collector.OnRequest(func(r *colly.Request) {
		for k, v := range req.Headers {
			r.Headers.Set(k, v)
		}
		select {
		case <-ctx.Done():
			r.Abort()
		default:
		}
	})

	start := time.Now()
	collector.OnResponse(func(r *colly.Response) {
		mu.Lock()
		defer mu.Unlock()
		page.StatusCode = r.StatusCode
		page.FinalURL = r.Request.URL.String()
		page.HTML = string(r.Body)
		page.LoadTime = time.Since(start)
	})
	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		link := e.Request.AbsoluteURL(e.Attr("href"))
		if link == "" {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		page.Links = append(page.Links, link)
	})
	collector.OnError(func(r *colly.Response, err error) {
		mu.Lock()
		defer mu.Unlock()
		if r != nil {
			page.StatusCode = r.StatusCode
		}
		fetchErr = err
	})

	if err := collector.Visit(req.URL); err != nil {
		return nil, fmt.Errorf("visit %s: %w", req.URL, err)
	}
	collector.Wait()

	mu.Lock()
	defer mu.Unlock()
	if fetchErr != nil {
		return nil, fmt.Errorf("visit %s: %w", req.URL, fetchErr)
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("visit %s: %w", req.URL, ctx.Err())
	}
	d.enrich(page)
	return page, nil
}

// enrich fills title and word count from the fetched markup.
func (d *Driver) enrich(page *driver.Page) {
	if page.HTML == "" {
		return
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return
	}
	page.Title = strings.TrimSpace(doc.Find("title").First().Text())
	page.WordCount = len(strings.Fields(doc.Find("body").Text()))
}
