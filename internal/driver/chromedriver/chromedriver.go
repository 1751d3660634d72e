// Package chromedriver implements driver.PageDriver using chromedp and
// headless Chrome. It renders JavaScript before snapshotting the page.
package chromedriver

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/crawld/crawld/internal/driver"
)

// Config controls the behavior of the headless driver.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
}

// Driver implements driver.PageDriver on a shared Chrome allocator. Each
// Visit runs in its own tab; MaxParallel bounds concurrent tabs.
type Driver struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// New creates a headless driver backed by chromedp.
func New(cfg Config) (*Driver, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Driver{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close cancels the allocator context, tearing down the browser.
func (d *Driver) Close() error {
	d.allocCancel()
	return nil
}

// Visit navigates with a headless tab and returns the fully rendered page.
func (d *Driver) Visit(ctx context.Context, req driver.Request) (*driver.Page, error) {
	if err := d.acquire(ctx); err != nil {
		return nil, err
	}
	defer d.release()

	taskCtx, taskCancel := chromedp.NewContext(d.allocator)
	defer taskCancel()

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = d.cfg.NavigationTimeout
	}
	taskCtx, cancel := context.WithTimeout(taskCtx, timeout)
	defer cancel()
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-taskCtx.Done():
		}
	}()

	meta := newResponseMeta(req.URL)
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	start := time.Now()
	snap, err := d.runHeadless(taskCtx, req)
	if err != nil {
		return nil, err
	}
	loadTime := time.Since(start)

	return &driver.Page{
		URL:        req.URL,
		FinalURL:   snap.finalURL,
		StatusCode: meta.status(),
		Title:      snap.title,
		HTML:       snap.html,
		Links:      snap.links,
		WordCount:  len(strings.Fields(snap.bodyText)),
		LoadTime:   loadTime,
	}, nil
}

type pageSnapshot struct {
	html     string
	title    string
	finalURL string
	bodyText string
	links    []string
}

func (d *Driver) runHeadless(ctx context.Context, req driver.Request) (pageSnapshot, error) {
	var snap pageSnapshot
	actions := []chromedp.Action{
		d.networkSetupAction(req),
		chromedp.Navigate(req.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.Location(&snap.finalURL),
		chromedp.Title(&snap.title),
		chromedp.OuterHTML("html", &snap.html, chromedp.ByQuery),
		chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &snap.bodyText),
		chromedp.Evaluate(
			`Array.from(document.querySelectorAll("a[href]")).map(a => a.href)`,
			&snap.links,
		),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return pageSnapshot{}, fmt.Errorf("chromedp run: %w", err)
	}
	return snap, nil
}

func (d *Driver) networkSetupAction(req driver.Request) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network: %w", err)
		}
		headers := make(network.Headers, len(req.Headers)+1)
		for k, v := range req.Headers {
			headers[k] = v
		}
		userAgent := req.UserAgent
		if userAgent == "" {
			userAgent = d.cfg.UserAgent
		}
		if userAgent != "" {
			headers["User-Agent"] = userAgent
		}
		if len(headers) == 0 {
			return nil
		}
		if err := network.SetExtraHTTPHeaders(headers).Do(ctx); err != nil {
			return fmt.Errorf("set extra headers: %w", err)
		}
		return nil
	})
}

func (d *Driver) acquire(ctx context.Context) error {
	if d.limiter == nil {
		return nil
	}
	select {
	case d.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("acquire headless slot: %w", ctx.Err())
	}
}

func (d *Driver) release() {
	if d.limiter == nil {
		return
	}
	<-d.limiter
}

// responseMeta captures the main document's response status from CDP
// network events.
type responseMeta struct {
	mu         sync.Mutex
	requestURL string
	statusCode int
}

func newResponseMeta(url string) *responseMeta {
	return &responseMeta{requestURL: url}
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statusCode == 0 {
		m.statusCode = int(resp.Response.Status)
	}
}

func (m *responseMeta) status() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statusCode == 0 {
		return 200
	}
	return m.statusCode
}
