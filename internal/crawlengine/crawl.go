package crawlengine

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/crawld/crawld/internal/driver"
	"github.com/crawld/crawld/internal/event"
	"github.com/crawld/crawld/internal/job"
)

// target is one frontier entry.
type target struct {
	url   string
	depth int
}

// crawl holds the per-job traversal state: the visited set, the shared rate
// limiter, the robots policy, and the counters mirrored into Progress.
type crawl struct {
	engine  *Engine
	jobID   string
	params  job.Params
	limiter *rate.Limiter
	robots  RobotsPolicy
	logger  *zap.Logger

	mu       sync.Mutex
	visited  map[string]struct{}
	admitted int // pages accepted for visiting, capped by maxPages
	unique   int
	skipped  int
	failed   int
	analyzed int
}

func newCrawl(e *Engine, jobID string, params job.Params) *crawl {
	userAgent := params.UserAgent
	if userAgent == "" {
		userAgent = e.cfg.DefaultUserAgent
	}
	// Token bucket: refill maxRequestsPerMinute/60 per second, burst up to
	// the per-minute budget.
	limit := rate.Limit(float64(params.MaxRequestsPerMinute) / 60.0)
	return &crawl{
		engine:  e,
		jobID:   jobID,
		params:  params,
		limiter: rate.NewLimiter(limit, params.MaxRequestsPerMinute),
		robots:  NewRobotsEnforcer(params.RespectRobotsTxt, userAgent, e.httpClient, e.logger),
		logger:  e.logger.With(zap.String("job_id", jobID)),
		visited: make(map[string]struct{}),
	}
}

// run traverses the site breadth-first, one depth level at a time, with a
// bounded worker pool per level.
func (c *crawl) run(ctx context.Context) error {
	frontier := c.seed(ctx)
	if len(frontier) == 0 {
		return fmt.Errorf("no crawlable start url: %s", c.params.URL)
	}
	for depth := 0; len(frontier) > 0 && depth <= c.params.MaxDepth; depth++ {
		if ctx.Err() != nil {
			return fmt.Errorf("crawl aborted: %w", ctx.Err())
		}
		discovered := c.visitLevel(ctx, frontier)
		frontier = c.admit(ctx, discovered, depth+1)
	}
	return ctx.Err()
}

// seed builds the initial frontier from the sitemap (when configured) and
// the start URL. A sitemap failure downgrades to plain discovery.
func (c *crawl) seed(ctx context.Context) []target {
	var roots []string
	if c.params.SitemapURL != "" {
		locs, err := FetchSitemap(ctx, c.engine.httpClient, c.params.SitemapURL, c.engine.cfg.SitemapTimeout)
		if err != nil {
			c.logger.Warn("sitemap seeding failed", zap.Error(err))
		} else {
			roots = append(roots, locs...)
		}
	}
	roots = append(roots, c.params.URL)
	return c.admit(ctx, roots, 0)
}

// admit filters candidate URLs into frontier targets: normalization,
// dedupe against the visited set, the urlFilter predicate, robots.txt, and
// the page budget. Filtered and robots-disallowed URLs count as skipped;
// duplicates and over-budget URLs are dropped without counting. Only
// admitted URLs count toward uniqueUrls, so a rejected URL is never counted
// twice. admit is only called from the run goroutine; the lock just keeps
// the counters coherent for the workers, and is released around the robots
// check since that may fetch.
func (c *crawl) admit(ctx context.Context, candidates []string, depth int) []target {
	if depth > c.params.MaxDepth {
		return nil
	}
	var out []target
	skippedAny := false
	for _, raw := range candidates {
		norm, err := NormalizeURL(raw)
		if err != nil {
			continue
		}
		c.mu.Lock()
		if _, seen := c.visited[norm]; seen {
			c.mu.Unlock()
			continue
		}
		if c.admitted >= c.params.MaxPages {
			c.mu.Unlock()
			break
		}
		if c.params.URLFilter != nil && !c.params.URLFilter(norm) {
			c.visited[norm] = struct{}{}
			c.skipped++
			skippedAny = true
			c.mu.Unlock()
			continue
		}
		c.mu.Unlock()
		if !c.robots.Allowed(ctx, norm) {
			c.logger.Debug("url disallowed by robots", zap.String("url", norm))
			c.mu.Lock()
			c.visited[norm] = struct{}{}
			c.skipped++
			skippedAny = true
			c.mu.Unlock()
			continue
		}
		c.mu.Lock()
		c.visited[norm] = struct{}{}
		c.admitted++
		c.unique++
		c.mu.Unlock()
		out = append(out, target{url: norm, depth: depth})
	}
	if skippedAny {
		if _, err := c.sync(nil); err != nil {
			c.logger.Debug("record skips failed", zap.Error(err))
		}
	}
	return out
}

// visitLevel fans one frontier level out over the worker pool and returns
// every link discovered on it.
func (c *crawl) visitLevel(ctx context.Context, frontier []target) []string {
	workers := c.params.MaxConcurrency
	if workers > len(frontier) {
		workers = len(frontier)
	}
	if workers < 1 {
		workers = 1
	}
	work := make(chan target)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var discovered []string
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range work {
				links := c.visitOne(ctx, t)
				if len(links) > 0 {
					mu.Lock()
					discovered = append(discovered, links...)
					mu.Unlock()
				}
			}
		}()
	}
	for _, t := range frontier {
		work <- t
	}
	close(work)
	wg.Wait()
	return discovered
}

// visitOne fetches a single page through the driver, runs the pipeline over
// it, records the analysis, and returns the links to consider next. All
// failures here are page-level: counted, emitted, never fatal to the job.
func (c *crawl) visitOne(ctx context.Context, t target) []string {
	e := c.engine
	c.setCurrent(t)
	snapshot, err := e.store.Get(c.jobID)
	if err != nil {
		return nil
	}
	e.emit(event.Event{Type: event.TypePageStart, JobID: c.jobID, Job: &snapshot, URL: t.url})

	if err := c.limiter.Wait(ctx); err != nil {
		c.recordFailure(ctx, t, fmt.Errorf("rate limit wait: %w", err))
		return nil
	}

	pageCtx, cancel := context.WithTimeout(ctx, c.params.Timeout.PageTimeout())
	defer cancel()
	page, err := e.driver.Visit(pageCtx, driver.Request{
		URL:       t.url,
		Headers:   c.params.Headers,
		UserAgent: c.userAgent(),
		Timeout:   c.params.Timeout.PageTimeout(),
	})
	if err != nil {
		c.recordFailure(ctx, t, err)
		return nil
	}

	snapshot, err = e.store.Get(c.jobID)
	if err != nil {
		return nil
	}
	metrics, errRec := e.pipeline.EvaluatePage(ctx, &snapshot, page, page.LoadTime)

	analysis := job.PageAnalysis{
		URL:        t.url,
		Title:      page.Title,
		StatusCode: page.StatusCode,
		Depth:      t.depth,
		WordCount:  page.WordCount,
		LoadTimeMs: page.LoadTime.Milliseconds(),
		Metrics:    metrics,
		AnalyzedAt: e.clock.Now(),
	}

	c.mu.Lock()
	c.analyzed++
	analyzedSoFar := c.analyzed
	c.mu.Unlock()

	updated, err := c.sync(func(j *job.Job) {
		j.Result.Pages = append(j.Result.Pages, analysis)
		j.Result.Metrics = append(j.Result.Metrics, metrics)
		if errRec != nil {
			j.Result.Error = errRec
		}
	})
	if err != nil {
		c.logger.Warn("record page failed", zap.String("url", t.url), zap.Error(err))
		return page.Links
	}

	e.emit(event.Event{
		Type: event.TypePageComplete, JobID: c.jobID, Job: &updated,
		URL: t.url, Page: &analysis,
	})
	if analyzedSoFar%progressPageStride == 0 {
		e.emit(event.Event{Type: event.TypeProgress, JobID: c.jobID, Job: &updated})
	}
	return page.Links
}

func (c *crawl) recordFailure(_ context.Context, t target, cause error) {
	c.mu.Lock()
	c.failed++
	c.mu.Unlock()
	analysis := job.PageAnalysis{
		URL:        t.url,
		Depth:      t.depth,
		Error:      cause.Error(),
		AnalyzedAt: c.engine.clock.Now(),
	}
	updated, err := c.sync(func(j *job.Job) {
		j.Result.Pages = append(j.Result.Pages, analysis)
	})
	if err != nil {
		c.logger.Warn("record page failure failed", zap.String("url", t.url), zap.Error(err))
		return
	}
	c.engine.emit(event.Event{
		Type: event.TypePageError, JobID: c.jobID, Job: &updated,
		URL: t.url, Err: cause.Error(),
	})
}

func (c *crawl) setCurrent(t target) {
	if _, err := c.sync(func(j *job.Job) {
		j.Progress.CurrentURL = t.url
		j.Progress.CurrentDepth = t.depth
	}); err != nil {
		c.logger.Debug("set current url failed", zap.Error(err))
	}
}

// sync writes the crawl counters into the stored progress, applying extra
// on top when given.
func (c *crawl) sync(extra func(*job.Job)) (job.Job, error) {
	c.mu.Lock()
	unique, skipped, failed, analyzed := c.unique, c.skipped, c.failed, c.analyzed
	c.mu.Unlock()
	return c.engine.store.Update(c.jobID, func(j *job.Job) {
		j.Progress.UniqueURLs = unique
		j.Progress.SkippedURLs = skipped
		j.Progress.FailedURLs = failed
		j.Progress.PagesAnalyzed = analyzed
		j.Progress.TotalPages = unique + skipped + failed
		if extra != nil {
			extra(j)
		}
	})
}

func (c *crawl) userAgent() string {
	if c.params.UserAgent != "" {
		return c.params.UserAgent
	}
	return c.engine.cfg.DefaultUserAgent
}
