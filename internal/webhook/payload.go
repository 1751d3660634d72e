package webhook

import (
	"time"

	"github.com/crawld/crawld/internal/event"
	"github.com/crawld/crawld/internal/job"
)

// buildPayload assembles the outbound JSON object for one event. Every
// payload carries status, jobId and an ISO 8601 timestamp; the remaining
// fields depend on the status and the job kind.
func (e *Emitter) buildPayload(name string, evt event.Event) map[string]any {
	j := evt.Job
	ts := evt.TS
	if ts.IsZero() {
		ts = e.now()
	}
	payload := map[string]any{
		"status":    name,
		"jobId":     evt.JobID,
		"timestamp": ts.UTC().Format(time.RFC3339),
	}
	switch name {
	case StatusStarted:
		payload["config"] = startedConfig(j)
	case StatusProgress:
		if j.Kind == job.KindPlayground {
			payload["pluginName"] = evt.PluginName
			payload["metrics"] = evt.Metrics
			payload["progress"] = playgroundProgress(j)
		} else {
			payload["progress"] = crawlProgress(j, ts)
			if evt.Page != nil {
				payload["currentPage"] = currentPage(evt.Page)
			}
		}
	case StatusCompleted:
		payload["result"] = resultBody(j)
		payload["summary"] = completedSummary(j, ts)
	case StatusFailed:
		payload["error"] = evt.Err
		if j.Kind == job.KindPlayground {
			payload["progress"] = playgroundProgress(j)
		} else {
			payload["progress"] = crawlProgress(j, ts)
		}
	}
	return payload
}

func startedConfig(j *job.Job) map[string]any {
	cfg := map[string]any{}
	if j.Params.URL != "" {
		cfg["url"] = j.Params.URL
	}
	if len(j.Params.Plugins) > 0 {
		cfg["plugins"] = j.Params.Plugins
	}
	if j.Params.MaxDepth > 0 {
		cfg["maxDepth"] = j.Params.MaxDepth
	}
	if j.Params.MaxPages > 0 {
		cfg["maxPages"] = j.Params.MaxPages
	}
	return cfg
}

func crawlProgress(j *job.Job, now time.Time) map[string]any {
	p := j.Progress
	elapsed := now.Sub(p.StartTime).Milliseconds()
	if p.EndTime != nil {
		elapsed = p.EndTime.Sub(p.StartTime).Milliseconds()
	}
	return map[string]any{
		"pagesAnalyzed": p.PagesAnalyzed,
		"totalPages":    p.TotalPages,
		"currentUrl":    p.CurrentURL,
		"uniqueUrls":    p.UniqueURLs,
		"skippedUrls":   p.SkippedURLs,
		"failedUrls":    p.FailedURLs,
		"currentDepth":  p.CurrentDepth,
		"elapsedTime":   elapsed,
	}
}

func playgroundProgress(j *job.Job) map[string]any {
	p := j.Progress
	body := map[string]any{
		"status":           string(p.Status),
		"completedPlugins": append([]string{}, p.CompletedPlugins...),
	}
	if p.CurrentPlugin != "" {
		body["currentPlugin"] = p.CurrentPlugin
	}
	return body
}

func currentPage(page *job.PageAnalysis) map[string]any {
	body := map[string]any{"url": page.URL}
	if page.Title != "" {
		body["title"] = page.Title
	}
	if page.WordCount > 0 {
		body["wordCount"] = page.WordCount
	}
	return body
}

func resultBody(j *job.Job) map[string]any {
	body := map[string]any{}
	if j.Result == nil {
		return body
	}
	if len(j.Result.Pages) > 0 {
		body["pages"] = j.Result.Pages
	}
	if j.Result.Metrics != nil {
		body["metrics"] = j.Result.Metrics
	}
	if len(j.Result.Summary) > 0 {
		body["summary"] = j.Result.Summary
	}
	return body
}

func completedSummary(j *job.Job, now time.Time) map[string]any {
	p := j.Progress
	duration := now.Sub(p.StartTime).Milliseconds()
	if p.EndTime != nil {
		duration = p.EndTime.Sub(p.StartTime).Milliseconds()
	}
	summary := map[string]any{"duration": duration}
	if j.Kind == job.KindPlayground {
		summary["completedPlugins"] = len(p.CompletedPlugins)
	} else {
		summary["pagesAnalyzed"] = p.PagesAnalyzed
		summary["uniqueUrls"] = p.UniqueURLs
		summary["skippedUrls"] = p.SkippedURLs
		summary["failedUrls"] = p.FailedURLs
	}
	return summary
}
