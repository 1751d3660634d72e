// Package api exposes the HTTP interface for the crawl and playground
// engines. The handlers are thin glue: validation and shaping live here,
// the job machinery lives in the engines.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/crawld/crawld/internal/crawlengine"
	"github.com/crawld/crawld/internal/job"
	"github.com/crawld/crawld/internal/playground"
	"github.com/crawld/crawld/internal/queue"
	"github.com/crawld/crawld/internal/webhook"
)

// Server wires HTTP handlers to the engines and the queue.
type Server struct {
	router     chi.Router
	crawl      *crawlengine.Engine
	playground *playground.Engine
	queue      *queue.Queue
	metrics    http.Handler
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	crawl *crawlengine.Engine,
	pg *playground.Engine,
	q *queue.Queue,
	metricsHandler http.Handler,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		crawl:      crawl,
		playground: pg,
		queue:      q,
		metrics:    metricsHandler,
		logger:     logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Route("/crawl", func(r chi.Router) {
		r.Get("/jobs/{job_id}", s.getCrawlJob)
		r.Get("/jobs/{job_id}/progress", s.getCrawlProgress)
		r.Post("/{site_domain}", s.submitCrawl)
	})

	r.Route("/playground/jobs", func(r chi.Router) {
		r.Post("/", s.submitPlayground)
		r.Route("/{job_id}", func(r chi.Router) {
			r.Get("/", s.getPlaygroundJob)
			r.Get("/progress", s.getPlaygroundProgress)
			r.Post("/start", s.startPlaygroundJob)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type timeoutRequest struct {
	Page    int `json:"page"`
	Request int `json:"request"`
}

type webhookRequest struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
	Retries int               `json:"retries"`
	On      []string          `json:"on"`
}

type crawlRequest struct {
	MaxDepth             int               `json:"maxDepth"`
	MaxPages             int               `json:"maxPages"`
	MaxRequestsPerMinute int               `json:"maxRequestsPerMinute"`
	MaxConcurrency       int               `json:"maxConcurrency"`
	Timeout              *timeoutRequest   `json:"timeout"`
	Headers              map[string]string `json:"headers"`
	UserAgent            string            `json:"userAgent"`
	RespectRobotsTxt     bool              `json:"respectRobotsTxt"`
	SitemapURL           string            `json:"sitemapUrl"`
	Webhook              *webhookRequest   `json:"webhook"`
}

func (s *Server) submitCrawl(w http.ResponseWriter, r *http.Request) {
	startURL, err := normalizeDomain(chi.URLParam(r, "site_domain"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid domain", err.Error())
		return
	}
	var req crawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid configuration", "body is not valid JSON")
		return
	}
	params := job.Params{
		URL:                  startURL,
		MaxDepth:             req.MaxDepth,
		MaxPages:             req.MaxPages,
		MaxRequestsPerMinute: req.MaxRequestsPerMinute,
		MaxConcurrency:       req.MaxConcurrency,
		Headers:              req.Headers,
		UserAgent:            req.UserAgent,
		RespectRobotsTxt:     req.RespectRobotsTxt,
		SitemapURL:           req.SitemapURL,
	}
	if req.Timeout != nil {
		params.Timeout = job.Timeouts{Page: req.Timeout.Page, Request: req.Timeout.Request}
	}
	if req.Webhook != nil {
		params.Webhook = &job.WebhookConfig{
			URL:     req.Webhook.URL,
			Headers: req.Webhook.Headers,
			Retries: req.Webhook.Retries,
			On:      req.Webhook.On,
		}
	}

	created, position, err := s.crawl.CreateJob(params)
	switch {
	case err == nil:
	case errors.Is(err, queue.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, "Queue full", "too many jobs queued, retry later")
		return
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "Invalid configuration",
			"issues": []string{err.Error()},
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Crawl of %s accepted", created.Params.URL),
		"jobId":   created.ID,
		"status":  "accepted",
		"queueInfo": map[string]any{
			"position":       position,
			"isProcessing":   s.queue.IsProcessing(),
			"estimatedStart": estimatedStart(position),
		},
		"webhook": map[string]any{
			"url":             created.Params.Webhook.URL,
			"expectedUpdates": expectedUpdates(created.Params.Webhook),
		},
	})
}

func (s *Server) getCrawlJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.crawl.GetJob(chi.URLParam(r, "job_id"))
	s.writeJob(w, j, err)
}

func (s *Server) getCrawlProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := s.crawl.GetProgress(chi.URLParam(r, "job_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Not found", "job not found")
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

type playgroundRequest struct {
	Input   any             `json:"input"`
	Retries int             `json:"retries"`
	Plugins []string        `json:"plugins"`
	Webhook *webhookRequest `json:"webhook"`
	Async   bool            `json:"async"`
}

func (s *Server) submitPlayground(w http.ResponseWriter, r *http.Request) {
	var req playgroundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid configuration", "body is not valid JSON")
		return
	}
	params := job.Params{
		Input:   req.Input,
		Retries: req.Retries,
		Plugins: req.Plugins,
	}
	if req.Webhook != nil {
		params.Webhook = &job.WebhookConfig{
			URL:     req.Webhook.URL,
			Headers: req.Webhook.Headers,
			Retries: req.Webhook.Retries,
			On:      req.Webhook.On,
		}
	}
	result, err := s.playground.CreateAndStart(r.Context(), params, req.Async)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "Invalid configuration",
			"issues": []string{err.Error()},
		})
		return
	}
	if req.Async {
		writeJSON(w, http.StatusOK, map[string]any{
			"jobId":   result.ID,
			"status":  "accepted",
			"message": "job is running; poll or use the webhook for updates",
		})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) startPlaygroundJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if err := s.playground.StartJob(r.Context(), jobID); err != nil {
		if errors.Is(err, job.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Not found", "job not found")
			return
		}
		s.logger.Warn("playground start failed", zap.String("job_id", jobID), zap.Error(err))
	}
	j, err := s.playground.GetJob(jobID)
	s.writeJob(w, j, err)
}

func (s *Server) getPlaygroundJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.playground.GetJob(chi.URLParam(r, "job_id"))
	s.writeJob(w, j, err)
}

func (s *Server) getPlaygroundProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := s.playground.GetProgress(chi.URLParam(r, "job_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Not found", "job not found")
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (s *Server) writeJob(w http.ResponseWriter, j job.Job, err error) {
	if err != nil {
		writeError(w, http.StatusNotFound, "Not found", "job not found")
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// normalizeDomain turns a raw path segment into a crawlable start URL by
// prefixing https:// (falling back to http://) and extracting the hostname.
func normalizeDomain(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("domain is empty")
	}
	for _, scheme := range []string{"https://", "http://"} {
		candidate := raw
		if !strings.Contains(candidate, "://") {
			candidate = scheme + candidate
		}
		parsed, err := url.Parse(candidate)
		if err != nil || parsed.Hostname() == "" {
			continue
		}
		if !strings.Contains(parsed.Hostname(), ".") {
			return "", fmt.Errorf("%q is not a valid domain", raw)
		}
		return fmt.Sprintf("https://%s/", strings.ToLower(parsed.Hostname())), nil
	}
	return "", fmt.Errorf("%q is not a valid domain", raw)
}

// expectedUpdates lists the statuses the webhook will actually receive
// given the per-job filter.
func expectedUpdates(cfg *job.WebhookConfig) []string {
	all := []string{
		webhook.StatusStarted,
		webhook.StatusProgress,
		webhook.StatusCompleted,
		webhook.StatusFailed,
	}
	out := make([]string, 0, len(all))
	for _, name := range all {
		if cfg.Wants(name) {
			out = append(out, name)
		}
	}
	return out
}

func estimatedStart(position int) string {
	if position <= 0 {
		return "immediate"
	}
	return fmt.Sprintf("after %d queued job(s)", position)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Warn("write response failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, errName, message string) {
	writeJSON(w, status, map[string]string{"error": errName, "message": message})
}
