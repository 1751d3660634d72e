// Package main wires together the crawld service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/crawld/crawld/internal/api"
	"github.com/crawld/crawld/internal/clock/system"
	"github.com/crawld/crawld/internal/config"
	"github.com/crawld/crawld/internal/crawlengine"
	"github.com/crawld/crawld/internal/driver"
	"github.com/crawld/crawld/internal/driver/chromedriver"
	"github.com/crawld/crawld/internal/driver/collydriver"
	"github.com/crawld/crawld/internal/event"
	"github.com/crawld/crawld/internal/id/uuid"
	"github.com/crawld/crawld/internal/job"
	"github.com/crawld/crawld/internal/metrics"
	"github.com/crawld/crawld/internal/playground"
	"github.com/crawld/crawld/internal/plugin"
	"github.com/crawld/crawld/internal/plugin/builtin"
	"github.com/crawld/crawld/internal/queue"
	"github.com/crawld/crawld/internal/webhook"
	"github.com/prometheus/client_golang/prometheus"
)

// kindMux routes a dispatched job to the engine that owns its kind.
type kindMux struct {
	store      *job.Store
	crawl      *crawlengine.Engine
	playground *playground.Engine
}

func (m *kindMux) StartJob(ctx context.Context, id string) error {
	j, err := m.store.Get(id)
	if err != nil {
		return err
	}
	if j.Kind == job.KindPlayground {
		return m.playground.StartJob(ctx, id)
	}
	return m.crawl.StartJob(ctx, id)
}

// newLogger builds the service zap.Logger: colored console output during
// development, JSON in production.
func newLogger(development bool) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if development {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zapCfg.EncoderConfig.TimeKey = "ts"
	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := newLogger(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := system.New()
	idGen := uuid.New()
	store := job.NewStore(clk)
	bus := event.NewBus(logger.Named("bus"))

	registry := plugin.NewRegistry()
	if err := builtin.Register(registry); err != nil {
		logger.Fatal("plugin registration failed", zap.Error(err))
	}
	pipeline := plugin.NewPipeline(registry.BuildAll(), bus, clk, logger.Named("pipeline"))
	pipeline.Initialize(ctx)
	defer pipeline.Destroy(context.Background())

	var pageDriver driver.PageDriver
	if cfg.Headless.Enabled {
		headless, err := chromedriver.New(chromedriver.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Crawler.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			logger.Warn("headless driver init failed; using static driver", zap.Error(err))
		} else {
			pageDriver = headless
		}
	}
	if pageDriver == nil {
		pageDriver = collydriver.New(collydriver.Config{UserAgent: cfg.Crawler.UserAgent})
	}
	defer func() {
		if err := pageDriver.Close(); err != nil {
			logger.Warn("driver close failed", zap.Error(err))
		}
	}()

	crawlEngine := crawlengine.New(
		store, bus, pipeline, pageDriver, clk, idGen, nil,
		crawlengine.Config{
			DefaultUserAgent: cfg.Crawler.UserAgent,
			SitemapTimeout:   cfg.SitemapTimeout(),
		},
		logger.Named("crawl"),
	)
	playgroundEngine := playground.New(
		store, bus, pipeline, clk, idGen, ctx, logger.Named("playground"),
	)

	mux := &kindMux{store: store, crawl: crawlEngine, playground: playgroundEngine}
	jobQueue := queue.New(mux, queue.Config{
		MaxDepth:    cfg.Queue.MaxDepth,
		BaseContext: ctx,
		Logger:      logger.Named("queue"),
	})
	crawlEngine.SetEnqueuer(jobQueue)

	emitter := webhook.NewEmitter(nil, clk, logger.Named("webhook"))
	emitter.Attach(bus)

	collector, err := metrics.NewCollector(prometheus.NewRegistry())
	if err != nil {
		logger.Fatal("metrics init failed", zap.Error(err))
	}
	collector.Attach(bus)
	if err := collector.RegisterQueueDepth(jobQueue.Length); err != nil {
		logger.Warn("queue depth gauge registration failed", zap.Error(err))
	}

	if cfg.Retention.Enabled {
		go func() {
			ticker := time.NewTicker(cfg.SweepInterval())
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if removed := store.Sweep(cfg.RetentionTTL()); removed > 0 {
						logger.Info("swept finished jobs", zap.Int("removed", removed))
					}
				}
			}
		}()
	}

	apiServer := api.NewServer(crawlEngine, playgroundEngine, jobQueue, collector.Handler(), logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := jobQueue.Close(shutdownCtx); err != nil {
		logger.Error("queue shutdown error", zap.Error(err))
	}
	if err := emitter.Close(shutdownCtx); err != nil {
		logger.Error("webhook drain error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
