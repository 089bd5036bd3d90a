// Package app initializes and holds the long-lived services of the crawler,
// acting as the dependency injection container for the CLI commands.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bizradar-io/support-crawler/internal/analyze"
	"github.com/bizradar-io/support-crawler/internal/config"
	"github.com/bizradar-io/support-crawler/internal/dedup"
	"github.com/bizradar-io/support-crawler/internal/detail"
	"github.com/bizradar-io/support-crawler/internal/extract"
	"github.com/bizradar-io/support-crawler/internal/fetch"
	"github.com/bizradar-io/support-crawler/internal/fileutil"
	"github.com/bizradar-io/support-crawler/internal/job"
	"github.com/bizradar-io/support-crawler/internal/logging"
	"github.com/bizradar-io/support-crawler/internal/metrics"
	"github.com/bizradar-io/support-crawler/internal/objstore"
	"github.com/bizradar-io/support-crawler/internal/parser"
	"github.com/bizradar-io/support-crawler/internal/publisher"
	"github.com/bizradar-io/support-crawler/internal/store"
)

// App holds the shared services built once at startup: the database pool,
// the fetch layer (plain client plus the headless browser behind a host
// allowlist), blob storage, the event publisher, and the assembled job
// runner. Commands receive it fully wired and fail fast if any critical
// service cannot start.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	store   *store.Store
	browser *fetch.Browser
	blobs   *objstore.Store
	pub     *publisher.Publisher
	runner  *job.Runner
	ops     *metrics.Server
}

// New builds every service from cfg. Optional services (blob storage,
// Pub/Sub, the analysis model, docparse) stay nil when unconfigured and the
// pipeline degrades around them.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, "crawler")
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	metrics.Init()

	st, err := store.New(ctx, store.Config{
		DSN:             cfg.DB.DSN,
		MaxConns:        int32(cfg.DB.MaxConns),
		MinConns:        int32(cfg.DB.MinConns),
		MaxConnLifetime: time.Duration(cfg.DB.ConnLifetimeMin) * time.Minute,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	a := &App{cfg: cfg, logger: logger, store: st}

	retry := fetch.RetryPolicy{
		MaxAttempts: cfg.HTTP.MaxRetries + 1,
		BaseDelay:   time.Duration(cfg.HTTP.BackoffInitialMs) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.HTTP.BackoffMaxMs) * time.Millisecond,
	}
	plain := fetch.NewCollyClient(fetch.CollyConfig{
		UserAgent: cfg.Crawler.UserAgent,
		Timeout:   cfg.HTTPTimeout(),
	}, retry, logger)

	var fetcher fetch.Client = plain
	if cfg.Browser.Enabled {
		a.browser = fetch.NewBrowser(fetch.BrowserConfig{
			UserAgent:  cfg.Crawler.UserAgent,
			NavTimeout: time.Duration(cfg.Browser.NavTimeoutSec) * time.Second,
		}, logger)
		fetcher = fetch.NewRouter(plain, a.browser, fetch.NewAllowlist(cfg.Browser.Hosts), logger)
	}

	pageDelay := 1 / cfg.Crawler.PerSiteQPS
	paginator := parser.NewPaginator(fetcher, pageDelay, cfg.Crawler.MaxPages, logger)
	resolver := detail.NewResolver(fetcher, time.Duration(pageDelay*float64(time.Second)), logger)
	downloader := fileutil.NewDownloader(fetcher, cfg.MaxAttachmentBytes(), logger)

	var analyzer extract.Analyzer
	if client := analyze.NewClient(analyze.Config{
		APIKey:  cfg.OpenAI.APIKey,
		BaseURL: cfg.OpenAI.BaseURL,
		Model:   cfg.OpenAI.Model,
	}, logger); client != nil {
		analyzer = client
	}
	docparse := extract.NewDocparseClient(cfg.Docparse.BaseURL, cfg.HTTPTimeout())
	extractor := extract.NewService(docparse, analyzer, cfg.Crawler.ExtractMaxChars, logger)

	if cfg.Storage.GCSBucket != "" {
		a.blobs, err = objstore.New(ctx, cfg.Storage.GCSBucket, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init object storage: %w", err)
		}
	}
	a.pub, err = publisher.New(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init publisher: %w", err)
	}

	engine := dedup.NewEngine(st, logger)

	var uploader job.Uploader
	if a.blobs != nil {
		uploader = a.blobs
	}
	var pub job.Publisher
	if a.pub != nil {
		pub = a.pub
	}
	a.runner = job.NewRunner(
		st,
		parser.NewRegistry(),
		paginator,
		resolver,
		downloader,
		extractor,
		uploader,
		pub,
		engine,
		job.Options{
			WindowHours:    cfg.Crawler.WindowHours,
			TestModeCap:    cfg.Crawler.TestModeCap,
			ThrottleDelay:  cfg.ThrottleDelay(),
			MaxAttachments: cfg.Crawler.MaxAttachments,
		},
		logger,
	)
	a.ops = metrics.NewServer(cfg.Ops.Addr, logger)
	return a, nil
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Store exposes the database layer.
func (a *App) Store() *store.Store { return a.store }

// Runner returns the assembled job runner.
func (a *App) Runner() *job.Runner { return a.runner }

// Ops returns the health/metrics server.
func (a *App) Ops() *metrics.Server { return a.ops }

// Close tears the services down in reverse dependency order.
func (a *App) Close() {
	if a.browser != nil {
		a.browser.Close()
	}
	if a.pub != nil {
		if err := a.pub.Close(); err != nil {
			a.logger.Warn("close publisher", zap.Error(err))
		}
	}
	if a.blobs != nil {
		if err := a.blobs.Close(); err != nil {
			a.logger.Warn("close object storage", zap.Error(err))
		}
	}
	if a.store != nil {
		a.store.Close()
	}
	_ = a.logger.Sync()
}
