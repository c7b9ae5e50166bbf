// Package app builds the long-lived services a crawl command needs and tears
// them down again. It acts as the dependency container for the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/JakeFAU/archive-crawler/internal/api"
	"github.com/JakeFAU/archive-crawler/internal/clock/system"
	"github.com/JakeFAU/archive-crawler/internal/config"
	"github.com/JakeFAU/archive-crawler/internal/crawler"
	"github.com/JakeFAU/archive-crawler/internal/extract/ao3"
	collyfetcher "github.com/JakeFAU/archive-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/archive-crawler/internal/metrics"
	"github.com/JakeFAU/archive-crawler/internal/progress"
	progresssinks "github.com/JakeFAU/archive-crawler/internal/progress/sinks"
	"github.com/JakeFAU/archive-crawler/internal/storage"
	gcsstorage "github.com/JakeFAU/archive-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/archive-crawler/internal/storage/local"
	pgstore "github.com/JakeFAU/archive-crawler/internal/storage/postgres"
	"github.com/JakeFAU/archive-crawler/internal/store"
)

// App contains the crawl engine and its supporting services.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	controller *crawler.RunController
	hub        *progress.Hub
	registry   *prometheus.Registry
	metrics    *metrics.Collectors
	snapshot   *progresssinks.SnapshotSink
	runStore   *pgstore.RunStore
	exporter   storage.BlobStore
	gcs        *gcsstorage.BlobStore

	stopStatus context.CancelFunc
	statusDone chan error
}

// Build creates the application's dependencies. The fetcher may be nil, in
// which case a colly fetcher is built from cfg.
func Build(ctx context.Context, cfg config.Config, fetcher crawler.Fetcher, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		snapshot: progresssinks.NewSnapshotSink(16),
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(a.registry)
	if err != nil {
		return nil, err
	}
	a.metrics = m

	if err := a.setupDatabase(ctx); err != nil {
		return nil, err
	}
	if err := a.setupExport(ctx); err != nil {
		a.closeInfrastructure(ctx)
		return nil, err
	}
	if err := a.setupProgress(); err != nil {
		a.closeInfrastructure(ctx)
		return nil, err
	}

	if fetcher == nil {
		fetcher = collyfetcher.New(collyfetcher.Config{
			UserAgent:     cfg.Crawler.UserAgent,
			RespectRobots: cfg.Crawler.RespectRobots,
			Timeout:       cfg.Crawler.RequestTimeout,
			MaxBodySize:   cfg.Crawler.MaxBodyBytes,
			Logger:        logger.Named("fetcher"),
		})
		logger.Info("using colly fetcher",
			zap.String("user_agent", cfg.Crawler.UserAgent),
			zap.Bool("respect_robots", cfg.Crawler.RespectRobots),
		)
	}
	fetcher = a.metrics.InstrumentFetcher(fetcher)
	extractor := ao3.New(cfg.Crawler.BaseURL)
	engineCfg := cfg.Engine()
	a.controller = crawler.NewRunController(
		fetcher,
		extractor,
		extractor,
		system.New(),
		engineCfg,
		a.hub,
		logger.Named("crawler"),
	)
	logger.Info("crawl engine ready",
		zap.String("base_url", cfg.Crawler.BaseURL),
		zap.Duration("delay", engineCfg.Delay),
		zap.Int("max_retries", engineCfg.ItemPolicy.MaxRetries),
	)

	if cfg.Metrics.Addr != "" {
		a.startStatusServer(ctx)
	}
	return a, nil
}

// Controller returns the crawl engine.
func (a *App) Controller() *crawler.RunController {
	return a.controller
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Export copies finished output files to the configured blob store under
// <export.prefix>/<run id>. It is a no-op without an export provider.
func (a *App) Export(ctx context.Context, runID uuid.UUID, paths ...string) error {
	if a.exporter == nil {
		return nil
	}
	prefix := path.Join(a.cfg.Export.Prefix, runID.String())
	uris, err := storage.Export(ctx, a.exporter, prefix, paths...)
	if err != nil {
		return fmt.Errorf("export run output: %w", err)
	}
	for _, uri := range uris {
		a.logger.Info("exported run output", zap.String("uri", uri))
	}
	return nil
}

// Close flushes progress sinks, stops the status server and releases clients.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.stopStatus != nil {
		a.stopStatus()
		if err := <-a.statusDone; err != nil {
			errs = append(errs, err)
		}
	}
	a.closeInfrastructure(ctx)
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	return errors.Join(errs...)
}

func (a *App) closeInfrastructure(_ context.Context) {
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.runStore != nil {
		a.runStore.Close()
	}
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Debug("no db.dsn configured, run history disabled")
		return nil
	}
	s, err := pgstore.NewRunStore(ctx, pgstore.Config{
		DSN:         a.cfg.DB.DSN,
		TablePrefix: a.cfg.DB.TablePrefix,
		MaxConns:    a.cfg.DB.MaxConns,
	})
	if err != nil {
		return fmt.Errorf("run store init failed: %w", err)
	}
	if err := s.EnsureSchema(ctx); err != nil {
		s.Close()
		return err
	}
	a.runStore = s
	a.logger.Info("run history enabled", zap.String("table_prefix", a.cfg.DB.TablePrefix))
	return nil
}

func (a *App) setupExport(ctx context.Context) error {
	switch a.cfg.Export.Provider {
	case config.ExportGCS:
		s, err := gcsstorage.Dial(ctx, gcsstorage.Config{Bucket: a.cfg.Export.Bucket})
		if err != nil {
			return fmt.Errorf("gcs export init failed: %w", err)
		}
		a.gcs = s
		a.exporter = s
		a.logger.Info("exporting output to GCS", zap.String("bucket", a.cfg.Export.Bucket))
	case config.ExportLocal:
		s, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Export.BaseDir})
		if err != nil {
			return fmt.Errorf("local export init failed: %w", err)
		}
		a.exporter = s
		a.logger.Info("exporting output to directory", zap.String("dir", a.cfg.Export.BaseDir))
	}
	return nil
}

func (a *App) setupProgress() error {
	promSink, err := progresssinks.NewPrometheusSink(a.registry)
	if err != nil {
		return fmt.Errorf("prometheus sink init failed: %w", err)
	}
	sinkList := []progress.Sink{
		progresssinks.NewLogSink(a.logger.Named("progress_log")),
		promSink,
		a.snapshot,
	}
	if a.runStore != nil {
		sinkList = append(sinkList, progresssinks.NewStoreSink(a.runStore, a.logger.Named("progress_store")))
	}
	a.hub = progress.NewHub(progress.Config{Logger: a.logger.Named("progress_hub")}, sinkList...)
	return nil
}

func (a *App) startStatusServer(ctx context.Context) {
	var repo store.RunRepository
	if a.runStore != nil {
		repo = a.runStore
	}
	server := api.NewServer(a.snapshot, a.registry, repo, a.logger.Named("api"),
		api.WithMiddleware(a.metrics.Middleware))
	statusCtx, cancel := context.WithCancel(ctx)
	a.stopStatus = cancel
	a.statusDone = make(chan error, 1)
	go func() {
		err := server.ListenAndServe(statusCtx, a.cfg.Metrics.Addr)
		if err != nil {
			a.logger.Error("status server failed", zap.Error(err))
		}
		a.statusDone <- err
	}()
}
