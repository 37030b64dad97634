// Package app initializes and holds the long-lived services shared by the
// CLI commands, acting as a dependency injection container.
package app

import (
	"context"
	"fmt"

	gstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/previewkit/ogpipe/internal/clock/system"
	"github.com/previewkit/ogpipe/internal/config"
	"github.com/previewkit/ogpipe/internal/fetcher"
	"github.com/previewkit/ogpipe/internal/fonts"
	"github.com/previewkit/ogpipe/internal/logging"
	"github.com/previewkit/ogpipe/internal/ogimage"
	"github.com/previewkit/ogpipe/internal/optioncache"
	"github.com/previewkit/ogpipe/internal/progress"
	"github.com/previewkit/ogpipe/internal/progress/sinks"
	pubmemory "github.com/previewkit/ogpipe/internal/publisher/memory"
	"github.com/previewkit/ogpipe/internal/publisher/pubsub"
	"github.com/previewkit/ogpipe/internal/rules"
	"github.com/previewkit/ogpipe/internal/storage/gcs"
	"github.com/previewkit/ogpipe/internal/storage/local"
	"github.com/previewkit/ogpipe/internal/storage/memory"
)

// App holds the shared services: logger, blob store, publisher, progress
// reporter, option cache, and the rule resolver.
type App struct {
	Cfg       config.Config
	Logger    *zap.Logger
	Store     ogimage.BlobStore
	Publisher ogimage.Publisher
	Reporter  *progress.Reporter
	Cache     *optioncache.Cache
	Resolver  *rules.Resolver
	Fetcher   ogimage.Fetcher
	Fonts     *fonts.Resolver
	Clock     ogimage.Clock

	closers []func() error
}

// New builds an App from configuration. It fails fast if any critical
// service cannot be initialized.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &App{Cfg: cfg, Logger: logger}

	if err := a.initStore(ctx); err != nil {
		return nil, err
	}
	if err := a.initPublisher(ctx); err != nil {
		return nil, err
	}
	if err := a.initReporter(); err != nil {
		return nil, err
	}

	a.Clock = system.New()
	a.Cache = optioncache.New(optioncache.Config{
		StaticTTL:  cfg.StaticTTL(),
		DynamicTTL: cfg.DynamicTTL(),
		Clock:      a.Clock,
	})
	a.Resolver = rules.NewResolver(cfg.OverlayRules(), rules.Defaults{
		Provider: ogimage.Provider(cfg.Images.Provider),
		Width:    cfg.Images.Width,
		Height:   cfg.Images.Height,
	})
	a.Fetcher = fetcher.NewColly(fetcher.Config{
		UserAgent: cfg.Browser.UserAgent,
	})
	a.Fonts = fonts.New(fonts.Config{
		Endpoint:    cfg.Fonts.Endpoint,
		Ext:         cfg.Fonts.Ext,
		CachePrefix: cfg.Fonts.CachePrefix,
	}, a.Store, nil, logger)

	logger.Info("application services initialized",
		zap.String("storage", cfg.Storage.Provider),
		zap.String("publisher", cfg.Publisher.Provider))
	return a, nil
}

func (a *App) initStore(ctx context.Context) error {
	switch a.Cfg.Storage.Provider {
	case "local":
		baseDir := a.Cfg.Storage.BaseDir
		if baseDir == "" {
			baseDir = a.Cfg.Build.OutputDir
		}
		store, err := local.New(local.Config{BaseDir: baseDir})
		if err != nil {
			return fmt.Errorf("init local storage: %w", err)
		}
		a.Store = store
	case "memory":
		a.Store = memory.NewBlobStore()
	case "gcs":
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("init gcs client: %w", err)
		}
		store, err := gcs.New(client, gcs.Config{
			Bucket: a.Cfg.Storage.GCSBucket,
			Prefix: a.Cfg.Storage.Prefix,
		})
		if err != nil {
			return fmt.Errorf("init gcs storage: %w", err)
		}
		a.Store = store
		a.closers = append(a.closers, client.Close)
	default:
		return fmt.Errorf("unknown storage provider: %s", a.Cfg.Storage.Provider)
	}
	return nil
}

func (a *App) initPublisher(ctx context.Context) error {
	switch a.Cfg.Publisher.Provider {
	case "noop":
		a.Publisher = nil
	case "memory":
		a.Publisher = pubmemory.New()
	case "pubsub":
		pub, err := pubsub.New(ctx, a.Cfg.Publisher.ProjectID, a.Cfg.Publisher.Topic)
		if err != nil {
			return fmt.Errorf("init pubsub publisher: %w", err)
		}
		a.Publisher = pub
		a.closers = append(a.closers, pub.Close)
	default:
		return fmt.Errorf("unknown publisher provider: %s", a.Cfg.Publisher.Provider)
	}
	return nil
}

func (a *App) initReporter() error {
	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("init prometheus sink: %w", err)
	}
	a.Reporter = progress.NewReporter(a.Logger, sinks.NewLogSink(a.Logger), promSink)
	return nil
}

// Close gracefully shuts down all services in the container.
func (a *App) Close() {
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			a.Logger.Warn("close service", zap.Error(err))
		}
	}
	if err := a.Reporter.Close(context.Background()); err != nil {
		a.Logger.Warn("close reporter", zap.Error(err))
	}
	_ = a.Logger.Sync()
}
