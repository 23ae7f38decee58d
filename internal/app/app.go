// Package app initializes and holds long-lived application services.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	gstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/veilletech/sitewatch/internal/api"
	"github.com/veilletech/sitewatch/internal/clock/system"
	"github.com/veilletech/sitewatch/internal/config"
	"github.com/veilletech/sitewatch/internal/cycle"
	"github.com/veilletech/sitewatch/internal/digest"
	"github.com/veilletech/sitewatch/internal/enrich"
	"github.com/veilletech/sitewatch/internal/fetch"
	"github.com/veilletech/sitewatch/internal/fetch/headless"
	"github.com/veilletech/sitewatch/internal/hash/sha256"
	"github.com/veilletech/sitewatch/internal/id/uuid"
	"github.com/veilletech/sitewatch/internal/logging"
	"github.com/veilletech/sitewatch/internal/metrics"
	"github.com/veilletech/sitewatch/internal/notify"
	memorypublisher "github.com/veilletech/sitewatch/internal/publisher/memory"
	gcppublisher "github.com/veilletech/sitewatch/internal/publisher/pubsub"
	"github.com/veilletech/sitewatch/internal/report"
	"github.com/veilletech/sitewatch/internal/runlock"
	"github.com/veilletech/sitewatch/internal/search"
	filestore "github.com/veilletech/sitewatch/internal/store/file"
	memorystore "github.com/veilletech/sitewatch/internal/store/memory"
	pgstore "github.com/veilletech/sitewatch/internal/store/postgres"
	gcsstorage "github.com/veilletech/sitewatch/internal/storage/gcs"
	localstorage "github.com/veilletech/sitewatch/internal/storage/local"
	memorystorage "github.com/veilletech/sitewatch/internal/storage/memory"
	"github.com/veilletech/sitewatch/internal/watch"
)

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	apiServer *api.Server
	runner    *cycle.Runner

	gcsClient *gstorage.Client
	pgStore   *pgstore.Store
	pubsubPub *gcppublisher.Publisher
	renderer  *headless.Renderer
}

// Runner exposes the cycle runner, mainly for command-line one-shot runs.
func (a *App) Runner() *cycle.Runner {
	return a.runner
}

// Logger exposes the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Build creates the application's dependencies from configuration.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies", zap.Int("port", cfg.Server.Port))

	store, err := setupStore(ctx, app)
	if err != nil {
		return nil, err
	}
	blobs, err := setupSnapshots(ctx, app)
	if err != nil {
		return nil, err
	}
	publisher, topicName, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}
	notifier, err := setupNotifier(app)
	if err != nil {
		return nil, err
	}
	fetcher := setupFetcher(app)

	provider := search.New(search.Config{
		APIKey:      cfg.Search.APIKey,
		BaseURL:     cfg.Search.BaseURL,
		Model:       cfg.Search.Model,
		ContextSize: cfg.Search.ContextSize,
		Location: search.Location{
			Country: cfg.Search.Country,
			City:    cfg.Search.City,
			Region:  cfg.Search.Region,
		},
		MaxAttempts:     cfg.Search.MaxAttempts,
		InitialDelay:    cfg.Search.InitialDelay(),
		RequestTimeout:  cfg.Search.RequestTimeout(),
		MaxOutputTokens: cfg.Search.MaxOutputTokens,
	}, logger.Named("search"))

	hasher := sha256.New()
	clock := system.New()
	idGen := uuid.NewGenerator()

	var enricher watch.Enricher
	if cfg.Watch.Enrich {
		enricher = enrich.New(
			enrich.Config{SnapshotPrefix: cfg.Snapshots.Prefix},
			provider,
			fetcher,
			blobs,
			hasher,
			logger.Named("enrich"),
		)
	}

	compiler := report.NewCompiler(provider, logger.Named("report"))
	lock := runlock.New(cfg.Watch.LockPath, cfg.Watch.LockTTL(), logger.Named("runlock"))

	app.runner = cycle.New(
		cycle.Config{
			WatchListPath: cfg.Watch.ListPath,
			WindowDays:    cfg.Watch.WindowDays,
			SiteWorkers:   cfg.Watch.SiteWorkers,
			Topic:         topicName,
			Subject:       cfg.Watch.Subject,
		},
		lock,
		store,
		provider,
		enricher,
		compiler,
		notifier,
		publisher,
		clock,
		idGen,
		logger.Named("cycle"),
	)

	digestSvc := digest.New(
		digest.Config{Articles: cfg.Digest.Articles, Subject: cfg.Digest.Subject},
		provider,
		notifier,
		logger.Named("digest"),
	)

	app.apiServer = api.NewServer(app.runner, store, digestSvc, idGen, cfg, logger.Named("api"))
	return app, nil
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	return a.Close()
}

// Close gracefully shuts down the application's infrastructure clients.
func (a *App) Close() error {
	if a.renderer != nil {
		a.renderer.Close()
	}
	if a.pubsubPub != nil {
		if err := a.pubsubPub.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
	if err := a.logger.Sync(); err != nil {
		// Sync to a terminal fails on some platforms; nothing useful to do.
		_ = err
	}
	a.logger.Info("shutdown complete")
	return nil
}

func setupStore(ctx context.Context, app *App) (watch.Store, error) {
	switch app.cfg.Store.Driver {
	case "postgres":
		app.logger.Info("using postgres memory store")
		store, err := pgstore.New(ctx, pgstore.Config{
			DSN:      app.cfg.Store.DSN,
			MaxConns: app.cfg.Store.MaxConns,
			MinConns: app.cfg.Store.MinConns,
		}, app.logger.Named("store"))
		if err != nil {
			return nil, fmt.Errorf("postgres store init failed: %w", err)
		}
		app.pgStore = store
		return store, nil
	case "memory":
		app.logger.Info("using in-memory memory store")
		return memorystore.New(), nil
	default:
		app.logger.Info("using file memory store", zap.String("path", app.cfg.Store.Path))
		store, err := filestore.New(app.cfg.Store.Path, app.logger.Named("store"))
		if err != nil {
			return nil, fmt.Errorf("file store init failed: %w", err)
		}
		return store, nil
	}
}

func setupSnapshots(ctx context.Context, app *App) (watch.BlobStore, error) {
	if !app.cfg.Snapshots.Enabled {
		app.logger.Info("page snapshots disabled")
		return nil, nil
	}
	switch app.cfg.Snapshots.Driver {
	case "gcs":
		app.logger.Info("using GCS snapshot store", zap.String("bucket", app.cfg.Snapshots.Bucket))
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.gcsClient = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: app.cfg.Snapshots.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs snapshot store init failed: %w", err)
		}
		return blobs, nil
	case "memory":
		app.logger.Info("using in-memory snapshot store")
		return memorystorage.NewBlobStore(), nil
	default:
		app.logger.Info("using local snapshot store", zap.String("base_dir", app.cfg.Snapshots.BaseDir))
		blobs, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Snapshots.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local snapshot store init failed: %w", err)
		}
		return blobs, nil
	}
}

func setupPublisher(ctx context.Context, app *App) (watch.Publisher, string, error) {
	switch app.cfg.Publisher.Driver {
	case "pubsub":
		app.logger.Info("using Pub/Sub cycle event publisher",
			zap.String("project", app.cfg.Publisher.ProjectID),
			zap.String("topic", app.cfg.Publisher.TopicName),
		)
		pub, err := gcppublisher.New(ctx, app.cfg.Publisher.ProjectID, app.cfg.Publisher.TopicName)
		if err != nil {
			return nil, "", fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		app.pubsubPub = pub
		return pub, app.cfg.Publisher.TopicName, nil
	case "memory":
		app.logger.Info("using in-memory cycle event publisher")
		topic := app.cfg.Publisher.TopicName
		if topic == "" {
			topic = "cycles"
		}
		return memorypublisher.New(), topic, nil
	default:
		app.logger.Info("cycle event publishing disabled")
		return nil, "", nil
	}
}

func setupNotifier(app *App) (watch.Notifier, error) {
	if app.cfg.Notify.Driver != "mail" {
		app.logger.Info("notifications disabled, using noop notifier")
		return notify.NewNoop(app.logger.Named("notify")), nil
	}
	app.logger.Info("using mail API notifier", zap.String("endpoint", app.cfg.Notify.Endpoint))
	client, err := notify.NewMailClient(notify.Config{
		Endpoint: app.cfg.Notify.Endpoint,
		APIKey:   app.cfg.Notify.APIKey,
		Timeout:  app.cfg.Notify.Timeout(),
		To:       app.cfg.Notify.To,
		CC:       app.cfg.Notify.CC,
		BCC:      app.cfg.Notify.BCC,
	}, app.logger.Named("notify"))
	if err != nil {
		return nil, fmt.Errorf("mail notifier init failed: %w", err)
	}
	return client, nil
}

func setupFetcher(app *App) watch.Fetcher {
	probe := fetch.New(fetch.Config{
		UserAgent:     app.cfg.Fetch.UserAgent,
		RespectRobots: !app.cfg.Fetch.IgnoreRobots,
		Timeout:       app.cfg.Fetch.Timeout(),
		MaxRetries:    app.cfg.Fetch.MaxRetries,
		BackoffBase:   app.cfg.Fetch.BackoffInitial(),
		BackoffMax:    app.cfg.Fetch.BackoffMax(),
		MaxBodyBytes:  app.cfg.Fetch.MaxBodyBytes,
	}, app.logger.Named("fetch"))
	app.logger.Info("using colly page fetcher", zap.String("user_agent", app.cfg.Fetch.UserAgent))

	if !app.cfg.Headless.Enabled {
		return probe
	}
	renderer, err := headless.New(headless.Config{
		MaxConcurrency: app.cfg.Headless.MaxParallel,
		NavTimeout:     app.cfg.Headless.NavTimeout(),
		DomainQPS:      app.cfg.Headless.DomainQPS,
		UserAgent:      app.cfg.Fetch.UserAgent,
	}, app.logger.Named("headless"))
	if err != nil {
		app.logger.Warn("headless renderer init failed, rendering disabled", zap.Error(err))
		return probe
	}
	app.renderer = renderer
	app.logger.Info("headless rendering enabled", zap.Int("max_parallel", app.cfg.Headless.MaxParallel))
	return fetch.NewRenderingClient(
		probe,
		renderer,
		fetch.NewPromoter(app.cfg.Headless.PromotionThresh),
		app.logger.Named("promote"),
	)
}
