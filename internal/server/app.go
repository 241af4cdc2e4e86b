// Package server wires configuration into a running crawler: stores, queue,
// worker, scheduler, event hub, and the HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-crawler/internal/api"
	"github.com/JakeFAU/realtime-news-crawler/internal/clock/system"
	"github.com/JakeFAU/realtime-news-crawler/internal/config"
	"github.com/JakeFAU/realtime-news-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-news-crawler/internal/dispatcher"
	"github.com/JakeFAU/realtime-news-crawler/internal/executor"
	"github.com/JakeFAU/realtime-news-crawler/internal/hash/sha256"
	"github.com/JakeFAU/realtime-news-crawler/internal/id/uuid"
	"github.com/JakeFAU/realtime-news-crawler/internal/ingest"
	"github.com/JakeFAU/realtime-news-crawler/internal/logging"
	"github.com/JakeFAU/realtime-news-crawler/internal/metrics"
	"github.com/JakeFAU/realtime-news-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/realtime-news-crawler/internal/progress"
	progresssinks "github.com/JakeFAU/realtime-news-crawler/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/realtime-news-crawler/internal/publisher/memory"
	natspublisher "github.com/JakeFAU/realtime-news-crawler/internal/publisher/nats"
	gcppublisher "github.com/JakeFAU/realtime-news-crawler/internal/publisher/pubsub"
	rabbitpublisher "github.com/JakeFAU/realtime-news-crawler/internal/publisher/rabbitmq"
	"github.com/JakeFAU/realtime-news-crawler/internal/queue"
	queuebadger "github.com/JakeFAU/realtime-news-crawler/internal/queue/badger"
	queuememory "github.com/JakeFAU/realtime-news-crawler/internal/queue/memory"
	"github.com/JakeFAU/realtime-news-crawler/internal/scheduler"
	"github.com/JakeFAU/realtime-news-crawler/internal/sources"
	gcsstorage "github.com/JakeFAU/realtime-news-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/realtime-news-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/realtime-news-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/realtime-news-crawler/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/realtime-news-crawler/internal/storage/sqlite"
	"github.com/JakeFAU/realtime-news-crawler/internal/telemetry"
	"github.com/JakeFAU/realtime-news-crawler/internal/worker"
)

// Option adjusts Build.
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
	logger     *zap.Logger
}

// WithRegisterer registers lifecycle collectors on reg instead of the default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithLogger uses logger instead of building one from the config.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

type closer struct {
	name string
	fn   func(context.Context) error
}

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	store     crawler.Store
	queue     *queue.Service
	hub       *progress.Hub
	registry  *sources.Registry
	worker    *worker.Worker
	scheduler *scheduler.Scheduler
	apiServer *api.Server
	tracer    *sdktrace.TracerProvider
	closers   []closer
}

// Build creates the application's dependencies. On error everything opened so
// far is closed.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (_ *App, err error) {
	o := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger, err = logging.New(cfg.Logging.Development, cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}

	app := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = app.Close(context.Background())
		}
	}()

	metrics.Init()
	if cfg.Tracing.Enabled {
		app.tracer, err = telemetry.InitTracerProvider(ctx, telemetry.Config{
			ServiceName: cfg.Tracing.ServiceName,
			SampleRatio: cfg.Tracing.SampleRatio,
		})
		if err != nil {
			return nil, fmt.Errorf("tracer init failed: %w", err)
		}
		app.addCloser("tracer", app.tracer.Shutdown)
	}

	if err = app.setupStore(ctx); err != nil {
		return nil, err
	}
	blobs, err := app.setupBlobStore(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := app.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}
	if err = app.setupProgress(ctx, publisher, o.registerer); err != nil {
		return nil, err
	}
	if err = app.setupQueue(ctx); err != nil {
		return nil, err
	}

	clock := system.New()
	ids := uuid.New()
	app.registry = sources.NewRegistry(app.store, cfg.Sources, logger.Named("sources"))
	engine := ingest.NewEngine(app.registry, app.store, ids, clock, ingest.Config{}, logger.Named("ingest"))

	archivePrefix := ""
	if cfg.Executor.Archive {
		archivePrefix = cfg.Executor.ArchivePrefix
	}
	exec := executor.New(executor.Config{
		Command:        cfg.Executor.Command,
		Commands:       cfg.Executor.Commands,
		WorkDir:        cfg.Executor.WorkDir,
		MaxOutputBytes: cfg.Executor.MaxOutputBytes,
		Timeout:        cfg.Executor.Timeout,
		ArchivePrefix:  archivePrefix,
	}, blobs, sha256.New(), logger.Named("executor"))

	app.worker = worker.New(
		app.queue,
		exec,
		engine,
		ratelimit.New(cfg.RateLimit),
		worker.Config{Name: "crawl"},
		logger.Named("worker"),
	)

	app.scheduler, err = scheduler.New(app.queue, cfg.Schedule, logger.Named("scheduler"))
	if err != nil {
		return nil, fmt.Errorf("scheduler init failed: %w", err)
	}

	app.apiServer = api.NewServer(
		app.queue,
		app.registry,
		app.store,
		map[string]api.Pinger{"database": app.store, "queue": app.queue},
		api.Config{APIKey: cfg.Server.APIKey, RequestTimeout: cfg.Server.RequestTimeout},
		logger.Named("api"),
	)

	logger.Info("application built",
		zap.String("database", cfg.Database.Driver),
		zap.String("queue", cfg.Queue.Backend),
		zap.String("events", cfg.Events.Backend),
		zap.Strings("sources", app.registry.Keys()),
		zap.Int("schedules", app.scheduler.Len()))
	return app, nil
}

func (a *App) addCloser(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

func (a *App) setupStore(ctx context.Context) error {
	db := a.cfg.Database
	switch db.Driver {
	case "postgres":
		store, err := pgstore.NewStore(ctx, pgstore.Config{
			DSN:             db.DSN,
			MaxConns:        db.MaxConns,
			MinConns:        db.MinConns,
			MaxConnLifetime: db.MaxConnLifetime,
			Migrate:         db.Migrate,
		})
		if err != nil {
			return fmt.Errorf("postgres store init failed: %w", err)
		}
		a.store = store
	case "sqlite":
		store, err := sqlitestore.Open(ctx, db.Path)
		if err != nil {
			return fmt.Errorf("sqlite store init failed: %w", err)
		}
		a.store = store
		a.logger.Info("using sqlite store", zap.String("path", db.Path))
	default:
		a.logger.Warn("using in-memory article store; data is lost on exit")
		a.store = memorystorage.NewStore()
	}
	a.addCloser("store", func(context.Context) error { return a.store.Close() })
	return nil
}

func (a *App) setupBlobStore(ctx context.Context) (crawler.BlobStore, error) {
	if !a.cfg.Executor.Archive {
		return nil, nil
	}
	switch a.cfg.Storage.Backend {
	case "gcs":
		store, err := gcsstorage.Open(ctx, a.cfg.Storage.GCS)
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.addCloser("gcs", func(context.Context) error { return store.Close() })
		a.logger.Info("archiving scraper output to gcs", zap.String("bucket", a.cfg.Storage.GCS.Bucket))
		return store, nil
	case "local":
		store, err := localstorage.New(a.cfg.Storage.Local)
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("archiving scraper output locally", zap.String("path", a.cfg.Storage.Local.BaseDir))
		return store, nil
	default:
		a.logger.Info("archiving scraper output in memory")
		return memorystorage.NewBlobStore(), nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (crawler.Publisher, error) {
	ev := a.cfg.Events
	switch ev.Backend {
	case "pubsub":
		pub, err := gcppublisher.Open(ctx, ev.PubSub)
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		a.logger.Info("publishing events to pubsub",
			zap.String("project", ev.PubSub.ProjectID), zap.String("topic", ev.Topic))
		return pub, nil
	case "nats":
		pub, err := natspublisher.Connect(ev.NATS, a.logger.Named("nats"))
		if err != nil {
			return nil, fmt.Errorf("nats publisher init failed: %w", err)
		}
		return pub, nil
	case "rabbitmq":
		pub, err := rabbitpublisher.Dial(ev.RabbitMQ, a.logger.Named("rabbitmq"))
		if err != nil {
			return nil, fmt.Errorf("rabbitmq publisher init failed: %w", err)
		}
		return pub, nil
	case "memory":
		a.logger.Info("recording events in memory", zap.String("topic", ev.Topic))
		return memorypublisher.New(), nil
	default:
		return nil, nil
	}
}

func (a *App) setupProgress(ctx context.Context, publisher crawler.Publisher, reg prometheus.Registerer) error {
	sinkList := []progress.Sink{progresssinks.NewLogSink(a.logger.Named("events"))}
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		if c, ok := publisher.(interface{ Close() error }); ok {
			_ = c.Close()
		}
		return fmt.Errorf("prometheus sink init failed: %w", err)
	}
	sinkList = append(sinkList, promSink)
	if publisher != nil {
		stages := make([]progress.Stage, 0, len(a.cfg.Events.Stages))
		for _, s := range a.cfg.Events.Stages {
			stages = append(stages, progress.Stage(s))
		}
		sinkList = append(sinkList, progresssinks.NewPublisherSink(publisher, a.cfg.Events.Topic, stages...))
	}

	p := a.cfg.Progress
	a.hub = progress.NewHub(progress.Config{
		BufferSize:     p.BufferSize,
		MaxBatchEvents: p.MaxBatchEvents,
		MaxBatchWait:   p.MaxBatchWait,
		SinkTimeout:    p.SinkTimeout,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         a.logger.Named("progress"),
	}, sinkList...)
	a.addCloser("progress hub", a.hub.Close)
	return nil
}

func (a *App) setupQueue(ctx context.Context) error {
	q := a.cfg.Queue
	var store queue.Store
	switch q.Backend {
	case "badger":
		bs, err := queuebadger.Open(queuebadger.Options{Path: q.Path, SyncWrites: q.SyncWrites}, a.logger.Named("badger"))
		if err != nil {
			return fmt.Errorf("badger queue store init failed: %w", err)
		}
		store = bs
	default:
		store = queuememory.NewStore()
	}
	svc, err := queue.New(ctx, queue.Config{
		Attempts:      q.Attempts,
		BackoffBase:   q.Backoff,
		KeepCompleted: q.KeepCompleted,
		KeepFailed:    q.KeepFailed,
		MaxStalls:     q.MaxStalls,
	}, store, uuid.New(), system.New(), a.hub, a.logger.Named("queue"))
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("queue init failed: %w", err)
	}
	a.queue = svc
	a.addCloser("queue", func(context.Context) error { return svc.Close() })
	return nil
}

// Handler exposes the HTTP API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Queue exposes the job queue.
func (a *App) Queue() *queue.Service {
	return a.queue
}

// Serve runs the HTTP server, worker, and scheduler until ctx is canceled or
// SIGINT/SIGTERM arrives, then shuts down and closes the app.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	pool := dispatcher.New(a.worker, a.scheduler)
	poolDone := make(chan struct{})
	go func() {
		defer close(poolDone)
		pool.Run(runCtx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	cancelRun()
	select {
	case <-poolDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("worker did not stop before shutdown timeout")
	}

	closeErr := a.Close(shutdownCtx)
	select {
	case err := <-serveErr:
		return errors.Join(fmt.Errorf("http server: %w", err), closeErr)
	default:
		return closeErr
	}
}

// Crawl runs one crawl synchronously, bypassing the queue.
func (a *App) Crawl(ctx context.Context, payload crawler.JobPayload) (crawler.JobResult, error) {
	payload.Source = strings.ToLower(strings.TrimSpace(payload.Source))
	if err := a.queue.ValidatePayload(payload); err != nil {
		return crawler.JobResult{}, err
	}
	if _, err := a.registry.Lookup(payload.Source); err != nil {
		return crawler.JobResult{}, err
	}
	return a.worker.Crawl(ctx, payload)
}

func (a *App) shutdownTimeout() time.Duration {
	if a.cfg.Server.ShutdownTimeout > 0 {
		return a.cfg.Server.ShutdownTimeout
	}
	return 15 * time.Second
}

// Close releases everything Build opened, newest first.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
