// Package worker drains the crawl job queue: it runs the scraper for each job,
// ingests what it printed, and reports progress and the outcome back.
package worker

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-news-crawler/internal/metrics"
	"github.com/JakeFAU/realtime-news-crawler/internal/telemetry"
)

// Progress checkpoints reported while a job runs.
const (
	ProgressStarted  = 10
	ProgressScraped  = 50
	ProgressIngested = 70
)

const defaultDequeueBackoff = time.Second

// Limiter spaces out runs per source.
type Limiter interface {
	Wait(ctx context.Context, key string) error
}

// Config controls Worker behavior.
type Config struct {
	// Name labels log lines from this worker.
	Name string
	// DequeueBackoff is the pause after a failed dequeue.
	DequeueBackoff time.Duration
}

// Worker consumes crawl jobs one at a time.
type Worker struct {
	queue    crawler.JobQueue
	executor crawler.Executor
	ingester crawler.Ingester
	limiter  Limiter
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Worker. limiter may be nil.
func New(
	queue crawler.JobQueue,
	executor crawler.Executor,
	ingester crawler.Ingester,
	limiter Limiter,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DequeueBackoff <= 0 {
		cfg.DequeueBackoff = defaultDequeueBackoff
	}
	if cfg.Name != "" {
		logger = logger.With(zap.String("worker", cfg.Name))
	}
	return &Worker{
		queue:    queue,
		executor: executor,
		ingester: ingester,
		limiter:  limiter,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run blocks, consuming jobs until ctx ends or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, crawler.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.cfg.DequeueBackoff):
			}
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempts))
		w.processJob(ctx, job)
	}
}

func (w *Worker) processJob(ctx context.Context, job crawler.CrawlJob) {
	ctx, span := telemetry.Tracer().Start(ctx, "crawl.job", trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("crawl.source", job.Payload.Source),
		attribute.Int("crawl.max_articles", job.Payload.MaxArticles),
		attribute.Int("job.attempt", job.Attempts),
	))
	defer span.End()

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	logger := w.logger.With(
		zap.String("job_id", job.ID),
		zap.String("source", job.Payload.Source),
		zap.Int("attempt", job.Attempts),
	)
	// Queue bookkeeping must land even while the worker is being stopped.
	bookkeeping := context.WithoutCancel(ctx)
	report := func(pct int) {
		if err := w.queue.Progress(bookkeeping, job.ID, pct); err != nil {
			logger.Warn("progress update failed", zap.Int("progress", pct), zap.Error(err))
		}
	}

	result, err := w.crawl(ctx, job.Payload, report)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ctx.Err() != nil {
			logger.Warn("job interrupted by shutdown; leaving it for recovery", zap.Error(err))
			return
		}
		logger.Warn("job attempt failed", zap.Error(err))
		if ferr := w.queue.Fail(bookkeeping, job.ID, err); ferr != nil {
			logger.Error("mark job failed", zap.Error(ferr))
		}
		return
	}

	span.SetAttributes(
		attribute.Int("crawl.scraped", result.Scraped),
		attribute.Int("crawl.saved", result.Saved),
		attribute.Int("crawl.skipped", result.Skipped),
	)
	if err := w.queue.Complete(bookkeeping, job.ID, result); err != nil {
		logger.Error("mark job completed", zap.Error(err))
		return
	}
	logger.Info("job completed",
		zap.Int("scraped", result.Scraped),
		zap.Int("saved", result.Saved),
		zap.Int("skipped", result.Skipped))
}

// Crawl runs one scrape and ingest for payload outside the queue.
func (w *Worker) Crawl(ctx context.Context, payload crawler.JobPayload) (crawler.JobResult, error) {
	return w.crawl(ctx, payload, func(int) {})
}

func (w *Worker) crawl(ctx context.Context, payload crawler.JobPayload, report func(int)) (crawler.JobResult, error) {
	source := payload.Source
	report(ProgressStarted)

	if w.limiter != nil {
		if err := w.limiter.Wait(ctx, source); err != nil {
			return crawler.JobResult{}, err
		}
	}

	start := time.Now()
	candidates, err := w.executor.Execute(ctx, source, payload.MaxArticles)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	metrics.ObserveScraperRun(source, outcome, time.Since(start))
	if err != nil {
		return crawler.JobResult{}, err
	}
	report(ProgressScraped)

	report(ProgressIngested)
	ingested, err := w.ingester.Ingest(ctx, source, candidates)
	if err != nil {
		return crawler.JobResult{}, err
	}
	metrics.ObserveIngest(source, ingested.Saved, ingested.Skipped)

	return crawler.JobResult{
		Success: true,
		Source:  source,
		Scraped: len(candidates),
		Saved:   ingested.Saved,
		Skipped: ingested.Skipped,
	}, nil
}
