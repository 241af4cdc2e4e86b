// Package scheduler submits crawl jobs on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-crawler/internal/crawler"
)

// PriorityScheduled is assigned to cron-submitted crawls so API requests overtake them.
const PriorityScheduled = 5

// DefaultMaxArticles applies to entries that leave max_articles unset.
const DefaultMaxArticles = 10

const submitTimeout = 10 * time.Second

// Entry is one periodic crawl.
type Entry struct {
	// Spec is a standard five-field cron expression or a descriptor such as "@hourly".
	Spec        string `mapstructure:"spec"`
	Source      string `mapstructure:"source"`
	MaxArticles int    `mapstructure:"max_articles"`
}

// Submitter enqueues crawl jobs.
type Submitter interface {
	Submit(ctx context.Context, payload crawler.JobPayload, priority int) (crawler.CrawlJob, error)
}

// Scheduler owns a cron runner that feeds the queue.
type Scheduler struct {
	cron      *cron.Cron
	submitter Submitter
	logger    *zap.Logger
	baseCtx   context.Context
	cancel    context.CancelFunc
}

// New validates entries and registers them. An entry with a bad spec fails
// construction rather than being skipped.
func New(submitter Submitter, entries []Entry, logger *zap.Logger) (*Scheduler, error) {
	if submitter == nil {
		return nil, errors.New("scheduler submitter is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cronLog := cronLogger{logger: logger.Sugar()}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		submitter: submitter,
		logger:    logger,
	}
	s.baseCtx, s.cancel = context.WithCancel(context.Background())
	for i, entry := range entries {
		if entry.MaxArticles == 0 {
			entry.MaxArticles = DefaultMaxArticles
		}
		if _, err := s.cron.AddFunc(entry.Spec, func() { s.submit(s.baseCtx, entry) }); err != nil {
			return nil, fmt.Errorf("schedule entry %d (%q): %w", i, entry.Spec, err)
		}
		logger.Info("crawl scheduled",
			zap.String("spec", entry.Spec),
			zap.String("source", entry.Source),
			zap.Int("max_articles", entry.MaxArticles))
	}
	return s, nil
}

// Len reports how many entries are registered.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Run starts the cron runner and blocks until ctx is done, then waits for
// in-flight submissions.
func (s *Scheduler) Run(ctx context.Context) {
	s.cron.Start()
	<-ctx.Done()
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) submit(ctx context.Context, entry Entry) {
	ctx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()
	job, err := s.submitter.Submit(ctx, crawler.JobPayload{
		Source:      entry.Source,
		MaxArticles: entry.MaxArticles,
	}, PriorityScheduled)
	if err != nil {
		s.logger.Error("scheduled crawl rejected",
			zap.String("source", entry.Source),
			zap.String("spec", entry.Spec),
			zap.Error(err))
		return
	}
	s.logger.Info("scheduled crawl queued",
		zap.String("job_id", job.ID),
		zap.String("source", entry.Source))
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
