// Package queue implements the crawl job queue: priority ordering, retries with
// exponential backoff, bounded retention of finished jobs, and recovery of
// in-flight work from a durable Store.
package queue

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-news-crawler/internal/metrics"
	"github.com/JakeFAU/realtime-news-crawler/internal/progress"
)

// Retention and recovery defaults.
const (
	DefaultKeepCompleted = 100
	DefaultKeepFailed    = 200
	DefaultMaxStalls     = 1
)

// StalledReason is recorded on a job failed for being interrupted too often.
const StalledReason = "job stalled more than allowable limit"

// ErrNotActive is returned when a worker reports on a job it does not hold.
var ErrNotActive = errors.New("job is not active")

// Store persists job records. Get returns crawler.ErrJobNotFound for unknown
// IDs. List with an empty state returns every job.
type Store interface {
	Save(ctx context.Context, job crawler.CrawlJob) error
	Get(ctx context.Context, id string) (crawler.CrawlJob, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, state crawler.JobState) ([]crawler.CrawlJob, error)
	Ping(ctx context.Context) error
	Close() error
}

// Config tunes retries and retention.
type Config struct {
	Attempts      int
	BackoffBase   time.Duration
	KeepCompleted int
	KeepFailed    int
	// MaxStalls is how many times recovery may requeue a job left active by a
	// dead process before failing it.
	MaxStalls int
}

// Service is the job queue. Submitters and workers share one instance.
type Service struct {
	cfg      Config
	store    Store
	ids      crawler.IDGenerator
	clock    crawler.Clock
	events   progress.Emitter
	policy   *crawler.ExponentialRetryPolicy
	validate *validator.Validate
	logger   *zap.Logger

	mu        sync.Mutex
	ready     readyHeap
	delayed   delayedHeap
	active    int
	seq       uint64
	completed []string
	failed    []string
	wake      chan struct{}
	closed    bool
}

// New builds a Service over store and requeues any work it finds there. See
// recover for how jobs left active by a previous process are handled.
func New(
	ctx context.Context,
	cfg Config,
	store Store,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	events progress.Emitter,
	logger *zap.Logger,
) (*Service, error) {
	if store == nil {
		return nil, errors.New("queue store is required")
	}
	if ids == nil || clock == nil {
		return nil, errors.New("queue id generator and clock are required")
	}
	if cfg.KeepCompleted <= 0 {
		cfg.KeepCompleted = DefaultKeepCompleted
	}
	if cfg.KeepFailed <= 0 {
		cfg.KeepFailed = DefaultKeepFailed
	}
	if cfg.MaxStalls <= 0 {
		cfg.MaxStalls = DefaultMaxStalls
	}
	if events == nil {
		events = progress.Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		cfg:      cfg,
		store:    store,
		ids:      ids,
		clock:    clock,
		events:   events,
		policy:   crawler.NewExponentialRetryPolicy(cfg.Attempts, cfg.BackoffBase),
		validate: newValidator(),
		logger:   logger,
		wake:     make(chan struct{}),
	}
	if err := s.recover(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// ValidatePayload reports the first problem with payload as a
// *crawler.ValidationError.
func (s *Service) ValidatePayload(payload crawler.JobPayload) error {
	err := s.validate.Struct(payload)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &crawler.ValidationError{Message: err.Error()}
	}
	fe := fieldErrs[0]
	switch fe.Tag() {
	case "required":
		return &crawler.ValidationError{Field: fe.Field(), Message: "is required"}
	case "min", "max":
		return &crawler.ValidationError{
			Field:   fe.Field(),
			Message: fmt.Sprintf("must be between 1 and %d", crawler.MaxArticlesLimit),
		}
	default:
		return &crawler.ValidationError{Field: fe.Field(), Message: "failed " + fe.Tag() + " validation"}
	}
}

// Submit validates payload and enqueues it. Lower priority values run first;
// equal priorities run in submission order.
func (s *Service) Submit(ctx context.Context, payload crawler.JobPayload, priority int) (crawler.CrawlJob, error) {
	payload.Source = strings.ToLower(strings.TrimSpace(payload.Source))
	if err := s.ValidatePayload(payload); err != nil {
		return crawler.CrawlJob{}, err
	}
	id, err := s.ids.NewID()
	if err != nil {
		return crawler.CrawlJob{}, fmt.Errorf("generate job id: %w", err)
	}
	now := s.clock.Now().UTC()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return crawler.CrawlJob{}, crawler.ErrQueueClosed
	}
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	job := crawler.CrawlJob{
		ID:          id,
		Payload:     payload,
		Priority:    priority,
		State:       crawler.JobStateQueued,
		MaxAttempts: s.policy.MaxAttempts(),
		Seq:         seq,
		SubmittedAt: now,
		RunAt:       now,
	}
	if err := s.store.Save(ctx, job); err != nil {
		return crawler.CrawlJob{}, &crawler.PersistenceError{Op: "save job", Err: err}
	}
	s.mu.Lock()
	s.schedule(job, now)
	s.mu.Unlock()
	s.emit(job, progress.StageJobQueued, "", 0)
	s.logger.Debug("job queued",
		zap.String("job_id", id),
		zap.String("source", payload.Source),
		zap.Int("max_articles", payload.MaxArticles),
		zap.Int("priority", priority))
	return job, nil
}

// Dequeue blocks until a job is runnable, marks it active, and returns it. It
// returns crawler.ErrQueueClosed after Close.
func (s *Service) Dequeue(ctx context.Context) (crawler.CrawlJob, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return crawler.CrawlJob{}, crawler.ErrQueueClosed
		}
		now := s.clock.Now().UTC()
		s.promote(now)
		if s.ready.Len() > 0 {
			next := heap.Pop(&s.ready).(entry)
			s.mu.Unlock()
			job, ok, err := s.activate(ctx, next, now)
			if err != nil {
				return crawler.CrawlJob{}, err
			}
			if !ok {
				continue
			}
			return job, nil
		}
		wait := time.Duration(-1)
		if s.delayed.Len() > 0 {
			wait = max(s.delayed[0].runAt.Sub(now), 0)
		}
		wake := s.wake
		s.mu.Unlock()

		var timer *time.Timer
		var fire <-chan time.Time
		if wait >= 0 {
			timer = time.NewTimer(wait)
			fire = timer.C
		}
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return crawler.CrawlJob{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-wake:
		case <-fire:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// activate loads the popped job and flips it to active. ok is false when the
// entry no longer refers to a queued job. It runs without s.mu; the popped
// entry is owned by this caller until it is pushed back.
func (s *Service) activate(ctx context.Context, next entry, now time.Time) (crawler.CrawlJob, bool, error) {
	ctx = context.WithoutCancel(ctx)
	job, err := s.store.Get(ctx, next.id)
	if errors.Is(err, crawler.ErrJobNotFound) {
		return crawler.CrawlJob{}, false, nil
	}
	if err != nil {
		s.pushBack(next)
		return crawler.CrawlJob{}, false, &crawler.PersistenceError{Op: "load job", Err: err}
	}
	if job.State != crawler.JobStateQueued {
		return crawler.CrawlJob{}, false, nil
	}
	job.State = crawler.JobStateActive
	job.Attempts++
	started := now
	job.StartedAt = &started
	if err := s.store.Save(ctx, job); err != nil {
		s.pushBack(next)
		return crawler.CrawlJob{}, false, &crawler.PersistenceError{Op: "save job", Err: err}
	}
	s.mu.Lock()
	s.active++
	s.reportDepth()
	s.mu.Unlock()
	s.emit(job, progress.StageJobStart, "", 0)
	return job, true, nil
}

func (s *Service) pushBack(next entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	heap.Push(&s.ready, next)
	s.reportDepth()
}

// Progress records pct for an active job. Values are clamped to 0..100 and
// never move backwards, including across retries.
//
// Progress, Complete, and Fail are called only by the worker holding the job,
// so the job record is not guarded by s.mu.
func (s *Service) Progress(ctx context.Context, jobID string, pct int) error {
	job, err := s.activeJob(ctx, jobID)
	if err != nil {
		return err
	}
	pct = min(max(pct, 0), 100)
	if pct <= job.Progress {
		return nil
	}
	job.Progress = pct
	if err := s.store.Save(ctx, job); err != nil {
		return &crawler.PersistenceError{Op: "save job", Err: err}
	}
	s.emit(job, progress.StageJobProgress, "", 0)
	return nil
}

// Complete finishes an active job with result and trims old completed jobs.
func (s *Service) Complete(ctx context.Context, jobID string, result crawler.JobResult) error {
	job, err := s.activeJob(ctx, jobID)
	if err != nil {
		return err
	}
	now := s.clock.Now().UTC()
	job.State = crawler.JobStateCompleted
	job.Progress = 100
	job.Result = &result
	job.FailedReason = ""
	job.FinishedAt = &now
	if err := s.store.Save(ctx, job); err != nil {
		return &crawler.PersistenceError{Op: "save job", Err: err}
	}
	s.mu.Lock()
	s.active--
	s.reportDepth()
	var evicted []string
	s.completed, evicted = trim(append(s.completed, job.ID), s.cfg.KeepCompleted)
	s.mu.Unlock()

	s.emit(job, progress.StageJobDone, "", s.attemptDuration(job, now))
	s.prune(ctx, evicted)
	return nil
}

// Fail records cause against an active job. Retryable causes with attempts left
// send the job back to the queue after the backoff; otherwise it is failed.
func (s *Service) Fail(ctx context.Context, jobID string, cause error) error {
	if cause == nil {
		cause = errors.New("unknown failure")
	}
	job, err := s.activeJob(ctx, jobID)
	if err != nil {
		return err
	}
	now := s.clock.Now().UTC()
	elapsed := s.attemptDuration(job, now)
	job.FailedReason = cause.Error()
	job.StartedAt = nil

	if crawler.IsRetryable(cause) && job.Attempts < job.MaxAttempts {
		delay := s.policy.Backoff(job.Attempts)
		s.mu.Lock()
		s.seq++
		job.Seq = s.seq
		s.mu.Unlock()
		job.State = crawler.JobStateQueued
		job.RunAt = now.Add(delay)
		if err := s.store.Save(ctx, job); err != nil {
			return &crawler.PersistenceError{Op: "save job", Err: err}
		}
		s.mu.Lock()
		s.active--
		s.schedule(job, now)
		s.mu.Unlock()
		s.emit(job, progress.StageJobRetry, job.FailedReason, elapsed)
		s.logger.Info("job attempt failed, retrying",
			zap.String("job_id", job.ID),
			zap.Int("attempt", job.Attempts),
			zap.Duration("backoff", delay),
			zap.Error(cause))
		return nil
	}

	job.State = crawler.JobStateFailed
	job.FinishedAt = &now
	if err := s.store.Save(ctx, job); err != nil {
		return &crawler.PersistenceError{Op: "save job", Err: err}
	}
	s.mu.Lock()
	s.active--
	s.reportDepth()
	var evicted []string
	s.failed, evicted = trim(append(s.failed, job.ID), s.cfg.KeepFailed)
	s.mu.Unlock()

	s.emit(job, progress.StageJobError, job.FailedReason, elapsed)
	s.prune(ctx, evicted)
	s.logger.Warn("job failed",
		zap.String("job_id", job.ID),
		zap.Int("attempts", job.Attempts),
		zap.Error(cause))
	return nil
}

// GetStatus returns the job record, or crawler.ErrJobNotFound once it has been
// pruned or was never submitted.
func (s *Service) GetStatus(ctx context.Context, jobID string) (crawler.CrawlJob, error) {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return crawler.CrawlJob{}, err
	}
	return job, nil
}

// List returns jobs in state, newest first. An empty state lists every job; a
// positive limit caps the result.
func (s *Service) List(ctx context.Context, state crawler.JobState, limit int) ([]crawler.CrawlJob, error) {
	if state != "" && !state.Valid() {
		return nil, &crawler.ValidationError{Field: "state", Message: fmt.Sprintf("unknown state %q", state)}
	}
	jobs, err := s.store.List(ctx, state)
	if err != nil {
		return nil, &crawler.PersistenceError{Op: "list jobs", Err: err}
	}
	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].SubmittedAt.Equal(jobs[j].SubmittedAt) {
			return jobs[i].SubmittedAt.After(jobs[j].SubmittedAt)
		}
		return jobs[i].ID > jobs[j].ID
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// Ping checks the backing store.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("queue store ping: %w", err)
	}
	return nil
}

// Close wakes blocked Dequeue calls with crawler.ErrQueueClosed and closes the store.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.wake)
	s.mu.Unlock()
	if err := s.store.Close(); err != nil {
		return fmt.Errorf("close queue store: %w", err)
	}
	return nil
}

func (s *Service) activeJob(ctx context.Context, jobID string) (crawler.CrawlJob, error) {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return crawler.CrawlJob{}, err
	}
	if job.State != crawler.JobStateActive {
		return crawler.CrawlJob{}, fmt.Errorf("job %s is %s: %w", jobID, job.State, ErrNotActive)
	}
	return job, nil
}

func (s *Service) schedule(job crawler.CrawlJob, now time.Time) {
	e := entry{id: job.ID, priority: job.Priority, seq: job.Seq, runAt: job.RunAt}
	if job.RunAt.After(now) {
		heap.Push(&s.delayed, e)
	} else {
		heap.Push(&s.ready, e)
	}
	s.reportDepth()
	s.signal()
}

func (s *Service) promote(now time.Time) {
	moved := false
	for s.delayed.Len() > 0 && !s.delayed[0].runAt.After(now) {
		heap.Push(&s.ready, heap.Pop(&s.delayed))
		moved = true
	}
	if moved {
		s.reportDepth()
	}
}

// signal wakes every goroutine blocked in Dequeue.
func (s *Service) signal() {
	if s.closed {
		return
	}
	close(s.wake)
	s.wake = make(chan struct{})
}

// trim keeps the newest keep ids and returns the rest, oldest first.
func trim(ids []string, keep int) (kept, evicted []string) {
	over := len(ids) - keep
	if over <= 0 {
		return ids, nil
	}
	return append([]string(nil), ids[over:]...), ids[:over]
}

func (s *Service) prune(ctx context.Context, ids []string) {
	ctx = context.WithoutCancel(ctx)
	for _, id := range ids {
		if err := s.store.Delete(ctx, id); err != nil && !errors.Is(err, crawler.ErrJobNotFound) {
			s.logger.Warn("prune finished job failed", zap.String("job_id", id), zap.Error(err))
		}
	}
}

func (s *Service) attemptDuration(job crawler.CrawlJob, now time.Time) time.Duration {
	if job.StartedAt == nil {
		return 0
	}
	return max(now.Sub(*job.StartedAt), 0)
}

func (s *Service) reportDepth() {
	metrics.SetQueueDepth("queued", s.ready.Len())
	metrics.SetQueueDepth("delayed", s.delayed.Len())
	metrics.SetQueueDepth("active", s.active)
}

func (s *Service) emit(job crawler.CrawlJob, stage progress.Stage, note string, dur time.Duration) {
	evt := progress.Event{
		JobID:    job.ID,
		TS:       s.clock.Now().UTC(),
		Stage:    stage,
		Source:   job.Payload.Source,
		Progress: job.Progress,
		Attempt:  job.Attempts,
		Dur:      dur,
		Note:     note,
	}
	if job.Result != nil {
		evt.Scraped = job.Result.Scraped
		evt.Saved = job.Result.Saved
		evt.Skipped = job.Result.Skipped
	}
	s.events.Emit(evt)
}

// recover rebuilds the in-memory indexes from the store. A job left active by
// a dead process is requeued without spending an attempt, up to MaxStalls
// times; after that it fails with StalledReason. It runs before the Service
// is shared, so it does not take s.mu.
func (s *Service) recover(ctx context.Context) error {
	jobs, err := s.store.List(ctx, "")
	if err != nil {
		return &crawler.PersistenceError{Op: "list jobs", Err: err}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Seq < jobs[j].Seq })
	now := s.clock.Now().UTC()
	var completed, failed []crawler.CrawlJob
	requeued, stalled := 0, 0
	for _, job := range jobs {
		s.seq = max(s.seq, job.Seq)
		switch job.State {
		case crawler.JobStateQueued:
			s.schedule(job, now)
		case crawler.JobStateActive:
			job.StartedAt = nil
			job.Stalls++
			if job.Stalls > s.cfg.MaxStalls {
				job.State = crawler.JobStateFailed
				job.FailedReason = StalledReason
				job.FinishedAt = &now
				if err := s.store.Save(ctx, job); err != nil {
					return &crawler.PersistenceError{Op: "fail stalled job", Err: err}
				}
				s.emit(job, progress.StageJobError, job.FailedReason, 0)
				failed = append(failed, job)
				stalled++
				continue
			}
			job.State = crawler.JobStateQueued
			job.Attempts = max(job.Attempts-1, 0)
			job.RunAt = now
			if err := s.store.Save(ctx, job); err != nil {
				return &crawler.PersistenceError{Op: "requeue job", Err: err}
			}
			s.schedule(job, now)
			requeued++
		case crawler.JobStateCompleted:
			completed = append(completed, job)
		case crawler.JobStateFailed:
			failed = append(failed, job)
		}
	}
	var evictedCompleted, evictedFailed []string
	s.completed, evictedCompleted = trim(finishedOrder(completed), s.cfg.KeepCompleted)
	s.failed, evictedFailed = trim(finishedOrder(failed), s.cfg.KeepFailed)
	s.prune(ctx, evictedCompleted)
	s.prune(ctx, evictedFailed)
	if len(jobs) > 0 {
		s.logger.Info("queue recovered",
			zap.Int("jobs", len(jobs)),
			zap.Int("requeued_active", requeued),
			zap.Int("failed_stalled", stalled),
			zap.Int("runnable", s.ready.Len()+s.delayed.Len()))
	}
	return nil
}

func finishedOrder(jobs []crawler.CrawlJob) []string {
	sort.SliceStable(jobs, func(i, j int) bool {
		a, b := jobs[i].FinishedAt, jobs[j].FinishedAt
		if a == nil || b == nil {
			return a == nil && b != nil
		}
		return a.Before(*b)
	})
	ids := make([]string, len(jobs))
	for i, job := range jobs {
		ids[i] = job.ID
	}
	return ids
}
