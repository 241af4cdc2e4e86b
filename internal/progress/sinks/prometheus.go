package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/realtime-news-crawler/internal/progress"
)

// PrometheusSink exports job lifecycle metrics.
type PrometheusSink struct {
	jobsQueued    *prometheus.CounterVec
	jobsStarted   *prometheus.CounterVec
	jobsCompleted *prometheus.CounterVec
	jobsRetried   *prometheus.CounterVec
	jobsRunning   prometheus.Gauge
	jobRuntime    *prometheus.HistogramVec
	articles      *prometheus.CounterVec

	tracker *jobTracker
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsQueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newscrawler_jobs_queued_total",
			Help: "Jobs accepted by the queue partitioned by source.",
		}, []string{"source"}),
		jobsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newscrawler_jobs_started_total",
			Help: "Job attempts started partitioned by source.",
		}, []string{"source"}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newscrawler_jobs_completed_total",
			Help: "Finished jobs partitioned by source and result.",
		}, []string{"source", "result"}),
		jobsRetried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newscrawler_jobs_retried_total",
			Help: "Failed attempts scheduled for retry.",
		}, []string{"source"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "newscrawler_jobs_running",
			Help: "Job attempts currently executing.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "newscrawler_job_runtime_seconds",
			Help:    "Wall time per job attempt.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"result"}),
		articles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newscrawler_job_articles_total",
			Help: "Articles reported by completed jobs partitioned by outcome.",
		}, []string{"source", "outcome"}),
		tracker: newJobTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsQueued,
		s.jobsStarted,
		s.jobsCompleted,
		s.jobsRetried,
		s.jobsRunning,
		s.jobRuntime,
		s.articles,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	source := evt.Source
	if source == "" {
		source = "unknown"
	}
	switch evt.Stage {
	case progress.StageJobQueued:
		s.jobsQueued.WithLabelValues(source).Inc()
	case progress.StageJobStart:
		s.jobsStarted.WithLabelValues(source).Inc()
		if s.tracker.start(evt.JobID) {
			s.jobsRunning.Inc()
		}
	case progress.StageJobDone:
		s.jobsCompleted.WithLabelValues(source, "success").Inc()
		s.articles.WithLabelValues(source, "saved").Add(float64(evt.Saved))
		s.articles.WithLabelValues(source, "skipped").Add(float64(evt.Skipped))
		s.observeRuntime(evt, "success")
	case progress.StageJobRetry:
		s.jobsRetried.WithLabelValues(source).Inc()
		s.observeRuntime(evt, "retry")
	case progress.StageJobError:
		s.jobsCompleted.WithLabelValues(source, "error").Inc()
		s.observeRuntime(evt, "error")
	}
	if evt.Terminal() && s.tracker.complete(evt.JobID) {
		s.jobsRunning.Dec()
	}
}

func (s *PrometheusSink) observeRuntime(evt progress.Event, label string) {
	if evt.Dur > 0 {
		s.jobRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type jobTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newJobTracker() *jobTracker {
	return &jobTracker{running: make(map[string]struct{})}
}

func (t *jobTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *jobTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
