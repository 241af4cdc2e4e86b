// Package metrics exposes Prometheus collectors for the crawler service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	scraperRunsTotal           *prometheus.CounterVec
	scraperDurationSeconds     *prometheus.HistogramVec
	articlesIngestedTotal      *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	queueDepth                 *prometheus.GaugeVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry. It is safe to call
// more than once.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		scraperRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newscrawler_scraper_runs_total",
				Help: "Scraper process runs, labeled by source and result.",
			},
			[]string{"source", "result"},
		)

		scraperDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "newscrawler_scraper_duration_seconds",
				Help:    "Scraper process wall time, labeled by source.",
				Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"source"},
		)

		articlesIngestedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newscrawler_articles_ingested_total",
				Help: "Candidates processed by ingestion, labeled by source and outcome.",
			},
			[]string{"source", "outcome"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "newscrawler_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		queueDepth = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "newscrawler_queue_jobs",
				Help: "Jobs held by the queue, labeled by state.",
			},
			[]string{"state"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "newscrawler_rate_limit_delays_seconds",
				Help:    "Histogram of per-source rate limit waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"source"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest records one served request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveScraperRun records a scraper invocation. result is "success" or "error".
func ObserveScraperRun(source, result string, duration time.Duration) {
	Init()
	scraperRunsTotal.WithLabelValues(source, result).Inc()
	scraperDurationSeconds.WithLabelValues(source).Observe(duration.Seconds())
}

// ObserveIngest adds saved and skipped counts for source.
func ObserveIngest(source string, saved, skipped int) {
	Init()
	if saved > 0 {
		articlesIngestedTotal.WithLabelValues(source, "saved").Add(float64(saved))
	}
	if skipped > 0 {
		articlesIngestedTotal.WithLabelValues(source, "skipped").Add(float64(skipped))
	}
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// SetQueueDepth reports how many jobs the queue holds in state.
func SetQueueDepth(state string, n int) {
	Init()
	queueDepth.WithLabelValues(state).Set(float64(n))
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(source string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(source).Observe(duration.Seconds())
}
