package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-news-crawler/internal/metrics"
)

const (
	// PriorityHigh is assigned to crawls submitted over HTTP.
	PriorityHigh = 1
	// DefaultLegacyMaxArticles applies to the {source}-news route when the body omits it.
	DefaultLegacyMaxArticles = 10

	defaultRequestTimeout = 60 * time.Second
	readTimeout           = 5 * time.Second
)

// JobService is the producer side of the crawl queue.
type JobService interface {
	Submit(ctx context.Context, payload crawler.JobPayload, priority int) (crawler.CrawlJob, error)
	GetStatus(ctx context.Context, jobID string) (crawler.CrawlJob, error)
	List(ctx context.Context, state crawler.JobState, limit int) ([]crawler.CrawlJob, error)
}

// SourceKeys reports whether a source key is registered.
type SourceKeys interface {
	Keys() []string
}

// Catalog is the read side of article and source storage.
type Catalog interface {
	ListArticles(ctx context.Context, filter crawler.ArticleFilter) ([]crawler.ArticleWithSource, error)
	GetArticle(ctx context.Context, id string) (crawler.ArticleWithSource, error)
	ListSources(ctx context.Context, activeOnly bool) ([]crawler.Source, error)
	GetSource(ctx context.Context, id string) (crawler.SourceSummary, error)
}

// Pinger is a dependency checked by /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config tunes the HTTP layer.
type Config struct {
	// APIKey, when set, is required in X-API-Key on /api routes.
	APIKey         string
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the job queue and catalog.
type Server struct {
	router  chi.Router
	jobs    JobService
	sources SourceKeys
	catalog Catalog
	checks  map[string]Pinger
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. checks are pinged
// by /readyz under their map key.
func NewServer(
	jobs JobService,
	sources SourceKeys,
	catalog Catalog,
	checks map[string]Pinger,
	cfg Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	s := &Server{
		jobs:    jobs,
		sources: sources,
		catalog: catalog,
		checks:  checks,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(timeoutMiddleware(cfg.RequestTimeout))
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Route("/crawler", func(r chi.Router) {
			r.Post("/jobs", s.submitJob)
			r.Get("/jobs", s.listJobs)
			r.Get("/jobs/{jobID}", s.getJob)
			r.Post("/{source}-news", s.submitLegacyJob)
		})
		r.Get("/articles", s.listArticles)
		r.Get("/articles/{id}", s.getArticle)
		r.Get("/sources", s.listSources)
		r.Get("/sources/{id}", s.getSource)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readTimeout)
	defer cancel()
	for name, check := range s.checks {
		if check == nil {
			continue
		}
		if err := check.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.String("check", name), zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"error":  name + ": " + err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
