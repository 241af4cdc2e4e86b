package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-crawler/internal/crawler"
)

const (
	defaultJobLimit = 50
	maxJobLimit     = 500
)

type submitRequest struct {
	Source      string `json:"source"`
	MaxArticles *int   `json:"maxArticles"`
}

type submitResponse struct {
	JobID       string `json:"jobId"`
	Source      string `json:"source"`
	MaxArticles int    `json:"maxArticles"`
	Status      string `json:"status"`
}

type jobView struct {
	JobID        string             `json:"jobId"`
	Source       string             `json:"source"`
	MaxArticles  int                `json:"maxArticles"`
	State        crawler.JobState   `json:"state"`
	Progress     int                `json:"progress"`
	Result       *crawler.JobResult `json:"result"`
	FailedReason string             `json:"failedReason,omitempty"`
	Attempts     int                `json:"attempts"`
	Timestamp    time.Time          `json:"timestamp"`
	ProcessedOn  *time.Time         `json:"processedOn,omitempty"`
	FinishedOn   *time.Time         `json:"finishedOn,omitempty"`
}

func newJobView(job crawler.CrawlJob) jobView {
	return jobView{
		JobID:        job.ID,
		Source:       job.Payload.Source,
		MaxArticles:  job.Payload.MaxArticles,
		State:        job.State,
		Progress:     job.Progress,
		Result:       job.Result,
		FailedReason: job.FailedReason,
		Attempts:     job.Attempts,
		Timestamp:    job.SubmittedAt,
		ProcessedOn:  job.StartedAt,
		FinishedOn:   job.FinishedAt,
	}
}

// submitJob handles POST /api/v1/crawler/jobs with {"source","maxArticles"}.
func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	payload := crawler.JobPayload{Source: req.Source}
	if req.MaxArticles != nil {
		payload.MaxArticles = *req.MaxArticles
	}
	s.enqueue(w, r, payload)
}

// submitLegacyJob handles POST /api/v1/crawler/{source}-news with an optional
// {"maxArticles"} body.
func (s *Server) submitLegacyJob(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	payload := crawler.JobPayload{
		Source:      chi.URLParam(r, "source"),
		MaxArticles: DefaultLegacyMaxArticles,
	}
	if req.MaxArticles != nil {
		payload.MaxArticles = *req.MaxArticles
	}
	s.enqueue(w, r, payload)
}

func (s *Server) enqueue(w http.ResponseWriter, r *http.Request, payload crawler.JobPayload) {
	payload.Source = strings.ToLower(strings.TrimSpace(payload.Source))
	if payload.Source != "" && s.sources != nil && !slices.Contains(s.sources.Keys(), payload.Source) {
		writeError(w, http.StatusBadRequest, (&crawler.ConfigurationError{Key: payload.Source}).Error())
		return
	}
	job, err := s.jobs.Submit(r.Context(), payload, PriorityHigh)
	if err != nil {
		var verr *crawler.ValidationError
		switch {
		case errors.As(err, &verr):
			writeError(w, http.StatusBadRequest, validationMessage(verr))
		case errors.Is(err, crawler.ErrQueueClosed):
			writeError(w, http.StatusServiceUnavailable, "queue is shutting down")
		default:
			s.logger.Error("submit job failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to queue crawl job")
		}
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{
		JobID:       job.ID,
		Source:      job.Payload.Source,
		MaxArticles: job.Payload.MaxArticles,
		Status:      string(job.State),
	})
}

// getJob handles GET /api/v1/crawler/jobs/{jobID}.
func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.GetStatus(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		if errors.Is(err, crawler.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "Job not found")
			return
		}
		s.logger.Error("get job failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, newJobView(job))
}

// listJobs handles GET /api/v1/crawler/jobs?state=&limit=.
func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, defaultJobLimit, maxJobLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	state := crawler.JobState(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("state"))))
	jobs, err := s.jobs.List(r.Context(), state, limit)
	if err != nil {
		var verr *crawler.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, validationMessage(verr))
			return
		}
		s.logger.Error("list jobs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	views := make([]jobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, newJobView(job))
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": views})
}

func validationMessage(err *crawler.ValidationError) string {
	if err.Field == "" {
		return err.Message
	}
	return fmt.Sprintf("%s %s", err.Field, err.Message)
}
