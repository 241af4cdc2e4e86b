// Package memory keeps crawl job records in process memory. Records do not
// survive a restart.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/realtime-news-crawler/internal/crawler"
)

// Store is a map-backed queue.Store.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]crawler.CrawlJob
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{jobs: make(map[string]crawler.CrawlJob)}
}

// Save inserts or replaces job.
func (s *Store) Save(_ context.Context, job crawler.CrawlJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// Get returns the job with id.
func (s *Store) Get(_ context.Context, id string) (crawler.CrawlJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return crawler.CrawlJob{}, crawler.ErrJobNotFound
	}
	return cloneJob(job), nil
}

// Delete removes the job with id.
func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return crawler.ErrJobNotFound
	}
	delete(s.jobs, id)
	return nil
}

// List returns jobs in state, or all jobs when state is empty.
func (s *Store) List(_ context.Context, state crawler.JobState) ([]crawler.CrawlJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.CrawlJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		if state == "" || job.State == state {
			out = append(out, cloneJob(job))
		}
	}
	return out, nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }

func cloneJob(job crawler.CrawlJob) crawler.CrawlJob {
	if job.Result != nil {
		result := *job.Result
		job.Result = &result
	}
	if job.StartedAt != nil {
		at := *job.StartedAt
		job.StartedAt = &at
	}
	if job.FinishedAt != nil {
		at := *job.FinishedAt
		job.FinishedAt = &at
	}
	return job
}
