package crawler

import (
	"time"
)

// Source is a news outlet that articles are ingested from.
type Source struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	URL           string         `json:"url"`
	Type          string         `json:"type"`
	Active        bool           `json:"isActive"`
	LastScrapedAt *time.Time     `json:"lastScrapedAt,omitempty"`
	Config        ScrapingConfig `json:"scrapingConfig"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// ScrapingConfig is the per-source settings blob persisted alongside a Source.
type ScrapingConfig struct {
	Categories []string `json:"categories,omitempty"`
}

// SourceSummary decorates a Source with its article count.
type SourceSummary struct {
	Source
	ArticleCount int `json:"articleCount"`
}

// Article is a single persisted news item.
type Article struct {
	ID          string    `json:"id"`
	SourceID    string    `json:"sourceId"`
	GUID        string    `json:"guid,omitempty"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary,omitempty"`
	Content     string    `json:"content"`
	URL         string    `json:"url"`
	Author      string    `json:"author,omitempty"`
	PublishedAt time.Time `json:"publishedAt"`
	Categories  []string  `json:"categories"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ArticleWithSource is the read-side projection returned by list queries.
type ArticleWithSource struct {
	Article
	SourceName string `json:"sourceName"`
	SourceURL  string `json:"sourceUrl"`
}

// ArticleFilter narrows ListArticles results.
type ArticleFilter struct {
	SourceID string
	Limit    int
}

// Candidate is one raw item emitted by an external scraper.
type Candidate struct {
	Title       string `json:"title"`
	Content     string `json:"content"`
	URL         string `json:"url"`
	PublishedAt string `json:"publishedAt"`
	GUID        string `json:"guid,omitempty"`
	Summary     string `json:"summary,omitempty"`
	Author      string `json:"author,omitempty"`
}

// IngestResult counts the outcome of one ingestion run.
type IngestResult struct {
	Saved   int `json:"saved"`
	Skipped int `json:"skipped"`
}

// JobState represents the lifecycle state of a crawl job.
type JobState string

// Job states tracked by the queue.
const (
	JobStateQueued    JobState = "queued"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// Valid reports whether s is a known state.
func (s JobState) Valid() bool {
	switch s {
	case JobStateQueued, JobStateActive, JobStateCompleted, JobStateFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transitions are possible.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// MaxArticlesLimit bounds the per-run article cap accepted by the pipeline.
const MaxArticlesLimit = 100

// JobPayload is the submission payload of a crawl job.
type JobPayload struct {
	Source      string `json:"source" validate:"required"`
	MaxArticles int    `json:"maxArticles" validate:"min=1,max=100"`
}

// JobResult is recorded on a completed crawl job.
type JobResult struct {
	Success bool   `json:"success"`
	Source  string `json:"source"`
	Scraped int    `json:"scraped"`
	Saved   int    `json:"saved"`
	Skipped int    `json:"skipped"`
}

// CrawlJob is a queued unit of work and its observable status.
type CrawlJob struct {
	ID           string     `json:"id"`
	Payload      JobPayload `json:"payload"`
	Priority     int        `json:"priority"`
	State        JobState   `json:"state"`
	Progress     int        `json:"progress"`
	Result       *JobResult `json:"result,omitempty"`
	FailedReason string     `json:"failedReason,omitempty"`
	Attempts     int        `json:"attempts"`
	MaxAttempts  int        `json:"maxAttempts"`
	Stalls       int        `json:"stalls,omitempty"`
	Seq          uint64     `json:"seq"`
	SubmittedAt  time.Time  `json:"submittedAt"`
	RunAt        time.Time  `json:"runAt"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
}
