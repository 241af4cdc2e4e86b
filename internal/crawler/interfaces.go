package crawler

import (
	"context"
	"io"
	"time"
)

// SourceStore persists Source rows.
type SourceStore interface {
	FindSourceByName(ctx context.Context, name string) (Source, error)
	CreateSource(ctx context.Context, source Source) (Source, error)
	UpdateSourceLastScraped(ctx context.Context, sourceID string, at time.Time) error
	ListSources(ctx context.Context, activeOnly bool) ([]Source, error)
	GetSource(ctx context.Context, id string) (SourceSummary, error)
}

// ArticleStore persists Article rows.
type ArticleStore interface {
	FindArticleByGUID(ctx context.Context, guid string) (Article, error)
	FindArticleByURL(ctx context.Context, url string) (Article, error)
	CreateArticle(ctx context.Context, article Article) error
	ListArticles(ctx context.Context, filter ArticleFilter) ([]ArticleWithSource, error)
	GetArticle(ctx context.Context, id string) (ArticleWithSource, error)
}

// Store is the full persistence surface used by the ingestion pipeline and the read API.
type Store interface {
	SourceStore
	ArticleStore
	Ping(ctx context.Context) error
	Close() error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes lifecycle events to a message bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Executor runs an external scraper and returns the candidates it emitted.
type Executor interface {
	Execute(ctx context.Context, source string, maxArticles int) ([]Candidate, error)
}

// Ingester persists candidates for a source key.
type Ingester interface {
	Ingest(ctx context.Context, sourceKey string, candidates []Candidate) (IngestResult, error)
}

// JobQueue is the worker-facing side of the crawl job queue.
type JobQueue interface {
	Dequeue(ctx context.Context) (CrawlJob, error)
	Progress(ctx context.Context, jobID string, pct int) error
	Complete(ctx context.Context, jobID string, result JobResult) error
	Fail(ctx context.Context, jobID string, cause error) error
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces identifiers (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
