// Package ingest turns scraper candidates into persisted articles. Duplicates
// are detected by GUID with a URL fallback, and per-item failures are counted
// as skips rather than aborting the run.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-crawler/internal/crawler"
)

// DefaultCategories is applied when a source carries no categories of its own.
var DefaultCategories = []string{"forex"}

// SourceResolver maps a source key to its persisted Source.
type SourceResolver interface {
	ResolveOrCreate(ctx context.Context, key string) (crawler.Source, error)
}

// ArticleWriter is the subset of the store the engine writes through.
type ArticleWriter interface {
	FindArticleByGUID(ctx context.Context, guid string) (crawler.Article, error)
	FindArticleByURL(ctx context.Context, url string) (crawler.Article, error)
	CreateArticle(ctx context.Context, article crawler.Article) error
	UpdateSourceLastScraped(ctx context.Context, sourceID string, at time.Time) error
}

// Config controls Engine behavior.
type Config struct {
	DefaultCategories []string
}

// Engine persists candidates idempotently.
type Engine struct {
	resolver SourceResolver
	store    ArticleWriter
	ids      crawler.IDGenerator
	clock    crawler.Clock
	cfg      Config
	logger   *zap.Logger
}

// NewEngine constructs an Engine.
func NewEngine(
	resolver SourceResolver,
	store ArticleWriter,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.DefaultCategories) == 0 {
		cfg.DefaultCategories = DefaultCategories
	}
	return &Engine{
		resolver: resolver,
		store:    store,
		ids:      ids,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
}

// Ingest resolves the source once, persists every candidate not already stored,
// and stamps the source's last scrape time exactly once at the end. Re-running
// with the same candidates saves nothing.
func (e *Engine) Ingest(
	ctx context.Context,
	sourceKey string,
	candidates []crawler.Candidate,
) (crawler.IngestResult, error) {
	source, err := e.resolver.ResolveOrCreate(ctx, sourceKey)
	if err != nil {
		return crawler.IngestResult{}, fmt.Errorf("resolve source %q: %w", sourceKey, err)
	}
	logger := e.logger.With(zap.String("source", source.Name), zap.String("source_id", source.ID))
	categories := source.Config.Categories
	if len(categories) == 0 {
		categories = e.cfg.DefaultCategories
	}

	var result crawler.IngestResult
	for i, candidate := range candidates {
		saved, err := e.ingestOne(ctx, source, candidate, categories)
		switch {
		case err != nil:
			result.Skipped++
			logger.Warn("article ingest failed",
				zap.Int("index", i),
				zap.String("url", candidate.URL),
				zap.Error(err),
			)
		case saved:
			result.Saved++
		default:
			result.Skipped++
		}
	}

	if err := e.store.UpdateSourceLastScraped(ctx, source.ID, e.clock.Now()); err != nil {
		return crawler.IngestResult{}, &crawler.PersistenceError{Op: "update source last scraped", Err: err}
	}
	logger.Info("ingestion finished",
		zap.Int("candidates", len(candidates)),
		zap.Int("saved", result.Saved),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}

// ingestOne reports whether the candidate produced a new article. A false
// result with a nil error means the candidate was a duplicate.
func (e *Engine) ingestOne(
	ctx context.Context,
	source crawler.Source,
	candidate crawler.Candidate,
	categories []string,
) (bool, error) {
	candidate.URL = strings.TrimSpace(candidate.URL)
	candidate.GUID = strings.TrimSpace(candidate.GUID)
	if candidate.URL == "" {
		return false, errors.New("candidate has no url")
	}
	if strings.TrimSpace(candidate.Title) == "" {
		return false, errors.New("candidate has no title")
	}

	if candidate.GUID != "" {
		dup, err := e.exists("find article by guid", func() error {
			_, err := e.store.FindArticleByGUID(ctx, candidate.GUID)
			return err
		})
		if err != nil || dup {
			return false, err
		}
	}
	dup, err := e.exists("find article by url", func() error {
		_, err := e.store.FindArticleByURL(ctx, candidate.URL)
		return err
	})
	if err != nil || dup {
		return false, err
	}

	id, err := e.ids.NewID()
	if err != nil {
		return false, fmt.Errorf("generate article id: %w", err)
	}
	now := e.clock.Now()
	article := crawler.Article{
		ID:          id,
		SourceID:    source.ID,
		GUID:        candidate.GUID,
		Title:       candidate.Title,
		Summary:     candidate.Summary,
		Content:     candidate.Content,
		URL:         candidate.URL,
		Author:      candidate.Author,
		PublishedAt: NormalizeDate(candidate.PublishedAt, e.clock.Now),
		Categories:  append([]string(nil), categories...),
		CreatedAt:   now,
	}
	if err := e.store.CreateArticle(ctx, article); err != nil {
		if errors.Is(err, crawler.ErrUniqueViolation) {
			e.logger.Debug("article inserted concurrently", zap.String("url", article.URL))
			return false, nil
		}
		return false, &crawler.PersistenceError{Op: "create article", Err: err}
	}
	return true, nil
}

func (e *Engine) exists(op string, find func() error) (bool, error) {
	err := find()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, crawler.ErrNotFound):
		return false, nil
	default:
		return false, &crawler.PersistenceError{Op: op, Err: err}
	}
}
