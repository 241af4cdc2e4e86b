// Package memory provides in-memory stores for development and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/realtime-news-crawler/internal/crawler"
)

// Store is an in-memory crawler.Store. It enforces the same uniqueness rules as
// the SQL schemas: source name, article URL, and article GUID when present.
type Store struct {
	mu       sync.RWMutex
	sources  map[string]crawler.Source
	articles map[string]crawler.Article
	byName   map[string]string
	byURL    map[string]string
	byGUID   map[string]string
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		sources:  make(map[string]crawler.Source),
		articles: make(map[string]crawler.Article),
		byName:   make(map[string]string),
		byURL:    make(map[string]string),
		byGUID:   make(map[string]string),
	}
}

// FindSourceByName returns the source with the given name.
func (s *Store) FindSourceByName(_ context.Context, name string) (crawler.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byName[name]
	if !ok {
		return crawler.Source{}, fmt.Errorf("source %q: %w", name, crawler.ErrNotFound)
	}
	return cloneSource(s.sources[id]), nil
}

// CreateSource inserts a source, assigning an ID when empty.
func (s *Store) CreateSource(_ context.Context, source crawler.Source) (crawler.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byName[source.Name]; exists {
		return crawler.Source{}, fmt.Errorf("source name %q: %w", source.Name, crawler.ErrUniqueViolation)
	}
	if source.ID == "" {
		source.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if source.CreatedAt.IsZero() {
		source.CreatedAt = now
	}
	source.UpdatedAt = now
	source = cloneSource(source)
	s.sources[source.ID] = source
	s.byName[source.Name] = source.ID
	return cloneSource(source), nil
}

// UpdateSourceLastScraped stamps the source's last scrape time.
func (s *Store) UpdateSourceLastScraped(_ context.Context, sourceID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	source, ok := s.sources[sourceID]
	if !ok {
		return fmt.Errorf("source %s: %w", sourceID, crawler.ErrNotFound)
	}
	ts := at.UTC()
	source.LastScrapedAt = &ts
	source.UpdatedAt = time.Now().UTC()
	s.sources[sourceID] = source
	return nil
}

// ListSources returns sources ordered by name.
func (s *Store) ListSources(_ context.Context, activeOnly bool) ([]crawler.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Source, 0, len(s.sources))
	for _, source := range s.sources {
		if activeOnly && !source.Active {
			continue
		}
		out = append(out, cloneSource(source))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// GetSource returns a source with its article count.
func (s *Store) GetSource(_ context.Context, id string) (crawler.SourceSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	source, ok := s.sources[id]
	if !ok {
		return crawler.SourceSummary{}, fmt.Errorf("source %s: %w", id, crawler.ErrNotFound)
	}
	count := 0
	for _, article := range s.articles {
		if article.SourceID == id {
			count++
		}
	}
	return crawler.SourceSummary{Source: cloneSource(source), ArticleCount: count}, nil
}

// FindArticleByGUID returns the article with the given GUID.
func (s *Store) FindArticleByGUID(_ context.Context, guid string) (crawler.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byGUID[guid]
	if !ok || guid == "" {
		return crawler.Article{}, fmt.Errorf("article guid %q: %w", guid, crawler.ErrNotFound)
	}
	return cloneArticle(s.articles[id]), nil
}

// FindArticleByURL returns the article with the given URL.
func (s *Store) FindArticleByURL(_ context.Context, url string) (crawler.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byURL[url]
	if !ok {
		return crawler.Article{}, fmt.Errorf("article url %q: %w", url, crawler.ErrNotFound)
	}
	return cloneArticle(s.articles[id]), nil
}

// CreateArticle inserts an article. The referenced source must exist.
func (s *Store) CreateArticle(_ context.Context, article crawler.Article) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sources[article.SourceID]; !ok {
		return fmt.Errorf("article source %s: %w", article.SourceID, errors.New("foreign key violation"))
	}
	if _, exists := s.byURL[article.URL]; exists {
		return fmt.Errorf("article url %q: %w", article.URL, crawler.ErrUniqueViolation)
	}
	if article.GUID != "" {
		if _, exists := s.byGUID[article.GUID]; exists {
			return fmt.Errorf("article guid %q: %w", article.GUID, crawler.ErrUniqueViolation)
		}
	}
	if article.ID == "" {
		article.ID = uuid.NewString()
	}
	if article.CreatedAt.IsZero() {
		article.CreatedAt = time.Now().UTC()
	}
	s.articles[article.ID] = cloneArticle(article)
	s.byURL[article.URL] = article.ID
	if article.GUID != "" {
		s.byGUID[article.GUID] = article.ID
	}
	return nil
}

// ListArticles returns articles ordered by published time, newest first.
func (s *Store) ListArticles(_ context.Context, filter crawler.ArticleFilter) ([]crawler.ArticleWithSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.ArticleWithSource, 0, len(s.articles))
	for _, article := range s.articles {
		if filter.SourceID != "" && article.SourceID != filter.SourceID {
			continue
		}
		out = append(out, s.withSource(article))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PublishedAt.Equal(out[j].PublishedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].PublishedAt.After(out[j].PublishedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// GetArticle returns one article with its source.
func (s *Store) GetArticle(_ context.Context, id string) (crawler.ArticleWithSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	article, ok := s.articles[id]
	if !ok {
		return crawler.ArticleWithSource{}, fmt.Errorf("article %s: %w", id, crawler.ErrNotFound)
	}
	return s.withSource(article), nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error {
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

func (s *Store) withSource(article crawler.Article) crawler.ArticleWithSource {
	source := s.sources[article.SourceID]
	return crawler.ArticleWithSource{
		Article:    cloneArticle(article),
		SourceName: source.Name,
		SourceURL:  source.URL,
	}
}

func cloneSource(src crawler.Source) crawler.Source {
	cp := src
	if src.LastScrapedAt != nil {
		ts := *src.LastScrapedAt
		cp.LastScrapedAt = &ts
	}
	cp.Config.Categories = append([]string(nil), src.Config.Categories...)
	return cp
}

func cloneArticle(src crawler.Article) crawler.Article {
	cp := src
	cp.Categories = append([]string(nil), src.Categories...)
	return cp
}
