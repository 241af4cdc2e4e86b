package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-news-crawler/internal/sources"
	"github.com/JakeFAU/realtime-news-crawler/internal/storage/memory"
)

func sampleCandidates() []crawler.Candidate {
	return []crawler.Candidate{
		{Title: "EUR/USD climbs", Content: "body a", URL: "https://fx.example/a", GUID: "g-a", PublishedAt: "2025-02-01T10:00:00Z"},
		{Title: "GBP slips", Content: "body b", URL: "https://fx.example/b", GUID: "g-b", PublishedAt: "Sat, 01 Feb 2025 11:00:00 +0000"},
		{Title: "Yen steady", Content: "body c", URL: "https://fx.example/c", PublishedAt: "sometime"},
	}
}

// TestIngestSavesNewArticlesAndIsIdempotent covers the happy path and a replay of the same batch.
func TestIngestSavesNewArticlesAndIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := &countingStore{Store: memory.NewStore()}
	clock := &fakeClock{now: time.Date(2025, 2, 2, 0, 0, 0, 0, time.UTC)}
	engine := newTestEngine(store, clock)

	result, err := engine.Ingest(ctx, "fxstreet", sampleCandidates())
	require.NoError(t, err)
	require.Equal(t, crawler.IngestResult{Saved: 3, Skipped: 0}, result)
	require.Equal(t, 1, store.lastScrapedCalls())

	articles, err := store.ListArticles(ctx, crawler.ArticleFilter{})
	require.NoError(t, err)
	require.Len(t, articles, 3)
	for _, a := range articles {
		require.Equal(t, []string{"forex"}, a.Categories)
		require.Equal(t, "FXStreet", a.SourceName)
	}
	byURL, err := store.FindArticleByURL(ctx, "https://fx.example/c")
	require.NoError(t, err)
	require.True(t, clock.now.Equal(byURL.PublishedAt), "unparseable date should fall back to now")

	again, err := engine.Ingest(ctx, "fxstreet", sampleCandidates())
	require.NoError(t, err)
	require.Equal(t, crawler.IngestResult{Saved: 0, Skipped: 3}, again)
	require.Equal(t, 2, store.lastScrapedCalls())

	src, err := store.FindSourceByName(ctx, "FXStreet")
	require.NoError(t, err)
	require.NotNil(t, src.LastScrapedAt)
}

// TestIngestDuplicateDetection checks GUID matches win over differing URLs and URL matches catch GUID-less items.
func TestIngestDuplicateDetection(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := &countingStore{Store: memory.NewStore()}
	engine := newTestEngine(store, &fakeClock{now: time.Now().UTC()})

	_, err := engine.Ingest(ctx, "fxstreet", []crawler.Candidate{
		{Title: "first", URL: "https://fx.example/1", GUID: "guid-1"},
		{Title: "second", URL: "https://fx.example/2"},
	})
	require.NoError(t, err)

	result, err := engine.Ingest(ctx, "fxstreet", []crawler.Candidate{
		{Title: "same guid new url", URL: "https://fx.example/moved", GUID: "guid-1"},
		{Title: "same url new guid", URL: "https://fx.example/2", GUID: "guid-2"},
		{Title: "brand new", URL: "https://fx.example/3", GUID: "guid-3"},
	})
	require.NoError(t, err)
	require.Equal(t, crawler.IngestResult{Saved: 1, Skipped: 2}, result)
}

// TestIngestDuplicateWithinBatch ensures a repeated item in one batch is saved once.
func TestIngestDuplicateWithinBatch(t *testing.T) {
	t.Parallel()

	store := &countingStore{Store: memory.NewStore()}
	engine := newTestEngine(store, &fakeClock{now: time.Now().UTC()})
	item := crawler.Candidate{Title: "dup", URL: "https://fx.example/dup", GUID: "dup"}

	result, err := engine.Ingest(context.Background(), "fxstreet", []crawler.Candidate{item, item})
	require.NoError(t, err)
	require.Equal(t, crawler.IngestResult{Saved: 1, Skipped: 1}, result)
}

// TestIngestInvalidCandidatesAreSkipped verifies malformed items count as skips.
func TestIngestInvalidCandidatesAreSkipped(t *testing.T) {
	t.Parallel()

	store := &countingStore{Store: memory.NewStore()}
	engine := newTestEngine(store, &fakeClock{now: time.Now().UTC()})

	result, err := engine.Ingest(context.Background(), "fxstreet", []crawler.Candidate{
		{Title: "no url"},
		{URL: "https://fx.example/untitled"},
		{Title: "ok", URL: "https://fx.example/ok"},
	})
	require.NoError(t, err)
	require.Equal(t, crawler.IngestResult{Saved: 1, Skipped: 2}, result)
}

// TestIngestRaceLostIsSkipped simulates a unique violation at insert time.
func TestIngestRaceLostIsSkipped(t *testing.T) {
	t.Parallel()

	store := &countingStore{Store: memory.NewStore(), createErr: crawler.ErrUniqueViolation}
	engine := newTestEngine(store, &fakeClock{now: time.Now().UTC()})

	result, err := engine.Ingest(context.Background(), "fxstreet", sampleCandidates()[:1])
	require.NoError(t, err)
	require.Equal(t, crawler.IngestResult{Saved: 0, Skipped: 1}, result)
}

// TestIngestPerItemFailureContinues ensures one failing lookup does not abort the batch.
func TestIngestPerItemFailureContinues(t *testing.T) {
	t.Parallel()

	store := &countingStore{Store: memory.NewStore(), failGUID: "g-a"}
	engine := newTestEngine(store, &fakeClock{now: time.Now().UTC()})

	result, err := engine.Ingest(context.Background(), "fxstreet", sampleCandidates())
	require.NoError(t, err)
	require.Equal(t, crawler.IngestResult{Saved: 2, Skipped: 1}, result)
	require.Equal(t, 1, store.lastScrapedCalls())
}

// TestIngestLastScrapedFailurePropagates verifies the final update error fails the run.
func TestIngestLastScrapedFailurePropagates(t *testing.T) {
	t.Parallel()

	store := &countingStore{Store: memory.NewStore(), lastScrapedErr: errors.New("db gone")}
	engine := newTestEngine(store, &fakeClock{now: time.Now().UTC()})

	result, err := engine.Ingest(context.Background(), "fxstreet", sampleCandidates())
	var persistErr *crawler.PersistenceError
	require.ErrorAs(t, err, &persistErr)
	require.Equal(t, crawler.IngestResult{}, result)
}

// TestIngestUnknownSource returns a configuration error without touching storage.
func TestIngestUnknownSource(t *testing.T) {
	t.Parallel()

	store := &countingStore{Store: memory.NewStore()}
	engine := newTestEngine(store, &fakeClock{now: time.Now().UTC()})

	_, err := engine.Ingest(context.Background(), "reuters", sampleCandidates())
	var cfgErr *crawler.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	require.Zero(t, store.lastScrapedCalls())
}

// TestIngestEmptyBatchStillStampsSource covers the zero-candidate edge.
func TestIngestEmptyBatchStillStampsSource(t *testing.T) {
	t.Parallel()

	store := &countingStore{Store: memory.NewStore()}
	engine := newTestEngine(store, &fakeClock{now: time.Now().UTC()})

	result, err := engine.Ingest(context.Background(), "fxstreet", nil)
	require.NoError(t, err)
	require.Equal(t, crawler.IngestResult{}, result)
	require.Equal(t, 1, store.lastScrapedCalls())
}

func newTestEngine(store *countingStore, clock *fakeClock) *Engine {
	registry := sources.NewRegistry(store, sources.DefaultDefinitions(), zap.NewNop())
	return NewEngine(registry, store, &fakeIDGen{}, clock, Config{}, zap.NewNop())
}

type countingStore struct {
	*memory.Store
	createErr      error
	lastScrapedErr error
	failGUID       string

	mu          sync.Mutex
	lastScraped int
}

func (s *countingStore) FindArticleByGUID(ctx context.Context, guid string) (crawler.Article, error) {
	if s.failGUID != "" && guid == s.failGUID {
		return crawler.Article{}, errors.New("lookup timeout")
	}
	return s.Store.FindArticleByGUID(ctx, guid)
}

func (s *countingStore) CreateArticle(ctx context.Context, article crawler.Article) error {
	if s.createErr != nil {
		return s.createErr
	}
	return s.Store.CreateArticle(ctx, article)
}

func (s *countingStore) UpdateSourceLastScraped(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	s.lastScraped++
	s.mu.Unlock()
	if s.lastScrapedErr != nil {
		return s.lastScrapedErr
	}
	return s.Store.UpdateSourceLastScraped(ctx, id, at)
}

func (s *countingStore) lastScrapedCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastScraped
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type fakeIDGen struct {
	mu sync.Mutex
	n  int
}

func (g *fakeIDGen) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("article-%d", g.n), nil
}
