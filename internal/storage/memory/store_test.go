package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-news-crawler/internal/crawler"
)

// TestStoreSourceLifecycle covers create, lookup, uniqueness, and last-scraped updates.
func TestStoreSourceLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore()

	_, err := store.FindSourceByName(ctx, "FXStreet")
	require.ErrorIs(t, err, crawler.ErrNotFound)

	created, err := store.CreateSource(ctx, crawler.Source{Name: "FXStreet", URL: "https://www.fxstreet.com", Active: true})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	_, err = store.CreateSource(ctx, crawler.Source{Name: "FXStreet"})
	require.ErrorIs(t, err, crawler.ErrUniqueViolation)

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.UpdateSourceLastScraped(ctx, created.ID, at))

	found, err := store.FindSourceByName(ctx, "FXStreet")
	require.NoError(t, err)
	require.NotNil(t, found.LastScrapedAt)
	require.True(t, at.Equal(*found.LastScrapedAt))

	require.ErrorIs(t, store.UpdateSourceLastScraped(ctx, "missing", at), crawler.ErrNotFound)
}

// TestStoreArticleUniqueness asserts URL and GUID collisions surface as unique violations.
func TestStoreArticleUniqueness(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore()
	source, err := store.CreateSource(ctx, crawler.Source{Name: "FXStreet", Active: true})
	require.NoError(t, err)

	article := crawler.Article{SourceID: source.ID, GUID: "g1", URL: "https://example.com/a", Title: "A"}
	require.NoError(t, store.CreateArticle(ctx, article))

	dupURL := crawler.Article{SourceID: source.ID, GUID: "g2", URL: "https://example.com/a"}
	require.ErrorIs(t, store.CreateArticle(ctx, dupURL), crawler.ErrUniqueViolation)

	dupGUID := crawler.Article{SourceID: source.ID, GUID: "g1", URL: "https://example.com/b"}
	require.ErrorIs(t, store.CreateArticle(ctx, dupGUID), crawler.ErrUniqueViolation)

	noGUID := crawler.Article{SourceID: source.ID, URL: "https://example.com/c"}
	require.NoError(t, store.CreateArticle(ctx, noGUID))
	alsoNoGUID := crawler.Article{SourceID: source.ID, URL: "https://example.com/d"}
	require.NoError(t, store.CreateArticle(ctx, alsoNoGUID))

	orphan := crawler.Article{SourceID: "missing", URL: "https://example.com/e"}
	require.Error(t, store.CreateArticle(ctx, orphan))

	byGUID, err := store.FindArticleByGUID(ctx, "g1")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/a", byGUID.URL)

	_, err = store.FindArticleByGUID(ctx, "")
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

// TestStoreListArticlesOrderingAndFilter verifies newest-first ordering, limits, and source filters.
func TestStoreListArticlesOrderingAndFilter(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore()
	fx, err := store.CreateSource(ctx, crawler.Source{Name: "FXStreet", URL: "https://www.fxstreet.com", Active: true})
	require.NoError(t, err)
	other, err := store.CreateSource(ctx, crawler.Source{Name: "Other", Active: false})
	require.NoError(t, err)

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, url := range []string{"https://a", "https://b", "https://c"} {
		require.NoError(t, store.CreateArticle(ctx, crawler.Article{
			SourceID:    fx.ID,
			URL:         url,
			PublishedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}
	require.NoError(t, store.CreateArticle(ctx, crawler.Article{SourceID: other.ID, URL: "https://z", PublishedAt: base}))

	list, err := store.ListArticles(ctx, crawler.ArticleFilter{SourceID: fx.ID, Limit: 2})
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "https://c", list[0].URL)
	require.Equal(t, "https://b", list[1].URL)
	require.Equal(t, "FXStreet", list[0].SourceName)

	active, err := store.ListSources(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)

	summary, err := store.GetSource(ctx, fx.ID)
	require.NoError(t, err)
	require.Equal(t, 3, summary.ArticleCount)

	got, err := store.GetArticle(ctx, list[0].ID)
	require.NoError(t, err)
	require.Equal(t, "https://c", got.URL)

	_, err = store.GetArticle(ctx, "missing")
	require.ErrorIs(t, err, crawler.ErrNotFound)
}
