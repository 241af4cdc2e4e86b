// Package sqlite provides a single-file crawler.Store for local runs.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/JakeFAU/realtime-news-crawler/internal/crawler"
)

// timeLayout is fixed width so text comparison orders chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements crawler.Store on SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("database.path is required")
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sources (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			url TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT 'scraper',
			is_active INTEGER NOT NULL DEFAULT 1,
			last_scraped_at TEXT,
			scraping_config TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS articles (
			id TEXT PRIMARY KEY,
			source_id TEXT NOT NULL REFERENCES sources(id) ON DELETE RESTRICT,
			guid TEXT UNIQUE,
			title TEXT NOT NULL,
			summary TEXT,
			content TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL UNIQUE,
			author TEXT,
			published_at TEXT NOT NULL,
			categories TEXT NOT NULL DEFAULT '[]',
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_articles_published ON articles(published_at DESC, id DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_articles_source ON articles(source_id);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

const sourceColumns = `id, name, url, type, is_active, last_scraped_at, scraping_config, created_at, updated_at`

// FindSourceByName returns the source called name.
func (s *Store) FindSourceByName(ctx context.Context, name string) (crawler.Source, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE name = ?`, name)
	src, err := scanSource(row)
	if err != nil {
		return crawler.Source{}, mapError("find source by name", err)
	}
	return src, nil
}

// CreateSource inserts source, assigning an ID when it has none.
func (s *Store) CreateSource(ctx context.Context, source crawler.Source) (crawler.Source, error) {
	if source.ID == "" {
		source.ID = uuid.NewString()
	}
	if source.Type == "" {
		source.Type = "scraper"
	}
	cfgJSON, err := json.Marshal(source.Config)
	if err != nil {
		return crawler.Source{}, fmt.Errorf("marshal scraping config: %w", err)
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sources (id, name, url, type, is_active, scraping_config, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		source.ID, source.Name, source.URL, source.Type, source.Active, string(cfgJSON),
		formatTime(now), formatTime(now),
	)
	if err != nil {
		return crawler.Source{}, mapError("create source", err)
	}
	source.CreatedAt = now
	source.UpdatedAt = now
	source.LastScrapedAt = nil
	return source, nil
}

// UpdateSourceLastScraped stamps the source's last scrape time.
func (s *Store) UpdateSourceLastScraped(ctx context.Context, sourceID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sources SET last_scraped_at = ?, updated_at = ? WHERE id = ?`,
		formatTime(at), formatTime(time.Now()), sourceID,
	)
	if err != nil {
		return mapError("update source last scraped", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update source last scraped: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("source %s: %w", sourceID, crawler.ErrNotFound)
	}
	return nil
}

// ListSources returns sources ordered by name.
func (s *Store) ListSources(ctx context.Context, activeOnly bool) ([]crawler.Source, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE (? = 0 OR is_active = 1) ORDER BY name`,
		activeOnly,
	)
	if err != nil {
		return nil, mapError("list sources", err)
	}
	defer func() { _ = rows.Close() }()
	var out []crawler.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, mapError("scan source", err)
		}
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("list sources", err)
	}
	return out, nil
}

// GetSource returns one source with its article count.
func (s *Store) GetSource(ctx context.Context, id string) (crawler.SourceSummary, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sourceColumns+`,
			(SELECT COUNT(*) FROM articles a WHERE a.source_id = sources.id)
		FROM sources WHERE id = ?`, id)
	var summary crawler.SourceSummary
	var count int
	src, err := scanSource(row, &count)
	if err != nil {
		return crawler.SourceSummary{}, mapError("get source", err)
	}
	summary.Source = src
	summary.ArticleCount = count
	return summary, nil
}

const articleColumns = `a.id, a.source_id, COALESCE(a.guid, ''), a.title, COALESCE(a.summary, ''),
	a.content, a.url, COALESCE(a.author, ''), a.published_at, a.categories, a.created_at`

// FindArticleByGUID returns the article with guid.
func (s *Store) FindArticleByGUID(ctx context.Context, guid string) (crawler.Article, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+articleColumns+` FROM articles a WHERE a.guid = ?`, guid)
	a, err := scanArticle(row)
	if err != nil {
		return crawler.Article{}, mapError("find article by guid", err)
	}
	return a, nil
}

// FindArticleByURL returns the article at url.
func (s *Store) FindArticleByURL(ctx context.Context, url string) (crawler.Article, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+articleColumns+` FROM articles a WHERE a.url = ?`, url)
	a, err := scanArticle(row)
	if err != nil {
		return crawler.Article{}, mapError("find article by url", err)
	}
	return a, nil
}

// CreateArticle inserts article. Duplicate URLs or GUIDs return
// crawler.ErrUniqueViolation.
func (s *Store) CreateArticle(ctx context.Context, article crawler.Article) error {
	if article.ID == "" {
		article.ID = uuid.NewString()
	}
	categories := article.Categories
	if categories == nil {
		categories = []string{}
	}
	catJSON, err := json.Marshal(categories)
	if err != nil {
		return fmt.Errorf("marshal categories: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO articles (id, source_id, guid, title, summary, content, url, author, published_at, categories, created_at)
		VALUES (?, ?, NULLIF(?, ''), ?, NULLIF(?, ''), ?, ?, NULLIF(?, ''), ?, ?, ?)`,
		article.ID, article.SourceID, article.GUID, article.Title, article.Summary,
		article.Content, article.URL, article.Author, formatTime(article.PublishedAt),
		string(catJSON), formatTime(time.Now()),
	)
	if err != nil {
		return mapError("create article", err)
	}
	return nil
}

// ListArticles returns articles newest first, joined with their source.
func (s *Store) ListArticles(ctx context.Context, filter crawler.ArticleFilter) ([]crawler.ArticleWithSource, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+articleColumns+`, s.name, s.url
		FROM articles a JOIN sources s ON s.id = a.source_id
		WHERE (? = '' OR a.source_id = ?)
		ORDER BY a.published_at DESC, a.id DESC
		LIMIT ?`, filter.SourceID, filter.SourceID, limit)
	if err != nil {
		return nil, mapError("list articles", err)
	}
	defer func() { _ = rows.Close() }()
	var out []crawler.ArticleWithSource
	for rows.Next() {
		var item crawler.ArticleWithSource
		a, err := scanArticle(rows, &item.SourceName, &item.SourceURL)
		if err != nil {
			return nil, mapError("scan article", err)
		}
		item.Article = a
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("list articles", err)
	}
	return out, nil
}

// GetArticle returns one article joined with its source.
func (s *Store) GetArticle(ctx context.Context, id string) (crawler.ArticleWithSource, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+articleColumns+`, s.name, s.url
		FROM articles a JOIN sources s ON s.id = a.source_id
		WHERE a.id = ?`, id)
	var item crawler.ArticleWithSource
	a, err := scanArticle(row, &item.SourceName, &item.SourceURL)
	if err != nil {
		return crawler.ArticleWithSource{}, mapError("get article", err)
	}
	item.Article = a
	return item, nil
}

// Ping checks the database handle.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSource(row scanner, extra ...any) (crawler.Source, error) {
	var src crawler.Source
	var lastScraped sql.NullString
	var cfgJSON, created, updated string
	dest := append([]any{
		&src.ID, &src.Name, &src.URL, &src.Type, &src.Active,
		&lastScraped, &cfgJSON, &created, &updated,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return crawler.Source{}, err
	}
	var err error
	if src.CreatedAt, err = parseTime(created); err != nil {
		return crawler.Source{}, err
	}
	if src.UpdatedAt, err = parseTime(updated); err != nil {
		return crawler.Source{}, err
	}
	if lastScraped.Valid {
		ts, err := parseTime(lastScraped.String)
		if err != nil {
			return crawler.Source{}, err
		}
		src.LastScrapedAt = &ts
	}
	if cfgJSON != "" {
		if err := json.Unmarshal([]byte(cfgJSON), &src.Config); err != nil {
			return crawler.Source{}, fmt.Errorf("decode scraping config: %w", err)
		}
	}
	return src, nil
}

func scanArticle(row scanner, extra ...any) (crawler.Article, error) {
	var a crawler.Article
	var published, created, catJSON string
	dest := append([]any{
		&a.ID, &a.SourceID, &a.GUID, &a.Title, &a.Summary,
		&a.Content, &a.URL, &a.Author, &published, &catJSON, &created,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return crawler.Article{}, err
	}
	var err error
	if a.PublishedAt, err = parseTime(published); err != nil {
		return crawler.Article{}, err
	}
	if a.CreatedAt, err = parseTime(created); err != nil {
		return crawler.Article{}, err
	}
	if err := json.Unmarshal([]byte(catJSON), &a.Categories); err != nil {
		return crawler.Article{}, fmt.Errorf("decode categories: %w", err)
	}
	return a, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	return t, nil
}

// mapError translates driver errors into crawler sentinels.
func mapError(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, crawler.ErrNotFound)
	}
	var sqlErr *sqlite.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%s: %v: %w", op, sqlErr, crawler.ErrUniqueViolation)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
