// Package postgres provides the Postgres-backed article and source store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/realtime-news-crawler/internal/crawler"
)

// Postgres error codes mapped onto crawler sentinels.
const (
	codeUniqueViolation     = "23505"
	codeInvalidTextEncoding = "22P02"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	// Migrate creates missing tables on open.
	Migrate bool
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Store implements crawler.Store on Postgres.
type Store struct {
	pool dbPool
}

// NewStore connects to Postgres using cfg.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &Store{pool: pool}
	if cfg.Migrate {
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return s, nil
}

// NewStoreWithPool wraps an existing pool (primarily for testing).
func NewStoreWithPool(pool dbPool) (*Store, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate postgres: %w", err)
		}
	}
	return nil
}

const sourceColumns = `id::text, name, url, type, is_active, last_scraped_at, scraping_config, created_at, updated_at`

// FindSourceByName returns the source called name.
func (s *Store) FindSourceByName(ctx context.Context, name string) (crawler.Source, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+sourceColumns+` FROM sources WHERE name = $1`, name)
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
	row := s.pool.QueryRow(ctx, `
INSERT INTO sources (id, name, url, type, is_active, scraping_config)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING `+sourceColumns,
		source.ID, source.Name, source.URL, source.Type, source.Active, cfgJSON,
	)
	created, err := scanSource(row)
	if err != nil {
		return crawler.Source{}, mapError("create source", err)
	}
	return created, nil
}

// UpdateSourceLastScraped stamps the source's last scrape time.
func (s *Store) UpdateSourceLastScraped(ctx context.Context, sourceID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sources SET last_scraped_at = $2, updated_at = now() WHERE id = $1`,
		sourceID, at.UTC(),
	)
	if err != nil {
		return mapError("update source last scraped", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("source %s: %w", sourceID, crawler.ErrNotFound)
	}
	return nil
}

// ListSources returns sources ordered by name.
func (s *Store) ListSources(ctx context.Context, activeOnly bool) ([]crawler.Source, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE ($1 = false OR is_active) ORDER BY name`,
		activeOnly,
	)
	if err != nil {
		return nil, mapError("list sources", err)
	}
	defer rows.Close()
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
	row := s.pool.QueryRow(ctx, `
SELECT `+sourceColumns+`,
	(SELECT COUNT(*) FROM articles a WHERE a.source_id = sources.id)
FROM sources WHERE id = $1`, id)
	var summary crawler.SourceSummary
	var cfgJSON []byte
	err := row.Scan(
		&summary.ID, &summary.Name, &summary.URL, &summary.Type, &summary.Active,
		&summary.LastScrapedAt, &cfgJSON, &summary.CreatedAt, &summary.UpdatedAt,
		&summary.ArticleCount,
	)
	if err != nil {
		return crawler.SourceSummary{}, mapError("get source", err)
	}
	if err := decodeConfig(cfgJSON, &summary.Config); err != nil {
		return crawler.SourceSummary{}, err
	}
	return summary, nil
}

const articleColumns = `a.id::text, a.source_id::text, COALESCE(a.guid, ''), a.title, COALESCE(a.summary, ''),
	a.content, a.url, COALESCE(a.author, ''), a.published_at, a.categories, a.created_at`

// FindArticleByGUID returns the article with guid.
func (s *Store) FindArticleByGUID(ctx context.Context, guid string) (crawler.Article, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+articleColumns+` FROM articles a WHERE a.guid = $1`, guid)
	article, err := scanArticle(row)
	if err != nil {
		return crawler.Article{}, mapError("find article by guid", err)
	}
	return article, nil
}

// FindArticleByURL returns the article at url.
func (s *Store) FindArticleByURL(ctx context.Context, url string) (crawler.Article, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+articleColumns+` FROM articles a WHERE a.url = $1`, url)
	article, err := scanArticle(row)
	if err != nil {
		return crawler.Article{}, mapError("find article by url", err)
	}
	return article, nil
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
	_, err := s.pool.Exec(ctx, `
INSERT INTO articles (id, source_id, guid, title, summary, content, url, author, published_at, categories)
VALUES ($1, $2, NULLIF($3, ''), $4, NULLIF($5, ''), $6, $7, NULLIF($8, ''), $9, $10)`,
		article.ID, article.SourceID, article.GUID, article.Title, article.Summary,
		article.Content, article.URL, article.Author, article.PublishedAt.UTC(), categories,
	)
	if err != nil {
		return mapError("create article", err)
	}
	return nil
}

// ListArticles returns articles newest first, joined with their source.
func (s *Store) ListArticles(ctx context.Context, filter crawler.ArticleFilter) ([]crawler.ArticleWithSource, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+articleColumns+`, s.name, s.url
FROM articles a JOIN sources s ON s.id = a.source_id
WHERE ($1 = '' OR a.source_id::text = $1)
ORDER BY a.published_at DESC, a.id DESC
LIMIT NULLIF($2, 0)`, filter.SourceID, filter.Limit)
	if err != nil {
		return nil, mapError("list articles", err)
	}
	defer rows.Close()
	var out []crawler.ArticleWithSource
	for rows.Next() {
		item, err := scanArticleWithSource(rows)
		if err != nil {
			return nil, mapError("scan article", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("list articles", err)
	}
	return out, nil
}

// GetArticle returns one article joined with its source.
func (s *Store) GetArticle(ctx context.Context, id string) (crawler.ArticleWithSource, error) {
	row := s.pool.QueryRow(ctx, `
SELECT `+articleColumns+`, s.name, s.url
FROM articles a JOIN sources s ON s.id = a.source_id
WHERE a.id = $1`, id)
	item, err := scanArticleWithSource(row)
	if err != nil {
		return crawler.ArticleWithSource{}, mapError("get article", err)
	}
	return item, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func scanSource(row pgx.Row) (crawler.Source, error) {
	var src crawler.Source
	var cfgJSON []byte
	if err := row.Scan(
		&src.ID, &src.Name, &src.URL, &src.Type, &src.Active,
		&src.LastScrapedAt, &cfgJSON, &src.CreatedAt, &src.UpdatedAt,
	); err != nil {
		return crawler.Source{}, err
	}
	if err := decodeConfig(cfgJSON, &src.Config); err != nil {
		return crawler.Source{}, err
	}
	return src, nil
}

func decodeConfig(raw []byte, dst *crawler.ScrapingConfig) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode scraping config: %w", err)
	}
	return nil
}

func scanArticle(row pgx.Row) (crawler.Article, error) {
	var a crawler.Article
	err := row.Scan(
		&a.ID, &a.SourceID, &a.GUID, &a.Title, &a.Summary,
		&a.Content, &a.URL, &a.Author, &a.PublishedAt, &a.Categories, &a.CreatedAt,
	)
	return a, err
}

func scanArticleWithSource(row pgx.Row) (crawler.ArticleWithSource, error) {
	var item crawler.ArticleWithSource
	a := &item.Article
	err := row.Scan(
		&a.ID, &a.SourceID, &a.GUID, &a.Title, &a.Summary,
		&a.Content, &a.URL, &a.Author, &a.PublishedAt, &a.Categories, &a.CreatedAt,
		&item.SourceName, &item.SourceURL,
	)
	return item, err
}

// mapError translates driver errors into crawler sentinels.
func mapError(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, crawler.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%s: %s: %w", op, pgErr.ConstraintName, crawler.ErrUniqueViolation)
		case codeInvalidTextEncoding:
			return fmt.Errorf("%s: %w", op, crawler.ErrNotFound)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
