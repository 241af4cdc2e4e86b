package postgres

// schemaStatements create the tables on first start. Sources cannot be deleted
// while they own articles; deactivate them instead.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS sources (
	id              UUID PRIMARY KEY,
	name            TEXT NOT NULL UNIQUE,
	url             TEXT NOT NULL,
	type            TEXT NOT NULL DEFAULT 'scraper',
	is_active       BOOLEAN NOT NULL DEFAULT TRUE,
	last_scraped_at TIMESTAMPTZ,
	scraping_config JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE TABLE IF NOT EXISTS articles (
	id           UUID PRIMARY KEY,
	source_id    UUID NOT NULL REFERENCES sources(id) ON DELETE RESTRICT,
	guid         TEXT UNIQUE,
	title        TEXT NOT NULL,
	summary      TEXT,
	content      TEXT NOT NULL DEFAULT '',
	url          TEXT NOT NULL UNIQUE,
	author       TEXT,
	published_at TIMESTAMPTZ NOT NULL,
	categories   TEXT[] NOT NULL DEFAULT '{}',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE INDEX IF NOT EXISTS articles_published_at_idx ON articles (published_at DESC, id DESC)`,
	`CREATE INDEX IF NOT EXISTS articles_source_id_idx ON articles (source_id)`,
}
