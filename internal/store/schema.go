package store

// schemaStatements holds the idempotent DDL for the record store. Natural
// keys are enforced in the database: one source per canonical URL, one
// chapter per (source, url), at most one live translation per
// (chapter, language).
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS authors (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE TABLE IF NOT EXISTS sources (
	id BIGSERIAL PRIMARY KEY,
	url TEXT NOT NULL UNIQUE,
	title TEXT NOT NULL DEFAULT '',
	author_id BIGINT REFERENCES authors(id),
	description TEXT NOT NULL DEFAULT '',
	cover_url TEXT NOT NULL DEFAULT '',
	language TEXT NOT NULL DEFAULT '',
	chapter_count INT NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'in_progress',
	verified BOOLEAN NOT NULL DEFAULT FALSE,
	content_hash TEXT NOT NULL DEFAULT '',
	published_at TIMESTAMPTZ,
	first_seen_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	last_scrape_at TIMESTAMPTZ
)`,
	`CREATE TABLE IF NOT EXISTS chapters (
	id BIGSERIAL PRIMARY KEY,
	source_id BIGINT NOT NULL REFERENCES sources(id),
	seq INT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL,
	content TEXT,
	attempts INT NOT NULL DEFAULT 0,
	extracted_at TIMESTAMPTZ,
	submitted BOOLEAN NOT NULL DEFAULT FALSE,
	UNIQUE (source_id, url)
)`,
	`CREATE TABLE IF NOT EXISTS translations (
	id BIGSERIAL PRIMARY KEY,
	chapter_id BIGINT NOT NULL REFERENCES chapters(id),
	language TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	translator TEXT NOT NULL DEFAULT '',
	version INT NOT NULL DEFAULT 1,
	quality DOUBLE PRECISION,
	superseded BOOLEAN NOT NULL DEFAULT FALSE,
	translated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS translations_live_natural_key
	ON translations (chapter_id, language) WHERE NOT superseded`,
	`CREATE INDEX IF NOT EXISTS chapters_pending_extraction
	ON chapters (id) WHERE content IS NULL`,
	`CREATE TABLE IF NOT EXISTS site_configs (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	base_url TEXT NOT NULL UNIQUE,
	content_selector TEXT NOT NULL DEFAULT '',
	title_selectors TEXT NOT NULL DEFAULT '',
	chapter_pattern TEXT NOT NULL DEFAULT '',
	expand_selector TEXT NOT NULL DEFAULT '',
	trusted_metadata BOOLEAN NOT NULL DEFAULT FALSE,
	min_content_len INT NOT NULL DEFAULT 0,
	rate_limit_qps DOUBLE PRECISION NOT NULL DEFAULT 0,
	active BOOLEAN NOT NULL DEFAULT TRUE
)`,
}
