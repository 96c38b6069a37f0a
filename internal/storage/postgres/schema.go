package postgres

import (
	"github.com/jmoiron/sqlx"
)

// schema is applied on startup. Idempotent by construction.
const schema = `
CREATE TABLE IF NOT EXISTS news_items (
	id           BIGSERIAL PRIMARY KEY,
	hash_id      TEXT NOT NULL UNIQUE,
	source       TEXT NOT NULL,
	source_id    TEXT,
	title        TEXT NOT NULL,
	url          TEXT NOT NULL UNIQUE,
	published_at TIMESTAMPTZ NOT NULL,
	language     TEXT,
	summary      TEXT,
	raw_json     JSONB NOT NULL DEFAULT '{}',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_news_items_published_at ON news_items (published_at DESC);
CREATE INDEX IF NOT EXISTS idx_news_items_source ON news_items (source);

CREATE TABLE IF NOT EXISTS tickers (
	id     BIGSERIAL PRIMARY KEY,
	symbol TEXT NOT NULL UNIQUE,
	market TEXT NOT NULL,
	name   TEXT
);

CREATE TABLE IF NOT EXISTS tags (
	id   BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS news_item_tickers (
	news_item_id BIGINT NOT NULL REFERENCES news_items(id) ON DELETE CASCADE,
	ticker_id    BIGINT NOT NULL REFERENCES tickers(id) ON DELETE CASCADE,
	confidence   DOUBLE PRECISION NOT NULL DEFAULT 0,
	UNIQUE (news_item_id, ticker_id)
);

CREATE TABLE IF NOT EXISTS news_item_tags (
	news_item_id BIGINT NOT NULL REFERENCES news_items(id) ON DELETE CASCADE,
	tag_id       BIGINT NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
	UNIQUE (news_item_id, tag_id)
);

CREATE TABLE IF NOT EXISTS ingestion_cursors (
	source     TEXT PRIMARY KEY,
	cursor_at  TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS ingestion_runs (
	id          BIGSERIAL PRIMARY KEY,
	source      TEXT NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at TIMESTAMPTZ,
	error       TEXT,
	stats_json  JSONB
);
CREATE INDEX IF NOT EXISTS idx_ingestion_runs_source ON ingestion_runs (source, started_at DESC);
`

// Migrate applies the schema.
func Migrate(db *sqlx.DB) error {
	_, err := db.Exec(schema)
	return err
}
