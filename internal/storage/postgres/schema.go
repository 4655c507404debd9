package postgres

var schemaStatements = []string{
	`CREATE SCHEMA IF NOT EXISTS raw_data`,
	`CREATE TABLE IF NOT EXISTS raw_data.press_releases (
	id BIGSERIAL PRIMARY KEY,
	url VARCHAR(2048) UNIQUE NOT NULL,
	url_hash CHAR(64) NOT NULL,
	title TEXT,
	content TEXT,
	published_at TIMESTAMPTZ,
	raw_response JSONB,
	scraped_at TIMESTAMPTZ DEFAULT now(),
	created_at TIMESTAMPTZ DEFAULT now()
)`,
	`CREATE INDEX IF NOT EXISTS idx_press_releases_url_hash ON raw_data.press_releases (url_hash)`,
	`CREATE INDEX IF NOT EXISTS idx_press_releases_published_at ON raw_data.press_releases (published_at DESC)`,
	`CREATE TABLE IF NOT EXISTS raw_data.press_release_summary (
	id BIGSERIAL PRIMARY KEY,
	press_release_id BIGINT UNIQUE NOT NULL REFERENCES raw_data.press_releases(id),
	summary TEXT NOT NULL,
	bullet_points JSONB,
	word_count INT,
	model_used VARCHAR(100),
	summarized_at TIMESTAMPTZ DEFAULT now(),
	created_at TIMESTAMPTZ DEFAULT now()
)`,
	`CREATE TABLE IF NOT EXISTS raw_data.pipeline_runs (
	id UUID PRIMARY KEY,
	trigger TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	status TEXT NOT NULL,
	error_message TEXT,
	ingest_report JSONB,
	enrich_report JSONB
)`,
}
