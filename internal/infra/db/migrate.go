package db

import (
	"database/sql"
)

// MigrateUp creates the PostgreSQL schema. Every statement is idempotent.
func MigrateUp(db *sql.DB) error {
	tables := []string{`
CREATE TABLE IF NOT EXISTS idempotency_records (
    id           BIGSERIAL PRIMARY KEY,
    request_id   TEXT NOT NULL,
    channel      VARCHAR(20) NOT NULL,
    recipient    TEXT NOT NULL,
    media_kind   VARCHAR(10) NOT NULL,
    status       VARCHAR(20) NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    completed_at TIMESTAMPTZ,
    UNIQUE (request_id, channel, recipient, media_kind)
)`, `
CREATE TABLE IF NOT EXISTS delivery_states (
    id                  BIGSERIAL PRIMARY KEY,
    request_id          TEXT NOT NULL,
    channel             VARCHAR(20) NOT NULL,
    recipient           TEXT NOT NULL,
    media_kind          VARCHAR(10) NOT NULL,
    status              VARCHAR(20) NOT NULL,
    provider_message_id TEXT,
    failure_reason      TEXT,
    fallback_triggered  BOOLEAN NOT NULL DEFAULT FALSE,
    fallback_channel    VARCHAR(20),
    created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (request_id, channel, recipient, media_kind)
)`, `
CREATE TABLE IF NOT EXISTS send_requests (
    request_id    TEXT PRIMARY KEY,
    channel       VARCHAR(20) NOT NULL,
    recipients    JSONB NOT NULL,
    media_kinds   JSONB NOT NULL,
    text_message  TEXT NOT NULL DEFAULT '',
    image_url     TEXT NOT NULL DEFAULT '',
    image_caption TEXT NOT NULL DEFAULT '',
    video_url     TEXT NOT NULL DEFAULT '',
    video_caption TEXT NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
)`, `
CREATE TABLE IF NOT EXISTS delivery_attempts (
    id                  BIGSERIAL PRIMARY KEY,
    request_id          TEXT NOT NULL,
    channel             VARCHAR(20) NOT NULL,
    recipient           TEXT NOT NULL,
    media_kind          VARCHAR(10) NOT NULL,
    success             BOOLEAN NOT NULL,
    provider_message_id TEXT,
    response_body       TEXT NOT NULL DEFAULT '',
    error_message       TEXT NOT NULL DEFAULT '',
    created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
)`, `
CREATE TABLE IF NOT EXISTS webhook_events (
    id                  BIGSERIAL PRIMARY KEY,
    provider_message_id TEXT NOT NULL,
    recipient           TEXT NOT NULL DEFAULT '',
    external_status     TEXT NOT NULL,
    mapped_status       VARCHAR(20) NOT NULL,
    error_code          TEXT NOT NULL DEFAULT '',
    error_details       TEXT NOT NULL DEFAULT '',
    applied             BOOLEAN NOT NULL,
    received_at         TIMESTAMPTZ NOT NULL DEFAULT now()
)`}
	for _, stmt := range tables {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}

	for _, idx := range indexStatements() {
		if _, err := db.Exec(idx); err != nil {
			return err
		}
	}
	return nil
}

// MigrateUpSQLite creates the SQLite schema. Timestamps are unix millis.
func MigrateUpSQLite(db *sql.DB) error {
	tables := []string{`
CREATE TABLE IF NOT EXISTS idempotency_records (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    request_id   TEXT NOT NULL,
    channel      TEXT NOT NULL,
    recipient    TEXT NOT NULL,
    media_kind   TEXT NOT NULL,
    status       TEXT NOT NULL,
    created_at   INTEGER NOT NULL,
    completed_at INTEGER,
    UNIQUE (request_id, channel, recipient, media_kind)
)`, `
CREATE TABLE IF NOT EXISTS delivery_states (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,
    request_id          TEXT NOT NULL,
    channel             TEXT NOT NULL,
    recipient           TEXT NOT NULL,
    media_kind          TEXT NOT NULL,
    status              TEXT NOT NULL,
    provider_message_id TEXT,
    failure_reason      TEXT,
    fallback_triggered  INTEGER NOT NULL DEFAULT 0,
    fallback_channel    TEXT,
    created_at          INTEGER NOT NULL,
    updated_at          INTEGER NOT NULL,
    UNIQUE (request_id, channel, recipient, media_kind)
)`, `
CREATE TABLE IF NOT EXISTS send_requests (
    request_id    TEXT PRIMARY KEY,
    channel       TEXT NOT NULL,
    recipients    TEXT NOT NULL,
    media_kinds   TEXT NOT NULL,
    text_message  TEXT NOT NULL DEFAULT '',
    image_url     TEXT NOT NULL DEFAULT '',
    image_caption TEXT NOT NULL DEFAULT '',
    video_url     TEXT NOT NULL DEFAULT '',
    video_caption TEXT NOT NULL DEFAULT '',
    created_at    INTEGER NOT NULL
)`, `
CREATE TABLE IF NOT EXISTS delivery_attempts (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,
    request_id          TEXT NOT NULL,
    channel             TEXT NOT NULL,
    recipient           TEXT NOT NULL,
    media_kind          TEXT NOT NULL,
    success             INTEGER NOT NULL,
    provider_message_id TEXT,
    response_body       TEXT NOT NULL DEFAULT '',
    error_message       TEXT NOT NULL DEFAULT '',
    created_at          INTEGER NOT NULL
)`, `
CREATE TABLE IF NOT EXISTS webhook_events (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,
    provider_message_id TEXT NOT NULL,
    recipient           TEXT NOT NULL DEFAULT '',
    external_status     TEXT NOT NULL,
    mapped_status       TEXT NOT NULL,
    error_code          TEXT NOT NULL DEFAULT '',
    error_details       TEXT NOT NULL DEFAULT '',
    applied             INTEGER NOT NULL,
    received_at         INTEGER NOT NULL
)`}
	for _, stmt := range tables {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}

	for _, idx := range indexStatements() {
		if _, err := db.Exec(idx); err != nil {
			return err
		}
	}
	return nil
}

// indexStatements is shared by both dialects.
func indexStatements() []string {
	return []string{
		// webhook lookup; provider ids are not unique across channels
		`CREATE INDEX IF NOT EXISTS idx_delivery_states_provider_message_id ON delivery_states(provider_message_id)`,
		// reconciliation sweep
		`CREATE INDEX IF NOT EXISTS idx_delivery_states_status_updated_at ON delivery_states(status, updated_at)`,
		// status query by request
		`CREATE INDEX IF NOT EXISTS idx_delivery_states_request_id ON delivery_states(request_id)`,
		`CREATE INDEX IF NOT EXISTS idx_delivery_attempts_request_id ON delivery_attempts(request_id)`,
		`CREATE INDEX IF NOT EXISTS idx_webhook_events_provider_message_id ON webhook_events(provider_message_id)`,
	}
}
