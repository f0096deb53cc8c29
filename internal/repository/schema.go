package repository

import (
	"context"
	"fmt"
	"log/slog"
)

// Timestamps are stored as unix milliseconds and UUIDs as text so the same DDL
// runs on Postgres and sqlite.
var ddl = []string{
	`CREATE TABLE IF NOT EXISTS org_credits (
		org_id     TEXT PRIMARY KEY,
		balance    BIGINT NOT NULL DEFAULT 0,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS credits_ledger (
		id              TEXT PRIMARY KEY,
		org_id          TEXT NOT NULL,
		delta           BIGINT NOT NULL,
		reason          TEXT NOT NULL DEFAULT 'adjustment',
		idempotency_key TEXT,
		created_at      BIGINT NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_ledger_org_idem
		ON credits_ledger (org_id, idempotency_key)
		WHERE idempotency_key IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS documents (
		id          TEXT PRIMARY KEY,
		org_id      TEXT NOT NULL,
		reference   TEXT NOT NULL DEFAULT '',
		url         TEXT NOT NULL,
		page_number BIGINT NOT NULL DEFAULT 1,
		created_at  BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ix_documents_org ON documents (org_id)`,
	`CREATE TABLE IF NOT EXISTS templates (
		id          TEXT PRIMARY KEY,
		org_id      TEXT NOT NULL,
		name        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		webhook_url TEXT NOT NULL DEFAULT '',
		created_at  BIGINT NOT NULL,
		UNIQUE (org_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS template_fields (
		id          TEXT PRIMARY KEY,
		template_id TEXT NOT NULL,
		name        TEXT NOT NULL,
		label       TEXT NOT NULL,
		field_type  TEXT NOT NULL,
		required    BOOLEAN NOT NULL DEFAULT FALSE,
		description TEXT NOT NULL DEFAULT '',
		order_index BIGINT NOT NULL DEFAULT 0,
		created_at  BIGINT NOT NULL,
		UNIQUE (template_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS jobs (
		id            TEXT PRIMARY KEY,
		org_id        TEXT NOT NULL,
		kind          TEXT NOT NULL,
		document_id   TEXT,
		template_id   TEXT,
		source_url    TEXT NOT NULL DEFAULT '',
		request_name  TEXT NOT NULL DEFAULT '',
		request_desc  TEXT NOT NULL DEFAULT '',
		status        TEXT NOT NULL DEFAULT 'queued',
		provider      TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		created_at    BIGINT NOT NULL,
		started_at    BIGINT,
		completed_at  BIGINT
	)`,
	`CREATE INDEX IF NOT EXISTS ix_jobs_org_status ON jobs (org_id, status)`,
	`CREATE TABLE IF NOT EXISTS extracted_fields (
		id                TEXT PRIMARY KEY,
		document_id       TEXT NOT NULL,
		template_field_id TEXT NOT NULL,
		value             TEXT NOT NULL DEFAULT '',
		confidence        REAL NOT NULL DEFAULT 0,
		created_at        BIGINT NOT NULL,
		updated_at        BIGINT NOT NULL,
		UNIQUE (document_id, template_field_id)
	)`,
	`CREATE TABLE IF NOT EXISTS usage_records (
		id            TEXT PRIMARY KEY,
		job_id        TEXT NOT NULL,
		org_id        TEXT NOT NULL,
		document_id   TEXT NOT NULL DEFAULT '',
		template_id   TEXT,
		credits_used  BIGINT NOT NULL,
		status        TEXT NOT NULL,
		error_message TEXT NOT NULL DEFAULT '',
		queue_size    BIGINT NOT NULL DEFAULT 0,
		duration_ms   BIGINT,
		created_at    BIGINT NOT NULL,
		started_at    BIGINT,
		completed_at  BIGINT
	)`,
	`CREATE INDEX IF NOT EXISTS ix_usage_org ON usage_records (org_id, created_at)`,
}

// Migrate applies the idempotent schema. Safe to run at every startup.
func (s *Store) Migrate(ctx context.Context, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	for _, stmt := range ddl {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			logger.Error("migration statement failed", "error", err)
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	logger.Info("schema up to date", "statements", len(ddl))
	return nil
}
