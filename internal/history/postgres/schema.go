// Package postgres provides a PostgreSQL-backed [history.Store].
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//	_ = store.Append(ctx, entry)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlUtterances = `
CREATE TABLE IF NOT EXISTS utterances (
    id                TEXT         PRIMARY KEY,
    session_id        TEXT         NOT NULL,
    started           TIMESTAMPTZ  NOT NULL,
    audio_duration_ns BIGINT       NOT NULL DEFAULT 0,
    transcript        TEXT         NOT NULL DEFAULT '',
    translation       TEXT         NOT NULL DEFAULT '',
    target            TEXT         NOT NULL DEFAULT '',
    latency_ns        BIGINT       NOT NULL DEFAULT 0,
    failed_stage      TEXT         NOT NULL DEFAULT '',
    error             TEXT         NOT NULL DEFAULT '',
    created_at        TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_utterances_session_started
    ON utterances (session_id, started);

CREATE INDEX IF NOT EXISTS idx_utterances_created_at
    ON utterances (created_at);
`

// Migrate creates the utterances table and its indexes. It is idempotent and
// safe to call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlUtterances); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
