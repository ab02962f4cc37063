package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/voxlate/internal/history"
)

var _ history.Store = (*Store)(nil)

// Store persists utterance entries in a PostgreSQL utterances table. All
// methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, verifies the connection and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres history: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres history: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres history: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres history: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Append implements [history.Store]. Re-appending an existing ID overwrites
// the previous row.
func (s *Store) Append(ctx context.Context, e history.Entry) error {
	const q = `
		INSERT INTO utterances
		    (id, session_id, started, audio_duration_ns, transcript, translation,
		     target, latency_ns, failed_stage, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
		    transcript   = EXCLUDED.transcript,
		    translation  = EXCLUDED.translation,
		    latency_ns   = EXCLUDED.latency_ns,
		    failed_stage = EXCLUDED.failed_stage,
		    error        = EXCLUDED.error`

	_, err := s.pool.Exec(ctx, q,
		e.ID,
		e.SessionID,
		e.Started,
		e.AudioDuration.Nanoseconds(),
		e.Transcript,
		e.Translation,
		e.Target,
		e.Latency.Nanoseconds(),
		e.FailedStage,
		e.Error,
	)
	if err != nil {
		return fmt.Errorf("postgres history: append: %w", err)
	}
	return nil
}

// Recent implements [history.Store].
func (s *Store) Recent(ctx context.Context, limit int) ([]history.Entry, error) {
	q := selectColumns + `
		FROM   utterances
		ORDER  BY started DESC, created_at DESC`
	var args []any
	if limit > 0 {
		q += "\nLIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres history: recent: %w", err)
	}
	return collectEntries(rows)
}

// BySession implements [history.Store].
func (s *Store) BySession(ctx context.Context, sessionID string) ([]history.Entry, error) {
	q := selectColumns + `
		FROM   utterances
		WHERE  session_id = $1
		ORDER  BY started`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres history: by session: %w", err)
	}
	return collectEntries(rows)
}

// Ping checks the database connection. It is used as a readiness check.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all pooled connections. It always returns nil.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

const selectColumns = `
		SELECT id, session_id, started, audio_duration_ns, transcript, translation,
		       target, latency_ns, failed_stage, error`

func collectEntries(rows pgx.Rows) ([]history.Entry, error) {
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (history.Entry, error) {
		var (
			e                  history.Entry
			audioNS, latencyNS int64
		)
		if err := row.Scan(
			&e.ID,
			&e.SessionID,
			&e.Started,
			&audioNS,
			&e.Transcript,
			&e.Translation,
			&e.Target,
			&latencyNS,
			&e.FailedStage,
			&e.Error,
		); err != nil {
			return history.Entry{}, err
		}
		e.AudioDuration = time.Duration(audioNS)
		e.Latency = time.Duration(latencyNS)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres history: scan rows: %w", err)
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	return entries, nil
}
