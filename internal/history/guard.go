package history

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Guard wraps a [Store] and makes all operations non-fatal. Failures are
// logged and swallowed, reads return empty results, and the guard reports
// itself as degraded until the next successful call.
//
// All methods are safe for concurrent use.
type Guard struct {
	store    Store
	degraded atomic.Bool
}

// NewGuard returns a Guard around store.
func NewGuard(store Store) *Guard {
	return &Guard{store: store}
}

// Append records e. It always returns nil.
func (g *Guard) Append(ctx context.Context, e Entry) error {
	if err := g.store.Append(ctx, e); err != nil {
		g.degraded.Store(true)
		slog.Warn("history guard: append failed, swallowing error",
			"utterance_id", e.ID,
			"session_id", e.SessionID,
			"err", err,
		)
		return nil
	}
	g.degraded.Store(false)
	return nil
}

// Recent returns the newest entries, or an empty slice when the store fails.
func (g *Guard) Recent(ctx context.Context, limit int) ([]Entry, error) {
	entries, err := g.store.Recent(ctx, limit)
	if err != nil {
		g.degraded.Store(true)
		slog.Warn("history guard: recent failed, returning empty", "limit", limit, "err", err)
		return []Entry{}, nil
	}
	g.degraded.Store(false)
	return entries, nil
}

// BySession returns a session's entries, or an empty slice when the store
// fails.
func (g *Guard) BySession(ctx context.Context, sessionID string) ([]Entry, error) {
	entries, err := g.store.BySession(ctx, sessionID)
	if err != nil {
		g.degraded.Store(true)
		slog.Warn("history guard: by session failed, returning empty", "session_id", sessionID, "err", err)
		return []Entry{}, nil
	}
	g.degraded.Store(false)
	return entries, nil
}

// Close closes the wrapped store.
func (g *Guard) Close() error {
	return g.store.Close()
}

// IsDegraded reports whether the most recent operation on the wrapped store
// failed.
func (g *Guard) IsDegraded() bool {
	return g.degraded.Load()
}

var _ Store = (*Guard)(nil)
