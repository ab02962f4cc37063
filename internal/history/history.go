// Package history keeps a record of every dispatched utterance: what was
// heard, what it was translated into, how long it took and where it failed.
//
// Two [Store] implementations exist: [Memory], a bounded in-process log used
// when no database is configured, and postgres.Store, which persists entries
// with pgx. [Guard] wraps any Store so that storage outages never interrupt
// the dispatch loop.
package history

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("history: store closed")

// Entry is the record of one utterance.
type Entry struct {
	// ID is the utterance ID.
	ID string `json:"id"`

	// SessionID identifies the capture session the utterance belongs to.
	SessionID string `json:"session_id"`

	// Started is the capture time of the utterance's first frame.
	Started time.Time `json:"started"`

	// AudioDuration is the length of the captured audio.
	AudioDuration time.Duration `json:"audio_duration"`

	// Transcript is the recognized source text. Empty for silent utterances.
	Transcript string `json:"transcript"`

	// Translation is the translated text, empty when translation did not run.
	Translation string `json:"translation"`

	// Target is the display name of the target language.
	Target string `json:"target"`

	// Latency is the dispatch wall-clock time.
	Latency time.Duration `json:"latency"`

	// FailedStage names the stage that failed, or "" on success.
	FailedStage string `json:"failed_stage,omitempty"`

	// Error holds the failure message when FailedStage is set.
	Error string `json:"error,omitempty"`
}

// Store persists utterance entries. Implementations must be safe for
// concurrent use.
type Store interface {
	// Append records e.
	Append(ctx context.Context, e Entry) error

	// Recent returns up to limit entries, newest first. A limit of 0 or less
	// returns every entry.
	Recent(ctx context.Context, limit int) ([]Entry, error)

	// BySession returns every entry of sessionID in chronological order.
	BySession(ctx context.Context, sessionID string) ([]Entry, error)

	// Close releases the store's resources.
	Close() error
}
