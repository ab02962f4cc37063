// Package tts defines the Provider interface for Text-to-Speech backends and
// the Speaker that plays synthesised speech on an audio output.
//
// A Provider turns one finished translation into a complete [Clip]. Speaking
// is deliberately blocking: [Playback.Speak] returns only when the player has
// drained the clip, so a single dispatch worker never overlaps two utterances
// on the speakers.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/voxlate/pkg/audio"
)

// ErrEmptyText is returned when Synthesize is called with blank text.
var ErrEmptyText = errors.New("tts: empty text")

// Clip is synthesised mono 16-bit PCM.
type Clip struct {
	PCM        []int16
	SampleRate int
}

// Duration returns the playback length of the clip.
func (c Clip) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(c.PCM)) * time.Second / time.Duration(c.SampleRate)
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text into a complete clip.
	Synthesize(ctx context.Context, text string) (Clip, error)
}

// Speaker voices text and blocks until playback has finished.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// Playback is the standard Speaker: synthesise with a Provider, then play on
// an audio.Player.
type Playback struct {
	provider Provider
	player   audio.Player
}

var _ Speaker = (*Playback)(nil)

// NewPlayback returns a Speaker that plays provider output on player.
func NewPlayback(provider Provider, player audio.Player) *Playback {
	return &Playback{provider: provider, player: player}
}

// Speak implements Speaker. Blank text is a no-op.
func (p *Playback) Speak(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	clip, err := p.provider.Synthesize(ctx, text)
	if err != nil {
		return fmt.Errorf("tts: synthesize: %w", err)
	}
	if len(clip.PCM) == 0 {
		return nil
	}
	if err := p.player.Play(ctx, clip.PCM, clip.SampleRate); err != nil {
		return fmt.Errorf("tts: play: %w", err)
	}
	return nil
}
