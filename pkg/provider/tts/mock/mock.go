// Package mock provides test doubles for the tts.Provider and tts.Speaker
// interfaces.
//
// Example:
//
//	p := &mock.Provider{Clip: tts.Clip{PCM: pcm, SampleRate: 24000}}
//	clip, _ := p.Synthesize(ctx, "hello")
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/voxlate/pkg/provider/tts"
)

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Clip is returned by every successful Synthesize call.
	Clip tts.Clip

	// Err, if non-nil, is returned by Synthesize.
	Err error

	// Texts records the text of every call in order.
	Texts []string
}

var _ tts.Provider = (*Provider)(nil)

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string) (tts.Clip, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Texts = append(p.Texts, text)
	if p.Err != nil {
		return tts.Clip{}, p.Err
	}
	if err := ctx.Err(); err != nil {
		return tts.Clip{}, err
	}
	return p.Clip, nil
}

// CallCount returns the number of Synthesize calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Texts)
}

// Reset clears recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Texts = nil
}

// Speaker is a mock implementation of tts.Speaker.
type Speaker struct {
	mu sync.Mutex

	// Delay simulates playback time. Speak ignores ctx while waiting, like a
	// real device that finishes the clip it has started.
	Delay time.Duration

	// Err, if non-nil, is returned by Speak.
	Err error

	// Spoken records every text passed to Speak.
	Spoken []string

	// OnSpeak, if set, runs at the start of every call.
	OnSpeak func(text string)
}

var _ tts.Speaker = (*Speaker)(nil)

// Speak implements tts.Speaker.
func (s *Speaker) Speak(_ context.Context, text string) error {
	s.mu.Lock()
	s.Spoken = append(s.Spoken, text)
	delay, err, hook := s.Delay, s.Err, s.OnSpeak
	s.mu.Unlock()

	if hook != nil {
		hook(text)
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	return err
}

// CallCount returns the number of Speak calls.
func (s *Speaker) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Spoken)
}

// Texts returns a snapshot of everything spoken so far.
func (s *Speaker) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.Spoken))
	copy(out, s.Spoken)
	return out
}
