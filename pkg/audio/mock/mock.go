// Package mock provides in-memory mock implementations of [audio.FrameSource]
// and [audio.Player] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	src := &mock.Source{Script: [][]int16{silence, speech, speech}}
//	err := src.Open(ctx, audio.DefaultGeometry, handoff)
//	<-src.Delivered()
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/voxlate/pkg/audio"
)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock implementation of [audio.FrameSource]. After a successful
// Open it delivers Script on a background goroutine, one entry per frame.
type Source struct {
	mu sync.Mutex

	// Script holds the sample slices to deliver after Open, in order. Each
	// entry becomes one frame; entries are not resized to the geometry.
	Script [][]int16

	// Interval is the pause between two scripted frames. Zero delivers as
	// fast as possible.
	Interval time.Duration

	// OpenError is returned by Open. When set no frames are delivered.
	OpenError error

	// CloseError is returned by Close.
	CloseError error

	// OpenCalls records the geometry passed to every Open call.
	OpenCalls []audio.Geometry

	// CallCountClose records how many times Close was called.
	CallCountClose int

	handoff   func(audio.Frame)
	stop      chan struct{}
	delivered chan struct{}
	wg        sync.WaitGroup
	seq       uint64
}

// Open implements [audio.FrameSource].
func (s *Source) Open(_ context.Context, geom audio.Geometry, handoff func(audio.Frame)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OpenCalls = append(s.OpenCalls, geom)
	if s.OpenError != nil {
		return s.OpenError
	}
	s.handoff = handoff
	s.seq = 0
	s.stop = make(chan struct{})
	s.delivered = make(chan struct{})

	script := make([][]int16, len(s.Script))
	copy(script, s.Script)
	stop, delivered, interval := s.stop, s.delivered, s.Interval

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(delivered)
		for _, samples := range script {
			if interval > 0 {
				select {
				case <-stop:
					return
				case <-time.After(interval):
				}
			}
			select {
			case <-stop:
				return
			default:
			}
			s.Emit(samples)
		}
	}()
	return nil
}

// Emit hands one frame built from samples to the registered handoff. It is a
// no-op when the source is not open.
func (s *Source) Emit(samples []int16) {
	s.mu.Lock()
	h := s.handoff
	seq := s.seq
	s.seq++
	s.mu.Unlock()
	if h == nil {
		return
	}
	cp := make([]int16, len(samples))
	copy(cp, samples)
	h(audio.Frame{Samples: cp, Seq: seq, Captured: time.Now()})
}

// Delivered returns a channel closed once the whole Script has been handed
// off, or the source was closed. It returns nil before the first Open.
func (s *Source) Delivered() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delivered
}

// Close implements [audio.FrameSource]. It is idempotent.
func (s *Source) Close() error {
	s.mu.Lock()
	s.CallCountClose++
	stop := s.stop
	s.stop = nil
	s.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	s.wg.Wait()

	s.mu.Lock()
	s.handoff = nil
	s.mu.Unlock()
	return s.CloseError
}

// ─── Player ───────────────────────────────────────────────────────────────────

// PlayCall records the arguments of a single [Player.Play] invocation.
type PlayCall struct {
	Samples    int
	SampleRate int
}

// Player is a mock implementation of [audio.Player].
type Player struct {
	mu sync.Mutex

	// Delay simulates playback time. Play returns early if ctx is cancelled.
	Delay time.Duration

	// PlayError is returned by Play.
	PlayError error

	// PlayCalls records all Play invocations.
	PlayCalls []PlayCall

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Play implements [audio.Player].
func (p *Player) Play(ctx context.Context, pcm []int16, sampleRate int) error {
	p.mu.Lock()
	p.PlayCalls = append(p.PlayCalls, PlayCall{Samples: len(pcm), SampleRate: sampleRate})
	delay, err := p.Delay, p.PlayError
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

// Close implements [audio.Player].
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountClose++
	return nil
}

// Calls returns a snapshot of PlayCalls.
func (p *Player) Calls() []PlayCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PlayCall, len(p.PlayCalls))
	copy(out, p.PlayCalls)
	return out
}

// Compile-time interface assertions.
var (
	_ audio.FrameSource = (*Source)(nil)
	_ audio.Player      = (*Player)(nil)
)
