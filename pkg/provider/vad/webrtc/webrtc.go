// Package webrtc provides a [vad.Classifier] backed by the WebRTC project's
// GMM voice activity detector via github.com/maxhawkins/go-webrtcvad (CGO).
//
// The WebRTC detector supports 8, 16, 32 and 48 kHz audio in 10, 20 or 30 ms
// frames. Aggressiveness maps directly onto the detector's mode 0–3.
package webrtc

import (
	"fmt"
	"sync"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"

	"github.com/MrWong99/voxlate/pkg/audio"
	"github.com/MrWong99/voxlate/pkg/provider/vad"
)

// Classifier wraps a single WebRTC VAD instance.
type Classifier struct {
	geom audio.Geometry

	mu  sync.Mutex
	vad *webrtcvad.VAD
	buf []byte
}

// New creates a WebRTC classifier for cfg. An unsupported geometry yields an
// error wrapping [vad.ErrInvalidFrameGeometry].
func New(cfg vad.Config) (*Classifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	v, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("webrtc: create vad: %w", err)
	}
	if err := v.SetMode(cfg.Aggressiveness); err != nil {
		return nil, fmt.Errorf("webrtc: set mode %d: %w", cfg.Aggressiveness, err)
	}
	n := cfg.Geometry.SamplesPerFrame()
	if !v.ValidRateAndFrameLength(cfg.Geometry.SampleRate, n) {
		return nil, fmt.Errorf("%w: webrtc supports 8/16/32/48 kHz in 10/20/30 ms frames, got %s",
			vad.ErrInvalidFrameGeometry, cfg.Geometry)
	}
	return &Classifier{geom: cfg.Geometry, vad: v, buf: make([]byte, n*2)}, nil
}

// Classify implements [vad.Classifier].
func (c *Classifier) Classify(frame []int16) (bool, error) {
	if err := vad.CheckFrame(c.geom, frame); err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, s := range frame {
		c.buf[2*i] = byte(s)
		c.buf[2*i+1] = byte(s >> 8)
	}
	speech, err := c.vad.Process(c.geom.SampleRate, c.buf)
	if err != nil {
		return false, fmt.Errorf("webrtc: process frame: %w", err)
	}
	return speech, nil
}

var _ vad.Classifier = (*Classifier)(nil)
