// Package vad defines the Classifier interface for frame-level Voice Activity
// Detection backends.
//
// A Classifier answers one question for one frame: does it contain speech?
// It is bound to a single frame geometry (sample rate and frame duration) at
// construction and treats any other frame length as a caller error reported
// with [ErrInvalidFrameGeometry].
//
// Classification is synchronous and must return within roughly a millisecond
// because it runs inline in the per-frame detection loop. Implementations must
// be deterministic: identical input yields identical output. A Classifier is
// used by one detection goroutine at a time and need not be safe for concurrent
// use.
package vad

import (
	"errors"
	"fmt"

	"github.com/MrWong99/voxlate/pkg/audio"
)

// ErrInvalidFrameGeometry is returned when a frame does not match the
// geometry the classifier was built for, or when a backend does not support
// the requested geometry at all. It indicates a programming error.
var ErrInvalidFrameGeometry = errors.New("vad: invalid frame geometry")

// MaxAggressiveness is the highest supported aggressiveness level.
const MaxAggressiveness = 3

// DefaultAggressiveness is used when no level is configured.
const DefaultAggressiveness = 2

// Config holds the construction parameters shared by all classifier backends.
type Config struct {
	// Geometry fixes the sample rate and frame duration of every frame passed
	// to Classify.
	Geometry audio.Geometry

	// Aggressiveness trades recall for precision, from 0 (least aggressive
	// about filtering out non-speech) to 3 (most aggressive).
	Aggressiveness int
}

// Validate reports whether the configuration is usable by any backend.
func (c Config) Validate() error {
	if err := c.Geometry.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFrameGeometry, err)
	}
	if c.Aggressiveness < 0 || c.Aggressiveness > MaxAggressiveness {
		return fmt.Errorf("vad: aggressiveness must be in [0, %d], got %d", MaxAggressiveness, c.Aggressiveness)
	}
	return nil
}

// Classifier decides whether a single frame contains speech.
type Classifier interface {
	// Classify returns true if frame contains speech. frame must hold exactly
	// Geometry.SamplesPerFrame() samples; otherwise an error wrapping
	// ErrInvalidFrameGeometry is returned.
	Classify(frame []int16) (bool, error)
}

// CheckFrame returns an error wrapping ErrInvalidFrameGeometry unless frame
// has exactly the number of samples geom prescribes.
func CheckFrame(geom audio.Geometry, frame []int16) error {
	if want := geom.SamplesPerFrame(); len(frame) != want {
		return fmt.Errorf("%w: got %d samples, want %d for %s", ErrInvalidFrameGeometry, len(frame), want, geom)
	}
	return nil
}
