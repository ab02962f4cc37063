package audio

import (
	"errors"
	"fmt"
	"time"
)

// Frame is a fixed-duration slice of 16-bit mono PCM captured from an input
// device. A frame is immutable once handed off by a [FrameSource].
type Frame struct {
	// Samples holds exactly Geometry.SamplesPerFrame() signed 16-bit samples.
	Samples []int16

	// Seq is the capture sequence number, starting at 0 for every Open.
	Seq uint64

	// Captured is the wall-clock time at which the frame was completed.
	Captured time.Time
}

// Geometry fixes the sample rate and frame duration of a capture stream. The
// whole pipeline (source, classifier and detector) is bound to one Geometry
// for the lifetime of a session.
type Geometry struct {
	SampleRate    int
	FrameDuration time.Duration
}

// DefaultGeometry is 16 kHz audio cut into 30 ms frames.
var DefaultGeometry = Geometry{SampleRate: 16000, FrameDuration: 30 * time.Millisecond}

// SamplesPerFrame returns the number of mono samples in one frame.
func (g Geometry) SamplesPerFrame() int {
	return int(int64(g.SampleRate) * int64(g.FrameDuration) / int64(time.Second))
}

// FramesIn returns how many whole frames fit into d. It never returns less
// than 1 for a valid geometry.
func (g Geometry) FramesIn(d time.Duration) int {
	if g.FrameDuration <= 0 {
		return 0
	}
	n := int(d / g.FrameDuration)
	if n < 1 {
		n = 1
	}
	return n
}

// Validate reports whether the geometry describes a usable frame.
func (g Geometry) Validate() error {
	var errs []error
	if g.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio: sample rate must be positive, got %d", g.SampleRate))
	}
	if g.FrameDuration <= 0 {
		errs = append(errs, fmt.Errorf("audio: frame duration must be positive, got %s", g.FrameDuration))
	}
	if len(errs) == 0 && g.SamplesPerFrame() == 0 {
		errs = append(errs, fmt.Errorf("audio: %s at %d Hz yields an empty frame", g.FrameDuration, g.SampleRate))
	}
	return errors.Join(errs...)
}

// String returns e.g. "16000Hz/30ms".
func (g Geometry) String() string {
	return fmt.Sprintf("%dHz/%s", g.SampleRate, g.FrameDuration)
}

// DeviceError reports that an audio device could not be opened or read.
// It is fatal to the session that triggered it.
type DeviceError struct {
	// Device is the backend-specific device name, or "default".
	Device string

	// Op is the failing operation, e.g. "open" or "start".
	Op string

	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("audio: %s device %q: %v", e.Op, e.Device, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }
