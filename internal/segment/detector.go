// Package segment turns a stream of classified audio frames into discrete,
// speech-bounded utterances.
//
// The [Detector] is a two-state machine (Idle, Triggered) driven by a
// [RingWindow] whose capacity equals the silence timeout expressed in frames.
// While Idle it waits for the window to become overwhelmingly speech; it then
// seeds a new utterance with the whole window so the onset is not clipped.
// While Triggered it accumulates every frame until the window becomes
// overwhelmingly non-speech, and emits the concatenated utterance.
//
// Ratios are always computed against the configured capacity, never against
// the current fill level, so a freshly cleared window cannot trigger early.
package segment

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voxlate/pkg/audio"
)

// TriggerRatio is the fraction of the window that must agree before the
// detector changes state. The comparison is strict.
const TriggerRatio = 0.9

// State is the detector state.
type State int

const (
	// Idle waits for a speech onset.
	Idle State = iota

	// Triggered accumulates an utterance until a silence offset.
	Triggered
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Triggered:
		return "triggered"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Utterance is one contiguous speech interval.
type Utterance struct {
	// ID uniquely identifies the utterance in logs, traces and history.
	ID string

	// Started is the capture time of the first frame in the utterance.
	Started time.Time

	// Frames is the number of frames concatenated into PCM.
	Frames int

	// FirstSeq and LastSeq are the capture sequence numbers of the first and
	// last frame.
	FirstSeq, LastSeq uint64

	// PCM holds the concatenated mono samples, in capture order.
	PCM []int16
}

// Duration returns the audio duration of the utterance at sampleRate.
func (u Utterance) Duration(sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(len(u.PCM)) * time.Second / time.Duration(sampleRate)
}

// Detector is the segmentation state machine. A Detector is owned by a single
// goroutine; Push, State and Reset must not be called concurrently.
type Detector struct {
	window    *RingWindow
	threshold float64
	state     State
	frames    []audio.Frame
}

// NewDetector returns an Idle detector with a window of capacity frames.
func NewDetector(capacity int) *Detector {
	w := NewRingWindow(capacity)
	return &Detector{
		window:    w,
		threshold: TriggerRatio * float64(w.Cap()),
	}
}

// State returns the current state.
func (d *Detector) State() State { return d.state }

// Window exposes the sliding window for inspection.
func (d *Detector) Window() *RingWindow { return d.window }

// Pending returns the number of frames held by the active utterance, or 0
// while Idle.
func (d *Detector) Pending() int { return len(d.frames) }

// Push consumes one classified frame. It returns the finished utterance and
// true on the step that transitions Triggered back to Idle.
func (d *Detector) Push(cf ClassifiedFrame) (Utterance, bool) {
	switch d.state {
	case Idle:
		d.window.Push(cf)
		if float64(d.window.Speech()) > d.threshold {
			d.frames = d.window.Frames()
			d.window.Clear()
			d.state = Triggered
		}
		return Utterance{}, false

	default:
		d.frames = append(d.frames, cf.Frame)
		d.window.Push(cf)
		if float64(d.window.NonSpeech()) > d.threshold {
			u := d.finish()
			d.window.Clear()
			d.state = Idle
			return u, true
		}
		return Utterance{}, false
	}
}

// Reset discards any partial utterance and returns to a fresh Idle state.
// It reports the number of frames that were dropped.
func (d *Detector) Reset() int {
	dropped := len(d.frames)
	d.frames = nil
	d.window.Clear()
	d.state = Idle
	return dropped
}

func (d *Detector) finish() Utterance {
	frames := d.frames
	d.frames = nil
	u := Utterance{
		ID:     uuid.NewString(),
		Frames: len(frames),
		PCM:    audio.Concat(frames),
	}
	if len(frames) > 0 {
		u.Started = frames[0].Captured
		u.FirstSeq = frames[0].Seq
		u.LastSeq = frames[len(frames)-1].Seq
	}
	return u
}
