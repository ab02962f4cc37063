// Package ui defines the best-effort presentation sink that the pipeline
// reports to, together with its implementations: a structured log sink, a
// fan-out combinator and a websocket hub that streams events to browsers.
//
// Sink methods are called from the capture and dispatch goroutines and must
// never block them. Implementations drop events rather than wait.
package ui

import (
	"fmt"
	"time"
)

// Status is the coarse session state shown to the user.
type Status int

const (
	// StatusIdle is reported before the first start.
	StatusIdle Status = iota

	// StatusListening is reported while a session captures audio.
	StatusListening

	// StatusStopped is reported after a stop or a fatal session error.
	StatusStopped
)

// String returns the lower-case name of the status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusListening:
		return "listening"
	case StatusStopped:
		return "stopped"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Sink receives presentation events.
type Sink interface {
	// Waveform receives a read-only view of one captured frame.
	Waveform(samples []int16)

	// Recognized reports the transcript of utterance id.
	Recognized(id, text string)

	// Translated reports the translation of utterance id.
	Translated(id, text string)

	// Latency reports the dispatch wall-clock time of utterance id.
	Latency(id string, d time.Duration)

	// Status reports a session state change.
	Status(s Status)

	// Error reports a failure of stage while handling utterance id. id is
	// empty for session-level errors.
	Error(id, stage string, err error)
}

// Nop is a [Sink] that discards everything.
type Nop struct{}

func (Nop) Waveform([]int16)              {}
func (Nop) Recognized(string, string)     {}
func (Nop) Translated(string, string)     {}
func (Nop) Latency(string, time.Duration) {}
func (Nop) Status(Status)                 {}
func (Nop) Error(string, string, error)   {}

// multi fans every event out to several sinks in order.
type multi []Sink

// Multi returns a [Sink] that forwards every event to each of sinks. Nil
// sinks are skipped.
func Multi(sinks ...Sink) Sink {
	out := make(multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m multi) Waveform(samples []int16) {
	for _, s := range m {
		s.Waveform(samples)
	}
}

func (m multi) Recognized(id, text string) {
	for _, s := range m {
		s.Recognized(id, text)
	}
}

func (m multi) Translated(id, text string) {
	for _, s := range m {
		s.Translated(id, text)
	}
}

func (m multi) Latency(id string, d time.Duration) {
	for _, s := range m {
		s.Latency(id, d)
	}
}

func (m multi) Status(st Status) {
	for _, s := range m {
		s.Status(st)
	}
}

func (m multi) Error(id, stage string, err error) {
	for _, s := range m {
		s.Error(id, stage, err)
	}
}

var (
	_ Sink = Nop{}
	_ Sink = multi(nil)
)
