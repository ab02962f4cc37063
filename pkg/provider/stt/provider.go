// Package stt defines the Transcriber interface for Speech-to-Text backends.
//
// A Transcriber receives one complete, already segmented utterance and returns
// its text. Segmentation happens upstream in the voice-activity pipeline, so
// backends are batch oriented: a local whisper.cpp server or library, a hosted
// transcription API, or a streaming service used in a single-shot fashion.
//
// An empty string is a valid result and means no intelligible speech was
// found. Implementations must be safe for concurrent use, although the
// dispatcher only ever issues one call at a time.
package stt

import (
	"context"
	"errors"
)

// ErrEmptyAudio is returned when Transcribe is called with no samples.
var ErrEmptyAudio = errors.New("stt: empty audio")

// Transcriber is the abstraction over any STT backend.
type Transcriber interface {
	// Transcribe converts mono 16-bit PCM at sampleRate into text. It may
	// return "" when the audio contains no recognisable speech.
	Transcribe(ctx context.Context, pcm []int16, sampleRate int) (string, error)
}
