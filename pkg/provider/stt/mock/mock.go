// Package mock provides a test double for the stt.Transcriber interface.
//
// Example:
//
//	tr := &mock.Transcriber{Text: "hello"}
//	text, _ := tr.Transcribe(ctx, pcm, 16000)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/voxlate/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcriber.Transcribe.
type TranscribeCall struct {
	// Samples is the number of samples passed to Transcribe.
	Samples int
	// SampleRate is the sample rate passed to Transcribe.
	SampleRate int
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Text is returned by every call unless Texts has an entry for the call.
	Text string

	// Texts, if non-empty, is returned in order; once exhausted Text is used.
	Texts []string

	// Err, if non-nil, is returned by Transcribe.
	Err error

	// Delay simulates inference time. Transcribe honours ctx cancellation
	// while waiting.
	Delay time.Duration

	// Calls records every Transcribe invocation in order.
	Calls []TranscribeCall
}

// Transcribe implements stt.Transcriber.
func (m *Transcriber) Transcribe(ctx context.Context, pcm []int16, sampleRate int) (string, error) {
	m.mu.Lock()
	idx := len(m.Calls)
	m.Calls = append(m.Calls, TranscribeCall{Samples: len(pcm), SampleRate: sampleRate})
	text, err, delay := m.Text, m.Err, m.Delay
	if idx < len(m.Texts) {
		text = m.Texts[idx]
	}
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return "", err
	}
	return text, nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (m *Transcriber) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (m *Transcriber) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}

var _ stt.Transcriber = (*Transcriber)(nil)
