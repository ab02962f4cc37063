package resilience

import (
	"context"

	"github.com/MrWong99/voxlate/pkg/provider/stt"
)

// STTFallback implements [stt.Transcriber] with automatic failover across
// multiple STT backends. Each backend has its own circuit breaker.
type STTFallback struct {
	group *FallbackGroup[stt.Transcriber]
}

// Compile-time interface assertion.
var _ stt.Transcriber = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Transcriber, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional STT backend as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Transcriber) {
	f.group.AddFallback(name, provider)
}

// Transcribe runs the utterance through the first healthy backend.
// [stt.ErrEmptyAudio] is returned directly rather than failing over.
func (f *STTFallback) Transcribe(ctx context.Context, pcm []int16, sampleRate int) (string, error) {
	if len(pcm) == 0 {
		return "", stt.ErrEmptyAudio
	}
	return ExecuteWithResult(ctx, f.group, func(p stt.Transcriber) (string, error) {
		return p.Transcribe(ctx, pcm, sampleRate)
	})
}
