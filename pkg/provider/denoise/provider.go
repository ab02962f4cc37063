// Package denoise defines the Suppressor interface for noise-reduction
// backends applied to a finished utterance before transcription.
//
// A Suppressor is a pure transform: the output has exactly as many samples as
// the input and the sample rate is unchanged.
package denoise

import (
	"context"
)

// Suppressor removes stationary background noise from a mono PCM buffer.
type Suppressor interface {
	// Denoise returns a cleaned copy of pcm. len(result) == len(pcm).
	Denoise(ctx context.Context, pcm []int16, sampleRate int) ([]int16, error)
}

// Passthrough is a Suppressor that returns its input unchanged. It is used
// when noise reduction is disabled.
type Passthrough struct{}

// Denoise implements [Suppressor].
func (Passthrough) Denoise(ctx context.Context, pcm []int16, _ int) ([]int16, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return pcm, nil
}

var _ Suppressor = Passthrough{}
