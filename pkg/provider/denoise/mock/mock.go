// Package mock provides a test double for the denoise.Suppressor interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxlate/pkg/provider/denoise"
)

// DenoiseCall records a single invocation of Suppressor.Denoise.
type DenoiseCall struct {
	Samples    int
	SampleRate int
}

// Suppressor is a mock implementation of denoise.Suppressor. By default it
// returns its input unchanged.
type Suppressor struct {
	mu sync.Mutex

	// Err, if non-nil, is returned by Denoise.
	Err error

	// Calls records every Denoise invocation.
	Calls []DenoiseCall
}

// Denoise implements denoise.Suppressor.
func (s *Suppressor) Denoise(_ context.Context, pcm []int16, sampleRate int) ([]int16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, DenoiseCall{Samples: len(pcm), SampleRate: sampleRate})
	if s.Err != nil {
		return nil, s.Err
	}
	return pcm, nil
}

// CallCount returns the number of Denoise calls.
func (s *Suppressor) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls)
}

var _ denoise.Suppressor = (*Suppressor)(nil)
