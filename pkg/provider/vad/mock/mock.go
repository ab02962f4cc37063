// Package mock provides a test double for the vad.Classifier interface.
//
// Use Classifier to script per-frame speech decisions and inspect the frames
// that were submitted for classification.
//
// Example:
//
//	c := &mock.Classifier{Results: []bool{false, true, true}}
//	speech, _ := c.Classify(frame)
package mock

import (
	"sync"

	"github.com/MrWong99/voxlate/pkg/provider/vad"
)

// Classifier is a mock implementation of vad.Classifier.
//
// Classify returns Results in order; once exhausted it returns Default. If
// Func is set it takes precedence over Results.
type Classifier struct {
	mu sync.Mutex

	// Results are returned by successive Classify calls.
	Results []bool

	// Default is returned once Results is exhausted.
	Default bool

	// Func, if non-nil, decides each frame.
	Func func(frame []int16) bool

	// Err, if non-nil, is returned by every Classify call.
	Err error

	// Calls records the length of every frame passed to Classify.
	Calls []int
}

// Classify implements vad.Classifier.
func (c *Classifier) Classify(frame []int16) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := len(c.Calls)
	c.Calls = append(c.Calls, len(frame))
	if c.Err != nil {
		return false, c.Err
	}
	if c.Func != nil {
		return c.Func(frame), nil
	}
	if idx < len(c.Results) {
		return c.Results[idx], nil
	}
	return c.Default, nil
}

// CallCount returns how many frames have been classified.
func (c *Classifier) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Calls)
}

// Reset clears recorded calls.
func (c *Classifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = nil
}

var _ vad.Classifier = (*Classifier)(nil)
