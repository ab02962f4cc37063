// Package energy provides a pure-Go [vad.Classifier] that labels a frame as
// speech when its RMS level exceeds a threshold chosen by the aggressiveness
// level. It has no state, so it is trivially deterministic, and it is the
// classifier used when the WebRTC VAD library is not available.
package energy

import (
	"fmt"
	"math"

	"github.com/MrWong99/voxlate/pkg/audio"
	"github.com/MrWong99/voxlate/pkg/provider/vad"
)

// thresholds maps aggressiveness to the normalised RMS (0..1) a frame must
// exceed to count as speech.
var thresholds = [vad.MaxAggressiveness + 1]float64{0.004, 0.008, 0.015, 0.03}

// Classifier is an RMS energy gate.
type Classifier struct {
	geom      audio.Geometry
	threshold float64
}

// Option is a functional option for [Classifier].
type Option func(*Classifier)

// WithThreshold overrides the aggressiveness-derived threshold with a fixed
// normalised RMS level.
func WithThreshold(level float64) Option {
	return func(c *Classifier) { c.threshold = level }
}

// New returns an energy classifier for cfg.
func New(cfg vad.Config, opts ...Option) (*Classifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Classifier{geom: cfg.Geometry, threshold: thresholds[cfg.Aggressiveness]}
	for _, o := range opts {
		o(c)
	}
	if c.threshold <= 0 || c.threshold >= 1 {
		return nil, fmt.Errorf("energy: threshold must be in (0, 1), got %g", c.threshold)
	}
	return c, nil
}

// Classify implements [vad.Classifier].
func (c *Classifier) Classify(frame []int16) (bool, error) {
	if err := vad.CheckFrame(c.geom, frame); err != nil {
		return false, err
	}
	return RMS(frame) > c.threshold, nil
}

// RMS returns the root-mean-square level of samples normalised to [0, 1].
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

var _ vad.Classifier = (*Classifier)(nil)
