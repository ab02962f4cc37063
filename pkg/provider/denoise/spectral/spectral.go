// Package spectral implements a spectral-gating [denoise.Suppressor].
//
// The utterance is analysed with a Hann-windowed short-time Fourier transform
// (github.com/mjibson/go-dsp). A per-bin noise profile is estimated from the
// quietest analysis frames of the utterance itself; bins that do not rise a
// configurable factor above that profile are attenuated. The signal is then
// resynthesised by weighted overlap-add, so the output length always equals
// the input length.
package spectral

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"math/cmplx"
	"slices"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"

	"github.com/MrWong99/voxlate/pkg/provider/denoise"
)

const (
	defaultFrameSize    = 512
	defaultThreshold    = 2.0
	defaultAttenuation  = 0.1
	defaultNoisePortion = 0.2
	minWindowNormaliser = 1e-8
	int16Scale          = 32768.0
)

// Option is a functional option for [Suppressor].
type Option func(*Suppressor)

// WithFrameSize sets the FFT size in samples. It must be a power of two.
func WithFrameSize(n int) Option {
	return func(s *Suppressor) { s.frameSize = n }
}

// WithThreshold sets how far above the noise profile (as a magnitude factor)
// a bin must be to pass the gate unattenuated.
func WithThreshold(f float64) Option {
	return func(s *Suppressor) { s.threshold = f }
}

// WithAttenuation sets the gain applied to gated bins, in [0, 1].
func WithAttenuation(g float64) Option {
	return func(s *Suppressor) { s.attenuation = g }
}

// WithNoisePortion sets the fraction of quietest frames used to build the
// noise profile.
func WithNoisePortion(p float64) Option {
	return func(s *Suppressor) { s.noisePortion = p }
}

// Suppressor is a spectral noise gate. It holds no per-call state and is safe
// for concurrent use.
type Suppressor struct {
	frameSize    int
	threshold    float64
	attenuation  float64
	noisePortion float64
	win          []float64
}

// New returns a spectral gate.
func New(opts ...Option) (*Suppressor, error) {
	s := &Suppressor{
		frameSize:    defaultFrameSize,
		threshold:    defaultThreshold,
		attenuation:  defaultAttenuation,
		noisePortion: defaultNoisePortion,
	}
	for _, o := range opts {
		o(s)
	}
	if s.frameSize < 16 || s.frameSize&(s.frameSize-1) != 0 {
		return nil, fmt.Errorf("spectral: frame size must be a power of two >= 16, got %d", s.frameSize)
	}
	if s.attenuation < 0 || s.attenuation > 1 {
		return nil, fmt.Errorf("spectral: attenuation must be in [0, 1], got %g", s.attenuation)
	}
	if s.noisePortion <= 0 || s.noisePortion > 1 {
		return nil, fmt.Errorf("spectral: noise portion must be in (0, 1], got %g", s.noisePortion)
	}
	s.win = window.Hann(s.frameSize)
	return s, nil
}

// Denoise implements [denoise.Suppressor]. Buffers shorter than one analysis
// frame are returned unchanged.
func (s *Suppressor) Denoise(ctx context.Context, pcm []int16, _ int) ([]int16, error) {
	n := s.frameSize
	hop := n / 2
	if len(pcm) < n {
		return pcm, nil
	}

	x := make([]float64, len(pcm))
	for i, v := range pcm {
		x[i] = float64(v) / int16Scale
	}

	starts := make([]int, 0, len(x)/hop+1)
	for off := 0; off+n <= len(x); off += hop {
		starts = append(starts, off)
	}
	// Make sure the tail is covered by a final frame aligned to the end.
	if last := len(x) - n; starts[len(starts)-1] != last {
		starts = append(starts, last)
	}

	spectra := make([][]complex128, len(starts))
	energy := make([]float64, len(starts))
	seg := make([]float64, n)
	for i, off := range starts {
		if i%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for j := range n {
			seg[j] = x[off+j] * s.win[j]
		}
		spec := fft.FFTReal(seg)
		spectra[i] = spec
		for _, c := range spec {
			energy[i] += real(c)*real(c) + imag(c)*imag(c)
		}
	}

	noise := s.noiseProfile(spectra, energy)

	y := make([]float64, len(x))
	norm := make([]float64, len(x))
	for i, off := range starts {
		spec := spectra[i]
		for k, c := range spec {
			if cmplx.Abs(c) <= noise[k]*s.threshold {
				spec[k] = c * complex(s.attenuation, 0)
			}
		}
		frame := fft.IFFT(spec)
		for j := range n {
			y[off+j] += real(frame[j]) * s.win[j]
			norm[off+j] += s.win[j] * s.win[j]
		}
	}

	out := make([]int16, len(pcm))
	for i := range out {
		v := y[i]
		if norm[i] > minWindowNormaliser {
			v /= norm[i]
		} else {
			v = x[i]
		}
		out[i] = toInt16(v)
	}
	return out, nil
}

// noiseProfile averages bin magnitudes over the quietest frames.
func (s *Suppressor) noiseProfile(spectra [][]complex128, energy []float64) []float64 {
	idx := make([]int, len(spectra))
	for i := range idx {
		idx[i] = i
	}
	slices.SortFunc(idx, func(a, b int) int { return cmp.Compare(energy[a], energy[b]) })

	count := int(math.Ceil(float64(len(idx)) * s.noisePortion))
	count = max(count, 1)

	profile := make([]float64, s.frameSize)
	for _, i := range idx[:count] {
		for k, c := range spectra[i] {
			profile[k] += cmplx.Abs(c)
		}
	}
	for k := range profile {
		profile[k] /= float64(count)
	}
	return profile
}

func toInt16(v float64) int16 {
	v *= int16Scale
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(math.Round(v))
}

var _ denoise.Suppressor = (*Suppressor)(nil)
