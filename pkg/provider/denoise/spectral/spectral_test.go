package spectral_test

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/MrWong99/voxlate/pkg/provider/denoise/spectral"
)

func rms(samples []int16) float64 {
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// noisyTone returns n samples of low-level white noise with a loud 440 Hz
// tone in the second half.
func noisyTone(n int) []int16 {
	r := rand.New(rand.NewPCG(1, 2))
	out := make([]int16, n)
	for i := range out {
		v := (r.Float64()*2 - 1) * 300
		if i >= n/2 {
			v += 8000 * math.Sin(2*math.Pi*440*float64(i)/16000)
		}
		out[i] = int16(v)
	}
	return out
}

func TestDenoise_PreservesLength(t *testing.T) {
	t.Parallel()
	s, err := spectral.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, n := range []int{100, 512, 513, 16000, 16001} {
		in := noisyTone(n)
		out, err := s.Denoise(context.Background(), in, 16000)
		if err != nil {
			t.Fatalf("Denoise(%d): %v", n, err)
		}
		if len(out) != n {
			t.Errorf("Denoise(%d) returned %d samples", n, len(out))
		}
	}
}

func TestDenoise_AttenuatesNoiseKeepsTone(t *testing.T) {
	t.Parallel()
	s, err := spectral.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	in := noisyTone(32000)
	out, err := s.Denoise(context.Background(), in, 16000)
	if err != nil {
		t.Fatalf("Denoise: %v", err)
	}

	// Compare away from the transition and the buffer edges.
	noiseIn, noiseOut := rms(in[2000:14000]), rms(out[2000:14000])
	toneIn, toneOut := rms(in[18000:30000]), rms(out[18000:30000])

	if noiseOut >= noiseIn*0.7 {
		t.Errorf("noise rms %.1f -> %.1f, want at least 30%% reduction", noiseIn, noiseOut)
	}
	if toneOut < toneIn*0.8 {
		t.Errorf("tone rms %.1f -> %.1f, want tone preserved", toneIn, toneOut)
	}
}

func TestDenoise_CancelledContext(t *testing.T) {
	t.Parallel()
	s, _ := spectral.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Denoise(ctx, noisyTone(16000), 16000); err == nil {
		t.Error("Denoise with cancelled context returned nil error")
	}
}

func TestNew_InvalidOptions(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		opt  spectral.Option
	}{
		{name: "frame size not power of two", opt: spectral.WithFrameSize(500)},
		{name: "frame size too small", opt: spectral.WithFrameSize(8)},
		{name: "attenuation above one", opt: spectral.WithAttenuation(1.5)},
		{name: "noise portion zero", opt: spectral.WithNoisePortion(0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := spectral.New(tt.opt); err == nil {
				t.Error("New returned nil error")
			}
		})
	}
}
