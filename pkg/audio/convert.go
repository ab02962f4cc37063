package audio

import (
	"encoding/binary"
	"fmt"
	"time"
)

// BytesToSamples decodes little-endian int16 PCM. A trailing odd byte is
// ignored.
func BytesToSamples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// SamplesToBytes encodes samples as little-endian int16 PCM.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// StereoToMono averages interleaved L+R pairs. Uses int32 arithmetic to
// prevent overflow. A trailing unpaired sample is dropped.
func StereoToMono(samples []int16) []int16 {
	frames := len(samples) / 2
	out := make([]int16, frames)
	for i := range frames {
		avg := (int32(samples[i*2]) + int32(samples[i*2+1])) / 2
		out[i] = clamp16(avg)
	}
	return out
}

// ResampleMono resamples mono samples from srcRate to dstRate using linear
// interpolation. If the rates match or either is not positive the input is
// returned unchanged.
func ResampleMono(samples []int16, srcRate, dstRate int) []int16 {
	if srcRate <= 0 || dstRate <= 0 {
		return samples
	}
	if srcRate == dstRate || len(samples) < 2 {
		return samples
	}
	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]int16, dstLen)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstLen {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := samples[srcIdx]
		s1 := s0
		if srcIdx+1 < len(samples) {
			s1 = samples[srcIdx+1]
		}
		out[i] = int16(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return out
}

// Concat joins frames into one contiguous buffer, preserving order.
func Concat(frames []Frame) []int16 {
	n := 0
	for _, f := range frames {
		n += len(f.Samples)
	}
	out := make([]int16, 0, n)
	for _, f := range frames {
		out = append(out, f.Samples...)
	}
	return out
}

func clamp16(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// formatString returns a human-readable string for a sample rate and channel
// count, e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}

// ---- Framer ----

// Framer cuts an arbitrary stream of sample chunks into whole frames of one
// geometry. Device callbacks rarely deliver exactly one frame per call, so
// every capture backend routes its buffers through a Framer.
//
// A Framer is not safe for concurrent use; it is owned by the callback
// goroutine of a single stream.
type Framer struct {
	size    int
	pending []int16
	seq     uint64
	emit    func(Frame)
	now     func() time.Time
}

// NewFramer returns a Framer emitting frames of geom to emit.
func NewFramer(geom Geometry, emit func(Frame)) *Framer {
	size := geom.SamplesPerFrame()
	return &Framer{
		size:    size,
		pending: make([]int16, 0, size*2),
		emit:    emit,
		now:     time.Now,
	}
}

// Write appends samples and emits every frame that is now complete. The
// input slice is copied, so callers may reuse it after Write returns.
func (f *Framer) Write(samples []int16) {
	f.pending = append(f.pending, samples...)
	for len(f.pending) >= f.size {
		frame := make([]int16, f.size)
		copy(frame, f.pending[:f.size])
		f.emit(Frame{Samples: frame, Seq: f.seq, Captured: f.now()})
		f.seq++
		f.pending = f.pending[f.size:]
	}
}

// WriteBytes decodes little-endian int16 PCM and forwards it to Write.
func (f *Framer) WriteBytes(pcm []byte) {
	f.Write(BytesToSamples(pcm))
}

// Pending returns the number of buffered samples not yet emitted.
func (f *Framer) Pending() int { return len(f.pending) }

// Describe returns a log-friendly description of a capture format.
func Describe(geom Geometry, channels int) string {
	return fmt.Sprintf("%s, %s", formatString(geom.SampleRate, channels), geom.FrameDuration)
}
