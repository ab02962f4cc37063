// Package wavfile replays a WAV file as an [audio.FrameSource] and provides
// WAV decoding shared by providers that receive WAV payloads.
package wavfile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/afero"
	"github.com/spf13/afero/mem"

	"github.com/MrWong99/voxlate/pkg/audio"
)

// Clip is decoded mono PCM.
type Clip struct {
	Samples    []int16
	SampleRate int
}

// Decode reads a complete PCM WAV stream and returns it as mono 16-bit
// samples at the file's native sample rate.
func Decode(r io.ReadSeeker) (Clip, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return Clip{}, errors.New("wavfile: not a valid WAV stream")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Clip{}, fmt.Errorf("wavfile: decode PCM: %w", err)
	}
	return Clip{Samples: toMono16(buf), SampleRate: buf.Format.SampleRate}, nil
}

// toMono16 normalises an IntBuffer of any supported bit depth and channel
// count to 16-bit mono.
func toMono16(buf *goaudio.IntBuffer) []int16 {
	shift := buf.SourceBitDepth - 16
	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		switch {
		case buf.SourceBitDepth == 8:
			samples[i] = int16((v - 128) << 8)
		case shift > 0:
			samples[i] = int16(v >> shift)
		default:
			samples[i] = int16(v)
		}
	}
	channels := 1
	if buf.Format != nil && buf.Format.NumChannels > 0 {
		channels = buf.Format.NumChannels
	}
	switch channels {
	case 1:
		return samples
	case 2:
		return audio.StereoToMono(samples)
	default:
		out := make([]int16, len(samples)/channels)
		for i := range out {
			out[i] = samples[i*channels]
		}
		return out
	}
}

// ─── Source ───────────────────────────────────────────────────────────────────

// Option is a functional option for [Source].
type Option func(*Source)

// WithFs sets the filesystem the WAV file is read from. Defaults to the OS
// filesystem.
func WithFs(fs afero.Fs) Option {
	return func(s *Source) { s.fs = fs }
}

// WithRealtime paces frame delivery at the frame duration, emulating a live
// microphone. When disabled frames are delivered as fast as the consumer
// accepts them. Defaults to true.
func WithRealtime(realtime bool) Option {
	return func(s *Source) { s.realtime = realtime }
}

// WithTrailingSilence appends d of digital silence after the file so that
// the final utterance is closed by the detector.
func WithTrailingSilence(d time.Duration) Option {
	return func(s *Source) { s.trailing = d }
}

// Source is an [audio.FrameSource] that replays a WAV file once. The file is
// converted to the session geometry (mono, resampled) before playback.
type Source struct {
	path     string
	fs       afero.Fs
	realtime bool
	trailing time.Duration

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewSource returns a Source for the WAV file at path.
func NewSource(path string, opts ...Option) *Source {
	s := &Source{
		path:     path,
		fs:       afero.NewOsFs(),
		realtime: true,
		trailing: time.Second,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open implements [audio.FrameSource]. A missing or undecodable file is
// reported as a [*audio.DeviceError].
func (s *Source) Open(ctx context.Context, geom audio.Geometry, handoff func(audio.Frame)) error {
	if err := geom.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return errors.New("wavfile: source already open")
	}

	f, err := s.fs.Open(s.path)
	if err != nil {
		return &audio.DeviceError{Device: s.path, Op: "open", Err: err}
	}
	clip, err := Decode(f)
	_ = f.Close()
	if err != nil {
		return &audio.DeviceError{Device: s.path, Op: "read", Err: err}
	}

	samples := audio.ResampleMono(clip.Samples, clip.SampleRate, geom.SampleRate)
	if s.trailing > 0 {
		samples = append(samples, make([]int16, int(int64(geom.SampleRate)*int64(s.trailing)/int64(time.Second)))...)
	}

	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.replay(ctx, geom, samples, handoff, s.stop, s.done)

	slog.Debug("wavfile: replay started", "path", s.path, "samples", len(samples), "realtime", s.realtime)
	return nil
}

func (s *Source) replay(ctx context.Context, geom audio.Geometry, samples []int16, handoff func(audio.Frame), stop, done chan struct{}) {
	defer close(done)
	framer := audio.NewFramer(geom, handoff)
	size := geom.SamplesPerFrame()

	var tick <-chan time.Time
	if s.realtime {
		ticker := time.NewTicker(geom.FrameDuration)
		defer ticker.Stop()
		tick = ticker.C
	}

	for off := 0; off+size <= len(samples); off += size {
		if tick != nil {
			select {
			case <-tick:
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}
		framer.Write(samples[off : off+size])
	}
}

// Done returns a channel that is closed when the whole file has been handed
// off or the source was closed. It is nil before Open.
func (s *Source) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Close implements [audio.FrameSource]. It is idempotent and waits for the
// replay goroutine to exit.
func (s *Source) Close() error {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop = nil
	s.mu.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)
	<-done
	return nil
}

var _ audio.FrameSource = (*Source)(nil)

// Encode writes samples as a 16-bit mono PCM WAV stream to w.
func Encode(w io.WriteSeeker, samples []int16, sampleRate int) error {
	enc := wav.NewEncoder(w, sampleRate, 16, 1, 1)
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("wavfile: encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("wavfile: finalize: %w", err)
	}
	return nil
}

// EncodeBytes returns samples as a complete 16-bit mono PCM WAV file.
func EncodeBytes(samples []int16, sampleRate int) ([]byte, error) {
	f := mem.NewFileHandle(mem.CreateFile("clip.wav"))
	if err := Encode(f, samples, sampleRate); err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("wavfile: rewind: %w", err)
	}
	return io.ReadAll(f)
}
