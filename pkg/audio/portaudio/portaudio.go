// Package portaudio implements [audio.FrameSource] and [audio.Player] on top
// of the PortAudio C library via github.com/gordonklaus/portaudio.
//
// Capture uses the PortAudio callback API: the callback copies the device
// buffer into a [audio.Framer] and never blocks. Playback uses the blocking
// write API so that [Player.Play] returns only after the last buffer has been
// handed to the device.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/voxlate/pkg/audio"
)

const defaultDevice = "default"

// Option is a functional option for [Source] and [Player].
type Option func(*options)

type options struct {
	device string
}

// WithDevice selects an input or output device by case-insensitive name
// substring. An empty name selects the host default device.
func WithDevice(name string) Option {
	return func(o *options) { o.device = name }
}

// ─── Source ───────────────────────────────────────────────────────────────────

// Source captures mono 16-bit frames from a PortAudio input device.
type Source struct {
	opts options

	mu     sync.Mutex
	stream *portaudio.Stream
	closed bool
}

// NewSource returns an unopened capture source.
func NewSource(opts ...Option) *Source {
	s := &Source{}
	for _, o := range opts {
		o(&s.opts)
	}
	return s
}

// Open implements [audio.FrameSource].
func (s *Source) Open(_ context.Context, geom audio.Geometry, handoff func(audio.Frame)) error {
	if err := geom.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil {
		return errors.New("portaudio: source already open")
	}

	name := s.deviceName()
	if err := portaudio.Initialize(); err != nil {
		return &audio.DeviceError{Device: name, Op: "initialize", Err: err}
	}

	dev, err := findDevice(s.opts.device, true)
	if err != nil {
		_ = portaudio.Terminate()
		return &audio.DeviceError{Device: name, Op: "open", Err: err}
	}

	params := portaudio.HighLatencyParameters(dev, nil)
	params.Input.Channels = 1
	params.SampleRate = float64(geom.SampleRate)
	params.FramesPerBuffer = geom.SamplesPerFrame()

	framer := audio.NewFramer(geom, handoff)
	stream, err := portaudio.OpenStream(params, func(in []int16) {
		framer.Write(in)
	})
	if err != nil {
		_ = portaudio.Terminate()
		return &audio.DeviceError{Device: name, Op: "open", Err: err}
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return &audio.DeviceError{Device: name, Op: "start", Err: err}
	}

	s.stream = stream
	s.closed = false
	slog.Debug("portaudio: capture started", "device", dev.Name, "format", audio.Describe(geom, 1))
	return nil
}

// Close implements [audio.FrameSource]. Stop waits for the running callback
// to return, so no handoff happens after Close.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil || s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if err := s.stream.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: stop stream: %w", err))
	}
	if err := s.stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: close stream: %w", err))
	}
	if err := portaudio.Terminate(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: terminate: %w", err))
	}
	s.stream = nil
	return errors.Join(errs...)
}

func (s *Source) deviceName() string {
	if s.opts.device == "" {
		return defaultDevice
	}
	return s.opts.device
}

// ─── Player ───────────────────────────────────────────────────────────────────

// playBufferSamples is the size of one blocking write.
const playBufferSamples = 1024

// Player plays mono 16-bit PCM on a PortAudio output device. A new stream is
// opened per clip because clips arrive at provider-specific sample rates.
type Player struct {
	opts options
	mu   sync.Mutex
}

// NewPlayer initialises PortAudio and returns a Player. Close must be called
// to release the library.
func NewPlayer(opts ...Option) (*Player, error) {
	p := &Player{}
	for _, o := range opts {
		o(&p.opts)
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, &audio.DeviceError{Device: p.opts.device, Op: "initialize", Err: err}
	}
	return p, nil
}

// Play implements [audio.Player].
func (p *Player) Play(ctx context.Context, pcm []int16, sampleRate int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	dev, err := findDevice(p.opts.device, false)
	if err != nil {
		return &audio.DeviceError{Device: p.opts.device, Op: "open", Err: err}
	}
	params := portaudio.HighLatencyParameters(nil, dev)
	params.Output.Channels = 1
	params.SampleRate = float64(sampleRate)
	params.FramesPerBuffer = playBufferSamples

	buf := make([]int16, playBufferSamples)
	stream, err := portaudio.OpenStream(params, &buf)
	if err != nil {
		return &audio.DeviceError{Device: dev.Name, Op: "open", Err: err}
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return &audio.DeviceError{Device: dev.Name, Op: "start", Err: err}
	}
	defer stream.Stop()

	for off := 0; off < len(pcm); off += playBufferSamples {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := copy(buf, pcm[off:])
		clear(buf[n:])
		if err := stream.Write(); err != nil {
			return fmt.Errorf("portaudio: write: %w", err)
		}
	}
	return nil
}

// Close implements [audio.Player].
func (p *Player) Close() error {
	return portaudio.Terminate()
}

// findDevice returns the host default device when name is empty, otherwise
// the first device whose name contains name and that has the requested
// direction.
func findDevice(name string, input bool) (*portaudio.DeviceInfo, error) {
	if name == "" {
		if input {
			return portaudio.DefaultInputDevice()
		}
		return portaudio.DefaultOutputDevice()
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(name)
	for _, d := range devices {
		if input && d.MaxInputChannels < 1 || !input && d.MaxOutputChannels < 1 {
			continue
		}
		if strings.Contains(strings.ToLower(d.Name), needle) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("no device matching %q", name)
}

// Compile-time interface assertions.
var (
	_ audio.FrameSource = (*Source)(nil)
	_ audio.Player      = (*Player)(nil)
)
