// Package malgo implements [audio.FrameSource] and [audio.Player] using
// miniaudio through github.com/gen2brain/malgo. It needs no system audio
// library beyond what miniaudio ships with, which makes it the default
// capture backend on hosts without PortAudio.
package malgo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/voxlate/pkg/audio"
)

const defaultDevice = "default"

// Option is a functional option for [Source] and [Player].
type Option func(*options)

type options struct {
	device string
}

// WithDevice selects a device by case-insensitive name substring.
func WithDevice(name string) Option {
	return func(o *options) { o.device = name }
}

// ─── Source ───────────────────────────────────────────────────────────────────

// Source captures mono S16 frames from a miniaudio capture device.
type Source struct {
	opts options

	mu     sync.Mutex
	mctx   *malgo.AllocatedContext
	device *malgo.Device
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
	if s.device != nil {
		return errors.New("malgo: source already open")
	}

	name := deviceName(s.opts.device)
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return &audio.DeviceError{Device: name, Op: "initialize", Err: err}
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(geom.SampleRate)
	cfg.PeriodSizeInFrames = uint32(geom.SamplesPerFrame())
	cfg.Alsa.NoMMap = 1
	if s.opts.device != "" {
		id, err := findDevice(mctx.Context, malgo.Capture, s.opts.device)
		if err != nil {
			freeContext(mctx)
			return &audio.DeviceError{Device: name, Op: "open", Err: err}
		}
		cfg.Capture.DeviceID = id.Pointer()
	}

	framer := audio.NewFramer(geom, handoff)
	onRecv := func(_, in []byte, frameCount uint32) {
		if frameCount == 0 {
			return
		}
		framer.WriteBytes(in[:int(frameCount)*2])
	}

	device, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{Data: onRecv})
	if err != nil {
		freeContext(mctx)
		return &audio.DeviceError{Device: name, Op: "open", Err: err}
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		freeContext(mctx)
		return &audio.DeviceError{Device: name, Op: "start", Err: err}
	}

	s.mctx = mctx
	s.device = device
	slog.Debug("malgo: capture started", "device", name, "format", audio.Describe(geom, 1))
	return nil
}

// Close implements [audio.FrameSource]. It is idempotent.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.device == nil {
		return nil
	}
	var err error
	if stopErr := s.device.Stop(); stopErr != nil {
		err = fmt.Errorf("malgo: stop device: %w", stopErr)
	}
	s.device.Uninit()
	freeContext(s.mctx)
	s.device = nil
	s.mctx = nil
	return err
}

// ─── Player ───────────────────────────────────────────────────────────────────

// Player plays mono S16 clips on a miniaudio playback device.
type Player struct {
	opts options
	mu   sync.Mutex
	mctx *malgo.AllocatedContext
}

// NewPlayer initialises a miniaudio context for playback.
func NewPlayer(opts ...Option) (*Player, error) {
	p := &Player{}
	for _, o := range opts {
		o(&p.opts)
	}
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, &audio.DeviceError{Device: deviceName(p.opts.device), Op: "initialize", Err: err}
	}
	p.mctx = mctx
	return p, nil
}

// Play implements [audio.Player]. It returns once the device callback has
// consumed every sample.
func (p *Player) Play(ctx context.Context, pcm []int16, sampleRate int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	name := deviceName(p.opts.device)
	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = 1
	cfg.SampleRate = uint32(sampleRate)
	cfg.Alsa.NoMMap = 1
	if p.opts.device != "" {
		id, err := findDevice(p.mctx.Context, malgo.Playback, p.opts.device)
		if err != nil {
			return &audio.DeviceError{Device: name, Op: "open", Err: err}
		}
		cfg.Playback.DeviceID = id.Pointer()
	}

	data := audio.SamplesToBytes(pcm)
	done := make(chan struct{})
	var once sync.Once
	onSend := func(out, _ []byte, _ uint32) {
		n := copy(out, data)
		data = data[n:]
		clear(out[n:])
		if len(data) == 0 {
			once.Do(func() { close(done) })
		}
	}

	device, err := malgo.InitDevice(p.mctx.Context, cfg, malgo.DeviceCallbacks{Data: onSend})
	if err != nil {
		return &audio.DeviceError{Device: name, Op: "open", Err: err}
	}
	defer device.Uninit()
	if err := device.Start(); err != nil {
		return &audio.DeviceError{Device: name, Op: "start", Err: err}
	}
	defer device.Stop()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements [audio.Player].
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mctx != nil {
		freeContext(p.mctx)
		p.mctx = nil
	}
	return nil
}

// ---- helpers ----

func findDevice(mctx malgo.Context, kind malgo.DeviceType, name string) (malgo.DeviceID, error) {
	infos, err := mctx.Devices(kind)
	if err != nil {
		return malgo.DeviceID{}, err
	}
	needle := strings.ToLower(name)
	for _, info := range infos {
		if strings.Contains(strings.ToLower(info.Name()), needle) {
			return info.ID, nil
		}
	}
	return malgo.DeviceID{}, fmt.Errorf("no device matching %q", name)
}

func freeContext(mctx *malgo.AllocatedContext) {
	_ = mctx.Uninit()
	mctx.Free()
}

func deviceName(name string) string {
	if name == "" {
		return defaultDevice
	}
	return name
}

// Compile-time interface assertions.
var (
	_ audio.FrameSource = (*Source)(nil)
	_ audio.Player      = (*Player)(nil)
)
