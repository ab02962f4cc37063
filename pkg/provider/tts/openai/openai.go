// Package openai provides a tts.Provider backed by the OpenAI speech API.
// Audio is requested as MP3 and decoded locally with go-mp3.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hajimehoshi/go-mp3"
	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/voxlate/pkg/audio"
	"github.com/MrWong99/voxlate/pkg/provider/tts"
)

const (
	defaultModel = "tts-1"
	defaultVoice = "alloy"

	minSpeed = 0.25
	maxSpeed = 4.0
)

var _ tts.Provider = (*Provider)(nil)

// Provider implements tts.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
	voice  string
	speed  float64
}

type config struct {
	baseURL string
	model   string
	voice   string
	speed   float64
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithModel sets the speech model (tts-1, tts-1-hd, gpt-4o-mini-tts).
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithVoice sets the voice name. Defaults to alloy.
func WithVoice(voice string) Option {
	return func(c *config) { c.voice = voice }
}

// WithSpeed sets the speaking rate multiplier (0.25 to 4.0, 1.0 = normal).
func WithSpeed(speed float64) Option {
	return func(c *config) { c.speed = speed }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs a new OpenAI speech provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	cfg := &config{model: defaultModel, voice: defaultVoice, speed: 1.0}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.speed < minSpeed || cfg.speed > maxSpeed {
		return nil, fmt.Errorf("openai: speed %.2f out of range [%.2f, %.2f]", cfg.speed, minSpeed, maxSpeed)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	return &Provider{
		client: oai.NewClient(reqOpts...),
		model:  cfg.model,
		voice:  cfg.voice,
		speed:  cfg.speed,
	}, nil
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string) (tts.Clip, error) {
	if strings.TrimSpace(text) == "" {
		return tts.Clip{}, tts.ErrEmptyText
	}
	resp, err := p.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Input:          text,
		Model:          oai.SpeechModel(p.model),
		Voice:          oai.AudioSpeechNewParamsVoice(p.voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatMP3,
		Speed:          oai.Float(p.speed),
	})
	if err != nil {
		return tts.Clip{}, fmt.Errorf("openai: speech: %w", err)
	}
	defer resp.Body.Close()

	clip, err := decodeMP3(resp.Body)
	if err != nil {
		return tts.Clip{}, fmt.Errorf("openai: %w", err)
	}
	return clip, nil
}

// decodeMP3 decodes an MP3 stream into mono PCM. go-mp3 always yields
// interleaved 16-bit stereo.
func decodeMP3(r io.Reader) (tts.Clip, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return tts.Clip{}, fmt.Errorf("decode mp3: %w", err)
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return tts.Clip{}, fmt.Errorf("decode mp3: %w", err)
	}
	stereo := audio.BytesToSamples(raw)
	return tts.Clip{PCM: audio.StereoToMono(stereo), SampleRate: dec.SampleRate()}, nil
}
