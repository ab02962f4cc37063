// Package config provides the configuration schema, loader, watcher and
// provider registry for the voxlate service.
package config

import (
	"fmt"
	"time"

	"github.com/MrWong99/voxlate/pkg/audio"
	"github.com/MrWong99/voxlate/pkg/provider/translate"
	"github.com/MrWong99/voxlate/pkg/provider/vad"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Defaults applied by [ApplyDefaults] for zero values.
const (
	DefaultListenAddr            = ":8080"
	DefaultSampleRate            = 16000
	DefaultFrameDurationMS       = 30
	DefaultSilenceTimeoutSeconds = 1.0
	DefaultQueueCapacity         = 256
	DefaultQueuePolicy           = "drop_oldest"
	DefaultUtteranceCapacity     = 4
	DefaultHistoryCapacity       = 1000
)

// DefaultLanguages is the language table used when none is configured. The
// first entry is the default target.
var DefaultLanguages = []LanguageConfig{
	{Name: "Hindi", Model: "Helsinki-NLP/opus-mt-en-hi", Code: "hi"},
	{Name: "German", Model: "Helsinki-NLP/opus-mt-en-de", Code: "de"},
	{Name: "French", Model: "Helsinki-NLP/opus-mt-en-fr", Code: "fr"},
	{Name: "Spanish", Model: "Helsinki-NLP/opus-mt-en-es", Code: "es"},
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Audio     AudioConfig      `yaml:"audio"`
	VAD       VADConfig        `yaml:"vad"`
	Queue     QueueConfig      `yaml:"queue"`
	Languages []LanguageConfig `yaml:"languages"`

	// TargetLanguage is the display name of the language translated into
	// when a session starts. Defaults to the first entry of Languages.
	TargetLanguage string `yaml:"target_language"`

	Providers ProvidersConfig `yaml:"providers"`
	History   HistoryConfig   `yaml:"history"`
	Recording RecordingConfig `yaml:"recording"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// AudioConfig describes the capture geometry and devices.
type AudioConfig struct {
	SampleRate      int `yaml:"sample_rate"`
	FrameDurationMS int `yaml:"frame_duration_ms"`

	// InputDevice selects the capture device by name. Empty means the
	// system default.
	InputDevice string `yaml:"input_device"`

	// OutputDevice selects the playback device by name.
	OutputDevice string `yaml:"output_device"`

	// Waveform mirrors every captured frame to the UI.
	Waveform bool `yaml:"waveform"`
}

// Geometry returns the frame geometry described by the section.
func (a AudioConfig) Geometry() audio.Geometry {
	return audio.Geometry{
		SampleRate:    a.SampleRate,
		FrameDuration: time.Duration(a.FrameDurationMS) * time.Millisecond,
	}
}

// VADConfig configures the frame classifier and the segment detector.
type VADConfig struct {
	// Aggressiveness is 0-3. Nil means [vad.DefaultAggressiveness].
	Aggressiveness *int `yaml:"aggressiveness"`

	// SilenceTimeoutSeconds is the detector window length.
	SilenceTimeoutSeconds float64 `yaml:"silence_timeout_seconds"`
}

// Level returns the effective aggressiveness.
func (v VADConfig) Level() int {
	if v.Aggressiveness == nil {
		return vad.DefaultAggressiveness
	}
	return *v.Aggressiveness
}

// SilenceTimeout returns the window length as a duration.
func (v VADConfig) SilenceTimeout() time.Duration {
	return time.Duration(v.SilenceTimeoutSeconds * float64(time.Second))
}

// QueueConfig bounds the frame queue and the utterance channel.
type QueueConfig struct {
	Capacity int `yaml:"capacity"`

	// Policy is drop_oldest or block.
	Policy string `yaml:"policy"`

	UtteranceCapacity int `yaml:"utterance_capacity"`
}

// LanguageConfig is one entry of the language table.
type LanguageConfig struct {
	// Name is the display name shown in the UI.
	Name string `yaml:"name"`

	// Model is the translation model id (e.g., "Helsinki-NLP/opus-mt-en-de").
	Model string `yaml:"model"`

	// Code is the ISO-639-1 code, used by TTS voices.
	Code string `yaml:"code"`
}

// Target converts the entry into a translation target.
func (l LanguageConfig) Target() translate.Target {
	return translate.Target{Name: l.Name, Model: l.Model, Code: l.Code}
}

// Target resolves a display name from the language table. An empty name
// resolves the configured target language.
func (c *Config) Target(name string) (translate.Target, error) {
	if name == "" {
		name = c.TargetLanguage
	}
	for _, l := range c.Languages {
		if l.Name == name {
			return l.Target(), nil
		}
	}
	return translate.Target{}, fmt.Errorf("%w: %q", ErrUnknownLanguage, name)
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each field selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	Audio     ProviderEntry `yaml:"audio"`
	Playback  ProviderEntry `yaml:"playback"`
	VAD       ProviderEntry `yaml:"vad"`
	Denoise   ProviderEntry `yaml:"denoise"`
	STT       ProviderEntry `yaml:"stt"`
	Translate ProviderEntry `yaml:"translate"`
	TTS       ProviderEntry `yaml:"tts"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "whisper", "openai").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	// ${VAR} references are expanded from the environment.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "whisper-1").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above.
	Options map[string]any `yaml:"options"`

	// Fallbacks are tried in order when this provider fails. Only honoured
	// for stt, translate and tts.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// StringOption returns Options[key] as a string, or def.
func (e ProviderEntry) StringOption(key, def string) string {
	if v, ok := e.Options[key].(string); ok && v != "" {
		return v
	}
	return def
}

// FloatOption returns Options[key] as a float64, or def. YAML integers are
// accepted.
func (e ProviderEntry) FloatOption(key string, def float64) float64 {
	switch v := e.Options[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

// BoolOption returns Options[key] as a bool, or def.
func (e ProviderEntry) BoolOption(key string, def bool) bool {
	if v, ok := e.Options[key].(bool); ok {
		return v
	}
	return def
}

// HistoryConfig selects the utterance history store.
type HistoryConfig struct {
	// DSN is a PostgreSQL connection string. Empty selects the in-memory store.
	DSN string `yaml:"dsn"`

	// Capacity bounds the in-memory store.
	Capacity int `yaml:"capacity"`
}

// RecordingConfig controls WAV dumps of denoised utterances.
type RecordingConfig struct {
	// Dir is the output directory. Empty disables recording.
	Dir string `yaml:"dir"`
}

// DispatchConfig tunes the utterance dispatcher.
type DispatchConfig struct {
	// MinUtteranceMS drops utterances shorter than this before denoising.
	MinUtteranceMS int `yaml:"min_utterance_ms"`
}

// MinUtterance returns the threshold as a duration.
func (d DispatchConfig) MinUtterance() time.Duration {
	return time.Duration(d.MinUtteranceMS) * time.Millisecond
}

// ApplyDefaults fills zero values with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = DefaultSampleRate
	}
	if cfg.Audio.FrameDurationMS == 0 {
		cfg.Audio.FrameDurationMS = DefaultFrameDurationMS
	}
	if cfg.VAD.SilenceTimeoutSeconds == 0 {
		cfg.VAD.SilenceTimeoutSeconds = DefaultSilenceTimeoutSeconds
	}
	if cfg.Queue.Capacity == 0 {
		cfg.Queue.Capacity = DefaultQueueCapacity
	}
	if cfg.Queue.Policy == "" {
		cfg.Queue.Policy = DefaultQueuePolicy
	}
	if cfg.Queue.UtteranceCapacity == 0 {
		cfg.Queue.UtteranceCapacity = DefaultUtteranceCapacity
	}
	if len(cfg.Languages) == 0 {
		cfg.Languages = append([]LanguageConfig(nil), DefaultLanguages...)
	}
	if cfg.TargetLanguage == "" && len(cfg.Languages) > 0 {
		cfg.TargetLanguage = cfg.Languages[0].Name
	}
	if cfg.Providers.Audio.Name == "" {
		cfg.Providers.Audio.Name = "portaudio"
	}
	if cfg.Providers.Playback.Name == "" {
		cfg.Providers.Playback.Name = "portaudio"
		if cfg.Providers.Audio.Name == "malgo" {
			cfg.Providers.Playback.Name = "malgo"
		}
	}
	if cfg.Providers.VAD.Name == "" {
		cfg.Providers.VAD.Name = "webrtc"
	}
	if cfg.History.Capacity == 0 {
		cfg.History.Capacity = DefaultHistoryCapacity
	}
}
