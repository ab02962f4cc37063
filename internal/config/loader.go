package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voxlate/internal/session"
	"github.com/MrWong99/voxlate/pkg/provider/vad"
)

// ErrUnknownLanguage is returned when a display name is not in the language table.
var ErrUnknownLanguage = errors.New("config: unknown language")

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"audio":     {"portaudio", "malgo", "wavfile"},
	"playback":  {"portaudio", "malgo"},
	"vad":       {"webrtc", "energy"},
	"denoise":   {"spectral", "none"},
	"stt":       {"whisper", "whisper-native", "openai", "deepgram"},
	"translate": {"huggingface", "openai", "anyllm"},
	"tts":       {"coqui", "openai", "elevenlabs"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands environment references
// in API keys, applies defaults and validates the result. An empty document
// yields the default configuration minus the required providers.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	expandEnv(&cfg.Providers)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func expandEnv(p *ProvidersConfig) {
	for _, e := range p.entries() {
		expandEntry(e.entry)
	}
}

func expandEntry(e *ProviderEntry) {
	e.APIKey = os.ExpandEnv(e.APIKey)
	e.BaseURL = os.ExpandEnv(e.BaseURL)
	for i := range e.Fallbacks {
		expandEntry(&e.Fallbacks[i])
	}
}

type kindEntry struct {
	kind  string
	entry *ProviderEntry
}

func (p *ProvidersConfig) entries() []kindEntry {
	return []kindEntry{
		{"audio", &p.Audio},
		{"playback", &p.Playback},
		{"vad", &p.VAD},
		{"denoise", &p.Denoise},
		{"stt", &p.STT},
		{"translate", &p.Translate},
		{"tts", &p.TTS},
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Audio
	if err := cfg.Audio.Geometry().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("audio: %w", err))
	}

	// VAD
	if lvl := cfg.VAD.Level(); lvl < 0 || lvl > vad.MaxAggressiveness {
		errs = append(errs, fmt.Errorf("vad.aggressiveness %d is out of range [0, %d]", lvl, vad.MaxAggressiveness))
	}
	if cfg.VAD.SilenceTimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("vad.silence_timeout_seconds must be positive, got %g", cfg.VAD.SilenceTimeoutSeconds))
	} else if cfg.VAD.SilenceTimeout() < cfg.Audio.Geometry().FrameDuration {
		slog.Warn("vad.silence_timeout_seconds is shorter than one frame; the detector window holds a single frame",
			"silence_timeout", cfg.VAD.SilenceTimeout(),
			"frame_duration", cfg.Audio.Geometry().FrameDuration,
		)
	}

	// Queue
	if cfg.Queue.Capacity < 0 {
		errs = append(errs, fmt.Errorf("queue.capacity must not be negative, got %d", cfg.Queue.Capacity))
	}
	if cfg.Queue.UtteranceCapacity < 0 {
		errs = append(errs, fmt.Errorf("queue.utterance_capacity must not be negative, got %d", cfg.Queue.UtteranceCapacity))
	}
	if _, err := session.ParsePolicy(cfg.Queue.Policy); err != nil {
		errs = append(errs, fmt.Errorf("queue.policy: %w", err))
	}

	// Languages
	seen := make(map[string]int, len(cfg.Languages))
	for i, l := range cfg.Languages {
		prefix := fmt.Sprintf("languages[%d]", i)
		if l.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := seen[l.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of languages[%d]", prefix, l.Name, prev))
			}
			seen[l.Name] = i
		}
		if l.Model == "" {
			errs = append(errs, fmt.Errorf("%s.model is required", prefix))
		}
	}
	if _, ok := seen[cfg.TargetLanguage]; !ok && cfg.TargetLanguage != "" {
		errs = append(errs, fmt.Errorf("target_language %q is not in languages", cfg.TargetLanguage))
	}

	// Providers
	for _, ke := range cfg.Providers.entries() {
		validateProviderName(ke.kind, ke.entry.Name)
		for i, fb := range ke.entry.Fallbacks {
			if fb.Name == "" {
				errs = append(errs, fmt.Errorf("providers.%s.fallbacks[%d].name is required", ke.kind, i))
			}
			validateProviderName(ke.kind, fb.Name)
		}
	}
	for _, ke := range cfg.Providers.entries() {
		switch ke.kind {
		case "stt", "translate", "tts":
			if ke.entry.Name == "" {
				errs = append(errs, fmt.Errorf("providers.%s.name is required", ke.kind))
			}
		case "audio", "playback", "vad", "denoise":
			if len(ke.entry.Fallbacks) > 0 {
				errs = append(errs, fmt.Errorf("providers.%s does not support fallbacks", ke.kind))
			}
		}
	}
	if rate := cfg.Providers.TTS.FloatOption("rate", 1); rate < 0.25 || rate > 4 {
		errs = append(errs, fmt.Errorf("providers.tts.options.rate %.2f is out of range [0.25, 4]", rate))
	}

	// History
	if cfg.History.Capacity < 0 {
		errs = append(errs, fmt.Errorf("history.capacity must not be negative, got %d", cfg.History.Capacity))
	}
	if cfg.History.DSN == "" {
		slog.Debug("history.dsn is empty; utterance history is kept in memory only")
	}

	// Dispatch
	if cfg.Dispatch.MinUtteranceMS < 0 {
		errs = append(errs, fmt.Errorf("dispatch.min_utterance_ms must not be negative, got %d", cfg.Dispatch.MinUtteranceMS))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
