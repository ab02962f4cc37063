package main

import (
	"errors"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/voxlate/internal/config"
	"github.com/MrWong99/voxlate/pkg/audio"
	"github.com/MrWong99/voxlate/pkg/audio/malgo"
	"github.com/MrWong99/voxlate/pkg/audio/portaudio"
	"github.com/MrWong99/voxlate/pkg/audio/wavfile"
	"github.com/MrWong99/voxlate/pkg/provider/denoise"
	"github.com/MrWong99/voxlate/pkg/provider/denoise/spectral"
	"github.com/MrWong99/voxlate/pkg/provider/stt"
	"github.com/MrWong99/voxlate/pkg/provider/stt/deepgram"
	oaistt "github.com/MrWong99/voxlate/pkg/provider/stt/openai"
	"github.com/MrWong99/voxlate/pkg/provider/stt/whisper"
	"github.com/MrWong99/voxlate/pkg/provider/translate"
	llmtranslate "github.com/MrWong99/voxlate/pkg/provider/translate/anyllm"
	"github.com/MrWong99/voxlate/pkg/provider/translate/huggingface"
	oaitranslate "github.com/MrWong99/voxlate/pkg/provider/translate/openai"
	"github.com/MrWong99/voxlate/pkg/provider/tts"
	"github.com/MrWong99/voxlate/pkg/provider/tts/coqui"
	"github.com/MrWong99/voxlate/pkg/provider/tts/elevenlabs"
	oaitts "github.com/MrWong99/voxlate/pkg/provider/tts/openai"
	"github.com/MrWong99/voxlate/pkg/provider/vad"
	"github.com/MrWong99/voxlate/pkg/provider/vad/energy"
	"github.com/MrWong99/voxlate/pkg/provider/vad/webrtc"
)

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the provider
// from the implementation packages. Audio devices default to the ones named
// in the audio section of cfg.
func registerBuiltinProviders(reg *config.Registry, cfg *config.Config) {
	// ── Audio ─────────────────────────────────────────────────────────────────

	reg.RegisterSource("portaudio", func(entry config.ProviderEntry) (audio.FrameSource, error) {
		return portaudio.NewSource(portaudio.WithDevice(entry.StringOption("device", cfg.Audio.InputDevice))), nil
	})
	reg.RegisterSource("malgo", func(entry config.ProviderEntry) (audio.FrameSource, error) {
		return malgo.NewSource(malgo.WithDevice(entry.StringOption("device", cfg.Audio.InputDevice))), nil
	})
	reg.RegisterSource("wavfile", func(entry config.ProviderEntry) (audio.FrameSource, error) {
		path := entry.StringOption("path", "")
		if path == "" {
			return nil, errors.New("wavfile: options.path is required")
		}
		return wavfile.NewSource(path,
			wavfile.WithRealtime(entry.BoolOption("realtime", true)),
			wavfile.WithTrailingSilence(time.Duration(entry.FloatOption("trailing_silence_seconds", 2)*float64(time.Second))),
		), nil
	})

	reg.RegisterPlayer("portaudio", func(entry config.ProviderEntry) (audio.Player, error) {
		return portaudio.NewPlayer(portaudio.WithDevice(entry.StringOption("device", cfg.Audio.OutputDevice)))
	})
	reg.RegisterPlayer("malgo", func(entry config.ProviderEntry) (audio.Player, error) {
		return malgo.NewPlayer(malgo.WithDevice(entry.StringOption("device", cfg.Audio.OutputDevice)))
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("webrtc", func(_ config.ProviderEntry, vc vad.Config) (vad.Classifier, error) {
		return webrtc.New(vc)
	})
	reg.RegisterVAD("energy", func(entry config.ProviderEntry, vc vad.Config) (vad.Classifier, error) {
		var opts []energy.Option
		if th := entry.FloatOption("threshold", 0); th > 0 {
			opts = append(opts, energy.WithThreshold(th))
		}
		return energy.New(vc, opts...)
	})

	// ── Denoise ───────────────────────────────────────────────────────────────

	reg.RegisterDenoise("spectral", func(entry config.ProviderEntry) (denoise.Suppressor, error) {
		var opts []spectral.Option
		if th := entry.FloatOption("threshold", 0); th > 0 {
			opts = append(opts, spectral.WithThreshold(th))
		}
		if _, ok := entry.Options["attenuation"]; ok {
			opts = append(opts, spectral.WithAttenuation(entry.FloatOption("attenuation", 0)))
		}
		if p := entry.FloatOption("noise_portion", 0); p > 0 {
			opts = append(opts, spectral.WithNoisePortion(p))
		}
		return spectral.New(opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := entry.StringOption("language", "en"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = entry.StringOption("model_path", "")
		}
		return whisper.NewNative(modelPath, whisper.WithNativeLanguage(entry.StringOption("language", "en")))
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		opts := []oaistt.Option{oaistt.WithLanguage(entry.StringOption("language", "en"))}
		if entry.Model != "" {
			opts = append(opts, oaistt.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		return oaistt.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		opts := []deepgram.Option{deepgram.WithLanguage(entry.StringOption("language", "en"))}
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── Translate ─────────────────────────────────────────────────────────────

	reg.RegisterTranslate("huggingface", func(entry config.ProviderEntry) (translate.Translator, error) {
		opts := []huggingface.Option{huggingface.WithWaitForModel(entry.BoolOption("wait_for_model", true))}
		if entry.BaseURL != "" {
			opts = append(opts, huggingface.WithBaseURL(entry.BaseURL))
		}
		return huggingface.New(entry.APIKey, opts...), nil
	})

	reg.RegisterTranslate("openai", func(entry config.ProviderEntry) (translate.Translator, error) {
		var opts []oaitranslate.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaitranslate.WithBaseURL(entry.BaseURL))
		}
		return oaitranslate.New(entry.APIKey, entry.Model, opts...)
	})

	// anyllm reaches every backend of any-llm-go; options.provider selects
	// which one (openai, anthropic, gemini, ollama, ...).
	reg.RegisterTranslate("anyllm", func(entry config.ProviderEntry) (translate.Translator, error) {
		var opts []anyllmlib.Option
		if entry.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return llmtranslate.New(entry.StringOption("provider", "ollama"), entry.Model, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := entry.StringOption("language", ""); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := entry.StringOption("api_mode", ""); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if speaker := entry.StringOption("speaker", ""); speaker != "" {
			opts = append(opts, coqui.WithSpeaker(speaker))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		opts := []oaitts.Option{oaitts.WithSpeed(entry.FloatOption("rate", 1))}
		if entry.Model != "" {
			opts = append(opts, oaitts.WithModel(entry.Model))
		}
		if voice := entry.StringOption("voice", ""); voice != "" {
			opts = append(opts, oaitts.WithVoice(voice))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oaitts.WithBaseURL(entry.BaseURL))
		}
		return oaitts.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := entry.StringOption("output_format", ""); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithEndpoint(entry.BaseURL))
		}
		return elevenlabs.New(entry.APIKey, entry.StringOption("voice", ""), opts...)
	})

	for kind, names := range reg.Names() {
		slog.Debug("registered providers", "kind", kind, "names", names)
	}
}
