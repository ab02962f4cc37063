package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/voxlate/pkg/audio"
	"github.com/MrWong99/voxlate/pkg/provider/denoise"
	"github.com/MrWong99/voxlate/pkg/provider/stt"
	"github.com/MrWong99/voxlate/pkg/provider/translate"
	"github.com/MrWong99/voxlate/pkg/provider/tts"
	"github.com/MrWong99/voxlate/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// factories is a name → constructor table for one provider kind.
type factories[F any] struct {
	kind string
	m    map[string]F
}

func newFactories[F any](kind string) factories[F] {
	return factories[F]{kind: kind, m: make(map[string]F)}
}

func (f factories[F]) lookup(name string) (F, error) {
	factory, ok := f.m[name]
	if !ok {
		var zero F
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, name)
	}
	return factory, nil
}

func (f factories[F]) names() []string {
	out := make([]string, 0, len(f.m))
	for name := range f.m {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
//
// Classifier factories receive the session's [vad.Config] because a
// classifier is bound to one frame geometry at construction.
type Registry struct {
	mu        sync.RWMutex
	sources   factories[func(ProviderEntry) (audio.FrameSource, error)]
	players   factories[func(ProviderEntry) (audio.Player, error)]
	vad       factories[func(ProviderEntry, vad.Config) (vad.Classifier, error)]
	denoise   factories[func(ProviderEntry) (denoise.Suppressor, error)]
	stt       factories[func(ProviderEntry) (stt.Transcriber, error)]
	translate factories[func(ProviderEntry) (translate.Translator, error)]
	tts       factories[func(ProviderEntry) (tts.Provider, error)]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		sources:   newFactories[func(ProviderEntry) (audio.FrameSource, error)]("audio"),
		players:   newFactories[func(ProviderEntry) (audio.Player, error)]("playback"),
		vad:       newFactories[func(ProviderEntry, vad.Config) (vad.Classifier, error)]("vad"),
		denoise:   newFactories[func(ProviderEntry) (denoise.Suppressor, error)]("denoise"),
		stt:       newFactories[func(ProviderEntry) (stt.Transcriber, error)]("stt"),
		translate: newFactories[func(ProviderEntry) (translate.Translator, error)]("translate"),
		tts:       newFactories[func(ProviderEntry) (tts.Provider, error)]("tts"),
	}
}

// RegisterSource registers a frame source factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSource(name string, factory func(ProviderEntry) (audio.FrameSource, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources.m[name] = factory
}

// RegisterPlayer registers a playback device factory under name.
func (r *Registry) RegisterPlayer(name string, factory func(ProviderEntry) (audio.Player, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.players.m[name] = factory
}

// RegisterVAD registers a frame classifier factory under name.
func (r *Registry) RegisterVAD(name string, factory func(ProviderEntry, vad.Config) (vad.Classifier, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad.m[name] = factory
}

// RegisterDenoise registers a noise suppressor factory under name.
func (r *Registry) RegisterDenoise(name string, factory func(ProviderEntry) (denoise.Suppressor, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.denoise.m[name] = factory
}

// RegisterSTT registers a transcriber factory under name.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Transcriber, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt.m[name] = factory
}

// RegisterTranslate registers a translator factory under name.
func (r *Registry) RegisterTranslate(name string, factory func(ProviderEntry) (translate.Translator, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.translate.m[name] = factory
}

// RegisterTTS registers a TTS provider factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts.m[name] = factory
}

// CreateSource instantiates a frame source using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateSource(entry ProviderEntry) (audio.FrameSource, error) {
	r.mu.RLock()
	factory, err := r.sources.lookup(entry.Name)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return factory(entry)
}

// CreatePlayer instantiates a playback device using the factory registered under entry.Name.
func (r *Registry) CreatePlayer(entry ProviderEntry) (audio.Player, error) {
	r.mu.RLock()
	factory, err := r.players.lookup(entry.Name)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return factory(entry)
}

// CreateVAD instantiates a frame classifier bound to cfg.
func (r *Registry) CreateVAD(entry ProviderEntry, cfg vad.Config) (vad.Classifier, error) {
	r.mu.RLock()
	factory, err := r.vad.lookup(entry.Name)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return factory(entry, cfg)
}

// CreateDenoise instantiates a noise suppressor. An empty name or "none"
// yields [denoise.Passthrough].
func (r *Registry) CreateDenoise(entry ProviderEntry) (denoise.Suppressor, error) {
	if entry.Name == "" || entry.Name == "none" {
		return denoise.Passthrough{}, nil
	}
	r.mu.RLock()
	factory, err := r.denoise.lookup(entry.Name)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return factory(entry)
}

// CreateSTT instantiates a transcriber using the factory registered under entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Transcriber, error) {
	r.mu.RLock()
	factory, err := r.stt.lookup(entry.Name)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return factory(entry)
}

// CreateTranslate instantiates a translator using the factory registered under entry.Name.
func (r *Registry) CreateTranslate(entry ProviderEntry) (translate.Translator, error) {
	r.mu.RLock()
	factory, err := r.translate.lookup(entry.Name)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return factory(entry)
}

// CreateTTS instantiates a TTS provider using the factory registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	factory, err := r.tts.lookup(entry.Name)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return factory(entry)
}

// Names returns the registered provider names per kind, sorted.
func (r *Registry) Names() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string][]string{
		"audio":     r.sources.names(),
		"playback":  r.players.names(),
		"vad":       r.vad.names(),
		"denoise":   r.denoise.names(),
		"stt":       r.stt.names(),
		"translate": r.translate.names(),
		"tts":       r.tts.names(),
	}
}
