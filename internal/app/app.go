// Package app wires the voxlate subsystems into a running application.
//
// New builds the long-lived dependencies (history store, recorder, UI hub)
// from the config. The [SessionManager] builds a fresh capture pipeline from
// a config snapshot on every start. Shutdown tears everything down in order.
//
// For testing, inject test doubles via functional options (WithHistory,
// WithHub, ...) and a hand-built [Providers].
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/MrWong99/voxlate/internal/config"
	"github.com/MrWong99/voxlate/internal/dispatch"
	"github.com/MrWong99/voxlate/internal/history"
	"github.com/MrWong99/voxlate/internal/history/postgres"
	"github.com/MrWong99/voxlate/internal/observe"
	"github.com/MrWong99/voxlate/internal/recorder"
	"github.com/MrWong99/voxlate/internal/resilience"
	"github.com/MrWong99/voxlate/internal/ui"
	"github.com/MrWong99/voxlate/pkg/audio"
	"github.com/MrWong99/voxlate/pkg/provider/denoise"
	"github.com/MrWong99/voxlate/pkg/provider/stt"
	"github.com/MrWong99/voxlate/pkg/provider/translate"
	"github.com/MrWong99/voxlate/pkg/provider/tts"
	"github.com/MrWong99/voxlate/pkg/provider/vad"
)

// Providers holds the stage providers. It is populated by main via the
// config registry, see [BuildProviders].
type Providers struct {
	Source     audio.FrameSource
	Player     audio.Player
	Denoiser   denoise.Suppressor
	STT        stt.Transcriber
	Translator translate.Translator
	TTS        tts.Provider

	// Speaker voices translations. When nil, TTS output is played on Player.
	Speaker tts.Speaker

	// NewClassifier builds a classifier bound to a session's geometry. It is
	// called on every start.
	NewClassifier func(vad.Config) (vad.Classifier, error)
}

func (p *Providers) speaker() tts.Speaker {
	if p.Speaker != nil {
		return p.Speaker
	}
	return tts.NewPlayback(p.TTS, p.Player)
}

func (p *Providers) validate() error {
	var errs []error
	if p.Source == nil {
		errs = append(errs, errors.New("audio source is required"))
	}
	if p.NewClassifier == nil {
		errs = append(errs, errors.New("classifier factory is required"))
	}
	if p.STT == nil {
		errs = append(errs, errors.New("stt provider is required"))
	}
	if p.Translator == nil {
		errs = append(errs, errors.New("translate provider is required"))
	}
	if p.Speaker == nil && (p.TTS == nil || p.Player == nil) {
		errs = append(errs, errors.New("tts provider and playback device are required"))
	}
	return errors.Join(errs...)
}

// ─── Provider construction ───────────────────────────────────────────────────

// BuildProviders creates every provider named by cfg from reg. The stt,
// translate and tts entries are wrapped in a fallback group with per-entry
// circuit breakers when fallbacks are configured. The returned closers
// release providers that hold resources and should be run on shutdown.
func BuildProviders(reg *config.Registry, cfg *config.Config, m *observe.Metrics) (*Providers, []func() error, error) {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	var closers []func() error
	track := func(v any) {
		if c, ok := v.(io.Closer); ok {
			closers = append(closers, c.Close)
		}
	}
	fail := func(err error) (*Providers, []func() error, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
		return nil, nil, err
	}

	p := &Providers{}
	var err error

	if p.Source, err = reg.CreateSource(cfg.Providers.Audio); err != nil {
		return fail(fmt.Errorf("app: audio source: %w", err))
	}
	if p.Player, err = reg.CreatePlayer(cfg.Providers.Playback); err != nil {
		return fail(fmt.Errorf("app: playback: %w", err))
	}
	track(p.Player)
	if p.Denoiser, err = reg.CreateDenoise(cfg.Providers.Denoise); err != nil {
		return fail(fmt.Errorf("app: denoise: %w", err))
	}
	track(p.Denoiser)

	sttAll, err := createAll(cfg.Providers.STT, reg.CreateSTT, track)
	if err != nil {
		return fail(fmt.Errorf("app: stt: %w", err))
	}
	p.STT = sttAll[0].value
	if len(sttAll) > 1 {
		fb := resilience.NewSTTFallback(sttAll[0].value, sttAll[0].name, fallbackConfig("stt", m))
		for _, e := range sttAll[1:] {
			fb.AddFallback(e.name, e.value)
		}
		p.STT = fb
	}

	trAll, err := createAll(cfg.Providers.Translate, reg.CreateTranslate, track)
	if err != nil {
		return fail(fmt.Errorf("app: translate: %w", err))
	}
	p.Translator = trAll[0].value
	if len(trAll) > 1 {
		fb := resilience.NewTranslateFallback(trAll[0].value, trAll[0].name, fallbackConfig("translate", m))
		for _, e := range trAll[1:] {
			fb.AddFallback(e.name, e.value)
		}
		p.Translator = fb
	}

	ttsAll, err := createAll(cfg.Providers.TTS, reg.CreateTTS, track)
	if err != nil {
		return fail(fmt.Errorf("app: tts: %w", err))
	}
	p.TTS = ttsAll[0].value
	if len(ttsAll) > 1 {
		fb := resilience.NewTTSFallback(ttsAll[0].value, ttsAll[0].name, fallbackConfig("tts", m))
		for _, e := range ttsAll[1:] {
			fb.AddFallback(e.name, e.value)
		}
		p.TTS = fb
	}

	vadEntry := cfg.Providers.VAD
	p.NewClassifier = func(vc vad.Config) (vad.Classifier, error) {
		return reg.CreateVAD(vadEntry, vc)
	}
	if _, err := p.NewClassifier(vad.Config{Geometry: cfg.Audio.Geometry(), Aggressiveness: cfg.VAD.Level()}); err != nil {
		return fail(fmt.Errorf("app: vad: %w", err))
	}

	slog.Info("providers ready",
		"audio", cfg.Providers.Audio.Name,
		"playback", cfg.Providers.Playback.Name,
		"vad", vadEntry.Name,
		"denoise", cfg.Providers.Denoise.Name,
		"stt", names(sttAll),
		"translate", names(trAll),
		"tts", names(ttsAll),
	)
	return p, closers, nil
}

type named[T any] struct {
	name  string
	value T
}

// createAll builds the primary entry followed by its fallbacks.
func createAll[T any](entry config.ProviderEntry, create func(config.ProviderEntry) (T, error), track func(any)) ([]named[T], error) {
	entries := append([]config.ProviderEntry{entry}, entry.Fallbacks...)
	out := make([]named[T], 0, len(entries))
	for i, e := range entries {
		v, err := create(e)
		if err != nil {
			if i == 0 {
				return nil, err
			}
			return nil, fmt.Errorf("fallback %q: %w", e.Name, err)
		}
		track(v)
		out = append(out, named[T]{name: e.Name, value: v})
	}
	return out, nil
}

func names[T any](all []named[T]) []string {
	out := make([]string, len(all))
	for i, e := range all {
		out[i] = e.name
	}
	return out
}

func fallbackConfig(kind string, m *observe.Metrics) resilience.FallbackConfig {
	return resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("circuit breaker state change", "kind", kind, "provider", name, "from", from.String(), "to", to.String())
			},
		},
		OnAttempt: m.ProviderAttempt(kind),
	}
}

// ─── App ─────────────────────────────────────────────────────────────────────

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics

	history  history.Store
	guard    *history.Guard
	recorder dispatch.Recorder
	hub      *ui.Hub
	extra    ui.Sink
	sink     ui.Sink
	sessions *SessionManager

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithHistory injects a history store instead of creating one from config.
// The store is still wrapped in a [history.Guard].
func WithHistory(s history.Store) Option {
	return func(a *App) { a.history = s }
}

// WithRecorder injects an utterance recorder instead of creating one from
// config.
func WithRecorder(r dispatch.Recorder) Option {
	return func(a *App) { a.recorder = r }
}

// WithHub injects the websocket hub instead of creating a default one.
func WithHub(h *ui.Hub) Option {
	return func(a *App) { a.hub = h }
}

// WithSink adds a UI sink that receives every event next to the log sink
// and the hub.
func WithSink(s ui.Sink) Option {
	return func(a *App) { a.extra = s }
}

// WithMetrics sets the metric instruments. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together. The providers come
// from main (populated via [BuildProviders]).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		return nil, errors.New("app: providers are required")
	}
	if err := providers.validate(); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initHistory(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init history: %w", err)
	}
	if err := a.initRecorder(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init recorder: %w", err)
	}
	if a.hub == nil {
		a.hub = ui.NewHub()
	}
	a.closers = append(a.closers, a.hub.Close)
	a.sink = ui.Multi(ui.NewLogSink(slog.Default()), a.hub, a.extra)

	a.sessions = NewSessionManager(SessionManagerConfig{
		Config:    cfg,
		Providers: providers,
		History:   a.guard,
		Recorder:  a.recorder,
		Sink:      a.sink,
		Metrics:   a.metrics,
	})
	return a, nil
}

func (a *App) initHistory(ctx context.Context) error {
	if a.history == nil {
		if dsn := a.cfg.History.DSN; dsn != "" {
			store, err := postgres.NewStore(ctx, dsn)
			if err != nil {
				return err
			}
			a.history = store
			slog.Info("history: using postgres store")
		} else {
			a.history = history.NewMemory(a.cfg.History.Capacity)
			slog.Info("history: using in-memory store", "capacity", a.cfg.History.Capacity)
		}
	}
	a.guard = history.NewGuard(a.history)
	a.closers = append(a.closers, a.guard.Close)
	return nil
}

func (a *App) initRecorder() error {
	if a.recorder != nil || a.cfg.Recording.Dir == "" {
		return nil
	}
	rec, err := recorder.New(a.cfg.Recording.Dir)
	if err != nil {
		return err
	}
	a.recorder = rec
	slog.Info("recording utterances", "dir", rec.Dir())
	return nil
}

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Hub returns the websocket hub.
func (a *App) Hub() *ui.Hub { return a.hub }

// History returns the guarded history store.
func (a *App) History() history.Store { return a.guard }

// HistoryDegraded reports whether the last history operation failed.
func (a *App) HistoryDegraded() bool { return a.guard.IsDegraded() }

// Config returns the config the next session will start with.
func (a *App) Config() *config.Config { return a.sessions.Config() }

// ApplyConfig installs a reloaded config. Session settings take effect at
// the next start; the running session keeps its snapshot.
func (a *App) ApplyConfig(cfg *config.Config, d config.ConfigDiff) {
	a.sessions.SetConfig(cfg)
	if len(d.ProvidersChanged) > 0 || d.RestartRequired {
		slog.Warn("config: some changes take effect only after a restart",
			"providers_changed", d.ProvidersChanged,
			"restart_required", d.RestartRequired,
		)
	}
}

// Run blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	slog.Info("app running", "target", a.cfg.TargetLanguage)
	<-ctx.Done()
	return ctx.Err()
}

// Shutdown stops the active session, letting an in-flight utterance finish
// until ctx expires, then runs the closers. It is idempotent.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.sessions.Close(ctx); err != nil {
			slog.Warn("session shutdown error", "err", err)
			shutdownErr = err
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
	a.closers = nil
}
