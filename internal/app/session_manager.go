package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voxlate/internal/config"
	"github.com/MrWong99/voxlate/internal/dispatch"
	"github.com/MrWong99/voxlate/internal/history"
	"github.com/MrWong99/voxlate/internal/observe"
	"github.com/MrWong99/voxlate/internal/session"
	"github.com/MrWong99/voxlate/internal/ui"
	"github.com/MrWong99/voxlate/pkg/provider/translate"
	"github.com/MrWong99/voxlate/pkg/provider/vad"
)

// ErrSessionActive is returned by operations that are only valid while no
// session is running.
var ErrSessionActive = errors.New("app: a session is active")

// ErrClosed is returned by Start after [SessionManager.Close].
var ErrClosed = errors.New("app: session manager closed")

// SessionInfo holds metadata about the active session.
type SessionInfo struct {
	// SessionID is the unique identifier for this session.
	SessionID string `json:"session_id"`

	// StartedAt is when the session was started.
	StartedAt time.Time `json:"started_at"`

	// Target is the translation target bound at start.
	Target translate.Target `json:"target"`

	Geometry string `json:"geometry"`
	Window   int    `json:"window"`
	Policy   string `json:"policy"`
}

// SessionSnapshot is a consistent view of the run control state.
type SessionSnapshot struct {
	Active bool

	// Info is the zero value while inactive.
	Info SessionInfo

	// Target is the bound target while active and the target the next
	// session would use otherwise. It is the zero value when the selected
	// name no longer resolves.
	Target translate.Target

	// Err is the fatal error of the last session, see [SessionManager.Err].
	Err error
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	Config    *config.Config
	Providers *Providers
	History   history.Store
	Recorder  dispatch.Recorder
	Sink      ui.Sink
	Metrics   *observe.Metrics
}

// SessionManager is the run control of the application. At most one capture
// session runs at a time; Start and Stop are idempotent. Every start takes
// a snapshot of the current config and target language and builds a fresh
// classifier, queue, detector and dispatcher from it.
// All exported methods are safe for concurrent use.
type SessionManager struct {
	mu      sync.Mutex
	cfg     *config.Config
	target  string
	active  bool
	info    SessionInfo
	cancel  context.CancelFunc
	done    chan struct{}
	lastErr error
	closed  bool

	providers *Providers
	history   history.Store
	recorder  dispatch.Recorder
	sink      ui.Sink
	metrics   *observe.Metrics

	// dispatchCtx outlives individual sessions so that Stop never interrupts
	// an in-flight utterance. It is cancelled only by Close.
	dispatchCtx    context.Context
	dispatchCancel context.CancelFunc
}

// NewSessionManager creates a SessionManager and reports the idle status to
// the sink.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	sm := &SessionManager{
		cfg:       cfg.Config,
		providers: cfg.Providers,
		history:   cfg.History,
		recorder:  cfg.Recorder,
		sink:      cfg.Sink,
		metrics:   cfg.Metrics,
	}
	if sm.sink == nil {
		sm.sink = ui.Nop{}
	}
	if sm.metrics == nil {
		sm.metrics = observe.DefaultMetrics()
	}
	sm.dispatchCtx, sm.dispatchCancel = context.WithCancel(context.Background())
	sm.sink.Status(ui.StatusIdle)
	return sm
}

// Start begins a new capture session. If a session is already running it
// does nothing and returns nil.
//
// Start returns once capture is running. When the audio device cannot be
// opened it returns the error, which wraps a [*audio.DeviceError], and the
// status goes to stopped. ctx scopes the call only; the session runs until
// Stop.
func (sm *SessionManager) Start(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.closed {
		return ErrClosed
	}
	if sm.active {
		slog.Debug("session: start ignored, already active", "session_id", sm.info.SessionID)
		return nil
	}

	cfg := sm.cfg
	target, err := cfg.Target(sm.target)
	if err != nil {
		return fmt.Errorf("app: resolve target: %w", err)
	}
	geom := cfg.Audio.Geometry()
	policy, err := session.ParsePolicy(cfg.Queue.Policy)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	cls, err := sm.providers.NewClassifier(vad.Config{Geometry: geom, Aggressiveness: cfg.VAD.Level()})
	if err != nil {
		return fmt.Errorf("app: create classifier: %w", err)
	}

	sessionID := uuid.NewString()
	dispOpts := []dispatch.Option{
		dispatch.WithSink(sm.sink),
		dispatch.WithMetrics(sm.metrics),
		dispatch.WithMinUtterance(cfg.Dispatch.MinUtterance()),
	}
	if sm.history != nil {
		dispOpts = append(dispOpts, dispatch.WithHistory(sm.history))
	}
	if sm.recorder != nil {
		dispOpts = append(dispOpts, dispatch.WithRecorder(sm.recorder))
	}
	disp, err := dispatch.New(dispatch.Stages{
		Denoiser:    sm.providers.Denoiser,
		Transcriber: sm.providers.STT,
		Translator:  sm.providers.Translator,
		Speaker:     sm.providers.speaker(),
	}, dispatch.Session{
		ID:         sessionID,
		Target:     target,
		SampleRate: geom.SampleRate,
	}, dispOpts...)
	if err != nil {
		return fmt.Errorf("app: create dispatcher: %w", err)
	}

	runner, err := session.NewRunner(session.Config{
		Geometry:          geom,
		SilenceTimeout:    cfg.VAD.SilenceTimeout(),
		QueueCapacity:     cfg.Queue.Capacity,
		Policy:            policy,
		UtteranceCapacity: cfg.Queue.UtteranceCapacity,
		Waveform:          cfg.Audio.Waveform,
	}, sm.providers.Source, cls, disp,
		session.WithSink(sm.sink),
		session.WithMetrics(sm.metrics),
	)
	if err != nil {
		return fmt.Errorf("app: create runner: %w", err)
	}

	captureCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if err := runner.Start(captureCtx, sm.dispatchCtx); err != nil {
		cancel()
		sm.lastErr = err
		sm.sink.Status(ui.StatusStopped)
		slog.Error("session: start failed", "session_id", sessionID, "err", err)
		return err
	}

	done := make(chan struct{})
	sm.active = true
	sm.cancel = cancel
	sm.done = done
	sm.lastErr = nil
	sm.info = SessionInfo{
		SessionID: sessionID,
		StartedAt: time.Now().UTC(),
		Target:    target,
		Geometry:  geom.String(),
		Window:    geom.FramesIn(cfg.VAD.SilenceTimeout()),
		Policy:    string(policy),
	}
	sm.metrics.ActiveSessions.Add(ctx, 1)
	sm.sink.Status(ui.StatusListening)

	slog.Info("session started",
		"session_id", sessionID,
		"target", target.Name,
		"geometry", sm.info.Geometry,
		"window", sm.info.Window,
	)

	go sm.wait(sessionID, runner, done)
	return nil
}

// wait reaps a session once its runner returns, whether through Stop or a
// fatal error.
func (sm *SessionManager) wait(sessionID string, r *session.Runner, done chan struct{}) {
	err := r.Wait()

	sm.mu.Lock()
	if err != nil {
		sm.lastErr = err
		slog.Error("session ended with error", "session_id", sessionID, "err", err)
	}
	sm.cancel()
	sm.active = false
	sm.cancel = nil
	sm.done = nil
	sm.info = SessionInfo{}
	sm.mu.Unlock()

	sm.metrics.ActiveSessions.Add(context.Background(), -1)
	sm.sink.Status(ui.StatusStopped)
	slog.Info("session stopped", "session_id", sessionID)
	close(done)
}

// Stop ends the active session: capture stops, the partial utterance is
// discarded and no new utterance is accepted. It blocks until the
// utterance being dispatched, if any, has completed. Stop without an
// active session is a no-op.
func (sm *SessionManager) Stop() error {
	sm.mu.Lock()
	if !sm.active {
		sm.mu.Unlock()
		return nil
	}
	cancel, done := sm.cancel, sm.done
	sm.mu.Unlock()

	cancel()
	<-done
	return nil
}

// Close stops the active session like Stop, but aborts in-flight dispatch
// when ctx expires first. Start fails with [ErrClosed] afterwards.
func (sm *SessionManager) Close(ctx context.Context) error {
	sm.mu.Lock()
	sm.closed = true
	cancel, done := sm.cancel, sm.done
	sm.mu.Unlock()

	var err error
	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			err = ctx.Err()
			sm.dispatchCancel()
			<-done
		}
	}
	sm.dispatchCancel()
	return err
}

// IsActive reports whether a session is running.
func (sm *SessionManager) IsActive() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.active
}

// Info returns metadata about the active session, or the zero value.
func (sm *SessionManager) Info() SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.info
}

// Snapshot returns the active flag, session info, target and last error
// read under one lock.
func (sm *SessionManager) Snapshot() SessionSnapshot {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	snap := SessionSnapshot{Active: sm.active, Info: sm.info, Err: sm.lastErr}
	if sm.active {
		snap.Target = sm.info.Target
	} else if t, err := sm.cfg.Target(sm.target); err == nil {
		snap.Target = t
	}
	return snap
}

// Err returns the fatal error of the last session, such as a device error,
// or nil if it ended regularly. It is cleared by a successful Start.
func (sm *SessionManager) Err() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.lastErr
}

// Config returns the config the next session will start with.
func (sm *SessionManager) Config() *config.Config {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.cfg
}

// SetConfig replaces the config used by the next start. The running
// session is not affected.
func (sm *SessionManager) SetConfig(cfg *config.Config) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.cfg = cfg
	if sm.target != "" {
		if _, err := cfg.Target(sm.target); err != nil {
			slog.Warn("session: selected target no longer configured, using default",
				"target", sm.target,
				"default", cfg.TargetLanguage,
			)
			sm.target = ""
		}
	}
}

// Target returns the target language the next session will translate into.
func (sm *SessionManager) Target() (translate.Target, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.cfg.Target(sm.target)
}

// SetTarget selects the target language by display name for the next
// session. It fails with [ErrSessionActive] while a session is running and
// with [config.ErrUnknownLanguage] for names not in the language table.
func (sm *SessionManager) SetTarget(name string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.active {
		return ErrSessionActive
	}
	if _, err := sm.cfg.Target(name); err != nil {
		return err
	}
	sm.target = name
	slog.Info("session: target language selected", "target", name)
	return nil
}
