package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/voxlate/internal/config"
	"github.com/MrWong99/voxlate/internal/history"
	"github.com/MrWong99/voxlate/internal/observe"
	"github.com/MrWong99/voxlate/internal/ui"
	"github.com/MrWong99/voxlate/pkg/audio"
	audiomock "github.com/MrWong99/voxlate/pkg/audio/mock"
	denoisemock "github.com/MrWong99/voxlate/pkg/provider/denoise/mock"
	sttmock "github.com/MrWong99/voxlate/pkg/provider/stt/mock"
	translatemock "github.com/MrWong99/voxlate/pkg/provider/translate/mock"
	ttsmock "github.com/MrWong99/voxlate/pkg/provider/tts/mock"
	"github.com/MrWong99/voxlate/pkg/provider/vad"
	vadmock "github.com/MrWong99/voxlate/pkg/provider/vad/mock"
)

// ─── Fixture ─────────────────────────────────────────────────────────────────

const testYAML = `
providers:
  stt: {name: mock}
  translate: {name: mock}
  tts: {name: mock}
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(testYAML))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	return cfg
}

// script builds frames alternating silence and speech runs, starting with
// silence. Speech frames carry a non-zero first sample.
func script(runs ...int) [][]int16 {
	var out [][]int16
	speech := false
	for _, n := range runs {
		for range n {
			f := make([]int16, audio.DefaultGeometry.SamplesPerFrame())
			if speech {
				f[0] = 1
			}
			out = append(out, f)
		}
		speech = !speech
	}
	return out
}

// statusSink records status transitions.
type statusSink struct {
	ui.Nop
	mu       sync.Mutex
	statuses []ui.Status
}

func (s *statusSink) Status(st ui.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, st)
}

func (s *statusSink) got() []ui.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ui.Status(nil), s.statuses...)
}

type fixture struct {
	src     *audiomock.Source
	stt     *sttmock.Transcriber
	tr      *translatemock.Translator
	speaker *ttsmock.Speaker
	history *history.Memory
	sink    *statusSink
	reader  *sdkmetric.ManualReader
	metrics *observe.Metrics

	mu          sync.Mutex
	classifiers []*vadmock.Classifier
	clsErr      error
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	return &fixture{
		src:     &audiomock.Source{},
		stt:     &sttmock.Transcriber{Text: "hello world"},
		tr:      &translatemock.Translator{},
		speaker: &ttsmock.Speaker{},
		history: history.NewMemory(100),
		sink:    &statusSink{},
		reader:  reader,
		metrics: m,
	}
}

func (f *fixture) newClassifier(vad.Config) (vad.Classifier, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &vadmock.Classifier{Func: func(fr []int16) bool { return fr[0] != 0 }, Err: f.clsErr}
	f.classifiers = append(f.classifiers, c)
	return c, nil
}

func (f *fixture) lastClassifier() *vadmock.Classifier {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.classifiers) == 0 {
		return nil
	}
	return f.classifiers[len(f.classifiers)-1]
}

func (f *fixture) providers() *Providers {
	return &Providers{
		Source:        f.src,
		Denoiser:      &denoisemock.Suppressor{},
		STT:           f.stt,
		Translator:    f.tr,
		Speaker:       f.speaker,
		NewClassifier: f.newClassifier,
	}
}

func (f *fixture) manager(t *testing.T, cfg *config.Config) *SessionManager {
	t.Helper()
	sm := NewSessionManager(SessionManagerConfig{
		Config:    cfg,
		Providers: f.providers(),
		History:   f.history,
		Sink:      f.sink,
		Metrics:   f.metrics,
	})
	t.Cleanup(func() { _ = sm.Close(context.Background()) })
	return sm
}

func (f *fixture) activeSessions(t *testing.T) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := f.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "voxlate.sessions.active" {
				continue
			}
			var total int64
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func equalStatuses(got, want []ui.Status) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

// ─── Tests ───────────────────────────────────────────────────────────────────

func TestSessionManager_StartIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	sm := f.manager(t, testConfig(t))
	ctx := context.Background()

	if err := sm.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	first := sm.Info().SessionID
	if err := sm.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	if n := len(f.src.OpenCalls); n != 1 {
		t.Errorf("source opened %d times, want 1", n)
	}
	if sm.Info().SessionID != first {
		t.Error("second Start replaced the session")
	}
	if !sm.IsActive() {
		t.Error("IsActive() = false after Start")
	}
	if got := f.activeSessions(t); got != 1 {
		t.Errorf("active sessions = %d, want 1", got)
	}

	if err := sm.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := sm.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if sm.IsActive() {
		t.Error("IsActive() = true after Stop")
	}
	if got := f.activeSessions(t); got != 0 {
		t.Errorf("active sessions = %d, want 0", got)
	}
	want := []ui.Status{ui.StatusIdle, ui.StatusListening, ui.StatusStopped}
	if got := f.sink.got(); !equalStatuses(got, want) {
		t.Errorf("statuses = %v, want %v", got, want)
	}
	if f.src.CallCountClose == 0 {
		t.Error("source was not closed on Stop")
	}
}

func TestSessionManager_RestartStartsFresh(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	sm := f.manager(t, testConfig(t))

	// First session ends mid-utterance.
	f.src.Script = script(40, 60)
	if err := sm.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	first := sm.Info().SessionID
	waitFor(t, "first session frames", func() bool { return f.lastClassifier().CallCount() == 100 })
	if err := sm.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	// A leftover Triggered state would turn these 40 silence frames into an
	// utterance.
	f.src.Script = script(40)
	if err := sm.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if sm.Info().SessionID == first {
		t.Error("restart reused the session id")
	}
	waitFor(t, "second session frames", func() bool { return f.lastClassifier().CallCount() == 40 })
	if err := sm.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if n := f.stt.CallCount(); n != 0 {
		t.Errorf("transcriber called %d times, want 0", n)
	}
	if n := len(f.classifiers); n != 2 {
		t.Errorf("classifiers built = %d, want one per start", n)
	}
}

func TestSessionManager_StopDuringDispatchCompletesUtterance(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.src.Script = script(40, 40, 40, 40, 40)
	f.src.Interval = time.Millisecond
	speaking := make(chan struct{}, 4)
	f.speaker.Delay = 150 * time.Millisecond
	f.speaker.OnSpeak = func(string) { speaking <- struct{}{} }
	sm := f.manager(t, testConfig(t))

	if err := sm.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-speaking:
	case <-time.After(5 * time.Second):
		t.Fatal("first utterance never reached the speaker")
	}
	if err := sm.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if n := f.history.Len(); n != 1 {
		t.Fatalf("history entries = %d, want 1 (in-flight utterance must complete)", n)
	}
	entries, _ := f.history.Recent(context.Background(), 1)
	if entries[0].Translation == "" || entries[0].Error != "" {
		t.Errorf("entry = %+v, want a completed translation", entries[0])
	}
	time.Sleep(100 * time.Millisecond)
	if n := f.speaker.CallCount(); n != 1 {
		t.Errorf("speak calls = %d, want 1 (no utterance accepted after stop)", n)
	}
}

func TestSessionManager_DeviceError(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.src.OpenError = &audio.DeviceError{Device: "USB Microphone", Op: "open", Err: errors.New("device busy")}
	sm := f.manager(t, testConfig(t))

	err := sm.Start(context.Background())
	var devErr *audio.DeviceError
	if !errors.As(err, &devErr) {
		t.Fatalf("Start error = %v, want *audio.DeviceError", err)
	}
	if sm.IsActive() {
		t.Error("IsActive() = true after failed start")
	}
	if !errors.As(sm.Err(), &devErr) {
		t.Errorf("Err() = %v, want the device error", sm.Err())
	}
	want := []ui.Status{ui.StatusIdle, ui.StatusStopped}
	if got := f.sink.got(); !equalStatuses(got, want) {
		t.Errorf("statuses = %v, want %v", got, want)
	}

	// The device comes back.
	f.src.OpenError = nil
	if err := sm.Start(context.Background()); err != nil {
		t.Fatalf("Start after recovery: %v", err)
	}
	if sm.Err() != nil {
		t.Errorf("Err() = %v after successful start, want nil", sm.Err())
	}
	_ = sm.Stop()
}

func TestSessionManager_FatalClassifierErrorStopsSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.clsErr = fmt.Errorf("%w: 7 samples", vad.ErrInvalidFrameGeometry)
	f.src.Script = script(5)
	sm := f.manager(t, testConfig(t))

	if err := sm.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "session to end", func() bool { return !sm.IsActive() })

	if !errors.Is(sm.Err(), vad.ErrInvalidFrameGeometry) {
		t.Errorf("Err() = %v, want ErrInvalidFrameGeometry", sm.Err())
	}
	waitFor(t, "stopped status", func() bool {
		got := f.sink.got()
		return len(got) > 0 && got[len(got)-1] == ui.StatusStopped
	})
}

func TestSessionManager_StartAfterCloseFails(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	sm := f.manager(t, testConfig(t))

	if err := sm.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := sm.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sm.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Start after Close = %v, want ErrClosed", err)
	}
	if sm.IsActive() {
		t.Error("IsActive() = true after Start on a closed manager")
	}
	if n := len(f.src.OpenCalls); n != 1 {
		t.Errorf("source opened %d times, want 1", n)
	}
}

func TestSessionManager_Snapshot(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	sm := f.manager(t, testConfig(t))
	want, err := sm.Target()
	if err != nil {
		t.Fatalf("Target: %v", err)
	}

	snap := sm.Snapshot()
	if snap.Active || snap.Info != (SessionInfo{}) {
		t.Errorf("idle snapshot = %+v, want inactive with zero info", snap)
	}
	if snap.Target != want {
		t.Errorf("idle Target = %+v, want %+v", snap.Target, want)
	}

	if err := sm.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	snap = sm.Snapshot()
	if !snap.Active || snap.Info.SessionID == "" {
		t.Fatalf("active snapshot = %+v, want active with a session ID", snap)
	}
	if snap.Target != snap.Info.Target {
		t.Errorf("Target = %+v, want the bound %+v", snap.Target, snap.Info.Target)
	}
	_ = sm.Stop()

	snap = sm.Snapshot()
	if snap.Active || snap.Info != (SessionInfo{}) || snap.Err != nil {
		t.Errorf("stopped snapshot = %+v, want inactive, zero info and no error", snap)
	}
}

func TestSessionManager_SnapshotNeverMixesStates(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	sm := f.manager(t, testConfig(t))

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			_ = sm.Start(context.Background())
			_ = sm.Stop()
		}
		close(stop)
	}()

	for {
		select {
		case <-stop:
			wg.Wait()
			return
		default:
		}
		snap := sm.Snapshot()
		if snap.Active != (snap.Info.SessionID != "") {
			t.Fatalf("snapshot Active = %v with session ID %q", snap.Active, snap.Info.SessionID)
		}
	}
}

func TestSessionManager_SetTarget(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.src.Script = script(40, 40, 40)
	sm := f.manager(t, testConfig(t))

	if got, _ := sm.Target(); got.Name != "Hindi" {
		t.Errorf("default target = %q, want Hindi", got.Name)
	}
	if err := sm.SetTarget("Klingon"); !errors.Is(err, config.ErrUnknownLanguage) {
		t.Errorf("SetTarget(Klingon) = %v, want ErrUnknownLanguage", err)
	}
	if err := sm.SetTarget("German"); err != nil {
		t.Fatalf("SetTarget(German): %v", err)
	}

	if err := sm.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := sm.SetTarget("French"); !errors.Is(err, ErrSessionActive) {
		t.Errorf("SetTarget while active = %v, want ErrSessionActive", err)
	}
	if got := sm.Info().Target.Name; got != "German" {
		t.Errorf("session target = %q, want German", got)
	}
	waitFor(t, "translation", func() bool { return f.tr.CallCount() == 1 })
	_ = sm.Stop()

	if got := f.tr.Calls[0].Target.Name; got != "German" {
		t.Errorf("translator target = %q, want German", got)
	}
}

func TestSessionManager_TranslatorGetsSessionTarget(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.src.Script = script(40, 40, 40)
	sm := f.manager(t, testConfig(t))
	if err := sm.SetTarget("Spanish"); err != nil {
		t.Fatalf("SetTarget: %v", err)
	}
	if err := sm.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "speech", func() bool { return f.speaker.CallCount() == 1 })
	_ = sm.Stop()

	f.tr.Reset()
	if err := sm.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	waitFor(t, "second translation", func() bool { return f.tr.CallCount() == 1 })
	_ = sm.Stop()

	entries, _ := f.history.Recent(context.Background(), 10)
	if len(entries) != 2 {
		t.Fatalf("history = %d entries, want 2", len(entries))
	}
	for _, e := range entries {
		if e.Target != "Spanish" {
			t.Errorf("entry target = %q, want Spanish", e.Target)
		}
	}
}

func TestSessionManager_SetConfigAppliesAtNextStart(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	cfg := testConfig(t)
	sm := f.manager(t, cfg)

	if err := sm.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	next := testConfig(t)
	next.TargetLanguage = "French"
	sm.SetConfig(next)
	if got := sm.Info().Target.Name; got != "Hindi" {
		t.Errorf("running session target = %q, want Hindi (snapshot)", got)
	}
	_ = sm.Stop()

	if err := sm.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if got := sm.Info().Target.Name; got != "French" {
		t.Errorf("restarted session target = %q, want French", got)
	}
	_ = sm.Stop()
}

func TestSessionManager_SetConfigDropsRemovedTarget(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	sm := f.manager(t, testConfig(t))
	if err := sm.SetTarget("German"); err != nil {
		t.Fatalf("SetTarget: %v", err)
	}
	next := testConfig(t)
	next.Languages = next.Languages[:1]
	sm.SetConfig(next)

	got, err := sm.Target()
	if err != nil || got.Name != "Hindi" {
		t.Errorf("Target() = %v, %v; want Hindi", got, err)
	}
}

func TestSessionManager_CloseAbortsDispatchOnDeadline(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.src.Script = script(40, 40, 40)
	f.stt.Delay = 10 * time.Second
	sm := f.manager(t, testConfig(t))

	if err := sm.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "transcription to start", func() bool { return f.stt.CallCount() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	if err := sm.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Close = %v, want DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Close took %s, want prompt abort", elapsed)
	}
	if sm.IsActive() {
		t.Error("session still active after Close")
	}
}
