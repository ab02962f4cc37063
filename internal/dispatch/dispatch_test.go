package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/voxlate/internal/history"
	"github.com/MrWong99/voxlate/internal/observe"
	"github.com/MrWong99/voxlate/internal/segment"
	"github.com/MrWong99/voxlate/internal/ui"
	denoisemock "github.com/MrWong99/voxlate/pkg/provider/denoise/mock"
	sttmock "github.com/MrWong99/voxlate/pkg/provider/stt/mock"
	"github.com/MrWong99/voxlate/pkg/provider/translate"
	translatemock "github.com/MrWong99/voxlate/pkg/provider/translate/mock"
	ttsmock "github.com/MrWong99/voxlate/pkg/provider/tts/mock"
)

var german = translate.Target{Name: "German", Model: "Helsinki-NLP/opus-mt-en-de", Code: "de"}

// fixture bundles mocks for one dispatcher.
type fixture struct {
	denoiser    *denoisemock.Suppressor
	transcriber *sttmock.Transcriber
	translator  *translatemock.Translator
	speaker     *ttsmock.Speaker
	sink        *sinkRecorder
	history     *history.Memory
}

func newFixture() *fixture {
	return &fixture{
		denoiser:    &denoisemock.Suppressor{},
		transcriber: &sttmock.Transcriber{Text: "hello"},
		translator:  &translatemock.Translator{},
		speaker:     &ttsmock.Speaker{},
		sink:        &sinkRecorder{},
		history:     history.NewMemory(0),
	}
}

func (f *fixture) stages() Stages {
	return Stages{
		Denoiser:    f.denoiser,
		Transcriber: f.transcriber,
		Translator:  f.translator,
		Speaker:     f.speaker,
	}
}

func (f *fixture) dispatcher(t *testing.T, opts ...Option) *Dispatcher {
	t.Helper()
	opts = append([]Option{
		WithSink(f.sink),
		WithHistory(f.history),
		WithMetrics(testMetrics(t)),
	}, opts...)
	d, err := New(f.stages(), Session{ID: "s1", Target: german, SampleRate: 16000}, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func utterance(id string, samples int) segment.Utterance {
	return segment.Utterance{ID: id, Started: time.Now(), Frames: 1, PCM: make([]int16, samples)}
}

// sinkRecorder is a ui.Sink that records events.
type sinkRecorder struct {
	mu     sync.Mutex
	events []string
}

func (s *sinkRecorder) add(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, fmt.Sprintf(format, args...))
}

func (s *sinkRecorder) Events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

func (s *sinkRecorder) Waveform([]int16)                   {}
func (s *sinkRecorder) Recognized(id, text string)         { s.add("recognized %s %s", id, text) }
func (s *sinkRecorder) Translated(id, text string)         { s.add("translated %s %s", id, text) }
func (s *sinkRecorder) Latency(id string, _ time.Duration) { s.add("latency %s", id) }
func (s *sinkRecorder) Status(st ui.Status)                { s.add("status %s", st) }
func (s *sinkRecorder) Error(id, stage string, _ error)    { s.add("error %s %s", id, stage) }

// ─── Construction ────────────────────────────────────────────────────────────

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	f := newFixture()
	valid := Session{Target: german, SampleRate: 16000}

	tests := []struct {
		name    string
		stages  Stages
		sess    Session
		wantErr string
	}{
		{"missing transcriber", Stages{Translator: f.translator, Speaker: f.speaker}, valid, "transcriber is required"},
		{"missing translator", Stages{Transcriber: f.transcriber, Speaker: f.speaker}, valid, "translator is required"},
		{"missing speaker", Stages{Transcriber: f.transcriber, Translator: f.translator}, valid, "speaker is required"},
		{"bad rate", f.stages(), Session{Target: german}, "sample rate must be positive"},
		{"no target", f.stages(), Session{SampleRate: 16000}, "no target language"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.stages, tt.sess)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("New error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestNew_NilDenoiserPassesThrough(t *testing.T) {
	t.Parallel()
	f := newFixture()
	stages := f.stages()
	stages.Denoiser = nil
	d, err := New(stages, Session{Target: german, SampleRate: 16000}, WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res := d.Dispatch(context.Background(), utterance("u1", 320))
	if !res.Spoken {
		t.Errorf("result = %+v, want spoken", res)
	}
	if got := f.transcriber.Calls[0].Samples; got != 320 {
		t.Errorf("transcribed samples = %d, want 320", got)
	}
}

// ─── Stage chain ─────────────────────────────────────────────────────────────

func TestDispatch_FullChain(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.transcriber.Text = "  good morning \n"
	d := f.dispatcher(t)

	res := d.Dispatch(context.Background(), utterance("u1", 16000))

	if res.Err != nil {
		t.Fatalf("Err = %v", res.Err)
	}
	if res.Transcript != "good morning" {
		t.Errorf("Transcript = %q, want %q", res.Transcript, "good morning")
	}
	if res.Translation != "[de] good morning" {
		t.Errorf("Translation = %q", res.Translation)
	}
	if !res.Spoken || res.Outcome() != observe.OutcomeSpoken {
		t.Errorf("Spoken = %v, Outcome = %q", res.Spoken, res.Outcome())
	}
	if res.Latency <= 0 {
		t.Errorf("Latency = %v, want > 0", res.Latency)
	}
	if got := f.translator.Calls[0].Target; got != german {
		t.Errorf("target = %+v, want %+v", got, german)
	}
	if got := f.speaker.Texts(); len(got) != 1 || got[0] != "[de] good morning" {
		t.Errorf("spoken = %q", got)
	}

	want := []string{"recognized u1 good morning", "translated u1 [de] good morning", "latency u1"}
	if got := f.sink.Events(); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("sink events = %q, want %q", got, want)
	}

	entries, _ := f.history.BySession(context.Background(), "s1")
	if len(entries) != 1 {
		t.Fatalf("history entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.ID != "u1" || e.Translation != "[de] good morning" || e.Target != "German" || e.AudioDuration != time.Second {
		t.Errorf("history entry = %+v", e)
	}
}

func TestDispatch_EmptyTranscriptSkipsTranslateAndSpeak(t *testing.T) {
	t.Parallel()
	for _, text := range []string{"", "   ", "\n\t"} {
		f := newFixture()
		f.transcriber.Text = text
		d := f.dispatcher(t)

		res := d.Dispatch(context.Background(), utterance("u1", 480))

		if res.Err != nil {
			t.Errorf("transcript %q: Err = %v, want nil", text, res.Err)
		}
		if f.translator.CallCount() != 0 {
			t.Errorf("transcript %q: translate called %d times", text, f.translator.CallCount())
		}
		if f.speaker.CallCount() != 0 {
			t.Errorf("transcript %q: speak called %d times", text, f.speaker.CallCount())
		}
		if res.Outcome() != observe.OutcomeSilent {
			t.Errorf("transcript %q: outcome = %q, want silent", text, res.Outcome())
		}
		if got := f.sink.Events(); len(got) != 1 || got[0] != "latency u1" {
			t.Errorf("transcript %q: sink events = %q, want only latency", text, got)
		}
	}
}

func TestDispatch_StageFailureSkipsRemainingStages(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")

	tests := []struct {
		name          string
		setup         func(f *fixture)
		wantStage     string
		wantTranscr   int
		wantTranslate int
		wantSpeak     int
	}{
		{"denoise", func(f *fixture) { f.denoiser.Err = boom }, observe.StageDenoise, 0, 0, 0},
		{"transcribe", func(f *fixture) { f.transcriber.Err = boom }, observe.StageTranscribe, 1, 0, 0},
		{"translate", func(f *fixture) { f.translator.Err = boom }, observe.StageTranslate, 1, 1, 0},
		{"speak", func(f *fixture) { f.speaker.Err = boom }, observe.StageSpeak, 1, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture()
			tt.setup(f)
			d := f.dispatcher(t)

			res := d.Dispatch(context.Background(), utterance("u1", 480))

			if !errors.Is(res.Err, boom) {
				t.Errorf("Err = %v, want wrapping boom", res.Err)
			}
			if res.FailedStage != tt.wantStage {
				t.Errorf("FailedStage = %q, want %q", res.FailedStage, tt.wantStage)
			}
			if res.Outcome() != observe.OutcomeFailed {
				t.Errorf("Outcome = %q, want failed", res.Outcome())
			}
			if got := f.transcriber.CallCount(); got != tt.wantTranscr {
				t.Errorf("transcribe calls = %d, want %d", got, tt.wantTranscr)
			}
			if got := f.translator.CallCount(); got != tt.wantTranslate {
				t.Errorf("translate calls = %d, want %d", got, tt.wantTranslate)
			}
			if got := f.speaker.CallCount(); got != tt.wantSpeak {
				t.Errorf("speak calls = %d, want %d", got, tt.wantSpeak)
			}

			events := f.sink.Events()
			if !contains(events, "error u1 "+tt.wantStage) {
				t.Errorf("sink events = %q, want error for %s", events, tt.wantStage)
			}
			if events[len(events)-1] != "latency u1" {
				t.Errorf("last sink event = %q, want latency", events[len(events)-1])
			}

			entries, _ := f.history.Recent(context.Background(), 1)
			if entries[0].FailedStage != tt.wantStage || entries[0].Error == "" {
				t.Errorf("history entry = %+v", entries[0])
			}
		})
	}
}

func TestDispatch_FailureDoesNotAffectNextUtterance(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.transcriber.Texts = []string{"first", "second"}
	d := f.dispatcher(t)

	f.translator.Err = errors.New("rate limited")
	first := d.Dispatch(context.Background(), utterance("u1", 480))
	f.translator.Err = nil
	second := d.Dispatch(context.Background(), utterance("u2", 480))

	if first.FailedStage != observe.StageTranslate {
		t.Errorf("first FailedStage = %q", first.FailedStage)
	}
	if second.Err != nil || !second.Spoken {
		t.Errorf("second = %+v, want spoken without error", second)
	}
	if got := f.speaker.Texts(); len(got) != 1 || got[0] != "[de] second" {
		t.Errorf("spoken = %q, want only the second utterance", got)
	}
}

func TestDispatch_MinUtterance(t *testing.T) {
	t.Parallel()
	f := newFixture()
	d := f.dispatcher(t, WithMinUtterance(500*time.Millisecond))

	short := d.Dispatch(context.Background(), utterance("short", 1600))
	long := d.Dispatch(context.Background(), utterance("long", 16000))

	if !short.Skipped || short.Outcome() != observe.OutcomeSkipped {
		t.Errorf("short = %+v, want skipped", short)
	}
	if long.Skipped || !long.Spoken {
		t.Errorf("long = %+v, want spoken", long)
	}
	if f.denoiser.CallCount() != 1 {
		t.Errorf("denoise calls = %d, want 1", f.denoiser.CallCount())
	}
	if f.history.Len() != 1 {
		t.Errorf("history entries = %d, want 1", f.history.Len())
	}
}

type fakeRecorder struct {
	mu    sync.Mutex
	ids   []string
	err   error
	rates []int
}

func (r *fakeRecorder) Save(id string, pcm []int16, rate int) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	r.rates = append(r.rates, rate)
	if r.err != nil {
		return "", r.err
	}
	return "/rec/" + id + ".wav", nil
}

func TestDispatch_Recorder(t *testing.T) {
	t.Parallel()
	f := newFixture()
	rec := &fakeRecorder{}
	d := f.dispatcher(t, WithRecorder(rec))

	d.Dispatch(context.Background(), utterance("u1", 480))

	if len(rec.ids) != 1 || rec.ids[0] != "u1" || rec.rates[0] != 16000 {
		t.Errorf("recorder calls = %v %v", rec.ids, rec.rates)
	}
}

func TestDispatch_RecorderFailureIsNotFatal(t *testing.T) {
	t.Parallel()
	f := newFixture()
	d := f.dispatcher(t, WithRecorder(&fakeRecorder{err: errors.New("disk full")}))

	res := d.Dispatch(context.Background(), utterance("u1", 480))
	if res.Err != nil || !res.Spoken {
		t.Errorf("result = %+v, want spoken", res)
	}
}

// ─── Worker ──────────────────────────────────────────────────────────────────

func TestRun_SerializesInOrder(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.transcriber.Texts = []string{"one", "two", "three"}

	var (
		mu        sync.Mutex
		active    int
		maxActive int
	)
	f.speaker.Delay = 10 * time.Millisecond
	f.speaker.OnSpeak = func(string) {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()
		time.AfterFunc(5*time.Millisecond, func() {
			mu.Lock()
			active--
			mu.Unlock()
		})
	}
	d := f.dispatcher(t)

	in := make(chan segment.Utterance, 3)
	in <- utterance("u1", 480)
	in <- utterance("u2", 480)
	in <- utterance("u3", 480)
	close(in)

	if err := d.Run(context.Background(), in); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{"[de] one", "[de] two", "[de] three"}
	if got := f.speaker.Texts(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("spoken = %q, want %q", got, want)
	}
	mu.Lock()
	defer mu.Unlock()
	if maxActive > 1 {
		t.Errorf("max concurrent speak = %d, want 1", maxActive)
	}
}

func TestRun_ReturnsOnCancel(t *testing.T) {
	t.Parallel()
	f := newFixture()
	d := f.dispatcher(t)

	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan segment.Utterance)
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, in) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_InFlightCompletesAfterInputCloses(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.speaker.Delay = 50 * time.Millisecond
	started := make(chan struct{})
	f.speaker.OnSpeak = func(string) { close(started) }
	d := f.dispatcher(t)

	in := make(chan segment.Utterance, 1)
	in <- utterance("u1", 480)
	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background(), in) }()

	<-started
	close(in)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	if f.history.Len() != 1 {
		t.Errorf("history entries = %d, want 1 (in-flight utterance finished)", f.history.Len())
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
