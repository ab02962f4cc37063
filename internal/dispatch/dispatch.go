// Package dispatch hands finished utterances to the processing stages.
//
// Every utterance passes through the same fixed chain:
//
//  1. Denoise: noise suppression on the raw PCM.
//  2. Transcribe: speech recognition. A blank transcript ends the chain
//     early; that is a normal outcome, not an error.
//  3. Translate: machine translation into the session's target language.
//  4. Speak: synthesis and blocking playback.
//
// A stage failure is reported and ends the chain for that utterance only. The
// next utterance starts from a clean slate.
//
// A [Dispatcher] serves one capture session. [Dispatcher.Run] is the single
// worker: it consumes utterances strictly in emission order, and because
// speaking blocks, playback of two utterances never overlaps.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voxlate/internal/history"
	"github.com/MrWong99/voxlate/internal/observe"
	"github.com/MrWong99/voxlate/internal/segment"
	"github.com/MrWong99/voxlate/internal/ui"
	"github.com/MrWong99/voxlate/pkg/provider/denoise"
	"github.com/MrWong99/voxlate/pkg/provider/stt"
	"github.com/MrWong99/voxlate/pkg/provider/translate"
	"github.com/MrWong99/voxlate/pkg/provider/tts"
)

// Stages bundles the providers of the processing chain. Denoiser may be nil,
// in which case audio is passed through unchanged.
type Stages struct {
	Denoiser    denoise.Suppressor
	Transcriber stt.Transcriber
	Translator  translate.Translator
	Speaker     tts.Speaker
}

// Session is the per-session configuration snapshot taken at start.
type Session struct {
	// ID identifies the capture session in history and logs.
	ID string

	// Target is the translation target for every utterance of the session.
	Target translate.Target

	// SampleRate is the capture sample rate of the utterance PCM.
	SampleRate int
}

// Recorder persists utterance audio.
type Recorder interface {
	Save(id string, pcm []int16, sampleRate int) (string, error)
}

// Result describes what happened to one utterance.
type Result struct {
	// ID is the utterance ID.
	ID string

	// Transcript is the trimmed recognized text.
	Transcript string

	// Translation is the translated text. Empty when translation did not run.
	Translation string

	// Latency is the wall-clock time from the start of dispatch to the end of
	// the last stage that ran.
	Latency time.Duration

	// Spoken reports whether the speak stage completed.
	Spoken bool

	// Skipped reports that the utterance was shorter than the minimum length
	// and no stage ran.
	Skipped bool

	// FailedStage names the failing stage, or "" when no stage failed.
	FailedStage string

	// Err is the stage error, if any.
	Err error
}

// Outcome classifies the result for metrics.
func (r Result) Outcome() string {
	switch {
	case r.Skipped:
		return observe.OutcomeSkipped
	case r.Err != nil:
		return observe.OutcomeFailed
	case r.Spoken:
		return observe.OutcomeSpoken
	default:
		return observe.OutcomeSilent
	}
}

// Option configures a [Dispatcher].
type Option func(*Dispatcher)

// WithSink sets the presentation sink. Defaults to [ui.Nop].
func WithSink(s ui.Sink) Option {
	return func(d *Dispatcher) { d.sink = s }
}

// WithHistory appends a [history.Entry] for every dispatched utterance.
func WithHistory(h history.Store) Option {
	return func(d *Dispatcher) { d.history = h }
}

// WithRecorder saves the denoised audio of every utterance.
func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

// WithMetrics sets the metric instruments. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithMinUtterance drops utterances whose audio is shorter than dur before
// any stage runs. Zero processes every utterance.
func WithMinUtterance(dur time.Duration) Option {
	return func(d *Dispatcher) { d.minUtterance = dur }
}

// Dispatcher runs the processing chain for one session.
type Dispatcher struct {
	stages  Stages
	session Session

	sink         ui.Sink
	history      history.Store
	recorder     Recorder
	metrics      *observe.Metrics
	minUtterance time.Duration
}

// New validates stages and sess and returns a Dispatcher.
func New(stages Stages, sess Session, opts ...Option) (*Dispatcher, error) {
	var errs []error
	if stages.Transcriber == nil {
		errs = append(errs, errors.New("transcriber is required"))
	}
	if stages.Translator == nil {
		errs = append(errs, errors.New("translator is required"))
	}
	if stages.Speaker == nil {
		errs = append(errs, errors.New("speaker is required"))
	}
	if sess.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample rate must be positive, got %d", sess.SampleRate))
	}
	if sess.Target.IsZero() {
		errs = append(errs, translate.ErrNoTarget)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}
	if stages.Denoiser == nil {
		stages.Denoiser = denoise.Passthrough{}
	}

	d := &Dispatcher{
		stages:  stages,
		session: sess,
		sink:    ui.Nop{},
	}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	return d, nil
}

// Session returns the configuration snapshot the dispatcher was built with.
func (d *Dispatcher) Session() Session { return d.session }

// Run dispatches utterances from in, one at a time and in order, until in is
// closed. It returns nil once in is closed and drained, or ctx.Err() if ctx
// is cancelled first. An utterance that is in flight when ctx is cancelled
// sees the cancellation through its stage calls.
func (d *Dispatcher) Run(ctx context.Context, in <-chan segment.Utterance) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-in:
			if !ok {
				return nil
			}
			d.Dispatch(ctx, u)
		}
	}
}

// ─── Single utterance ─────────────────────────────────────────────────────────

// Dispatch runs the full chain for u and reports the result to the sink,
// metrics and history.
func (d *Dispatcher) Dispatch(ctx context.Context, u segment.Utterance) Result {
	res := Result{ID: u.ID}
	audioDur := u.Duration(d.session.SampleRate)

	if d.minUtterance > 0 && audioDur < d.minUtterance {
		res.Skipped = true
		slog.Debug("dispatch: utterance below minimum length, dropped",
			"utterance_id", u.ID, "duration", audioDur, "min", d.minUtterance)
		d.metrics.RecordUtterance(ctx, res.Outcome(), 0)
		return res
	}

	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "dispatch.utterance",
		trace.WithAttributes(
			attribute.String("utterance.id", u.ID),
			attribute.Int("utterance.frames", u.Frames),
			attribute.String("target", d.session.Target.String()),
		),
	)
	log := observe.Logger(ctx).With("utterance_id", u.ID)

	d.chain(ctx, u, &res, log)

	res.Latency = time.Since(start)
	span.SetAttributes(attribute.String("outcome", res.Outcome()))
	observe.EndSpan(span, res.Err)

	d.sink.Latency(u.ID, res.Latency)
	d.metrics.RecordUtterance(ctx, res.Outcome(), res.Latency)
	log.Info("utterance dispatched",
		"outcome", res.Outcome(),
		"audio", audioDur,
		"latency", res.Latency,
	)

	if d.history != nil {
		entry := history.Entry{
			ID:            u.ID,
			SessionID:     d.session.ID,
			Started:       u.Started,
			AudioDuration: audioDur,
			Transcript:    res.Transcript,
			Translation:   res.Translation,
			Target:        d.session.Target.String(),
			Latency:       res.Latency,
			FailedStage:   res.FailedStage,
		}
		if res.Err != nil {
			entry.Error = res.Err.Error()
		}
		if err := d.history.Append(ctx, entry); err != nil {
			log.Warn("dispatch: history append failed", "err", err)
		}
	}
	return res
}

// chain runs the stages in order, stopping at the first failure or at a
// blank transcript.
func (d *Dispatcher) chain(ctx context.Context, u segment.Utterance, res *Result, log *slog.Logger) {
	fail := func(stage string, err error) {
		res.FailedStage = stage
		res.Err = fmt.Errorf("dispatch: %s: %w", stage, err)
		log.Error("dispatch: stage failed", "stage", stage, "err", err)
		d.sink.Error(u.ID, stage, err)
	}

	var clean []int16
	if err := d.stage(ctx, observe.StageDenoise, func(ctx context.Context) error {
		var err error
		clean, err = d.stages.Denoiser.Denoise(ctx, u.PCM, d.session.SampleRate)
		return err
	}); err != nil {
		fail(observe.StageDenoise, err)
		return
	}
	d.record(u.ID, clean, log)

	if err := d.stage(ctx, observe.StageTranscribe, func(ctx context.Context) error {
		text, err := d.stages.Transcriber.Transcribe(ctx, clean, d.session.SampleRate)
		res.Transcript = strings.TrimSpace(text)
		return err
	}); err != nil {
		fail(observe.StageTranscribe, err)
		return
	}
	if res.Transcript == "" {
		log.Debug("dispatch: empty transcript, skipping translation")
		return
	}
	d.sink.Recognized(u.ID, res.Transcript)

	if err := d.stage(ctx, observe.StageTranslate, func(ctx context.Context) error {
		text, err := d.stages.Translator.Translate(ctx, res.Transcript, d.session.Target)
		res.Translation = strings.TrimSpace(text)
		return err
	}); err != nil {
		fail(observe.StageTranslate, err)
		return
	}
	d.sink.Translated(u.ID, res.Translation)

	if err := d.stage(ctx, observe.StageSpeak, func(ctx context.Context) error {
		return d.stages.Speaker.Speak(ctx, res.Translation)
	}); err != nil {
		fail(observe.StageSpeak, err)
		return
	}
	res.Spoken = true
}

// stage runs fn inside a child span and records its duration.
func (d *Dispatcher) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := observe.StartSpan(ctx, "dispatch."+name)
	start := time.Now()
	err := fn(ctx)
	d.metrics.RecordStage(ctx, name, time.Since(start))
	observe.EndSpan(span, err)
	return err
}

func (d *Dispatcher) record(id string, pcm []int16, log *slog.Logger) {
	if d.recorder == nil || len(pcm) == 0 {
		return
	}
	path, err := d.recorder.Save(id, pcm, d.session.SampleRate)
	if err != nil {
		log.Warn("dispatch: recording failed", "err", err)
		return
	}
	log.Debug("dispatch: utterance recorded", "path", path)
}
