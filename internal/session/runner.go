// Package session runs one capture session: it moves frames from the audio
// source through the bounded [Queue] to the classifier and the segment
// detector, and hands every finished utterance to the dispatcher.
//
// Three goroutines cooperate per session:
//
//   - the device callback, which only copies samples and calls [Queue.Push];
//   - the detection loop, which classifies frames and drives the detector;
//   - the dispatch worker, which consumes utterances in order.
//
// The detection loop checks for cancellation once per frame. Cancelling the
// capture context closes the source, discards the partial utterance and
// closes the utterance channel; the dispatch worker then finishes what was
// already emitted under its own context.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxlate/internal/observe"
	"github.com/MrWong99/voxlate/internal/segment"
	"github.com/MrWong99/voxlate/internal/ui"
	"github.com/MrWong99/voxlate/pkg/audio"
	"github.com/MrWong99/voxlate/pkg/provider/vad"
)

// DefaultUtteranceCapacity is the default depth of the utterance channel.
const DefaultUtteranceCapacity = 4

// DefaultSilenceTimeout is the default window length.
const DefaultSilenceTimeout = time.Second

// Config is the capture configuration snapshot of one session.
type Config struct {
	// Geometry fixes the frame format for source, classifier and detector.
	Geometry audio.Geometry

	// SilenceTimeout is the length of the sliding window. Its frame count is
	// SilenceTimeout / Geometry.FrameDuration, at least 1.
	SilenceTimeout time.Duration

	// QueueCapacity bounds the frame queue. Zero selects
	// [DefaultQueueCapacity].
	QueueCapacity int

	// Policy is the frame queue overflow policy.
	Policy Policy

	// UtteranceCapacity bounds the utterance channel. Zero selects
	// [DefaultUtteranceCapacity].
	UtteranceCapacity int

	// Waveform mirrors every captured frame to the UI sink.
	Waveform bool
}

// Validate checks the configuration.
func (c Config) Validate() error {
	var errs []error
	if err := c.Geometry.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.SilenceTimeout <= 0 {
		errs = append(errs, fmt.Errorf("silence timeout must be positive, got %s", c.SilenceTimeout))
	}
	if c.QueueCapacity < 0 {
		errs = append(errs, fmt.Errorf("queue capacity must not be negative, got %d", c.QueueCapacity))
	}
	if c.UtteranceCapacity < 0 {
		errs = append(errs, fmt.Errorf("utterance capacity must not be negative, got %d", c.UtteranceCapacity))
	}
	if _, err := ParsePolicy(string(c.Policy)); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("session: invalid config: %w", err)
	}
	return nil
}

// WindowCapacity returns the detector window size in frames.
func (c Config) WindowCapacity() int {
	return c.Geometry.FramesIn(c.SilenceTimeout)
}

// Dispatcher consumes utterances until in is closed.
type Dispatcher interface {
	Run(ctx context.Context, in <-chan segment.Utterance) error
}

// Option configures a [Runner].
type Option func(*Runner)

// WithSink sets the UI sink used for waveform mirroring. Defaults to
// [ui.Nop].
func WithSink(s ui.Sink) Option {
	return func(r *Runner) { r.sink = s }
}

// WithMetrics sets the metric instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// Runner owns the per-session pipeline. A Runner is single-use: build a new
// one for every start so that detector, queue and channels are fresh.
type Runner struct {
	cfg        Config
	source     audio.FrameSource
	classifier vad.Classifier
	dispatcher Dispatcher
	sink       ui.Sink
	metrics    *observe.Metrics

	queue    *Queue
	detector *segment.Detector

	started      bool
	group        *errgroup.Group
	dispatchDone chan error
}

// NewRunner validates cfg and builds a fresh queue and detector.
func NewRunner(cfg Config, src audio.FrameSource, cls vad.Classifier, disp Dispatcher, opts ...Option) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if src == nil || cls == nil || disp == nil {
		return nil, errors.New("session: source, classifier and dispatcher are required")
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyDropOldest
	}
	if cfg.UtteranceCapacity == 0 {
		cfg.UtteranceCapacity = DefaultUtteranceCapacity
	}
	r := &Runner{
		cfg:        cfg,
		source:     src,
		classifier: cls,
		dispatcher: disp,
		sink:       ui.Nop{},
	}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	r.queue = NewQueue(cfg.QueueCapacity, cfg.Policy, cfg.Geometry.FrameDuration, r.metrics)
	r.detector = segment.NewDetector(cfg.WindowCapacity())
	return r, nil
}

// Queue exposes the frame queue for inspection.
func (r *Runner) Queue() *Queue { return r.queue }

// Run is [Runner.Start] followed by [Runner.Wait].
//
// Run returns nil after a regular stop. It returns a [*audio.DeviceError]
// when the source cannot be opened, and an error wrapping
// [vad.ErrInvalidFrameGeometry] when the classifier rejects a frame.
func (r *Runner) Run(captureCtx, dispatchCtx context.Context) error {
	if err := r.Start(captureCtx, dispatchCtx); err != nil {
		return err
	}
	return r.Wait()
}

// Start opens the source and launches the detection loop and the dispatch
// worker. It returns once capture is running, or with the open error. The
// session runs until captureCtx is cancelled or a fatal error occurs;
// dispatchCtx governs the dispatch worker only, so cancelling captureCtx
// lets an in-flight utterance complete.
func (r *Runner) Start(captureCtx, dispatchCtx context.Context) error {
	if r.started {
		return errors.New("session: runner already started")
	}
	handoff := r.queue.Push
	if r.cfg.Waveform {
		handoff = audio.Mirror(handoff, r.sink.Waveform)
	}
	if err := r.source.Open(captureCtx, r.cfg.Geometry, handoff); err != nil {
		return fmt.Errorf("session: open source: %w", err)
	}
	r.started = true
	slog.Info("session: capture started",
		"geometry", r.cfg.Geometry.String(),
		"window", r.detector.Window().Cap(),
		"queue", r.queue.Cap(),
		"policy", string(r.cfg.Policy),
	)

	utterances := make(chan segment.Utterance, r.cfg.UtteranceCapacity)
	g, gctx := errgroup.WithContext(captureCtx)

	g.Go(func() error {
		<-gctx.Done()
		if err := r.source.Close(); err != nil {
			slog.Warn("session: close source", "err", err)
		}
		return nil
	})

	g.Go(func() error {
		defer close(utterances)
		return r.detect(gctx, utterances)
	})

	// The dispatch worker is not in the group: a capture error must not
	// cancel it, and it must drain the utterance channel after capture ends.
	dispatchDone := make(chan error, 1)
	go func() {
		dispatchDone <- r.dispatcher.Run(dispatchCtx, utterances)
	}()

	r.group = g
	r.dispatchDone = dispatchDone
	return nil
}

// Wait blocks until capture has stopped and the dispatch worker has drained
// the utterance channel. It must be called once after a successful Start.
func (r *Runner) Wait() error {
	if !r.started {
		return errors.New("session: runner not started")
	}
	err := r.group.Wait()
	if derr := <-r.dispatchDone; derr != nil && !errors.Is(derr, context.Canceled) {
		err = errors.Join(err, fmt.Errorf("session: dispatch: %w", derr))
	}
	if n := r.queue.Discard(); n > 0 {
		slog.Debug("session: discarded queued frames", "frames", n)
	}
	slog.Info("session: capture stopped", "dropped_frames", r.queue.Dropped())
	return err
}

// detect is the detection loop. It returns nil when ctx is cancelled and an
// error when classification fails.
func (r *Runner) detect(ctx context.Context, out chan<- segment.Utterance) error {
	for {
		f, ok := r.queue.Pop(ctx)
		if !ok {
			r.discardPartial()
			return nil
		}
		r.queue.ReportBacklog()

		speech, err := r.classifier.Classify(f.Samples)
		if err != nil {
			r.discardPartial()
			slog.Error("session: classifier rejected frame", "seq", f.Seq, "err", err)
			return fmt.Errorf("session: classify frame %d: %w", f.Seq, err)
		}

		u, done := r.detector.Push(segment.ClassifiedFrame{Frame: f, Speech: speech})
		if !done {
			continue
		}
		slog.Debug("session: utterance emitted",
			"utterance_id", u.ID,
			"frames", u.Frames,
			"first_seq", u.FirstSeq,
			"last_seq", u.LastSeq,
		)
		select {
		case out <- u:
			continue
		default:
		}
		select {
		case out <- u:
		case <-ctx.Done():
			r.metrics.RecordDroppedUtterance(context.Background())
			slog.Warn("session: stopped while handing off utterance, dropped",
				"utterance_id", u.ID,
				"frames", u.Frames,
			)
			return nil
		}
	}
}

func (r *Runner) discardPartial() {
	if n := r.detector.Reset(); n > 0 {
		slog.Debug("session: partial utterance discarded", "frames", n)
	}
}
