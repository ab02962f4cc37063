// Package observe provides application-wide observability primitives for
// voxlate: OpenTelemetry metrics, tracing, structured logging helpers, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so they can be scraped via
// the standard /metrics endpoint. [DefaultMetrics] returns a package-level
// instance bound to the global provider; tests should use [NewMetrics] with a
// custom [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxlate metrics.
const meterName = "github.com/MrWong99/voxlate"

// Pipeline stage names used as the "stage" attribute.
const (
	StageDenoise    = "denoise"
	StageTranscribe = "transcribe"
	StageTranslate  = "translate"
	StageSpeak      = "speak"
)

// Utterance outcomes used as the "outcome" attribute.
const (
	OutcomeSpoken  = "spoken"
	OutcomeSilent  = "silent"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// StageDuration tracks per-stage latency, attribute "stage".
	StageDuration metric.Float64Histogram

	// UtteranceLatency tracks end-to-end dispatch latency per utterance.
	UtteranceLatency metric.Float64Histogram

	// Utterances counts dispatched utterances, attribute "outcome".
	Utterances metric.Int64Counter

	// UtterancesDropped counts finished utterances lost because capture
	// stopped while the utterance channel was full.
	UtterancesDropped metric.Int64Counter

	// FramesDropped counts frames discarded by the capture queue, attribute
	// "policy".
	FramesDropped metric.Int64Counter

	// QueueDepth tracks the number of frames waiting for classification.
	QueueDepth metric.Int64UpDownCounter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// ActiveSessions tracks whether a capture session is running (0 or 1).
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for model
// inference and playback, which range from tens of milliseconds to several
// seconds.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.StageDuration, err = m.Float64Histogram("voxlate.stage.duration",
		metric.WithDescription("Latency of a single dispatch stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.UtteranceLatency, err = m.Float64Histogram("voxlate.utterance.latency",
		metric.WithDescription("Wall-clock time from dispatch start to the end of the last stage that ran."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Utterances, err = m.Int64Counter("voxlate.utterances",
		metric.WithDescription("Dispatched utterances by outcome."),
	); err != nil {
		return nil, err
	}
	if met.UtterancesDropped, err = m.Int64Counter("voxlate.utterances.dropped",
		metric.WithDescription("Finished utterances discarded at stop before reaching the dispatcher."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("voxlate.frames.dropped",
		metric.WithDescription("Captured frames discarded because the detector fell behind."),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64UpDownCounter("voxlate.queue.depth",
		metric.WithDescription("Frames waiting for classification."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("voxlate.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("voxlate.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxlate.sessions.active",
		metric.WithDescription("Number of running capture sessions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("voxlate.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Call it only after [InitProvider] so the Prometheus bridge is in
// place. Panics if instrument creation fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordStage records the duration of one dispatch stage.
func (m *Metrics) RecordStage(ctx context.Context, stage string, d time.Duration) {
	m.StageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordUtterance records the end-to-end latency and outcome of one utterance.
func (m *Metrics) RecordUtterance(ctx context.Context, outcome string, latency time.Duration) {
	m.UtteranceLatency.Record(ctx, latency.Seconds())
	m.Utterances.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordDroppedUtterance counts one finished utterance lost at stop.
func (m *Metrics) RecordDroppedUtterance(ctx context.Context) {
	m.UtterancesDropped.Add(ctx, 1)
}

// RecordDroppedFrames adds n to the dropped frame counter.
func (m *Metrics) RecordDroppedFrames(ctx context.Context, policy string, n int64) {
	m.FramesDropped.Add(ctx, n, metric.WithAttributes(attribute.String("policy", policy)))
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// ProviderAttempt returns a callback that records the outcome of one provider
// call under kind. Suitable for resilience.FallbackConfig.OnAttempt.
func (m *Metrics) ProviderAttempt(kind string) func(provider string, err error) {
	return func(provider string, err error) {
		ctx := context.Background()
		status := "ok"
		if err != nil {
			status = "error"
			m.RecordProviderError(ctx, provider, kind)
		}
		m.RecordProviderRequest(ctx, provider, kind, status)
	}
}
