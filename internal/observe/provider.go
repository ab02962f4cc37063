package observe

import (
	"context"
	"errors"
	"runtime/debug"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"

	"github.com/MrWong99/voxlate/pkg/audio"
)

const serviceName = "voxlate"

// Resource attribute keys describing the capture setup at startup.
const (
	AttrSampleRate = attribute.Key("voxlate.audio.sample_rate")
	AttrFrameMs    = attribute.Key("voxlate.audio.frame_ms")
	AttrPolicy     = attribute.Key("voxlate.queue.policy")
	attrProvider   = "voxlate.provider."
)

// ProviderConfig describes the process to the telemetry resource. The values
// are taken from the config loaded at startup; hot reloads do not update
// them.
type ProviderConfig struct {
	// Version is the service version. Empty reads the main module version
	// from the build info.
	Version string

	// Geometry is the capture frame format.
	Geometry audio.Geometry

	// Policy is the frame queue overflow policy.
	Policy string

	// Providers maps a provider kind ("stt", "translate", "tts") to the
	// name of its primary backend.
	Providers map[string]string
}

// Resource builds the telemetry resource for cfg.
func Resource(cfg ProviderConfig) (*resource.Resource, error) {
	version := cfg.Version
	if version == "" {
		version = buildVersion()
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(version),
	}
	if cfg.Geometry.SampleRate > 0 {
		attrs = append(attrs,
			AttrSampleRate.Int(cfg.Geometry.SampleRate),
			AttrFrameMs.Int64(cfg.Geometry.FrameDuration.Milliseconds()),
		)
	}
	if cfg.Policy != "" {
		attrs = append(attrs, AttrPolicy.String(cfg.Policy))
	}
	kinds := make([]string, 0, len(cfg.Providers))
	for k := range cfg.Providers {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		attrs = append(attrs, attribute.String(attrProvider+k, cfg.Providers[k]))
	}
	return resource.Merge(resource.Default(), resource.NewWithAttributes(semconv.SchemaURL, attrs...))
}

func buildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" {
		return "(devel)"
	}
	return info.Main.Version
}

// InitProvider registers the global OTel providers and returns a shutdown
// function to defer from main:
//
//   - metrics go to a Prometheus reader served on /metrics;
//   - traces are sampled but not exported. Spans exist to give every
//     utterance and HTTP request a trace ID for log correlation.
func InitProvider(_ context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	res, err := Resource(cfg)
	if err != nil {
		return nil, err
	}

	promExp, err := promexporter.New()
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExp),
	)
	otel.SetMeterProvider(mp)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		return errors.Join(mp.Shutdown(ctx), tp.Shutdown(ctx))
	}, nil
}
