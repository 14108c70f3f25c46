// Package observe provides application-wide observability primitives for
// Parley: OpenTelemetry metrics with a Prometheus exporter bridge, wired
// through [InitProvider] so metrics stay scrapeable via the standard /metrics
// endpoint.
//
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Parley metrics.
const meterName = "github.com/parley-ai/parley"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// SynthesisDuration tracks text-to-speech synthesis latency, including
	// failover across endpoints.
	SynthesisDuration metric.Float64Histogram

	// TranscriptionDuration tracks speech-to-text latency, including failover
	// across endpoints.
	TranscriptionDuration metric.Float64Histogram

	// ListenDuration tracks how long reply capture took from first frame to
	// terminal transition.
	ListenDuration metric.Float64Histogram

	// --- Counters ---

	// FailoverAttempts counts endpoint attempts. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("endpoint", ...), attribute.String("status", ...)
	FailoverAttempts metric.Int64Counter

	// EndpointErrors counts endpoint failures. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("endpoint", ...)
	EndpointErrors metric.Int64Counter

	// BargeIns counts playback interruptions by the user.
	BargeIns metric.Int64Counter

	// Exchanges counts finished conversation rounds. Use with attribute:
	//   attribute.String("reason", ...)
	Exchanges metric.Int64Counter

	// --- Gauges ---

	// ActiveConversations tracks conversation rounds currently in flight.
	ActiveConversations metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SynthesisDuration, err = m.Float64Histogram("parley.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranscriptionDuration, err = m.Float64Histogram("parley.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ListenDuration, err = m.Float64Histogram("parley.listen.duration",
		metric.WithDescription("Duration of reply capture from first frame to stop."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FailoverAttempts, err = m.Int64Counter("parley.failover.attempts",
		metric.WithDescription("Total endpoint attempts by kind, endpoint, and status."),
	); err != nil {
		return nil, err
	}
	if met.EndpointErrors, err = m.Int64Counter("parley.endpoint.errors",
		metric.WithDescription("Total endpoint failures by kind and endpoint."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("parley.barge_ins",
		metric.WithDescription("Total playback interruptions by the user."),
	); err != nil {
		return nil, err
	}
	if met.Exchanges, err = m.Int64Counter("parley.exchanges",
		metric.WithDescription("Total finished conversation rounds by terminal reason."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveConversations, err = m.Int64UpDownCounter("parley.active_conversations",
		metric.WithDescription("Number of conversation rounds currently in flight."),
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
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// RecordAttempt records one endpoint attempt with the standard attribute set.
func (m *Metrics) RecordAttempt(ctx context.Context, kind, endpoint, status string) {
	m.FailoverAttempts.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("endpoint", endpoint),
			attribute.String("status", status),
		),
	)
}

// RecordEndpointError records one endpoint failure with the standard
// attribute set.
func (m *Metrics) RecordEndpointError(ctx context.Context, kind, endpoint string) {
	m.EndpointErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("endpoint", endpoint),
		),
	)
}

// RecordExchange records one finished conversation round by terminal reason.
func (m *Metrics) RecordExchange(ctx context.Context, reason string) {
	m.Exchanges.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}
