// Package observe provides application-wide observability primitives:
// OpenTelemetry metrics, distributed tracing, structured logging helpers,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/moshi-chat/moshi"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Session lifecycle ---

	// SessionCount counts voice sessions started.
	SessionCount metric.Int64Counter

	// SessionDuration tracks how long sessions run, start to teardown.
	SessionDuration metric.Float64Histogram

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- Conversation loop ---

	// TurnCount counts finished turns. Use with attribute:
	//   attribute.String("outcome", ...)
	TurnCount metric.Int64Counter

	// UtteranceDuration tracks the length of detected user utterances.
	UtteranceDuration metric.Float64Histogram

	// --- Provider latencies (milliseconds, attribute "provider") ---

	// STTLatency tracks speech-to-text transcription latency.
	STTLatency metric.Float64Histogram

	// LLMLatency tracks completion latency.
	LLMLatency metric.Float64Histogram

	// TTSLatency tracks speech synthesis latency.
	TTSLatency metric.Float64Histogram

	// --- Data channel ---

	// DCMessages counts protocol lines sent to clients. Use with attribute:
	//   attribute.String("kind", ...)
	DCMessages metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBucketsMs defines histogram bucket boundaries (in milliseconds) for
// the per-provider pipeline stages.
var latencyBucketsMs = []float64{
	10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000,
}

// utteranceBucketsSeconds covers detected utterances, which the detector caps
// at around twenty seconds.
var utteranceBucketsSeconds = []float64{
	0.25, 0.5, 1, 2, 3, 5, 8, 12, 16, 20,
}

// sessionBucketsSeconds covers whole conversations, seconds to half an hour.
var sessionBucketsSeconds = []float64{
	1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Session lifecycle.
	if met.SessionCount, err = m.Int64Counter("moshi.session.count",
		metric.WithDescription("Total voice sessions started."),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("moshi.session.duration",
		metric.WithDescription("Session length from start to teardown."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBucketsSeconds...),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("moshi.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	// Conversation loop.
	if met.TurnCount, err = m.Int64Counter("moshi.turn.count",
		metric.WithDescription("Total conversation turns by outcome."),
	); err != nil {
		return nil, err
	}
	if met.UtteranceDuration, err = m.Float64Histogram("moshi.detect.utterance.duration",
		metric.WithDescription("Length of detected user utterances."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(utteranceBucketsSeconds...),
	); err != nil {
		return nil, err
	}

	// Provider latencies.
	if met.STTLatency, err = m.Float64Histogram("moshi.stt.latency",
		metric.WithDescription("Latency of speech-to-text transcription by provider."),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(latencyBucketsMs...),
	); err != nil {
		return nil, err
	}
	if met.LLMLatency, err = m.Float64Histogram("moshi.llm.latency",
		metric.WithDescription("Latency of completions by provider."),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(latencyBucketsMs...),
	); err != nil {
		return nil, err
	}
	if met.TTSLatency, err = m.Float64Histogram("moshi.tts.latency",
		metric.WithDescription("Latency of speech synthesis by provider."),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(latencyBucketsMs...),
	); err != nil {
		return nil, err
	}

	// Data channel.
	if met.DCMessages, err = m.Int64Counter("moshi.dc.messages",
		metric.WithDescription("Protocol lines sent to clients by kind."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("moshi.http.request.duration",
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// SessionStarted records a new live session.
func (m *Metrics) SessionStarted(ctx context.Context) {
	m.SessionCount.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
}

// SessionEnded records the end of a live session and its total duration.
func (m *Metrics) SessionEnded(ctx context.Context, d time.Duration) {
	m.ActiveSessions.Add(ctx, -1)
	m.SessionDuration.Record(ctx, d.Seconds())
}

// RecordTurn records one finished conversation turn with its outcome.
func (m *Metrics) RecordTurn(ctx context.Context, outcome string) {
	m.TurnCount.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordDCMessage records one protocol line sent over a data channel.
func (m *Metrics) RecordDCMessage(ctx context.Context, kind string) {
	m.DCMessages.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}
