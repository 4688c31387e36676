// Package observe provides application-wide observability primitives for
// speechwire: OpenTelemetry metrics, distributed tracing, structured
// logging helpers, and a bridge that folds the SDK's diagnostic events
// into metric instruments.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all speechwire
// metrics.
const meterName = "github.com/cadenhq/speechwire"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ConnectDuration tracks websocket connection establishment latency.
	ConnectDuration metric.Float64Histogram

	// TurnDuration tracks end-to-end recognition turn latency, from
	// trigger to turn end.
	TurnDuration metric.Float64Histogram

	// --- Counters ---

	// FramesSent counts outbound protocol frames. Use with attribute:
	//   attribute.String("path", ...)
	FramesSent metric.Int64Counter

	// FramesReceived counts inbound protocol frames by path.
	FramesReceived metric.Int64Counter

	// AudioBytesSent counts uploaded audio payload bytes.
	AudioBytesSent metric.Int64Counter

	// --- Error counters ---

	// ConnectionFailures counts failed connection attempts.
	ConnectionFailures metric.Int64Counter

	// AudioSourceErrors counts audio capture failures.
	AudioSourceErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveConnections tracks the number of open websocket connections.
	ActiveConnections metric.Int64UpDownCounter

	// ActiveSessions tracks the number of recognition turns in flight.
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for streaming-recognition latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ConnectDuration, err = m.Float64Histogram("speechwire.connect.duration",
		metric.WithDescription("Latency of websocket connection establishment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("speechwire.turn.duration",
		metric.WithDescription("End-to-end recognition turn latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesSent, err = m.Int64Counter("speechwire.frames.sent",
		metric.WithDescription("Total outbound protocol frames by path."),
	); err != nil {
		return nil, err
	}
	if met.FramesReceived, err = m.Int64Counter("speechwire.frames.received",
		metric.WithDescription("Total inbound protocol frames by path."),
	); err != nil {
		return nil, err
	}
	if met.AudioBytesSent, err = m.Int64Counter("speechwire.audio.bytes_sent",
		metric.WithDescription("Total uploaded audio payload bytes."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ConnectionFailures, err = m.Int64Counter("speechwire.connection.failures",
		metric.WithDescription("Total failed connection attempts."),
	); err != nil {
		return nil, err
	}
	if met.AudioSourceErrors, err = m.Int64Counter("speechwire.audio_source.errors",
		metric.WithDescription("Total audio capture failures."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveConnections, err = m.Int64UpDownCounter("speechwire.active_connections",
		metric.WithDescription("Number of open websocket connections."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("speechwire.active_sessions",
		metric.WithDescription("Number of recognition turns in flight."),
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

// RecordFrameSent records one outbound frame on the given path.
func (m *Metrics) RecordFrameSent(ctx context.Context, path string) {
	m.FramesSent.Add(ctx, 1,
		metric.WithAttributes(attribute.String("path", path)),
	)
}

// RecordFrameReceived records one inbound frame on the given path.
func (m *Metrics) RecordFrameReceived(ctx context.Context, path string) {
	m.FramesReceived.Add(ctx, 1,
		metric.WithAttributes(attribute.String("path", path)),
	)
}

// RecordConnectionFailure records one failed connection attempt with the
// pseudo-HTTP status the attempt ended with.
func (m *Metrics) RecordConnectionFailure(ctx context.Context, status string) {
	m.ConnectionFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}
