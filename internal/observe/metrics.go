// Package observe provides application-wide observability primitives for
// audioscope: OpenTelemetry metrics, tracing, and HTTP middleware that ties
// them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all audioscope metrics.
const meterName = "github.com/apetrei/audioscope"

// Metrics holds all OpenTelemetry metric instruments for the gateway.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// FramesProcessed counts producer frames that decoded and analysed
	// successfully.
	FramesProcessed metric.Int64Counter

	// MalformedFrames counts frames dropped during decode. Use with
	// attribute.String("reason", ...).
	MalformedFrames metric.Int64Counter

	// DroppedUpdates counts consumer-queue messages discarded by the
	// drop-oldest overflow policy.
	DroppedUpdates metric.Int64Counter

	// ProducerSessions counts producer session terminations. Use with
	// attribute.String("reason", ...).
	ProducerSessions metric.Int64Counter

	// AnalyzeDuration tracks per-frame signal analysis latency.
	AnalyzeDuration metric.Float64Histogram

	// BroadcastDuration tracks how long one fan-out over all consumer
	// queues takes. This is queue-enqueue time only, never network time.
	BroadcastDuration metric.Float64Histogram

	// ActiveConsumers tracks the number of connected consumers.
	ActiveConsumers metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// per-frame processing, which should sit well under a millisecond.
var latencyBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesProcessed, err = m.Int64Counter("audioscope.frames.processed",
		metric.WithDescription("Total producer frames decoded and analysed."),
	); err != nil {
		return nil, err
	}
	if met.MalformedFrames, err = m.Int64Counter("audioscope.frames.malformed",
		metric.WithDescription("Total frames dropped during decode by reason."),
	); err != nil {
		return nil, err
	}
	if met.DroppedUpdates, err = m.Int64Counter("audioscope.updates.dropped",
		metric.WithDescription("Consumer queue messages discarded by the drop-oldest policy."),
	); err != nil {
		return nil, err
	}
	if met.ProducerSessions, err = m.Int64Counter("audioscope.producer.sessions",
		metric.WithDescription("Producer session terminations by reason."),
	); err != nil {
		return nil, err
	}

	if met.AnalyzeDuration, err = m.Float64Histogram("audioscope.analyze.duration",
		metric.WithDescription("Per-frame signal analysis latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.BroadcastDuration, err = m.Float64Histogram("audioscope.broadcast.duration",
		metric.WithDescription("Fan-out enqueue latency across all consumer queues."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.ActiveConsumers, err = m.Int64UpDownCounter("audioscope.active_consumers",
		metric.WithDescription("Number of currently connected consumers."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("audioscope.http.request.duration",
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
