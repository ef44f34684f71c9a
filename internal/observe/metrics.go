// Package observe provides the observability primitives for parley:
// OpenTelemetry metrics, tracing, trace-aware logging and HTTP middleware.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported
// for scraping by the Prometheus bridge set up in [InitProvider]. A
// package-level [DefaultMetrics] instance exists for convenience; tests should
// use [NewMetrics] with their own [metric.MeterProvider].
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all parley metrics.
const meterName = "github.com/MrWong99/parley"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Capture ---

	// CaptureFrames counts capture ticks by outcome. Attribute:
	//   attribute.String("result", "sent"|"muted"|"dropped")
	CaptureFrames metric.Int64Counter

	// --- Playback ---

	// PlaybackUnits counts units handed to the scheduler. Attribute:
	//   attribute.String("source", "live"|"stream")
	PlaybackUnits metric.Int64Counter

	// PlaybackSeconds sums the scheduled audio duration.
	PlaybackSeconds metric.Float64Counter

	// PlaybackInterrupts counts scheduler interrupts. Attribute:
	//   attribute.String("reason", ...)
	PlaybackInterrupts metric.Int64Counter

	// PlaybackStopped counts handles cancelled by interrupts.
	PlaybackStopped metric.Int64Counter

	// ScheduleLag records how far in the future a unit was scheduled,
	// which is the queued audio ahead of it.
	ScheduleLag metric.Float64Histogram

	// --- Demuxer ---

	// DemuxResyncBytes counts bytes skipped while searching for a container.
	DemuxResyncBytes metric.Int64Counter

	// DemuxDroppedTailBytes counts incomplete trailing bytes dropped at
	// end of stream.
	DemuxDroppedTailBytes metric.Int64Counter

	// --- Providers ---

	// ProviderLatency tracks connect and first-byte latency. Attributes:
	//   attribute.String("provider", ...), attribute.String("op", ...)
	ProviderLatency metric.Float64Histogram

	// ProviderErrors counts provider failures. Attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Attributes:
	//   attribute.String("provider", ...), attribute.String("to", ...)
	BreakerTransitions metric.Int64Counter

	// --- Sessions ---

	// ActiveSessions tracks the number of running live sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// network round trips.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// lagBuckets covers queued playback from nothing to half a minute.
var lagBuckets = []float64{
	0, 0.02, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.CaptureFrames, err = m.Int64Counter("parley.capture.frames",
		metric.WithDescription("Capture ticks by outcome."),
	); err != nil {
		return nil, err
	}

	if met.PlaybackUnits, err = m.Int64Counter("parley.playback.units",
		metric.WithDescription("Audio units scheduled for playback by source."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackSeconds, err = m.Float64Counter("parley.playback.duration",
		metric.WithDescription("Total scheduled audio."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.PlaybackInterrupts, err = m.Int64Counter("parley.playback.interrupts",
		metric.WithDescription("Playback interrupts by reason."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackStopped, err = m.Int64Counter("parley.playback.stopped_units",
		metric.WithDescription("Scheduled units cancelled by interrupts."),
	); err != nil {
		return nil, err
	}
	if met.ScheduleLag, err = m.Float64Histogram("parley.playback.schedule_lag",
		metric.WithDescription("Delay between scheduling a unit and its start."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(lagBuckets...),
	); err != nil {
		return nil, err
	}

	if met.DemuxResyncBytes, err = m.Int64Counter("parley.demux.resync_bytes",
		metric.WithDescription("Bytes skipped while resynchronising on container magic."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.DemuxDroppedTailBytes, err = m.Int64Counter("parley.demux.dropped_tail_bytes",
		metric.WithDescription("Incomplete trailing bytes dropped at end of stream."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	if met.ProviderLatency, err = m.Float64Histogram("parley.provider.latency",
		metric.WithDescription("Provider connect and first-byte latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("parley.provider.errors",
		metric.WithDescription("Provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("parley.provider.breaker_transitions",
		metric.WithDescription("Circuit breaker state changes by provider and target state."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("parley.sessions.active",
		metric.WithDescription("Number of running live sessions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("parley.http.request.duration",
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
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordCaptureFrame counts one capture tick outcome.
func (m *Metrics) RecordCaptureFrame(ctx context.Context, result string) {
	m.CaptureFrames.Add(ctx, 1, metric.WithAttributes(Attr("result", result)))
}

// RecordScheduled records one scheduled unit.
func (m *Metrics) RecordScheduled(ctx context.Context, source string, lag, dur time.Duration) {
	m.PlaybackUnits.Add(ctx, 1, metric.WithAttributes(Attr("source", source)))
	m.PlaybackSeconds.Add(ctx, dur.Seconds())
	m.ScheduleLag.Record(ctx, lag.Seconds())
}

// RecordInterrupt records one scheduler interrupt and the handles it stopped.
func (m *Metrics) RecordInterrupt(ctx context.Context, reason string, stopped int) {
	m.PlaybackInterrupts.Add(ctx, 1, metric.WithAttributes(Attr("reason", reason)))
	if stopped > 0 {
		m.PlaybackStopped.Add(ctx, int64(stopped), metric.WithAttributes(Attr("reason", reason)))
	}
}

// RecordDemux adds demuxer byte counters. Zero values are skipped.
func (m *Metrics) RecordDemux(ctx context.Context, resyncBytes, droppedTailBytes int64) {
	if resyncBytes > 0 {
		m.DemuxResyncBytes.Add(ctx, resyncBytes)
	}
	if droppedTailBytes > 0 {
		m.DemuxDroppedTailBytes.Add(ctx, droppedTailBytes)
	}
}

// RecordProviderLatency records one provider round trip.
func (m *Metrics) RecordProviderLatency(ctx context.Context, provider, op string, d time.Duration) {
	m.ProviderLatency.Record(ctx, d.Seconds(),
		metric.WithAttributes(Attr("provider", provider), Attr("op", op)),
	)
}

// RecordProviderError counts one provider error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(Attr("provider", provider), Attr("kind", kind)),
	)
}

// RecordBreakerTransition counts one circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, to string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(Attr("provider", provider), Attr("to", to)),
	)
}
