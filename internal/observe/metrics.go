// Package observe instruments Orbis voice sessions.
//
// Session, capture and playback counters are recorded through the
// OpenTelemetry Metrics API and scraped from the telemetry listener through
// a Prometheus bridge set up by [Setup]. Connect attempts are traced with
// [StartSessionSpan], and [Endpoints] instruments the listener's own routes.
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

	"github.com/orbisvoice/orbis/pkg/audio/playback"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ConnectDuration tracks time from Connect to the remote's setup
	// acknowledgement. Use with attribute.String("status", ...).
	ConnectDuration metric.Float64Histogram

	// --- Counters ---

	// FramesSent counts outbound audio frames.
	FramesSent metric.Int64Counter

	// FramesDropped counts outbound audio frames dropped because the send
	// queue was full.
	FramesDropped metric.Int64Counter

	// ChunksScheduled counts inbound chunks handed to the output device.
	ChunksScheduled metric.Int64Counter

	// ChunksDiscarded counts inbound chunks dropped because their playback
	// generation was superseded.
	ChunksDiscarded metric.Int64Counter

	// DecodeErrors counts inbound chunks that failed to decode.
	DecodeErrors metric.Int64Counter

	// Interruptions counts barge-in events signalled by the remote.
	Interruptions metric.Int64Counter

	// --- Error counters ---

	// SessionErrors counts surfaced session errors. Use with attribute:
	//   attribute.String("kind", ...)
	SessionErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- Telemetry endpoints ---

	// TelemetryRequests counts requests to /metrics, /healthz and /readyz.
	// Use with attribute.String("route", ...) and attribute.String("code", ...).
	TelemetryRequests metric.Int64Counter

	// TelemetryDuration tracks telemetry request latency by route.
	TelemetryDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for connect latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(scopeName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ConnectDuration, err = m.Float64Histogram("orbis.session.connect.duration",
		metric.WithDescription("Latency from connect to setup acknowledgement."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesSent, err = m.Int64Counter("orbis.capture.frames_sent",
		metric.WithDescription("Total outbound audio frames."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("orbis.capture.frames_dropped",
		metric.WithDescription("Total outbound audio frames dropped on a full send queue."),
	); err != nil {
		return nil, err
	}
	if met.ChunksScheduled, err = m.Int64Counter("orbis.playback.chunks_scheduled",
		metric.WithDescription("Total inbound chunks scheduled for playback."),
	); err != nil {
		return nil, err
	}
	if met.ChunksDiscarded, err = m.Int64Counter("orbis.playback.chunks_discarded",
		metric.WithDescription("Total inbound chunks discarded as stale."),
	); err != nil {
		return nil, err
	}
	if met.DecodeErrors, err = m.Int64Counter("orbis.playback.decode_errors",
		metric.WithDescription("Total inbound chunks that failed to decode."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("orbis.session.interruptions",
		metric.WithDescription("Total barge-in interruptions."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.SessionErrors, err = m.Int64Counter("orbis.session.errors",
		metric.WithDescription("Total surfaced session errors by kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("orbis.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	// Telemetry endpoints.
	if met.TelemetryRequests, err = m.Int64Counter("orbis.telemetry.requests",
		metric.WithDescription("Total telemetry endpoint requests by route and status code."),
	); err != nil {
		return nil, err
	}
	if met.TelemetryDuration, err = m.Float64Histogram("orbis.telemetry.request.duration",
		metric.WithDescription("Telemetry endpoint latency by route."),
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

// RecordConnect records one connect attempt's latency with its outcome.
func (m *Metrics) RecordConnect(ctx context.Context, seconds float64, status string) {
	m.ConnectDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordSessionError is a convenience method that records a session error
// counter increment.
func (m *Metrics) RecordSessionError(ctx context.Context, kind string) {
	m.SessionErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// PlaybackHooks returns [playback.Hooks] that feed the playback counters.
func (m *Metrics) PlaybackHooks() playback.Hooks {
	ctx := context.Background()
	return playback.Hooks{
		OnScheduled:   func(playback.Scheduled) { m.ChunksScheduled.Add(ctx, 1) },
		OnDiscarded:   func(playback.Chunk) { m.ChunksDiscarded.Add(ctx, 1) },
		OnDecodeError: func(error) { m.DecodeErrors.Add(ctx, 1) },
	}
}
