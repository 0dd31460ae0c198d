package observe

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
)

// statusRecorder captures the status code written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Endpoints wraps the handlers of the telemetry listener. Each route gets a
// server span named after it, a request count and latency sample labelled
// with the route, and a log line. Scrapers and orchestrators poll these
// routes every few seconds, so only responses of 500 and above, which
// include a failing readiness check, log above debug.
type Endpoints struct {
	metrics *Metrics
	prop    propagation.TextMapPropagator
}

// NewEndpoints returns an Endpoints recording into m.
func NewEndpoints(m *Metrics) *Endpoints {
	return &Endpoints{metrics: m, prop: propagation.TraceContext{}}
}

// Wrap instruments next as route, e.g. "/readyz". route is a fixed label,
// never the raw request path, so unknown paths cannot grow the label set.
func (e *Endpoints) Wrap(route string, next http.Handler) http.Handler {
	spanName := "telemetry " + route
	routeAttr := attribute.String("route", route)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := e.prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := otel.Tracer(scopeName).Start(ctx, spanName,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPRoute(route),
				semconv.HTTPRequestMethodKey.String(r.Method),
			),
		)
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		elapsed := time.Since(start)
		span.SetAttributes(semconv.HTTPResponseStatusCode(rec.status))
		e.metrics.TelemetryRequests.Add(ctx, 1, metric.WithAttributes(
			routeAttr,
			attribute.String("code", strconv.Itoa(rec.status)),
		))
		e.metrics.TelemetryDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(routeAttr))

		level := slog.LevelDebug
		if rec.status >= http.StatusInternalServerError {
			level = slog.LevelWarn
			span.SetStatus(codes.Error, http.StatusText(rec.status))
		}
		slog.LogAttrs(ctx, level, "telemetry request",
			slog.String("route", route),
			slog.Int("status", rec.status),
			slog.Duration("duration", elapsed),
		)
	})
}
