package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// scopeName is the instrumentation scope for Orbis spans and instruments.
const scopeName = "github.com/orbisvoice/orbis"

// Attribute keys carried by every session span.
const (
	AttrSessionID = attribute.Key("session.id")
	AttrModel     = attribute.Key("live.model")
)

// StartSessionSpan starts a span for one step of a voice session, such as
// "session.connect", tagged with the session identifier and the live model.
// The caller must end the span.
func StartSessionSpan(ctx context.Context, name, sessionID, model string) (context.Context, trace.Span) {
	return otel.Tracer(scopeName).Start(ctx, name,
		trace.WithAttributes(
			AttrSessionID.String(sessionID),
			AttrModel.String(model),
		),
	)
}

// FailSpan marks span as failed with err. A nil err leaves the span
// untouched.
func FailSpan(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SessionLogger returns base with a session_id attribute and, when ctx
// carries a recorded span, its trace_id and span_id so log lines can be
// matched to the connect trace.
func SessionLogger(ctx context.Context, base *slog.Logger, sessionID string) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	l := base.With(slog.String("session_id", sessionID))
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
