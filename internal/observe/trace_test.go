package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTestTracer installs a TracerProvider with an in-memory exporter as the
// global provider for the duration of the test.
func useTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })
	return exp
}

func TestStartSessionSpan_TagsSession(t *testing.T) {
	exp := useTestTracer(t)

	_, span := StartSessionSpan(context.Background(), "session.connect", "4f1c", "gemini-test")
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Name != "session.connect" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	got := map[string]string{}
	for _, a := range spans[0].Attributes {
		got[string(a.Key)] = a.Value.AsString()
	}
	if got["session.id"] != "4f1c" || got["live.model"] != "gemini-test" {
		t.Errorf("attributes = %v", got)
	}
}

func TestFailSpan(t *testing.T) {
	exp := useTestTracer(t)

	_, ok := StartSessionSpan(context.Background(), "session.connect", "a", "m")
	FailSpan(ok, nil)
	ok.End()

	_, failed := StartSessionSpan(context.Background(), "session.connect", "b", "m")
	FailSpan(failed, errors.New("handshake rejected"))
	failed.End()

	spans := exp.GetSpans()
	if spans[0].Status.Code == codes.Error {
		t.Error("nil error marked the span failed")
	}
	if spans[1].Status.Code != codes.Error || spans[1].Status.Description != "handshake rejected" {
		t.Errorf("status = %+v, want error with description", spans[1].Status)
	}
	if len(spans[1].Events) != 1 {
		t.Errorf("events = %d, want the recorded error", len(spans[1].Events))
	}
}

func TestSessionLogger_CarriesTraceOfConnect(t *testing.T) {
	useTestTracer(t)
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	ctx, span := StartSessionSpan(context.Background(), "session.connect", "4f1c", "m")
	defer span.End()

	SessionLogger(ctx, base, "4f1c").Info("session active")

	logged := buf.String()
	for _, want := range []string{"session_id=4f1c", "trace_id=" + span.SpanContext().TraceID().String(), "span_id="} {
		if !strings.Contains(logged, want) {
			t.Errorf("log missing %q: %s", want, logged)
		}
	}
}

func TestSessionLogger_NoSpan(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	SessionLogger(context.Background(), base, "4f1c").Info("session ended")

	logged := buf.String()
	if !strings.Contains(logged, "session_id=4f1c") {
		t.Errorf("log missing session_id: %s", logged)
	}
	if strings.Contains(logged, "trace_id") {
		t.Errorf("log should not carry trace_id without a span: %s", logged)
	}
}
