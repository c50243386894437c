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

// newTestTracerProvider returns a TracerProvider with an in-memory exporter
// for inspecting recorded spans.
func newTestTracerProvider(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, exp
}

// captureLogs swaps the default slog handler for one writing to the returned
// buffer, restoring the original on cleanup.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestCorrelationID_EmptyByDefault(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}
}

func TestCorrelationID_ReturnsTraceID(t *testing.T) {
	tp, _ := newTestTracerProvider(t)
	tracer := tp.Tracer("test")

	ctx, span := tracer.Start(context.Background(), "session.turn")
	defer span.End()

	cid := CorrelationID(ctx)
	if len(cid) != 32 {
		t.Errorf("correlation ID length = %d, want 32", len(cid))
	}
	for _, c := range cid {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			t.Errorf("correlation ID contains non-hex character %q", c)
			break
		}
	}
}

func TestCorrelationID_Unique(t *testing.T) {
	tp, _ := newTestTracerProvider(t)
	tracer := tp.Tracer("test")

	ids := make(map[string]struct{}, 100)
	for range 100 {
		ctx, span := tracer.Start(context.Background(), "session.turn")
		cid := CorrelationID(ctx)
		span.End()
		if _, dup := ids[cid]; dup {
			t.Fatalf("duplicate correlation ID: %s", cid)
		}
		ids[cid] = struct{}{}
	}
}

func TestTurnSpan_RecordsSessionAndTurn(t *testing.T) {
	tp, exp := newTestTracerProvider(t)

	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	ctx, span := TurnSpan(context.Background(), "sess-42", 3)
	if CorrelationID(ctx) == "" {
		t.Error("TurnSpan did not start a span with a trace ID")
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if spans[0].Name != "chat.turn" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "chat.turn")
	}
	var session string
	var turn int64
	for _, a := range spans[0].Attributes {
		switch string(a.Key) {
		case "session.id":
			session = a.Value.AsString()
		case "chat.turn":
			turn = a.Value.AsInt64()
		}
	}
	if session != "sess-42" {
		t.Errorf("session.id attribute = %q, want %q", session, "sess-42")
	}
	if turn != 3 {
		t.Errorf("chat.turn attribute = %d, want 3", turn)
	}
}

func TestEndSpan_MarksFailure(t *testing.T) {
	tp, exp := newTestTracerProvider(t)
	tracer := tp.Tracer("test")

	_, span := tracer.Start(context.Background(), "chat.turn")
	EndSpan(span, errors.New("stt unavailable"))

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("status = %v, want %v", spans[0].Status.Code, codes.Error)
	}
	if len(spans[0].Events) == 0 {
		t.Error("expected the error recorded as a span event")
	}
}

func TestEndSpan_CancellationIsNotFailure(t *testing.T) {
	tp, exp := newTestTracerProvider(t)
	tracer := tp.Tracer("test")

	_, span := tracer.Start(context.Background(), "chat.turn")
	EndSpan(span, context.Canceled)

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if spans[0].Status.Code == codes.Error {
		t.Error("cancellation must not mark the span failed")
	}
}

func TestEndSpan_CleanTurn(t *testing.T) {
	tp, exp := newTestTracerProvider(t)
	tracer := tp.Tracer("test")

	_, span := tracer.Start(context.Background(), "chat.turn")
	EndSpan(span, nil)

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if spans[0].Status.Code == codes.Error {
		t.Error("nil error must not mark the span failed")
	}
	if len(spans[0].Events) != 0 {
		t.Errorf("clean turn recorded %d events, want 0", len(spans[0].Events))
	}
}

func TestLogger_IncludesTraceAndSpanIDs(t *testing.T) {
	tp, _ := newTestTracerProvider(t)
	tracer := tp.Tracer("test")
	buf := captureLogs(t)

	ctx, span := tracer.Start(context.Background(), "session.turn")
	defer span.End()

	Logger(ctx).Info("turn complete")

	logged := buf.String()
	if !strings.Contains(logged, "trace_id=") {
		t.Errorf("log output missing trace_id, got: %s", logged)
	}
	if !strings.Contains(logged, "span_id=") {
		t.Errorf("log output missing span_id, got: %s", logged)
	}
}

func TestLogger_NoSpan(t *testing.T) {
	buf := captureLogs(t)

	Logger(context.Background()).Info("turn complete")

	if logged := buf.String(); strings.Contains(logged, "trace_id") {
		t.Errorf("log output should not contain trace_id, got: %s", logged)
	}
}

func TestTracer_ReturnsValidTracer(t *testing.T) {
	if Tracer() == nil {
		t.Fatal("Tracer() returned nil")
	}
}
