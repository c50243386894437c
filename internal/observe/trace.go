package observe

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for all spans.
const tracerName = "github.com/moshi-chat/moshi"

// Tracer returns the package-level [trace.Tracer], backed by the globally
// registered [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// TurnSpan starts the span covering one conversation turn — listen,
// transcribe, think, speak — tagged with the session and the turn index.
// End it with [EndSpan].
func TurnSpan(ctx context.Context, sessionID string, turn int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "chat.turn",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.Int("chat.turn", turn),
		),
	)
}

// EndSpan completes span, marking it failed when err reports a real failure.
// Cancellation is the normal end of a session, not an error.
func EndSpan(span trace.Span, err error) {
	if err != nil && !errors.Is(err, context.Canceled) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// CorrelationID returns the trace ID of the active span in ctx, or the empty
// string outside any trace. Clients see it as the X-Correlation-ID header.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default [slog.Logger] carrying the trace_id and span_id
// of the active span in ctx, so pipeline logs line up with their trace.
// Outside any span it is the plain default logger.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
