package observe

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// statusWriter captures the status code the downstream handler writes.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the underlying writer to [http.ResponseController].
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Middleware returns the HTTP instrumentation wrapper. Each request joins the
// W3C trace from its headers (or starts a fresh one), answers with the trace
// ID in X-Correlation-ID, and on the way out records its duration to
// [Metrics.HTTPRequestDuration], stamps the response status on the span and
// logs one completion line. Completion is recorded in a defer, so a panicking
// handler still leaves a closed span and a counted request behind.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := Tracer().Start(ctx, "HTTP "+r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			if cid := CorrelationID(ctx); cid != "" {
				w.Header().Set("X-Correlation-ID", cid)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
			defer func() {
				elapsed := time.Since(start)
				span.SetAttributes(semconv.HTTPResponseStatusCode(sw.code))
				m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
					metric.WithAttributes(
						attribute.String("method", r.Method),
						attribute.String("path", r.URL.Path),
					),
				)
				slog.LogAttrs(ctx, slog.LevelInfo, "request completed",
					slog.String("trace_id", CorrelationID(ctx)),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.Int("status", sw.code),
					slog.Duration("duration", elapsed),
				)
			}()

			next.ServeHTTP(sw, r.WithContext(ctx))
		})
	}
}
