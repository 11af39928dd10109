package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope for Voxa spans.
const tracerName = "github.com/MrWong99/voxa"

// Span attribute keys used across the command loop.
const (
	KeyIntent    = attribute.Key("voxa.intent")
	KeyProvider  = attribute.Key("voxa.provider")
	KeyUtterance = attribute.Key("voxa.utterance_id")
	KeyCode      = attribute.Key("voxa.error_code")
)

// StartSpan starts a span on the Voxa tracer. The caller must End it,
// usually through [EndSpan].
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan ends span. A non-empty code marks the span as failed and is
// recorded under [KeyCode]; codes are the platform's error codes, so an
// interrupted utterance ends with "interrupted".
func EndSpan(span trace.Span, code string) {
	if code != "" {
		span.SetAttributes(KeyCode.String(code))
		span.SetStatus(codes.Error, code)
	}
	span.End()
}

// CorrelationID returns the trace ID of the span in ctx, or "".
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns slog.Default with trace_id and span_id attached when ctx
// carries a span.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
