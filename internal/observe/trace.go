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

const tracerName = "github.com/MrWong99/earloop"

// Span names used by the processing loop.
const (
	SpanRun     = "loop.run"
	SpanAcquire = "loop.acquire"
)

// Tracer returns the earloop tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span named name. The caller must end it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartRunSpan starts the span covering one run of the processing loop on
// device. It lives from stream acquisition until both streams are released.
func StartRunSpan(ctx context.Context, device string, chunkBytes, controlInterval int) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanRun, trace.WithAttributes(
		attribute.String("audio.device", device),
		attribute.Int("audio.chunk_bytes", chunkBytes),
		attribute.Int("controls.interval_chunks", controlInterval),
	))
}

// StartAcquireSpan starts the span around opening one stream. direction is
// "input" or "output".
func StartAcquireSpan(ctx context.Context, device, direction string) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanAcquire, trace.WithAttributes(
		attribute.String("audio.device", device),
		attribute.String("audio.direction", direction),
	))
}

// Event adds a named event to the span in ctx, if any.
func Event(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// EndSpan ends span, marking it failed when err is non-nil. Cancellation is
// a normal stop and leaves the status unset.
func EndSpan(span trace.Span, err error) {
	if err != nil && !errors.Is(err, context.Canceled) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// CorrelationID returns the trace ID of the span in ctx, or "".
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// Logger returns the default logger with trace_id and span_id attached when
// ctx carries a span.
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
