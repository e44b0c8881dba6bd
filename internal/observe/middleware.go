package observe

import (
	"bufio"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// unmatchedRoute labels requests no mux pattern matched, keeping the route
// attribute bounded.
const unmatchedRoute = "unmatched"

// statusRecorder captures the status code written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets the knob WebSocket upgrade pass through. A hijacked connection
// is reported as 101 Switching Protocols.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	conn, rw, err := http.NewResponseController(r.ResponseWriter).Hijack()
	if err == nil {
		r.statusCode = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}

// Unwrap exposes the wrapped writer to [http.ResponseController].
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// quietRoute reports whether requests on route are logged at debug level.
// Probes and scrapes arrive every few seconds.
func quietRoute(route string) bool {
	switch route {
	case "GET /metrics", "GET /healthz", "GET /readyz":
		return true
	}
	return false
}

// route returns the mux pattern that served r. [http.ServeMux] records it on
// the request while dispatching.
func route(r *http.Request) string {
	if r.Pattern == "" {
		return unmatchedRoute
	}
	return r.Pattern
}

// Middleware wraps an HTTP handler with tracing, metrics and request logs.
// Incoming W3C trace context is continued, the trace ID is returned in the
// X-Correlation-ID header, and the request duration is recorded to
// [Metrics.HTTPRequestDuration] labelled by mux pattern rather than raw path.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := StartSpan(ctx, "HTTP "+r.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			cid := CorrelationID(ctx)
			if cid != "" {
				w.Header().Set("X-Correlation-ID", cid)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			r = r.WithContext(ctx)
			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)

			elapsed := time.Since(start)
			rt := route(r)
			span.SetName("HTTP " + rt)
			span.SetAttributes(
				semconv.HTTPRoute(rt),
				semconv.HTTPResponseStatusCode(rec.statusCode),
			)
			m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
				metric.WithAttributes(
					attribute.String("route", rt),
					attribute.Int("status", rec.statusCode),
				),
			)

			level := slog.LevelInfo
			if quietRoute(rt) {
				level = slog.LevelDebug
			}
			slog.LogAttrs(ctx, level, "request completed",
				slog.String("trace_id", cid),
				slog.String("route", rt),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.statusCode),
				slog.Duration("duration", elapsed),
			)
		})
	}
}
