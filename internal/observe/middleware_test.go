package observe

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

const incomingTraceID = "4bf92f3577b34da6a3ce929d0e0e4736"

// testServer wraps a mux shaped like the earloop HTTP surface in Middleware.
func testServer(t *testing.T, m *Metrics) http.Handler {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /controls", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen-Trace", CorrelationID(r.Context()))
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /controls/ws", func(w http.ResponseWriter, _ *http.Request) {
		conn, _, err := http.NewResponseController(w).Hijack()
		if err != nil {
			t.Errorf("Hijack through middleware: %v", err)
			return
		}
		_, _ = conn.Write([]byte("HTTP/1.1 101 Switching Protocols\r\n\r\n"))
		_ = conn.Close()
	})
	return Middleware(m)(mux)
}

func serve(h http.Handler, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func lastSpan(t *testing.T, exp *tracetest.InMemoryExporter) tracetest.SpanStub {
	t.Helper()
	spans := exp.GetSpans()
	if len(spans) == 0 {
		t.Fatal("no spans recorded")
	}
	return spans[len(spans)-1]
}

func TestMiddleware_CorrelationID(t *testing.T) {
	exp := useTestTracer(t)
	f := newMeterFixture(t)
	h := testServer(t, f.Metrics)

	rec := serve(h, "/controls", nil)
	cid := rec.Header().Get("X-Correlation-ID")
	if len(cid) != 32 {
		t.Fatalf("X-Correlation-ID = %q, want a 32 character trace ID", cid)
	}
	if got := rec.Header().Get("X-Seen-Trace"); got != cid {
		t.Errorf("handler saw trace %q, response header says %q", got, cid)
	}
	if got := lastSpan(t, exp).SpanContext.TraceID().String(); got != cid {
		t.Errorf("span trace ID = %q, want %q", got, cid)
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	useTestTracer(t)
	f := newMeterFixture(t)
	h := testServer(t, f.Metrics)

	rec := serve(h, "/controls", http.Header{
		"Traceparent": {"00-" + incomingTraceID + "-00f067aa0ba902b7-01"},
	})
	if got := rec.Header().Get("X-Seen-Trace"); got != incomingTraceID {
		t.Errorf("handler trace = %q, want %q", got, incomingTraceID)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != incomingTraceID {
		t.Errorf("X-Correlation-ID = %q, want %q", got, incomingTraceID)
	}
}

func TestMiddleware_SpanNamedByRoute(t *testing.T) {
	tests := []struct {
		target string
		name   string
		status int64
	}{
		{"/controls", "HTTP GET /controls", http.StatusOK},
		{"/no/such/thing", "HTTP " + unmatchedRoute, http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.target, func(t *testing.T) {
			exp := useTestTracer(t)
			f := newMeterFixture(t)

			serve(testServer(t, f.Metrics), tc.target, nil)

			span := lastSpan(t, exp)
			if span.Name != tc.name {
				t.Errorf("span name = %q, want %q", span.Name, tc.name)
			}
			if v, ok := attrValue(span.Attributes, "http.response.status_code"); !ok || v.AsInt64() != tc.status {
				t.Errorf("status attribute = %d, want %d", v.AsInt64(), tc.status)
			}
		})
	}
}

func TestMiddleware_RecordsDurationByRoute(t *testing.T) {
	useTestTracer(t)
	f := newMeterFixture(t)
	h := testServer(t, f.Metrics)

	serve(h, "/controls", nil)
	serve(h, "/controls", nil)
	serve(h, "/healthz", nil)

	counts := f.observations(t, "earloop.http.request.duration", "route")
	if counts["GET /controls"] != 2 || counts["GET /healthz"] != 1 {
		t.Errorf("counts by route = %v, want 2 controls and 1 healthz", counts)
	}
}

func TestMiddleware_HijackPassesThrough(t *testing.T) {
	exp := useTestTracer(t)
	f := newMeterFixture(t)
	h := testServer(t, f.Metrics)

	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(done)
		h.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	if resp, err := http.Get(srv.URL + "/controls/ws"); err == nil {
		_ = resp.Body.Close()
	}
	<-done

	if v, _ := attrValue(lastSpan(t, exp).Attributes, "http.response.status_code"); v.AsInt64() != http.StatusSwitchingProtocols {
		t.Errorf("status attribute = %d, want 101", v.AsInt64())
	}
}

func TestQuietRoute(t *testing.T) {
	tests := []struct {
		route string
		want  bool
	}{
		{"GET /metrics", true},
		{"GET /healthz", true},
		{"GET /readyz", true},
		{"GET /controls", false},
		{"GET /controls/ws", false},
		{unmatchedRoute, false},
	}
	for _, tc := range tests {
		if got := quietRoute(tc.route); got != tc.want {
			t.Errorf("quietRoute(%q) = %v, want %v", tc.route, got, tc.want)
		}
	}
}
