package observe

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

func TestInitProvider_ExportsThroughRegisterer(t *testing.T) {
	origMP, origTP := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
	})

	reg := prometheus.NewRegistry()
	shutdown, err := InitProvider(context.Background(), ProviderConfig{
		ServiceVersion: "test",
		Attributes:     []attribute.KeyValue{attribute.String("audio.backend", "pcm")},
		Registerer:     reg,
	})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	}()

	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.Chunks.Add(context.Background(), 3)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var found bool
	for _, mf := range families {
		if mf.GetName() == "earloop_loop_chunks_total" {
			found = true
			if got := mf.GetMetric()[0].GetCounter().GetValue(); got != 3 {
				t.Errorf("chunks = %v, want 3", got)
			}
		}
	}
	if !found {
		names := make([]string, 0, len(families))
		for _, mf := range families {
			names = append(names, mf.GetName())
		}
		t.Errorf("earloop_loop_chunks_total not exported; got %v", names)
	}

	if _, span := StartSpan(context.Background(), "probe"); !span.SpanContext().IsValid() {
		t.Error("global tracer provider does not record spans")
	}
}
