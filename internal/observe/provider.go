package observe

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderConfig configures the OpenTelemetry SDK providers.
type ProviderConfig struct {
	// ServiceName is reported in telemetry. Default: "earloop".
	ServiceName string

	// ServiceVersion is reported in telemetry.
	ServiceVersion string

	// Attributes are added to the resource, e.g. the audio backend and
	// sample rate, so every series and span carries them.
	Attributes []attribute.KeyValue

	// TraceExporter receives finished spans. When nil, spans are recorded
	// but not exported.
	TraceExporter sdktrace.SpanExporter

	// Registerer receives the Prometheus collectors of the metric exporter.
	// Default: [prometheus.DefaultRegisterer], which promhttp.Handler serves.
	Registerer prometheus.Registerer
}

// InitProvider installs a global MeterProvider that exports through the
// Prometheus bridge and a global TracerProvider. The returned function
// flushes and closes both; call it on shutdown.
func InitProvider(ctx context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("observe: resource: %w", err)
	}

	var promOpts []promexporter.Option
	if cfg.Registerer != nil {
		promOpts = append(promOpts, promexporter.WithRegisterer(cfg.Registerer))
	}
	promExp, err := promexporter.New(promOpts...)
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExp),
	)

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

func newResource(ctx context.Context, cfg ProviderConfig) (*resource.Resource, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "earloop"
	}
	attrs := append([]attribute.KeyValue{
		semconv.ServiceName(name),
		semconv.ServiceVersion(cfg.ServiceVersion),
	}, cfg.Attributes...)

	return resource.New(ctx,
		resource.WithTelemetrySDK(),
		resource.WithFromEnv(),
		resource.WithAttributes(attrs...),
	)
}
