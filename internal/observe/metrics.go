// Package observe carries the telemetry of earloop: OpenTelemetry instruments
// for the processing loop and its controls, spans around a run, request
// middleware for the HTTP surface, and the SDK wiring that exposes all of it
// on /metrics.
//
// Components record to a [Metrics] value. Production code shares
// [DefaultMetrics], bound to the global meter provider that [InitProvider]
// installs; tests build their own with [NewMetrics] over a manual reader.
package observe

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope of every earloop instrument.
const meterName = "github.com/MrWong99/earloop"

// Metrics is the set of instruments earloop records to. Instruments are safe
// for concurrent use.
type Metrics struct {
	// ── loop ──

	Chunks         metric.Int64Counter // non-empty chunks read
	Frames         metric.Int64Counter // stereo frames compressed
	EmptyReads     metric.Int64Counter
	RemainderBytes metric.Int64Counter // trailing bytes shorter than a frame

	// ChunkDuration is the compute time of one chunk, read and write excluded.
	ChunkDuration metric.Float64Histogram

	// StateTransitions carries attribute "state".
	StateTransitions metric.Int64Counter

	// ── compressor ──

	// GainReduction is the smallest compression gain of a chunk, with
	// attribute "channel" set to "left" or "right".
	GainReduction metric.Float64Histogram

	// ── controls ──

	ControlRefreshes metric.Int64Counter
	ControlGain      metric.Float64Gauge
	KnobClients      metric.Int64UpDownCounter

	// ── http ──

	// HTTPRequestDuration carries attributes "route" and "status".
	HTTPRequestDuration metric.Float64Histogram
}

// One 512-byte chunk is 4 ms of audio at 16 kHz; processing must stay well
// below that.
var chunkBuckets = []float64{
	0.00001, 0.000025, 0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01,
}

var gainBuckets = []float64{
	0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 0.99, 1,
}

// instruments creates instruments on one meter and collects the errors.
type instruments struct {
	meter metric.Meter
	errs  []error
}

func (b *instruments) counter(name, desc string, opts ...metric.Int64CounterOption) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, append(opts, metric.WithDescription(desc))...)
	b.errs = append(b.errs, err)
	return c
}

func (b *instruments) histogram(name, desc string, opts ...metric.Float64HistogramOption) metric.Float64Histogram {
	h, err := b.meter.Float64Histogram(name, append(opts, metric.WithDescription(desc))...)
	b.errs = append(b.errs, err)
	return h
}

// NewMetrics creates the earloop instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := &instruments{meter: mp.Meter(meterName)}
	m := &Metrics{}

	m.Chunks = b.counter("earloop.loop.chunks", "Non-empty chunks read from the input stream.")
	m.Frames = b.counter("earloop.loop.frames", "Stereo frames processed.")
	m.EmptyReads = b.counter("earloop.loop.empty_reads", "Input reads that returned no data.")
	m.RemainderBytes = b.counter("earloop.loop.remainder_bytes", "Trailing chunk bytes left unprocessed.",
		metric.WithUnit("By"))
	m.ChunkDuration = b.histogram("earloop.loop.chunk.duration", "Time spent processing one chunk.",
		metric.WithUnit("s"), metric.WithExplicitBucketBoundaries(chunkBuckets...))
	m.StateTransitions = b.counter("earloop.loop.state", "Processing loop state transitions by target state.")
	m.GainReduction = b.histogram("earloop.compressor.gain_reduction", "Smallest compression gain applied within a chunk, per channel.",
		metric.WithExplicitBucketBoundaries(gainBuckets...))
	m.ControlRefreshes = b.counter("earloop.control.refreshes", "Control readings taken.")
	m.HTTPRequestDuration = b.histogram("earloop.http.request.duration", "HTTP request latency by route and status.",
		metric.WithUnit("s"))

	var err error
	m.ControlGain, err = b.meter.Float64Gauge("earloop.control.gain",
		metric.WithDescription("User gain currently in force."))
	b.errs = append(b.errs, err)
	m.KnobClients, err = b.meter.Int64UpDownCounter("earloop.control.knob_clients",
		metric.WithDescription("Connected remote knob clients."))
	b.errs = append(b.errs, err)

	if err := errors.Join(b.errs...); err != nil {
		return nil, err
	}
	return m, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide [Metrics], created on first use from
// [otel.GetMeterProvider]. Call [InitProvider] before the first use so the
// instruments bind to the exporting provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: default metrics: " + err.Error())
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

// RecordState counts a transition into state.
func (m *Metrics) RecordState(ctx context.Context, state string) {
	m.StateTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}

// RecordGainReduction records the smallest gain of a chunk for both channels.
func (m *Metrics) RecordGainReduction(ctx context.Context, left, right float64) {
	m.GainReduction.Record(ctx, left, metric.WithAttributes(attribute.String("channel", "left")))
	m.GainReduction.Record(ctx, right, metric.WithAttributes(attribute.String("channel", "right")))
}

// RecordControlRefresh counts a control read and publishes the gain it set.
func (m *Metrics) RecordControlRefresh(ctx context.Context, gain float64) {
	m.ControlRefreshes.Add(ctx, 1)
	m.ControlGain.Record(ctx, gain)
}
