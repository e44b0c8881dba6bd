// Package loop runs the real-time processing loop: read a chunk from the
// input stream, refresh the controls every few chunks, compress every whole
// stereo frame in place and write the chunk to the output stream.
//
// A [Loop] moves through Idle -> Running -> Draining -> Stopped exactly once.
// When a stream cannot be acquired it goes from Idle straight to Stopped:
// nothing ran, so there is nothing to drain. Both streams are acquired before
// the loop starts running and released exactly once on every exit path. Envelopes and the control state in force
// are owned by the goroutine calling [Loop.Run].
package loop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/earloop/internal/control"
	"github.com/MrWong99/earloop/internal/dsp"
	"github.com/MrWong99/earloop/internal/observe"
	"github.com/MrWong99/earloop/pkg/audio"
)

// ErrAcquire wraps any failure to open the input or output stream. It is
// fatal; the loop never retries.
var ErrAcquire = errors.New("loop: stream acquisition failed")

// ErrStarted is returned by Run when the loop has already been run.
var ErrStarted = errors.New("loop: already started")

// Reference loop settings.
const (
	DefaultChunkBytes      = 512
	DefaultControlInterval = 20
)

// Config controls chunking and control cadence.
type Config struct {
	// ChunkBytes is the read buffer size. Whole frames are processed; up to
	// [audio.FrameBytes]-1 trailing bytes of a read are passed through
	// untouched.
	ChunkBytes int

	// ControlInterval is the number of non-empty reads between control
	// refreshes.
	ControlInterval int
}

// DefaultConfig returns 512-byte chunks with a control refresh every 20
// chunks.
func DefaultConfig() Config {
	return Config{
		ChunkBytes:      DefaultChunkBytes,
		ControlInterval: DefaultControlInterval,
	}
}

// ChunkStats summarises one processed chunk.
type ChunkStats struct {
	Frames         int
	RemainderBytes int

	// MinGainLeft and MinGainRight are the smallest compression gains
	// applied in the chunk; 1 means no compression happened.
	MinGainLeft  float64
	MinGainRight float64
}

// Stats are cumulative loop counters.
type Stats struct {
	Chunks           uint64 `json:"chunks"`
	EmptyReads       uint64 `json:"empty_reads"`
	Frames           uint64 `json:"frames"`
	RemainderBytes   uint64 `json:"remainder_bytes"`
	ControlRefreshes uint64 `json:"control_refreshes"`
}

// Loop is the real-time processing loop. Create one with [New].
type Loop struct {
	cfg      Config
	dev      audio.Device
	controls *control.Reader
	engine   dsp.Engine
	metrics  *observe.Metrics

	state   atomic.Int32
	started atomic.Bool

	// Owned by the Run goroutine.
	envL, envR dsp.Envelope
	current    control.State

	// Snapshots for concurrent readers.
	envLBits, envRBits atomic.Uint64
	chunks             atomic.Uint64
	emptyReads         atomic.Uint64
	frames             atomic.Uint64
	remainderBytes     atomic.Uint64
	refreshes          atomic.Uint64

	in          audio.InputStream
	out         audio.OutputStream
	releaseOnce sync.Once
	releaseErr  error

	remainderOnce sync.Once
}

// Option is a functional option for New.
type Option func(*Loop)

// WithMetrics records loop metrics to m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(l *Loop) { l.metrics = m }
}

// New creates an idle loop over dev. Non-positive config values fall back to
// the defaults.
func New(cfg Config, dev audio.Device, controls *control.Reader, engine dsp.Engine, opts ...Option) *Loop {
	if cfg.ChunkBytes <= 0 {
		cfg.ChunkBytes = DefaultChunkBytes
	}
	if cfg.ControlInterval <= 0 {
		cfg.ControlInterval = DefaultControlInterval
	}
	l := &Loop{
		cfg:      cfg,
		dev:      dev,
		controls: controls,
		engine:   engine,
		current:  controls.Current(),
	}
	for _, o := range opts {
		o(l)
	}
	if l.metrics == nil {
		l.metrics = observe.DefaultMetrics()
	}
	return l
}

// State returns the current lifecycle state. Safe for concurrent use.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Envelopes returns the most recent left and right envelopes. Safe for
// concurrent use.
func (l *Loop) Envelopes() (left, right dsp.Envelope) {
	return dsp.Envelope(math.Float64frombits(l.envLBits.Load())),
		dsp.Envelope(math.Float64frombits(l.envRBits.Load()))
}

// Stats returns the cumulative counters. Safe for concurrent use.
func (l *Loop) Stats() Stats {
	return Stats{
		Chunks:           l.chunks.Load(),
		EmptyReads:       l.emptyReads.Load(),
		Frames:           l.frames.Load(),
		RemainderBytes:   l.remainderBytes.Load(),
		ControlRefreshes: l.refreshes.Load(),
	}
}

// Run acquires both streams and processes audio until ctx is cancelled, the
// input ends or a stream fails. Cancellation is checked between chunks only.
//
// Run returns an error wrapping [ErrAcquire] when a stream cannot be opened,
// ctx.Err() after cancellation, nil when the input reached io.EOF, and the
// read or write error otherwise. Errors from releasing the streams are
// joined to the result.
func (l *Loop) Run(ctx context.Context) (err error) {
	if !l.started.CompareAndSwap(false, true) {
		return ErrStarted
	}
	ctx, span := observe.StartRunSpan(ctx, l.dev.Name(), l.cfg.ChunkBytes, l.cfg.ControlInterval)
	defer func() { observe.EndSpan(span, err) }()
	defer l.setState(ctx, Stopped)

	log := observe.Logger(ctx)
	if err := l.acquire(ctx); err != nil {
		log.Error("loop: cannot acquire audio streams", "device", l.dev.Name(), "err", err)
		return err
	}
	defer func() {
		l.setState(ctx, Draining)
		log.Info("stopping")
		if rerr := l.release(); rerr != nil {
			err = errors.Join(err, rerr)
		}
		st := l.Stats()
		log.Info("stopped",
			"chunks", st.Chunks,
			"frames", st.Frames,
			"empty_reads", st.EmptyReads,
			"control_refreshes", st.ControlRefreshes,
		)
	}()

	l.setState(ctx, Running)
	return l.process(ctx)
}

// acquire opens the input then the output stream. If the output fails the
// already opened input is closed before returning.
func (l *Loop) acquire(ctx context.Context) error {
	name := l.dev.Name()
	in, err := openStream(ctx, name, "input", l.dev.OpenInput)
	if err != nil {
		return err
	}
	out, err := openStream(ctx, name, "output", l.dev.OpenOutput)
	if err != nil {
		if cerr := in.Close(); cerr != nil {
			slog.Warn("loop: close input after failed acquisition", "err", cerr)
		}
		return err
	}
	l.in, l.out = in, out
	return nil
}

// openStream opens one stream inside an acquisition span.
func openStream[S io.Closer](ctx context.Context, device, direction string, open func(context.Context) (S, error)) (s S, err error) {
	ctx, span := observe.StartAcquireSpan(ctx, device, direction)
	defer func() { observe.EndSpan(span, err) }()

	s, err = open(ctx)
	if err != nil {
		return s, fmt.Errorf("%w: open %s on %s: %w", ErrAcquire, direction, device, err)
	}
	return s, nil
}

// release closes both streams exactly once.
func (l *Loop) release() error {
	l.releaseOnce.Do(func() {
		var errs []error
		if err := l.in.Close(); err != nil {
			errs = append(errs, fmt.Errorf("loop: close input: %w", err))
		}
		if err := l.out.Close(); err != nil {
			errs = append(errs, fmt.Errorf("loop: close output: %w", err))
		}
		l.releaseErr = errors.Join(errs...)
	})
	return l.releaseErr
}

func (l *Loop) process(ctx context.Context) error {
	buf := make([]byte, l.cfg.ChunkBytes)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, rerr := l.in.Read(buf)
		if n == 0 && rerr == nil {
			l.emptyReads.Add(1)
			l.metrics.EmptyReads.Add(ctx, 1)
			continue
		}

		if n > 0 {
			if err := l.handleChunk(ctx, buf[:n]); err != nil {
				return err
			}
		}

		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				slog.Info("input stream ended")
				return nil
			}
			return fmt.Errorf("loop: read: %w", rerr)
		}
	}
}

// handleChunk refreshes the controls when due, processes chunk in place and
// writes all of it, remainder bytes included.
func (l *Loop) handleChunk(ctx context.Context, chunk []byte) error {
	n := l.chunks.Add(1)
	l.metrics.Chunks.Add(ctx, 1)

	if n%uint64(l.cfg.ControlInterval) == 0 {
		l.current = l.controls.Read()
		l.refreshes.Add(1)
		l.metrics.RecordControlRefresh(ctx, l.current.Gain)
	}

	start := time.Now()
	stats := l.ProcessChunk(chunk, l.current)
	l.metrics.ChunkDuration.Record(ctx, time.Since(start).Seconds())
	l.metrics.Frames.Add(ctx, int64(stats.Frames))
	l.metrics.RecordGainReduction(ctx, stats.MinGainLeft, stats.MinGainRight)

	if _, err := l.out.Write(chunk); err != nil {
		return fmt.Errorf("loop: write: %w", err)
	}
	return nil
}

// ProcessChunk compresses every whole frame of buf in place under st and
// advances the envelopes. Trailing bytes beyond the last whole frame are left
// untouched. It must not be called concurrently with Run.
func (l *Loop) ProcessChunk(buf []byte, st control.State) ChunkStats {
	stats := ChunkStats{
		Frames:         audio.FrameCount(len(buf)),
		RemainderBytes: audio.Remainder(len(buf)),
		MinGainLeft:    1,
		MinGainRight:   1,
	}

	for i := range stats.Frames {
		f := audio.DecodeFrame(buf, i)
		left := l.engine.Step(f.Left, l.envL, st)
		right := l.engine.Step(f.Right, l.envR, st)
		l.envL, l.envR = left.Envelope, right.Envelope
		stats.MinGainLeft = min(stats.MinGainLeft, left.Gain)
		stats.MinGainRight = min(stats.MinGainRight, right.Gain)
		l.engine.Output.Write(buf, i, audio.StereoFrame{Left: left.Sample, Right: right.Sample})
	}

	l.envLBits.Store(math.Float64bits(float64(l.envL)))
	l.envRBits.Store(math.Float64bits(float64(l.envR)))
	l.frames.Add(uint64(stats.Frames))

	if stats.RemainderBytes > 0 {
		l.remainderBytes.Add(uint64(stats.RemainderBytes))
		l.metrics.RemainderBytes.Add(context.Background(), int64(stats.RemainderBytes))
		l.remainderOnce.Do(func() {
			slog.Warn("loop: chunk not frame aligned, trailing bytes left unprocessed",
				"chunk_bytes", len(buf),
				"remainder_bytes", stats.RemainderBytes,
			)
		})
	}
	return stats
}

func (l *Loop) setState(ctx context.Context, s State) {
	prev := State(l.state.Swap(int32(s)))
	if prev == s {
		return
	}
	l.metrics.RecordState(ctx, s.String())
	observe.Event(ctx, "loop."+s.String())
	slog.Debug("loop state changed", "from", prev, "to", s)
}
