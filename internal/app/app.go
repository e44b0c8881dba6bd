// Package app wires all earloop subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the processing loop next to the optional HTTP
// server, and Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithDevice, WithSource, etc.). When an option is not provided, New creates
// real implementations from the config via the registry.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/earloop/internal/config"
	"github.com/MrWong99/earloop/internal/control"
	"github.com/MrWong99/earloop/internal/dsp"
	"github.com/MrWong99/earloop/internal/health"
	"github.com/MrWong99/earloop/internal/loop"
	"github.com/MrWong99/earloop/internal/observe"
	"github.com/MrWong99/earloop/pkg/audio"
)

// shutdownTimeout bounds the graceful HTTP shutdown after the loop stops.
const shutdownTimeout = 5 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config
	reg *config.Registry

	// Subsystems, initialised in New, torn down in Shutdown.
	device   audio.Device
	source   control.Source
	controls *control.Reader
	engine   dsp.Engine
	loop     *loop.Loop
	metrics  *observe.Metrics

	metricsHandler http.Handler
	listener       net.Listener
	server         *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithDevice injects an audio device instead of creating one from config.
func WithDevice(d audio.Device) Option {
	return func(a *App) { a.device = d }
}

// WithSource injects a control source instead of creating one from config.
func WithSource(s control.Source) Option {
	return func(a *App) { a.source = s }
}

// WithMetrics records to m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h at /metrics instead of promhttp.Handler.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithListener serves HTTP on l instead of listening on
// server.listen_addr. The app takes ownership of l.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// WithCloser adds fn to the functions run by Shutdown, in order.
func WithCloser(fn func() error) Option {
	return func(a *App) { a.closers = append(a.closers, fn) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. reg resolves the
// audio backend and control source named in cfg unless they are injected.
//
// New does not touch the audio hardware; streams are acquired by Run.
func New(cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	a := &App{
		cfg: cfg,
		reg: reg,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Audio device ─────────────────────────────────────────────────
	if err := a.initDevice(); err != nil {
		return nil, fmt.Errorf("app: init audio: %w", err)
	}

	// ── 2. Controls ─────────────────────────────────────────────────────
	if err := a.initControls(); err != nil {
		return nil, fmt.Errorf("app: init controls: %w", err)
	}

	// ── 3. Compressor ───────────────────────────────────────────────────
	policy, err := dsp.NewPolicy(cfg.Compression.Threshold, cfg.Compression.Ratio)
	if err != nil {
		return nil, fmt.Errorf("app: init compressor: %w", err)
	}
	a.engine = dsp.NewEngine(policy)

	// ── 4. Processing loop ──────────────────────────────────────────────
	a.loop = loop.New(loop.Config{
		ChunkBytes:      cfg.Audio.ChunkBytes,
		ControlInterval: cfg.Controls.IntervalChunks,
	}, a.device, a.controls, a.engine, loop.WithMetrics(a.metrics))

	// ── 5. HTTP server ──────────────────────────────────────────────────
	if err := a.initServer(); err != nil {
		return nil, fmt.Errorf("app: init http: %w", err)
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initDevice() error {
	if a.device != nil {
		return nil
	}
	if a.reg == nil {
		return errors.New("no audio device injected and no registry given")
	}
	dev, err := a.reg.CreateDevice(a.cfg.Audio)
	if err != nil {
		return err
	}
	a.device = dev
	return nil
}

func (a *App) initControls() error {
	if a.source == nil {
		if a.reg == nil {
			return errors.New("no control source injected and no registry given")
		}
		src, err := a.reg.CreateSource(a.cfg.Controls)
		if err != nil {
			return err
		}
		a.source = src
	}
	a.controls = control.NewReader(a.cfg.Controls.Ranges(a.cfg.Audio.SampleRate), a.source)
	return nil
}

// initServer builds the HTTP server when a listen address or listener is
// configured. Knob clients can only connect when the server runs.
func (a *App) initServer() error {
	knobs, isKnobs := a.source.(*control.Knobs)
	if a.cfg.Server.ListenAddr == "" && a.listener == nil {
		if isKnobs {
			return errors.New("controls.source websocket requires server.listen_addr")
		}
		return nil
	}

	mux := http.NewServeMux()
	health.New(health.LoopChecker(a.loop, a.cfg.Server.ReadyStallAfter)).Register(mux)

	mh := a.metricsHandler
	if mh == nil {
		mh = promhttp.Handler()
	}
	mux.Handle("GET /metrics", mh)
	mux.Handle("GET /controls", control.StateHandler(a.controls))
	mux.HandleFunc("GET /status", a.serveStatus)
	if isKnobs {
		knobs.Register(mux)
	}

	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return nil
}

// status is the JSON body of GET /status.
type status struct {
	State    string        `json:"state"`
	Device   string        `json:"device"`
	Format   string        `json:"format"`
	ByteRate int           `json:"byte_rate"`
	Controls control.State `json:"controls"`

	// KnobClients is set when the controls come from remote knobs.
	KnobClients *int64 `json:"knob_clients,omitempty"`

	Envelope struct {
		Left  float64 `json:"left"`
		Right float64 `json:"right"`
	} `json:"envelope"`
	Stats loop.Stats `json:"stats"`
}

func (a *App) serveStatus(w http.ResponseWriter, _ *http.Request) {
	var st status
	st.State = a.loop.State().String()
	st.Device = a.device.Name()
	format := audio.Format{SampleRate: a.cfg.Audio.SampleRate}
	st.Format, st.ByteRate = format.String(), format.BytesPerSecond()
	st.Controls = a.controls.Current()
	if knobs, ok := a.source.(*control.Knobs); ok {
		n := knobs.Clients()
		st.KnobClients = &n
	}
	l, r := a.loop.Envelopes()
	st.Envelope.Left, st.Envelope.Right = float64(l), float64(r)
	st.Stats = a.loop.Stats()

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(st); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}

// Loop returns the processing loop.
func (a *App) Loop() *loop.Loop { return a.loop }

// Controls returns the control reader.
func (a *App) Controls() *control.Reader { return a.controls }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run processes audio until ctx is cancelled or the loop stops on its own,
// serving HTTP alongside when configured. An operator stop (ctx cancelled)
// and the end of a finite input both return nil; a stream acquisition
// failure returns an error wrapping [loop.ErrAcquire].
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// The loop ending for any reason ends the app.
		defer cancel()
		err := a.loop.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if a.server != nil {
		ln := a.listener
		if ln == nil {
			var err error
			ln, err = net.Listen("tcp", a.server.Addr)
			if err != nil {
				cancel()
				_ = g.Wait()
				return fmt.Errorf("app: listen on %q: %w", a.server.Addr, err)
			}
		}
		slog.Info("http server listening", "addr", ln.Addr().String())

		g.Go(func() error {
			if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, scancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer scancel()
			return a.server.Shutdown(sctx)
		})
	}

	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown runs the registered closers in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned. Streams are released by Run
// itself, never here.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
