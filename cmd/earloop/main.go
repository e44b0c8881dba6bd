// Command earloop runs the hearing-aid signal chain: it reads stereo samples
// from a capture stream, applies user gain and envelope compression, and
// writes the result to a playback stream until interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/earloop/internal/app"
	"github.com/MrWong99/earloop/internal/cli"
	"github.com/MrWong99/earloop/internal/config"
	"github.com/MrWong99/earloop/internal/control"
	"github.com/MrWong99/earloop/internal/loop"
	"github.com/MrWong99/earloop/internal/observe"
	"github.com/MrWong99/earloop/pkg/audio"
	"github.com/MrWong99/earloop/pkg/audio/miniaudio"
	"github.com/MrWong99/earloop/pkg/audio/pcm"
)

var version = "0.1.0"

const defaultConfigPath = "earloop.yaml"

// CLI defines the command-line interface. Flags override the config file.
type CLI struct {
	Config   string `short:"c" type:"path" help:"Path to the YAML config file. A missing default file means built-in defaults." default:"earloop.yaml"`
	Backend  string `short:"b" help:"Override audio.backend (miniaudio, pcm)."`
	Input    string `short:"i" help:"Override audio.input for the pcm backend; - is stdin."`
	Output   string `short:"o" help:"Override audio.output for the pcm backend; - is stdout."`
	Listen   string `short:"l" help:"Override server.listen_addr, e.g. :9090."`
	LogLevel string `help:"Override server.log_level." enum:",debug,info,warn,error" default:""`
	Quiet    bool   `short:"q" help:"Do not print the startup summary."`
	Version  bool   `short:"v" help:"Show version information."`
}

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	flags := &CLI{}
	kong.Parse(flags,
		kong.Name("earloop"),
		kong.Description("Hobbyist hearing-aid signal chain"),
		kong.UsageOnError(),
		kong.Help(cli.StyledHelpPrinter("Hobbyist hearing-aid signal chain")),
	)
	if flags.Version {
		cli.PrintVersion(os.Stdout, version)
		return 0
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// Logs go to stderr; stdout may carry audio with the pcm backend.
	var level slog.LevelVar
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, watcher, err := loadConfig(flags, &level)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cli.PrintError(os.Stderr, fmt.Sprintf("config file %q not found", flags.Config))
		} else {
			cli.PrintError(os.Stderr, err.Error())
		}
		return 1
	}
	if watcher != nil {
		defer watcher.Stop()
	}
	level.Set(slogLevel(cfg.Server.LogLevel))

	slog.Info("earloop starting",
		"version", version,
		"config", flags.Config,
		"backend", cfg.Audio.Backend,
		"controls", cfg.Controls.Source,
		"listen_addr", cfg.Server.ListenAddr,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownOtel, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceVersion: version,
		Attributes: []attribute.KeyValue{
			attribute.String("audio.backend", cfg.Audio.Backend),
			attribute.Int("audio.sample_rate", cfg.Audio.SampleRate),
			attribute.String("controls.source", cfg.Controls.Source),
		},
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Registry ──────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltins(reg, watcher)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !flags.Quiet {
		cli.PrintSummary(os.Stderr, cfg, version)
	}

	application, err := app.New(cfg, reg, app.WithCloser(func() error {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdownOtel(sctx)
	}))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		cli.PrintError(os.Stderr, err.Error())
		return 1
	}

	slog.Info("processing, press Ctrl+C to stop")

	exit := 0
	if err := application.Run(ctx); err != nil {
		if errors.Is(err, loop.ErrAcquire) {
			cli.PrintError(os.Stderr, "cannot open audio streams: "+err.Error())
		} else {
			slog.Error("run error", "err", err)
		}
		exit = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return exit
}

// loadConfig loads the config file, applies the flag overrides and, when a
// file exists, starts a watcher that applies live changes. A missing file
// at the default path yields the built-in defaults without a watcher.
func loadConfig(flags *CLI, level *slog.LevelVar) (*config.Config, *config.Watcher, error) {
	var (
		base    *config.Config
		watcher *config.Watcher
	)

	_, statErr := os.Stat(flags.Config)
	switch {
	case errors.Is(statErr, os.ErrNotExist) && flags.Config == defaultConfigPath:
		base = config.Default()
	case statErr != nil:
		return nil, nil, statErr
	default:
		w, err := config.NewWatcher(flags.Config, onConfigChange(flags, level))
		if err != nil {
			return nil, nil, err
		}
		watcher = w
		base = w.Current()
	}

	// Copy so overrides never leak into the watcher's view of the file.
	cfg := *base
	applyOverrides(&cfg, flags)
	if err := config.Validate(&cfg); err != nil {
		if watcher != nil {
			watcher.Stop()
		}
		return nil, nil, err
	}
	return &cfg, watcher, nil
}

func applyOverrides(cfg *config.Config, flags *CLI) {
	if flags.Backend != "" {
		cfg.Audio.Backend = flags.Backend
	}
	if flags.Input != "" {
		cfg.Audio.Input = flags.Input
	}
	if flags.Output != "" {
		cfg.Audio.Output = flags.Output
	}
	if flags.Listen != "" {
		cfg.Server.ListenAddr = flags.Listen
	}
	if flags.LogLevel != "" {
		cfg.Server.LogLevel = config.LogLevel(flags.LogLevel)
	}
}

// onConfigChange applies what can change at runtime and reports the rest.
func onConfigChange(flags *CLI, level *slog.LevelVar) func(old, new *config.Config) {
	return func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged && flags.LogLevel == "" {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.ControlsChanged {
			slog.Info("knob readings changed",
				"gain_reading", d.NewGainReading,
				"time_reading", d.NewTimeReading,
				"applies", new.Controls.Source == config.SourceFile,
			)
		}
		if len(d.RestartRequired) > 0 {
			slog.Warn("config changes take effect after restart", "fields", d.RestartRequired)
		}
	}
}

// ── Built-in wiring ───────────────────────────────────────────────────────────

// registerBuiltins wires the audio backends and control sources that ship
// with earloop into reg. watcher may be nil when no config file is used.
func registerBuiltins(reg *config.Registry, watcher *config.Watcher) {
	// ── Audio ─────────────────────────────────────────────────────────────────

	reg.RegisterDevice(config.BackendMiniaudio, func(a config.AudioConfig) (audio.Device, error) {
		return miniaudio.New(miniaudio.Config{
			SampleRate:   a.SampleRate,
			InputDevice:  a.InputDevice,
			OutputDevice: a.OutputDevice,
			RingFrames:   a.RingFrames,
		}), nil
	})

	reg.RegisterDevice(config.BackendPCM, func(a config.AudioConfig) (audio.Device, error) {
		return pcm.New(a.Input, a.Output), nil
	})

	// ── Controls ──────────────────────────────────────────────────────────────

	reg.RegisterSource(config.SourceStatic, func(c config.ControlsConfig) (control.Source, error) {
		return control.Static(c.Reading()), nil
	})

	reg.RegisterSource(config.SourceFile, func(config.ControlsConfig) (control.Source, error) {
		if watcher == nil {
			return nil, errors.New("controls.source file requires a config file")
		}
		return watcher.Source(), nil
	})

	reg.RegisterSource(config.SourceWebSocket, func(c config.ControlsConfig) (control.Source, error) {
		return control.NewKnobs(c.Reading(),
			control.WithClientCounter(observe.DefaultMetrics().KnobClients),
		), nil
	})

	slog.Debug("registered builtins", "devices", reg.Devices(), "sources", reg.Sources())
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
