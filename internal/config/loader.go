package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/earloop/internal/control"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultBackend        = BackendMiniaudio
	DefaultSampleRate     = 16000
	DefaultChunkBytes     = 512
	DefaultRingFrames     = 1024
	DefaultThreshold      = 500000
	DefaultRatio          = 3.0
	DefaultSource         = SourceStatic
	DefaultIntervalChunks = 20
	DefaultMinGain        = 0.5
	DefaultMaxGain        = 8.0
	DefaultMinTimeMs      = 5
	DefaultMaxTimeMs      = 200
	DefaultReadyStall     = 2 * time.Second

	// DefaultGainReading maps to unity gain on the default gain range.
	DefaultGainReading = 4369
)

// KnownBackends and KnownSources list the names main registers. [Validate]
// warns about others, since a custom build may register more.
var (
	KnownBackends = []string{BackendMiniaudio, BackendPCM}
	KnownSources  = []string{SourceStatic, SourceFile, SourceWebSocket}
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults and
// validates the result. An empty document yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills every zero-valued field of cfg with its default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.ReadyStallAfter == 0 {
		cfg.Server.ReadyStallAfter = DefaultReadyStall
	}

	a := &cfg.Audio
	if a.Backend == "" {
		a.Backend = DefaultBackend
	}
	if a.SampleRate == 0 {
		a.SampleRate = DefaultSampleRate
	}
	if a.ChunkBytes == 0 {
		a.ChunkBytes = DefaultChunkBytes
	}
	if a.Input == "" {
		a.Input = "-"
	}
	if a.Output == "" {
		a.Output = "-"
	}
	if a.RingFrames == 0 {
		a.RingFrames = DefaultRingFrames
	}

	if cfg.Compression.Threshold == 0 {
		cfg.Compression.Threshold = DefaultThreshold
	}
	if cfg.Compression.Ratio == 0 {
		cfg.Compression.Ratio = DefaultRatio
	}

	c := &cfg.Controls
	if c.Source == "" {
		c.Source = DefaultSource
	}
	if c.IntervalChunks == 0 {
		c.IntervalChunks = DefaultIntervalChunks
	}
	if c.MinGain == 0 && c.MaxGain == 0 {
		c.MinGain, c.MaxGain = DefaultMinGain, DefaultMaxGain
	}
	if c.MinTimeMs == 0 && c.MaxTimeMs == 0 {
		c.MinTimeMs, c.MaxTimeMs = DefaultMinTimeMs, DefaultMaxTimeMs
	}
	if c.GainReading == nil {
		v := DefaultGainReading
		c.GainReading = &v
	}
	if c.TimeReading == nil {
		v := 0
		c.TimeReading = &v
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Audio
	a := cfg.Audio
	warnUnknown("audio.backend", a.Backend, KnownBackends)
	if a.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be positive, got %d", a.SampleRate))
	}
	if a.ChunkBytes <= 0 || a.ChunkBytes%8 != 0 {
		errs = append(errs, fmt.Errorf("audio.chunk_bytes must be a positive multiple of 8, got %d", a.ChunkBytes))
	}
	if a.RingFrames < 0 {
		errs = append(errs, fmt.Errorf("audio.ring_frames must not be negative, got %d", a.RingFrames))
	}

	// Compression
	if !(cfg.Compression.Threshold > 0) {
		errs = append(errs, fmt.Errorf("compression.threshold must be positive, got %v", cfg.Compression.Threshold))
	}
	if !(cfg.Compression.Ratio >= 1) {
		errs = append(errs, fmt.Errorf("compression.ratio must be >= 1, got %v", cfg.Compression.Ratio))
	}

	// Controls
	c := cfg.Controls
	warnUnknown("controls.source", c.Source, KnownSources)
	if c.IntervalChunks < 1 {
		errs = append(errs, fmt.Errorf("controls.interval_chunks must be >= 1, got %d", c.IntervalChunks))
	}
	if c.MinGain < 0 {
		errs = append(errs, fmt.Errorf("controls.min_gain must not be negative, got %v", c.MinGain))
	}
	if c.MinGain > c.MaxGain {
		errs = append(errs, fmt.Errorf("controls.min_gain %v is above controls.max_gain %v", c.MinGain, c.MaxGain))
	}
	if !(c.MinTimeMs > 0) {
		errs = append(errs, fmt.Errorf("controls.min_time_ms must be positive, got %v", c.MinTimeMs))
	} else if a.SampleRate > 0 && c.MinTimeMs/1000*float64(a.SampleRate) < 1 {
		errs = append(errs, fmt.Errorf("controls.min_time_ms %v is shorter than one sample at %d Hz", c.MinTimeMs, a.SampleRate))
	}
	if c.MinTimeMs > c.MaxTimeMs {
		errs = append(errs, fmt.Errorf("controls.min_time_ms %v is above controls.max_time_ms %v", c.MinTimeMs, c.MaxTimeMs))
	}
	errs = append(errs, validReading("controls.gain_reading", c.GainReading))
	errs = append(errs, validReading("controls.time_reading", c.TimeReading))

	return errors.Join(errs...)
}

func validReading(field string, v *int) error {
	if v == nil {
		return nil
	}
	if *v < 0 || *v > control.FullScale {
		return fmt.Errorf("%s must be within 0..%d, got %d", field, control.FullScale, *v)
	}
	return nil
}

// warnUnknown logs a warning if name is non-empty and not in known.
func warnUnknown(field, name string, known []string) {
	if name == "" || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown name, may be a typo or a custom registration",
		"field", field,
		"name", name,
		"known", known,
	)
}

// Reading returns the configured raw knob positions.
func (c ControlsConfig) Reading() control.Reading {
	var gain, time int
	if c.GainReading != nil {
		gain = *c.GainReading
	}
	if c.TimeReading != nil {
		time = *c.TimeReading
	}
	return control.ClampReading(gain, time)
}

// Ranges returns the control mapping for sampleRate.
func (c ControlsConfig) Ranges(sampleRate int) control.Config {
	return control.Config{
		MinGain:    c.MinGain,
		MaxGain:    c.MaxGain,
		MinTimeMs:  c.MinTimeMs,
		MaxTimeMs:  c.MaxTimeMs,
		SampleRate: sampleRate,
	}
}
