// Package control turns the two slow physical controls of the hearing aid
// (a gain knob and a compression-speed knob) into the per-chunk [State] the
// signal chain consumes.
//
// Raw readings are 16-bit ADC values. A [Reader] normalises them to [0, 1]
// and maps them linearly onto configured gain and time-constant ranges. The
// loop calls [Reader.Read] once every few chunks, never per sample, so reads
// of noisy inputs cannot stall audio or change gain mid-chunk.
package control

import (
	"log/slog"
	"sync/atomic"
)

// FullScale is the top of the 16-bit ADC range.
const FullScale = 65535

// Reading is one pair of raw control readings.
type Reading struct {
	// Gain is the gain knob position, 0..FullScale.
	Gain uint16 `json:"gain"`

	// Time is the compression-speed knob position, 0..FullScale.
	Time uint16 `json:"time"`
}

// State is the derived control state used by the compressor for a chunk.
type State struct {
	// Gain is the linear user gain multiplier.
	Gain float64 `json:"gain"`

	// TimeMs is the envelope time constant in milliseconds. Zero until the
	// first refresh.
	TimeMs float64 `json:"time_ms"`

	// Coefficient is the one-pole smoothing factor for the envelope follower.
	// Attack and release deliberately share it.
	Coefficient float64 `json:"coefficient"`
}

// InitialState is the state in force before the first control refresh.
func InitialState() State {
	return State{Gain: 1.0, Coefficient: 0.1}
}

// Config holds the ranges readings are mapped onto.
type Config struct {
	MinGain    float64
	MaxGain    float64
	MinTimeMs  float64
	MaxTimeMs  float64
	SampleRate int
}

// DefaultConfig returns the reference ranges: gain 0.5..8.0 and time
// constant 5..200 ms at 16 kHz.
func DefaultConfig() Config {
	return Config{
		MinGain:    0.5,
		MaxGain:    8.0,
		MinTimeMs:  5,
		MaxTimeMs:  200,
		SampleRate: 16000,
	}
}

// Normalize maps raw in [0, full] to [0, 1], clamping values outside the
// source range. A non-positive full scale yields 0.
func Normalize(raw, full int) float64 {
	if full <= 0 {
		return 0
	}
	return min(max(float64(raw)/float64(full), 0), 1)
}

// lerp interpolates between lo and hi; t == 1 returns hi exactly.
func lerp(lo, hi, t float64) float64 {
	if t >= 1 {
		return hi
	}
	return lo + t*(hi-lo)
}

// Derive computes the state for rd. When the time constant maps to no whole
// sample period the coefficient of prev is kept.
func (c Config) Derive(rd Reading, prev State) State {
	st := State{
		Gain:        lerp(c.MinGain, c.MaxGain, Normalize(int(rd.Gain), FullScale)),
		TimeMs:      lerp(c.MinTimeMs, c.MaxTimeMs, Normalize(int(rd.Time), FullScale)),
		Coefficient: prev.Coefficient,
	}
	if samples := st.TimeMs / 1000 * float64(c.SampleRate); samples > 0 {
		st.Coefficient = 1 / samples
	}
	return st
}

// Reader samples a [Source] and keeps the latest derived [State]. Read must
// only be called from the processing loop; Current may be called from any
// goroutine.
type Reader struct {
	cfg     Config
	src     Source
	current atomic.Pointer[State]
	reads   atomic.Uint64
}

// NewReader returns a Reader over src, starting from [InitialState].
func NewReader(cfg Config, src Source) *Reader {
	r := &Reader{cfg: cfg, src: src}
	st := InitialState()
	r.current.Store(&st)
	return r
}

// Read samples the source, derives and stores the new state, and returns it.
// It never fails.
func (r *Reader) Read() State {
	rd := r.src.Read()
	st := r.cfg.Derive(rd, r.Current())
	r.current.Store(&st)
	r.reads.Add(1)
	slog.Debug("controls refreshed",
		"gain_raw", rd.Gain,
		"time_raw", rd.Time,
		"gain", st.Gain,
		"time_ms", st.TimeMs,
		"coefficient", st.Coefficient,
	)
	return st
}

// Current returns the most recently derived state.
func (r *Reader) Current() State {
	return *r.current.Load()
}

// Reads returns how many times Read has been called.
func (r *Reader) Reads() uint64 {
	return r.reads.Load()
}
