// Package dsp implements the per-sample signal chain: an envelope follower,
// a static compression curve, user gain staging and output saturation.
//
// Everything here is pure arithmetic on values. The caller owns the per-channel
// [Envelope] and threads it through [Engine.Process] sample by sample.
package dsp

import (
	"errors"
	"fmt"
	"math"

	"github.com/MrWong99/earloop/internal/control"
	"github.com/MrWong99/earloop/pkg/audio"
)

// Reference compression settings.
const (
	DefaultThreshold = 500000
	DefaultRatio     = 3.0
)

// Envelope is the smoothed magnitude of one channel. It starts at zero and is
// never reset while the signal chain runs.
type Envelope float64

// Follow moves env towards magnitude by coefficient. The same coefficient is
// used whether the signal is rising or falling; a constant magnitude is a
// fixed point.
func Follow(env Envelope, magnitude, coefficient float64) Envelope {
	return env + Envelope(coefficient*(magnitude-float64(env)))
}

// Policy is the static compression curve plus the output ceiling.
type Policy struct {
	// Threshold is the envelope level above which compression starts.
	Threshold float64

	// Ratio is the input/output slope above the threshold. 1 disables
	// compression.
	Ratio float64

	// MaxMagnitude bounds the absolute value of every output sample.
	MaxMagnitude audio.Sample
}

// DefaultPolicy returns threshold 500000, ratio 3:1 and the full 24-bit
// ceiling.
func DefaultPolicy() Policy {
	return Policy{
		Threshold:    DefaultThreshold,
		Ratio:        DefaultRatio,
		MaxMagnitude: audio.SampleMax,
	}
}

// NewPolicy returns a validated policy with the full 24-bit ceiling.
func NewPolicy(threshold, ratio float64) (Policy, error) {
	var errs []error
	if !(threshold > 0) || math.IsInf(threshold, 0) {
		errs = append(errs, fmt.Errorf("dsp: threshold must be a positive finite number, got %v", threshold))
	}
	if !(ratio >= 1) || math.IsInf(ratio, 0) {
		errs = append(errs, fmt.Errorf("dsp: ratio must be >= 1, got %v", ratio))
	}
	if err := errors.Join(errs...); err != nil {
		return Policy{}, err
	}
	return Policy{Threshold: threshold, Ratio: ratio, MaxMagnitude: audio.SampleMax}, nil
}

// Gain returns the compression gain for env. It is exactly 1 at or below the
// threshold; above it the gain lies in (0, 1], does not increase with env and
// approaches 1/Ratio.
func (p Policy) Gain(env Envelope) float64 {
	e := float64(env)
	if e <= p.Threshold {
		return 1.0
	}
	over := e / p.Threshold
	compressed := 1 + (over-1)/p.Ratio
	return min(p.Threshold*compressed/e, 1.0)
}

// Step is the full result of processing one sample.
type Step struct {
	Sample   audio.Sample
	Envelope Envelope

	// Gain is the compression gain applied, before user gain.
	Gain float64
}

// Engine runs one sample through follower, curve and output stage.
type Engine struct {
	Policy Policy
	Output Output
}

// NewEngine returns an engine whose output ceiling follows p.
func NewEngine(p Policy) Engine {
	return Engine{Policy: p, Output: Output{Max: p.MaxMagnitude}}
}

// Step processes s against env under the control state st.
func (e Engine) Step(s audio.Sample, env Envelope, st control.State) Step {
	env = Follow(env, s.Abs(), st.Coefficient)
	g := e.Policy.Gain(env)
	return Step{
		Sample:   e.Output.Apply(s, g, st.Gain),
		Envelope: env,
		Gain:     g,
	}
}

// Process is [Engine.Step] reduced to the output sample and the new envelope.
func (e Engine) Process(s audio.Sample, env Envelope, st control.State) (audio.Sample, Envelope) {
	r := e.Step(s, env, st)
	return r.Sample, r.Envelope
}
