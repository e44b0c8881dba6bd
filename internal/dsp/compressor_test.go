package dsp_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/MrWong99/earloop/internal/control"
	"github.com/MrWong99/earloop/internal/dsp"
	"github.com/MrWong99/earloop/pkg/audio"
)

func TestPolicyGain_UnityAtOrBelowThreshold(t *testing.T) {
	t.Parallel()
	p := dsp.DefaultPolicy()
	for _, env := range []dsp.Envelope{0, 1, 250000, 499999.999, 500000} {
		if g := p.Gain(env); g != 1.0 {
			t.Errorf("Gain(%v) = %v, want exactly 1", env, g)
		}
	}
}

func TestPolicyGain_BoundedAndMonotonicAboveThreshold(t *testing.T) {
	t.Parallel()
	p := dsp.DefaultPolicy()
	prev := 1.0
	for env := dsp.Envelope(500001); env < 1e9; env *= 1.5 {
		g := p.Gain(env)
		if g <= 0 || g > 1 {
			t.Fatalf("Gain(%v) = %v, want in (0, 1]", env, g)
		}
		if g > prev {
			t.Fatalf("Gain(%v) = %v increased from %v", env, g, prev)
		}
		prev = g
	}
	// Far above the threshold the gain approaches 1/ratio.
	if g := p.Gain(1e15); math.Abs(g-1/p.Ratio) > 1e-6 {
		t.Errorf("Gain(1e15) = %v, want ~%v", g, 1/p.Ratio)
	}
}

func TestPolicyGain_RatioOneIsTransparent(t *testing.T) {
	t.Parallel()
	p, err := dsp.NewPolicy(1000, 1)
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	for _, env := range []dsp.Envelope{1001, 5000, 1e7} {
		if g := p.Gain(env); math.Abs(g-1) > 1e-12 {
			t.Errorf("Gain(%v) = %v, want 1", env, g)
		}
	}
}

func TestNewPolicy_Validation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		threshold float64
		ratio     float64
		wantErr   bool
	}{
		{"defaults", 500000, 3, false},
		{"ratio one", 1, 1, false},
		{"zero threshold", 0, 3, true},
		{"negative threshold", -5, 3, true},
		{"nan threshold", math.NaN(), 3, true},
		{"ratio below one", 500000, 0.5, true},
		{"infinite ratio", 500000, math.Inf(1), true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p, err := dsp.NewPolicy(tc.threshold, tc.ratio)
			if (err != nil) != tc.wantErr {
				t.Fatalf("NewPolicy(%v, %v) error = %v, wantErr %v", tc.threshold, tc.ratio, err, tc.wantErr)
			}
			if err == nil && p.MaxMagnitude != audio.SampleMax {
				t.Errorf("MaxMagnitude = %d, want %d", p.MaxMagnitude, audio.SampleMax)
			}
		})
	}
}

func TestFollow_SteadyStateIsExact(t *testing.T) {
	t.Parallel()
	for _, c := range []float64{0.001, 0.1, 1} {
		env := dsp.Envelope(123456)
		for range 1000 {
			env = dsp.Follow(env, 123456, c)
		}
		if env != 123456 {
			t.Errorf("coefficient %v: envelope drifted to %v", c, env)
		}
	}
}

func TestFollow_SymmetricCoefficient(t *testing.T) {
	t.Parallel()
	up := dsp.Follow(0, 1000, 0.25)
	down := dsp.Follow(1000, 0, 0.25)
	if up != 250 || down != 750 {
		t.Errorf("Follow up = %v, down = %v, want 250 and 750", up, down)
	}
}

func TestEngine_CompressesMillionSampleToTwoThirds(t *testing.T) {
	t.Parallel()
	e := dsp.NewEngine(dsp.DefaultPolicy())
	st := control.State{Gain: 1.0, Coefficient: 0.1}

	out, env := e.Process(1_000_000, 1_000_000, st)
	if env != 1_000_000 {
		t.Errorf("envelope = %v, want 1000000", env)
	}
	if out != 666666 {
		t.Errorf("output = %d, want 666666", out)
	}

	neg, _ := e.Process(-1_000_000, 1_000_000, st)
	if neg != -666666 {
		t.Errorf("negative output = %d, want -666666", neg)
	}
}

func TestEngine_UnityBelowThreshold(t *testing.T) {
	t.Parallel()
	e := dsp.NewEngine(dsp.DefaultPolicy())
	st := control.State{Gain: 1.0, Coefficient: 0.1}

	env := dsp.Envelope(0)
	for _, s := range []audio.Sample{1000, -20000, 300000, -499999, 7} {
		r := e.Step(s, env, st)
		if r.Gain != 1 {
			t.Errorf("Step(%d).Gain = %v, want 1", s, r.Gain)
		}
		if r.Sample != s {
			t.Errorf("Step(%d).Sample = %d, want unchanged", s, r.Sample)
		}
		env = r.Envelope
	}
}

func TestEngine_UserGainScales(t *testing.T) {
	t.Parallel()
	e := dsp.NewEngine(dsp.DefaultPolicy())
	st := control.State{Gain: 2.5, Coefficient: 0.1}
	out, _ := e.Process(1001, 0, st)
	// 1001 * 2.5 = 2502.5, truncated toward zero.
	if out != 2502 {
		t.Errorf("output = %d, want 2502", out)
	}
	out, _ = e.Process(-1001, 0, st)
	if out != -2502 {
		t.Errorf("output = %d, want -2502", out)
	}
}

func TestEngine_OutputNeverExceedsCeiling(t *testing.T) {
	t.Parallel()
	e := dsp.NewEngine(dsp.DefaultPolicy())
	st := control.State{Gain: 8.0, Coefficient: 1.0 / 3200}

	envL, envR := dsp.Envelope(0), dsp.Envelope(0)
	for i := range 20000 {
		s := audio.SampleMax
		if i%2 == 1 {
			s = audio.SampleMin
		}
		var l, r audio.Sample
		l, envL = e.Process(s, envL, st)
		r, envR = e.Process(-s/2, envR, st)
		for _, v := range []audio.Sample{l, r} {
			if v > audio.SampleMax || v < -audio.SampleMax {
				t.Fatalf("sample %d: output %d outside ±%d", i, v, audio.SampleMax)
			}
		}
	}
}

func TestEngine_UnityPassRoundTripsWords(t *testing.T) {
	t.Parallel()
	// Threshold out of reach and gain 1: the chain only drops padding, except
	// that the most negative sample saturates to -SampleMax.
	e := dsp.NewEngine(dsp.Policy{Threshold: math.MaxFloat64, Ratio: 1, MaxMagnitude: audio.SampleMax})
	st := control.State{Gain: 1, Coefficient: 0.1}

	words := []uint32{0x00000000, 0x000000FF, 0x00000100, 0xFFFFFF00, 0x7FFFFFFF, 0x80000000, 0x800000FF, 0x80000100}
	for w := uint64(0); w <= 0xFFFFFFFF; w += 0x00010203 {
		words = append(words, uint32(w))
	}

	var envL, envR dsp.Envelope
	buf := make([]byte, audio.FrameBytes)
	for _, w := range words {
		want := w &^ 0xFF
		if audio.DecodeWord(w) == audio.SampleMin {
			want = audio.EncodeWord(-audio.SampleMax)
		}

		f := audio.StereoFrame{Left: audio.DecodeWord(w), Right: audio.DecodeWord(^w)}
		f.Left, envL = e.Process(f.Left, envL, st)
		f.Right, envR = e.Process(f.Right, envR, st)
		audio.EncodeFrame(buf, 0, f)

		if got := binary.LittleEndian.Uint32(buf[0:4]); got != want {
			t.Fatalf("left %#08x -> %#08x, want %#08x", w, got, want)
		}
		wantR := ^w &^ 0xFF
		if audio.DecodeWord(^w) == audio.SampleMin {
			wantR = audio.EncodeWord(-audio.SampleMax)
		}
		if got := binary.LittleEndian.Uint32(buf[4:8]); got != wantR {
			t.Fatalf("right %#08x -> %#08x, want %#08x", ^w, got, wantR)
		}
	}
}
