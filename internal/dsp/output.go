package dsp

import (
	"math"

	"github.com/MrWong99/earloop/pkg/audio"
)

// Output applies the final gain stage and hard-limits the result.
type Output struct {
	// Max is the largest magnitude an output sample may have. Zero means
	// [audio.SampleMax].
	Max audio.Sample
}

func (o Output) ceiling() float64 {
	if o.Max <= 0 {
		return float64(audio.SampleMax)
	}
	return float64(o.Max)
}

// Apply scales s by userGain and compressionGain, truncates toward zero and
// saturates.
func (o Output) Apply(s audio.Sample, compressionGain, userGain float64) audio.Sample {
	total := userGain * compressionGain
	return o.Saturate(float64(s) * total)
}

// Saturate truncates v toward zero and clamps it to [-Max, +Max]. NaN maps
// to zero.
func (o Output) Saturate(v float64) audio.Sample {
	if math.IsNaN(v) {
		return 0
	}
	c := o.ceiling()
	return audio.Sample(math.Trunc(min(max(v, -c), c)))
}

// Write encodes f at frame index i of buf.
func (o Output) Write(buf []byte, i int, f audio.StereoFrame) {
	audio.EncodeFrame(buf, i, f)
}
