package audio

// Sample is one channel value at the effective 24-bit resolution of the
// converters. It lives in an int32 and is always within [SampleMin, SampleMax]
// once it leaves the output stage.
type Sample int32

const (
	// WordBytes is the width of one hardware container word.
	WordBytes = 4

	// Channels is the number of interleaved channels per frame (left, right).
	Channels = 2

	// FrameBytes is the byte stride of one interleaved stereo frame.
	FrameBytes = WordBytes * Channels

	// PaddingBits is the number of low zero bits below the 24-bit sample in
	// each container word.
	PaddingBits = 8

	// SampleMax is the largest representable 24-bit sample (0x7FFFFF).
	SampleMax Sample = 1<<23 - 1

	// SampleMin is the smallest representable 24-bit sample.
	SampleMin Sample = -1 << 23
)

// StereoFrame is one left+right sample pair at a single instant.
type StereoFrame struct {
	Left  Sample
	Right Sample
}

// Abs returns the magnitude of s as a float64. Taking the magnitude in
// floating point avoids the int32 overflow of negating SampleMin-sized values
// produced by out-of-range container words.
func (s Sample) Abs() float64 {
	if s < 0 {
		return -float64(s)
	}
	return float64(s)
}
