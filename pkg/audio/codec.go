package audio

import (
	"encoding/binary"
	"fmt"
)

// Format describes the wire format of a hardware stream. Only the sample rate
// varies; the container layout is fixed (see [FrameBytes]).
type Format struct {
	SampleRate int
}

// String returns a human-readable description, e.g. "16000Hz stereo s32le/24".
func (f Format) String() string {
	return fmt.Sprintf("%dHz stereo s32le/24", f.SampleRate)
}

// BytesPerSecond returns the stream data rate for f.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * FrameBytes
}

// DecodeWord converts one little-endian container word (already assembled
// into a uint32) to a 24-bit sample. The word is reinterpreted as a signed
// 32-bit value first, so the arithmetic shift that drops the padding bits
// preserves the sign.
func DecodeWord(w uint32) Sample {
	return Sample(int32(w) >> PaddingBits)
}

// EncodeWord widens a 24-bit sample back into a container word. The padding
// bits are zero and negative samples wrap into their two's complement layout.
// s must already be saturated to [SampleMin, SampleMax].
func EncodeWord(s Sample) uint32 {
	return uint32(int32(s) << PaddingBits)
}

// FrameCount returns the number of whole stereo frames in an n-byte chunk.
func FrameCount(n int) int {
	return n / FrameBytes
}

// Remainder returns the number of trailing bytes of an n-byte chunk that do
// not form a whole frame. Those bytes are never decoded.
func Remainder(n int) int {
	return n % FrameBytes
}

// DecodeFrame reads the frame at frameIndex from buf. buf must hold at least
// (frameIndex+1)*FrameBytes bytes.
func DecodeFrame(buf []byte, frameIndex int) StereoFrame {
	off := frameIndex * FrameBytes
	return StereoFrame{
		Left:  DecodeWord(binary.LittleEndian.Uint32(buf[off:])),
		Right: DecodeWord(binary.LittleEndian.Uint32(buf[off+WordBytes:])),
	}
}

// EncodeFrame writes f into buf at frameIndex, in place.
func EncodeFrame(buf []byte, frameIndex int, f StereoFrame) {
	off := frameIndex * FrameBytes
	binary.LittleEndian.PutUint32(buf[off:], EncodeWord(f.Left))
	binary.LittleEndian.PutUint32(buf[off+WordBytes:], EncodeWord(f.Right))
}

// Encode returns the raw bytes of a single stereo frame.
func Encode(left, right Sample) [FrameBytes]byte {
	var raw [FrameBytes]byte
	EncodeFrame(raw[:], 0, StereoFrame{Left: left, Right: right})
	return raw
}
