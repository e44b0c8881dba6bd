// Package audio defines the sample codec and the stream abstractions that
// connect the earloop signal chain to hardware.
//
// The wire format is fixed: interleaved stereo, one 32-bit little-endian
// container word per channel, with the 24-bit sample left-justified in the
// upper bits. [DecodeFrame] and [EncodeFrame] are the only places that know
// about that layout.
//
// Stream backends (sound cards, raw PCM pipes) live in sub-packages and
// implement [Device].
package audio

import (
	"context"
	"io"
)

// InputStream delivers raw interleaved chunks from a capture device.
//
// Read may return fewer bytes than requested, including zero bytes with a nil
// error when no data is available yet; callers treat that as a poll and retry.
// A finite source returns [io.EOF] once exhausted.
type InputStream interface {
	io.ReadCloser
}

// OutputStream accepts raw interleaved chunks for a playback device. Write
// blocks until the whole chunk has been accepted or the stream fails.
type OutputStream interface {
	io.WriteCloser
}

// Device opens the input and output streams of one hardware endpoint.
//
// Streams are independent: each must be closed by the caller, exactly once.
// Close on a stream must not block on pending I/O for longer than one chunk.
type Device interface {
	// Name identifies the backend in logs (e.g. "miniaudio", "pcm").
	Name() string

	// OpenInput acquires the capture stream.
	OpenInput(ctx context.Context) (InputStream, error)

	// OpenOutput acquires the playback stream.
	OpenOutput(ctx context.Context) (OutputStream, error)
}
