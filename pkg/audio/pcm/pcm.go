// Package pcm implements [audio.Device] over raw S32_LE stereo files and
// pipes, so the signal chain can sit between ALSA tools:
//
//	arecord -f S32_LE -c 2 -r 16000 -t raw | earloop --backend pcm | aplay -f S32_LE -c 2 -r 16000
//
// The path "-" selects stdin for input and stdout for output.
package pcm

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/MrWong99/earloop/pkg/audio"
)

// Stdio is the path that selects the process's standard streams.
const Stdio = "-"

// Device opens raw PCM files. The zero value reads stdin and writes stdout.
type Device struct {
	// InputPath is the capture file; "" or "-" means stdin.
	InputPath string

	// OutputPath is the playback file; "" or "-" means stdout. The file is
	// created or truncated.
	OutputPath string

	// stdin and stdout are overridable in tests.
	stdin  io.Reader
	stdout io.Writer
}

// New returns a Device for the given paths.
func New(inputPath, outputPath string) *Device {
	return &Device{InputPath: inputPath, OutputPath: outputPath}
}

// Name implements [audio.Device].
func (d *Device) Name() string { return "pcm" }

// OpenInput implements [audio.Device].
func (d *Device) OpenInput(_ context.Context) (audio.InputStream, error) {
	if d.InputPath == "" || d.InputPath == Stdio {
		r := d.stdin
		if r == nil {
			r = os.Stdin
		}
		return newFrameReader(&stdioReader{r: r}), nil
	}
	f, err := os.Open(d.InputPath)
	if err != nil {
		return nil, fmt.Errorf("pcm: open input %q: %w", d.InputPath, err)
	}
	return newFrameReader(f), nil
}

// OpenOutput implements [audio.Device].
func (d *Device) OpenOutput(_ context.Context) (audio.OutputStream, error) {
	if d.OutputPath == "" || d.OutputPath == Stdio {
		w := d.stdout
		if w == nil {
			w = os.Stdout
		}
		return &stdioWriter{w: w}, nil
	}
	f, err := os.Create(d.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("pcm: create output %q: %w", d.OutputPath, err)
	}
	return f, nil
}

// frameReader returns whole stereo frames only. Pipes may deliver any number
// of bytes per read; a partial frame is held back and completed by the next
// read, so every chunk the loop sees starts on a frame boundary. Held bytes
// are released with the final read error.
type frameReader struct {
	src  io.ReadCloser
	held [audio.FrameBytes]byte
	n    int
}

func newFrameReader(src io.ReadCloser) *frameReader {
	return &frameReader{src: src}
}

func (r *frameReader) Read(p []byte) (int, error) {
	limit := len(p) - len(p)%audio.FrameBytes
	if limit == 0 {
		return 0, io.ErrShortBuffer
	}

	n := copy(p, r.held[:r.n])
	r.n = 0
	m, err := r.src.Read(p[n:limit])
	n += m
	if err != nil {
		return n, err
	}

	whole := n - n%audio.FrameBytes
	r.n = copy(r.held[:], p[whole:n])
	return whole, nil
}

func (r *frameReader) Close() error { return r.src.Close() }

// stdioReader leaves the process's stdin open on Close.
type stdioReader struct {
	r io.Reader
}

func (s *stdioReader) Read(p []byte) (int, error) { return s.r.Read(p) }
func (s *stdioReader) Close() error               { return nil }

// stdioWriter flushes nothing and leaves stdout open on Close; the process
// exit closes it and downstream readers see EOF.
type stdioWriter struct {
	w io.Writer
}

func (s *stdioWriter) Write(p []byte) (int, error) { return s.w.Write(p) }
func (s *stdioWriter) Close() error                { return nil }
