package pcm

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"testing/iotest"

	"github.com/MrWong99/earloop/pkg/audio"
)

func TestDevice_FileRoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	inPath := filepath.Join(dir, "in.raw")
	outPath := filepath.Join(dir, "out.raw")
	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}
	if err := os.WriteFile(inPath, payload, 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	d := New(inPath, outPath)
	ctx := context.Background()

	in, err := d.OpenInput(ctx)
	if err != nil {
		t.Fatalf("OpenInput: %v", err)
	}
	out, err := d.OpenOutput(ctx)
	if err != nil {
		t.Fatalf("OpenOutput: %v", err)
	}

	data, err := io.ReadAll(in)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if _, err := out.Write(data); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := in.Close(); err != nil {
		t.Errorf("input Close: %v", err)
	}
	if err := out.Close(); err != nil {
		t.Errorf("output Close: %v", err)
	}

	got, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("output = %v, want %v", got, payload)
	}
}

func TestDevice_MissingInputFails(t *testing.T) {
	t.Parallel()
	d := New(filepath.Join(t.TempDir(), "nope.raw"), "")
	_, err := d.OpenInput(context.Background())
	if err == nil {
		t.Fatal("expected error for missing input file, got nil")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("error should wrap os.ErrNotExist, got: %v", err)
	}
}

func TestDevice_StdioDash(t *testing.T) {
	t.Parallel()
	var sink bytes.Buffer
	d := &Device{
		InputPath:  Stdio,
		OutputPath: Stdio,
		stdin:      bytes.NewReader([]byte{0xAA, 0xBB}),
		stdout:     &sink,
	}
	ctx := context.Background()

	in, err := d.OpenInput(ctx)
	if err != nil {
		t.Fatalf("OpenInput: %v", err)
	}
	out, err := d.OpenOutput(ctx)
	if err != nil {
		t.Fatalf("OpenOutput: %v", err)
	}

	data, err := io.ReadAll(in)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if _, err := out.Write(data); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := in.Close(); err != nil {
		t.Errorf("stdin Close should be a no-op, got %v", err)
	}
	if err := out.Close(); err != nil {
		t.Errorf("stdout Close should be a no-op, got %v", err)
	}
	if !bytes.Equal(sink.Bytes(), []byte{0xAA, 0xBB}) {
		t.Errorf("stdout got %v", sink.Bytes())
	}
	if d.Name() != "pcm" {
		t.Errorf("Name() = %q, want pcm", d.Name())
	}
}

// splitReader returns first bytes on its first Read, then the rest of src.
type splitReader struct {
	src   io.Reader
	first int
	done  bool
}

func (r *splitReader) Read(p []byte) (int, error) {
	if !r.done {
		r.done = true
		return r.src.Read(p[:min(r.first, len(p))])
	}
	return r.src.Read(p)
}

func stereo(n int, left, right audio.Sample) []byte {
	buf := make([]byte, 0, n*audio.FrameBytes)
	for range n {
		f := audio.Encode(left, right)
		buf = append(buf, f[:]...)
	}
	return buf
}

func TestDevice_InputStaysFrameAligned(t *testing.T) {
	t.Parallel()

	payload := stereo(128, 1000, -1000)
	tests := []struct {
		name string
		src  io.Reader
	}{
		{"short first read", &splitReader{src: bytes.NewReader(payload), first: 5}},
		{"one byte at a time", iotest.OneByteReader(bytes.NewReader(payload))},
		{"half reads", iotest.HalfReader(bytes.NewReader(payload))},
		{"odd pipe writes", &splitReader{src: iotest.HalfReader(bytes.NewReader(payload)), first: 13}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			d := &Device{stdin: tc.src}
			in, err := d.OpenInput(context.Background())
			if err != nil {
				t.Fatalf("OpenInput: %v", err)
			}
			defer in.Close()

			var frames int
			buf := make([]byte, 512)
			for {
				n, err := in.Read(buf)
				if n%audio.FrameBytes != 0 {
					t.Fatalf("Read returned %d bytes, not whole frames", n)
				}
				for i := range audio.FrameCount(n) {
					if f := audio.DecodeFrame(buf[:n], i); f != (audio.StereoFrame{Left: 1000, Right: -1000}) {
						t.Fatalf("frame %d = %+v, want {1000 -1000}", frames+i, f)
					}
				}
				frames += audio.FrameCount(n)
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					t.Fatalf("Read: %v", err)
				}
			}
			if frames != 128 {
				t.Errorf("frames = %d, want 128", frames)
			}
		})
	}
}

func TestDevice_TrailingPartialFrameAtEOF(t *testing.T) {
	t.Parallel()

	payload := append(stereo(2, 7, -7), 0xAA, 0xBB, 0xCC)
	d := &Device{stdin: iotest.HalfReader(bytes.NewReader(payload))}
	in, err := d.OpenInput(context.Background())
	if err != nil {
		t.Fatalf("OpenInput: %v", err)
	}

	got, err := io.ReadAll(in)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("read %v, want %v", got, payload)
	}
}

func TestDevice_ReadNeedsRoomForAFrame(t *testing.T) {
	t.Parallel()

	d := &Device{stdin: bytes.NewReader(stereo(1, 1, 1))}
	in, err := d.OpenInput(context.Background())
	if err != nil {
		t.Fatalf("OpenInput: %v", err)
	}
	if _, err := in.Read(make([]byte, audio.FrameBytes-1)); !errors.Is(err, io.ErrShortBuffer) {
		t.Errorf("Read into 7 bytes: %v, want io.ErrShortBuffer", err)
	}
}
