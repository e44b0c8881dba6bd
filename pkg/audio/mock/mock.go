// Package mock provides in-memory mock implementations of [audio.Device],
// [audio.InputStream] and [audio.OutputStream] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	in := &mock.InputStream{Chunks: [][]byte{chunk1, chunk2}, Exhausted: io.EOF}
//	out := &mock.OutputStream{}
//	dev := &mock.Device{Input: in, Output: out}
//	l := loop.New(loop.DefaultConfig(), dev, reader, engine)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/earloop/pkg/audio"
)

// ─── InputStream ─────────────────────────────────────────────────────────────

// InputStream is a mock implementation of [audio.InputStream]. Each Read
// returns the next entry of Chunks (copied into the caller's buffer, truncated
// to its length). Once Chunks is exhausted, Read returns (0, Exhausted); a nil
// Exhausted makes every further Read an empty poll.
type InputStream struct {
	mu sync.Mutex

	// Chunks are served in order, one per Read call.
	Chunks [][]byte

	// Exhausted is returned once all Chunks have been served.
	Exhausted error

	// ReadErrors, when set, maps a zero-based Read call index to an error
	// returned alongside that call's chunk.
	ReadErrors map[int]error

	// OnRead, if non-nil, is invoked at the start of every Read with the
	// zero-based call index. Tests use it to cancel a context mid-stream.
	OnRead func(call int)

	// CloseError is returned by Close.
	CloseError error

	// CallCountRead records how many times Read was called.
	CallCountRead int

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Read implements [audio.InputStream].
func (s *InputStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	call := s.CallCountRead
	s.CallCountRead++
	hook := s.OnRead
	s.mu.Unlock()

	if hook != nil {
		hook(call)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if call >= len(s.Chunks) {
		return 0, s.Exhausted
	}
	n := copy(p, s.Chunks[call])
	return n, s.ReadErrors[call]
}

// Close implements [audio.InputStream]. Returns CloseError.
func (s *InputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return s.CloseError
}

// Closes returns the number of Close calls so far.
func (s *InputStream) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountClose
}

// ─── OutputStream ────────────────────────────────────────────────────────────

// OutputStream is a mock implementation of [audio.OutputStream]. Every Write
// is recorded as a copy in Written.
type OutputStream struct {
	mu sync.Mutex

	// WriteError is returned by every Write when non-nil. The chunk is still
	// recorded.
	WriteError error

	// CloseError is returned by Close.
	CloseError error

	// Written holds a copy of each chunk passed to Write, in order.
	Written [][]byte

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Write implements [audio.OutputStream].
func (s *OutputStream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(p))
	copy(cp, p)
	s.Written = append(s.Written, cp)
	if s.WriteError != nil {
		return 0, s.WriteError
	}
	return len(p), nil
}

// Close implements [audio.OutputStream]. Returns CloseError.
func (s *OutputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return s.CloseError
}

// Chunks returns a snapshot of the recorded writes.
func (s *OutputStream) Chunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.Written))
	copy(out, s.Written)
	return out
}

// Closes returns the number of Close calls so far.
func (s *OutputStream) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountClose
}

// ─── Device ──────────────────────────────────────────────────────────────────

// Device is a mock implementation of [audio.Device].
type Device struct {
	mu sync.Mutex

	// DeviceName is returned by Name. Defaults to "mock".
	DeviceName string

	// Input is returned by OpenInput unless OpenInputError is set.
	Input audio.InputStream

	// Output is returned by OpenOutput unless OpenOutputError is set.
	Output audio.OutputStream

	// OpenInputError is returned by OpenInput.
	OpenInputError error

	// OpenOutputError is returned by OpenOutput.
	OpenOutputError error

	// CallCountOpenInput records how many times OpenInput was called.
	CallCountOpenInput int

	// CallCountOpenOutput records how many times OpenOutput was called.
	CallCountOpenOutput int
}

// Name implements [audio.Device].
func (d *Device) Name() string {
	if d.DeviceName == "" {
		return "mock"
	}
	return d.DeviceName
}

// OpenInput implements [audio.Device].
func (d *Device) OpenInput(_ context.Context) (audio.InputStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountOpenInput++
	if d.OpenInputError != nil {
		return nil, d.OpenInputError
	}
	return d.Input, nil
}

// OpenOutput implements [audio.Device].
func (d *Device) OpenOutput(_ context.Context) (audio.OutputStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountOpenOutput++
	if d.OpenOutputError != nil {
		return nil, d.OpenOutputError
	}
	return d.Output, nil
}
