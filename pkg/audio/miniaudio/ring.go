package miniaudio

import (
	"errors"
	"sync"
	"time"
)

// errClosed is returned by writeAll once the ring has been closed.
var errClosed = errors.New("miniaudio: stream closed")

// ring is a fixed-size byte FIFO shared between a device callback and the
// processing loop. All transfers are whole multiples of align bytes so a
// reader never sees half a frame.
type ring struct {
	mu    sync.Mutex
	space *sync.Cond // signalled when bytes are consumed or the ring closes

	buf   []byte
	align int
	read  int
	count int

	closed bool

	// ready carries a wake-up for a reader polling an empty ring.
	ready chan struct{}
}

// newRing returns a ring holding at most size bytes, rounded down to align.
func newRing(size, align int) *ring {
	if align <= 0 {
		align = 1
	}
	size -= size % align
	if size < align {
		size = align
	}
	r := &ring{
		buf:   make([]byte, size),
		align: align,
		ready: make(chan struct{}, 1),
	}
	r.space = sync.NewCond(&r.mu)
	return r
}

// put copies as much of p as fits without blocking and returns the number of
// bytes stored. Data that does not fit is dropped.
func (r *ring) put(p []byte) int {
	r.mu.Lock()
	n := r.putLocked(p)
	r.mu.Unlock()
	if n > 0 {
		r.wake()
	}
	return n
}

// putAll blocks until every byte of p is stored or the ring is closed.
func (r *ring) putAll(p []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for len(p) > 0 {
		for !r.closed && len(r.buf)-r.count < r.align {
			r.space.Wait()
		}
		if r.closed {
			return errClosed
		}
		n := r.putLocked(p)
		p = p[n:]
		r.wake()
	}
	return nil
}

func (r *ring) putLocked(p []byte) int {
	n := min(len(p), len(r.buf)-r.count)
	n -= n % r.align
	write := (r.read + r.count) % len(r.buf)
	for i := range n {
		r.buf[(write+i)%len(r.buf)] = p[i]
	}
	r.count += n
	return n
}

// take copies up to len(p) buffered bytes into p without blocking.
func (r *ring) take(p []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := min(len(p), r.count)
	n -= n % r.align
	for i := range n {
		p[i] = r.buf[(r.read+i)%len(r.buf)]
	}
	r.read = (r.read + n) % len(r.buf)
	r.count -= n
	if n > 0 {
		r.space.Broadcast()
	}
	return n
}

// wait blocks until new data may be available or d elapses.
func (r *ring) wait(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-r.ready:
	case <-t.C:
	}
}

// buffered returns the number of bytes currently stored.
func (r *ring) buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// close wakes every blocked writer; later putAll calls fail.
func (r *ring) close() {
	r.mu.Lock()
	r.closed = true
	r.space.Broadcast()
	r.mu.Unlock()
	r.wake()
}

func (r *ring) wake() {
	select {
	case r.ready <- struct{}{}:
	default:
	}
}
