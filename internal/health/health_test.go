package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/earloop/internal/loop"
)

type fakeLoop struct {
	mu     sync.Mutex
	state  loop.State
	chunks uint64
}

func (f *fakeLoop) State() loop.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeLoop) Stats() loop.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return loop.Stats{Chunks: f.chunks}
}

func (f *fakeLoop) advance(n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks += n
}

// fakeClock is a manually advanced time source.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time        { return c.t }
func (c *fakeClock) sleep(d time.Duration) { c.t = c.t.Add(d) }

func probe(t *testing.T, h http.Handler, path string) (int, response) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("%s Content-Type = %q", path, ct)
	}
	var body response
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("%s: decode JSON: %v", path, err)
	}
	return rec.Code, body
}

func newMux(h *Handler) *http.ServeMux {
	mux := http.NewServeMux()
	h.Register(mux)
	return mux
}

func ok(context.Context) error { return nil }

func TestHealthz_IndependentOfChecks(t *testing.T) {
	t.Parallel()

	mux := newMux(New(LoopChecker(&fakeLoop{state: loop.Stopped}, 0)))
	code, body := probe(t, mux, "/healthz")
	if code != http.StatusOK || body.Status != "ok" {
		t.Errorf("healthz = %d %q, want 200 ok", code, body.Status)
	}
	if body.Checks != nil {
		t.Errorf("healthz checks = %v, want none", body.Checks)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		checkers []Checker
		code     int
		status   string
		checks   map[string]string
	}{
		{
			name:   "no checkers",
			code:   http.StatusOK,
			status: "ok",
			checks: map[string]string{},
		},
		{
			name: "all pass",
			checkers: []Checker{
				{Name: "audio", Check: ok},
				{Name: "controls", Check: ok},
			},
			code:   http.StatusOK,
			status: "ok",
			checks: map[string]string{"audio": "ok", "controls": "ok"},
		},
		{
			name: "one fails",
			checkers: []Checker{
				{Name: "audio", Check: func(context.Context) error { return errors.New("capture device gone") }},
				{Name: "controls", Check: ok},
			},
			code:   http.StatusServiceUnavailable,
			status: "fail",
			checks: map[string]string{"audio": "fail: capture device gone", "controls": "ok"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			code, body := probe(t, newMux(New(tc.checkers...)), "/readyz")
			if code != tc.code || body.Status != tc.status {
				t.Errorf("readyz = %d %q, want %d %q", code, body.Status, tc.code, tc.status)
			}
			if len(body.Checks) != len(tc.checks) {
				t.Errorf("checks = %v, want %v", body.Checks, tc.checks)
			}
			for k, want := range tc.checks {
				if got := body.Checks[k]; got != want {
					t.Errorf("check %q = %q, want %q", k, got, want)
				}
			}
		})
	}
}

func TestReadyz_CheckSeesRequestCancellation(t *testing.T) {
	t.Parallel()

	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil).WithContext(ctx))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestLoopChecker_FollowsLoopState(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state loop.State
		code  int
		check string
	}{
		{loop.Idle, http.StatusServiceUnavailable, "fail: loop is idle"},
		{loop.Running, http.StatusOK, "ok"},
		{loop.Draining, http.StatusServiceUnavailable, "fail: loop is draining"},
		{loop.Stopped, http.StatusServiceUnavailable, "fail: loop is stopped"},
	}
	for _, tc := range tests {
		t.Run(tc.state.String(), func(t *testing.T) {
			t.Parallel()
			mux := newMux(New(LoopChecker(&fakeLoop{state: tc.state}, time.Second)))
			code, body := probe(t, mux, "/readyz")
			if code != tc.code {
				t.Errorf("status = %d, want %d", code, tc.code)
			}
			if got := body.Checks["loop"]; got != tc.check {
				t.Errorf("loop check = %q, want %q", got, tc.check)
			}
		})
	}
}

func TestLoopChecker_DetectsStalledAudio(t *testing.T) {
	t.Parallel()

	l := &fakeLoop{state: loop.Running}
	clock := &fakeClock{t: time.Unix(1000, 0)}
	c := loopChecker(l, 2*time.Second, clock.now)
	ctx := context.Background()

	if err := c.Check(ctx); err != nil {
		t.Fatalf("first check: %v", err)
	}

	// Audio flowing: the counter moves between probes.
	clock.sleep(5 * time.Second)
	l.advance(250)
	if err := c.Check(ctx); err != nil {
		t.Fatalf("check with progress: %v", err)
	}

	// Within the window.
	clock.sleep(time.Second)
	if err := c.Check(ctx); err != nil {
		t.Fatalf("check within window: %v", err)
	}

	// Stalled.
	clock.sleep(1500 * time.Millisecond)
	err := c.Check(ctx)
	if err == nil || err.Error() != "no audio for 2.5s" {
		t.Fatalf("stalled check = %v, want no audio for 2.5s", err)
	}

	// Recovers as soon as chunks arrive again.
	l.advance(1)
	if err := c.Check(ctx); err != nil {
		t.Fatalf("check after recovery: %v", err)
	}
}

func TestLoopChecker_StallDisabled(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{t: time.Unix(0, 0)}
	c := loopChecker(&fakeLoop{state: loop.Running}, 0, clock.now)
	for range 3 {
		clock.sleep(time.Hour)
		if err := c.Check(context.Background()); err != nil {
			t.Fatalf("check with stall detection off: %v", err)
		}
	}
}
