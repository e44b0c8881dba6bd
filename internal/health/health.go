// Package health serves the liveness and readiness probes of earloop.
//
// /healthz answers 200 while the process can serve HTTP. /readyz answers 200
// only while every [Checker] passes; [LoopChecker] ties it to the processing
// loop, so a drained, failed or stalled loop takes the device out of rotation
// while /healthz stays green.
//
// Both return JSON with a top-level "status" ("ok" or "fail"); /readyz adds a
// "checks" map with the outcome of each named checker.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/earloop/internal/loop"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when healthy.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// LoopProbe is the view of a processing loop the readiness check needs.
// [*loop.Loop] implements it.
type LoopProbe interface {
	State() loop.State
	Stats() loop.Stats
}

// LoopChecker passes while l is [loop.Running] and, when stallAfter is
// positive, while its chunk counter has moved within the last stallAfter.
// A sound card that stops delivering audio leaves the loop running but
// polling empty reads forever; the stall window catches that.
func LoopChecker(l LoopProbe, stallAfter time.Duration) Checker {
	return loopChecker(l, stallAfter, time.Now)
}

func loopChecker(l LoopProbe, stallAfter time.Duration, now func() time.Time) Checker {
	w := &stallWatch{now: now}
	return Checker{
		Name: "loop",
		Check: func(context.Context) error {
			if s := l.State(); s != loop.Running {
				return fmt.Errorf("loop is %s", s)
			}
			if stallAfter <= 0 {
				return nil
			}
			if idle := w.observe(l.Stats().Chunks); idle > stallAfter {
				return fmt.Errorf("no audio for %s", idle.Round(time.Millisecond))
			}
			return nil
		},
	}
}

// stallWatch remembers when a counter last changed.
type stallWatch struct {
	now func() time.Time

	mu      sync.Mutex
	last    uint64
	changed time.Time
}

// observe records count and returns how long it has been unchanged.
func (s *stallWatch) observe(count uint64) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if s.changed.IsZero() || count != s.last {
		s.last, s.changed = count, now
		return 0
	}
	return now.Sub(s.changed)
}

type response struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction.
type Handler struct {
	checkers []Checker
}

// New returns a Handler evaluating checkers, in order, on each /readyz.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, response{Status: "ok"})
}

// Readyz is the readiness probe. Each checker gets [checkTimeout].
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := response{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	code := http.StatusOK

	for _, c := range h.checkers {
		if err := run(r.Context(), c); err != nil {
			res.Checks[c.Name] = "fail: " + err.Error()
			res.Status = "fail"
			code = http.StatusServiceUnavailable
			continue
		}
		res.Checks[c.Name] = "ok"
	}
	writeJSON(w, code, res)
}

func run(ctx context.Context, c Checker) error {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	return c.Check(ctx)
}

// Register adds GET /healthz and GET /readyz to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
