package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/MrWong99/earloop/internal/control"
)

// snapshot is one successfully loaded version of the watched file.
type snapshot struct {
	cfg   *Config
	mtime time.Time
	hash  [sha256.Size]byte
}

// Watcher polls a config file and publishes each valid new version. A file
// whose mtime moved but whose content hash did not is ignored. Invalid edits
// are logged and skipped; the last valid config stays current.
//
// Current never blocks, so [Watcher.Source] may be sampled from the
// processing loop.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	snap    atomic.Pointer[snapshot]
	reloads atomic.Uint64

	cancel context.CancelFunc
	done   chan struct{}
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 1 second.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and starts polling it in the background. onChange,
// if non-nil, is called from the polling goroutine after every reload.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: time.Second,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	snap, err := readSnapshot(path)
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.snap.Store(snap)

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	go w.poll(ctx)
	return w, nil
}

// Current returns the most recently loaded valid config. Callers must not
// modify it.
func (w *Watcher) Current() *Config {
	return w.snap.Load().cfg
}

// Reloads returns how many changed configs have been applied.
func (w *Watcher) Reloads() uint64 {
	return w.reloads.Load()
}

// Source returns a control source reporting the knob readings of the current
// config. Edits to controls.gain_reading and controls.time_reading take
// effect at the next control refresh.
func (w *Watcher) Source() control.Source {
	return control.SourceFunc(func() control.Reading {
		return w.Current().Controls.Reading()
	})
}

// Stop ends polling and waits for the polling goroutine to exit. It is safe
// to call more than once.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

func (w *Watcher) poll(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// check reloads the file if it changed since the last snapshot.
func (w *Watcher) check() {
	prev := w.snap.Load()

	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}
	if info.ModTime().Equal(prev.mtime) {
		return
	}

	next, err := readSnapshot(w.path)
	if err != nil {
		slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		return
	}
	if next.hash == prev.hash {
		// Touched only; remember the mtime so the file is not re-read.
		w.snap.Store(&snapshot{cfg: prev.cfg, mtime: next.mtime, hash: prev.hash})
		return
	}

	w.snap.Store(next)
	w.reloads.Add(1)
	slog.Info("config watcher: configuration reloaded", "path", w.path)

	if w.onChange != nil {
		w.onChange(prev.cfg, next.cfg)
	}
}

// readSnapshot reads, parses and validates the file at path.
func readSnapshot(path string) (*snapshot, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return &snapshot{cfg: cfg, mtime: info.ModTime(), hash: sha256.Sum256(data)}, nil
}
