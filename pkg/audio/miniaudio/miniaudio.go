// Package miniaudio implements [audio.Device] on top of miniaudio through
// github.com/gen2brain/malgo, so a desktop sound card can stand in for the
// I2S microphones and DAC.
//
// Each stream owns its own malgo context and device. The capture callback
// fills a ring that [audio.InputStream.Read] drains without blocking for
// longer than [Config.PollInterval]; the playback callback drains a ring that
// [audio.OutputStream.Write] fills, zero-filling on underrun.
package miniaudio

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/earloop/pkg/audio"
)

// Config selects devices and buffering for a [Device].
type Config struct {
	// SampleRate in Hz for both directions.
	SampleRate int

	// InputDevice and OutputDevice select a device whose name contains the
	// given substring (case-insensitive). Empty selects the system default.
	InputDevice  string
	OutputDevice string

	// RingFrames is the capacity of each stream ring in stereo frames.
	// Default: 1024.
	RingFrames int

	// PollInterval bounds how long Read waits for captured data before
	// returning zero bytes. Default: 5ms.
	PollInterval time.Duration
}

// Device opens capture and playback streams on sound-card hardware.
type Device struct {
	cfg Config
}

// New returns a Device for cfg, filling defaults for unset fields.
func New(cfg Config) *Device {
	if cfg.RingFrames <= 0 {
		cfg.RingFrames = 1024
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Millisecond
	}
	return &Device{cfg: cfg}
}

// Name implements [audio.Device].
func (d *Device) Name() string { return "miniaudio" }

// OpenInput implements [audio.Device]. The capture device is started before
// OpenInput returns.
func (d *Device) OpenInput(_ context.Context) (audio.InputStream, error) {
	s := &captureStream{
		ring: newRing(d.cfg.RingFrames*audio.FrameBytes, audio.FrameBytes),
		poll: d.cfg.PollInterval,
	}
	h, err := openDevice(malgo.Capture, d.cfg.SampleRate, d.cfg.InputDevice, s.onData)
	if err != nil {
		return nil, fmt.Errorf("miniaudio: open capture: %w", err)
	}
	s.handle = h
	return s, nil
}

// OpenOutput implements [audio.Device]. The playback device is started before
// OpenOutput returns.
func (d *Device) OpenOutput(_ context.Context) (audio.OutputStream, error) {
	s := &playbackStream{
		ring: newRing(d.cfg.RingFrames*audio.FrameBytes, audio.FrameBytes),
	}
	h, err := openDevice(malgo.Playback, d.cfg.SampleRate, d.cfg.OutputDevice, s.onData)
	if err != nil {
		return nil, fmt.Errorf("miniaudio: open playback: %w", err)
	}
	s.handle = h
	return s, nil
}

// handle owns one malgo context and device.
type handle struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	name   string

	closeOnce sync.Once
}

func (h *handle) close() {
	h.closeOnce.Do(func() {
		if h.device != nil {
			h.device.Uninit()
		}
		if h.ctx != nil {
			_ = h.ctx.Uninit()
			h.ctx.Free()
		}
	})
}

// openDevice initialises and starts a device of the given type using the
// fixed stream format.
func openDevice(kind malgo.DeviceType, sampleRate int, match string, onData malgo.DataProc) (*handle, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init context: %w", err)
	}
	h := &handle{ctx: mctx, name: "default"}

	devCfg := malgo.DefaultDeviceConfig(kind)
	devCfg.SampleRate = uint32(sampleRate)
	devCfg.PUserData = nil

	info, err := findDevice(mctx, kind, match)
	if err != nil {
		h.close()
		return nil, err
	}

	switch kind {
	case malgo.Capture:
		devCfg.Capture.Format = malgo.FormatS32
		devCfg.Capture.Channels = audio.Channels
		if info != nil {
			devCfg.Capture.DeviceID = info.ID.Pointer()
		}
	default:
		devCfg.Playback.Format = malgo.FormatS32
		devCfg.Playback.Channels = audio.Channels
		if info != nil {
			devCfg.Playback.DeviceID = info.ID.Pointer()
		}
	}
	if info != nil {
		h.name = info.Name()
	}

	h.device, err = malgo.InitDevice(mctx.Context, devCfg, malgo.DeviceCallbacks{Data: onData})
	if err != nil {
		h.close()
		return nil, fmt.Errorf("init device %q: %w", h.name, err)
	}
	if err := h.device.Start(); err != nil {
		h.close()
		return nil, fmt.Errorf("start device %q: %w", h.name, err)
	}

	slog.Info("miniaudio device started",
		"kind", kindString(kind),
		"device", h.name,
		"format", audio.Format{SampleRate: sampleRate},
	)
	return h, nil
}

// findDevice returns the first device of kind whose name contains match, or
// nil when match is empty.
func findDevice(mctx *malgo.AllocatedContext, kind malgo.DeviceType, match string) (*malgo.DeviceInfo, error) {
	if match == "" {
		return nil, nil
	}
	devices, err := mctx.Devices(kind)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	needle := strings.ToLower(match)
	names := make([]string, 0, len(devices))
	for i := range devices {
		name := devices[i].Name()
		if strings.Contains(strings.ToLower(name), needle) {
			return &devices[i], nil
		}
		names = append(names, name)
	}
	return nil, fmt.Errorf("no %s device matching %q (available: %s)", kindString(kind), match, strings.Join(names, ", "))
}

func kindString(kind malgo.DeviceType) string {
	if kind == malgo.Capture {
		return "capture"
	}
	return "playback"
}

// ─── capture ─────────────────────────────────────────────────────────────────

type captureStream struct {
	handle   *handle
	ring     *ring
	poll     time.Duration
	overruns atomic.Uint64
}

// onData runs on the miniaudio thread.
func (s *captureStream) onData(_, input []byte, _ uint32) {
	if n := s.ring.put(input); n < len(input) {
		s.overruns.Add(1)
	}
}

// Read returns whole frames captured so far. It waits at most one poll
// interval for data and may return 0 bytes.
func (s *captureStream) Read(p []byte) (int, error) {
	if n := s.ring.take(p); n > 0 {
		return n, nil
	}
	s.ring.wait(s.poll)
	return s.ring.take(p), nil
}

// Close stops the capture device and frees its context.
func (s *captureStream) Close() error {
	s.handle.close()
	s.ring.close()
	if n := s.overruns.Load(); n > 0 {
		slog.Warn("miniaudio capture overruns", "device", s.handle.name, "count", n)
	}
	return nil
}

// ─── playback ────────────────────────────────────────────────────────────────

type playbackStream struct {
	handle    *handle
	ring      *ring
	underruns atomic.Uint64
}

// onData runs on the miniaudio thread.
func (s *playbackStream) onData(output, _ []byte, _ uint32) {
	n := s.ring.take(output)
	if n < len(output) {
		clear(output[n:])
		s.underruns.Add(1)
	}
}

// Write blocks until all of p has been queued for playback.
func (s *playbackStream) Write(p []byte) (int, error) {
	if err := s.ring.putAll(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close unblocks any pending Write, stops the playback device and frees its
// context.
func (s *playbackStream) Close() error {
	s.ring.close()
	s.handle.close()
	if n := s.underruns.Load(); n > 0 {
		slog.Debug("miniaudio playback underruns", "device", s.handle.name, "count", n)
	}
	return nil
}
