// Package config provides the configuration schema, loader, registry and
// file watcher for earloop.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Well-known audio backends and control sources. Registries may hold more.
const (
	BackendMiniaudio = "miniaudio"
	BackendPCM       = "pcm"

	SourceStatic    = "static"
	SourceFile      = "file"
	SourceWebSocket = "websocket"
)

// Config is the root configuration structure for earloop.
type Config struct {
	// Server configures logging and the optional HTTP listener.
	Server ServerConfig `yaml:"server"`

	// Audio selects the backend and framing of the sample streams.
	Audio AudioConfig `yaml:"audio"`

	// Compression holds the static compression curve.
	Compression CompressionConfig `yaml:"compression"`

	// Controls configures where the two knob readings come from and the
	// ranges they map onto.
	Controls ControlsConfig `yaml:"controls"`
}

// ServerConfig holds process-level settings.
type ServerConfig struct {
	// ListenAddr is the address of the health, metrics and controls HTTP
	// server, e.g. ":9090". Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel sets the minimum log level. Default: info.
	LogLevel LogLevel `yaml:"log_level"`

	// ReadyStallAfter fails /readyz when no audio chunk arrived for this
	// long while the loop runs. Default: 2s. Negative disables the check.
	ReadyStallAfter time.Duration `yaml:"ready_stall_after"`
}

// AudioConfig describes the sample streams.
type AudioConfig struct {
	// Backend names the registered audio device factory. Default: miniaudio.
	Backend string `yaml:"backend"`

	// SampleRate in Hz. Default: 16000.
	SampleRate int `yaml:"sample_rate"`

	// ChunkBytes is the read size of the processing loop. Must be a multiple
	// of 8 (one stereo frame). Default: 512.
	ChunkBytes int `yaml:"chunk_bytes"`

	// Input and Output are file paths for the pcm backend; "-" selects
	// stdin and stdout. Default: "-".
	Input  string `yaml:"input"`
	Output string `yaml:"output"`

	// InputDevice and OutputDevice select sound-card devices for the
	// miniaudio backend by case-insensitive name substring. Empty selects
	// the system default.
	InputDevice  string `yaml:"input_device"`
	OutputDevice string `yaml:"output_device"`

	// RingFrames sizes the miniaudio capture and playback rings in stereo
	// frames. Default: 1024.
	RingFrames int `yaml:"ring_frames"`
}

// CompressionConfig holds the static compression curve.
type CompressionConfig struct {
	// Threshold is the envelope level above which compression starts.
	// Default: 500000.
	Threshold float64 `yaml:"threshold"`

	// Ratio is the compression ratio; 1 disables compression. Default: 3.
	Ratio float64 `yaml:"ratio"`
}

// ControlsConfig configures the knob readings.
type ControlsConfig struct {
	// Source names the registered control source. Default: static.
	Source string `yaml:"source"`

	// IntervalChunks is the number of chunks between control refreshes.
	// Default: 20.
	IntervalChunks int `yaml:"interval_chunks"`

	// MinGain and MaxGain bound the user gain. Default: 0.5 and 8.0.
	MinGain float64 `yaml:"min_gain"`
	MaxGain float64 `yaml:"max_gain"`

	// MinTimeMs and MaxTimeMs bound the envelope time constant.
	// Default: 5 and 200.
	MinTimeMs float64 `yaml:"min_time_ms"`
	MaxTimeMs float64 `yaml:"max_time_ms"`

	// GainReading and TimeReading are raw 16-bit knob positions used by the
	// static and file sources. The defaults select unity gain and the
	// fastest time constant.
	GainReading *int `yaml:"gain_reading"`
	TimeReading *int `yaml:"time_reading"`
}
