package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/earloop/internal/config"
)

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"defaults", ``, ""},
		{"bad log level", "server:\n  log_level: loud\n", "server.log_level"},
		{"chunk not frame aligned", "audio:\n  chunk_bytes: 510\n", "audio.chunk_bytes"},
		{"negative chunk", "audio:\n  chunk_bytes: -8\n", "audio.chunk_bytes"},
		{"negative sample rate", "audio:\n  sample_rate: -1\n", "audio.sample_rate"},
		{"negative ring", "audio:\n  ring_frames: -1\n", "audio.ring_frames"},
		{"negative threshold", "compression:\n  threshold: -1\n", "compression.threshold"},
		{"ratio below one", "compression:\n  ratio: 0.5\n", "compression.ratio"},
		{"zero interval after default", "controls:\n  interval_chunks: -2\n", "controls.interval_chunks"},
		{"negative min gain", "controls:\n  min_gain: -1\n  max_gain: 2\n", "controls.min_gain must not be negative"},
		{"inverted gain range", "controls:\n  min_gain: 4\n  max_gain: 2\n", "controls.min_gain 4 is above"},
		{"inverted time range", "controls:\n  min_time_ms: 50\n  max_time_ms: 10\n", "controls.min_time_ms 50 is above"},
		{"sub-sample time", "controls:\n  min_time_ms: 0.01\n  max_time_ms: 10\n", "shorter than one sample"},
		{"zero min time", "controls:\n  min_time_ms: 0\n  max_time_ms: 10\n", "controls.min_time_ms must be positive"},
		{"reading too large", "controls:\n  gain_reading: 70000\n", "controls.gain_reading"},
		{"negative reading", "controls:\n  time_reading: -1\n", "controls.time_reading"},
		{"unknown backend only warns", "audio:\n  backend: jack\n", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tc.yaml))
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error mentioning %q, got nil", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error should mention %q, got: %v", tc.wantErr, err)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
audio:
  chunk_bytes: 7
compression:
  ratio: 0.1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	for _, want := range []string{"audio.chunk_bytes", "compression.ratio"} {
		if !strings.Contains(errStr, want) {
			t.Errorf("error should mention %s, got: %v", want, err)
		}
	}
}

func TestKnownNames(t *testing.T) {
	t.Parallel()
	if len(config.KnownBackends) != 2 || len(config.KnownSources) != 3 {
		t.Errorf("KnownBackends = %v, KnownSources = %v", config.KnownBackends, config.KnownSources)
	}
}
