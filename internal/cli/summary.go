package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/MrWong99/earloop/internal/config"
	"github.com/MrWong99/earloop/pkg/audio"
)

// Summary renders the startup summary box for cfg.
func Summary(cfg *config.Config, version string) string {
	rows := [][2]string{
		{"Backend", backendValue(cfg.Audio)},
		{"Format", formatValue(audio.Format{SampleRate: cfg.Audio.SampleRate})},
		{"Chunk", fmt.Sprintf("%d bytes (%d frames)", cfg.Audio.ChunkBytes, audio.FrameCount(cfg.Audio.ChunkBytes))},
		{"Threshold", fmt.Sprintf("%g", cfg.Compression.Threshold)},
		{"Ratio", fmt.Sprintf("%g:1", cfg.Compression.Ratio)},
		{"Gain", fmt.Sprintf("%g .. %g", cfg.Controls.MinGain, cfg.Controls.MaxGain)},
		{"Time", fmt.Sprintf("%g .. %g ms", cfg.Controls.MinTimeMs, cfg.Controls.MaxTimeMs)},
		{"Controls", fmt.Sprintf("%s, every %d chunks", cfg.Controls.Source, cfg.Controls.IntervalChunks)},
	}
	if cfg.Server.ListenAddr != "" {
		rows = append(rows, [2]string{"HTTP", cfg.Server.ListenAddr})
	} else {
		rows = append(rows, [2]string{"HTTP", "(disabled)"})
	}

	var sb strings.Builder
	for i, r := range rows {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, KeyStyle.Render(r[0]), ValueStyle.Render(r[1])))
	}

	title := TitleStyle.MarginBottom(0).Render("earloop " + version)
	return lipgloss.JoinVertical(lipgloss.Left, title, boxStyle.Render(sb.String()))
}

// PrintSummary writes [Summary] to w.
func PrintSummary(w io.Writer, cfg *config.Config, version string) {
	fmt.Fprintln(w, Summary(cfg, version))
}

func backendValue(a config.AudioConfig) string {
	switch a.Backend {
	case config.BackendPCM:
		return fmt.Sprintf("pcm (%s -> %s)", a.Input, a.Output)
	case config.BackendMiniaudio:
		in, out := a.InputDevice, a.OutputDevice
		if in == "" {
			in = "default"
		}
		if out == "" {
			out = "default"
		}
		return fmt.Sprintf("miniaudio (%s -> %s)", in, out)
	}
	return a.Backend
}

// formatValue appends the data rate, e.g. "16000Hz stereo s32le/24, 128 kB/s".
func formatValue(f audio.Format) string {
	return fmt.Sprintf("%s, %g kB/s", f, float64(f.BytesPerSecond())/1000)
}
