package config

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	// ControlsChanged is true when a knob reading changed. The new readings
	// take effect at the next control refresh.
	ControlsChanged bool
	NewGainReading  int
	NewTimeReading  int

	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired lists changed fields that only take effect on the next
	// start.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.ControlsChanged || d.LogLevelChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oldRd, newRd := old.Controls.Reading(), new.Controls.Reading()
	if oldRd != newRd {
		d.ControlsChanged = true
		d.NewGainReading = int(newRd.Gain)
		d.NewTimeReading = int(newRd.Time)
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Server.ReadyStallAfter != new.Server.ReadyStallAfter {
		d.RestartRequired = append(d.RestartRequired, "server.ready_stall_after")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.Compression != new.Compression {
		d.RestartRequired = append(d.RestartRequired, "compression")
	}
	if !sameRanges(old.Controls, new.Controls) {
		d.RestartRequired = append(d.RestartRequired, "controls")
	}

	return d
}

// sameRanges compares the parts of the controls section that are fixed at
// startup.
func sameRanges(a, b ControlsConfig) bool {
	return a.Source == b.Source &&
		a.IntervalChunks == b.IntervalChunks &&
		a.MinGain == b.MinGain && a.MaxGain == b.MaxGain &&
		a.MinTimeMs == b.MinTimeMs && a.MaxTimeMs == b.MaxTimeMs
}
