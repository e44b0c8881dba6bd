package control

// Source delivers raw control readings. Implementations must return promptly;
// the processing loop calls Read inline between chunks.
type Source interface {
	Read() Reading
}

// SourceFunc adapts a function to [Source].
type SourceFunc func() Reading

// Read implements [Source].
func (f SourceFunc) Read() Reading { return f() }

// Static is a [Source] that always returns the same reading.
type Static Reading

// Read implements [Source].
func (s Static) Read() Reading { return Reading(s) }

// ClampReading converts arbitrary integers to a [Reading], clamping each to
// the 16-bit ADC range.
func ClampReading(gain, time int) Reading {
	return Reading{Gain: clamp16(gain), Time: clamp16(time)}
}

func clamp16(v int) uint16 {
	return uint16(min(max(v, 0), FullScale))
}
