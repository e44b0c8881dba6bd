package loop

// State is the lifecycle state of a [Loop].
type State int32

const (
	// Idle: constructed, streams not yet acquired.
	Idle State = iota
	// Running: both streams acquired, chunks flowing.
	Running
	// Draining: stop requested or input ended, releasing streams.
	Draining
	// Stopped: streams released, or never acquired when Run failed with
	// ErrAcquire. Terminal.
	Stopped
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}
