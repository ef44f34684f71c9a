package audio

// InterruptReason identifies why scheduled playback was cut short. It is
// passed to the scheduler's Interrupt so that logs and metrics can tell
// server-driven barge-in apart from teardown.
type InterruptReason int

const (
	// ServerInterrupted indicates the remote model signalled that the user
	// started speaking while it was still talking.
	ServerInterrupted InterruptReason = iota

	// BargeIn indicates a local barge-in decision, e.g. from the control API.
	BargeIn

	// Teardown indicates the session is shutting down after a fatal error or
	// an explicit stop.
	Teardown

	// Manual indicates a new stream replaced the previous one on purpose.
	Manual
)

// String returns the human-readable name of the interrupt reason.
func (r InterruptReason) String() string {
	switch r {
	case ServerInterrupted:
		return "SERVER_INTERRUPTED"
	case BargeIn:
		return "BARGE_IN"
	case Teardown:
		return "TEARDOWN"
	case Manual:
		return "MANUAL"
	default:
		return "UNKNOWN"
	}
}
