package playback

import "time"

// State is the lifecycle state of a [Handle].
type State int

const (
	// Scheduled means the unit is waiting for its start time.
	Scheduled State = iota

	// Playing means at least one frame of the unit has been rendered.
	Playing

	// Finished means the unit played to its end.
	Finished

	// Stopped means the unit was cut short by Stop or Interrupt.
	Stopped
)

// String returns the human-readable name of the state.
func (st State) String() string {
	switch st {
	case Scheduled:
		return "scheduled"
	case Playing:
		return "playing"
	case Finished:
		return "finished"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Handle represents one scheduled unit. Callers may ignore it; playback
// proceeds without further action. A handle leaves the scheduler's active set
// on natural completion, on Stop, or on Interrupt.
type Handle struct {
	id         uint64
	sched      *Scheduler
	start      time.Duration
	dur        time.Duration
	startFrame int64
	endFrame   int64
	samples    []float32

	// state is guarded by sched.mu.
	state State
	done  chan struct{}
}

var closedChan = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// finishedHandle returns a detached handle that has already finished.
func finishedHandle() *Handle {
	return &Handle{state: Finished, done: closedChan}
}

// ID returns a per-scheduler sequence number, starting at 1. Detached
// handles for skipped units report 0.
func (h *Handle) ID() uint64 { return h.id }

// Start returns the scheduled start time on the device clock.
func (h *Handle) Start() time.Duration { return h.start }

// Duration returns the unit's duration.
func (h *Handle) Duration() time.Duration { return h.dur }

// End returns Start()+Duration().
func (h *Handle) End() time.Duration { return h.start + h.dur }

// State returns the current lifecycle state.
func (h *Handle) State() State {
	if h.sched == nil {
		return h.state
	}
	h.sched.mu.Lock()
	defer h.sched.mu.Unlock()
	return h.state
}

// Live reports whether the handle is still scheduled or playing.
func (h *Handle) Live() bool {
	st := h.State()
	return st == Scheduled || st == Playing
}

// Done returns a channel closed once the handle is no longer live.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Stop cuts this unit short and removes it from the active set. Later units
// keep their start times. Stop is a no-op on a handle that is no longer live.
func (h *Handle) Stop() {
	if h.sched == nil {
		return
	}
	h.sched.mu.Lock()
	defer h.sched.mu.Unlock()
	if h.state != Scheduled && h.state != Playing {
		return
	}
	h.finishLocked(Stopped)
	h.sched.removeLocked(h)
}

// finishLocked moves the handle to a terminal state. Caller holds sched.mu.
func (h *Handle) finishLocked(st State) {
	if h.state == Finished || h.state == Stopped {
		return
	}
	h.state = st
	close(h.done)
}
