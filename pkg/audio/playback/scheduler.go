// Package playback lays decoded audio units out back to back on the timeline
// of an output device and supports cancelling everything at once.
//
// A [Scheduler] owns the "next start" cursor and the set of in-flight
// [Handle] values. Producers call [Scheduler.ScheduleNext] from any goroutine;
// the output device pulls mixed samples through [Scheduler.Render] on its own
// real-time clock, which also advances the scheduler's notion of "now".
//
// Start positions are converted to output frames so that a unit ending at t
// and the next one starting at t share a frame boundary. Consecutive units
// therefore tile with neither a gap nor an overlap.
package playback

import (
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Renderer = (*Scheduler)(nil)

// Tap observes every rendered output block, e.g. for level metering or
// recording. Observe is called from the render goroutine after the mix is
// complete; it must not block and must not retain samples.
type Tap interface {
	Observe(samples []float32)
}

// Option is a functional option for configuring a Scheduler.
type Option func(*Scheduler)

// WithTap attaches a tap to the rendered output.
func WithTap(t Tap) Option {
	return func(s *Scheduler) {
		s.tap = t
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		s.log = l
	}
}

// WithScheduleHook registers a function called after every successful
// ScheduleNext with the delay until the unit starts and its duration.
func WithScheduleHook(fn func(lag, dur time.Duration)) Option {
	return func(s *Scheduler) {
		s.onSchedule = fn
	}
}

// WithInterruptHook registers a function called after every Interrupt with
// the reason and the number of handles it stopped.
func WithInterruptHook(fn func(reason audio.InterruptReason, stopped int)) Option {
	return func(s *Scheduler) {
		s.onInterrupt = fn
	}
}

// Scheduler schedules audio units for gapless sequential playback.
// All methods are safe for concurrent use.
type Scheduler struct {
	rate int
	log  *slog.Logger
	tap  Tap

	onSchedule  func(lag, dur time.Duration)
	onInterrupt func(audio.InterruptReason, int)

	// streamMu serialises ScheduleNext so units enter the resampler in
	// cursor order. Render and Interrupt never take it.
	streamMu sync.Mutex
	stream   *resampleStream

	mu     sync.Mutex
	frames int64         // output frames rendered so far; the device clock
	cursor time.Duration // next available start time
	active []*Handle
	nextID uint64
	epoch  uint64 // bumped by Interrupt; invalidates stream
	onIdle func()
}

// New creates a Scheduler rendering mono audio at outputRate Hz.
func New(outputRate int, opts ...Option) *Scheduler {
	if outputRate <= 0 {
		outputRate = audio.PlaybackSampleRate
	}
	s := &Scheduler{
		rate: outputRate,
		log:  slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SampleRate returns the output rate.
func (s *Scheduler) SampleRate() int {
	return s.rate
}

// OnIdle registers fn to be called, from the render goroutine, whenever the
// last active handle finishes naturally. It is not called after Interrupt.
func (s *Scheduler) OnIdle(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onIdle = fn
}

// Now returns the device clock: the playback time of the next sample the
// device will pull.
func (s *Scheduler) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nowLocked()
}

func (s *Scheduler) nowLocked() time.Duration {
	return framesToDuration(s.frames, s.rate)
}

// Cursor returns the next available start time. It is zero after Interrupt.
func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Active returns the number of scheduled or playing handles.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// ScheduleNext schedules unit to start at max(cursor, now) and advances the
// cursor by the unit's duration. Units play in call order with no gap as long
// as calls keep pace with playback.
//
// Units at a rate other than the output rate go through one streaming
// resampler that is kept while units arrive back to back at the same rate,
// so boundaries between them stay continuous. The stream is restarted after
// a gap, a rate change or an Interrupt.
//
// A unit with a zero sample rate or no samples yields an already finished
// handle and leaves the cursor untouched.
func (s *Scheduler) ScheduleNext(unit audio.AudioUnit) *Handle {
	if err := unit.Validate(); err != nil || len(unit.Samples) == 0 {
		s.log.Debug("playback: skipping empty unit", "sampleRate", unit.SampleRate, "samples", len(unit.Samples))
		return finishedHandle()
	}

	dur := unit.Duration()
	rate := int(unit.SampleRate)

	s.streamMu.Lock()
	defer s.streamMu.Unlock()

	samples := unit.Samples
	if rate != s.rate {
		s.mu.Lock()
		now := s.nowLocked()
		start := max(s.cursor, now)
		// A unit continues the stream only if it starts exactly where the
		// previous one ended and nothing was interrupted in between.
		contiguous := s.stream != nil && s.stream.from == rate &&
			s.stream.epoch == s.epoch && s.cursor >= now
		n := int(durationToFrames(start+dur, s.rate) - durationToFrames(start, s.rate))
		epoch := s.epoch
		s.mu.Unlock()

		if !contiguous {
			s.stream = newResampleStream(rate, s.rate, epoch)
		}
		samples = s.stream.next(unit.Samples, n)
	} else {
		s.stream = nil
	}

	s.mu.Lock()
	now := s.nowLocked()
	start := max(s.cursor, now)
	s.nextID++
	h := &Handle{
		id:         s.nextID,
		sched:      s,
		start:      start,
		dur:        dur,
		startFrame: durationToFrames(start, s.rate),
		endFrame:   durationToFrames(start+dur, s.rate),
		samples:    samples,
		done:       make(chan struct{}),
	}
	s.cursor = start + dur
	s.active = append(s.active, h)
	hook := s.onSchedule
	s.mu.Unlock()

	if hook != nil {
		hook(start-now, dur)
	}
	return h
}

// Interrupt stops every scheduled and playing handle immediately, clears the
// active set and resets the cursor to zero so the next unit starts at "now".
// The resampler stream is discarded by the next ScheduleNext.
// It is safe to call at any time, including concurrently with ScheduleNext
// and Render, and is a no-op when nothing is active.
func (s *Scheduler) Interrupt(reason audio.InterruptReason) {
	s.mu.Lock()
	stopped := len(s.active)
	for _, h := range s.active {
		h.finishLocked(Stopped)
	}
	clear(s.active)
	s.active = s.active[:0]
	s.cursor = 0
	s.epoch++
	hook := s.onInterrupt
	s.mu.Unlock()

	if stopped > 0 {
		s.log.Debug("playback: interrupted", "reason", reason.String(), "stopped", stopped)
	}
	if hook != nil {
		hook(reason, stopped)
	}
}

// Render implements [audio.Renderer]. It mixes every handle overlapping the
// next len(out) frames into out, advances the device clock and retires the
// handles that have finished.
func (s *Scheduler) Render(out []float32) {
	clear(out)

	s.mu.Lock()
	from := s.frames
	to := from + int64(len(out))

	for _, h := range s.active {
		lo := max(from, h.startFrame)
		hi := min(to, h.endFrame)
		if lo >= hi {
			continue
		}
		if h.state == Scheduled {
			h.state = Playing
		}
		for f := lo; f < hi; f++ {
			if idx := f - h.startFrame; idx < int64(len(h.samples)) {
				out[f-from] += h.samples[idx]
			}
		}
	}
	s.frames = to

	kept := s.active[:0]
	for _, h := range s.active {
		if h.endFrame <= to {
			h.finishLocked(Finished)
			continue
		}
		kept = append(kept, h)
	}
	retired := len(s.active) - len(kept)
	clear(s.active[len(kept):])
	s.active = kept

	var idle func()
	if retired > 0 && len(s.active) == 0 {
		idle = s.onIdle
	}
	tap := s.tap
	s.mu.Unlock()

	for i, v := range out {
		out[i] = audio.Clamp(v)
	}
	if tap != nil {
		tap.Observe(out)
	}
	if idle != nil {
		idle()
	}
}

// ─── Resampling ─────────────────────────────────────────────────────────────

// resampleStream carries one resampler across contiguous units. The filter
// delays its output by a fixed number of frames; instead of cutting that tail
// off every unit, the surplus is held in pending and played at the head of
// the next unit. Only the very first unit of a stream starts with the ramp.
type resampleStream struct {
	from    int
	epoch   uint64
	r       *audio.Resampler
	pending []float32
	debt    int // padded frames to drop from the next output
}

func newResampleStream(from, to int, epoch uint64) *resampleStream {
	return &resampleStream{
		from:  from,
		epoch: epoch,
		r:     audio.NewResampler(from, to),
	}
}

// next resamples in and returns exactly n output frames.
func (st *resampleStream) next(in []float32, n int) []float32 {
	st.pending = append(st.pending, st.r.Process(in)...)
	if st.debt > 0 {
		d := min(st.debt, len(st.pending))
		st.pending = st.pending[:copy(st.pending, st.pending[d:])]
		st.debt -= d
	}

	out := make([]float32, n)
	k := copy(out, st.pending)
	st.pending = st.pending[:copy(st.pending, st.pending[k:])]
	if k < n {
		// Rounding left the stream a few frames short. Hold the last value
		// and drop as many frames later to stay aligned.
		var last float32
		if k > 0 {
			last = out[k-1]
		}
		for i := k; i < n; i++ {
			out[i] = last
		}
		st.debt += n - k
	}
	return out
}

// removeLocked drops h from the active set. Caller holds s.mu.
func (s *Scheduler) removeLocked(h *Handle) {
	for i, a := range s.active {
		if a == h {
			copy(s.active[i:], s.active[i+1:])
			s.active[len(s.active)-1] = nil
			s.active = s.active[:len(s.active)-1]
			return
		}
	}
}

// framesToDuration converts a frame count at rate into a duration.
func framesToDuration(frames int64, rate int) time.Duration {
	r := int64(rate)
	secs := frames / r
	rem := frames % r
	return time.Duration(secs)*time.Second + time.Duration(rem*int64(time.Second)/r)
}

// durationToFrames converts a duration into the nearest frame index at rate.
func durationToFrames(d time.Duration, rate int) int64 {
	r := int64(rate)
	secs := int64(d / time.Second)
	rem := int64(d % time.Second)
	return secs*r + (rem*r+int64(time.Second)/2)/int64(time.Second)
}
