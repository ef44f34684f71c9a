package playback_test

import (
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/playback"
)

// constUnit returns a unit of n samples at rate, all equal to v.
func constUnit(rate uint32, n int, v float32) audio.AudioUnit {
	u := audio.AudioUnit{SampleRate: rate, Samples: make([]float32, n)}
	for i := range u.Samples {
		u.Samples[i] = v
	}
	return u
}

func TestScheduleNext_Monotonic(t *testing.T) {
	t.Parallel()

	s := playback.New(24000)
	sizes := []int{2400, 480, 24000, 1, 12000}

	var want time.Duration
	for i, n := range sizes {
		u := constUnit(24000, n, 0.1)
		h := s.ScheduleNext(u)
		if h.Start() != want {
			t.Errorf("unit %d: start = %v, want %v", i, h.Start(), want)
		}
		if h.Duration() != u.Duration() {
			t.Errorf("unit %d: duration = %v, want %v", i, h.Duration(), u.Duration())
		}
		want += u.Duration()
	}
	if s.Cursor() != want {
		t.Errorf("Cursor = %v, want %v", s.Cursor(), want)
	}
	if s.Active() != len(sizes) {
		t.Errorf("Active = %d, want %d", s.Active(), len(sizes))
	}
}

func TestScheduleNext_TwiceOneSecond(t *testing.T) {
	t.Parallel()

	s := playback.New(16000)
	u := constUnit(16000, 16000, 0.2)
	h1 := s.ScheduleNext(u)
	h2 := s.ScheduleNext(u)
	if h1.Start() != 0 {
		t.Errorf("first start = %v, want 0", h1.Start())
	}
	if h2.Start() != time.Second {
		t.Errorf("second start = %v, want 1s", h2.Start())
	}
}

func TestScheduleNext_StartsAtNowWhenCursorBehind(t *testing.T) {
	t.Parallel()

	s := playback.New(16000)
	s.ScheduleNext(constUnit(16000, 1600, 0.1)) // 100 ms
	s.Render(make([]float32, 8000))             // clock to 500 ms

	h := s.ScheduleNext(constUnit(16000, 1600, 0.1))
	if h.Start() != 500*time.Millisecond {
		t.Errorf("start = %v, want 500ms", h.Start())
	}
}

func TestScheduleNext_EmptyUnitIsFinished(t *testing.T) {
	t.Parallel()

	s := playback.New(16000)
	for _, u := range []audio.AudioUnit{{}, {SampleRate: 16000}} {
		h := s.ScheduleNext(u)
		if h.Live() {
			t.Error("empty unit produced a live handle")
		}
		select {
		case <-h.Done():
		default:
			t.Error("empty unit handle Done not closed")
		}
		h.Stop() // no-op
	}
	if s.Cursor() != 0 || s.Active() != 0 {
		t.Errorf("cursor = %v, active = %d; want untouched", s.Cursor(), s.Active())
	}
}

func TestRender_GaplessTiling(t *testing.T) {
	t.Parallel()

	s := playback.New(24000)
	// Durations that do not divide evenly into nanoseconds at 24 kHz.
	a := s.ScheduleNext(constUnit(24000, 7, 0.5))
	b := s.ScheduleNext(constUnit(24000, 11, 0.5))
	s.ScheduleNext(constUnit(24000, 100, 0.5))

	out := make([]float32, 118)
	s.Render(out)
	for i, v := range out {
		if v != 0.5 {
			t.Fatalf("frame %d = %v, want 0.5 (gap or overlap)", i, v)
		}
	}
	if a.State() != playback.Finished || b.State() != playback.Finished {
		t.Errorf("states = %v, %v; want finished", a.State(), b.State())
	}
	if s.Active() != 0 {
		t.Errorf("Active = %d, want 0", s.Active())
	}

	tail := make([]float32, 10)
	s.Render(tail)
	for i, v := range tail {
		if v != 0 {
			t.Fatalf("frame %d after end = %v, want silence", i, v)
		}
	}
}

func TestScheduleNext_ResamplesToOutputRate(t *testing.T) {
	t.Parallel()

	s := playback.New(48000)
	u := constUnit(16000, 1600, 0.5)
	h := s.ScheduleNext(u)
	if h.Duration() != 100*time.Millisecond {
		t.Errorf("Duration = %v, want 100ms", h.Duration())
	}

	out := make([]float32, 4800)
	s.Render(out)
	if h.State() != playback.Finished {
		t.Errorf("state = %v, want finished after 100ms at 48 kHz", h.State())
	}
	if !slices.ContainsFunc(out, func(v float32) bool { return v > 0.25 }) {
		t.Error("resampled unit rendered no audible samples")
	}
}

func TestScheduleNext_ResampledUnitsJoinWithoutDip(t *testing.T) {
	t.Parallel()

	s := playback.New(24000)
	h1 := s.ScheduleNext(constUnit(16000, 1600, 0.5))
	h2 := s.ScheduleNext(constUnit(16000, 1600, 0.5))
	if h1.Start() != 0 || h2.Start() != 100*time.Millisecond {
		t.Fatalf("starts = %v, %v, want 0, 100ms", h1.Start(), h2.Start())
	}

	out := make([]float32, 4800)
	s.Render(out)

	// Only the head of the stream may ramp up through the filter delay.
	const ramp = 480
	for i := ramp; i < len(out); i++ {
		if out[i] < 0.4 {
			t.Fatalf("frame %d = %v, want the 0.5 level to hold across the boundary at 2400", i, out[i])
		}
	}
}

func TestScheduleNext_ResampledStreamRestartsAfterInterrupt(t *testing.T) {
	t.Parallel()

	s := playback.New(24000)
	s.ScheduleNext(constUnit(16000, 1600, 0.5))
	s.Interrupt(audio.BargeIn)

	// The delayed tail of the interrupted unit must not leak into the next.
	h := s.ScheduleNext(constUnit(16000, 1600, -0.5))
	if h.Start() != 0 {
		t.Fatalf("start = %v, want 0", h.Start())
	}
	out := make([]float32, 2400)
	s.Render(out)
	if i := slices.IndexFunc(out, func(v float32) bool { return v > 0.1 }); i >= 0 {
		t.Errorf("frame %d = %v, carries audio from before the interrupt", i, out[i])
	}
	if !slices.ContainsFunc(out, func(v float32) bool { return v < -0.4 }) {
		t.Error("new unit rendered no audible samples")
	}
}

func TestRender_HandleLifecycle(t *testing.T) {
	t.Parallel()

	s := playback.New(1000)
	var idle atomic.Int32
	s.OnIdle(func() { idle.Add(1) })

	h := s.ScheduleNext(constUnit(1000, 100, 0.3))
	if h.State() != playback.Scheduled {
		t.Fatalf("state = %v, want scheduled", h.State())
	}

	s.Render(make([]float32, 50))
	if h.State() != playback.Playing {
		t.Fatalf("state = %v, want playing", h.State())
	}
	if s.Now() != 50*time.Millisecond {
		t.Errorf("Now = %v, want 50ms", s.Now())
	}

	s.Render(make([]float32, 50))
	select {
	case <-h.Done():
	default:
		t.Fatal("Done not closed after natural completion")
	}
	if h.State() != playback.Finished {
		t.Errorf("state = %v, want finished", h.State())
	}
	if s.Active() != 0 {
		t.Errorf("Active = %d, want 0", s.Active())
	}
	if idle.Load() != 1 {
		t.Errorf("OnIdle called %d times, want 1", idle.Load())
	}
}

func TestRender_Clamps(t *testing.T) {
	t.Parallel()

	s := playback.New(1000)
	s.ScheduleNext(constUnit(1000, 4, 1.5))
	out := make([]float32, 4)
	s.Render(out)
	for i, v := range out {
		if v != 1 {
			t.Errorf("frame %d = %v, want clamped 1", i, v)
		}
	}
}

func TestInterrupt_ClearsAndResets(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		reasons []audio.InterruptReason
		counts  []int
	)
	s := playback.New(16000, playback.WithInterruptHook(func(r audio.InterruptReason, n int) {
		mu.Lock()
		defer mu.Unlock()
		reasons = append(reasons, r)
		counts = append(counts, n)
	}))

	// Empty interrupt is a no-op.
	s.Interrupt(audio.BargeIn)
	if s.Cursor() != 0 || s.Active() != 0 {
		t.Fatalf("empty interrupt changed state: cursor %v active %d", s.Cursor(), s.Active())
	}

	h1 := s.ScheduleNext(constUnit(16000, 16000, 0.1))
	h2 := s.ScheduleNext(constUnit(16000, 16000, 0.1))
	s.Render(make([]float32, 160))

	s.Interrupt(audio.ServerInterrupted)
	for i, h := range []*playback.Handle{h1, h2} {
		if h.State() != playback.Stopped {
			t.Errorf("handle %d state = %v, want stopped", i, h.State())
		}
		select {
		case <-h.Done():
		default:
			t.Errorf("handle %d Done not closed", i)
		}
	}
	if s.Active() != 0 {
		t.Errorf("Active = %d, want 0", s.Active())
	}
	if s.Cursor() != 0 {
		t.Errorf("Cursor = %v, want 0", s.Cursor())
	}

	// Silence after interrupt.
	out := make([]float32, 160)
	s.Render(out)
	if slices.ContainsFunc(out, func(v float32) bool { return v != 0 }) {
		t.Error("audio rendered after interrupt")
	}

	// Next unit starts at now rather than behind the stale cursor.
	h3 := s.ScheduleNext(constUnit(16000, 160, 0.1))
	if h3.Start() != s.Now() {
		t.Errorf("start after interrupt = %v, want now (%v)", h3.Start(), s.Now())
	}

	s.Interrupt(audio.Teardown)
	s.Interrupt(audio.Teardown)

	mu.Lock()
	defer mu.Unlock()
	wantReasons := []audio.InterruptReason{audio.BargeIn, audio.ServerInterrupted, audio.Teardown, audio.Teardown}
	wantCounts := []int{0, 2, 1, 0}
	if !slices.Equal(reasons, wantReasons) || !slices.Equal(counts, wantCounts) {
		t.Errorf("hook calls = %v %v, want %v %v", reasons, counts, wantReasons, wantCounts)
	}
}

func TestInterrupt_WithoutClockStartsAtZero(t *testing.T) {
	t.Parallel()

	s := playback.New(16000)
	s.ScheduleNext(constUnit(16000, 16000, 0.1))
	s.ScheduleNext(constUnit(16000, 16000, 0.1))
	s.Interrupt(audio.ServerInterrupted)

	if h := s.ScheduleNext(constUnit(16000, 100, 0.1)); h.Start() != 0 {
		t.Errorf("start = %v, want 0", h.Start())
	}
}

func TestHandle_StopKeepsLaterSlots(t *testing.T) {
	t.Parallel()

	s := playback.New(1000)
	h1 := s.ScheduleNext(constUnit(1000, 10, 0.5))
	h2 := s.ScheduleNext(constUnit(1000, 10, 0.5))

	h1.Stop()
	h1.Stop()
	if h1.Live() {
		t.Error("stopped handle still live")
	}
	if s.Active() != 1 {
		t.Errorf("Active = %d, want 1", s.Active())
	}
	if h2.Start() != 10*time.Millisecond {
		t.Errorf("h2 start = %v, want 10ms", h2.Start())
	}

	out := make([]float32, 20)
	s.Render(out)
	for i := range 10 {
		if out[i] != 0 {
			t.Fatalf("frame %d = %v, want silence from stopped handle", i, out[i])
		}
	}
	if out[10] != 0.5 {
		t.Errorf("frame 10 = %v, want 0.5", out[10])
	}
}

func TestScheduleNext_ConcurrentCallsDoNotOverlap(t *testing.T) {
	t.Parallel()

	s := playback.New(16000)
	const n = 64

	handles := make([]*playback.Handle, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			handles[i] = s.ScheduleNext(constUnit(16000, 160+i, 0.1))
		}()
	}
	wg.Wait()

	slices.SortFunc(handles, func(a, b *playback.Handle) int {
		return int(a.Start() - b.Start())
	})
	var next time.Duration
	for i, h := range handles {
		if h.Start() != next {
			t.Fatalf("handle %d starts at %v, want %v", i, h.Start(), next)
		}
		next = h.End()
	}
}

func TestScheduleHook(t *testing.T) {
	t.Parallel()

	var lags []time.Duration
	s := playback.New(1000, playback.WithScheduleHook(func(lag, dur time.Duration) {
		lags = append(lags, lag)
	}))
	s.ScheduleNext(constUnit(1000, 100, 0.1))
	s.ScheduleNext(constUnit(1000, 100, 0.1))
	if !slices.Equal(lags, []time.Duration{0, 100 * time.Millisecond}) {
		t.Errorf("lags = %v", lags)
	}
}

func TestAnalyserTap(t *testing.T) {
	t.Parallel()

	a := playback.NewAnalyser()
	var other recordingTap
	s := playback.New(1000, playback.WithTap(playback.Taps{a, nil, &other}))

	s.ScheduleNext(constUnit(1000, 4, -0.5))
	s.Render(make([]float32, 4))

	lvl := a.Level()
	if lvl.Peak != 0.5 {
		t.Errorf("Peak = %v, want 0.5", lvl.Peak)
	}
	if lvl.RMS < 0.499 || lvl.RMS > 0.501 {
		t.Errorf("RMS = %v, want 0.5", lvl.RMS)
	}
	if lvl.At.IsZero() {
		t.Error("At not set")
	}
	if other.blocks != 1 {
		t.Errorf("second tap saw %d blocks, want 1", other.blocks)
	}
}

type recordingTap struct {
	blocks int
}

func (r *recordingTap) Observe([]float32) { r.blocks++ }
