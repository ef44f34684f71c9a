// Package mock provides in-memory implementations of the [audio.InputDevice]
// and [audio.OutputDevice] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts, and they expose exported fields that the
// test can set to control return values.
//
// Typical usage:
//
//	in := &mock.InputDevice{FormatResult: audio.Format{SampleRate: 16000, Channels: 1}}
//	sess, err := capture.Start(ctx, in, sink)
//	in.Tick(make([]float32, 4096)) // drive one capture tick by hand
package mock

import (
	"errors"
	"sync"

	"github.com/MrWong99/parley/pkg/audio"
)

// ─── InputDevice ──────────────────────────────────────────────────────────────

// InputDevice is a mock implementation of [audio.InputDevice]. Ticks are
// delivered manually via [InputDevice.Tick].
type InputDevice struct {
	mu sync.Mutex

	// FormatResult is returned by [InputDevice.Format]. A zero value reports
	// 16 kHz mono.
	FormatResult audio.Format

	// OpenError is returned by [InputDevice.Open]. When non-nil the tick
	// callback is not registered.
	OpenError error

	// CloseError is returned by [InputDevice.Close].
	CloseError error

	// CallCountOpen records how many times Open was called.
	CallCountOpen int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	tick func([]float32)
}

// Format implements [audio.InputDevice].
func (d *InputDevice) Format() audio.Format {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FormatResult == (audio.Format{}) {
		return audio.Format{SampleRate: audio.CaptureSampleRate, Channels: 1}
	}
	return d.FormatResult
}

// Open implements [audio.InputDevice].
func (d *InputDevice) Open(tick func([]float32)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountOpen++
	if d.OpenError != nil {
		return d.OpenError
	}
	d.tick = tick
	return nil
}

// Close implements [audio.InputDevice]. After Close, Tick is a no-op.
func (d *InputDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountClose++
	d.tick = nil
	return d.CloseError
}

// Tick delivers one block of samples to the registered callback, as the
// device's real-time thread would. It reports whether a callback was invoked.
func (d *InputDevice) Tick(samples []float32) bool {
	d.mu.Lock()
	tick := d.tick
	d.mu.Unlock()
	if tick == nil {
		return false
	}
	tick(samples)
	return true
}

// Opened reports whether the device is currently open.
func (d *InputDevice) Opened() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tick != nil
}

// ─── OutputDevice ─────────────────────────────────────────────────────────────

// OutputDevice is a mock implementation of [audio.OutputDevice]. Samples are
// pulled manually via [OutputDevice.Pull].
type OutputDevice struct {
	mu sync.Mutex

	// SampleRateResult is returned by [OutputDevice.SampleRate]. Defaults to
	// audio.PlaybackSampleRate when zero.
	SampleRateResult int

	// StartError is returned by [OutputDevice.Start].
	StartError error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	renderer audio.Renderer
}

// SampleRate implements [audio.OutputDevice].
func (d *OutputDevice) SampleRate() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.SampleRateResult == 0 {
		return audio.PlaybackSampleRate
	}
	return d.SampleRateResult
}

// Start implements [audio.OutputDevice].
func (d *OutputDevice) Start(r audio.Renderer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountStart++
	if d.StartError != nil {
		return d.StartError
	}
	d.renderer = r
	return nil
}

// Close implements [audio.OutputDevice].
func (d *OutputDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountClose++
	d.renderer = nil
	return nil
}

// Pull renders n samples from the registered renderer and returns them.
// It returns nil when the device has not been started.
func (d *OutputDevice) Pull(n int) []float32 {
	d.mu.Lock()
	r := d.renderer
	d.mu.Unlock()
	if r == nil {
		return nil
	}
	out := make([]float32, n)
	r.Render(out)
	return out
}

// ─── Sink ─────────────────────────────────────────────────────────────────────

// ErrSinkClosed is returned by [Sink.Send] after [Sink.Fail] has been called
// with a nil error.
var ErrSinkClosed = errors.New("mock: sink closed")

// Sink records every frame handed to it.
type Sink struct {
	mu     sync.Mutex
	frames []audio.EncodedFrame
	err    error
	notify chan struct{}
}

// Send records f and returns the configured error, if any.
func (s *Sink) Send(f audio.EncodedFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, f)
	if s.notify != nil {
		select {
		case s.notify <- struct{}{}:
		default:
		}
	}
	return nil
}

// Fail makes every subsequent Send return err (ErrSinkClosed if nil).
func (s *Sink) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		err = ErrSinkClosed
	}
	s.err = err
}

// Frames returns a copy of all recorded frames.
func (s *Sink) Frames() []audio.EncodedFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audio.EncodedFrame, len(s.frames))
	copy(out, s.frames)
	return out
}

// Notify returns a channel that receives a value (non-blocking) each time a
// frame is recorded.
func (s *Sink) Notify() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notify == nil {
		s.notify = make(chan struct{}, 1)
	}
	return s.notify
}
