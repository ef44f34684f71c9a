// Package audio defines the core types and device abstractions of the
// streaming pipeline.
//
// Audio flows in two directions:
//
//   - Capture: an [InputDevice] delivers fixed-size blocks of float samples
//     on its own real-time tick. The capture session encodes each block into
//     an [EncodedFrame] and hands it to a transport.
//
//   - Playback: transports deliver [AudioUnit] values which a scheduler lays
//     out back to back on the timeline of an [OutputDevice]. The device pulls
//     mixed samples from a [Renderer] on its own clock.
//
// Devices are acquired exclusively. When acquisition fails the returned error
// wraps [ErrDeviceUnavailable] so callers can tell a missing or denied device
// apart from other failures.
package audio

import "errors"

// ErrDeviceUnavailable is wrapped by every device error that stems from
// failing to acquire the underlying hardware (no device, permission denied,
// backend initialisation failure).
var ErrDeviceUnavailable = errors.New("audio: device unavailable")

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// InputDevice is a microphone-like source driven by an external real-time
// clock.
//
// Open acquires the device and starts delivering ticks. The tick callback is
// invoked from the device's own goroutine or thread with a block of mono
// samples in [-1, 1]; the slice is only valid for the duration of the call.
// Implementations never invoke tick concurrently with itself.
//
// Close stops the device and releases it. It is safe to call more than once.
type InputDevice interface {
	// Format returns the format of the blocks passed to tick.
	Format() Format

	// Open acquires the device and starts ticking.
	Open(tick func(samples []float32)) error

	// Close stops ticking and releases the device.
	Close() error
}

// Renderer produces mono output samples on demand. Render must fill all of
// out and must not block on I/O; it is called from the output device's
// real-time callback.
type Renderer interface {
	Render(out []float32)
}

// OutputDevice is a speaker-like sink that pulls samples from a [Renderer]
// at its own pace.
type OutputDevice interface {
	// SampleRate returns the rate at which Render will be called.
	SampleRate() int

	// Start acquires the device and begins pulling from r.
	Start(r Renderer) error

	// Close stops playback and releases the device. Safe to call more than once.
	Close() error
}
