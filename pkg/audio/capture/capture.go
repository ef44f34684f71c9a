// Package capture drives a microphone-like [audio.InputDevice], encodes each
// tick it delivers and forwards the resulting frames to a transport sink.
//
// The device tick runs on a real-time thread the application does not
// control, so the tick callback never blocks: encoded frames are handed to a
// bounded queue with a non-blocking send and a separate goroutine feeds the
// sink. Frames that do not fit in the queue are dropped and counted.
//
// A [Session] owns its device exclusively from [Start] until it stops, either
// through [Session.Stop] or because the sink failed or the context ended. In
// every case the device is released.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/pcm"
)

// ErrStopped is reported by [Session.Err] after an explicit Stop.
var ErrStopped = errors.New("capture: session stopped")

// defaultQueueSize is the number of frames buffered between the tick and the
// sink. At 4096 samples per 16 kHz tick this is about eight seconds.
const defaultQueueSize = 32

// Encoder turns one tick of samples into a transport frame.
// [pcm.Encoder] is the default.
type Encoder interface {
	Encode(samples []float32) audio.EncodedFrame
}

// Sink consumes encoded frames. A returned error terminates the session.
type Sink func(ctx context.Context, f audio.EncodedFrame) error

// Tap observes raw input ticks before encoding, including muted ones.
// It is called on the device tick and must not block.
type Tap interface {
	Observe(samples []float32)
}

// Stats are cumulative tick counters.
type Stats struct {
	// Ticks is the number of device ticks received.
	Ticks int64

	// Muted is the number of ticks skipped while muted.
	Muted int64

	// Sent is the number of frames the sink accepted.
	Sent int64

	// Dropped is the number of frames discarded because the queue was full.
	Dropped int64
}

// Option is a functional option for configuring a Session.
type Option func(*Session)

// WithEncoder replaces the default PCM16 encoder.
func WithEncoder(e Encoder) Option {
	return func(s *Session) {
		s.enc = e
	}
}

// WithQueueSize sets the frame queue depth. Values below 1 are ignored.
func WithQueueSize(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// WithMuted starts the session muted.
func WithMuted(muted bool) Option {
	return func(s *Session) {
		s.muted.Store(muted)
	}
}

// WithTap observes raw input ticks.
func WithTap(t Tap) Option {
	return func(s *Session) {
		s.tap = t
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		s.log = l
	}
}

// WithFrameHook registers a function called for every tick outcome: "sent",
// "muted" or "dropped". It runs on the tick or sender goroutine and must not
// block.
func WithFrameHook(fn func(result string)) Option {
	return func(s *Session) {
		s.onFrame = fn
	}
}

// Session is a running capture. All methods are safe for concurrent use.
type Session struct {
	dev       audio.InputDevice
	sink      Sink
	enc       Encoder
	tap       Tap
	log       *slog.Logger
	queueSize int
	onFrame   func(string)

	muted   atomic.Bool
	ticks   atomic.Int64
	skipped atomic.Int64
	sent    atomic.Int64
	dropped atomic.Int64

	// mu guards queue against a tick racing with shutdown.
	mu     sync.RWMutex
	queue  chan audio.EncodedFrame
	closed bool

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
	errMu    sync.Mutex
	err      error
}

// Start acquires dev and begins forwarding encoded ticks to sink. If the
// device cannot be opened Start returns an error wrapping the device error,
// which wraps [audio.ErrDeviceUnavailable] for acquisition failures; nothing
// is left running in that case.
//
// The session ends when ctx is cancelled, when sink returns an error, or when
// Stop is called.
func Start(ctx context.Context, dev audio.InputDevice, sink Sink, opts ...Option) (*Session, error) {
	if dev == nil {
		return nil, fmt.Errorf("capture: %w: no input device", audio.ErrDeviceUnavailable)
	}
	if sink == nil {
		return nil, errors.New("capture: sink must not be nil")
	}
	s := &Session{
		dev:       dev,
		sink:      sink,
		log:       slog.Default(),
		queueSize: defaultQueueSize,
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.enc == nil {
		s.enc = pcm.NewEncoder(pcm.WithSampleRate(dev.Format().SampleRate))
	}
	s.queue = make(chan audio.EncodedFrame, s.queueSize)

	ctx, s.cancel = context.WithCancel(ctx)
	if err := dev.Open(s.tick); err != nil {
		s.cancel()
		return nil, fmt.Errorf("capture: open input device: %w", err)
	}

	go s.send(ctx)
	return s, nil
}

// tick runs on the device thread.
func (s *Session) tick(samples []float32) {
	s.ticks.Add(1)
	if s.tap != nil {
		s.tap.Observe(samples)
	}
	if s.muted.Load() {
		s.skipped.Add(1)
		s.hook("muted")
		return
	}
	frame := s.enc.Encode(samples)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- frame:
	default:
		if n := s.dropped.Add(1); n == 1 || n%100 == 0 {
			s.log.Debug("capture: sink queue full, dropping frame", "dropped", n)
		}
		s.hook("dropped")
	}
}

func (s *Session) send(ctx context.Context) {
	var err error
	defer func() { s.finish(err) }()

	for {
		select {
		case <-ctx.Done():
			err = ctx.Err()
			return
		case f := <-s.queue:
			if err = s.sink(ctx, f); err != nil {
				err = fmt.Errorf("capture: sink: %w", err)
				return
			}
			s.sent.Add(1)
			s.hook("sent")
		}
	}
}

// finish releases the device exactly once and records the terminal error.
func (s *Session) finish(cause error) {
	s.stopOnce.Do(func() {
		s.cancel()

		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		if err := s.dev.Close(); err != nil {
			s.log.Warn("capture: close input device", "err", err)
		}
		s.errMu.Lock()
		if s.err == nil {
			s.err = cause
		}
		s.errMu.Unlock()
		if cause != nil && !errors.Is(cause, ErrStopped) && !errors.Is(cause, context.Canceled) {
			s.log.Error("capture: session ended", "err", cause)
		}
		close(s.done)
	})
}

func (s *Session) hook(result string) {
	if s.onFrame != nil {
		s.onFrame(result)
	}
}

// SetMuted gates emission. While muted, ticks are skipped entirely: no frame
// and no silence is sent. Unmuting takes effect on the next tick.
func (s *Session) SetMuted(muted bool) {
	if s.muted.Swap(muted) != muted {
		s.log.Debug("capture: mute changed", "muted", muted)
	}
}

// Muted reports whether the session is muted.
func (s *Session) Muted() bool {
	return s.muted.Load()
}

// Stop ends the session, releases the device and waits for the sender to
// exit. Frames still queued are discarded. Stop is idempotent.
func (s *Session) Stop() {
	s.errMu.Lock()
	if s.err == nil {
		s.err = ErrStopped
	}
	s.errMu.Unlock()
	s.cancel()
	<-s.done
}

// Done returns a channel closed once the session has ended and the device has
// been released.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns why the session ended: ErrStopped, the sink error, or the
// context error. It returns nil while the session is running.
func (s *Session) Err() error {
	select {
	case <-s.done:
	default:
		return nil
	}
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Stats returns a snapshot of the tick counters.
func (s *Session) Stats() Stats {
	return Stats{
		Ticks:   s.ticks.Load(),
		Muted:   s.skipped.Load(),
		Sent:    s.sent.Load(),
		Dropped: s.dropped.Load(),
	}
}
