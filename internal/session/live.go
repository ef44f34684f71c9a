// Package session orchestrates the audio core against remote transports.
//
// [Live] runs one speech-to-speech conversation: it owns the capture device
// for its lifetime, uploads encoded microphone frames to an [s2s.Provider]
// and schedules the model's audio for gapless playback, cancelling it when
// the server reports that the user barged in.
//
// [Streamer] plays RIFF/WAVE byte streams that arrive in arbitrary chunks,
// such as the chunked body of a TTS HTTP response.
//
// Both share the [playback.Scheduler] passed to them; the scheduler is the
// only place the playback cursor is written.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/capture"
	"github.com/MrWong99/parley/pkg/audio/pcm"
	"github.com/MrWong99/parley/pkg/audio/playback"
	"github.com/MrWong99/parley/pkg/provider/s2s"
)

// ErrRemoteClosed is returned by [Live.Run] when the provider ends the
// session without reporting an error.
var ErrRemoteClosed = errors.New("session: provider closed the session")

// ErrAlreadyStarted is returned when Run is called more than once on the same
// [Live].
var ErrAlreadyStarted = errors.New("session: already started")

// Role identifies the speaker of a [Transcript].
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Transcript is one committed utterance, assembled from the transcript
// fragments a provider emitted during a turn.
type Transcript struct {
	Role Role
	Text string
	At   time.Time
}

// LiveOption is a functional option for configuring a [Live].
type LiveOption func(*Live)

// WithSessionConfig sets the configuration sent to the provider on connect.
func WithSessionConfig(cfg s2s.SessionConfig) LiveOption {
	return func(l *Live) {
		l.cfg = cfg
	}
}

// WithCaptureOptions appends options passed to [capture.Start].
func WithCaptureOptions(opts ...capture.Option) LiveOption {
	return func(l *Live) {
		l.captureOpts = append(l.captureOpts, opts...)
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) LiveOption {
	return func(l *Live) {
		l.metrics = m
	}
}

// WithTranscriptHandler registers fn to receive each committed transcript.
// fn is called from the event loop and must not block.
func WithTranscriptHandler(fn func(Transcript)) LiveOption {
	return func(l *Live) {
		l.onTranscript = fn
	}
}

// WithLogger sets the base logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) LiveOption {
	return func(l *Live) {
		l.log = log
	}
}

// WithProviderName sets the provider label used in metrics.
func WithProviderName(name string) LiveOption {
	return func(l *Live) {
		l.providerName = name
	}
}

// WithStartMuted starts capture muted.
func WithStartMuted(muted bool) LiveOption {
	return func(l *Live) {
		l.muted = muted
	}
}

// Live is a single speech-to-speech conversation. Create one with [NewLive]
// and call [Live.Run]; a Live cannot be restarted once Run has returned.
//
// Stop, SetMuted and BargeIn are safe to call from any goroutine while Run
// is in progress.
type Live struct {
	provider     s2s.Provider
	input        audio.InputDevice
	sched        *playback.Scheduler
	cfg          s2s.SessionConfig
	captureOpts  []capture.Option
	metrics      *observe.Metrics
	onTranscript func(Transcript)
	log          *slog.Logger
	providerName string
	id           string

	mu      sync.Mutex
	started bool
	stopped bool
	muted   bool
	cancel  context.CancelFunc
	capture *capture.Session
	handle  s2s.SessionHandle
	final   capture.Stats
}

// NewLive creates a session that will capture from input, talk to provider
// and play through sched.
func NewLive(provider s2s.Provider, input audio.InputDevice, sched *playback.Scheduler, opts ...LiveOption) *Live {
	l := &Live{
		provider:     provider,
		input:        input,
		sched:        sched,
		log:          slog.Default(),
		providerName: "s2s",
		id:           uuid.NewString(),
	}
	for _, o := range opts {
		o(l)
	}
	if l.metrics == nil {
		l.metrics = observe.DefaultMetrics()
	}
	l.log = l.log.With("session_id", l.id)
	return l
}

// ID returns the session id attached to logs and spans.
func (l *Live) ID() string {
	return l.id
}

// Run connects to the provider, starts capture and plays model audio until
// ctx is cancelled, Stop is called, or any activity fails.
//
// Whatever ends the session, everything is torn down before Run returns:
// capture is stopped and the device released, scheduled playback is
// interrupted and the cursor reset, and the provider session is closed. Run
// returns nil for a requested stop and the first error otherwise. Errors are
// never retried.
func (l *Live) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return ErrAlreadyStarted
	}
	l.started = true
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	stopped := l.stopped
	l.mu.Unlock()
	defer cancel()
	if stopped {
		return nil
	}

	ctx = observe.WithSessionID(ctx, l.id)
	ctx, span := observe.StartSpan(ctx, "session.live")
	defer span.End()

	h, err := l.connect(ctx)
	if err != nil {
		span.RecordError(err)
		return err
	}
	l.metrics.ActiveSessions.Add(ctx, 1)

	opts := append(slices.Clone(l.captureOpts),
		capture.WithMuted(l.Muted()),
		capture.WithLogger(l.log),
		capture.WithFrameHook(func(result string) {
			l.metrics.RecordCaptureFrame(ctx, result)
		}),
	)
	cs, err := capture.Start(ctx, l.input, h.SendAudio, opts...)
	if err != nil {
		l.closeHandle(h)
		l.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)
		span.RecordError(err)
		return fmt.Errorf("session: %w", err)
	}

	l.mu.Lock()
	l.capture = cs
	l.handle = h
	// SetMuted may have run while the capture was starting.
	cs.SetMuted(l.muted)
	l.mu.Unlock()

	l.log.Info("session started", "provider", l.providerName, "voice", l.cfg.Voice)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return watchCapture(gctx, cs)
	})
	g.Go(func() error {
		return l.consume(gctx, h)
	})
	err = g.Wait()

	l.teardown(cs, h)
	l.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)

	if err != nil && !errors.Is(err, context.Canceled) {
		l.log.Error("session ended", "err", err)
		span.RecordError(err)
		return err
	}
	l.log.Info("session stopped")
	return nil
}

func (l *Live) connect(ctx context.Context) (s2s.SessionHandle, error) {
	ctx, span := observe.StartSpan(ctx, "session.connect")
	defer span.End()

	start := time.Now()
	h, err := l.provider.Connect(ctx, l.cfg)
	if err != nil {
		l.metrics.RecordProviderError(ctx, l.providerName, "connect")
		span.RecordError(err)
		return nil, fmt.Errorf("session: connect: %w", err)
	}
	l.metrics.RecordProviderLatency(ctx, l.providerName, "connect", time.Since(start))
	return h, nil
}

// watchCapture returns the capture error once the capture session ends on
// its own. A stop or cancellation is not an error.
func watchCapture(ctx context.Context, cs *capture.Session) error {
	select {
	case <-ctx.Done():
		return nil
	case <-cs.Done():
	}
	err := cs.Err()
	if err == nil || errors.Is(err, capture.ErrStopped) || errors.Is(err, context.Canceled) {
		return nil
	}
	return fmt.Errorf("session: %w", err)
}

// consume applies provider events in order until the channel closes, the
// provider reports an error, or ctx ends.
func (l *Live) consume(ctx context.Context, h s2s.SessionHandle) error {
	outRate := l.provider.Capabilities().OutputSampleRate
	if outRate <= 0 {
		outRate = audio.PlaybackSampleRate
	}
	var user, model strings.Builder

	for {
		var ev s2s.Event
		var ok bool
		select {
		case <-ctx.Done():
			return nil
		case ev, ok = <-h.Events():
		}
		if !ok {
			if err := h.Err(); err != nil {
				l.metrics.RecordProviderError(ctx, l.providerName, "transport")
				return fmt.Errorf("session: provider: %w", err)
			}
			return ErrRemoteClosed
		}

		switch ev.Type {
		case s2s.EventAudio:
			rate := ev.SampleRate
			if rate <= 0 {
				rate = outRate
			}
			unit, err := pcm.DecodeBytes(ev.Audio, rate)
			if err != nil {
				l.log.Warn("session: dropping undecodable audio", "err", err)
				continue
			}
			l.sched.ScheduleNext(unit)

		case s2s.EventInterrupted:
			l.sched.Interrupt(audio.ServerInterrupted)

		case s2s.EventInputTranscript:
			user.WriteString(ev.Text)

		case s2s.EventOutputTranscript:
			model.WriteString(ev.Text)

		case s2s.EventTurnComplete:
			l.commit(RoleUser, &user)
			l.commit(RoleModel, &model)

		case s2s.EventError:
			l.metrics.RecordProviderError(ctx, l.providerName, "server")
			if ev.Err == nil {
				return errors.New("session: provider reported an error")
			}
			return fmt.Errorf("session: provider: %w", ev.Err)
		}
	}
}

func (l *Live) commit(role Role, b *strings.Builder) {
	text := strings.TrimSpace(b.String())
	b.Reset()
	if text == "" {
		return
	}
	l.log.Debug("session: transcript", "role", string(role), "text", text)
	if l.onTranscript != nil {
		l.onTranscript(Transcript{Role: role, Text: text, At: time.Now()})
	}
}

func (l *Live) teardown(cs *capture.Session, h s2s.SessionHandle) {
	cs.Stop()
	l.sched.Interrupt(audio.Teardown)
	l.closeHandle(h)

	l.mu.Lock()
	l.final = cs.Stats()
	l.capture = nil
	l.handle = nil
	l.mu.Unlock()
}

// closeHandle closes the provider session and discards events still in
// flight so its reader goroutine can exit.
func (l *Live) closeHandle(h s2s.SessionHandle) {
	if err := h.Close(); err != nil {
		l.log.Warn("session: close provider session", "err", err)
	}
	audio.Drain(h.Events())
}

// Stop ends the session. Run returns nil after a Stop. Calling Stop before
// Run makes Run return immediately. Stop is idempotent.
func (l *Live) Stop() {
	l.mu.Lock()
	l.stopped = true
	cancel := l.cancel
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// SetMuted gates microphone upload. It may be called before Run.
func (l *Live) SetMuted(muted bool) {
	l.mu.Lock()
	l.muted = muted
	cs := l.capture
	l.mu.Unlock()
	if cs != nil {
		cs.SetMuted(muted)
	}
}

// Muted reports whether microphone upload is gated.
func (l *Live) Muted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.muted
}

// BargeIn cancels all scheduled model audio locally.
func (l *Live) BargeIn() {
	l.sched.Interrupt(audio.BargeIn)
}

// SendText injects a text turn into the running conversation.
func (l *Live) SendText(ctx context.Context, text string) error {
	l.mu.Lock()
	h := l.handle
	l.mu.Unlock()
	if h == nil {
		return errors.New("session: not running")
	}
	if err := h.SendText(ctx, text); err != nil {
		return fmt.Errorf("session: send text: %w", err)
	}
	return nil
}

// Stats returns the capture counters of the running session, or the final
// counters once it has ended.
func (l *Live) Stats() capture.Stats {
	l.mu.Lock()
	cs, final := l.capture, l.final
	l.mu.Unlock()
	if cs == nil {
		return final
	}
	return cs.Stats()
}
