// Package app wires the parley subsystems into a running process.
//
// New builds the audio devices, the playback scheduler and its taps, the TTS
// streamer and the live session manager from the config. Run blocks until
// the context is cancelled, Handler exposes the control API, and Shutdown
// tears everything down in reverse order.
//
// For testing, inject devices and metrics through functional options
// (WithInput, WithOutput, WithMetrics). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/capture"
	"github.com/MrWong99/parley/pkg/audio/clock"
	"github.com/MrWong99/parley/pkg/audio/miniaudio"
	"github.com/MrWong99/parley/pkg/audio/opus"
	"github.com/MrWong99/parley/pkg/audio/pcm"
	"github.com/MrWong99/parley/pkg/audio/playback"
	"github.com/MrWong99/parley/pkg/audio/speaker"
	"github.com/MrWong99/parley/pkg/audio/wav"
	"github.com/MrWong99/parley/pkg/provider/s2s"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

// Providers holds the configured remote providers. Nil means not configured.
// The names label metrics and logs.
type Providers struct {
	S2S     s2s.Provider
	S2SName string
	TTS     tts.Provider
	TTSName string
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger
	level     *slog.LevelVar
	metrics   *observe.Metrics
	scrape    http.Handler

	// Subsystems, initialised in New and torn down in Shutdown.
	ma       *miniaudio.Context
	input    audio.InputDevice
	output   audio.OutputDevice
	sched    *playback.Scheduler
	analyser *playback.Analyser
	recorder *wav.Recorder
	streamer *session.Streamer
	sessions *SessionManager
	health   *health.Handler

	// closers run in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithInput injects the capture device instead of creating one from config.
func WithInput(d audio.InputDevice) Option {
	return func(a *App) { a.input = d }
}

// WithOutput injects the playback device instead of creating one from config.
func WithOutput(d audio.OutputDevice) Option {
	return func(a *App) { a.output = d }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.scrape = h }
}

// WithLevelVar lets config reloads change the log level of the process.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg and the already constructed providers. The
// output device is started immediately so the playback clock runs from the
// moment New returns; the capture device is only opened by live sessions.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	fail := func(stage string, err error) (*App, error) {
		a.runClosers()
		return nil, fmt.Errorf("app: %s: %w", stage, err)
	}

	// ── 1. Playback ──────────────────────────────────────────────────────
	if err := a.initPlayback(ctx); err != nil {
		return fail("init playback", err)
	}

	// ── 2. Capture ───────────────────────────────────────────────────────
	captureOpts, err := a.initCapture()
	if err != nil {
		return fail("init capture", err)
	}

	// ── 3. TTS streamer ──────────────────────────────────────────────────
	a.initStreamer()

	// ── 4. Live sessions ─────────────────────────────────────────────────
	a.sessions = NewSessionManager(SessionManagerConfig{
		Provider:     providers.S2S,
		ProviderName: providers.S2SName,
		Input:        a.input,
		Scheduler:    a.sched,
		SessionConfig: s2s.SessionConfig{
			Voice:        cfg.Providers.S2S.Voice,
			Instructions: cfg.Session.Instructions,
			Transcribe:   cfg.Session.Transcribe,
		},
		CaptureOptions: captureOpts,
		Metrics:        a.metrics,
		StartMuted:     cfg.Audio.Capture.StartMuted,
		Logger:         a.log,
	})

	// ── 5. Health ────────────────────────────────────────────────────────
	a.health = health.New(a.checkers()...)

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// miniaudioContext lazily creates the backend context shared by the
// miniaudio input and output.
func (a *App) miniaudioContext() (*miniaudio.Context, error) {
	if a.ma != nil {
		return a.ma, nil
	}
	c, err := miniaudio.NewContext(a.log)
	if err != nil {
		return nil, err
	}
	a.ma = c
	a.closers = append(a.closers, c.Close)
	return c, nil
}

// initPlayback builds the scheduler with its taps and hooks, then starts the
// output device pulling from it.
func (a *App) initPlayback(ctx context.Context) error {
	pc := a.cfg.Audio.Playback

	if a.output == nil {
		switch pc.Backend {
		case config.PlaybackOto:
			a.output = speaker.New(pc.SampleRate, pc.Buffer)
		case config.PlaybackNull:
			a.output = clock.New(pc.SampleRate, 0)
		default:
			c, err := a.miniaudioContext()
			if err != nil {
				return err
			}
			a.output = c.NewOutput(pc.Device, pc.SampleRate)
		}
	}

	a.analyser = playback.NewAnalyser()
	taps := playback.Taps{a.analyser}
	if pc.RecordTo != "" {
		rec, err := wav.NewRecorder(pc.RecordTo, a.output.SampleRate())
		if err != nil {
			return err
		}
		a.recorder = rec
		a.closers = append(a.closers, rec.Close)
		taps = append(taps, rec)
	}

	metricsCtx := context.WithoutCancel(ctx)
	a.sched = playback.New(a.output.SampleRate(),
		playback.WithTap(taps),
		playback.WithLogger(a.log),
		playback.WithScheduleHook(func(lag, dur time.Duration) {
			a.metrics.RecordScheduled(metricsCtx, "playback", lag, dur)
		}),
		playback.WithInterruptHook(func(reason audio.InterruptReason, stopped int) {
			a.metrics.RecordInterrupt(metricsCtx, reason.String(), stopped)
		}),
	)

	if err := a.output.Start(a.sched); err != nil {
		return fmt.Errorf("start output: %w", err)
	}
	a.closers = append(a.closers, a.output.Close)
	a.log.Info("playback started", "backend", pc.Backend, "sample_rate", a.output.SampleRate())
	return nil
}

// initCapture builds the input device and the encoder options handed to
// every live session.
func (a *App) initCapture() ([]capture.Option, error) {
	cc := a.cfg.Audio.Capture

	if a.input == nil {
		switch cc.Backend {
		case config.CaptureFile:
			a.input = audio.NewResampledInput(
				wav.NewFileInput(cc.Device, wav.WithTickSize(cc.TickSize), wav.WithLoop(cc.Loop)),
				cc.SampleRate,
			)
		default:
			c, err := a.miniaudioContext()
			if err != nil {
				return nil, err
			}
			a.input = c.NewInput(cc.Device, cc.SampleRate, cc.TickSize)
		}
	}

	rate := a.input.Format().SampleRate
	var enc capture.Encoder
	switch cc.Codec {
	case config.CodecOpus:
		oe, err := opus.NewEncoder(rate)
		if err != nil {
			return nil, err
		}
		enc = oe
	default:
		overflow, err := pcm.ParseOverflow(cc.Overflow)
		if err != nil {
			return nil, err
		}
		enc = pcm.NewEncoder(pcm.WithSampleRate(rate), pcm.WithOverflow(overflow))
	}

	opts := []capture.Option{capture.WithEncoder(enc), capture.WithLogger(a.log)}
	if cc.QueueSize > 0 {
		opts = append(opts, capture.WithQueueSize(cc.QueueSize))
	}
	return opts, nil
}

func (a *App) initStreamer() {
	opts := []session.StreamerOption{
		session.WithStrictTail(a.cfg.Audio.Playback.StrictTail),
		session.WithStreamerMetrics(a.metrics),
		session.WithStreamerLogger(a.log),
	}
	if a.providers.TTS != nil {
		opts = append(opts,
			session.WithTTS(a.providers.TTS, a.providers.TTSName),
			session.WithVoice(a.cfg.Providers.TTS.Voice),
		)
	}
	a.streamer = session.NewStreamer(a.sched, opts...)
}

// checkers returns the readiness checks for this configuration.
func (a *App) checkers() []health.Checker {
	var cs []health.Checker
	if a.cfg.Session.AutoStart {
		cs = append(cs, health.Checker{Name: "session", Check: func(context.Context) error {
			if !a.sessions.IsActive() {
				if last := a.sessions.Info().LastError; last != "" {
					return fmt.Errorf("not running: %s", last)
				}
				return errors.New("not running")
			}
			return nil
		}})
	}
	cs = append(cs, health.Checker{Name: "providers", Check: func(context.Context) error {
		if a.providers.S2S == nil && a.providers.TTS == nil {
			return errors.New("no s2s or tts provider configured")
		}
		return nil
	}})
	return cs
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the configured live session, if any, and blocks until ctx is
// cancelled. It returns ctx's error.
func (a *App) Run(ctx context.Context) error {
	if a.cfg.Session.AutoStart {
		if _, err := a.sessions.Start(ctx); err != nil {
			return fmt.Errorf("app: auto start session: %w", err)
		}
	}
	a.log.Info("app running",
		"s2s", a.providers.S2SName,
		"tts", a.providers.TTSName,
		"auto_start", a.cfg.Session.AutoStart,
	)
	<-ctx.Done()
	return ctx.Err()
}

// ApplyConfig applies the hot-reloadable parts of a config change. It is
// meant as the [config.ChangeFunc] of a watcher. Everything else keeps the
// values New was called with.
func (a *App) ApplyConfig(_, _ *config.Config, d config.ConfigDiff) {
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(ParseLogLevel(d.NewLogLevel))
		a.log.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.MuteChanged {
		a.sessions.SetMuted(d.NewMuted)
		a.log.Info("mute changed", "muted", d.NewMuted)
	}
	if len(d.RestartRequired) > 0 {
		a.log.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
}

// ParseLogLevel maps a config log level to its slog level. Unknown values
// map to Info.
func ParseLogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Sessions returns the live session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Streamer returns the WAV stream player.
func (a *App) Streamer() *session.Streamer { return a.streamer }

// Scheduler returns the shared playback scheduler.
func (a *App) Scheduler() *playback.Scheduler { return a.sched }

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown marks the process as draining, stops the live session, cancels
// pending playback and closes devices in reverse-init order. If ctx expires
// first the remaining closers are skipped and ctx's error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.health.SetDraining(true)
		a.log.Info("shutting down", "closers", len(a.closers))

		if err := a.sessions.Stop(ctx); err != nil && !errors.Is(err, ErrNoSession) {
			a.log.Warn("stop live session", "err", err)
		}
		a.sched.Interrupt(audio.Teardown)

		for i, closer := range slices.Backward(a.closers) {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}
		a.closers = nil
		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

// runClosers releases whatever New acquired before failing.
func (a *App) runClosers() {
	for _, closer := range slices.Backward(a.closers) {
		_ = closer()
	}
	a.closers = nil
}
