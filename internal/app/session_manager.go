package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/capture"
	"github.com/MrWong99/parley/pkg/audio/playback"
	"github.com/MrWong99/parley/pkg/provider/s2s"
)

// transcriptHistory is the number of transcript turns kept for the control API.
const transcriptHistory = 64

var (
	// ErrSessionActive is returned by [SessionManager.Start] while a session runs.
	ErrSessionActive = errors.New("app: a session is already active")

	// ErrNoSession is returned by operations that need a running session.
	ErrNoSession = errors.New("app: no active session")

	// ErrNoS2S is returned by [SessionManager.Start] when no speech-to-speech
	// provider is configured.
	ErrNoS2S = errors.New("app: no s2s provider configured")
)

// SessionInfo describes the current or most recent live session.
type SessionInfo struct {
	ID        string        `json:"id,omitempty"`
	Provider  string        `json:"provider,omitempty"`
	Active    bool          `json:"active"`
	Muted     bool          `json:"muted"`
	StartedAt time.Time     `json:"started_at,omitzero"`
	EndedAt   time.Time     `json:"ended_at,omitzero"`
	LastError string        `json:"last_error,omitempty"`
	Stats     capture.Stats `json:"stats"`
}

// SessionManager runs at most one [session.Live] at a time. All exported
// methods are safe for concurrent use.
type SessionManager struct {
	provider     s2s.Provider
	providerName string
	input        audio.InputDevice
	sched        *playback.Scheduler
	sessionCfg   s2s.SessionConfig
	captureOpts  []capture.Option
	metrics      *observe.Metrics
	log          *slog.Logger

	mu          sync.Mutex
	live        *session.Live
	done        chan struct{}
	info        SessionInfo
	muted       bool
	transcripts []session.Transcript
}

// SessionManagerConfig holds the dependencies of a [SessionManager].
type SessionManagerConfig struct {
	Provider       s2s.Provider
	ProviderName   string
	Input          audio.InputDevice
	Scheduler      *playback.Scheduler
	SessionConfig  s2s.SessionConfig
	CaptureOptions []capture.Option
	Metrics        *observe.Metrics
	StartMuted     bool
	Logger         *slog.Logger
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &SessionManager{
		provider:     cfg.Provider,
		providerName: cfg.ProviderName,
		input:        cfg.Input,
		sched:        cfg.Scheduler,
		sessionCfg:   cfg.SessionConfig,
		captureOpts:  cfg.CaptureOptions,
		metrics:      cfg.Metrics,
		muted:        cfg.StartMuted,
		log:          log,
	}
}

// Start launches a new live session in the background and returns its info.
// The session outlives ctx's cancellation but keeps its values, so trace
// context from the triggering request carries into the session span.
// Connection and device errors surface through [SessionManager.Info].
func (sm *SessionManager) Start(ctx context.Context) (SessionInfo, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.provider == nil {
		return SessionInfo{}, ErrNoS2S
	}
	if sm.live != nil {
		return sm.info, fmt.Errorf("%w (id=%s)", ErrSessionActive, sm.info.ID)
	}

	opts := []session.LiveOption{
		session.WithSessionConfig(sm.sessionCfg),
		session.WithCaptureOptions(sm.captureOpts...),
		session.WithProviderName(sm.providerName),
		session.WithStartMuted(sm.muted),
		session.WithLogger(sm.log),
		session.WithTranscriptHandler(sm.recordTranscript),
	}
	if sm.metrics != nil {
		opts = append(opts, session.WithMetrics(sm.metrics))
	}
	live := session.NewLive(sm.provider, sm.input, sm.sched, opts...)
	done := make(chan struct{})

	sm.live = live
	sm.done = done
	sm.transcripts = nil
	sm.info = SessionInfo{
		ID:        live.ID(),
		Provider:  sm.providerName,
		Active:    true,
		Muted:     sm.muted,
		StartedAt: time.Now().UTC(),
	}

	runCtx := context.WithoutCancel(ctx)
	go sm.run(runCtx, live, done)

	sm.log.Info("live session started", "session_id", live.ID(), "provider", sm.providerName)
	return sm.info, nil
}

func (sm *SessionManager) run(ctx context.Context, live *session.Live, done chan struct{}) {
	defer close(done)
	err := live.Run(ctx)

	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.live != live {
		return
	}
	sm.info.Active = false
	sm.info.EndedAt = time.Now().UTC()
	sm.info.Stats = live.Stats()
	if err != nil {
		sm.info.LastError = err.Error()
		sm.log.Error("live session ended", "session_id", live.ID(), "err", err)
	} else {
		sm.log.Info("live session ended", "session_id", live.ID())
	}
	sm.live = nil
	sm.done = nil
}

// Stop ends the active session and waits for its teardown or for ctx to
// expire. Returns [ErrNoSession] when nothing is running.
func (sm *SessionManager) Stop(ctx context.Context) error {
	sm.mu.Lock()
	live, done := sm.live, sm.done
	sm.mu.Unlock()
	if live == nil {
		return ErrNoSession
	}

	live.Stop()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("app: stop session: %w", ctx.Err())
	}
}

// IsActive reports whether a session is running.
func (sm *SessionManager) IsActive() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.live != nil
}

// Info returns the current session's info, or the last one's after it ended.
func (sm *SessionManager) Info() SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	info := sm.info
	info.Muted = sm.muted
	if sm.live != nil {
		info.Stats = sm.live.Stats()
	}
	return info
}

// SetMuted gates microphone upload for the active session and every session
// started afterwards.
func (sm *SessionManager) SetMuted(muted bool) {
	sm.mu.Lock()
	sm.muted = muted
	live := sm.live
	sm.mu.Unlock()
	if live != nil {
		live.SetMuted(muted)
	}
}

// Muted reports the current mute setting.
func (sm *SessionManager) Muted() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.muted
}

// BargeIn cancels scheduled model audio of the active session.
func (sm *SessionManager) BargeIn() error {
	sm.mu.Lock()
	live := sm.live
	sm.mu.Unlock()
	if live == nil {
		return ErrNoSession
	}
	live.BargeIn()
	return nil
}

// SendText injects a text turn into the active session.
func (sm *SessionManager) SendText(ctx context.Context, text string) error {
	sm.mu.Lock()
	live := sm.live
	sm.mu.Unlock()
	if live == nil {
		return ErrNoSession
	}
	return live.SendText(ctx, text)
}

// Transcripts returns the committed turns of the current or last session,
// oldest first.
func (sm *SessionManager) Transcripts() []session.Transcript {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	out := make([]session.Transcript, len(sm.transcripts))
	copy(out, sm.transcripts)
	return out
}

func (sm *SessionManager) recordTranscript(t session.Transcript) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if len(sm.transcripts) == transcriptHistory {
		sm.transcripts = append(sm.transcripts[:0], sm.transcripts[1:]...)
	}
	sm.transcripts = append(sm.transcripts, t)
}
