// Package mock provides test doubles for the s2s package interfaces.
//
// Use Provider to verify Connect calls and hand out controlled sessions.
// Use Session to script the model side of a conversation: push events with
// Emit, end the session with Finish, and inspect what the caller sent.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
//	sess.Emit(s2s.Event{Type: s2s.EventTurnComplete})
package mock

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/s2s"
)

// ErrClosed is returned by Session send methods after Close or Finish.
var ErrClosed = errors.New("mock: session closed")

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg s2s.SessionConfig
}

// Provider is a mock implementation of s2s.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by Connect. If nil, Connect returns
	// a new default Session.
	Session s2s.SessionHandle

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ProviderCapabilities is returned by Capabilities.
	ProviderCapabilities s2s.Capabilities

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall

	// CapabilitiesCallCount is the number of times Capabilities was called.
	CapabilitiesCallCount int
}

// Ensure Provider implements s2s.Provider at compile time.
var _ s2s.Provider = (*Provider)(nil)

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(), nil
}

// Capabilities records the call and returns ProviderCapabilities.
func (p *Provider) Capabilities() s2s.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CapabilitiesCallCount++
	return p.ProviderCapabilities
}

// Calls returns a copy of the recorded Connect calls. Thread-safe.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ConnectCall(nil), p.ConnectCalls...)
}

// ─── Session ──────────────────────────────────────────────────────────────────

// Session is a mock implementation of s2s.SessionHandle.
type Session struct {
	events chan s2s.Event
	sent   chan struct{}

	mu sync.Mutex

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// SendTextErr, if non-nil, is returned by every SendText call.
	SendTextErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// Audio records every frame passed to SendAudio.
	Audio []audio.EncodedFrame

	// Texts records every string passed to SendText.
	Texts []string

	// CallCountClose is the number of times Close was called.
	CallCountClose int

	finished bool
	errVal   error
}

// Ensure Session implements s2s.SessionHandle at compile time.
var _ s2s.SessionHandle = (*Session)(nil)

// NewSession returns a Session with a buffered event channel.
func NewSession() *Session {
	return &Session{
		events: make(chan s2s.Event, 256),
		sent:   make(chan struct{}, 1),
	}
}

// Emit delivers ev to the consumer. It reports false once the session has
// finished.
func (s *Session) Emit(ev s2s.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return false
	}
	s.events <- ev
	return true
}

// Finish closes the event channel as if the connection ended. err becomes the
// value reported by Err.
func (s *Session) Finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.finished = true
	s.errVal = err
	close(s.events)
}

// Sent returns a channel that receives a value after each SendAudio or
// SendText call. Useful for synchronising tests without sleeping.
func (s *Session) Sent() <-chan struct{} {
	return s.sent
}

// Frames returns a copy of the recorded audio frames.
func (s *Session) Frames() []audio.EncodedFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audio.EncodedFrame(nil), s.Audio...)
}

// SentTexts returns a copy of the strings passed to SendText.
func (s *Session) SentTexts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.Texts)
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountClose > 0
}

func (s *Session) notify() {
	select {
	case s.sent <- struct{}{}:
	default:
	}
}

// SendAudio records the frame.
func (s *Session) SendAudio(_ context.Context, f audio.EncodedFrame) error {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.SendAudioErr != nil {
		err := s.SendAudioErr
		s.mu.Unlock()
		return err
	}
	s.Audio = append(s.Audio, f)
	s.mu.Unlock()
	s.notify()
	return nil
}

// SendText records the text.
func (s *Session) SendText(_ context.Context, text string) error {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.SendTextErr != nil {
		err := s.SendTextErr
		s.mu.Unlock()
		return err
	}
	s.Texts = append(s.Texts, text)
	s.mu.Unlock()
	s.notify()
	return nil
}

// Events returns the scripted event channel.
func (s *Session) Events() <-chan s2s.Event {
	return s.events
}

// Err returns the error passed to Finish.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close records the call and finishes the session cleanly.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CallCountClose++
	err := s.CloseErr
	s.mu.Unlock()
	s.Finish(nil)
	return err
}
