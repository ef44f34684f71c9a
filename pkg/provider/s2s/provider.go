// Package s2s defines the Provider interface for speech-to-speech model
// transports.
//
// A speech-to-speech provider wraps a conversational model reachable over a
// bidirectional, message-oriented connection (e.g., Gemini Live, OpenAI
// Realtime). Microphone audio goes up as [audio.EncodedFrame] values; model
// output comes back on a single ordered [Event] channel so that audio chunks,
// interruption signals and turn boundaries are observed in the order the
// server sent them.
//
// Implementations must be safe for concurrent use.
package s2s

import (
	"context"

	"github.com/MrWong99/parley/pkg/audio"
)

// SessionConfig is the per-session configuration sent at connect time.
type SessionConfig struct {
	// Voice is the provider-specific prebuilt voice name. Empty selects the
	// provider default.
	Voice string

	// Instructions is the system prompt for the session.
	Instructions string

	// Transcribe requests input and output transcription events when the
	// provider supports them.
	Transcribe bool
}

// Capabilities describes static properties of a provider.
type Capabilities struct {
	// OutputSampleRate is the rate of PCM16 audio carried by EventAudio.
	OutputSampleRate int

	// InputSampleRate is the rate the provider expects for uploaded audio.
	// Frames at a different rate are resampled by the provider.
	InputSampleRate int

	// Voices lists the prebuilt voice names the provider accepts.
	Voices []string
}

// EventType identifies the kind of an [Event].
type EventType int

const (
	// EventAudio carries a chunk of model audio as PCM16 little-endian mono.
	EventAudio EventType = iota

	// EventInterrupted signals that the server detected user speech while the
	// model was talking. Any scheduled model audio should be cancelled.
	EventInterrupted

	// EventTurnComplete marks the end of a model turn.
	EventTurnComplete

	// EventInputTranscript carries a fragment of the user's transcribed speech.
	EventInputTranscript

	// EventOutputTranscript carries a fragment of the model's speech as text.
	EventOutputTranscript

	// EventError carries a non-fatal error reported by the server. Fatal
	// transport errors close the channel and are reported by Err instead.
	EventError
)

// String returns the human-readable name of the event type.
func (t EventType) String() string {
	switch t {
	case EventAudio:
		return "audio"
	case EventInterrupted:
		return "interrupted"
	case EventTurnComplete:
		return "turn_complete"
	case EventInputTranscript:
		return "input_transcript"
	case EventOutputTranscript:
		return "output_transcript"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one message from the model.
type Event struct {
	Type EventType

	// Audio is raw PCM16 LE mono, set for EventAudio.
	Audio []byte

	// SampleRate is the rate of Audio.
	SampleRate int

	// Text is set for transcript events.
	Text string

	// Err is set for EventError.
	Err error
}

// SessionHandle represents an active speech-to-speech session.
//
// The Events channel is closed when the session ends, either because Close was
// called or because the connection failed. After it is closed, Err reports the
// cause (nil after a clean Close).
type SessionHandle interface {
	// SendAudio uploads one captured frame. It returns an error once the
	// session is closed or the connection has failed.
	SendAudio(ctx context.Context, f audio.EncodedFrame) error

	// SendText injects a user text turn and asks the model to respond.
	SendText(ctx context.Context, text string) error

	// Events returns the ordered event channel.
	Events() <-chan Event

	// Err returns the error that terminated the session, if any.
	Err() error

	// Close terminates the session and releases resources. Idempotent.
	Close() error
}

// Provider is the abstraction over any speech-to-speech backend.
type Provider interface {
	// Connect opens a new session. The returned handle is ready to accept
	// audio immediately.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)

	// Capabilities returns static metadata about the provider.
	Capabilities() Capabilities
}
