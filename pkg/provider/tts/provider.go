// Package tts defines the Provider interface for text-to-speech backends that
// answer with a continuous byte stream of concatenated RIFF/WAVE containers.
//
// The stream is deliberately opaque: container boundaries do not line up with
// transport chunks, so callers feed it through a wav.Demuxer to recover
// playable units.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"io"
)

// Request is one synthesis request.
type Request struct {
	// Text is the utterance to speak.
	Text string `json:"text"`

	// Voice is the provider-specific voice identifier. Empty selects the
	// provider default.
	Voice string `json:"voice,omitempty"`
}

// Provider is the abstraction over any streaming TTS backend.
type Provider interface {
	// Stream starts synthesis and returns the response body. The caller must
	// close it. Errors encountered mid-stream surface as read errors on the
	// returned reader.
	Stream(ctx context.Context, req Request) (io.ReadCloser, error)
}
