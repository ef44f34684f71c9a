package audio

import (
	"errors"
	"fmt"
	"time"
)

// Default stream parameters used across the capture and playback paths.
const (
	// CaptureSampleRate is the fixed wire rate of microphone frames.
	CaptureSampleRate = 16000

	// PlaybackSampleRate is the rate used by message-oriented transports for
	// model audio when they do not declare one.
	PlaybackSampleRate = 24000

	// DefaultTickSize is the number of samples delivered per capture tick.
	DefaultTickSize = 4096
)

// Codec names carried in a [Descriptor].
const (
	CodecPCM16 = "pcm16"
	CodecOpus  = "opus"
)

// PCMFrame is a fixed-point audio buffer of signed 16-bit mono samples.
// Frames are immutable once produced and consumed exactly once.
type PCMFrame struct {
	Samples    []int16
	SampleRate int
}

// Duration returns the playback length of the frame.
func (f PCMFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// Descriptor is the MIME-style description attached to an [EncodedFrame].
type Descriptor struct {
	// Codec is one of CodecPCM16 or CodecOpus.
	Codec string `json:"codec"`

	// SampleRateHz is the sample rate of the encoded audio.
	SampleRateHz int `json:"sampleRateHz"`

	// Channels is always 1 for capture output.
	Channels int `json:"channels"`
}

// MIME renders the descriptor in the form transports expect, e.g.
// "audio/pcm;rate=16000".
func (d Descriptor) MIME() string {
	codec := "pcm"
	if d.Codec == CodecOpus {
		codec = "opus"
	}
	return fmt.Sprintf("audio/%s;rate=%d", codec, d.SampleRateHz)
}

// EncodedFrame is a transport-ready payload. Payload holds text-encoded
// (base64) bytes. The frame is owned by the caller until handed to a
// transport.
type EncodedFrame struct {
	Payload    string     `json:"payload"`
	Descriptor Descriptor `json:"descriptor"`
}

// AudioUnit is a decoded block of normalised mono samples in [-1, 1],
// ready to be scheduled for playback.
type AudioUnit struct {
	SampleRate uint32
	Samples    []float32
}

// Duration returns len(Samples)/SampleRate as a time.Duration.
func (u AudioUnit) Duration() time.Duration {
	if u.SampleRate == 0 {
		return 0
	}
	return time.Duration(len(u.Samples)) * time.Second / time.Duration(u.SampleRate)
}

// Validate reports whether the unit can be scheduled.
func (u AudioUnit) Validate() error {
	if u.SampleRate == 0 {
		return errors.New("audio: unit sample rate must be > 0")
	}
	return nil
}
