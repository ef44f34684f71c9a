// Package pcm converts between normalised float samples and the 16-bit
// little-endian PCM wire format used by conversational model transports.
//
// [Encoder] turns one capture tick into a base64 [audio.EncodedFrame].
// [Decode] and [DecodeBytes] are the single-shot inverse used for model audio
// that arrives as discrete messages.
package pcm

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"

	"github.com/MrWong99/parley/pkg/audio"
)

// Overflow selects how samples outside [-1, 1) are mapped to int16.
type Overflow int

const (
	// OverflowClamp saturates out-of-range samples at the int16 limits.
	OverflowClamp Overflow = iota

	// OverflowWrap lets round(s*32768) wrap in two's complement, which is
	// audible as a loud click for s >= 1.
	OverflowWrap
)

// String returns the config name of the overflow mode.
func (o Overflow) String() string {
	switch o {
	case OverflowClamp:
		return "clamp"
	case OverflowWrap:
		return "wrap"
	default:
		return "unknown"
	}
}

// ParseOverflow maps a config string to an Overflow mode. The empty string
// selects OverflowClamp.
func ParseOverflow(s string) (Overflow, error) {
	switch s {
	case "", "clamp":
		return OverflowClamp, nil
	case "wrap":
		return OverflowWrap, nil
	default:
		return 0, fmt.Errorf("pcm: unknown overflow mode %q", s)
	}
}

// Option is a functional option for configuring an Encoder.
type Option func(*Encoder)

// WithSampleRate sets the rate advertised in the frame descriptor.
// Defaults to audio.CaptureSampleRate.
func WithSampleRate(rate int) Option {
	return func(e *Encoder) {
		e.sampleRate = rate
	}
}

// WithOverflow selects the overflow mode. Defaults to OverflowClamp.
func WithOverflow(o Overflow) Option {
	return func(e *Encoder) {
		e.overflow = o
	}
}

// Encoder converts float sample blocks into base64 PCM16 frames. An Encoder
// holds no mutable state and is safe for concurrent use.
type Encoder struct {
	sampleRate int
	overflow   Overflow
}

// NewEncoder returns an Encoder with the given options applied.
func NewEncoder(opts ...Option) *Encoder {
	e := &Encoder{
		sampleRate: audio.CaptureSampleRate,
		overflow:   OverflowClamp,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Descriptor returns the fixed descriptor attached to every frame.
func (e *Encoder) Descriptor() audio.Descriptor {
	return audio.Descriptor{
		Codec:        audio.CodecPCM16,
		SampleRateHz: e.sampleRate,
		Channels:     1,
	}
}

// EncodeFrame quantises samples into a [audio.PCMFrame].
func (e *Encoder) EncodeFrame(samples []float32) audio.PCMFrame {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = e.quantise(s)
	}
	return audio.PCMFrame{Samples: out, SampleRate: e.sampleRate}
}

// Encode quantises samples, packs them little-endian and base64-encodes the
// result.
func (e *Encoder) Encode(samples []float32) audio.EncodedFrame {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(e.quantise(s)))
	}
	return audio.EncodedFrame{
		Payload:    base64.StdEncoding.EncodeToString(buf),
		Descriptor: e.Descriptor(),
	}
}

func (e *Encoder) quantise(s float32) int16 {
	if e.overflow == OverflowClamp {
		return audio.FloatToPCM16(s)
	}
	return int16(int64(math.Round(float64(s) * 32768)))
}

// Decode base64-decodes payload and converts the PCM16 little-endian bytes
// into an [audio.AudioUnit] at the given rate.
func Decode(payload string, rate int) (audio.AudioUnit, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return audio.AudioUnit{}, fmt.Errorf("pcm: decode base64: %w", err)
	}
	return DecodeBytes(raw, rate)
}

// DecodeBytes converts PCM16 little-endian bytes into an [audio.AudioUnit]. A
// trailing odd byte cannot form a sample and is dropped with a warning.
func DecodeBytes(raw []byte, rate int) (audio.AudioUnit, error) {
	if rate <= 0 {
		return audio.AudioUnit{}, fmt.Errorf("pcm: sample rate must be > 0, got %d", rate)
	}
	if len(raw)%2 != 0 {
		slog.Warn("pcm: odd byte count in PCM payload, dropping last byte", "bytes", len(raw))
	}
	return audio.AudioUnit{
		SampleRate: uint32(rate),
		Samples:    audio.PCM16LEToFloat(raw),
	}, nil
}
