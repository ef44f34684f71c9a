// Package opus provides an Opus alternative to the PCM16 capture encoder for
// transports that accept compressed audio.
//
// Capture ticks are not a multiple of an Opus frame, so the encoder carries
// leftover samples across calls. Each [audio.EncodedFrame] payload is the
// base64 encoding of zero or more packets, each prefixed by its length as a
// little-endian uint16.
package opus

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"layeh.com/gopus"

	"github.com/MrWong99/parley/pkg/audio"
)

const (
	frameSizeMs = 20

	// maxPacketBytes bounds a single encoded packet.
	maxPacketBytes = 4000
)

// Encoder encodes mono float blocks into length-prefixed Opus packets.
// It is safe for concurrent use, though capture only calls it from one tick
// goroutine.
type Encoder struct {
	mu        sync.Mutex
	enc       *gopus.Encoder
	rate      int
	frameSize int
	pending   []int16
}

// NewEncoder creates an Opus encoder for mono audio at rate (8000, 12000,
// 16000, 24000 or 48000 Hz).
func NewEncoder(rate int) (*Encoder, error) {
	enc, err := gopus.NewEncoder(rate, 1, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("opus: create encoder: %w", err)
	}
	return &Encoder{
		enc:       enc,
		rate:      rate,
		frameSize: rate * frameSizeMs / 1000,
	}, nil
}

// Descriptor returns the descriptor attached to every frame.
func (e *Encoder) Descriptor() audio.Descriptor {
	return audio.Descriptor{Codec: audio.CodecOpus, SampleRateHz: e.rate, Channels: 1}
}

// Encode appends samples to the pending buffer and encodes every complete
// 20 ms frame. A packet that fails to encode is logged and skipped.
func (e *Encoder) Encode(samples []float32) audio.EncodedFrame {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, s := range samples {
		e.pending = append(e.pending, audio.FloatToPCM16(s))
	}

	var payload []byte
	for len(e.pending) >= e.frameSize {
		pkt, err := e.enc.Encode(e.pending[:e.frameSize], e.frameSize, maxPacketBytes)
		if err != nil {
			slog.Warn("opus: encode frame", "err", err)
		} else {
			payload = binary.LittleEndian.AppendUint16(payload, uint16(len(pkt)))
			payload = append(payload, pkt...)
		}
		e.pending = e.pending[e.frameSize:]
	}
	// Compact so the backing array does not grow without bound.
	e.pending = append(e.pending[:0:0], e.pending...)

	return audio.EncodedFrame{
		Payload:    base64.StdEncoding.EncodeToString(payload),
		Descriptor: e.Descriptor(),
	}
}

// Decoder reverses [Encoder] output into PCM units.
type Decoder struct {
	dec       *gopus.Decoder
	rate      int
	frameSize int
}

// NewDecoder creates a mono Opus decoder at rate.
func NewDecoder(rate int) (*Decoder, error) {
	dec, err := gopus.NewDecoder(rate, 1)
	if err != nil {
		return nil, fmt.Errorf("opus: create decoder: %w", err)
	}
	return &Decoder{dec: dec, rate: rate, frameSize: rate * frameSizeMs / 1000}, nil
}

// errShortPacket reports a length prefix that runs past the payload.
var errShortPacket = errors.New("opus: truncated packet")

// Decode decodes every packet in a frame payload into a single unit.
func (d *Decoder) Decode(f audio.EncodedFrame) (audio.AudioUnit, error) {
	raw, err := base64.StdEncoding.DecodeString(f.Payload)
	if err != nil {
		return audio.AudioUnit{}, fmt.Errorf("opus: decode base64: %w", err)
	}
	unit := audio.AudioUnit{SampleRate: uint32(d.rate)}
	for len(raw) > 0 {
		if len(raw) < 2 {
			return unit, errShortPacket
		}
		n := int(binary.LittleEndian.Uint16(raw))
		raw = raw[2:]
		if len(raw) < n {
			return unit, errShortPacket
		}
		pcm, err := d.dec.Decode(raw[:n], d.frameSize, false)
		if err != nil {
			return unit, fmt.Errorf("opus: decode packet: %w", err)
		}
		for _, s := range pcm {
			unit.Samples = append(unit.Samples, audio.PCM16ToFloat(s))
		}
		raw = raw[n:]
	}
	return unit, nil
}
