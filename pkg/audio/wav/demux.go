// Package wav reassembles RIFF/WAVE containers from byte streams that arrive
// in arbitrarily split chunks, and writes the same canonical container.
//
// Only the canonical 44-byte header is understood: "RIFF" at 0, "WAVE" at 8,
// the sample rate at 24 and the data payload size at 40, both little-endian
// uint32, followed by mono signed 16-bit little-endian PCM. Extended headers,
// other chunk types, non-PCM codecs and multi-channel payloads are not
// supported.
package wav

import (
	"bytes"
	"encoding/binary"
	"errors"
	"log/slog"

	"github.com/MrWong99/parley/pkg/audio"
)

// HeaderSize is the size of the canonical container header.
const HeaderSize = 44

// Header field offsets.
const (
	offFormat     = 8
	offSampleRate = 24
	offDataSize   = 40
)

// DefaultMaxUnitSize bounds the declared size of a single container. A header
// claiming more is treated as coincidental bytes and skipped.
const DefaultMaxUnitSize = 64 << 20

var (
	magicRIFF = []byte("RIFF")
	magicWAVE = []byte("WAVE")
)

// ErrTruncatedTail is returned by callers that choose to treat leftover bytes
// at end of stream as an error. The demuxer itself never returns it.
var ErrTruncatedTail = errors.New("wav: stream ended with an incomplete container")

// Stats are cumulative counters over the lifetime of a Demuxer.
type Stats struct {
	// Bytes is the total number of bytes fed.
	Bytes int64

	// Units is the number of complete units extracted.
	Units int64

	// ResyncBytes counts bytes skipped while searching for a valid header.
	ResyncBytes int64

	// DroppedTailBytes counts buffered bytes discarded by Reset or Close.
	DroppedTailBytes int64
}

// Option is a functional option for configuring a Demuxer.
type Option func(*Demuxer)

// WithLogger sets the logger used for tail-drop warnings. Defaults to
// slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Demuxer) {
		d.log = l
	}
}

// WithMaxUnitSize overrides DefaultMaxUnitSize. Zero or less disables the
// bound.
func WithMaxUnitSize(n int) Option {
	return func(d *Demuxer) {
		d.maxUnit = n
	}
}

// Demuxer turns a raw byte stream into complete [audio.AudioUnit] values, one
// per container, buffering incomplete tails across calls.
//
// Every byte fed either belongs to an extracted unit, is retained in the tail,
// or was skipped while resyncing before a confirmed header. The tail never
// holds a complete unit.
//
// A Demuxer serves one stream at a time and is not safe for concurrent use.
type Demuxer struct {
	tail    []byte
	stats   Stats
	maxUnit int
	log     *slog.Logger
}

// NewDemuxer returns an empty Demuxer.
func NewDemuxer(opts ...Option) *Demuxer {
	d := &Demuxer{
		maxUnit: DefaultMaxUnitSize,
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Feed appends b to the buffered tail and returns every complete unit that can
// now be extracted, in stream order. It never fails: malformed bytes are
// skipped one at a time until a plausible header is found.
func (d *Demuxer) Feed(b []byte) []audio.AudioUnit {
	d.stats.Bytes += int64(len(b))
	data := append(d.tail, b...)

	var units []audio.AudioUnit
	o := 0
	for {
		idx := bytes.Index(data[o:], magicRIFF)
		if idx < 0 {
			// Keep a suffix that may be the start of a magic split across chunks.
			keep := partialMagic(data[o:])
			d.stats.ResyncBytes += int64(len(data) - o - keep)
			o = len(data) - keep
			break
		}
		c := o + idx
		d.stats.ResyncBytes += int64(idx)
		o = c

		avail := len(data) - c
		if avail < offFormat+len(magicWAVE) {
			break
		}
		if !bytes.Equal(data[c+offFormat:c+offFormat+len(magicWAVE)], magicWAVE) {
			d.stats.ResyncBytes++
			o = c + 1
			continue
		}
		if avail < HeaderSize {
			break
		}

		payload := int(binary.LittleEndian.Uint32(data[c+offDataSize:]))
		unitSize := HeaderSize + payload
		if d.maxUnit > 0 && unitSize > d.maxUnit {
			d.stats.ResyncBytes++
			o = c + 1
			continue
		}
		if avail < unitSize {
			break
		}

		rate := binary.LittleEndian.Uint32(data[c+offSampleRate:])
		units = append(units, audio.AudioUnit{
			SampleRate: rate,
			Samples:    audio.PCM16LEToFloat(data[c+HeaderSize : c+unitSize]),
		})
		d.stats.Units++
		o = c + unitSize
	}

	d.tail = append(d.tail[:0], data[o:]...)
	return units
}

// partialMagic returns the length of the longest suffix of b that is a proper
// prefix of "RIFF".
func partialMagic(b []byte) int {
	for n := min(len(b), len(magicRIFF)-1); n > 0; n-- {
		if bytes.Equal(b[len(b)-n:], magicRIFF[:n]) {
			return n
		}
	}
	return 0
}

// Buffered returns the number of bytes currently held in the tail.
func (d *Demuxer) Buffered() int {
	return len(d.tail)
}

// Reset discards the buffered tail, e.g. between conversation turns, and
// returns the number of bytes discarded.
func (d *Demuxer) Reset() int {
	n := len(d.tail)
	d.tail = d.tail[:0]
	d.stats.DroppedTailBytes += int64(n)
	return n
}

// Close marks the end of the stream. Any buffered tail is an incomplete
// trailing container; it is discarded, logged and counted. The returned byte
// count lets callers decide whether a nonzero leftover is an error. The
// Demuxer may be reused afterwards.
func (d *Demuxer) Close() int {
	n := d.Reset()
	if n > 0 {
		d.log.Warn("wav: discarding incomplete container at end of stream", "bytes", n)
	}
	return n
}

// Stats returns the cumulative counters.
func (d *Demuxer) Stats() Stats {
	return d.stats
}
