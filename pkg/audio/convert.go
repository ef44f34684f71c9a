package audio

import (
	"encoding/binary"
	"log/slog"
	"math"
	"sync"

	"github.com/oov/audio/resampler"
)

// resampleQuality is the filter quality passed to the oov resampler (0-10).
const resampleQuality = 10

// FloatToPCM16 converts a normalised sample to a signed 16-bit value using
// round(s*32768), clamped to the int16 range.
func FloatToPCM16(s float32) int16 {
	v := math.Round(float64(s) * 32768)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// PCM16ToFloat converts a signed 16-bit sample to a normalised float.
func PCM16ToFloat(s int16) float32 {
	return float32(s) / 32768.0
}

// PCM16LEToFloat decodes little-endian signed 16-bit samples into normalised
// floats. A trailing odd byte is ignored.
func PCM16LEToFloat(b []byte) []float32 {
	out := make([]float32, len(b)/2)
	for i := range out {
		out[i] = PCM16ToFloat(int16(binary.LittleEndian.Uint16(b[i*2:])))
	}
	return out
}

// Clamp limits s to [-1, 1].
func Clamp(s float32) float32 {
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	return s
}

// MonoToInterleaved duplicates each mono sample across channels. dst is
// reused when large enough.
func MonoToInterleaved(dst, mono []float32, channels int) []float32 {
	n := len(mono) * channels
	if cap(dst) < n {
		dst = make([]float32, n)
	}
	dst = dst[:n]
	for i, v := range mono {
		for c := range channels {
			dst[i*channels+c] = v
		}
	}
	return dst
}

// InterleavedToMono averages interleaved frames down to mono. dst is reused
// when large enough. A trailing partial frame is ignored.
func InterleavedToMono(dst, interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		return append(dst[:0], interleaved...)
	}
	n := len(interleaved) / channels
	if cap(dst) < n {
		dst = make([]float32, n)
	}
	dst = dst[:n]
	for i := range n {
		var sum float32
		for c := range channels {
			sum += interleaved[i*channels+c]
		}
		dst[i] = sum / float32(channels)
	}
	return dst
}

// Resample converts a complete mono block from one rate to another. Each call
// starts with fresh filter state, so it suits self-contained units rather
// than a continuous stream; use [Resampler] for the latter.
func Resample(samples []float32, from, to int) []float32 {
	if from == to || from <= 0 || to <= 0 || len(samples) == 0 {
		return samples
	}
	r := NewResampler(from, to)
	return r.Process(samples)
}

// Resampler converts a continuous mono stream between two rates, keeping
// filter state across calls so block boundaries do not click. It is not safe
// for concurrent use.
type Resampler struct {
	from, to int
	r        *resampler.Resampler
	buf      []float32
	warnOnce sync.Once
}

// NewResampler returns a streaming mono resampler from one rate to another.
func NewResampler(from, to int) *Resampler {
	return &Resampler{
		from: from,
		to:   to,
		r:    resampler.New(1, from, to, resampleQuality),
	}
}

// Process resamples in and returns the produced samples. The returned slice
// is only valid until the next call.
func (r *Resampler) Process(in []float32) []float32 {
	if r.from == r.to {
		return in
	}
	want := int(math.Ceil(float64(len(in))*float64(r.to)/float64(r.from))) + 64
	if cap(r.buf) < want {
		r.buf = make([]float32, want)
	}
	out := r.buf[:want]

	var written int
	for len(in) > 0 {
		read, w := r.r.ProcessFloat32(0, in, out[written:])
		written += w
		in = in[read:]
		if read == 0 {
			r.warnOnce.Do(func() {
				slog.Warn("audio resampler: input not fully consumed",
					"from", r.from,
					"to", r.to,
					"remaining", len(in),
				)
			})
			break
		}
	}
	return out[:written]
}
