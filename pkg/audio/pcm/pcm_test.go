package pcm_test

import (
	"encoding/base64"
	"encoding/binary"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/pcm"
)

func decodePayload(t *testing.T, f audio.EncodedFrame) []int16 {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(f.Payload)
	if err != nil {
		t.Fatalf("payload is not base64: %v", err)
	}
	out := make([]int16, len(raw)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	return out
}

func TestEncode_RoundTripWithinOneStep(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(1, 2))
	samples := make([]float32, 4096)
	for i := range samples {
		samples[i] = rng.Float32()*2 - 1 // [-1, 1)
	}

	enc := pcm.NewEncoder()
	got := decodePayload(t, enc.Encode(samples))
	if len(got) != len(samples) {
		t.Fatalf("decoded %d samples, want %d", len(got), len(samples))
	}
	const step = 1.0 / 32768
	for i, s := range samples {
		back := float64(got[i]) / 32768
		if math.Abs(back-float64(s)) > step {
			t.Fatalf("sample %d: %v decoded as %v, off by more than one step", i, s, back)
		}
	}
}

func TestEncode_Descriptor(t *testing.T) {
	t.Parallel()

	f := pcm.NewEncoder().Encode([]float32{0})
	want := audio.Descriptor{Codec: "pcm16", SampleRateHz: 16000, Channels: 1}
	if f.Descriptor != want {
		t.Errorf("Descriptor = %+v, want %+v", f.Descriptor, want)
	}
	if got := f.Descriptor.MIME(); got != "audio/pcm;rate=16000" {
		t.Errorf("MIME = %q", got)
	}

	f = pcm.NewEncoder(pcm.WithSampleRate(24000)).Encode(nil)
	if f.Descriptor.SampleRateHz != 24000 {
		t.Errorf("SampleRateHz = %d, want 24000", f.Descriptor.SampleRateHz)
	}
	if f.Payload != "" {
		t.Errorf("empty input produced payload %q", f.Payload)
	}
}

func TestEncode_Overflow(t *testing.T) {
	t.Parallel()

	in := []float32{1.0, 1.5, -1.0, -1.5}

	clamped := decodePayload(t, pcm.NewEncoder().Encode(in))
	wantClamp := []int16{32767, 32767, -32768, -32768}
	for i := range wantClamp {
		if clamped[i] != wantClamp[i] {
			t.Errorf("clamp sample %d: got %d, want %d", i, clamped[i], wantClamp[i])
		}
	}

	wrapped := decodePayload(t, pcm.NewEncoder(pcm.WithOverflow(pcm.OverflowWrap)).Encode(in[:1]))
	if wrapped[0] != -32768 {
		t.Errorf("wrap of 1.0 = %d, want -32768", wrapped[0])
	}
}

func TestParseOverflow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    pcm.Overflow
		wantErr bool
	}{
		{"", pcm.OverflowClamp, false},
		{"clamp", pcm.OverflowClamp, false},
		{"wrap", pcm.OverflowWrap, false},
		{"saturate", 0, true},
	}
	for _, tt := range tests {
		got, err := pcm.ParseOverflow(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseOverflow(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseOverflow(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestEncodeFrame(t *testing.T) {
	t.Parallel()

	f := pcm.NewEncoder().EncodeFrame([]float32{0.5, -0.5})
	if f.SampleRate != 16000 {
		t.Errorf("SampleRate = %d", f.SampleRate)
	}
	if f.Samples[0] != 16384 || f.Samples[1] != -16384 {
		t.Errorf("Samples = %v", f.Samples)
	}
}

func TestDecode(t *testing.T) {
	t.Parallel()

	frame := pcm.NewEncoder().Encode([]float32{0.25, -0.25, 0})
	unit, err := pcm.Decode(frame.Payload, 24000)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if unit.SampleRate != 24000 {
		t.Errorf("SampleRate = %d, want 24000", unit.SampleRate)
	}
	want := []float32{0.25, -0.25, 0}
	for i := range want {
		if unit.Samples[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, unit.Samples[i], want[i])
		}
	}

	if _, err := pcm.Decode("not base64!!", 24000); err == nil {
		t.Error("expected error for invalid base64")
	}
	if _, err := pcm.DecodeBytes([]byte{0, 0}, 0); err == nil {
		t.Error("expected error for zero sample rate")
	}
}

func TestDecodeBytes_OddLength(t *testing.T) {
	t.Parallel()

	unit, err := pcm.DecodeBytes([]byte{0x00, 0x40, 0x7f}, 16000)
	if err != nil {
		t.Fatalf("DecodeBytes: %v", err)
	}
	if len(unit.Samples) != 1 || unit.Samples[0] != 0.5 {
		t.Errorf("Samples = %v, want [0.5]", unit.Samples)
	}
}
