package wav_test

import (
	"encoding/binary"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/playback"
	"github.com/MrWong99/parley/pkg/audio/wav"
)

// makeUnit returns a unit whose samples survive PCM16 quantisation exactly.
func makeUnit(rate uint32, n int, seed int) audio.AudioUnit {
	u := audio.AudioUnit{SampleRate: rate, Samples: make([]float32, n)}
	for i := range u.Samples {
		u.Samples[i] = float32(int16((i*37+seed*101)%65536-32768)) / 32768
	}
	return u
}

func makeContainer(rate uint32, n int, seed int) []byte {
	return wav.AppendContainer(nil, makeUnit(rate, n, seed))
}

func equalUnits(t *testing.T, got, want []audio.AudioUnit) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d units, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].SampleRate != want[i].SampleRate {
			t.Fatalf("unit %d: rate %d, want %d", i, got[i].SampleRate, want[i].SampleRate)
		}
		if !slices.Equal(got[i].Samples, want[i].Samples) {
			t.Fatalf("unit %d: samples differ (len %d vs %d)", i, len(got[i].Samples), len(want[i].Samples))
		}
	}
}

func TestFeed_SingleContainer(t *testing.T) {
	t.Parallel()

	unit := makeUnit(22050, 500, 1)
	b := wav.AppendContainer(nil, unit)
	if len(b) != wav.HeaderSize+1000 {
		t.Fatalf("container size = %d, want %d", len(b), wav.HeaderSize+1000)
	}

	d := wav.NewDemuxer()
	got := d.Feed(b)
	equalUnits(t, got, []audio.AudioUnit{unit})
	if d.Buffered() != 0 {
		t.Errorf("Buffered = %d, want 0", d.Buffered())
	}
	if s := d.Stats(); s.Units != 1 || s.ResyncBytes != 0 {
		t.Errorf("Stats = %+v", s)
	}
}

func TestFeed_ChunkingInvarianceAtEveryOffset(t *testing.T) {
	t.Parallel()

	stream := append(makeContainer(24000, 40, 1), makeContainer(16000, 25, 2)...)
	want := wav.NewDemuxer().Feed(stream)
	if len(want) != 2 {
		t.Fatalf("reference produced %d units, want 2", len(want))
	}

	for split := 1; split < len(stream); split++ {
		d := wav.NewDemuxer()
		got := d.Feed(stream[:split])
		got = append(got, d.Feed(stream[split:])...)
		equalUnits(t, got, want)
		if d.Buffered() != 0 {
			t.Fatalf("split %d: Buffered = %d, want 0", split, d.Buffered())
		}
	}
}

func TestFeed_ByteAtATime(t *testing.T) {
	t.Parallel()

	stream := append(makeContainer(24000, 30, 3), makeContainer(24000, 31, 4)...)
	want := wav.NewDemuxer().Feed(stream)

	d := wav.NewDemuxer()
	var got []audio.AudioUnit
	for i := range stream {
		got = append(got, d.Feed(stream[i:i+1])...)
	}
	equalUnits(t, got, want)
}

func TestFeed_ResyncSkipsGarbage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		garbage []byte
	}{
		{"plain bytes", []byte{0x01, 0x02, 0x03, 0x04, 0x05}},
		{"partial magic", []byte("RIFxRI")},
		{"riff without wave", append([]byte("RIFF\x00\x00\x00\x00NOPE"), 0xff)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			unit := makeUnit(16000, 100, 5)
			stream := append(slices.Clone(tt.garbage), wav.AppendContainer(nil, unit)...)

			d := wav.NewDemuxer()
			got := d.Feed(stream)
			equalUnits(t, got, []audio.AudioUnit{unit})
			if d.Buffered() != 0 {
				t.Errorf("Buffered = %d, want 0", d.Buffered())
			}
			if s := d.Stats(); s.ResyncBytes != int64(len(tt.garbage)) {
				t.Errorf("ResyncBytes = %d, want %d", s.ResyncBytes, len(tt.garbage))
			}
		})
	}
}

func TestFeed_GarbageAloneIsNotRetained(t *testing.T) {
	t.Parallel()

	d := wav.NewDemuxer()
	if units := d.Feed([]byte("hello world")); len(units) != 0 {
		t.Fatalf("got %d units from garbage", len(units))
	}
	if d.Buffered() != 0 {
		t.Errorf("Buffered = %d, want 0", d.Buffered())
	}

	// A trailing partial magic must survive so a split header still parses.
	d.Feed([]byte("xxRI"))
	if d.Buffered() != 2 {
		t.Errorf("Buffered = %d, want 2", d.Buffered())
	}
}

func TestFeed_TailNeverHoldsCompleteUnit(t *testing.T) {
	t.Parallel()

	first := makeContainer(16000, 10, 6)
	second := makeContainer(16000, 10, 7)
	stream := append(first, second[:30]...)

	d := wav.NewDemuxer()
	if units := d.Feed(stream); len(units) != 1 {
		t.Fatalf("got %d units, want 1", len(units))
	}
	if d.Buffered() != 30 {
		t.Errorf("Buffered = %d, want 30", d.Buffered())
	}
	if units := d.Feed(second[30:]); len(units) != 1 {
		t.Fatalf("got %d units after completion, want 1", len(units))
	}
}

func TestFeed_OddPayloadSize(t *testing.T) {
	t.Parallel()

	b := makeContainer(16000, 4, 8)
	b = append(b, 0x7f)
	binary.LittleEndian.PutUint32(b[40:], 9)
	b = append(b, makeContainer(16000, 2, 9)...)

	units := wav.NewDemuxer().Feed(b)
	if len(units) != 2 {
		t.Fatalf("got %d units, want 2", len(units))
	}
	if len(units[0].Samples) != 4 {
		t.Errorf("first unit has %d samples, want 4", len(units[0].Samples))
	}
}

func TestFeed_OversizedHeaderIsSkipped(t *testing.T) {
	t.Parallel()

	bogus := makeContainer(16000, 0, 0)
	binary.LittleEndian.PutUint32(bogus[40:], 1<<30)
	unit := makeUnit(16000, 8, 10)
	stream := append(bogus, wav.AppendContainer(nil, unit)...)

	d := wav.NewDemuxer(wav.WithMaxUnitSize(1 << 20))
	equalUnits(t, d.Feed(stream), []audio.AudioUnit{unit})
}

func TestResetAndClose(t *testing.T) {
	t.Parallel()

	b := makeContainer(16000, 100, 11)
	d := wav.NewDemuxer()
	d.Feed(b[:50])

	if n := d.Reset(); n != 50 {
		t.Errorf("Reset = %d, want 50", n)
	}
	if d.Buffered() != 0 {
		t.Errorf("Buffered after Reset = %d", d.Buffered())
	}

	d.Feed(b[:120])
	if n := d.Close(); n != 120 {
		t.Errorf("Close = %d, want 120", n)
	}
	if n := d.Close(); n != 0 {
		t.Errorf("second Close = %d, want 0", n)
	}
	if s := d.Stats(); s.DroppedTailBytes != 170 {
		t.Errorf("DroppedTailBytes = %d, want 170", s.DroppedTailBytes)
	}

	// Usable after Close.
	if units := d.Feed(b); len(units) != 1 {
		t.Errorf("got %d units after Close, want 1", len(units))
	}
}

func TestFeed_ThreeChunkScenario(t *testing.T) {
	t.Parallel()

	unit := makeUnit(16000, 16000, 12)
	b := wav.AppendContainer(nil, unit)

	d := wav.NewDemuxer()
	var got []audio.AudioUnit
	for _, chunk := range [][]byte{b[:20], b[20:30020], b[30020:]} {
		got = append(got, d.Feed(chunk)...)
	}
	if len(got) != 1 {
		t.Fatalf("got %d units, want 1", len(got))
	}
	if got[0].SampleRate != 16000 || len(got[0].Samples) != 16000 {
		t.Fatalf("unit = %d Hz, %d samples", got[0].SampleRate, len(got[0].Samples))
	}

	// Played twice on a fresh scheduler the copies sit back to back.
	s := playback.New(16000)
	first := s.ScheduleNext(got[0])
	second := s.ScheduleNext(got[0])
	if first.Start() != 0 || second.Start() != time.Second {
		t.Errorf("starts = %v, %v, want 0s, 1s", first.Start(), second.Start())
	}
}

func TestAppendContainer_Layout(t *testing.T) {
	t.Parallel()

	b := wav.AppendContainer([]byte("prefix"), audio.AudioUnit{SampleRate: 24000, Samples: []float32{0.5, -0.5}})
	b = b[len("prefix"):]
	if string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		t.Errorf("magic = %q/%q", b[0:4], b[8:12])
	}
	if got := binary.LittleEndian.Uint32(b[24:]); got != 24000 {
		t.Errorf("sample rate field = %d", got)
	}
	if got := binary.LittleEndian.Uint32(b[40:]); got != 4 {
		t.Errorf("data size field = %d", got)
	}
	if got := int16(binary.LittleEndian.Uint16(b[44:])); got != 16384 {
		t.Errorf("first sample = %d", got)
	}

	if got := wav.AppendContainer(nil, audio.AudioUnit{}); len(got) != 0 {
		t.Errorf("invalid unit appended %d bytes", len(got))
	}
	dst := []byte("kept")
	if got := wav.AppendContainer(dst, audio.AudioUnit{Samples: []float32{0.1}}); string(got) != "kept" {
		t.Errorf("zero-rate unit changed dst to %q", got)
	}
}
