package audio_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/mock"
)

func TestResampledInput_PassThrough(t *testing.T) {
	t.Parallel()

	dev := &mock.InputDevice{}
	in := audio.NewResampledInput(dev, audio.CaptureSampleRate)
	if got := in.Format(); got.SampleRate != audio.CaptureSampleRate || got.Channels != 1 {
		t.Errorf("Format = %+v", got)
	}

	var got []float32
	if err := in.Open(func(s []float32) { got = append(got, s...) }); err != nil {
		t.Fatalf("Open: %v", err)
	}
	dev.Tick([]float32{0.1, 0.2, 0.3})
	if len(got) != 3 || got[1] != 0.2 {
		t.Errorf("got %v, want the block unchanged", got)
	}
}

func TestResampledInput_Downsamples(t *testing.T) {
	t.Parallel()

	dev := &mock.InputDevice{FormatResult: audio.Format{SampleRate: 48000, Channels: 1}}
	in := audio.NewResampledInput(dev, 16000)

	var total int
	if err := in.Open(func(s []float32) { total += len(s) }); err != nil {
		t.Fatalf("Open: %v", err)
	}
	block := make([]float32, 4800)
	for range 10 {
		dev.Tick(block)
	}
	// 48000 samples in, roughly 16000 out once the filter has settled.
	if total < 15000 || total > 16100 {
		t.Errorf("resampled %d samples, want about 16000", total)
	}

	if err := in.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if dev.Opened() {
		t.Error("underlying device still open after Close")
	}
}

func TestResampledInput_OpenError(t *testing.T) {
	t.Parallel()

	want := errors.New("busy")
	in := audio.NewResampledInput(&mock.InputDevice{OpenError: want}, 16000)
	if err := in.Open(func([]float32) {}); !errors.Is(err, want) {
		t.Errorf("Open = %v, want %v", err, want)
	}
}
