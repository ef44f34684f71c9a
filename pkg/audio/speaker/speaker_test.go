package speaker

import (
	"encoding/binary"
	"math"
	"testing"
)

type rampRenderer struct{ calls int }

func (r *rampRenderer) Render(out []float32) {
	r.calls++
	for i := range out {
		out[i] = float32(i) / 10
	}
}

func TestRenderReader(t *testing.T) {
	t.Parallel()

	r := &rampRenderer{}
	rr := &renderReader{r: r}

	// 3 whole samples plus 2 stray bytes.
	p := make([]byte, 14)
	n, err := rr.Read(p)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 12 {
		t.Errorf("n = %d, want 12", n)
	}
	for i := range 3 {
		got := math.Float32frombits(binary.LittleEndian.Uint32(p[i*4:]))
		if got != float32(i)/10 {
			t.Errorf("sample %d = %v, want %v", i, got, float32(i)/10)
		}
	}
	if r.calls != 1 {
		t.Errorf("Render called %d times, want 1", r.calls)
	}
}

func TestNewDefaults(t *testing.T) {
	t.Parallel()

	o := New(0, 0)
	if o.SampleRate() != 24000 {
		t.Errorf("SampleRate = %d, want 24000", o.SampleRate())
	}
	if o.buffer != defaultBuffer {
		t.Errorf("buffer = %v, want %v", o.buffer, defaultBuffer)
	}
	if err := o.Close(); err != nil {
		t.Errorf("Close on unstarted output: %v", err)
	}
}
