package audio

import "sync"

// Compile-time interface assertion.
var _ InputDevice = (*ResampledInput)(nil)

// ResampledInput adapts an [InputDevice] so that its blocks arrive at a fixed
// rate, whatever rate the underlying device ends up running at. Devices such
// as file inputs only learn their real rate on Open, so the source rate is
// read on the first tick.
type ResampledInput struct {
	dev  InputDevice
	rate int

	mu   sync.Mutex
	from int
	r    *Resampler
}

// NewResampledInput wraps dev to deliver mono blocks at rate Hz.
func NewResampledInput(dev InputDevice, rate int) *ResampledInput {
	return &ResampledInput{dev: dev, rate: rate}
}

// Format implements [InputDevice].
func (in *ResampledInput) Format() Format {
	return Format{SampleRate: in.rate, Channels: 1}
}

// Open implements [InputDevice].
func (in *ResampledInput) Open(tick func(samples []float32)) error {
	in.mu.Lock()
	in.from, in.r = 0, nil
	in.mu.Unlock()

	return in.dev.Open(func(samples []float32) {
		out := in.process(samples)
		if len(out) > 0 {
			tick(out)
		}
	})
}

func (in *ResampledInput) process(samples []float32) []float32 {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.from == 0 {
		in.from = in.dev.Format().SampleRate
		if in.from != in.rate {
			in.r = NewResampler(in.from, in.rate)
		}
	}
	if in.r == nil {
		return samples
	}
	return in.r.Process(samples)
}

// Close implements [InputDevice].
func (in *ResampledInput) Close() error {
	return in.dev.Close()
}
