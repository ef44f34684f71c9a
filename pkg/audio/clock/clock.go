// Package clock implements a headless [audio.OutputDevice] that pulls from
// its renderer on a wall-clock ticker and discards the samples.
//
// It keeps the playback timeline moving on machines without a sound card.
// Anything that needs the rendered audio observes it through a scheduler tap
// such as the WAV recorder.
package clock

import (
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.OutputDevice = (*Output)(nil)

// DefaultPeriod is the render interval used when none is given.
const DefaultPeriod = 20 * time.Millisecond

// Output renders period-sized blocks on a ticker.
type Output struct {
	rate   int
	period time.Duration

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// New returns an unstarted Output at rate Hz that renders every period.
// Non-positive values select [audio.PlaybackSampleRate] and [DefaultPeriod].
func New(rate int, period time.Duration) *Output {
	if rate <= 0 {
		rate = audio.PlaybackSampleRate
	}
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Output{rate: rate, period: period}
}

// SampleRate implements [audio.OutputDevice].
func (o *Output) SampleRate() int {
	return o.rate
}

// Start implements [audio.OutputDevice].
func (o *Output) Start(r audio.Renderer) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stop != nil {
		return fmt.Errorf("clock: already started")
	}
	o.stop = make(chan struct{})
	o.done = make(chan struct{})
	go o.loop(r, o.stop, o.done)
	return nil
}

// loop renders exactly as many samples as wall-clock time has advanced, so
// ticker jitter never makes the timeline drift.
func (o *Output) loop(r audio.Renderer, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(o.period)
	defer ticker.Stop()

	start := time.Now()
	var rendered int64
	buf := make([]float32, 0, int(int64(o.rate)*int64(o.period)/int64(time.Second))*2)
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			due := int64(now.Sub(start)) * int64(o.rate) / int64(time.Second)
			n := int(due - rendered)
			if n <= 0 {
				continue
			}
			if cap(buf) < n {
				buf = make([]float32, n)
			}
			buf = buf[:n]
			r.Render(buf)
			rendered = due
		}
	}
}

// Close implements [audio.OutputDevice].
func (o *Output) Close() error {
	o.mu.Lock()
	stop, done := o.stop, o.done
	o.stop, o.done = nil, nil
	o.mu.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)
	<-done
	return nil
}
