package playback

import (
	"math"
	"sync"
	"time"
)

// Compile-time interface assertions.
var (
	_ Tap = (*Analyser)(nil)
	_ Tap = Taps(nil)
)

// Level is a loudness snapshot of one block of samples.
type Level struct {
	// RMS is the root-mean-square amplitude in [0, 1].
	RMS float64 `json:"rms"`

	// Peak is the largest absolute sample in [0, 1].
	Peak float64 `json:"peak"`

	// At is when the block was observed.
	At time.Time `json:"at"`
}

// Analyser is a [Tap] that keeps the level of the most recent block. It is
// what a visualiser polls; it performs no rendering itself.
type Analyser struct {
	mu   sync.Mutex
	last Level
	now  func() time.Time
}

// NewAnalyser returns an Analyser with no observations.
func NewAnalyser() *Analyser {
	return &Analyser{now: time.Now}
}

// Observe implements [Tap].
func (a *Analyser) Observe(samples []float32) {
	if len(samples) == 0 {
		return
	}
	var sum, peak float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
		peak = max(peak, math.Abs(v))
	}
	lvl := Level{
		RMS:  math.Sqrt(sum / float64(len(samples))),
		Peak: peak,
		At:   a.now(),
	}
	a.mu.Lock()
	a.last = lvl
	a.mu.Unlock()
}

// Level returns the most recent snapshot. The zero Level means nothing has
// been observed yet.
func (a *Analyser) Level() Level {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

// Taps fans one block out to several taps in order. Nil entries are skipped.
type Taps []Tap

// Observe implements [Tap].
func (ts Taps) Observe(samples []float32) {
	for _, t := range ts {
		if t != nil {
			t.Observe(samples)
		}
	}
}
