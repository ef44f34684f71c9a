// Package speaker implements [audio.OutputDevice] with
// github.com/ebitengine/oto/v3.
//
// oto allows a single context per process, so only one Output may ever be
// started. The player pulls from an io.Reader that renders float32 samples
// on demand.
package speaker

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/MrWong99/parley/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.OutputDevice = (*Output)(nil)

// defaultBuffer is the oto buffer length; smaller is lower latency but risks
// underruns.
const defaultBuffer = 100 * time.Millisecond

// Output plays mono float32 audio through oto.
type Output struct {
	rate   int
	buffer time.Duration
	log    *slog.Logger

	mu     sync.Mutex
	player *oto.Player
}

// New returns an unstarted Output at rate Hz. buffer of zero selects 100 ms.
func New(rate int, buffer time.Duration) *Output {
	if rate <= 0 {
		rate = audio.PlaybackSampleRate
	}
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Output{rate: rate, buffer: buffer, log: slog.Default()}
}

// SampleRate implements [audio.OutputDevice].
func (o *Output) SampleRate() int {
	return o.rate
}

// Start implements [audio.OutputDevice].
func (o *Output) Start(r audio.Renderer) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.player != nil {
		return fmt.Errorf("speaker: already started")
	}

	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   o.rate,
		ChannelCount: 1,
		Format:       oto.FormatFloat32LE,
		BufferSize:   o.buffer,
	})
	if err != nil {
		return fmt.Errorf("speaker: init oto context: %w: %w", audio.ErrDeviceUnavailable, err)
	}
	<-ready

	o.player = ctx.NewPlayer(&renderReader{r: r})
	o.player.Play()
	o.log.Debug("speaker: playback started", "sampleRate", o.rate, "buffer", o.buffer)
	return nil
}

// Close implements [audio.OutputDevice].
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.player == nil {
		return nil
	}
	o.player.Pause()
	err := o.player.Close()
	o.player = nil
	if err != nil {
		return fmt.Errorf("speaker: close player: %w", err)
	}
	return nil
}

// renderReader adapts a Renderer to the io.Reader oto pulls from. It never
// returns an error or EOF: silence is rendered when nothing is scheduled.
type renderReader struct {
	r   audio.Renderer
	buf []float32
}

func (rr *renderReader) Read(p []byte) (int, error) {
	n := len(p) / 4
	if cap(rr.buf) < n {
		rr.buf = make([]float32, n)
	}
	block := rr.buf[:n]
	rr.r.Render(block)
	for i, s := range block {
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(s))
	}
	return n * 4, nil
}
