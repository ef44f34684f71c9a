package wav

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	gowav "github.com/go-audio/wav"
	"github.com/google/uuid"

	"github.com/MrWong99/parley/pkg/audio"
)

// ─── FileInput ────────────────────────────────────────────────────────────────

// Compile-time interface assertion.
var _ audio.InputDevice = (*FileInput)(nil)

// FileInputOption is a functional option for configuring a FileInput.
type FileInputOption func(*FileInput)

// WithTickSize sets the number of samples per tick. Defaults to
// audio.DefaultTickSize.
func WithTickSize(n int) FileInputOption {
	return func(f *FileInput) {
		f.tickSize = n
	}
}

// WithTickInterval overrides the real-time tick interval derived from the
// file's sample rate. Zero delivers ticks as fast as the consumer accepts
// them.
func WithTickInterval(d time.Duration) FileInputOption {
	return func(f *FileInput) {
		f.interval = d
		f.intervalSet = true
	}
}

// WithLoop restarts the file from the beginning when it ends.
func WithLoop(loop bool) FileInputOption {
	return func(f *FileInput) {
		f.loop = loop
	}
}

// FileInput is an [audio.InputDevice] that replays a WAV file as if it were a
// microphone, delivering fixed-size mono blocks at the file's real-time pace.
// Multi-channel files are downmixed.
type FileInput struct {
	path        string
	tickSize    int
	interval    time.Duration
	intervalSet bool
	loop        bool
	logger      *slog.Logger

	mu      sync.Mutex
	format  audio.Format
	samples []float32
	stop    chan struct{}
	done    chan struct{}
}

// NewFileInput prepares a FileInput for path. The file is read on Open.
func NewFileInput(path string, opts ...FileInputOption) *FileInput {
	f := &FileInput{
		path:     path,
		tickSize: audio.DefaultTickSize,
		logger:   slog.Default().With("file_input", uuid.NewString()),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Format implements [audio.InputDevice]. It reports 16 kHz mono until the
// file has been opened.
func (f *FileInput) Format() audio.Format {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.format.SampleRate == 0 {
		return audio.Format{SampleRate: audio.CaptureSampleRate, Channels: 1}
	}
	return f.format
}

// Open implements [audio.InputDevice]. It decodes the whole file and starts a
// goroutine delivering ticks.
func (f *FileInput) Open(tick func([]float32)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stop != nil {
		return errors.New("wav: file input already open")
	}

	samples, format, err := readMono(f.path)
	if err != nil {
		return fmt.Errorf("wav: open file input %q: %w: %w", f.path, audio.ErrDeviceUnavailable, err)
	}
	switch {
	case format.SampleRate <= 0:
		return fmt.Errorf("wav: open file input %q: %w: invalid sample rate %d", f.path, audio.ErrDeviceUnavailable, format.SampleRate)
	case len(samples) == 0:
		return fmt.Errorf("wav: open file input %q: %w: no samples", f.path, audio.ErrDeviceUnavailable)
	}
	f.samples = samples
	f.format = format

	interval := f.interval
	if !f.intervalSet {
		interval = time.Duration(f.tickSize) * time.Second / time.Duration(format.SampleRate)
	}

	f.logger.Debug("loaded audio file",
		"path", f.path,
		"sampleRate", format.SampleRate,
		"samples", len(samples),
		"tickInterval", interval,
	)

	f.stop = make(chan struct{})
	f.done = make(chan struct{})
	go f.run(tick, interval, f.stop, f.done)
	return nil
}

func (f *FileInput) run(tick func([]float32), interval time.Duration, stop, done chan struct{}) {
	defer close(done)

	var ticker *time.Ticker
	if interval > 0 {
		ticker = time.NewTicker(interval)
		defer ticker.Stop()
	}
	block := make([]float32, f.tickSize)

	for {
		select {
		case <-stop:
			return
		default:
		}
		for start := 0; start < len(f.samples); start += f.tickSize {
			if ticker != nil {
				select {
				case <-ticker.C:
				case <-stop:
					return
				}
			} else {
				select {
				case <-stop:
					return
				default:
				}
			}
			// Fixed-size blocks; the final one is zero-padded.
			n := copy(block, f.samples[start:])
			clear(block[n:])
			tick(block)
		}
		if !f.loop {
			f.logger.Debug("finished playing", "path", f.path)
			return
		}
	}
}

// Done returns a channel closed when a non-looping file has been fully
// delivered or the device was closed. It returns nil before Open.
func (f *FileInput) Done() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done
}

// Close implements [audio.InputDevice].
func (f *FileInput) Close() error {
	f.mu.Lock()
	stop, done := f.stop, f.done
	f.stop = nil
	f.mu.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)
	<-done
	return nil
}

// readMono decodes a PCM WAV file into normalised mono samples.
func readMono(path string) ([]float32, audio.Format, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, audio.Format{}, err
	}
	defer fh.Close()

	dec := gowav.NewDecoder(fh)
	if !dec.IsValidFile() {
		return nil, audio.Format{}, errors.New("not a valid WAV file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("read PCM: %w", err)
	}
	channels := int(dec.NumChans)
	if channels < 1 {
		channels = 1
	}
	scale := float32(int(1) << (max(int(dec.BitDepth), 8) - 1))

	interleaved := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		interleaved[i] = audio.Clamp(float32(v) / scale)
	}
	mono := audio.InterleavedToMono(nil, interleaved, channels)
	return mono, audio.Format{SampleRate: int(dec.SampleRate), Channels: 1}, nil
}

// ─── Recorder ─────────────────────────────────────────────────────────────────

// recorderQueue is the number of blocks buffered between Observe and the
// file writer.
const recorderQueue = 64

// Recorder writes mono float blocks to a 16-bit WAV file. Observe copies the
// block and hands it to a writer goroutine without blocking, so it can sit on
// a real-time render or capture path. Blocks are dropped when the writer
// falls behind.
type Recorder struct {
	logger  *slog.Logger
	fh      *os.File
	enc     *gowav.Encoder
	format  *goaudio.Format
	blocks  chan []float32
	done    chan struct{}
	once    sync.Once
	mu      sync.Mutex
	closed  bool
	dropped int64
	err     error
}

// NewRecorder creates path and starts a writer for mono PCM16 at rate.
func NewRecorder(path string, rate int) (*Recorder, error) {
	fh, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("wav: create recorder: %w", err)
	}
	r := &Recorder{
		logger: slog.Default().With("recorder", uuid.NewString(), "path", path),
		fh:     fh,
		enc:    gowav.NewEncoder(fh, rate, 16, 1, 1),
		format: &goaudio.Format{SampleRate: rate, NumChannels: 1},
		blocks: make(chan []float32, recorderQueue),
		done:   make(chan struct{}),
	}
	go r.run()
	return r, nil
}

// Observe queues a copy of samples for writing.
func (r *Recorder) Observe(samples []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	block := make([]float32, len(samples))
	copy(block, samples)
	select {
	case r.blocks <- block:
	default:
		r.dropped++
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for block := range r.blocks {
		buf := &goaudio.IntBuffer{
			Format:         r.format,
			Data:           make([]int, len(block)),
			SourceBitDepth: 16,
		}
		for i, s := range block {
			buf.Data[i] = int(audio.FloatToPCM16(s))
		}
		if err := r.enc.Write(buf); err != nil {
			r.logger.Error("error while writing block to file", "err", err)
			r.mu.Lock()
			if r.err == nil {
				r.err = err
			}
			r.mu.Unlock()
		}
	}
}

// Dropped returns the number of blocks dropped because the writer was behind.
func (r *Recorder) Dropped() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Close flushes queued blocks, finalises the WAV header and closes the file.
// The file is only valid after Close returns.
func (r *Recorder) Close() error {
	r.once.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.blocks)
		r.mu.Unlock()
		<-r.done

		errs := []error{r.err}
		if err := r.enc.Close(); err != nil {
			errs = append(errs, fmt.Errorf("wav: finalise recording: %w", err))
		}
		if err := r.fh.Close(); err != nil {
			errs = append(errs, fmt.Errorf("wav: close recording: %w", err))
		}
		r.err = errors.Join(errs...)
	})
	return r.err
}
