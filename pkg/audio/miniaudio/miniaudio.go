// Package miniaudio implements [audio.InputDevice] and [audio.OutputDevice] on
// top of miniaudio via github.com/gen2brain/malgo.
//
// Both devices exchange 32-bit float mono samples with miniaudio and let it
// convert to whatever the hardware runs at. The input device accumulates the
// backend's period-sized callbacks into fixed-size ticks; the output device
// pulls from a [audio.Renderer] inside the backend's playback callback.
//
// This package requires cgo.
package miniaudio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/parley/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.InputDevice  = (*Input)(nil)
	_ audio.OutputDevice = (*Output)(nil)
)

// periodMs is the requested backend callback period.
const periodMs = 20

// Context owns the miniaudio backend context shared by all devices it
// creates. Close it after every device has been closed.
type Context struct {
	ctx *malgo.AllocatedContext
	log *slog.Logger
}

// NewContext initialises the default miniaudio backend with real-time thread
// priority.
func NewContext(log *slog.Logger) (*Context, error) {
	if log == nil {
		log = slog.Default()
	}
	cfg := malgo.ContextConfig{ThreadPriority: malgo.ThreadPriorityRealtime}
	ctx, err := malgo.InitContext(nil, cfg, func(msg string) {
		log.Debug("miniaudio", "msg", strings.TrimSpace(msg))
	})
	if err != nil {
		return nil, fmt.Errorf("miniaudio: init context: %w: %w", audio.ErrDeviceUnavailable, err)
	}
	return &Context{ctx: ctx, log: log}, nil
}

// Close releases the backend context.
func (c *Context) Close() error {
	err := c.ctx.Uninit()
	c.ctx.Free()
	if err != nil {
		return fmt.Errorf("miniaudio: uninit context: %w", err)
	}
	return nil
}

// DeviceNames lists the names of the available capture or playback devices.
func (c *Context) DeviceNames(capture bool) ([]string, error) {
	kind := malgo.Playback
	if capture {
		kind = malgo.Capture
	}
	infos, err := c.ctx.Devices(kind)
	if err != nil {
		return nil, fmt.Errorf("miniaudio: list devices: %w", err)
	}
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name()
	}
	return names, nil
}

// findDevice returns the ID of the first device whose name contains name
// (case-insensitive). An empty name selects the system default (nil ID).
func (c *Context) findDevice(kind malgo.DeviceType, name string) (*malgo.DeviceID, error) {
	if name == "" {
		return nil, nil
	}
	infos, err := c.ctx.Devices(kind)
	if err != nil {
		return nil, fmt.Errorf("miniaudio: list devices: %w: %w", audio.ErrDeviceUnavailable, err)
	}
	want := strings.ToLower(name)
	for _, info := range infos {
		if strings.Contains(strings.ToLower(info.Name()), want) {
			id := info.ID
			return &id, nil
		}
	}
	return nil, fmt.Errorf("miniaudio: %w: no device matching %q", audio.ErrDeviceUnavailable, name)
}

// ─── Input ────────────────────────────────────────────────────────────────────

// Input is a microphone delivering fixed-size mono ticks.
type Input struct {
	c        *Context
	name     string
	rate     int
	tickSize int

	mu  sync.Mutex
	dev *malgo.Device
	acc []float32
}

// NewInput returns an unopened capture device. name selects a device by
// substring match; empty selects the default. rate defaults to 16 kHz and
// tickSize to audio.DefaultTickSize.
func (c *Context) NewInput(name string, rate, tickSize int) *Input {
	if rate <= 0 {
		rate = audio.CaptureSampleRate
	}
	if tickSize <= 0 {
		tickSize = audio.DefaultTickSize
	}
	return &Input{c: c, name: name, rate: rate, tickSize: tickSize}
}

// Format implements [audio.InputDevice].
func (in *Input) Format() audio.Format {
	return audio.Format{SampleRate: in.rate, Channels: 1}
}

// Open implements [audio.InputDevice].
func (in *Input) Open(tick func([]float32)) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.dev != nil {
		return fmt.Errorf("miniaudio: input already open")
	}

	id, err := in.c.findDevice(malgo.Capture, in.name)
	if err != nil {
		return err
	}
	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = 1
	if id != nil {
		cfg.Capture.DeviceID = id.Pointer()
	}
	cfg.SampleRate = uint32(in.rate)
	cfg.PeriodSizeInMilliseconds = periodMs

	in.acc = make([]float32, 0, in.tickSize*2)
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			for i := 0; i+4 <= len(input); i += 4 {
				in.acc = append(in.acc, math.Float32frombits(binary.LittleEndian.Uint32(input[i:])))
			}
			for len(in.acc) >= in.tickSize {
				tick(in.acc[:in.tickSize])
				n := copy(in.acc, in.acc[in.tickSize:])
				in.acc = in.acc[:n]
			}
		},
	}

	dev, err := malgo.InitDevice(in.c.ctx.Context, cfg, callbacks)
	if err != nil {
		return fmt.Errorf("miniaudio: init capture device: %w: %w", audio.ErrDeviceUnavailable, err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return fmt.Errorf("miniaudio: start capture device: %w: %w", audio.ErrDeviceUnavailable, err)
	}
	in.dev = dev
	in.c.log.Debug("miniaudio: capture started", "device", in.name, "sampleRate", in.rate, "tickSize", in.tickSize)
	return nil
}

// Close implements [audio.InputDevice].
func (in *Input) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.dev == nil {
		return nil
	}
	err := in.dev.Stop()
	in.dev.Uninit()
	in.dev = nil
	if err != nil {
		return fmt.Errorf("miniaudio: stop capture device: %w", err)
	}
	return nil
}

// ─── Output ───────────────────────────────────────────────────────────────────

// Output is a speaker pulling mono samples from a renderer.
type Output struct {
	c    *Context
	name string
	rate int

	mu  sync.Mutex
	dev *malgo.Device
	buf []float32
}

// NewOutput returns an unstarted playback device. rate defaults to
// audio.PlaybackSampleRate.
func (c *Context) NewOutput(name string, rate int) *Output {
	if rate <= 0 {
		rate = audio.PlaybackSampleRate
	}
	return &Output{c: c, name: name, rate: rate}
}

// SampleRate implements [audio.OutputDevice].
func (o *Output) SampleRate() int {
	return o.rate
}

// Start implements [audio.OutputDevice].
func (o *Output) Start(r audio.Renderer) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.dev != nil {
		return fmt.Errorf("miniaudio: output already started")
	}

	id, err := o.c.findDevice(malgo.Playback, o.name)
	if err != nil {
		return err
	}
	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatF32
	cfg.Playback.Channels = 1
	if id != nil {
		cfg.Playback.DeviceID = id.Pointer()
	}
	cfg.SampleRate = uint32(o.rate)
	cfg.PeriodSizeInMilliseconds = periodMs

	callbacks := malgo.DeviceCallbacks{
		Data: func(output, _ []byte, frames uint32) {
			n := min(int(frames), len(output)/4)
			if cap(o.buf) < n {
				o.buf = make([]float32, n)
			}
			block := o.buf[:n]
			r.Render(block)
			for i, s := range block {
				binary.LittleEndian.PutUint32(output[i*4:], math.Float32bits(s))
			}
		},
	}

	dev, err := malgo.InitDevice(o.c.ctx.Context, cfg, callbacks)
	if err != nil {
		return fmt.Errorf("miniaudio: init playback device: %w: %w", audio.ErrDeviceUnavailable, err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return fmt.Errorf("miniaudio: start playback device: %w: %w", audio.ErrDeviceUnavailable, err)
	}
	o.dev = dev
	o.c.log.Debug("miniaudio: playback started", "device", o.name, "sampleRate", o.rate)
	return nil
}

// Close implements [audio.OutputDevice].
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.dev == nil {
		return nil
	}
	err := o.dev.Stop()
	o.dev.Uninit()
	o.dev = nil
	if err != nil {
		return fmt.Errorf("miniaudio: stop playback device: %w", err)
	}
	return nil
}
