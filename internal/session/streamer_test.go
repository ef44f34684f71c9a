package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"testing/iotest"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/playback"
	"github.com/MrWong99/parley/pkg/audio/wav"
	"github.com/MrWong99/parley/pkg/provider/tts"
	ttsmock "github.com/MrWong99/parley/pkg/provider/tts/mock"
)

// container returns a canonical container holding n silent samples at rate.
func container(n, rate int) []byte {
	return wav.AppendContainer(nil, audio.AudioUnit{
		SampleRate: uint32(rate),
		Samples:    make([]float32, n),
	})
}

func newTestStreamer(t *testing.T, opts ...StreamerOption) (*Streamer, *playback.Scheduler) {
	t.Helper()
	m, _ := testMetrics(t)
	sched := playback.New(16000)
	return NewStreamer(sched, append([]StreamerOption{WithStreamerMetrics(m)}, opts...)...), sched
}

func TestStreamer_SplitStreamPlaysGapless(t *testing.T) {
	t.Parallel()
	s, sched := newTestStreamer(t)

	data := container(16000, 16000)
	chunks := [][]byte{data[:20], data[20:30020], data[30020:]}

	var starts []time.Duration
	for range 2 {
		p := &ttsmock.Provider{Chunks: chunks}
		body, _ := p.Stream(context.Background(), tts.Request{Text: "x"})
		res, err := s.Play(context.Background(), body)
		if err != nil {
			t.Fatalf("Play: %v", err)
		}
		if res.Units != 1 || res.Last == nil {
			t.Fatalf("result = %+v, want one unit", res)
		}
		if got := res.Last.Duration(); got != time.Second {
			t.Errorf("duration = %v, want 1s", got)
		}
		starts = append(starts, res.Last.Start())
	}
	if starts[0] != 0 || starts[1] != time.Second {
		t.Errorf("start times = %v, want [0 1s]", starts)
	}
	if got := sched.Active(); got != 2 {
		t.Errorf("active = %d, want 2", got)
	}
}

func TestStreamer_OneByteReads(t *testing.T) {
	t.Parallel()
	s, _ := newTestStreamer(t)

	var stream []byte
	for _, n := range []int{160, 320, 480} {
		stream = append(stream, container(n, 16000)...)
	}
	res, err := s.Play(context.Background(), iotest.OneByteReader(bytes.NewReader(stream)))
	if err != nil {
		t.Fatalf("Play: %v", err)
	}
	if res.Units != 3 {
		t.Fatalf("units = %d, want 3", res.Units)
	}
	// 10 + 20 + 30 ms laid back to back.
	if got := res.Last.End(); got != 60*time.Millisecond {
		t.Errorf("last end = %v, want 60ms", got)
	}
}

func TestStreamer_TruncatedTail(t *testing.T) {
	t.Parallel()

	stream := append(container(160, 16000), container(160, 16000)[:30]...)

	tests := []struct {
		name    string
		strict  bool
		wantErr bool
	}{
		{name: "lenient", strict: false, wantErr: false},
		{name: "strict", strict: true, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s, _ := newTestStreamer(t, WithStrictTail(tc.strict))

			res, err := s.Play(context.Background(), bytes.NewReader(stream))
			if res.Units != 1 {
				t.Errorf("units = %d, want 1", res.Units)
			}
			if res.DroppedTail != 30 {
				t.Errorf("dropped tail = %d, want 30", res.DroppedTail)
			}
			if gotErr := errors.Is(err, wav.ErrTruncatedTail); gotErr != tc.wantErr {
				t.Errorf("Play err = %v, want ErrTruncatedTail: %v", err, tc.wantErr)
			}
		})
	}
}

func TestStreamer_EachPlayStartsFresh(t *testing.T) {
	t.Parallel()
	s, _ := newTestStreamer(t)

	partial := container(160, 16000)[:50]
	if _, err := s.Play(context.Background(), bytes.NewReader(partial)); err != nil {
		t.Fatalf("first Play: %v", err)
	}
	// A stale tail from the previous stream must not corrupt the next one.
	res, err := s.Play(context.Background(), bytes.NewReader(container(160, 16000)))
	if err != nil {
		t.Fatalf("second Play: %v", err)
	}
	if res.Units != 1 || res.DroppedTail != 0 {
		t.Errorf("result = %+v, want one unit and no tail", res)
	}
}

func TestStreamer_ResyncOverGarbage(t *testing.T) {
	t.Parallel()
	s, _ := newTestStreamer(t)

	stream := append([]byte("garbage!"), container(320, 16000)...)
	res, err := s.Play(context.Background(), bytes.NewReader(stream))
	if err != nil {
		t.Fatalf("Play: %v", err)
	}
	if res.Units != 1 {
		t.Errorf("units = %d, want 1", res.Units)
	}
}

func TestStreamer_ReadError(t *testing.T) {
	t.Parallel()
	s, _ := newTestStreamer(t)

	boom := errors.New("connection reset")
	r := io.MultiReader(bytes.NewReader(container(160, 16000)), iotest.ErrReader(boom))
	res, err := s.Play(context.Background(), r)
	if !errors.Is(err, boom) {
		t.Fatalf("Play = %v, want %v", err, boom)
	}
	if res.Units != 1 {
		t.Errorf("units before failure = %d, want 1", res.Units)
	}
}

func TestStreamer_ContextCancelled(t *testing.T) {
	t.Parallel()
	s, _ := newTestStreamer(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Play(ctx, bytes.NewReader(container(160, 16000)))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Play = %v, want context.Canceled", err)
	}
}

func TestStreamer_Say(t *testing.T) {
	t.Parallel()

	data := container(800, 16000)
	p := &ttsmock.Provider{Chunks: [][]byte{data[:100], data[100:]}}
	s, _ := newTestStreamer(t, WithTTS(p, "httpstream"), WithVoice("narrator"))

	res, err := s.Say(context.Background(), "Hello world")
	if err != nil {
		t.Fatalf("Say: %v", err)
	}
	if res.Units != 1 {
		t.Errorf("units = %d, want 1", res.Units)
	}
	calls := p.Calls()
	if len(calls) != 1 {
		t.Fatalf("stream calls = %d, want 1", len(calls))
	}
	if calls[0].Req.Text != "Hello world" || calls[0].Req.Voice != "narrator" {
		t.Errorf("request = %+v", calls[0].Req)
	}
}

func TestStreamer_SayErrors(t *testing.T) {
	t.Parallel()

	t.Run("no provider", func(t *testing.T) {
		t.Parallel()
		s, _ := newTestStreamer(t)
		if _, err := s.Say(context.Background(), "hi"); !errors.Is(err, ErrNoTTS) {
			t.Errorf("Say = %v, want ErrNoTTS", err)
		}
	})

	t.Run("empty text", func(t *testing.T) {
		t.Parallel()
		p := &ttsmock.Provider{}
		s, _ := newTestStreamer(t, WithTTS(p, "mock"))
		if _, err := s.Say(context.Background(), "  "); !errors.Is(err, ErrEmptyText) {
			t.Errorf("Say = %v, want ErrEmptyText", err)
		}
		if len(p.Calls()) != 0 {
			t.Error("provider called for blank text")
		}
	})

	t.Run("stream error", func(t *testing.T) {
		t.Parallel()
		p := &ttsmock.Provider{StreamErr: errors.New("503")}
		s, _ := newTestStreamer(t, WithTTS(p, "mock"))
		if _, err := s.Say(context.Background(), "hi"); !errors.Is(err, p.StreamErr) {
			t.Errorf("Say = %v, want stream error", err)
		}
	})
}
