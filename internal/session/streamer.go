package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/audio/playback"
	"github.com/MrWong99/parley/pkg/audio/wav"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

// defaultChunkSize is the read size used by [Streamer.Play].
const defaultChunkSize = 32 << 10

// ErrNoTTS is returned by [Streamer.Say] when no TTS provider is configured.
var ErrNoTTS = errors.New("session: no tts provider configured")

// ErrEmptyText is returned by [Streamer.Say] for blank text.
var ErrEmptyText = errors.New("session: empty text")

// PlayResult summarises one streamed playback.
type PlayResult struct {
	// Units is the number of containers scheduled.
	Units int

	// Last is the handle of the final scheduled unit, nil when none was
	// scheduled. Its Done channel closes when the stream finishes playing or
	// is interrupted.
	Last *playback.Handle

	// DroppedTail is the number of incomplete trailing bytes discarded at
	// end of stream.
	DroppedTail int
}

// StreamerOption is a functional option for configuring a [Streamer].
type StreamerOption func(*Streamer)

// WithTTS sets the provider used by [Streamer.Say].
func WithTTS(p tts.Provider, name string) StreamerOption {
	return func(s *Streamer) {
		s.tts = p
		s.ttsName = name
	}
}

// WithVoice sets the voice sent with every Say request.
func WithVoice(voice string) StreamerOption {
	return func(s *Streamer) {
		s.voice = voice
	}
}

// WithStrictTail makes Play return [wav.ErrTruncatedTail] when the stream
// ends with an incomplete container.
func WithStrictTail(strict bool) StreamerOption {
	return func(s *Streamer) {
		s.strictTail = strict
	}
}

// WithChunkSize overrides the read size used by Play.
func WithChunkSize(n int) StreamerOption {
	return func(s *Streamer) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// WithStreamerMetrics sets the metrics sink. Defaults to
// [observe.DefaultMetrics].
func WithStreamerMetrics(m *observe.Metrics) StreamerOption {
	return func(s *Streamer) {
		s.metrics = m
	}
}

// WithStreamerLogger sets the logger. Defaults to slog.Default().
func WithStreamerLogger(l *slog.Logger) StreamerOption {
	return func(s *Streamer) {
		s.log = l
	}
}

// Streamer plays container byte streams through a scheduler. Calls to Play
// and Say are serialised; each starts with a fresh demuxer state.
type Streamer struct {
	sched      *playback.Scheduler
	tts        tts.Provider
	ttsName    string
	voice      string
	strictTail bool
	chunkSize  int
	metrics    *observe.Metrics
	log        *slog.Logger

	mu    sync.Mutex
	demux *wav.Demuxer
}

// NewStreamer creates a Streamer scheduling onto sched.
func NewStreamer(sched *playback.Scheduler, opts ...StreamerOption) *Streamer {
	s := &Streamer{
		sched:     sched,
		ttsName:   "tts",
		chunkSize: defaultChunkSize,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.demux = wav.NewDemuxer(wav.WithLogger(s.log))
	return s
}

// Play reads r to EOF, scheduling every complete container as it arrives.
//
// When the stream ends with an incomplete container the trailing bytes are
// dropped and counted. With [WithStrictTail] Play then returns an error
// wrapping [wav.ErrTruncatedTail]; the units before it remain scheduled.
func (s *Streamer) Play(ctx context.Context, r io.Reader) (PlayResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if observe.SessionID(ctx) == "" {
		ctx = observe.WithSessionID(ctx, uuid.NewString())
	}
	ctx, span := observe.StartSpan(ctx, "session.play")
	defer span.End()
	log := s.log.With("session_id", observe.SessionID(ctx))

	if n := s.demux.Reset(); n > 0 {
		log.Debug("session: discarded stale demuxer tail", "bytes", n)
	}
	before := s.demux.Stats()

	var res PlayResult
	buf := make([]byte, s.chunkSize)
	var readErr error
	for {
		if err := ctx.Err(); err != nil {
			readErr = err
			break
		}
		n, err := r.Read(buf)
		if n > 0 {
			for _, u := range s.demux.Feed(buf[:n]) {
				res.Last = s.sched.ScheduleNext(u)
				res.Units++
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				readErr = fmt.Errorf("session: read stream: %w", err)
			}
			break
		}
	}

	res.DroppedTail = s.demux.Close()
	after := s.demux.Stats()
	s.metrics.RecordDemux(ctx, after.ResyncBytes-before.ResyncBytes, int64(res.DroppedTail))

	if readErr != nil {
		span.RecordError(readErr)
		return res, readErr
	}
	if res.DroppedTail > 0 && s.strictTail {
		err := fmt.Errorf("session: %w: %d bytes", wav.ErrTruncatedTail, res.DroppedTail)
		span.RecordError(err)
		return res, err
	}
	log.Debug("session: stream played", "units", res.Units, "dropped_tail", res.DroppedTail)
	return res, nil
}

// Say synthesises text with the configured TTS provider and plays the
// resulting stream.
func (s *Streamer) Say(ctx context.Context, text string) (PlayResult, error) {
	if s.tts == nil {
		return PlayResult{}, ErrNoTTS
	}
	if strings.TrimSpace(text) == "" {
		return PlayResult{}, ErrEmptyText
	}
	ctx = observe.WithSessionID(ctx, uuid.NewString())
	ctx, span := observe.StartSpan(ctx, "session.say")
	defer span.End()

	start := time.Now()
	body, err := s.tts.Stream(ctx, tts.Request{Text: text, Voice: s.voice})
	if err != nil {
		s.metrics.RecordProviderError(ctx, s.ttsName, "stream")
		span.RecordError(err)
		return PlayResult{}, fmt.Errorf("session: say: %w", err)
	}
	defer body.Close()
	s.metrics.RecordProviderLatency(ctx, s.ttsName, "first_byte", time.Since(start))

	return s.Play(ctx, body)
}
