package resilience

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/MrWong99/parley/pkg/provider/s2s"
	s2smock "github.com/MrWong99/parley/pkg/provider/s2s/mock"
	"github.com/MrWong99/parley/pkg/provider/tts"
	ttsmock "github.com/MrWong99/parley/pkg/provider/tts/mock"
)

func TestS2SFallback_Connect(t *testing.T) {
	t.Parallel()

	primary := &s2smock.Provider{
		ConnectErr:           errTest,
		ProviderCapabilities: s2s.Capabilities{OutputSampleRate: 24000},
	}
	sess := s2smock.NewSession()
	secondary := &s2smock.Provider{Session: sess}

	fb := NewS2SFallback(primary, "gemini", FallbackConfig{})
	fb.AddFallback("openai", secondary)

	got, err := fb.Connect(context.Background(), s2s.SessionConfig{Voice: "Puck"})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got != sess {
		t.Error("expected the secondary session")
	}
	if n := len(primary.Calls()); n != 1 {
		t.Errorf("primary Connect calls = %d, want 1", n)
	}
	calls := secondary.Calls()
	if len(calls) != 1 || calls[0].Cfg.Voice != "Puck" {
		t.Errorf("secondary calls = %+v", calls)
	}
	if fb.Capabilities().OutputSampleRate != 24000 {
		t.Error("Capabilities should come from the primary")
	}
}

func TestS2SFallback_AllFail(t *testing.T) {
	t.Parallel()
	fb := NewS2SFallback(&s2smock.Provider{ConnectErr: errTest}, "only", FallbackConfig{})
	if _, err := fb.Connect(context.Background(), s2s.SessionConfig{}); !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestTTSFallback_Stream(t *testing.T) {
	t.Parallel()

	primary := &ttsmock.Provider{StreamErr: errTest}
	secondary := &ttsmock.Provider{Chunks: [][]byte{[]byte("RIFF")}}
	fb := NewTTSFallback(primary, "local", FallbackConfig{})
	fb.AddFallback("remote", secondary)

	body, err := fb.Stream(context.Background(), tts.Request{Text: "hi"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer body.Close()
	data, _ := io.ReadAll(body)
	if string(data) != "RIFF" {
		t.Errorf("body = %q", data)
	}
	if len(primary.Calls()) != 1 || len(secondary.Calls()) != 1 {
		t.Errorf("calls = %d/%d, want 1/1", len(primary.Calls()), len(secondary.Calls()))
	}
}
