package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/parley/internal/app"
	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/pkg/audio"
	audiomock "github.com/MrWong99/parley/pkg/audio/mock"
	"github.com/MrWong99/parley/pkg/audio/wav"
	"github.com/MrWong99/parley/pkg/provider/s2s"
)

func container(n int) []byte {
	return wav.AppendContainer(nil, audio.AudioUnit{
		SampleRate: audio.PlaybackSampleRate,
		Samples:    make([]float32, n),
	})
}

func do(t *testing.T, f *fixture, method, path, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	var out map[string]any
	if len(bytes.TrimSpace(raw)) > 0 && raw[0] == '{' {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, raw, err)
		}
	}
	return resp.StatusCode, out
}

func TestAPI_SessionLifecycle(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	code, body := do(t, f, http.MethodPost, "/session/start", "")
	if code != http.StatusAccepted || body["active"] != true || body["id"] == "" {
		t.Fatalf("start = %d %v", code, body)
	}
	waitFor(t, "input open", f.in.Opened)

	if code, _ := do(t, f, http.MethodPost, "/session/start", ""); code != http.StatusConflict {
		t.Errorf("second start = %d, want 409", code)
	}

	if code, _ := do(t, f, http.MethodPost, "/session/text", `{"text":"hello"}`); code != http.StatusNoContent {
		t.Errorf("text = %d, want 204", code)
	}
	if texts := f.sess.SentTexts(); len(texts) != 1 || texts[0] != "hello" {
		t.Errorf("provider texts = %v", texts)
	}

	f.sess.Emit(s2s.Event{Type: s2s.EventInputTranscript, Text: "hi there"})
	f.sess.Emit(s2s.Event{Type: s2s.EventOutputTranscript, Text: "hello"})
	f.sess.Emit(s2s.Event{Type: s2s.EventTurnComplete})
	waitFor(t, "transcripts", func() bool { return len(f.app.Sessions().Transcripts()) == 2 })

	resp, err := http.Get(f.srv.URL + "/session/transcript")
	if err != nil {
		t.Fatal(err)
	}
	var turns []struct{ Role, Text string }
	if err := json.NewDecoder(resp.Body).Decode(&turns); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if len(turns) != 2 || turns[0].Role != "user" || turns[1].Text != "hello" {
		t.Errorf("transcript = %+v", turns)
	}

	code, body = do(t, f, http.MethodPost, "/session/stop", "")
	if code != http.StatusOK || body["active"] != false {
		t.Errorf("stop = %d %v", code, body)
	}
	if f.in.Opened() {
		t.Error("input still open after stop")
	}
	if code, _ := do(t, f, http.MethodPost, "/session/stop", ""); code != http.StatusConflict {
		t.Errorf("stop without session = %d, want 409", code)
	}
	if code, _ := do(t, f, http.MethodPost, "/session/text", `{"text":"late"}`); code != http.StatusConflict {
		t.Errorf("text without session = %d, want 409", code)
	}
}

func TestAPI_StartWithoutS2S(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	a, err := app.New(t.Context(), cfg, &app.Providers{},
		app.WithInput(&audiomock.InputDevice{}), app.WithOutput(&audiomock.OutputDevice{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()
	f := &fixture{app: a, srv: srv}

	if code, _ := do(t, f, http.MethodPost, "/session/start", ""); code != http.StatusNotImplemented {
		t.Errorf("start = %d, want 501", code)
	}
	if code, _ := do(t, f, http.MethodPost, "/say", `{"text":"hi"}`); code != http.StatusNotImplemented {
		t.Errorf("say = %d, want 501", code)
	}
	if code, body := do(t, f, http.MethodGet, "/readyz", ""); code != http.StatusServiceUnavailable {
		t.Errorf("readyz = %d %v, want 503", code, body)
	}
}

func TestAPI_Mute(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	tests := []struct {
		body     string
		wantCode int
		wantMute bool
	}{
		{`{"muted":true}`, http.StatusOK, true},
		{`{"muted":false}`, http.StatusOK, false},
		{`{}`, http.StatusBadRequest, false},
		{`{"muted":"yes"}`, http.StatusBadRequest, false},
		{`{"muted":true,"extra":1}`, http.StatusBadRequest, false},
	}
	for _, tc := range tests {
		code, _ := do(t, f, http.MethodPost, "/mute", tc.body)
		if code != tc.wantCode {
			t.Errorf("mute %s = %d, want %d", tc.body, code, tc.wantCode)
			continue
		}
		if got := f.app.Sessions().Muted(); got != tc.wantMute {
			t.Errorf("after %s muted = %v, want %v", tc.body, got, tc.wantMute)
		}
	}
}

func TestAPI_SayAndInterrupt(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	unit := container(2400)
	f.tts.Chunks = [][]byte{unit[:10], unit[10:], container(2400)}

	code, body := do(t, f, http.MethodPost, "/say", `{"text":"Welcome back."}`)
	if code != http.StatusOK {
		t.Fatalf("say = %d %v", code, body)
	}
	if body["units"] != float64(2) || body["end_ms"] != float64(200) {
		t.Errorf("say result = %v, want 2 units ending at 200ms", body)
	}
	calls := f.tts.Calls()
	if len(calls) != 1 || calls[0].Req.Text != "Welcome back." || calls[0].Req.Voice != "narrator" {
		t.Errorf("tts calls = %+v", calls)
	}

	code, body = do(t, f, http.MethodGet, "/levels", "")
	if code != http.StatusOK || body["active"] != float64(2) || body["cursor_ms"] != float64(200) {
		t.Errorf("levels = %d %v", code, body)
	}

	if code, _ := do(t, f, http.MethodPost, "/interrupt", ""); code != http.StatusNoContent {
		t.Errorf("interrupt = %d, want 204", code)
	}
	if got := f.app.Scheduler().Active(); got != 0 {
		t.Errorf("active after interrupt = %d, want 0", got)
	}
	if got := counter(t, f.reader, "parley.playback.interrupts"); got != 1 {
		t.Errorf("interrupt metric = %d, want 1", got)
	}
	if got := counter(t, f.reader, "parley.playback.units"); got != 2 {
		t.Errorf("scheduled metric = %d, want 2", got)
	}

	if code, _ := do(t, f, http.MethodPost, "/say", `{"text":"  "}`); code != http.StatusBadRequest {
		t.Errorf("blank say = %d, want 400", code)
	}
}

func TestAPI_Play(t *testing.T) {
	t.Parallel()

	t.Run("streamed body", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, nil)
		body := append(container(2400), container(1200)...)
		code, res := do(t, f, http.MethodPost, "/play", string(body))
		if code != http.StatusOK || res["units"] != float64(2) || res["end_ms"] != float64(150) {
			t.Errorf("play = %d %v", code, res)
		}
	})

	t.Run("lenient truncated tail", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, nil)
		body := append(container(2400), container(10)[:30]...)
		code, res := do(t, f, http.MethodPost, "/play", string(body))
		if code != http.StatusOK || res["units"] != float64(1) || res["dropped_tail"] != float64(30) {
			t.Errorf("play = %d %v", code, res)
		}
	})

	t.Run("strict truncated tail", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, func(c *config.Config) { c.Audio.Playback.StrictTail = true })
		body := append(container(2400), container(10)[:30]...)
		if code, res := do(t, f, http.MethodPost, "/play", string(body)); code != http.StatusUnprocessableEntity {
			t.Errorf("play = %d %v, want 422", code, res)
		}
	})
}

func TestAPI_HealthAndMetrics(t *testing.T) {
	t.Parallel()
	scrape := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "parley_up 1\n")
	})
	f := newFixture(t, nil, app.WithMetricsHandler(scrape))

	if code, body := do(t, f, http.MethodGet, "/healthz", ""); code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("healthz = %d %v", code, body)
	}
	if code, body := do(t, f, http.MethodGet, "/readyz", ""); code != http.StatusOK {
		t.Errorf("readyz = %d %v", code, body)
	}

	resp, err := http.Get(f.srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(raw), "parley_up 1") {
		t.Errorf("metrics body = %q", raw)
	}
	if resp.Header.Get("X-Correlation-ID") == "" {
		t.Error("control API not wrapped in middleware")
	}
}
