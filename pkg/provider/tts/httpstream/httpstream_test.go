package httpstream_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/parley/pkg/provider/tts"
	"github.com/MrWong99/parley/pkg/provider/tts/httpstream"
)

func TestNew_RequiresBaseURL(t *testing.T) {
	t.Parallel()
	if _, err := httpstream.New(""); err == nil {
		t.Fatal("expected error for empty baseURL")
	}
}

func TestStream_PostsJSONAndStreamsBody(t *testing.T) {
	t.Parallel()

	var (
		gotPath   string
		gotCT     string
		gotAccept string
		gotReq    tts.Request
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotCT = r.Header.Get("Content-Type")
		gotAccept = r.Header.Get("Accept")
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "audio/wav")
		flusher := w.(http.Flusher)
		for _, part := range []string{"RIFF", "....", "WAVE"} {
			io.WriteString(w, part)
			flusher.Flush()
		}
	}))
	defer srv.Close()

	p, err := httpstream.New(srv.URL+"/", httpstream.WithPath("v1/speak"), httpstream.WithDefaultVoice("amy"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	body, err := p.Stream(context.Background(), tts.Request{Text: "hello"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "RIFF....WAVE" {
		t.Errorf("body = %q", data)
	}
	if gotPath != "/v1/speak" {
		t.Errorf("path = %q, want /v1/speak", gotPath)
	}
	if gotCT != "application/json" || gotAccept != "audio/wav" {
		t.Errorf("headers = %q / %q", gotCT, gotAccept)
	}
	if gotReq.Text != "hello" || gotReq.Voice != "amy" {
		t.Errorf("request = %+v, want text hello voice amy", gotReq)
	}
}

func TestStream_ExplicitVoiceWins(t *testing.T) {
	t.Parallel()

	voices := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req tts.Request
		json.NewDecoder(r.Body).Decode(&req)
		voices <- req.Voice
	}))
	defer srv.Close()

	p, _ := httpstream.New(srv.URL, httpstream.WithDefaultVoice("amy"))
	body, err := p.Stream(context.Background(), tts.Request{Text: "hi", Voice: "bob"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	body.Close()
	if v := <-voices; v != "bob" {
		t.Errorf("voice = %q, want bob", v)
	}
}

func TestStream_Non2xx(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "voice not found", http.StatusNotFound)
	}))
	defer srv.Close()

	p, _ := httpstream.New(srv.URL)
	_, err := p.Stream(context.Background(), tts.Request{Text: "hi"})
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "voice not found") {
		t.Errorf("err = %v, want status and body", err)
	}
}

func TestStream_EmptyText(t *testing.T) {
	t.Parallel()
	p, _ := httpstream.New("http://127.0.0.1:1")
	if _, err := p.Stream(context.Background(), tts.Request{Text: "  "}); err == nil {
		t.Fatal("expected error for blank text")
	}
}

func TestStream_ContextCancelled(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	p, _ := httpstream.New(srv.URL, httpstream.WithTimeout(0))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := p.Stream(ctx, tts.Request{Text: "hi"}); err == nil {
		t.Fatal("expected error after context deadline")
	}
}
