package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/playback"
	"github.com/MrWong99/parley/pkg/audio/wav"
)

// maxJSONBody bounds the JSON request bodies of the control API.
const maxJSONBody = 64 << 10

type muteRequest struct {
	Muted *bool `json:"muted"`
}

type textRequest struct {
	Text string `json:"text"`
}

type playResponse struct {
	Units       int     `json:"units"`
	StartMs     float64 `json:"start_ms,omitempty"`
	EndMs       float64 `json:"end_ms,omitempty"`
	DroppedTail int     `json:"dropped_tail"`
}

type levelsResponse struct {
	playback.Level
	CursorMs float64 `json:"cursor_ms"`
	NowMs    float64 `json:"now_ms"`
	Active   int     `json:"active"`
}

type transcriptEntry struct {
	Role string    `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Handler returns the control API wrapped in the request logging, tracing and
// metrics middleware:
//
//	GET  /healthz, /readyz       liveness and readiness
//	GET  /metrics                Prometheus scrape, when configured
//	GET  /session                current session info
//	POST /session/start          start a live session
//	POST /session/stop           stop the live session
//	POST /session/text           {"text": "..."} inject a text turn
//	GET  /session/transcript     committed transcript turns
//	POST /mute                   {"muted": true|false}
//	POST /interrupt              cancel all scheduled playback
//	POST /say                    {"text": "..."} synthesise and play via TTS
//	POST /play                   play a streamed RIFF/WAVE request body
//	GET  /levels                 output level and playback clock
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	a.health.Register(mux)
	if a.scrape != nil {
		mux.Handle("GET /metrics", a.scrape)
	}
	mux.HandleFunc("GET /session", a.handleSessionInfo)
	mux.HandleFunc("POST /session/start", a.handleSessionStart)
	mux.HandleFunc("POST /session/stop", a.handleSessionStop)
	mux.HandleFunc("POST /session/text", a.handleSessionText)
	mux.HandleFunc("GET /session/transcript", a.handleTranscript)
	mux.HandleFunc("POST /mute", a.handleMute)
	mux.HandleFunc("POST /interrupt", a.handleInterrupt)
	mux.HandleFunc("POST /say", a.handleSay)
	mux.HandleFunc("POST /play", a.handlePlay)
	mux.HandleFunc("GET /levels", a.handleLevels)
	return observe.Middleware(a.metrics)(mux)
}

func (a *App) handleSessionInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.sessions.Info())
}

func (a *App) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	info, err := a.sessions.Start(r.Context())
	switch {
	case errors.Is(err, ErrSessionActive):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, ErrNoS2S):
		writeError(w, http.StatusNotImplemented, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusAccepted, info)
	}
}

func (a *App) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	if err := a.sessions.Stop(r.Context()); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrNoSession) {
			status = http.StatusConflict
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, a.sessions.Info())
}

func (a *App) handleSessionText(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, errors.New("text is required"))
		return
	}
	if err := a.sessions.SendText(r.Context(), req.Text); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, ErrNoSession) {
			status = http.StatusConflict
		}
		writeError(w, status, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleTranscript(w http.ResponseWriter, _ *http.Request) {
	turns := a.sessions.Transcripts()
	out := make([]transcriptEntry, len(turns))
	for i, t := range turns {
		out[i] = transcriptEntry{Role: string(t.Role), Text: t.Text, At: t.At}
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *App) handleMute(w http.ResponseWriter, r *http.Request) {
	var req muteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Muted == nil {
		writeError(w, http.StatusBadRequest, errors.New("muted is required"))
		return
	}
	a.sessions.SetMuted(*req.Muted)
	writeJSON(w, http.StatusOK, map[string]bool{"muted": *req.Muted})
}

// handleInterrupt cancels everything on the shared scheduler, including TTS
// playback started through /say or /play.
func (a *App) handleInterrupt(w http.ResponseWriter, _ *http.Request) {
	if err := a.sessions.BargeIn(); errors.Is(err, ErrNoSession) {
		a.sched.Interrupt(audio.BargeIn)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleSay(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := a.streamer.Say(r.Context(), req.Text)
	a.writePlayResult(w, res, err)
}

func (a *App) handlePlay(w http.ResponseWriter, r *http.Request) {
	res, err := a.streamer.Play(r.Context(), r.Body)
	a.writePlayResult(w, res, err)
}

func (a *App) writePlayResult(w http.ResponseWriter, res session.PlayResult, err error) {
	if err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, session.ErrNoTTS):
			status = http.StatusNotImplemented
		case errors.Is(err, session.ErrEmptyText):
			status = http.StatusBadRequest
		case errors.Is(err, wav.ErrTruncatedTail):
			status = http.StatusUnprocessableEntity
		}
		writeError(w, status, err)
		return
	}
	out := playResponse{Units: res.Units, DroppedTail: res.DroppedTail}
	if res.Last != nil {
		out.EndMs = millis(res.Last.End())
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *App) handleLevels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, levelsResponse{
		Level:    a.analyser.Level(),
		CursorMs: millis(a.sched.Cursor()),
		NowMs:    millis(a.sched.Now()),
		Active:   a.sched.Active(),
	})
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// decodeJSON decodes a bounded JSON body into v. On failure it writes a 400
// and returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
