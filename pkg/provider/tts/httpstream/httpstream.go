// Package httpstream implements tts.Provider against a plain HTTP endpoint that
// answers a JSON POST with a chunked stream of concatenated WAV containers.
//
// Typical usage:
//
//	p, err := httpstream.New("http://localhost:8020",
//	    httpstream.WithPath("/v1/speak"),
//	    httpstream.WithTimeout(30*time.Second),
//	)
//	body, err := p.Stream(ctx, tts.Request{Text: "Hello"})
package httpstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/parley/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	defaultPath    = "/tts/stream"
	defaultTimeout = 60 * time.Second

	// errBodyLimit caps how much of a failed response is quoted in the error.
	errBodyLimit = 512
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithPath sets the request path appended to the base URL.
func WithPath(path string) Option {
	return func(p *Provider) {
		p.path = "/" + strings.TrimLeft(path, "/")
	}
}

// WithTimeout sets the overall HTTP timeout, covering the whole streamed
// response. Zero disables the timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.client.Timeout = d
	}
}

// WithHTTPClient replaces the HTTP client. Useful for custom transports.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.client = c
	}
}

// WithDefaultVoice sets the voice sent when a request leaves Voice empty.
func WithDefaultVoice(voice string) Option {
	return func(p *Provider) {
		p.voice = voice
	}
}

// Provider streams synthesised speech over HTTP.
type Provider struct {
	baseURL string
	path    string
	voice   string
	client  *http.Client
}

// New returns a Provider for the server at baseURL. baseURL must be non-empty.
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("httpstream: baseURL must not be empty")
	}
	p := &Provider{
		baseURL: strings.TrimRight(baseURL, "/"),
		path:    defaultPath,
		client:  &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Stream posts req and returns the response body once the server has
// answered with a 2xx status.
func (p *Provider) Stream(ctx context.Context, req tts.Request) (io.ReadCloser, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, errors.New("httpstream: text must not be empty")
	}
	if req.Voice == "" {
		req.Voice = p.voice
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("httpstream: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+p.path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("httpstream: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/wav")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("httpstream: request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, errBodyLimit))
		return nil, fmt.Errorf("httpstream: server returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return resp.Body, nil
}
