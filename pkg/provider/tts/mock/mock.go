// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed a controlled byte stream to consumers and to verify the
// requests passed to the TTS backend. Chunks are delivered one per Read so
// that container boundaries land wherever the test places them.
//
// Example:
//
//	p := &mock.Provider{Chunks: [][]byte{first, second}}
//	body, _ := p.Stream(ctx, tts.Request{Text: "hi"})
package mock

import (
	"context"
	"io"
	"sync"

	"github.com/MrWong99/parley/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

// StreamCall records a single invocation of Stream.
type StreamCall struct {
	// Ctx is the context passed to Stream.
	Ctx context.Context
	// Req is the request passed to Stream.
	Req tts.Request
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Chunks are returned by successive Read calls on the stream.
	Chunks [][]byte

	// ReadErr, if non-nil, is returned after the last chunk instead of io.EOF.
	ReadErr error

	// StreamErr, if non-nil, is returned as the error from Stream.
	StreamErr error

	// StreamCalls records every call to Stream in order.
	StreamCalls []StreamCall
}

// Stream records the call and returns a reader over Chunks.
func (p *Provider) Stream(ctx context.Context, req tts.Request) (io.ReadCloser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StreamCalls = append(p.StreamCalls, StreamCall{Ctx: ctx, Req: req})
	if p.StreamErr != nil {
		return nil, p.StreamErr
	}
	chunks := make([][]byte, len(p.Chunks))
	copy(chunks, p.Chunks)
	return &ChunkReader{ctx: ctx, chunks: chunks, err: p.ReadErr}, nil
}

// Calls returns a copy of the recorded Stream calls. Thread-safe.
func (p *Provider) Calls() []StreamCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]StreamCall(nil), p.StreamCalls...)
}

// ChunkReader yields one chunk per Read. It honours context cancellation
// between chunks.
type ChunkReader struct {
	ctx    context.Context
	chunks [][]byte
	err    error

	mu     sync.Mutex
	closed bool
}

// Read implements io.Reader.
func (r *ChunkReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, io.ErrClosedPipe
	}
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	if len(r.chunks) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	r.chunks[0] = r.chunks[0][n:]
	if len(r.chunks[0]) == 0 {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

// Close implements io.Closer.
func (r *ChunkReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (r *ChunkReader) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
