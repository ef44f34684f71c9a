package resilience

import (
	"context"
	"io"

	"github.com/MrWong99/parley/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*TTSFallback)(nil)

// TTSFallback implements [tts.Provider] with failover across several streaming
// TTS backends. Only stream setup is covered; a body that fails mid-read is
// the caller's to handle.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional backend.
func (f *TTSFallback) AddFallback(name string, p tts.Provider) {
	f.group.AddFallback(name, p)
}

// Stream starts synthesis on the first healthy backend.
func (f *TTSFallback) Stream(ctx context.Context, req tts.Request) (io.ReadCloser, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) (io.ReadCloser, error) {
		return p.Stream(ctx, req)
	})
}
