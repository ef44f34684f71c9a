package resilience

import (
	"context"

	"github.com/MrWong99/parley/pkg/provider/s2s"
)

// Compile-time interface assertion.
var _ s2s.Provider = (*S2SFallback)(nil)

// S2SFallback implements [s2s.Provider] with failover across several
// speech-to-speech backends. A backend that keeps refusing connections is
// skipped until its breaker half-opens.
type S2SFallback struct {
	group *FallbackGroup[s2s.Provider]
}

// NewS2SFallback creates an [S2SFallback] with primary as the preferred backend.
func NewS2SFallback(primary s2s.Provider, primaryName string, cfg FallbackConfig) *S2SFallback {
	return &S2SFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional backend.
func (f *S2SFallback) AddFallback(name string, p s2s.Provider) {
	f.group.AddFallback(name, p)
}

// Connect opens a session on the first backend that accepts the connection.
func (f *S2SFallback) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	return ExecuteWithResult(f.group, func(p s2s.Provider) (s2s.SessionHandle, error) {
		return p.Connect(ctx, cfg)
	})
}

// Capabilities reports the primary backend's capabilities. Backends in one
// group are expected to agree on audio rates.
func (f *S2SFallback) Capabilities() s2s.Capabilities {
	return f.group.Primary().Capabilities()
}
