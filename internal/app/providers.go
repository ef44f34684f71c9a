package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/resilience"
)

// BuildProviders creates the configured providers through reg and puts each
// behind a circuit breaker. Speech-to-speech fallbacks are tried in order
// when the primary refuses a connection; failover happens at connect time
// only, a session that drops is not resumed on another backend.
func BuildProviders(cfg config.ProvidersConfig, reg *config.Registry, m *observe.Metrics) (*Providers, error) {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	fbCfg := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  cfg.Breaker.MaxFailures,
			ResetTimeout: cfg.Breaker.ResetTimeout,
			OnStateChange: func(name string, from, to resilience.State) {
				m.RecordBreakerTransition(context.Background(), name, to.String())
			},
		},
	}

	p := &Providers{}

	if cfg.S2S.Name != "" {
		primary, err := reg.CreateS2S(cfg.S2S)
		if err != nil {
			return nil, err
		}
		group := resilience.NewS2SFallback(primary, cfg.S2S.Name, fbCfg)
		for _, entry := range cfg.S2SFallbacks {
			fb, err := reg.CreateS2S(entry)
			if err != nil {
				return nil, fmt.Errorf("app: s2s fallback: %w", err)
			}
			group.AddFallback(entry.Name, fb)
		}
		p.S2S, p.S2SName = group, cfg.S2S.Name
		slog.Info("s2s provider ready", "name", cfg.S2S.Name, "fallbacks", len(cfg.S2SFallbacks))
	}

	if cfg.TTS.Name != "" {
		primary, err := reg.CreateTTS(cfg.TTS)
		if err != nil {
			return nil, err
		}
		p.TTS, p.TTSName = resilience.NewTTSFallback(primary, cfg.TTS.Name, fbCfg), cfg.TTS.Name
		slog.Info("tts provider ready", "name", cfg.TTS.Name)
	}

	return p, nil
}
