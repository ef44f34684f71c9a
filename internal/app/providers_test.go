package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/parley/internal/app"
	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/pkg/provider/s2s"
	s2smock "github.com/MrWong99/parley/pkg/provider/s2s/mock"
	"github.com/MrWong99/parley/pkg/provider/tts"
	ttsmock "github.com/MrWong99/parley/pkg/provider/tts/mock"
)

func testRegistry(s2sProviders map[string]*s2smock.Provider) *config.Registry {
	reg := config.NewRegistry()
	for name, p := range s2sProviders {
		reg.RegisterS2S(name, func(config.ProviderEntry) (s2s.Provider, error) { return p, nil })
	}
	reg.RegisterTTS("mock", func(config.ProviderEntry) (tts.Provider, error) {
		return &ttsmock.Provider{}, nil
	})
	reg.RegisterS2S("broken", func(config.ProviderEntry) (s2s.Provider, error) {
		return nil, errors.New("missing api key")
	})
	return reg
}

func TestBuildProviders_Empty(t *testing.T) {
	t.Parallel()
	p, err := app.BuildProviders(config.ProvidersConfig{}, config.NewRegistry(), nil)
	if err != nil {
		t.Fatalf("BuildProviders: %v", err)
	}
	if p.S2S != nil || p.TTS != nil {
		t.Errorf("providers = %+v, want none", p)
	}
}

func TestBuildProviders_Errors(t *testing.T) {
	t.Parallel()
	reg := testRegistry(map[string]*s2smock.Provider{"primary": {}})

	tests := []struct {
		name    string
		cfg     config.ProvidersConfig
		wantErr error
	}{
		{
			name:    "unknown s2s",
			cfg:     config.ProvidersConfig{S2S: config.ProviderEntry{Name: "nope"}},
			wantErr: config.ErrProviderNotRegistered,
		},
		{
			name: "unknown fallback",
			cfg: config.ProvidersConfig{
				S2S:          config.ProviderEntry{Name: "primary"},
				S2SFallbacks: []config.ProviderEntry{{Name: "nope"}},
			},
			wantErr: config.ErrProviderNotRegistered,
		},
		{
			name:    "unknown tts",
			cfg:     config.ProvidersConfig{TTS: config.ProviderEntry{Name: "nope"}},
			wantErr: config.ErrProviderNotRegistered,
		},
		{
			name: "factory error",
			cfg:  config.ProvidersConfig{S2S: config.ProviderEntry{Name: "broken"}},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := app.BuildProviders(tc.cfg, reg, nil)
			if err == nil {
				t.Fatal("expected error")
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Errorf("err = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestBuildProviders_ConnectFailover(t *testing.T) {
	t.Parallel()
	m, reader := testMetrics(t)
	primary := &s2smock.Provider{ConnectErr: errors.New("503 overloaded")}
	backup := &s2smock.Provider{}
	reg := testRegistry(map[string]*s2smock.Provider{"primary": primary, "backup": backup})

	p, err := app.BuildProviders(config.ProvidersConfig{
		S2S:          config.ProviderEntry{Name: "primary"},
		S2SFallbacks: []config.ProviderEntry{{Name: "backup"}},
		TTS:          config.ProviderEntry{Name: "mock"},
		Breaker:      config.BreakerConfig{MaxFailures: 1, ResetTimeout: time.Minute},
	}, reg, m)
	if err != nil {
		t.Fatalf("BuildProviders: %v", err)
	}
	if p.S2SName != "primary" || p.TTSName != "mock" || p.TTS == nil {
		t.Errorf("providers = %+v", p)
	}

	h, err := p.S2S.Connect(context.Background(), s2s.SessionConfig{Voice: "Kore"})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer h.Close()

	if n := len(backup.Calls()); n != 1 {
		t.Errorf("backup connects = %d, want 1", n)
	}
	if got := backup.Calls()[0].Cfg.Voice; got != "Kore" {
		t.Errorf("backup voice = %q, want Kore", got)
	}
	if got := counter(t, reader, "parley.provider.breaker_transitions"); got != 1 {
		t.Errorf("breaker transitions = %d, want 1", got)
	}

	// The open primary is skipped on the next connect.
	h2, err := p.S2S.Connect(context.Background(), s2s.SessionConfig{})
	if err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	defer h2.Close()
	if n := len(primary.Calls()); n != 1 {
		t.Errorf("primary connects = %d, want 1", n)
	}
}
