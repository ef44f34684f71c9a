package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/pcm"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr      = ":8080"
	DefaultShutdownTimeout = 10 * time.Second
	DefaultQueueSize       = 32
	DefaultPlaybackBuffer  = 100 * time.Millisecond
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"s2s": {"gemini", "openai"},
	"tts": {"httpstream"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. Unknown fields are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero values with their defaults. An empty document
// yields a config that captures from the default microphone and plays
// through the default speaker.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	c := &cfg.Audio.Capture
	if c.Backend == "" {
		c.Backend = CaptureMiniaudio
	}
	if c.SampleRate == 0 {
		c.SampleRate = audio.CaptureSampleRate
	}
	if c.TickSize == 0 {
		c.TickSize = audio.DefaultTickSize
	}
	if c.Codec == "" {
		c.Codec = CodecPCM16
	}
	if c.Overflow == "" {
		c.Overflow = pcm.OverflowClamp.String()
	}
	if c.QueueSize == 0 {
		c.QueueSize = DefaultQueueSize
	}

	p := &cfg.Audio.Playback
	if p.Backend == "" {
		p.Backend = PlaybackMiniaudio
	}
	if p.SampleRate == 0 {
		p.SampleRate = audio.PlaybackSampleRate
	}
	if p.Buffer == 0 {
		p.Buffer = DefaultPlaybackBuffer
	}
}

// opusRates are the sample rates the Opus encoder accepts.
var opusRates = []int{8000, 12000, 16000, 24000, 48000}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must not be negative"))
	}

	// Capture
	c := cfg.Audio.Capture
	if c.Backend != "" && !c.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("audio.capture.backend %q is invalid; valid values: miniaudio, file", c.Backend))
	}
	if c.Backend == CaptureFile && c.Device == "" {
		errs = append(errs, errors.New("audio.capture.device is required when backend is file"))
	}
	if c.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.capture.sample_rate %d must be positive", c.SampleRate))
	}
	if c.TickSize < 0 {
		errs = append(errs, fmt.Errorf("audio.capture.tick_size %d must be positive", c.TickSize))
	}
	if c.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("audio.capture.queue_size %d must be positive", c.QueueSize))
	}
	if c.Codec != "" && !c.Codec.IsValid() {
		errs = append(errs, fmt.Errorf("audio.capture.codec %q is invalid; valid values: pcm16, opus", c.Codec))
	}
	if c.Codec == CodecOpus && c.SampleRate > 0 && !slices.Contains(opusRates, c.SampleRate) {
		errs = append(errs, fmt.Errorf("audio.capture.sample_rate %d is not supported by opus; valid values: %v", c.SampleRate, opusRates))
	}
	if c.Overflow != "" {
		if _, err := pcm.ParseOverflow(c.Overflow); err != nil {
			errs = append(errs, fmt.Errorf("audio.capture.overflow: %w", err))
		}
	}

	// Playback
	p := cfg.Audio.Playback
	if p.Backend != "" && !p.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("audio.playback.backend %q is invalid; valid values: miniaudio, oto, null", p.Backend))
	}
	if p.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.playback.sample_rate %d must be positive", p.SampleRate))
	}
	if p.Buffer < 0 {
		errs = append(errs, errors.New("audio.playback.buffer must not be negative"))
	}

	// Providers
	validateProviderName("s2s", cfg.Providers.S2S.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	seen := map[string]string{}
	if cfg.Providers.S2S.Name != "" {
		seen[cfg.Providers.S2S.Name] = "providers.s2s"
	}
	for i, fb := range cfg.Providers.S2SFallbacks {
		prefix := fmt.Sprintf("providers.s2s_fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if cfg.Providers.S2S.Name == "" {
			errs = append(errs, fmt.Errorf("%s is set but providers.s2s is not configured", prefix))
		}
		if prev, ok := seen[fb.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of %s", prefix, fb.Name, prev))
		}
		seen[fb.Name] = prefix
		validateProviderName("s2s", fb.Name)
	}
	if cfg.Providers.TTS.Name != "" && cfg.Providers.TTS.BaseURL == "" {
		errs = append(errs, errors.New("providers.tts.base_url is required when providers.tts is configured"))
	}
	if cfg.Providers.TTS.Timeout < 0 {
		errs = append(errs, errors.New("providers.tts.timeout must not be negative"))
	}
	if cfg.Providers.Breaker.MaxFailures < 0 {
		errs = append(errs, errors.New("providers.breaker.max_failures must not be negative"))
	}
	if cfg.Providers.Breaker.ResetTimeout < 0 {
		errs = append(errs, errors.New("providers.breaker.reset_timeout must not be negative"))
	}

	// Session
	if cfg.Session.AutoStart && cfg.Providers.S2S.Name == "" {
		errs = append(errs, errors.New("session.auto_start requires providers.s2s"))
	}
	if cfg.Providers.S2S.Name == "" && cfg.Providers.TTS.Name == "" {
		slog.Warn("no s2s or tts provider configured; only the control API will be available")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
