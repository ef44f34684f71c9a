// Package config provides the configuration schema, loader, provider registry
// and hot-reload watcher for parley.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// CaptureBackend selects where microphone samples come from.
type CaptureBackend string

const (
	// CaptureMiniaudio captures from a system input device.
	CaptureMiniaudio CaptureBackend = "miniaudio"

	// CaptureFile replays a WAV file at real-time pace.
	CaptureFile CaptureBackend = "file"
)

// IsValid reports whether b is a recognised capture backend.
func (b CaptureBackend) IsValid() bool {
	return b == CaptureMiniaudio || b == CaptureFile
}

// PlaybackBackend selects the output device implementation.
type PlaybackBackend string

const (
	PlaybackMiniaudio PlaybackBackend = "miniaudio"
	PlaybackOto       PlaybackBackend = "oto"

	// PlaybackNull renders on a wall-clock timer and discards the samples.
	// Useful on headless hosts together with record_to.
	PlaybackNull PlaybackBackend = "null"
)

// IsValid reports whether b is a recognised playback backend.
func (b PlaybackBackend) IsValid() bool {
	switch b {
	case PlaybackMiniaudio, PlaybackOto, PlaybackNull:
		return true
	}
	return false
}

// Codec selects the capture wire codec.
type Codec string

const (
	CodecPCM16 Codec = "pcm16"
	CodecOpus  Codec = "opus"
)

// IsValid reports whether c is a recognised codec.
func (c Codec) IsValid() bool {
	return c == CodecPCM16 || c == CodecOpus
}

// Config is the root configuration structure for parley.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Audio     AudioConfig     `yaml:"audio"`
	Providers ProvidersConfig `yaml:"providers"`
	Session   SessionConfig   `yaml:"session"`
}

// ServerConfig holds the control API and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the control API (e.g., ":8080").
	// Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// ShutdownTimeout bounds graceful shutdown. Default: 10s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AudioConfig groups the device settings.
type AudioConfig struct {
	Capture  CaptureConfig  `yaml:"capture"`
	Playback PlaybackConfig `yaml:"playback"`
}

// CaptureConfig configures the microphone side.
type CaptureConfig struct {
	// Backend selects the input implementation. Default: miniaudio.
	Backend CaptureBackend `yaml:"backend"`

	// Device is the input device name for miniaudio; empty selects the
	// system default. For the file backend it is the WAV file path.
	Device string `yaml:"device"`

	// Loop restarts the file from the beginning at EOF (file backend only).
	Loop bool `yaml:"loop"`

	// SampleRate is the capture and wire rate. Default: 16000.
	SampleRate int `yaml:"sample_rate"`

	// TickSize is the number of samples per capture tick. Default: 4096.
	TickSize int `yaml:"tick_size"`

	// Codec selects the wire codec. Default: pcm16.
	Codec Codec `yaml:"codec"`

	// Overflow selects the PCM16 out-of-range policy: clamp or wrap.
	// Default: clamp.
	Overflow string `yaml:"overflow"`

	// QueueSize bounds the frames waiting for the transport. Default: 32.
	QueueSize int `yaml:"queue_size"`

	// StartMuted starts sessions with upload gated. Hot-reloadable.
	StartMuted bool `yaml:"start_muted"`
}

// PlaybackConfig configures the speaker side.
type PlaybackConfig struct {
	// Backend selects the output implementation. Default: miniaudio.
	Backend PlaybackBackend `yaml:"backend"`

	// Device is the output device name (miniaudio only).
	Device string `yaml:"device"`

	// SampleRate is the output device rate. Default: 24000.
	SampleRate int `yaml:"sample_rate"`

	// Buffer is the device buffer length (oto only). Default: 100ms.
	Buffer time.Duration `yaml:"buffer"`

	// RecordTo, when set, writes everything played to this WAV file.
	RecordTo string `yaml:"record_to"`

	// StrictTail makes a stream ending in an incomplete container an error
	// for the caller instead of a logged drop.
	StrictTail bool `yaml:"strict_tail"`
}

// ProvidersConfig declares the transports. Each entry selects a named
// provider registered in the [Registry].
type ProvidersConfig struct {
	// S2S is the primary speech-to-speech provider.
	S2S ProviderEntry `yaml:"s2s"`

	// S2SFallbacks are tried in order when the primary fails to connect.
	S2SFallbacks []ProviderEntry `yaml:"s2s_fallbacks"`

	// TTS is the container-streaming text-to-speech provider used by /say.
	TTS ProviderEntry `yaml:"tts"`

	// Breaker configures the per-provider circuit breakers.
	Breaker BreakerConfig `yaml:"breaker"`
}

// ProviderEntry is the common configuration block shared by all providers.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "gemini").
	Name string `yaml:"name"`

	// APIKey is passed through to the provider unchanged.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Voice is the default voice name.
	Voice string `yaml:"voice"`

	// Timeout bounds a single request (tts only). Zero uses the provider
	// default.
	Timeout time.Duration `yaml:"timeout"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// BreakerConfig configures the circuit breakers wrapped around providers.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens a breaker.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long a breaker stays open before probing again.
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// SessionConfig configures the live conversation.
type SessionConfig struct {
	// Instructions is the system prompt sent on connect.
	Instructions string `yaml:"instructions"`

	// Transcribe requests input and output transcripts from the provider.
	Transcribe bool `yaml:"transcribe"`

	// AutoStart starts a live session as soon as the process is up.
	AutoStart bool `yaml:"auto_start"`
}
