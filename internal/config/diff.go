package config

import "slices"

// ConfigDiff describes what changed between two configs.
//
// Only log level and mute can be applied to a running process. Every other
// change is reported through RestartRequired so the operator knows a reload
// did not take full effect.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	MuteChanged bool
	NewMuted    bool

	// RestartRequired lists the config sections whose changes only apply to
	// devices or providers created after a restart.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.MuteChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oldCap, newCap := old.Audio.Capture, new.Audio.Capture
	if oldCap.StartMuted != newCap.StartMuted {
		d.MuteChanged = true
		d.NewMuted = newCap.StartMuted
	}
	oldCap.StartMuted, newCap.StartMuted = false, false

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if oldCap != newCap {
		d.RestartRequired = append(d.RestartRequired, "audio.capture")
	}
	if old.Audio.Playback != new.Audio.Playback {
		d.RestartRequired = append(d.RestartRequired, "audio.playback")
	}
	if !providerEqual(old.Providers.S2S, new.Providers.S2S) ||
		!slices.EqualFunc(old.Providers.S2SFallbacks, new.Providers.S2SFallbacks, providerEqual) {
		d.RestartRequired = append(d.RestartRequired, "providers.s2s")
	}
	if !providerEqual(old.Providers.TTS, new.Providers.TTS) {
		d.RestartRequired = append(d.RestartRequired, "providers.tts")
	}
	if old.Providers.Breaker != new.Providers.Breaker {
		d.RestartRequired = append(d.RestartRequired, "providers.breaker")
	}
	if old.Session != new.Session {
		d.RestartRequired = append(d.RestartRequired, "session")
	}
	return d
}

// providerEqual compares the comparable fields of two entries. Options are
// ignored since they hold arbitrary YAML values.
func providerEqual(a, b ProviderEntry) bool {
	return a.Name == b.Name &&
		a.APIKey == b.APIKey &&
		a.BaseURL == b.BaseURL &&
		a.Model == b.Model &&
		a.Voice == b.Voice &&
		a.Timeout == b.Timeout
}
