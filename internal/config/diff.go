package config

import (
	"fmt"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked. Pipeline, playback
// and usage changes apply to sessions opened after the reload.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PipelineChanged is true if any default language, voice, debounce or
	// stage timeout changed.
	PipelineChanged bool

	PlaybackChanged bool

	// FreeLimitChanged is true if usage.free_limit changed.
	FreeLimitChanged bool

	ExportFormatChanged bool

	// RestartRequired lists sections whose changes are ignored until restart.
	RestartRequired []string
}

// Changed reports whether d contains any hot-reloadable change.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.PipelineChanged || d.PlaybackChanged || d.FreeLimitChanged || d.ExportFormatChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.PipelineChanged = old.Pipeline != new.Pipeline
	d.PlaybackChanged = old.Playback != new.Playback
	d.FreeLimitChanged = old.Usage.FreeLimit != new.Usage.FreeLimit
	d.ExportFormatChanged = old.Audio.ExportFormat != new.Audio.ExportFormat

	if old.Server.ListenAddr != new.Server.ListenAddr || !sameTLS(old.Server.TLS, new.Server.TLS) ||
		!slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins) ||
		old.Server.TraceSampleRatio != new.Server.TraceSampleRatio {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !sameEntry(old.Providers.LLM, new.Providers.LLM) ||
		!sameEntry(old.Providers.STT, new.Providers.STT) ||
		!sameEntry(old.Providers.TTS, new.Providers.TTS) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Audio.SampleRate != new.Audio.SampleRate ||
		old.Audio.Channels != new.Audio.Channels ||
		old.Audio.CaptureSampleRate != new.Audio.CaptureSampleRate {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.Usage.Path != new.Usage.Path {
		d.RestartRequired = append(d.RestartRequired, "usage.path")
	}
	return d
}

func sameTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// sameEntry compares the scalar fields of two provider entries and their
// fallback chains. Options maps are compared by key count and string form.
func sameEntry(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k, v := range a.Options {
		w, ok := b.Options[k]
		if !ok || fmt.Sprint(v) != fmt.Sprint(w) {
			return false
		}
	}
	if len(a.Fallbacks) != len(b.Fallbacks) {
		return false
	}
	for i := range a.Fallbacks {
		if !sameEntry(a.Fallbacks[i], b.Fallbacks[i]) {
			return false
		}
	}
	return true
}
