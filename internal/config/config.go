// Package config provides the configuration schema, loader, and provider registry
// for the babelvox speech translator.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity for the babelvox server.
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

// Level maps l to its slog level. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// ExportFormat selects the container produced by the download endpoint.
type ExportFormat string

const (
	// ExportWAV serves the raw samples in a RIFF/WAVE container.
	ExportWAV ExportFormat = "wav"

	// ExportOpus serves the samples encoded as Ogg Opus.
	ExportOpus ExportFormat = "opus"
)

// IsValid reports whether f is a recognised export format.
func (f ExportFormat) IsValid() bool {
	return f == ExportWAV || f == ExportOpus
}

// Defaults applied by [ApplyDefaults] for zero-valued fields.
const (
	DefaultListenAddr     = "127.0.0.1:8080"
	DefaultSourceLanguage = "English"
	DefaultTargetLanguage = "Spanish"
	DefaultDebounce       = time.Second
	DefaultSampleRate     = 24000
	DefaultChannels       = 1
	DefaultCaptureRate    = 16000
	DefaultPlaybackRate   = 1.0
	DefaultUsagePath      = "babelvox-usage.yaml"
)

// Config is the root configuration structure for babelvox.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Audio     AudioConfig     `yaml:"audio"`
	Playback  PlaybackConfig  `yaml:"playback"`
	Usage     UsageConfig     `yaml:"usage"`
}

// ServerConfig holds network and logging settings for the babelvox server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., "127.0.0.1:8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// AllowedOrigins lists host patterns of pages on other origins that may
	// open sessions (e.g., "*.example.com"). Same-origin pages are always
	// allowed.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// TraceSampleRatio is the fraction of root traces sampled. Zero or one
	// samples every request.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig declares which provider implementation backs each external
// collaborator. Each entry selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	// LLM backs both translation and the phonetic guide.
	LLM ProviderEntry `yaml:"llm"`

	// STT transcribes captured speech.
	STT ProviderEntry `yaml:"stt"`

	// TTS synthesizes the translated text.
	TTS ProviderEntry `yaml:"tts"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "elevenlabs").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o-mini", "whisper-1").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`

	// Fallbacks are tried in order when the primary fails or its circuit is open.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// PipelineConfig holds the per-session defaults of the translation pipeline.
type PipelineConfig struct {
	// SourceLanguage is the display name of the language the user speaks.
	SourceLanguage string `yaml:"source_language"`

	// TargetLanguage is the display name of the language translated into.
	TargetLanguage string `yaml:"target_language"`

	// Voice is the provider-specific default synthesis voice.
	Voice string `yaml:"voice"`

	// Debounce is the quiet period after the last keystroke before a run starts.
	Debounce time.Duration `yaml:"debounce"`

	// StageTimeout bounds each external call. Zero means no per-stage bound.
	StageTimeout time.Duration `yaml:"stage_timeout"`
}

// AudioConfig describes the audio formats exchanged with providers and the page.
type AudioConfig struct {
	// SampleRate is the rate of the synthesized PCM in Hz.
	SampleRate int `yaml:"sample_rate"`

	// Channels is the channel count of the synthesized PCM.
	Channels int `yaml:"channels"`

	// CaptureSampleRate is the rate raw PCM captures are normalised to before
	// transcription.
	CaptureSampleRate int `yaml:"capture_sample_rate"`

	// ExportFormat is the default download container.
	ExportFormat ExportFormat `yaml:"export_format"`
}

// PlaybackConfig holds playback defaults.
type PlaybackConfig struct {
	// DefaultRate is the initial playback rate (0.5 to 1.5).
	DefaultRate float64 `yaml:"default_rate"`
}

// UsageConfig configures the freemium usage counter.
type UsageConfig struct {
	// Path is the YAML file persisting the counter. Empty keeps usage in memory.
	Path string `yaml:"path"`

	// FreeLimit is the number of translations allowed on the free tier.
	// Zero disables the limit.
	FreeLimit int `yaml:"free_limit"`
}

// ApplyDefaults fills zero-valued fields of cfg with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Pipeline.SourceLanguage == "" {
		cfg.Pipeline.SourceLanguage = DefaultSourceLanguage
	}
	if cfg.Pipeline.TargetLanguage == "" {
		cfg.Pipeline.TargetLanguage = DefaultTargetLanguage
	}
	if cfg.Pipeline.Debounce == 0 {
		cfg.Pipeline.Debounce = DefaultDebounce
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = DefaultSampleRate
	}
	if cfg.Audio.Channels == 0 {
		cfg.Audio.Channels = DefaultChannels
	}
	if cfg.Audio.CaptureSampleRate == 0 {
		cfg.Audio.CaptureSampleRate = DefaultCaptureRate
	}
	if cfg.Audio.ExportFormat == "" {
		cfg.Audio.ExportFormat = ExportWAV
	}
	if cfg.Playback.DefaultRate == 0 {
		cfg.Playback.DefaultRate = DefaultPlaybackRate
	}
}
