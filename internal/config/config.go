// Package config provides the configuration schema, loader, watcher, and live
// provider registry for Orbis.
package config

import (
	"time"

	"github.com/orbisvoice/orbis/pkg/live"
)

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

// Default values applied by [ApplyDefaults].
const (
	DefaultLogLevel           = LogInfo
	DefaultLogFile            = "orbis.log"
	DefaultProvider           = "gemini-live"
	DefaultModel              = "gemini-2.5-flash-native-audio-preview-09-2025"
	DefaultVoice              = "Zephyr"
	DefaultConnectTimeout     = 15 * time.Second
	DefaultCaptureBufferSize  = 4096
	DefaultPlaybackSampleRate = 24000

	DefaultSystemInstruction = "You are a helpful, witty, and concise voice assistant. " +
		"Keep your responses relatively short and conversational."
)

// APIKeyEnv is consulted when live.api_key is empty.
const APIKeyEnv = "GEMINI_API_KEY"

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFile receives logs while the terminal UI owns the screen.
	LogFile string `yaml:"log_file"`

	Live      LiveConfig      `yaml:"live"`
	Audio     AudioConfig     `yaml:"audio"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// LiveConfig selects and configures the remote speech model.
type LiveConfig struct {
	// Provider is the registered provider name, e.g. "gemini-live" or "genai".
	Provider string `yaml:"provider"`

	// APIKey authenticates against the remote. Falls back to $GEMINI_API_KEY.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider endpoint. Empty uses the provider default.
	BaseURL string `yaml:"base_url"`

	Model              string   `yaml:"model"`
	ResponseModalities []string `yaml:"response_modalities"`
	Voice              string   `yaml:"voice"`
	SystemInstruction  string   `yaml:"system_instruction"`

	// Transcribe requests transcripts of both directions. Defaults to true.
	Transcribe *bool `yaml:"transcribe"`

	// ConnectTimeout bounds a connect attempt. Zero after defaults means
	// the default; a negative value disables the bound.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// Session returns the per-session configuration passed to the provider.
func (l LiveConfig) Session() live.Config {
	return live.Config{
		Model:              l.Model,
		ResponseModalities: append([]string(nil), l.ResponseModalities...),
		Voice:              l.Voice,
		SystemInstruction:  l.SystemInstruction,
		Transcribe:         l.Transcribe == nil || *l.Transcribe,
	}
}

// AudioConfig selects devices and buffer sizes.
type AudioConfig struct {
	// InputDevice and OutputDevice name PortAudio devices. Empty selects the
	// system default.
	InputDevice  string `yaml:"input_device"`
	OutputDevice string `yaml:"output_device"`

	// CaptureBufferSize is the number of 16 kHz samples per outbound frame.
	CaptureBufferSize int `yaml:"capture_buffer_size"`

	// PlaybackSampleRate is the sample rate of inbound audio.
	PlaybackSampleRate int `yaml:"playback_sample_rate"`
}

// TelemetryConfig controls the metrics and health listener.
type TelemetryConfig struct {
	// MetricsAddr is the TCP address serving /metrics, /healthz and /readyz.
	// Empty disables the listener.
	MetricsAddr string `yaml:"metrics_addr"`
}

// ApplyDefaults fills unset fields with their defaults and resolves the API
// key from the environment.
func ApplyDefaults(cfg *Config, getenv func(string) string) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.LogFile == "" {
		cfg.LogFile = DefaultLogFile
	}

	l := &cfg.Live
	if l.Provider == "" {
		l.Provider = DefaultProvider
	}
	if l.APIKey == "" && getenv != nil {
		l.APIKey = getenv(APIKeyEnv)
	}
	if l.Model == "" {
		l.Model = DefaultModel
	}
	if len(l.ResponseModalities) == 0 {
		l.ResponseModalities = []string{"AUDIO"}
	}
	if l.Voice == "" {
		l.Voice = DefaultVoice
	}
	if l.SystemInstruction == "" {
		l.SystemInstruction = DefaultSystemInstruction
	}
	if l.ConnectTimeout == 0 {
		l.ConnectTimeout = DefaultConnectTimeout
	}

	if cfg.Audio.CaptureBufferSize == 0 {
		cfg.Audio.CaptureBufferSize = DefaultCaptureBufferSize
	}
	if cfg.Audio.PlaybackSampleRate == 0 {
		cfg.Audio.PlaybackSampleRate = DefaultPlaybackSampleRate
	}
}
