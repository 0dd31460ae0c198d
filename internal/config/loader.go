package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists the live provider names understood by [Validate].
// Each must have a factory registered with the [Registry] in use.
var ValidProviderNames = []string{"gemini-live", "genai"}

// ValidModalities lists the response modalities the remote accepts.
var ValidModalities = []string{"AUDIO", "TEXT"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and the
// environment, and validates the result. An empty document yields the
// defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg, os.Getenv)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
// A missing API key is reported by [RequireAPIKey], not here, so that
// configs can be checked without credentials.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	l := cfg.Live
	if l.Provider != "" && !slices.Contains(ValidProviderNames, l.Provider) {
		errs = append(errs, fmt.Errorf("live.provider %q is invalid; valid values: %v", l.Provider, ValidProviderNames))
	}
	if l.BaseURL != "" {
		u, err := url.Parse(l.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("live.base_url %q is not an absolute URL", l.BaseURL))
		}
	}
	for i, m := range l.ResponseModalities {
		if !slices.Contains(ValidModalities, m) {
			errs = append(errs, fmt.Errorf("live.response_modalities[%d] %q is invalid; valid values: %v", i, m, ValidModalities))
		}
	}
	if l.Model == "" {
		errs = append(errs, errors.New("live.model is required"))
	}

	a := cfg.Audio
	if a.CaptureBufferSize < 0 {
		errs = append(errs, fmt.Errorf("audio.capture_buffer_size %d must be positive", a.CaptureBufferSize))
	} else if a.CaptureBufferSize > 0 && a.CaptureBufferSize < 160 {
		slog.Warn("audio.capture_buffer_size is below 10 ms; expect high message overhead",
			"capture_buffer_size", a.CaptureBufferSize,
		)
	}
	if a.PlaybackSampleRate < 0 || (a.PlaybackSampleRate > 0 && (a.PlaybackSampleRate < 8000 || a.PlaybackSampleRate > 48000)) {
		errs = append(errs, fmt.Errorf("audio.playback_sample_rate %d is out of range [8000, 48000]", a.PlaybackSampleRate))
	}

	if addr := cfg.Telemetry.MetricsAddr; addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			errs = append(errs, fmt.Errorf("telemetry.metrics_addr %q: %w", addr, err))
		}
	}

	return errors.Join(errs...)
}

// ErrMissingAPIKey is returned by [RequireAPIKey].
var ErrMissingAPIKey = errors.New("config: live.api_key is empty and " + APIKeyEnv + " is not set")

// RequireAPIKey reports an error when no API key is configured.
func RequireAPIKey(cfg *Config) error {
	if cfg.Live.APIKey == "" {
		return ErrMissingAPIKey
	}
	return nil
}
