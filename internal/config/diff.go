package config

import "slices"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	// SessionChanged is true when any field of [LiveConfig.Session] changed.
	// Applied to the next session without restart.
	SessionChanged bool

	// ProviderChanged is true when the provider, endpoint, credentials or
	// connect timeout changed. Requires a restart.
	ProviderChanged bool

	// AudioChanged is true when any device or buffer setting changed.
	// Requires a restart.
	AudioChanged bool

	// TelemetryChanged requires a restart.
	TelemetryChanged bool

	LogLevelChanged bool
	NewLogLevel     LogLevel
}

// RequiresRestart reports whether d contains changes that are not applied
// while running.
func (d ConfigDiff) RequiresRestart() bool {
	return d.ProviderChanged || d.AudioChanged || d.TelemetryChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.LogLevel
	}

	o, n := old.Live, new.Live
	if o.Provider != n.Provider || o.BaseURL != n.BaseURL || o.APIKey != n.APIKey ||
		o.ConnectTimeout != n.ConnectTimeout {
		d.ProviderChanged = true
	}
	oc, nc := o.Session(), n.Session()
	if oc.Model != nc.Model ||
		oc.Voice != nc.Voice ||
		oc.SystemInstruction != nc.SystemInstruction ||
		oc.Transcribe != nc.Transcribe ||
		!slices.Equal(oc.ResponseModalities, nc.ResponseModalities) {
		d.SessionChanged = true
	}

	if old.Audio != new.Audio {
		d.AudioChanged = true
	}
	if old.Telemetry != new.Telemetry {
		d.TelemetryChanged = true
	}
	return d
}
