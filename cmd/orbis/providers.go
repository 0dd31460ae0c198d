package main

import (
	"log/slog"

	"github.com/orbisvoice/orbis/internal/config"
	"github.com/orbisvoice/orbis/pkg/live"
	"github.com/orbisvoice/orbis/pkg/live/gemini"
	livegenai "github.com/orbisvoice/orbis/pkg/live/genai"
)

// registerBuiltinProviders wires the live provider factories that ship with
// Orbis into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.Register("gemini-live", func(entry config.LiveConfig) (live.Provider, error) {
		var opts []gemini.Option
		if entry.Model != "" {
			opts = append(opts, gemini.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(entry.BaseURL))
		}
		return gemini.New(entry.APIKey, opts...), nil
	})

	reg.Register("genai", func(entry config.LiveConfig) (live.Provider, error) {
		var opts []livegenai.Option
		if entry.Model != "" {
			opts = append(opts, livegenai.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, livegenai.WithBaseURL(entry.BaseURL))
		}
		return livegenai.New(entry.APIKey, opts...), nil
	})

	for _, name := range reg.Names() {
		slog.Debug("registered provider", "name", name)
	}
}
