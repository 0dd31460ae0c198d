// Command orbis is a terminal client for real-time voice conversations with
// the Gemini Live API.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/orbisvoice/orbis/internal/config"
	"github.com/orbisvoice/orbis/pkg/audio/portaudio"
)

// version is overridden at link time with -ldflags "-X main.version=...".
var version = "dev"

const defaultConfigPath = "orbis.yaml"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "orbis:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "orbis",
		Short:         "Talk to Gemini Live from your terminal",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to the YAML configuration file")

	root.AddCommand(newRunCmd(&configPath))
	root.AddCommand(newDevicesCmd())
	root.AddCommand(newCheckConfigCmd(&configPath))
	return root
}

// loadConfig reads the config at path. A missing file is only an error when
// the path was given explicitly; otherwise the built-in defaults apply and
// fromFile is false.
func loadConfig(path string, explicit bool) (cfg *config.Config, fromFile bool, err error) {
	cfg, err = config.Load(path)
	if err == nil {
		return cfg, true, nil
	}
	if explicit || !errors.Is(err, fs.ErrNotExist) {
		return nil, false, err
	}
	cfg, err = config.LoadFromReader(strings.NewReader(""))
	return cfg, false, err
}

func newRunCmd(configPath *string) *cobra.Command {
	var headless bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the voice client",
		Long: "Start the voice client. By default an interactive terminal UI is shown;\n" +
			"with --headless the session connects immediately and logs to stderr.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, fromFile, err := loadConfig(*configPath, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			if err := config.RequireAPIKey(cfg); err != nil {
				return err
			}
			opts := runOptions{headless: headless}
			if fromFile {
				opts.watchPath = *configPath
			}
			return runClient(cmd.Context(), cfg, opts)
		},
	}
	cmd.Flags().BoolVar(&headless, "headless", false, "connect without the terminal UI and log to stderr")
	return cmd
}

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio input and output devices",
		RunE: func(cmd *cobra.Command, _ []string) error {
			devs, err := portaudio.Devices()
			if err != nil {
				return err
			}
			if len(devs) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no audio devices")
				return nil
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), devicesTable(devs))
			return nil
		},
	}
}

func devicesTable(devs []portaudio.Device) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("NAME", "HOST API", "IN", "OUT", "RATE", "DEFAULT")
	for _, d := range devs {
		var def []string
		if d.DefaultInput {
			def = append(def, "input")
		}
		if d.DefaultOutput {
			def = append(def, "output")
		}
		t.Row(
			d.Name,
			d.HostAPI,
			fmt.Sprint(d.MaxInputChannels),
			fmt.Sprint(d.MaxOutputChannels),
			fmt.Sprintf("%.0f", d.DefaultSampleRate),
			strings.Join(def, ","),
		)
	}
	return t.Render()
}

func newCheckConfigCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration and print a summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, fromFile, err := loadConfig(*configPath, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			source := *configPath
			if !fromFile {
				source = "built-in defaults"
			}
			printSummary(cmd, source, cfg)
			return config.RequireAPIKey(cfg)
		},
	}
}

func printSummary(cmd *cobra.Command, source string, cfg *config.Config) {
	out := cmd.OutOrStdout()
	key := "missing"
	if cfg.Live.APIKey != "" {
		key = "set"
	}
	timeout := cfg.Live.ConnectTimeout.String()
	if cfg.Live.ConnectTimeout < 0 {
		timeout = "disabled"
	}
	metrics := cfg.Telemetry.MetricsAddr
	if metrics == "" {
		metrics = "off"
	}

	_, _ = fmt.Fprintf(out, "config:      %s\n", source)
	_, _ = fmt.Fprintf(out, "provider:    %s\n", cfg.Live.Provider)
	_, _ = fmt.Fprintf(out, "model:       %s\n", cfg.Live.Model)
	_, _ = fmt.Fprintf(out, "voice:       %s\n", cfg.Live.Voice)
	_, _ = fmt.Fprintf(out, "api key:     %s\n", key)
	_, _ = fmt.Fprintf(out, "timeout:     %s\n", timeout)
	_, _ = fmt.Fprintf(out, "input:       %s\n", deviceName(cfg.Audio.InputDevice))
	_, _ = fmt.Fprintf(out, "output:      %s\n", deviceName(cfg.Audio.OutputDevice))
	_, _ = fmt.Fprintf(out, "metrics:     %s\n", metrics)
	_, _ = fmt.Fprintf(out, "log:         %s (%s)\n", cfg.LogFile, cfg.LogLevel)
}

func deviceName(name string) string {
	if name == "" {
		return "system default"
	}
	return name
}
