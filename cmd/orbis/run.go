package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"

	"github.com/orbisvoice/orbis/internal/config"
	"github.com/orbisvoice/orbis/internal/health"
	"github.com/orbisvoice/orbis/internal/observe"
	"github.com/orbisvoice/orbis/internal/session"
	"github.com/orbisvoice/orbis/internal/tui"
	"github.com/orbisvoice/orbis/pkg/audio"
	"github.com/orbisvoice/orbis/pkg/audio/capture"
	"github.com/orbisvoice/orbis/pkg/audio/playback"
	"github.com/orbisvoice/orbis/pkg/audio/portaudio"
)

const shutdownTimeout = 5 * time.Second

type runOptions struct {
	headless bool
	// watchPath is the config file to watch for changes. Empty disables
	// hot reload.
	watchPath string
}

func runClient(ctx context.Context, cfg *config.Config, opts runOptions) error {
	// ── Logger ────────────────────────────────────────────────────────────────
	// The terminal UI owns stdout and stderr, so logs go to a file.
	logOut := io.Writer(os.Stderr)
	if !opts.headless {
		f, err := openLogFile(cfg.LogFile)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		logOut = f
	}
	logger, level := newLogger(cfg.LogLevel, logOut)
	slog.SetDefault(logger)

	slog.Info("orbis starting",
		"version", version,
		"provider", cfg.Live.Provider,
		"model", cfg.Live.Model,
		"voice", cfg.Live.Voice,
		"headless", opts.headless,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.Setup(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := tel.Metrics

	// ── Session ───────────────────────────────────────────────────────────────
	ctrl, err := buildController(cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer func() {
		if err := ctrl.Close(); err != nil {
			slog.Warn("session close error", "err", err)
		}
	}()

	var watcher *config.Watcher
	if opts.watchPath != "" {
		watcher, err = config.NewWatcher(opts.watchPath, onConfigChange(ctrl, level), config.WithWatchLogger(logger))
		if err != nil {
			return err
		}
	}

	// ── Long-running tasks ────────────────────────────────────────────────────
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if addr := cfg.Telemetry.MetricsAddr; addr != "" {
		srv := newTelemetryServer(addr, tel, cfg, ctrl)
		g.Go(func() error { return serveTelemetry(gctx, srv) })
	}
	if watcher != nil {
		g.Go(func() error { return watcher.Run(gctx) })
	}

	g.Go(func() error {
		// The UI or headless session ending stops everything else.
		defer cancel()
		if opts.headless {
			return runHeadless(gctx, ctrl)
		}
		return runTUI(gctx, ctrl, cfg)
	})

	err = g.Wait()
	slog.Info("orbis stopped")
	return err
}

// buildController wires PortAudio devices into the capture and playback
// pipelines and hands them to a session controller.
func buildController(cfg *config.Config, logger *slog.Logger, metrics *observe.Metrics) (*session.Controller, error) {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	provider, err := reg.Create(cfg.Live)
	if err != nil {
		return nil, fmt.Errorf("create live provider %q: %w", cfg.Live.Provider, err)
	}
	slog.Info("provider created", "name", cfg.Live.Provider)

	recorder := capture.New(portaudio.NewInput(cfg.Audio.InputDevice),
		capture.WithBufferSize(cfg.Audio.CaptureBufferSize),
		capture.WithLogger(logger),
	)
	player := playback.New(portaudio.NewOutput(cfg.Audio.OutputDevice),
		playback.WithFormat(audio.Format{SampleRate: cfg.Audio.PlaybackSampleRate, Channels: 1}),
		playback.WithLogger(logger),
		playback.WithHooks(metrics.PlaybackHooks()),
	)

	return session.New(provider, recorder, player, cfg.Live.Session(),
		session.WithConnectTimeout(max(cfg.Live.ConnectTimeout, 0)),
		session.WithMetrics(metrics),
		session.WithLogger(logger),
	), nil
}

// onConfigChange applies hot-reloadable settings. Session settings take
// effect on the next connect.
func onConfigChange(ctrl *session.Controller, level *slog.LevelVar) func(old, new *config.Config) {
	return func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.SessionChanged {
			ctrl.SetConfig(new.Live.Session())
			slog.Info("session settings updated, applied on next connect",
				"model", new.Live.Model,
				"voice", new.Live.Voice,
			)
		}
		if d.RequiresRestart() {
			slog.Warn("some config changes need a restart to take effect",
				"provider", d.ProviderChanged,
				"audio", d.AudioChanged,
				"telemetry", d.TelemetryChanged,
			)
		}
	}
}

// ── Terminal UI ───────────────────────────────────────────────────────────────

func runTUI(ctx context.Context, ctrl *session.Controller, cfg *config.Config) error {
	subtitle := fmt.Sprintf("%s · %s", cfg.Live.Voice, cfg.Live.Model)
	p := tea.NewProgram(tui.New(ctrl, subtitle), tea.WithAltScreen(), tea.WithContext(ctx))
	tui.Bind(p, ctrl)

	_, err := p.Run()
	if err != nil && ctx.Err() != nil && errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}

// ── Headless ──────────────────────────────────────────────────────────────────

// runHeadless connects once and blocks until ctx is done or the session ends.
// A session that ends with an error is returned as that error.
func runHeadless(ctx context.Context, ctrl *session.Controller) error {
	ended := make(chan session.State, 1)
	ctrl.OnChange(func(st session.State) {
		slog.Debug("session state", "phase", st.Phase, "volume", st.Volume)
		if st.Phase != session.PhaseIdle {
			return
		}
		select {
		case ended <- st:
		default:
		}
	})
	ctrl.OnTranscript(func(tr session.Transcript) {
		slog.Info("transcript", "role", tr.Role, "text", tr.Text)
	})

	if err := ctrl.Connect(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	slog.Info("session active, listening", "session_id", ctrl.SessionID())

	select {
	case <-ctx.Done():
		ctrl.Disconnect()
		return nil
	case st := <-ended:
		if st.Error != "" {
			return errors.New(st.Error)
		}
		slog.Info("session ended by server")
		return nil
	}
}

// ── Telemetry server ──────────────────────────────────────────────────────────

func newTelemetryServer(addr string, tel *observe.Telemetry, cfg *config.Config, ctrl *session.Controller) *http.Server {
	ep := observe.NewEndpoints(tel.Metrics)
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", ep.Wrap("/metrics", tel.Handler()))
	health.New(
		health.Checker{Name: "config", Check: func(context.Context) error { return config.RequireAPIKey(cfg) }},
		health.Checker{Name: "session", Check: ctrl.Check},
	).Register(mux, ep.Wrap)

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func serveTelemetry(ctx context.Context, srv *http.Server) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("telemetry listen: %w", err)
	}
	slog.Info("telemetry listening", "addr", ln.Addr().String())

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("telemetry server: %w", err)
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
		return nil
	}
}
