package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/steladb/stela/internal/analytics"
	"github.com/steladb/stela/internal/api"
	"github.com/steladb/stela/internal/config"
	"github.com/steladb/stela/internal/controller"
	sterrors "github.com/steladb/stela/internal/errors"
	"github.com/steladb/stela/internal/logging"
	"github.com/steladb/stela/internal/output"
	"github.com/steladb/stela/internal/preflight"
	"github.com/steladb/stela/internal/watcher"
	"github.com/steladb/stela/pkg/version"
)

// lockFileName guards the data directory against concurrent servers.
const lockFileName = ".stela.lock"

// serveOptions holds the CLI flags for serve.
type serveOptions struct {
	configPath string
	addr       string
	dataDir    string
	logLevel   string
	skipCheck  bool
}

// bindServeFlags registers the serve flags on cmd. The root command and
// 'stela serve' share them so both spellings behave identically.
func bindServeFlags(cmd *cobra.Command, opts *serveOptions) {
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Path to config file (default: ./stela.yaml)")
	cmd.Flags().StringVar(&opts.addr, "addr", "", "HTTP listen address (overrides config)")
	cmd.Flags().StringVar(&opts.dataDir, "data-dir", "", "Data directory (overrides config)")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	cmd.Flags().BoolVar(&opts.skipCheck, "skip-check", false, "Skip system checks on first start")
}

func newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the stela server",
		Long: `Start the HTTP API server.

The server takes an exclusive lock on its data directory; a second
server pointed at the same directory refuses to start. While the server
runs, log level changes in the config file are applied without a
restart.`,
		Example: `  # Serve with defaults (./stela.yaml if present)
  stela serve

  # Explicit config and listen address
  stela serve --config /etc/stela/stela.yaml --addr 0.0.0.0:7700`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd, opts)
		},
	}

	bindServeFlags(cmd, &opts)

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, opts serveOptions) error {
	cfg, cfgPath, err := loadServeConfig(opts)
	if err != nil {
		return err
	}

	cleanup, err := logging.SetupDefault(logging.Config{
		Level:         cfg.Log.Level,
		FilePath:      cfg.Log.File,
		MaxSizeMB:     cfg.Log.MaxSizeMB,
		MaxFiles:      cfg.Log.MaxFiles,
		WriteToStderr: true,
	})
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer cleanup()

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory %s: %w", cfg.DataDir, err)
	}

	// First start against a data directory checks the host can carry it.
	if !opts.skipCheck && preflight.NeedsCheck(cfg.DataDir) {
		checker := preflight.New()
		results := checker.RunAll(ctx, cfg.DataDir)
		if checker.HasCriticalFailures(results) {
			for _, r := range results {
				if r.IsCritical() {
					slog.Error("system check failed",
						slog.String("check", r.Name),
						slog.String("reason", r.Message))
				}
			}
			return fmt.Errorf("system check failed (run 'stela doctor' for details)")
		}
		if err := preflight.MarkPassed(cfg.DataDir); err != nil {
			slog.Debug("failed to record system check", slog.String("error", err.Error()))
		}
	}

	// One server per data directory.
	lock := flock.New(filepath.Join(cfg.DataDir, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire data directory lock: %w", err)
	}
	if !locked {
		return sterrors.Newf(sterrors.CodeDataDirLocked,
			"data directory %s is already in use by another stela server", cfg.DataDir)
	}
	defer func() { _ = lock.Unlock() }()

	var publisher analytics.Publisher = analytics.Noop{}
	if cfg.Analytics.Enabled {
		publisher = analytics.NewLog(slog.Default())
	}

	ctrl, err := controller.New(cfg, publisher)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	srv := api.NewServer(cfg, ctrl)

	printBanner(cmd, cfg, cfgPath)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(ctx)
	})
	if cfgPath != "" {
		w, err := watcher.New(cfgPath, reloadLogLevel(opts), watcher.Options{}.WithDefaults())
		if err != nil {
			return fmt.Errorf("failed to watch config file: %w", err)
		}
		g.Go(func() error {
			return w.Run(ctx)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("server shut down cleanly")
	return nil
}

// loadServeConfig resolves the effective config and the path of the
// config file to watch, if any. Flag overrides beat file and env values.
func loadServeConfig(opts serveOptions) (*config.Config, string, error) {
	var (
		cfg     *config.Config
		cfgPath string
		err     error
	)

	if opts.configPath != "" {
		cfg, err = config.LoadFile(opts.configPath)
		if err != nil {
			return nil, "", err
		}
		cfgPath = opts.configPath
	} else {
		cfg, err = config.Load(".")
		if err != nil {
			return nil, "", err
		}
		// Only an existing server config file is worth watching.
		for _, name := range []string{"stela.yaml", "stela.yml"} {
			if _, statErr := os.Stat(name); statErr == nil {
				cfgPath = name
				break
			}
		}
	}

	if opts.addr != "" {
		cfg.HTTP.Addr = opts.addr
	}
	if opts.dataDir != "" {
		cfg.DataDir = opts.dataDir
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, cfgPath, nil
}

// reloadLogLevel returns the config watcher callback. It re-reads the
// changed file and applies the log level, unless --log-level pinned it.
func reloadLogLevel(opts serveOptions) func(path string) {
	return func(path string) {
		if opts.logLevel != "" {
			slog.Debug("config changed but log level is pinned by flag")
			return
		}
		cfg, err := config.LoadFile(path)
		if err != nil {
			slog.Warn("ignoring config change", slog.String("error", err.Error()))
			return
		}
		logging.SetLevel(cfg.Log.Level)
		slog.Info("log level applied from config", slog.String("level", cfg.Log.Level))
	}
}

// printBanner writes the startup summary to the command's stdout.
func printBanner(cmd *cobra.Command, cfg *config.Config, cfgPath string) {
	out := output.New(cmd.OutOrStdout())

	out.Statusf("🗿", "stela %s", version.Short())
	out.Statusf("", "listening on http://%s", cfg.HTTP.Addr)
	out.Statusf("", "data dir: %s", cfg.DataDir)
	if cfgPath != "" {
		out.Statusf("", "config: %s", cfgPath)
	}
	if cfg.HTTP.EnableMetrics {
		out.Statusf("", "metrics: http://%s/metrics", cfg.HTTP.Addr)
	}
	out.Newline()
}
