package main

import (
	"context"
	"fmt"
	"log/slog"

	"leadlove-hq/meter/pkg/cli"
	"leadlove-hq/meter/pkg/config"
	"leadlove-hq/meter/pkg/server"
	"leadlove-hq/meter/pkg/telemetry/health"
	"leadlove-hq/meter/pkg/telemetry/tracing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
	watch         bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the meter HTTP service",
	Long: `Start the meter HTTP service with the specified configuration.

The service exposes the authorize and settle gateway, credit events, balance
and limit status routes, health probes and Prometheus metrics. Rate limit
categories and prices are reloaded when the config file changes.

Examples:
  # Start with default config
  meter run

  # Start with custom config
  meter run --config /etc/meter/config.yaml

  # Override listen address
  meter run --listen 0.0.0.0:8080

  # Validate config without starting the service
  meter run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting the service")
	runCmd.Flags().BoolVar(&runFlags.watch, "watch", true, "reload categories and prices when the config file changes")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(runFlags.logLevel)
	if err != nil {
		return err
	}

	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}

	out := cmd.OutOrStdout()
	if runFlags.dryRun {
		fmt.Fprintln(out, "✓ Configuration valid")
		return nil
	}

	printBanner(cmd, cfg)

	tracer, err := tracing.New(&cfg.Telemetry.Tracing, Version)
	if err != nil {
		return cli.NewConfigError("telemetry.tracing", err.Error())
	}
	defer func() {
		if err := tracer.Shutdown(context.Background()); err != nil {
			slog.Warn("failed to flush traces", "error", err)
		}
	}()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	fmt.Fprintf(out, "✓ Storage ready (%s)\n", cfg.Limits.Storage.Driver)

	checker := health.New(0)
	checker.Register("storage", a.ping)

	var gatherer prometheus.Gatherer
	if cfg.Telemetry.Metrics.Enabled {
		gatherer = a.registry
	}

	srv, err := server.NewServer(&cfg.Server, server.Options{
		Gateway:          a.gateway,
		Health:           checker,
		Gatherer:         gatherer,
		MetricsPath:      cfg.Telemetry.Metrics.Path,
		LivenessPath:     cfg.Telemetry.Health.LivenessPath,
		ReadinessPath:    cfg.Telemetry.Health.ReadinessPath,
		UnavailableRetry: cfg.Limits.Gateway.UnavailableRetry,
		Tracing:          tracer.Enabled(),
		Version:          Version,
		Commit:           GitCommit,
		BuildTime:        BuildDate,
	})
	if err != nil {
		return cli.NewCommandError("run", err)
	}

	sigCtx, stop := cli.SignalContext(cmd.Context())
	defer stop()

	g, ctx := errgroup.WithContext(sigCtx)

	if err := a.housekeeper.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}
	if next := a.housekeeper.NextRun(); next != nil {
		fmt.Fprintf(out, "✓ Housekeeping scheduled (next sweep %s)\n", next.Format("15:04:05"))
	}

	if runFlags.watch {
		watcher, err := config.NewWatcher(cfgFile, 0, a.reload)
		if err != nil {
			return cli.NewCommandError("run", err)
		}
		g.Go(func() error {
			// Without the watcher the service keeps its startup config.
			if err := watcher.Watch(ctx); err != nil {
				slog.Warn("config watcher stopped", "error", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		return srv.Start(ctx)
	})

	fmt.Fprintln(out)
	fmt.Fprintf(out, "✓ Server listening on %s\n", cfg.Server.ListenAddress)
	fmt.Fprintf(out, "✓ Health endpoint: http://%s%s\n", cfg.Server.ListenAddress, cfg.Telemetry.Health.LivenessPath)
	if gatherer != nil {
		fmt.Fprintf(out, "✓ Metrics endpoint: http://%s%s\n", cfg.Server.ListenAddress, cfg.Telemetry.Metrics.Path)
	}
	fmt.Fprintln(out, "\nPress Ctrl+C to stop")

	if err := g.Wait(); err != nil && sigCtx.Err() == nil {
		return cli.NewCommandError("run", err)
	}

	fmt.Fprintln(out, "✓ Server stopped")
	return nil
}

func printBanner(cmd *cobra.Command, cfg *config.Config) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Meter v%s\n", Version)
	fmt.Fprintf(out, "Loading configuration from: %s\n", cfgFile)
	fmt.Fprintln(out, "✓ Configuration loaded")

	slog.Debug("rate limit categories configured", "count", len(cfg.Limits.RateLimit.Categories))
	slog.Debug("storage configured", "driver", cfg.Limits.Storage.Driver)
	if cfg.Limits.RateLimit.FailurePolicy != "" {
		slog.Debug("rate limit failure policy", "policy", cfg.Limits.RateLimit.FailurePolicy)
	}
}
