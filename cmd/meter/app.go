package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"leadlove-hq/meter/pkg/cli"
	"leadlove-hq/meter/pkg/config"
	"leadlove-hq/meter/pkg/limits"
	"leadlove-hq/meter/pkg/limits/credits"
	"leadlove-hq/meter/pkg/limits/housekeeping"
	"leadlove-hq/meter/pkg/limits/pricing"
	"leadlove-hq/meter/pkg/limits/ratelimit"
	"leadlove-hq/meter/pkg/limits/storage"
	"leadlove-hq/meter/pkg/telemetry/logging"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// app holds the limits components built from one configuration.
type app struct {
	cfg *config.Config

	db      *storage.DB
	windows storage.WindowStore
	ledgers storage.LedgerStore

	registry *prometheus.Registry
	metrics  *limits.Metrics

	limiter     *ratelimit.Limiter
	ledger      *credits.Ledger
	prices      *pricing.Table
	gateway     *limits.Gateway
	housekeeper *housekeeping.Housekeeper
}

// loadConfig loads the --config file with environment overrides and
// installs the process logger. A non-empty level replaces the configured
// log level.
func loadConfig(level string) (*config.Config, error) {
	cfg, err := config.Initialize(cfgFile)
	if err != nil {
		return nil, cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}
	switch {
	case level != "":
		cfg.Telemetry.Logging.Level = level
	case verbose:
		cfg.Telemetry.Logging.Level = "debug"
	}

	logger, err := logging.New(logging.Config{
		Level:     cfg.Telemetry.Logging.Level,
		Format:    cfg.Telemetry.Logging.Format,
		AddSource: cfg.Telemetry.Logging.AddSource,
		RedactPII: cfg.Telemetry.Logging.RedactPII,
	})
	if err != nil {
		return nil, cli.NewConfigError("telemetry.logging", err.Error())
	}
	slog.SetDefault(logger)

	return cfg, nil
}

// newApp opens storage and builds the limiter, ledger, price table,
// gateway and housekeeper.
func newApp(cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = limits.NewMetrics(a.registry)

	if err := a.openStorage(); err != nil {
		return nil, err
	}

	var err error
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	rl := cfg.Limits.RateLimit
	a.limiter, err = ratelimit.NewLimiter(a.windows, ratelimit.Config{
		Categories:         rl.Categories,
		Rules:              rl.Rules,
		FailurePolicy:      ratelimit.FailurePolicy(rl.FailurePolicy),
		EscalationLookback: rl.EscalationLookback,
	}, a.metrics)
	if err != nil {
		return nil, cli.NewConfigError("limits.rate_limit", err.Error())
	}

	a.ledger, err = credits.NewLedger(a.ledgers, credits.Config{
		LowBalanceThreshold: cfg.Limits.Credits.LowBalanceThreshold,
	}, a.metrics)
	if err != nil {
		return nil, cli.NewConfigError("limits.credits", err.Error())
	}

	a.prices, err = pricing.NewTable(cfg.Limits.Pricing)
	if err != nil {
		return nil, cli.NewConfigError("limits.pricing", err.Error())
	}

	gw := cfg.Limits.Gateway
	a.gateway, err = limits.NewGateway(a.limiter, a.ledger, a.prices, a.metrics, limits.Config{
		SettleTimeout:    gw.SettleTimeout,
		GuardTimeout:     gw.GuardTimeout,
		UnavailableRetry: gw.UnavailableRetry,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway: %w", err)
	}

	hk := housekeeping.Config{Retention: cfg.Limits.Housekeeping.Retention}
	if cfg.Limits.Housekeeping.Enabled {
		hk.Schedule = cfg.Limits.Housekeeping.Schedule
	}
	a.housekeeper, err = housekeeping.New(a.windows, hk, a.metrics)
	if err != nil {
		return nil, cli.NewConfigError("limits.housekeeping", err.Error())
	}

	return a, nil
}

func (a *app) openStorage() error {
	sc := a.cfg.Limits.Storage
	if sc.Driver == "memory" {
		slog.Warn("using in-memory storage; balances and windows are lost on exit")
		a.windows = storage.NewMemoryWindowStore()
		a.ledgers = storage.NewMemoryLedgerStore()
		return nil
	}

	db, err := storage.OpenSQL(storage.SQLConfig{
		Driver:           sc.Driver,
		DSN:              sc.DSN,
		Timeout:          sc.Timeout,
		MaxOpenConns:     sc.MaxOpenConns,
		MaxIdleConns:     sc.MaxIdleConns,
		BusyTimeout:      sc.BusyTimeout,
		SnapshotInterval: sc.SnapshotInterval,
	})
	if err != nil {
		return cli.NewCommandError("storage", err).WithCode(cli.ExitUnavailable)
	}

	a.db = db
	a.windows = storage.NewSQLWindowStore(db)
	a.ledgers = storage.NewSQLLedgerStore(db)
	return nil
}

// ping checks storage for the readiness probe.
func (a *app) ping(ctx context.Context) error {
	if a.db != nil {
		return a.db.Ping(ctx)
	}
	_, err := a.ledgers.GetBalance(ctx, "readiness-probe")
	return err
}

// reload applies a new configuration to the running components. Storage
// and server settings need a restart and are left untouched.
func (a *app) reload(cfg *config.Config) error {
	rl := cfg.Limits.RateLimit
	if err := a.limiter.SetCategories(rl.Categories, rl.Rules); err != nil {
		return fmt.Errorf("failed to apply rate limit categories: %w", err)
	}
	if err := a.prices.SetPrices(cfg.Limits.Pricing); err != nil {
		return fmt.Errorf("failed to apply pricing: %w", err)
	}

	slog.Info("configuration reloaded",
		"categories", len(rl.Categories),
		"rules", len(rl.Rules),
		"operations", a.prices.Operations(),
	)
	a.cfg = cfg
	return nil
}

// Close stops the housekeeper and releases storage.
func (a *app) Close() error {
	if a.housekeeper != nil {
		a.housekeeper.Stop()
	}

	var errs []error
	if a.windows != nil {
		errs = append(errs, a.windows.Close())
	}
	if a.ledgers != nil {
		errs = append(errs, a.ledgers.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}

// storageError tags storage failures with ExitUnavailable.
func storageError(command string, err error) error {
	cmdErr := cli.NewCommandError(command, err)
	if errors.Is(err, storage.ErrStoreUnavailable) {
		cmdErr.WithCode(cli.ExitUnavailable)
	}
	return cmdErr
}
