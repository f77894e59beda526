package main

import (
	"errors"
	"fmt"

	"leadlove-hq/meter/pkg/cli"
	"leadlove-hq/meter/pkg/config"
	"leadlove-hq/meter/pkg/limits/housekeeping"
	"leadlove-hq/meter/pkg/limits/pricing"
	"leadlove-hq/meter/pkg/limits/ratelimit"
	"leadlove-hq/meter/pkg/limits/storage"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Load the configuration with environment overrides and check it without
touching storage. Every invalid field is reported, then the category table,
price table and housekeeping schedule are compiled the way "meter run" would.

Examples:
  meter validate
  METER_LIMITS_STORAGE_DRIVER=postgres meter validate --config prod.yaml`,
	Args: cobra.NoArgs,
	RunE: validateConfig,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func validateConfig(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		var verr config.ValidationError
		if errors.As(err, &verr) {
			for _, fe := range verr.Errors {
				fmt.Fprintf(out, "✗ %s\n", fe.Error())
			}
			return cli.NewConfigError("", fmt.Sprintf("%d invalid fields in %s", len(verr.Errors), cfgFile))
		}
		return cli.NewConfigError("", err.Error())
	}
	fmt.Fprintln(out, "✓ Configuration fields valid")

	windows := storage.NewMemoryWindowStore()
	defer windows.Close()

	rl := cfg.Limits.RateLimit
	if _, err := ratelimit.NewLimiter(windows, ratelimit.Config{
		Categories:         rl.Categories,
		Rules:              rl.Rules,
		FailurePolicy:      ratelimit.FailurePolicy(rl.FailurePolicy),
		EscalationLookback: rl.EscalationLookback,
	}, nil); err != nil {
		return cli.NewConfigError("limits.rate_limit", err.Error())
	}
	fmt.Fprintf(out, "✓ Rate limits valid (%d categories, %d rules)\n", len(rl.Categories), len(rl.Rules))

	prices, err := pricing.NewTable(cfg.Limits.Pricing)
	if err != nil {
		return cli.NewConfigError("limits.pricing", err.Error())
	}
	fmt.Fprintf(out, "✓ Pricing valid (%d operations)\n", prices.Operations())

	hk := cfg.Limits.Housekeeping
	if hk.Enabled {
		if _, err := housekeeping.New(windows, housekeeping.Config{
			Schedule:  hk.Schedule,
			Retention: hk.Retention,
		}, nil); err != nil {
			return cli.NewConfigError("limits.housekeeping", err.Error())
		}
		fmt.Fprintf(out, "✓ Housekeeping schedule valid (%s)\n", hk.Schedule)
	}

	fmt.Fprintf(out, "✓ Storage: %s\n", cfg.Limits.Storage.Driver)
	return nil
}
