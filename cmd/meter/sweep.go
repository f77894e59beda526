package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var sweepFlags struct {
	retention time.Duration
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Purge expired rate limit windows once",
	Long: `Delete rate limit windows that ended before the retention period and carry
no active block. "meter run" does this on the housekeeping schedule; use this
command from an external scheduler when the service runs with housekeeping
disabled.

Examples:
  meter sweep
  meter sweep --retention 48h`,
	Args: cobra.NoArgs,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)

	sweepCmd.Flags().DurationVar(&sweepFlags.retention, "retention", 0, "override the configured retention")
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig("")
	if err != nil {
		return err
	}
	if sweepFlags.retention > 0 {
		cfg.Limits.Housekeeping.Retention = sweepFlags.retention
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	deleted, err := a.housekeeper.Sweep(cmd.Context())
	if err != nil {
		return storageError("sweep", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Purged %d expired windows (retention %s)\n", deleted, a.housekeeper.Retention())
	return nil
}
