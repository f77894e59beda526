package main

import (
	"fmt"
	"os"

	"leadlove-hq/meter/pkg/cli"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile      string
	verbose      bool
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "meter",
	Short: "Meter - rate limits and credits for the lead generation API",
	Long: `Meter guards the lead generation API with per-principal rate limits and
a prepaid credit ledger.

It provides:
  - Fixed-window rate limits per endpoint category with escalating blocks
  - An append-only credit ledger with idempotent grants and refunds
  - An authorize/settle gateway that refunds failed operations
  - Scheduled purging of expired rate limit windows`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits with a code derived from the
// returned error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "output format: text, json, csv")
}

// render writes data to the command's output in the --output format.
func render(cmd *cobra.Command, data any) error {
	format, err := cli.ParseFormat(outputFormat)
	if err != nil {
		return cli.NewConfigError("output", err.Error())
	}
	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), data)
}
