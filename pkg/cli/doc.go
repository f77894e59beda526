/*
Package cli provides command-line interface utilities for the meter command.

Output Formatting:

Commands render results as text tables, JSON or CSV. Values implementing
Table get aligned columns in text mode and a header row in CSV mode:

	formatter := cli.NewFormatter(cli.FormatJSON)
	if err := formatter.FormatTo(os.Stdout, history); err != nil {
		return err
	}

Exit Codes:

Commands return ConfigError for bad configuration and CommandError for
failures. ExitCode maps them to the process exit status:

	if err := rootCmd.Execute(); err != nil {
		os.Exit(cli.ExitCode(err))
	}

Signal Handling:

For graceful shutdown on SIGINT/SIGTERM:

	ctx, stop := cli.SignalContext(context.Background())
	defer stop()
*/
package cli
