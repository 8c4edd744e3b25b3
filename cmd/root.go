// Package cmd defines the querylane command line interface.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"
)

var (
	flagVerbose bool
	flagJSONLog bool
)

var rootCmd = &cobra.Command{
	Use:   "querylane",
	Short: "querylane - natural-language database querying service",
	Long: `querylane answers natural-language questions about a PostgreSQL
database. It streams agent responses over JSON, SSE and WebSocket,
captures and executes the generated SQL, materializes results as CSV
artifacts, and renders charts from tabular results.

Running querylane without a subcommand starts the HTTP server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&flagJSONLog, "json-log", false, "log in JSON format")
}

// logLevel maps the verbose flag to a slog level.
func logLevel() slog.Level {
	if flagVerbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
