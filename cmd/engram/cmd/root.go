// Package cmd provides the CLI commands for engram.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/engramhq/engram/pkg/version"
)

var (
	configPath string
	logLevel   string
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "engram",
		Short: "Cognitive memory MCP server for AI coding assistants",
		Long: `Engram indexes Markdown memory files into an embedded store with
vector, keyword, and trigger retrieval, spaced-repetition scheduling, and a
prediction-error gate that keeps near-duplicates from piling up.

Run 'engram serve' to expose the memory tools over MCP, or use the
subcommands to index and query the store directly.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.SetVersionTemplate("engram version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the YAML config file")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the log level (debug, info, warn, error)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newCheckpointCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
