package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server over stdio",
		Long: `Starts the memory server on stdio for MCP clients. Logs go to the
rotating file under the data directory; stdout belongs to the protocol.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := bootstrap(configPath, logLevel)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return app.server.Serve(ctx)
		},
	}
}
