package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/engramhq/engram/internal/search"
)

func newSearchCmd() *cobra.Command {
	var limit int
	var mode string
	var folder string

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search memories from the command line",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := bootstrap(configPath, logLevel)
			if err != nil {
				return err
			}
			defer app.Close()

			query := strings.Join(args, " ")
			results, err := app.engine.Search(cmd.Context(), query, search.Options{
				SpecFolder: folder,
				Limit:      limit,
				Mode:       search.Mode(mode),
			})
			if err != nil {
				return err
			}

			if len(results) == 0 {
				printf("no matches for %q", query)
				return nil
			}
			for i, r := range results {
				marker := " "
				if r.Pinned {
					marker = "*"
				}
				printf("%2d.%s [%.3f] %s (%s, %s)", i+1, marker, r.Score,
					r.Memory.Title, r.Memory.SpecFolder, r.Memory.ImportanceTier)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum results")
	cmd.Flags().StringVar(&mode, "mode", "hybrid", "Retrieval mode: hybrid, vector, or fts")
	cmd.Flags().StringVar(&folder, "folder", "", "Restrict to one spec folder")
	return cmd
}
