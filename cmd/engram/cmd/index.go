package cmd

import (
	"github.com/spf13/cobra"

	"github.com/engramhq/engram/internal/index"
)

func newIndexCmd() *cobra.Command {
	var force bool
	var incremental bool
	var allowPartial bool
	var folder string
	var constitutional bool

	cmd := &cobra.Command{
		Use:   "index [file]",
		Short: "Index memory files into the store",
		Long: `Without arguments, scans every memory root. With a file argument,
indexes that single file through the prediction-error gate. The sentinel is
bumped on completion so running servers pick up the changes.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := bootstrap(configPath, logLevel)
			if err != nil {
				return err
			}
			defer app.Close()

			if len(args) == 1 {
				res, err := app.indexer.IndexFile(cmd.Context(), args[0], allowPartial)
				if err != nil {
					return err
				}
				app.store.BumpSentinel()
				printf("%s: memory %d (%s)", res.Status, res.MemoryID, res.Path)
				for _, w := range res.Warnings {
					printf("  warning: %s", w)
				}
				return nil
			}

			report, err := app.indexer.Scan(cmd.Context(), index.ScanOptions{
				SpecFolder:            folder,
				IncludeConstitutional: constitutional,
				Incremental:           incremental,
				Force:                 force,
				AllowPartial:          allowPartial,
			})
			if err != nil {
				return err
			}
			app.store.BumpSentinel()
			printf("scanned %d files: %d created, %d updated, %d reinforced, %d superseded, %d unchanged",
				report.Scanned, report.Created, report.Updated, report.Reinforced, report.Superseded, report.Unchanged)
			if report.Pending > 0 {
				printf("%d files stored without embeddings (provider unavailable)", report.Pending)
			}
			if report.Failed > 0 {
				printf("%d files failed", report.Failed)
				for _, f := range report.Files {
					if f.Error != "" {
						printf("  %s: %s", f.Path, f.Error)
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Bypass the scan cooldown and reindex everything")
	cmd.Flags().BoolVar(&incremental, "incremental", true, "Skip files whose mtime is unchanged")
	cmd.Flags().BoolVar(&allowPartial, "allow-partial", false, "Store rows without embeddings when the provider fails")
	cmd.Flags().StringVar(&folder, "folder", "", "Only scan files grouping under this spec folder")
	cmd.Flags().BoolVar(&constitutional, "constitutional", true, "Also scan the constitutional roots")
	return cmd
}
