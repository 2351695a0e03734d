package cmd

import (
	"github.com/spf13/cobra"

	"github.com/engramhq/engram/internal/checkpoint"
)

func newCheckpointCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Create, list, restore, and delete store checkpoints",
	}
	cmd.AddCommand(newCheckpointCreateCmd())
	cmd.AddCommand(newCheckpointListCmd())
	cmd.AddCommand(newCheckpointRestoreCmd())
	cmd.AddCommand(newCheckpointDeleteCmd())
	return cmd
}

func newCheckpointCreateCmd() *cobra.Command {
	var folder string

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Snapshot memories and edges under a name",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			app, err := bootstrap(configPath, logLevel)
			if err != nil {
				return err
			}
			defer app.Close()

			cp, err := checkpoint.New(app.store, app.logger).Create(args[0], folder, "")
			if err != nil {
				return err
			}
			printf("checkpoint %q created", cp.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&folder, "folder", "", "Scope the snapshot to one spec folder")
	return cmd
}

func newCheckpointListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List checkpoints, newest first",
		RunE: func(_ *cobra.Command, _ []string) error {
			app, err := bootstrap(configPath, logLevel)
			if err != nil {
				return err
			}
			defer app.Close()

			list, err := checkpoint.New(app.store, app.logger).List()
			if err != nil {
				return err
			}
			if len(list) == 0 {
				printf("no checkpoints")
				return nil
			}
			for _, cp := range list {
				scope := cp.SpecFolder
				if scope == "" {
					scope = "(all)"
				}
				printf("%-40s %-20s %s", cp.Name, scope, cp.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}

func newCheckpointRestoreCmd() *cobra.Command {
	var clear bool

	cmd := &cobra.Command{
		Use:   "restore <name>",
		Short: "Restore a checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			app, err := bootstrap(configPath, logLevel)
			if err != nil {
				return err
			}
			defer app.Close()

			report, err := checkpoint.New(app.store, app.logger).Restore(args[0], clear)
			if err != nil {
				return err
			}
			app.store.BumpSentinel()
			printf("restored %d memories and %d edges (%d cleared first)",
				report.MemoriesRestored, report.EdgesRestored, report.MemoriesCleared)
			return nil
		},
	}
	cmd.Flags().BoolVar(&clear, "clear", false, "Replace the scoped subset instead of merging")
	return cmd
}

func newCheckpointDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			app, err := bootstrap(configPath, logLevel)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := checkpoint.New(app.store, app.logger).Delete(args[0]); err != nil {
				return err
			}
			printf("checkpoint %q deleted", args[0])
			return nil
		},
	}
}
