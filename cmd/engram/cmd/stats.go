package cmd

import (
	"github.com/spf13/cobra"

	"github.com/engramhq/engram/internal/causal"
	"github.com/engramhq/engram/internal/store"
)

func newStatsCmd() *cobra.Command {
	var autoClean bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show store statistics and health",
		RunE: func(_ *cobra.Command, _ []string) error {
			app, err := bootstrap(configPath, logLevel)
			if err != nil {
				return err
			}
			defer app.Close()

			memories, err := app.store.AllMemories()
			if err != nil {
				return err
			}
			byTier := make(map[store.ImportanceTier]int)
			pending := 0
			for _, m := range memories {
				byTier[m.ImportanceTier]++
				if m.EmbeddingStatus == store.EmbeddingPending {
					pending++
				}
			}

			printf("store:    %s", app.store.Path())
			printf("profile:  %s", app.provider.Profile())
			printf("memories: %d (%d vectors, %d pending embeddings)",
				len(memories), app.store.Vectors().Len(), pending)
			for _, tier := range []store.ImportanceTier{
				store.TierConstitutional, store.TierCritical, store.TierImportant,
				store.TierNormal, store.TierTemporary, store.TierDeprecated,
			} {
				if n := byTier[tier]; n > 0 {
					printf("  %-15s %d", tier, n)
				}
			}

			cs, err := causal.New(app.store).Stats()
			if err != nil {
				return err
			}
			printf("edges:    %d (%.0f%% of memories linked)", cs.TotalEdges, cs.LinkCoveragePercent)

			report, err := app.store.VerifyIntegrity(autoClean)
			if err != nil {
				return err
			}
			if len(report.Issues) == 0 {
				printf("health:   ok")
			} else {
				printf("health:   %d issues (%d cleaned)", len(report.Issues), report.CleanedCount)
				for _, issue := range report.Issues {
					printf("  %s: memory %d (%s)", issue.Kind, issue.MemoryID, issue.Detail)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&autoClean, "clean", false, "Repair integrity issues (delete stale rows, re-queue bad embeddings)")
	return cmd
}
