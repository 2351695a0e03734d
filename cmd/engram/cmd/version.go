package cmd

import (
	"runtime"

	"github.com/spf13/cobra"

	"github.com/engramhq/engram/pkg/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			printf("engram %s (%s, %s/%s)",
				version.Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
