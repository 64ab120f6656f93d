package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/3leaps/bioindex/internal/config"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Inspect past build runs",
}

var buildHistoryCmd = &cobra.Command{
	Use:   "history <name>",
	Short: "List past build runs for an index, most recent first",
	Args:  cobra.ExactArgs(1),
	RunE:  runBuildHistory,
}

func init() {
	rootCmd.AddCommand(buildCmd)
	buildCmd.AddCommand(buildHistoryCmd)
}

func runBuildHistory(cmd *cobra.Command, args []string) error {
	name := args[0]
	cfg := config.GetConfig()

	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return exitError("build history", err)
	}
	defer a.close()

	runs, err := a.cat.ListBuildRuns(cmd.Context(), name)
	if err != nil {
		return exitError("build history", err)
	}

	out := cmd.OutOrStdout()
	for _, r := range runs {
		ended := "running"
		if r.EndedAt != nil {
			ended = r.EndedAt.Format("2006-01-02T15:04:05Z")
		}
		fmt.Fprintf(out, "%s\t%s\tstarted=%s\tended=%s\tok=%d\tfailed=%d\trows=%d\n",
			r.RunID, r.Status, r.StartedAt.Format("2006-01-02T15:04:05Z"), ended,
			r.ObjectsOK, r.ObjectsFailed, r.RowsWritten)
	}
	return nil
}
