package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/3leaps/bioindex/internal/config"
)

var allCmd = &cobra.Command{
	Use:   "all <index>",
	Short: "Stream every record in an index as NDJSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runAll,
}

func init() {
	rootCmd.AddCommand(allCmd)
}

func runAll(cmd *cobra.Command, args []string) error {
	index := args[0]
	cfg := config.GetConfig()

	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return exitError("all", err)
	}
	defer a.close()

	res, err := a.planner.All(cmd.Context(), index, cmd.OutOrStdout())
	if err != nil {
		return exitError("all", err)
	}
	if res.Continuation != "" {
		fmt.Fprintf(os.Stderr, "continuation: %s\n", res.Continuation)
	}
	return nil
}
