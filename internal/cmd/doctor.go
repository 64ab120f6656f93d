package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/3leaps/bioindex/internal/config"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor <name>",
	Short: "Report catalog state and build history for an index",
	Long: `Doctor prints an index's catalog entry (built, compressed, prefix,
schema) and its most recent build run, for diagnosing a stuck or
partially-built index without reaching for the database directly.`,
	Args: cobra.ExactArgs(1),
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	name := args[0]
	cfg := config.GetConfig()

	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return exitError("doctor", err)
	}
	defer a.close()

	spec, err := a.cat.Get(cmd.Context(), name)
	if err != nil {
		return exitError("doctor", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "index:      %s\n", spec.Name)
	fmt.Fprintf(out, "prefix:     %s\n", spec.Prefix)
	fmt.Fprintf(out, "schema:     %s\n", spec.KeySchema)
	fmt.Fprintf(out, "built:      %v\n", spec.Built)
	fmt.Fprintf(out, "compressed: %v\n", spec.Compressed)

	runs, err := a.cat.ListBuildRuns(cmd.Context(), name)
	if err != nil {
		return exitError("doctor", err)
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "last build:  none")
		return nil
	}

	last := runs[0]
	fmt.Fprintf(out, "last build:  %s (status=%s, ok=%d, failed=%d, rows=%d)\n",
		last.RunID, last.Status, last.ObjectsOK, last.ObjectsFailed, last.RowsWritten)

	if last.ObjectsFailed > 0 {
		events, err := a.cat.ListBuildEvents(cmd.Context(), last.RunID)
		if err != nil {
			return exitError("doctor", err)
		}
		for _, e := range events {
			fmt.Fprintf(out, "  [%s] %s: %s\n", e.EventType, e.ObjectKey, e.Detail)
		}
	}
	return nil
}
