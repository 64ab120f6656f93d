package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/3leaps/bioindex/internal/config"
	"github.com/3leaps/bioindex/pkg/locus"
	"github.com/3leaps/bioindex/pkg/planner"
)

var (
	countKeys  []string
	countLocus string
)

var countCmd = &cobra.Command{
	Use:   "count <index> [key1 ... [locus]]",
	Short: "Count matching records without streaming them",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCount,
}

func init() {
	rootCmd.AddCommand(countCmd)
	countCmd.Flags().StringSliceVar(&countKeys, "key", nil, "key value, repeatable in key-part order")
	countCmd.Flags().StringVar(&countLocus, "locus", "", "locus token, e.g. 7:140000-145000")
}

func runCount(cmd *cobra.Command, args []string) error {
	index := args[0]
	cfg := config.GetConfig()

	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return exitError("count", err)
	}
	defer a.close()

	keys, locusToken, err := splitQueryArgs(cmd.Context(), a, index, args[1:], countKeys, countLocus)
	if err != nil {
		return exitError("count", err)
	}

	q := planner.Query{KeyValues: keys}
	if locusToken != "" {
		parsed, err := locus.Parse(locusToken, nil)
		if err != nil {
			return exitError("count", err)
		}
		q.Locus = parsed
	}

	count, err := a.planner.Count(cmd.Context(), index, q)
	if err != nil {
		return exitError("count", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), count)
	return nil
}
