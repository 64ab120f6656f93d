package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/3leaps/bioindex/internal/config"
)

var matchPrefix string

var matchCmd = &cobra.Command{
	Use:   "match <index> [prefix]",
	Short: "List distinct key values sharing a prefix",
	Long: `Match returns the distinct values of an index's first interchangeable
key part that start with --prefix, up to the configured match limit.
Useful for autocomplete over phenotype or gene names.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runMatch,
}

func init() {
	rootCmd.AddCommand(matchCmd)
	matchCmd.Flags().StringVar(&matchPrefix, "prefix", "", "key value prefix to match")
}

func runMatch(cmd *cobra.Command, args []string) error {
	index := args[0]
	prefix := matchPrefix
	if len(args) > 1 {
		prefix = args[1]
	}
	cfg := config.GetConfig()

	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return exitError("match", err)
	}
	defer a.close()

	matches, err := a.planner.Match(cmd.Context(), index, prefix)
	if err != nil {
		return exitError("match", err)
	}
	for _, m := range matches {
		fmt.Fprintln(cmd.OutOrStdout(), m)
	}
	return nil
}
