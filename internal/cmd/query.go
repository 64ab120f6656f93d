package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/3leaps/bioindex/internal/config"
	"github.com/3leaps/bioindex/pkg/bioerr"
	"github.com/3leaps/bioindex/pkg/keyschema"
	"github.com/3leaps/bioindex/pkg/locus"
	"github.com/3leaps/bioindex/pkg/planner"
)

var (
	queryKeys  []string
	queryLocus string
)

var queryCmd = &cobra.Command{
	Use:   "query <index> [key1 ... [locus]]",
	Short: "Stream matching records as NDJSON",
	Long: `Query streams every record matching the given key values and/or locus
range to stdout, one JSON object per line, printing a continuation
token to stderr if the response truncated.

Key values follow the index in schema order, optionally trailed by a
locus token when the schema carries a locus; the --key/--locus flags
are the explicit spelling of the same thing.

Example:
  bioindex query gwas T2D 8:140000-145000
  bioindex query variants --key pathogenic --locus 7:140000-145000`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().StringSliceVar(&queryKeys, "key", nil, "key value, repeatable in key-part order")
	queryCmd.Flags().StringVar(&queryLocus, "locus", "", "locus token, e.g. 7:140000-145000")
}

func runQuery(cmd *cobra.Command, args []string) error {
	index := args[0]
	cfg := config.GetConfig()

	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return exitError("query", err)
	}
	defer a.close()

	keys, locusToken, err := splitQueryArgs(cmd.Context(), a, index, args[1:], queryKeys, queryLocus)
	if err != nil {
		return exitError("query", err)
	}

	q := planner.Query{KeyValues: keys}
	if locusToken != "" {
		parsed, err := locus.Parse(locusToken, nil)
		if err != nil {
			return exitError("query", err)
		}
		q.Locus = parsed
	}

	res, err := a.planner.Query(cmd.Context(), index, q, cmd.OutOrStdout())
	if err != nil {
		return exitError("query", err)
	}
	if res.Continuation != "" {
		fmt.Fprintf(os.Stderr, "continuation: %s\n", res.Continuation)
	}
	return nil
}

// splitQueryArgs resolves the positional form "key1 ... [locus]" against
// the index's schema arity, falling back to the --key/--locus flags when
// no positional terms were given. A trailing positional term beyond the
// key arity is the locus token.
func splitQueryArgs(ctx context.Context, a *app, index string, rest, flagKeys []string, flagLocus string) ([]string, string, error) {
	if len(rest) == 0 {
		return flagKeys, flagLocus, nil
	}
	if len(flagKeys) > 0 || flagLocus != "" {
		return nil, "", fmt.Errorf("give key values either positionally or via flags, not both")
	}

	spec, err := a.cat.Get(ctx, index)
	if err != nil {
		return nil, "", err
	}
	ks, err := keyschema.Parse(spec.KeySchema)
	if err != nil {
		return nil, "", err
	}

	switch n := ks.Arity(); {
	case len(rest) == n:
		return rest, "", nil
	case len(rest) == n+1 && ks.IsLocus():
		return rest[:n], rest[n], nil
	default:
		return nil, "", bioerr.New(bioerr.ArityMismatch, "query",
			fmt.Sprintf("index %s takes %d key value(s) plus an optional locus, got %d argument(s)", index, n, len(rest)))
	}
}
