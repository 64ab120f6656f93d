package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/3leaps/bioindex/internal/config"
	"github.com/3leaps/bioindex/pkg/catalog"
)

var createCmd = &cobra.Command{
	Use:   "create <name> <prefix> <schema>",
	Short: "Register a new Index Spec in the catalog",
	Long: `Create persists an Index Spec (name, blob-store prefix, and key schema)
and allocates its (empty) Index Table, replacing any prior entry of the
same name. The index is not built until "bioindex index <name>" runs.

Example:
  bioindex create variants genomes/variants/ "phenotype,chromosome:position"`,
	Args: cobra.ExactArgs(3),
	RunE: runCreate,
}

func init() {
	rootCmd.AddCommand(createCmd)
}

func runCreate(cmd *cobra.Command, args []string) error {
	name, prefix, schema := args[0], args[1], args[2]
	cfg := config.GetConfig()

	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return exitError("create", err)
	}
	defer a.close()

	spec := catalog.IndexSpec{
		Name:       name,
		SchemaName: cfg.Bio.SchemaName,
		Prefix:     prefix,
		KeySchema:  schema,
	}
	if err := a.cat.Put(cmd.Context(), spec); err != nil {
		return exitError("create", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "created index %q (prefix %q, schema %q)\n", name, prefix, schema)
	return nil
}
