package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/3leaps/bioindex/internal/config"
	"github.com/3leaps/bioindex/pkg/catalog"
	"github.com/3leaps/bioindex/pkg/keyschema"
)

var (
	buildSchemaSave bool
	buildSchemaOut  string
)

var buildSchemaCmd = &cobra.Command{
	Use:   "build-schema",
	Short: "Emit a GraphQL-facing schema summary for the GraphQL collaborator",
	Long: `Build-schema reads every registered Index Spec and emits the field
shape the GraphQL façade needs to generate its resolvers: schema-name,
key-part field names, and (when present) locus field names. BioIndex's
core never interprets schema-name itself; it is opaque bookkeeping
the core persists on the GraphQL collaborator's behalf.

Example:
  bioindex build-schema --save --out schema.json`,
	Args: cobra.NoArgs,
	RunE: runBuildSchema,
}

func init() {
	rootCmd.AddCommand(buildSchemaCmd)
	buildSchemaCmd.Flags().BoolVar(&buildSchemaSave, "save", false, "write the summary to --out instead of stdout only")
	buildSchemaCmd.Flags().StringVar(&buildSchemaOut, "out", "schema.json", "output path when --save is set")
}

// indexSchemaSummary is one index's contribution to the GraphQL schema
// summary: its opaque schema-name, field-level key names, and locus
// field names when the index is locus-bounded.
type indexSchemaSummary struct {
	Index      string   `json:"index"`
	SchemaName string   `json:"schemaName"`
	KeyFields  []string `json:"keyFields"`
	Locus      *struct {
		Chromosome string `json:"chromosome"`
		Start      string `json:"start"`
		End        string `json:"end,omitempty"`
	} `json:"locus,omitempty"`
}

func runBuildSchema(cmd *cobra.Command, args []string) error {
	cfg := config.GetConfig()

	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return exitError("build-schema", err)
	}
	defer a.close()

	specs, err := a.cat.List(cmd.Context())
	if err != nil {
		return exitError("build-schema", err)
	}

	summaries := make([]indexSchemaSummary, 0, len(specs))
	for _, spec := range specs {
		s, err := summarizeSchema(spec)
		if err != nil {
			return exitError("build-schema", fmt.Errorf("%s: %w", spec.Name, err))
		}
		summaries = append(summaries, s)
	}

	out, err := json.MarshalIndent(summaries, "", "  ")
	if err != nil {
		return exitError("build-schema", err)
	}

	if buildSchemaSave {
		if err := os.WriteFile(buildSchemaOut, append(out, '\n'), 0o644); err != nil {
			return exitError("build-schema", fmt.Errorf("write %s: %w", buildSchemaOut, err))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d indexes)\n", buildSchemaOut, len(summaries))
		return nil
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

func summarizeSchema(spec catalog.IndexSpec) (indexSchemaSummary, error) {
	keySpec, err := keyschema.Parse(spec.KeySchema)
	if err != nil {
		return indexSchemaSummary{}, err
	}

	s := indexSchemaSummary{Index: spec.Name, SchemaName: spec.SchemaName}
	for _, kp := range keySpec.KeyParts {
		s.KeyFields = append(s.KeyFields, kp.String())
	}

	if keySpec.IsLocus() {
		locus := keySpec.Locus
		s.Locus = &struct {
			Chromosome string `json:"chromosome"`
			Start      string `json:"start"`
			End        string `json:"end,omitempty"`
		}{
			Chromosome: locus.ChromField,
			Start:      locus.StartField,
			End:        locus.EndField,
		}
	}

	return s, nil
}
