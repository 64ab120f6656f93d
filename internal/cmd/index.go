package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/bioindex/internal/config"
	"github.com/3leaps/bioindex/internal/observability"
	"github.com/3leaps/bioindex/pkg/bioerr"
	"github.com/3leaps/bioindex/pkg/builder"
	"github.com/3leaps/bioindex/pkg/catalog"
	"github.com/3leaps/bioindex/pkg/match"
	"github.com/3leaps/bioindex/pkg/output"
)

var (
	indexWorkers int
	indexInclude []string
	indexExclude []string
	indexQuiet   bool
)

var indexCmd = &cobra.Command{
	Use:   "index <name|*>",
	Short: "Build (or rebuild) one or all Index Tables",
	Long: `Index scans the blob-store prefix of the named Index Spec, or every
registered spec when given "*", and repopulates its Index Table from
scratch.

Example:
  bioindex index variants --workers 16
  bioindex index *`,
	Args: cobra.ExactArgs(1),
	RunE: runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.Flags().IntVar(&indexWorkers, "workers", 0, "parallel object workers (default: config workers)")
	indexCmd.Flags().StringSliceVar(&indexInclude, "include", nil, "glob pattern objects must match, repeatable")
	indexCmd.Flags().StringSliceVar(&indexExclude, "exclude", nil, "glob pattern objects must not match, repeatable")
	indexCmd.Flags().BoolVarP(&indexQuiet, "quiet", "q", false, "suppress the JSONL build summary on stdout")
}

func runIndex(cmd *cobra.Command, args []string) error {
	cfg := config.GetConfig()
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return exitError("index", err)
	}
	defer a.close()

	workers := cfg.Workers
	if indexWorkers != 0 {
		workers = indexWorkers
	}

	var specs []catalog.IndexSpec
	if args[0] == "*" {
		specs, err = a.cat.List(cmd.Context())
		if err != nil {
			return exitError("index", err)
		}
	} else {
		spec, err := a.cat.Get(cmd.Context(), args[0])
		if err != nil {
			return exitError("index", err)
		}
		specs = []catalog.IndexSpec{*spec}
	}

	for _, spec := range specs {
		if err := buildOne(cmd.Context(), a, spec, workers); err != nil {
			return exitError("index", err)
		}
	}
	return nil
}

func buildOne(ctx context.Context, a *app, spec catalog.IndexSpec, workers int) error {
	cfg := builder.Config{
		Workers: workers,
		OpenDB:  a.openDB,
	}
	if len(indexInclude) > 0 || len(indexExclude) > 0 {
		includes := indexInclude
		if len(includes) == 0 {
			includes = []string{"**"}
		}
		cfg.Scope = &match.Config{Includes: includes, Excludes: indexExclude}
	}

	started := time.Now()
	result, err := builder.Build(ctx, a.cat, a.provider, spec, cfg)
	if err != nil {
		observability.CLILogger.Error("build failed", zap.String("index", spec.Name), zap.Error(err))
		if result != nil {
			writeBuildSummary(ctx, spec.Name, result, time.Since(started))
		}
		return fmt.Errorf("build %s: %w", spec.Name, err)
	}
	observability.CLILogger.Info("build complete",
		zap.String("index", spec.Name),
		zap.String("run_id", result.RunID),
		zap.Int64("objects_ok", result.ObjectsOK),
		zap.Int64("objects_failed", result.ObjectsFailed),
		zap.Int64("rows_written", result.RowsWritten))
	writeBuildSummary(ctx, spec.Name, result, time.Since(started))
	return nil
}

// writeBuildSummary emits the machine-readable build record to stdout,
// leaving human-readable status on stderr via the logger.
func writeBuildSummary(ctx context.Context, index string, result *builder.Result, took time.Duration) {
	if indexQuiet {
		return
	}
	w := output.NewJSONLWriter(os.Stdout, result.RunID, index)
	defer func() { _ = w.Close() }()

	failures := make(map[string]string, len(result.Failures))
	for key, ferr := range result.Failures {
		_ = w.WriteError(ctx, &output.ErrorRecord{
			Code:    string(bioerr.CodeOf(ferr)),
			Message: ferr.Error(),
			Key:     key,
		})
		failures[key] = ferr.Error()
	}
	_ = w.WriteSummary(ctx, &output.SummaryRecord{
		ObjectsOK:      result.ObjectsOK,
		ObjectsFailed:  result.ObjectsFailed,
		RowsWritten:    result.RowsWritten,
		RecordsSkipped: result.RecordsSkipped,
		Duration:       took,
		DurationHuman:  took.Round(time.Millisecond).String(),
		Failures:       failures,
	})
}
