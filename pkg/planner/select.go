package planner

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/3leaps/bioindex/pkg/bioerr"
	"github.com/3leaps/bioindex/pkg/catalog"
	"github.com/3leaps/bioindex/pkg/continuation"
	"github.com/3leaps/bioindex/pkg/keyschema"
)

func quoteIdent(name string) string { return `"` + name + `"` }

// escapeLikePrefix escapes SQL LIKE wildcards so a literal prefix
// matches exactly (order matters: backslash first, then the wildcards).
func escapeLikePrefix(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

func keyColumns(n int) []string {
	cols := make([]string, n)
	for i := range cols {
		cols[i] = fmt.Sprintf("k%d", i+1)
	}
	return cols
}

// validateArity checks that q supplies exactly one value per KeyPart, or
// none at all (the `all` verb's unfiltered scan).
func validateArity(spec *keyschema.KeySpec, q Query) error {
	if q.KeyValues == nil {
		return nil
	}
	if len(q.KeyValues) != len(spec.KeyParts) {
		return bioerr.New(bioerr.ArityMismatch, "validateArity",
			fmt.Sprintf("expected %d key value(s), got %d", len(spec.KeyParts), len(q.KeyValues)))
	}
	return nil
}

// selectRows runs the planner's relational predicate against tableName
// and returns matching Index Rows ordered by (key tuple, chromosome,
// start, object, start-offset), per the query-planning contract.
func selectRows(ctx context.Context, db *sql.DB, tableName string, spec *keyschema.KeySpec, q Query) ([]catalog.Row, error) {
	n := len(spec.KeyParts)
	cols := keyColumns(n)

	selectCols := append([]string{}, cols...)
	orderCols := append([]string{}, cols...)
	var where []string
	var args []any

	if q.KeyValues != nil {
		for i, c := range cols {
			where = append(where, c+" = ?")
			args = append(args, q.KeyValues[i])
		}
	}

	if spec.IsLocus() {
		selectCols = append(selectCols, "chromosome", "start", `"end"`)
		orderCols = append(orderCols, "chromosome", "start")
		if q.Locus != nil {
			where = append(where, "chromosome = ?", `NOT ("end" <= ? OR start >= ?)`)
			args = append(args, q.Locus.Chromosome, q.Locus.Start, q.Locus.End)
		}
	}
	selectCols = append(selectCols, "object_key", "start_offset", "end_offset")
	orderCols = append(orderCols, "object_key", "start_offset")

	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(selectCols, ", "), quoteIdent(tableName))
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY " + strings.Join(orderCols, ", ")

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, bioerr.Wrap(bioerr.DBError, "selectRows", err)
	}
	defer func() { _ = rows.Close() }()

	var out []catalog.Row
	for rows.Next() {
		row := catalog.Row{Keys: make([]string, n)}
		scanTargets := make([]any, 0, len(selectCols))
		for i := range row.Keys {
			scanTargets = append(scanTargets, &row.Keys[i])
		}
		if spec.IsLocus() {
			scanTargets = append(scanTargets, &row.Chromosome, &row.Start, &row.End)
		}
		scanTargets = append(scanTargets, &row.ObjectKey, &row.StartOffset, &row.EndOffset)
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, bioerr.Wrap(bioerr.DBError, "selectRows", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, bioerr.Wrap(bioerr.DBError, "selectRows", err)
	}
	return out, nil
}

func rowsToSlices(rows []catalog.Row) []continuation.Slice {
	slices := make([]continuation.Slice, len(rows))
	for i, r := range rows {
		slices[i] = continuation.Slice{Object: r.ObjectKey, StartOffset: r.StartOffset, EndOffset: r.EndOffset}
	}
	return slices
}

// coalesce merges adjacent slices in the same object separated by a gap
// no larger than stitchGap, minimizing ranged-GET overhead.
func coalesce(slices []continuation.Slice, stitchGap int64) []continuation.Slice {
	if len(slices) == 0 {
		return nil
	}
	out := []continuation.Slice{slices[0]}
	for _, s := range slices[1:] {
		last := &out[len(out)-1]
		if s.Object == last.Object && s.StartOffset-last.EndOffset <= stitchGap && s.StartOffset >= last.EndOffset {
			if s.EndOffset > last.EndOffset {
				last.EndOffset = s.EndOffset
			}
			continue
		}
		out = append(out, s)
	}
	return out
}
