package catalog

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/3leaps/bioindex/pkg/bioerr"
	"github.com/3leaps/bioindex/pkg/keyschema"
)

// Row is one Index Row: a collapsed run of records sharing a key tuple
// and (for locus indexes) an overlapping/abutting locus interval.
type Row struct {
	Keys        []string // one value per KeyPart, in schema order
	Chromosome  string   // empty for exact indexes
	Start       int64
	End         int64
	ObjectKey   string
	StartOffset int64
	EndOffset   int64
}

// IndexTableName derives a stable, SQL-safe table name from an index name.
// A short content hash is appended so that two index names differing only
// in characters SQL identifiers can't represent still map to distinct
// tables.
func IndexTableName(indexName string) string {
	sum := sha256.Sum256([]byte(indexName))
	suffix := hex.EncodeToString(sum[:])[:8]
	return "ix_" + sanitizeIdent(indexName) + "_" + suffix
}

func sanitizeIdent(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out == "" {
		return "idx"
	}
	return out
}

func keyColumns(n int) []string {
	cols := make([]string, n)
	for i := range cols {
		cols[i] = fmt.Sprintf("k%d", i+1)
	}
	return cols
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// createIndexTableTx creates the Index Table for spec, with a composite
// B-tree index over (k1..kn, chromosome, end) and a secondary "keys" index
// over (k1..kn) for prefix-match listings.
func createIndexTableTx(ctx context.Context, tx execer, tableName string, spec *keyschema.KeySpec) error {
	cols := keyColumns(len(spec.KeyParts))

	var ddl strings.Builder
	ddl.WriteString("CREATE TABLE ")
	ddl.WriteString(quoteIdent(tableName))
	ddl.WriteString(" (\n")
	for _, c := range cols {
		ddl.WriteString("  " + c + " TEXT NOT NULL,\n")
	}
	if spec.IsLocus() {
		ddl.WriteString("  chromosome TEXT NOT NULL,\n")
		ddl.WriteString("  start INTEGER NOT NULL,\n")
		// "end" is a SQL keyword; quoted here and at every reference.
		ddl.WriteString("  \"end\" INTEGER NOT NULL,\n")
	}
	ddl.WriteString("  object_key TEXT NOT NULL,\n")
	ddl.WriteString("  start_offset INTEGER NOT NULL,\n")
	ddl.WriteString("  end_offset INTEGER NOT NULL\n")
	ddl.WriteString(")")

	if _, err := tx.ExecContext(ctx, ddl.String()); err != nil {
		return bioerr.Wrap(bioerr.DBError, "createIndexTable", err)
	}

	compositeCols := append([]string{}, cols...)
	if spec.IsLocus() {
		compositeCols = append(compositeCols, "chromosome", `"end"`)
	}
	compositeDDL := fmt.Sprintf("CREATE INDEX %s ON %s (%s)",
		quoteIdent(tableName+"_composite"), quoteIdent(tableName), strings.Join(compositeCols, ", "))
	if _, err := tx.ExecContext(ctx, compositeDDL); err != nil {
		return bioerr.Wrap(bioerr.DBError, "createIndexTable", err)
	}

	keysDDL := fmt.Sprintf("CREATE INDEX %s ON %s (%s)",
		quoteIdent(tableName+"_keys"), quoteIdent(tableName), strings.Join(cols, ", "))
	if _, err := tx.ExecContext(ctx, keysDDL); err != nil {
		return bioerr.Wrap(bioerr.DBError, "createIndexTable", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE INDEX %s ON %s (object_key)",
		quoteIdent(tableName+"_object"), quoteIdent(tableName))); err != nil {
		return bioerr.Wrap(bioerr.DBError, "createIndexTable", err)
	}

	return nil
}

// DeleteObjectRows removes all rows previously written for one object, the
// per-object idempotence step the builder performs before re-inserting.
func DeleteObjectRows(ctx context.Context, tx *sql.Tx, tableName, objectKey string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM `+quoteIdent(tableName)+` WHERE object_key = ?`, objectKey)
	if err != nil {
		return bioerr.Wrap(bioerr.DBError, "DeleteObjectRows", err)
	}
	return nil
}

// InsertRows bulk-inserts rows for one object within tx, using a prepared
// statement for the whole batch.
func InsertRows(ctx context.Context, tx *sql.Tx, tableName string, locus bool, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}

	n := len(rows[0].Keys)
	cols := keyColumns(n)
	var allCols []string
	allCols = append(allCols, cols...)
	if locus {
		allCols = append(allCols, "chromosome", "start", `"end"`)
	}
	allCols = append(allCols, "object_key", "start_offset", "end_offset")

	placeholders := make([]string, len(allCols))
	for i := range placeholders {
		placeholders[i] = "?"
	}

	stmtSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(tableName), strings.Join(allCols, ", "), strings.Join(placeholders, ", "))

	stmt, err := tx.PrepareContext(ctx, stmtSQL)
	if err != nil {
		return bioerr.Wrap(bioerr.DBError, "InsertRows", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range rows {
		args := make([]any, 0, len(allCols))
		for _, k := range r.Keys {
			args = append(args, k)
		}
		if locus {
			args = append(args, r.Chromosome, r.Start, r.End)
		}
		args = append(args, r.ObjectKey, r.StartOffset, r.EndOffset)

		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return bioerr.Wrap(bioerr.DBError, "InsertRows", err)
		}
	}
	return nil
}
