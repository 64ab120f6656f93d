// Package catalog persists Index Specs and backs their Index Tables in a
// relational database (SQLite locally, libsql/Turso for remote/replica
// deployments).
package catalog

import (
	"context"
	"database/sql"
	"time"

	"github.com/3leaps/bioindex/pkg/bioerr"
	"github.com/3leaps/bioindex/pkg/keyschema"
)

// IndexSpec is the persisted description of one index.
type IndexSpec struct {
	Name       string
	SchemaName string
	Prefix     string
	KeySchema  string // raw schema string, e.g. "phenotype,chromosome:position"
	TableName  string
	Built      bool
	Compressed bool
	CreatedAt  time.Time
}

// Catalog is the relational-backed Index catalog.
type Catalog struct {
	db *sql.DB
}

func New(db *sql.DB) *Catalog {
	return &Catalog{db: db}
}

func (c *Catalog) DB() *sql.DB { return c.db }

// Put atomically replaces any prior IndexSpec with the same name: if one
// exists, its Index Table is dropped in the same transaction before the
// new spec (and its empty Index Table) is created. A later build always
// starts from empty, per the catalog's replace invariant.
func (c *Catalog) Put(ctx context.Context, spec IndexSpec) error {
	if ctx == nil {
		ctx = context.Background()
	}
	keySpec, err := keyschema.Parse(spec.KeySchema)
	if err != nil {
		return err
	}

	tableName := IndexTableName(spec.Name)

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return bioerr.Wrap(bioerr.DBError, "Put", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existingTable string
	err = tx.QueryRowContext(ctx, `SELECT table_name FROM index_specs WHERE name = ?`, spec.Name).Scan(&existingTable)
	switch {
	case err == nil:
		if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS `+quoteIdent(existingTable)); err != nil {
			return bioerr.Wrap(bioerr.DBError, "Put", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM index_specs WHERE name = ?`, spec.Name); err != nil {
			return bioerr.Wrap(bioerr.DBError, "Put", err)
		}
	case err == sql.ErrNoRows:
		// No prior entry; nothing to drop.
	default:
		return bioerr.Wrap(bioerr.DBError, "Put", err)
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO index_specs (name, schema_name, prefix, key_schema, table_name, built, compressed, created_at)
		 VALUES (?, ?, ?, ?, ?, 0, 0, ?)`,
		spec.Name, spec.SchemaName, spec.Prefix, spec.KeySchema, tableName, now)
	if err != nil {
		return bioerr.Wrap(bioerr.DBError, "Put", err)
	}

	if err := createIndexTableTx(ctx, tx, tableName, keySpec); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return bioerr.Wrap(bioerr.DBError, "Put", err)
	}
	return nil
}

// Get returns a single IndexSpec by name.
func (c *Catalog) Get(ctx context.Context, name string) (*IndexSpec, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	row := c.db.QueryRowContext(ctx,
		`SELECT name, schema_name, prefix, key_schema, table_name, built, compressed, created_at
		 FROM index_specs WHERE name = ?`, name)
	spec, err := scanIndexSpec(row)
	if err == sql.ErrNoRows {
		return nil, bioerr.New(bioerr.UnknownIndex, "Get", "unknown index: "+name)
	}
	if err != nil {
		return nil, bioerr.Wrap(bioerr.DBError, "Get", err)
	}
	return spec, nil
}

// List returns all IndexSpecs in name order.
func (c *Catalog) List(ctx context.Context) ([]IndexSpec, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	rows, err := c.db.QueryContext(ctx,
		`SELECT name, schema_name, prefix, key_schema, table_name, built, compressed, created_at
		 FROM index_specs ORDER BY name`)
	if err != nil {
		return nil, bioerr.Wrap(bioerr.DBError, "List", err)
	}
	defer func() { _ = rows.Close() }()

	var out []IndexSpec
	for rows.Next() {
		spec, err := scanIndexSpec(rows)
		if err != nil {
			return nil, bioerr.Wrap(bioerr.DBError, "List", err)
		}
		out = append(out, *spec)
	}
	if err := rows.Err(); err != nil {
		return nil, bioerr.Wrap(bioerr.DBError, "List", err)
	}
	return out, nil
}

// Drop removes an IndexSpec and its Index Table in one transaction.
func (c *Catalog) Drop(ctx context.Context, name string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return bioerr.Wrap(bioerr.DBError, "Drop", err)
	}
	defer func() { _ = tx.Rollback() }()

	var tableName string
	err = tx.QueryRowContext(ctx, `SELECT table_name FROM index_specs WHERE name = ?`, name).Scan(&tableName)
	if err == sql.ErrNoRows {
		return bioerr.New(bioerr.UnknownIndex, "Drop", "unknown index: "+name)
	}
	if err != nil {
		return bioerr.Wrap(bioerr.DBError, "Drop", err)
	}

	if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS `+quoteIdent(tableName)); err != nil {
		return bioerr.Wrap(bioerr.DBError, "Drop", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM build_run_events WHERE run_id IN (SELECT run_id FROM build_runs WHERE index_name = ?)`, name); err != nil {
		return bioerr.Wrap(bioerr.DBError, "Drop", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM build_runs WHERE index_name = ?`, name); err != nil {
		return bioerr.Wrap(bioerr.DBError, "Drop", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM index_specs WHERE name = ?`, name); err != nil {
		return bioerr.Wrap(bioerr.DBError, "Drop", err)
	}

	return tx.Commit()
}

// SetBuilt flips the built flag, set to true on a successful build.
func (c *Catalog) SetBuilt(ctx context.Context, name string, built bool) error {
	return c.setFlag(ctx, "SetBuilt", name, "built", built)
}

// SetCompressed flips the compressed flag, following a compress/decompress
// lifecycle transition performed out-of-band against the blob store.
func (c *Catalog) SetCompressed(ctx context.Context, name string, compressed bool) error {
	return c.setFlag(ctx, "SetCompressed", name, "compressed", compressed)
}

func (c *Catalog) setFlag(ctx context.Context, op, name, column string, value bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	v := 0
	if value {
		v = 1
	}
	res, err := c.db.ExecContext(ctx, `UPDATE index_specs SET `+column+` = ? WHERE name = ?`, v, name)
	if err != nil {
		return bioerr.Wrap(bioerr.DBError, op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return bioerr.Wrap(bioerr.DBError, op, err)
	}
	if n == 0 {
		return bioerr.New(bioerr.UnknownIndex, op, "unknown index: "+name)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanIndexSpec(s scanner) (*IndexSpec, error) {
	var spec IndexSpec
	var built, compressed int
	var createdAt time.Time
	if err := s.Scan(&spec.Name, &spec.SchemaName, &spec.Prefix, &spec.KeySchema, &spec.TableName, &built, &compressed, &createdAt); err != nil {
		return nil, err
	}
	spec.Built = built != 0
	spec.Compressed = compressed != 0
	spec.CreatedAt = createdAt
	return &spec, nil
}

func quoteIdent(name string) string {
	return `"` + name + `"`
}
