package catalog

import (
	"context"
	"database/sql"
	"fmt"
)

// SchemaVersion is the current catalog schema version.
const SchemaVersion = 1

// Migrate creates (or upgrades) the catalog schema in-place. The Index
// Tables themselves (one per IndexSpec) are created/dropped by Put/Drop,
// not by Migrate.
func Migrate(ctx context.Context, db *sql.DB) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if db == nil {
		return fmt.Errorf("db is nil")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			schema_version INTEGER NOT NULL
		);`,
		`INSERT INTO schema_meta (id, schema_version)
			VALUES (1, 0)
			ON CONFLICT(id) DO NOTHING;`,

		`CREATE TABLE IF NOT EXISTS index_specs (
			name TEXT PRIMARY KEY,
			schema_name TEXT NOT NULL,
			prefix TEXT NOT NULL,
			key_schema TEXT NOT NULL,
			table_name TEXT NOT NULL,
			built INTEGER NOT NULL DEFAULT 0,
			compressed INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		);`,

		`CREATE TABLE IF NOT EXISTS build_runs (
			run_id TEXT PRIMARY KEY,
			index_name TEXT NOT NULL,
			started_at TIMESTAMP NOT NULL,
			ended_at TIMESTAMP,
			status TEXT NOT NULL,
			objects_ok INTEGER NOT NULL DEFAULT 0,
			objects_failed INTEGER NOT NULL DEFAULT 0,
			rows_written INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY(index_name) REFERENCES index_specs(name)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_build_runs_index_name ON build_runs(index_name);`,
		`CREATE INDEX IF NOT EXISTS idx_build_runs_started_at ON build_runs(started_at);`,

		`CREATE TABLE IF NOT EXISTS build_run_events (
			event_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			occurred_at TIMESTAMP NOT NULL,
			event_type TEXT NOT NULL,
			object_key TEXT,
			detail TEXT,
			FOREIGN KEY(run_id) REFERENCES build_runs(run_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_build_run_events_run_id ON build_run_events(run_id);`,
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE schema_meta SET schema_version=? WHERE id=1`, SchemaVersion); err != nil {
		return fmt.Errorf("update schema_version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}
