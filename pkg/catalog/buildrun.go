package catalog

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/3leaps/bioindex/pkg/bioerr"
)

// BuildRunStatus tracks the lifecycle of one builder execution.
type BuildRunStatus string

const (
	BuildRunRunning BuildRunStatus = "running"
	BuildRunSuccess BuildRunStatus = "success"
	BuildRunPartial BuildRunStatus = "partial"
	BuildRunFailed  BuildRunStatus = "failed"
)

// BuildRun is one build execution against an IndexSpec.
type BuildRun struct {
	RunID         string
	IndexName     string
	StartedAt     time.Time
	EndedAt       *time.Time
	Status        BuildRunStatus
	ObjectsOK     int64
	ObjectsFailed int64
	RowsWritten   int64
}

// BuildRunEvent is a structured diagnostic emitted during a build, used to
// explain a partial or failed run (e.g. a corrupt shard, a skipped record).
type BuildRunEvent struct {
	EventID    string
	RunID      string
	OccurredAt time.Time
	EventType  string
	ObjectKey  string
	Detail     string
}

// StartBuildRun records the start of a build, in running status.
func (c *Catalog) StartBuildRun(ctx context.Context, indexName string) (*BuildRun, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	now := time.Now().UTC()
	runID := "run_" + uuid.NewString()

	_, err := c.db.ExecContext(ctx,
		`INSERT INTO build_runs (run_id, index_name, started_at, status)
		 VALUES (?, ?, ?, ?)`,
		runID, indexName, now, BuildRunRunning)
	if err != nil {
		return nil, bioerr.Wrap(bioerr.DBError, "StartBuildRun", err)
	}

	return &BuildRun{RunID: runID, IndexName: indexName, StartedAt: now, Status: BuildRunRunning}, nil
}

// FinishBuildRun records the terminal status and tallies of a build.
func (c *Catalog) FinishBuildRun(ctx context.Context, runID string, status BuildRunStatus, objectsOK, objectsFailed, rowsWritten int64) error {
	if ctx == nil {
		ctx = context.Background()
	}
	now := time.Now().UTC()
	_, err := c.db.ExecContext(ctx,
		`UPDATE build_runs SET ended_at=?, status=?, objects_ok=?, objects_failed=?, rows_written=? WHERE run_id=?`,
		now, status, objectsOK, objectsFailed, rowsWritten, runID)
	if err != nil {
		return bioerr.Wrap(bioerr.DBError, "FinishBuildRun", err)
	}
	return nil
}

// RecordBuildEvent appends a structured event to a build run.
func (c *Catalog) RecordBuildEvent(ctx context.Context, runID, eventType, objectKey, detail string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO build_run_events (event_id, run_id, occurred_at, event_type, object_key, detail)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		"evt_"+uuid.NewString(), runID, time.Now().UTC(), eventType, objectKey, detail)
	if err != nil {
		return bioerr.Wrap(bioerr.DBError, "RecordBuildEvent", err)
	}
	return nil
}

// ListBuildRuns returns build history for an index, most recent first.
// This backs the supplemented "build history" CLI verb.
func (c *Catalog) ListBuildRuns(ctx context.Context, indexName string) ([]BuildRun, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	rows, err := c.db.QueryContext(ctx,
		`SELECT run_id, index_name, started_at, ended_at, status, objects_ok, objects_failed, rows_written
		 FROM build_runs WHERE index_name = ? ORDER BY started_at DESC`, indexName)
	if err != nil {
		return nil, bioerr.Wrap(bioerr.DBError, "ListBuildRuns", err)
	}
	defer func() { _ = rows.Close() }()

	var out []BuildRun
	for rows.Next() {
		var r BuildRun
		var endedAt sql.NullTime
		if err := rows.Scan(&r.RunID, &r.IndexName, &r.StartedAt, &endedAt, &r.Status, &r.ObjectsOK, &r.ObjectsFailed, &r.RowsWritten); err != nil {
			return nil, bioerr.Wrap(bioerr.DBError, "ListBuildRuns", err)
		}
		if endedAt.Valid {
			r.EndedAt = &endedAt.Time
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, bioerr.Wrap(bioerr.DBError, "ListBuildRuns", err)
	}
	return out, nil
}

// ListBuildEvents returns events for one build run, in emission order.
func (c *Catalog) ListBuildEvents(ctx context.Context, runID string) ([]BuildRunEvent, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	rows, err := c.db.QueryContext(ctx,
		`SELECT event_id, run_id, occurred_at, event_type, object_key, detail
		 FROM build_run_events WHERE run_id = ? ORDER BY occurred_at ASC`, runID)
	if err != nil {
		return nil, bioerr.Wrap(bioerr.DBError, "ListBuildEvents", err)
	}
	defer func() { _ = rows.Close() }()

	var out []BuildRunEvent
	for rows.Next() {
		var e BuildRunEvent
		var objectKey, detail sql.NullString
		if err := rows.Scan(&e.EventID, &e.RunID, &e.OccurredAt, &e.EventType, &objectKey, &detail); err != nil {
			return nil, bioerr.Wrap(bioerr.DBError, "ListBuildEvents", err)
		}
		e.ObjectKey = objectKey.String
		e.Detail = detail.String
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, bioerr.Wrap(bioerr.DBError, "ListBuildEvents", err)
	}
	return out, nil
}
