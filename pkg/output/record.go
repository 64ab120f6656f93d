// Package output provides JSONL output for BioIndex CLI commands.
//
// Output is structured as typed record envelopes carrying build
// progress, build summaries, and errors. Each line is a self-contained
// JSON object that can be parsed independently. Query-style verbs
// (query, all, match, count) write their results as raw NDJSON
// passthrough instead of going through this envelope, matching the
// record-oriented shape callers already expect from the underlying
// sorted data.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: bioindex.<type>.v<version>
const (
	// TypeProgress identifies build progress update records.
	TypeProgress = "bioindex.progress.v1"

	// TypeSummary identifies build summary records.
	TypeSummary = "bioindex.summary.v1"

	// TypeError identifies error records.
	TypeError = "bioindex.error.v1"
)

// Record is the envelope for all JSONL output.
//
// Each line of JSONL output contains a Record with a type-specific
// payload in the Data field. The type field determines how to
// interpret the Data payload.
type Record struct {
	// Type identifies the record type (e.g., "bioindex.progress.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// RunID is the correlation ID for the build run that produced this
	// record (empty for ad-hoc commands with no associated run).
	RunID string `json:"run_id,omitempty"`

	// Index is the name of the Index Spec this record concerns.
	Index string `json:"index"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// Build phase constants.
const (
	PhaseStarting   = "starting"
	PhaseScanning   = "scanning"
	PhaseCollapsing = "collapsing"
	PhaseComplete   = "complete"
)

// ProgressRecord is the data payload for build progress updates,
// emitted periodically while a builder worker pool is scanning shards.
type ProgressRecord struct {
	// Phase indicates the current build phase.
	Phase string `json:"phase"`

	// ObjectsOK is the count of shard objects successfully processed
	// so far.
	ObjectsOK int64 `json:"objects_ok"`

	// ObjectsFailed is the count of shard objects that failed to
	// process so far.
	ObjectsFailed int64 `json:"objects_failed"`

	// ObjectsTotal is the total number of shard objects discovered
	// under the index's prefix, or 0 if not yet known.
	ObjectsTotal int64 `json:"objects_total,omitempty"`

	// RowsWritten is the cumulative count of Index Rows inserted so
	// far.
	RowsWritten int64 `json:"rows_written"`
}

// SummaryRecord is the data payload for final build summaries.
type SummaryRecord struct {
	// ObjectsOK is the total number of shard objects processed
	// successfully.
	ObjectsOK int64 `json:"objects_ok"`

	// ObjectsFailed is the total number of shard objects that failed
	// to process.
	ObjectsFailed int64 `json:"objects_failed"`

	// RowsWritten is the total number of Index Rows inserted.
	RowsWritten int64 `json:"rows_written"`

	// RecordsSkipped is the count of records dropped for a missing
	// required key field.
	RecordsSkipped int64 `json:"records_skipped,omitempty"`

	// Duration is the total build duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`

	// Failures maps an object key to the error encountered processing
	// it, for any shard that failed.
	Failures map[string]string `json:"failures,omitempty"`
}

// ErrorRecord is the data payload for errors.
//
// Errors are emitted as records rather than aborting a streaming
// command outright, allowing partial results when only some shards or
// rows fail.
type ErrorRecord struct {
	// Code is a machine-readable error code (one of the bioerr.Code
	// values).
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// Key is the object key related to this error, if applicable.
	Key string `json:"key,omitempty"`

	// Details contains additional error context.
	Details any `json:"details,omitempty"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
