package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/3leaps/bioindex/pkg/bioerr"
	"github.com/3leaps/bioindex/pkg/continuation"
	"github.com/3leaps/bioindex/pkg/keyschema"
	"github.com/3leaps/bioindex/pkg/recordstore"
)

// matches re-verifies a decoded record against q: defense in depth
// against row coarseness (a row can span more records than strictly
// satisfy the query, e.g. a run that abuts slightly beyond the query
// locus, or an interchangeable KeyPart's other alternative).
func matches(rec map[string]json.RawMessage, spec *keyschema.KeySpec, q Query) bool {
	if q.KeyValues != nil {
		for i, kp := range spec.KeyParts {
			if !kp.Matches(rec, q.KeyValues[i]) {
				return false
			}
		}
	}
	if q.Locus != nil && spec.IsLocus() {
		recLocus, err := keyschema.ExtractLocus(rec, spec.Locus)
		if err != nil {
			return false
		}
		if !recLocus.Overlaps(*q.Locus) {
			return false
		}
	}
	return true
}

// execResult is the outcome of streaming a slice list to w.
type execResult struct {
	Truncated  bool
	Residual   []continuation.Slice
	EmittedAny bool
	BytesRead  int64
}

// executeSlices iterates slices in order (the first honoring
// firstOffset, for a resumed cursor), streaming matching records as
// NDJSON to w and stopping once ResponseLimit is exceeded after at
// least one record has been emitted.
func executeSlices(ctx context.Context, store *recordstore.Store, compressed bool, spec *keyschema.KeySpec, q Query, slices []continuation.Slice, firstOffset int64, limit int64, w io.Writer) (execResult, error) {
	var cumulative int64
	emittedAny := false

	for i, sl := range slices {
		start := sl.StartOffset
		if i == 0 {
			start += firstOffset
		}
		if start >= sl.EndOffset {
			continue
		}

		data, err := store.Fetch(ctx, sl.Object, start, sl.EndOffset, compressed)
		if err != nil {
			return execResult{}, err
		}

		pos := 0
		for pos < len(data) {
			line, n, err := readLine(data[pos:])
			if err != nil {
				return execResult{}, bioerr.Wrap(bioerr.CorruptShard, "executeSlices", err)
			}
			pos += n
			cumulative += int64(n)

			trimmed := bytes.TrimRight(line, "\n")
			if len(bytes.TrimSpace(trimmed)) == 0 {
				continue
			}

			var rec map[string]json.RawMessage
			if err := json.Unmarshal(trimmed, &rec); err != nil {
				return execResult{}, bioerr.Wrap(bioerr.CorruptShard, "executeSlices", err)
			}

			if matches(rec, spec, q) {
				if _, err := w.Write(line); err != nil {
					return execResult{}, err
				}
				if len(line) == 0 || line[len(line)-1] != '\n' {
					if _, err := w.Write([]byte("\n")); err != nil {
						return execResult{}, err
					}
				}
				emittedAny = true
			}

			if emittedAny && cumulative > limit {
				residualStart := start + int64(pos)
				var residual []continuation.Slice
				if residualStart < sl.EndOffset {
					residual = append(residual, continuation.Slice{Object: sl.Object, StartOffset: residualStart, EndOffset: sl.EndOffset})
				}
				residual = append(residual, slices[i+1:]...)
				if len(residual) == 0 {
					return execResult{EmittedAny: emittedAny, BytesRead: cumulative}, nil
				}
				return execResult{Truncated: true, Residual: residual, EmittedAny: emittedAny, BytesRead: cumulative}, nil
			}
		}
	}
	return execResult{EmittedAny: emittedAny, BytesRead: cumulative}, nil
}

// readLine returns the next line (including its trailing '\n', if
// present) from buf, and how many bytes it consumed.
func readLine(buf []byte) ([]byte, int, error) {
	if len(buf) == 0 {
		return nil, 0, io.EOF
	}
	idx := bytes.IndexByte(buf, '\n')
	if idx == -1 {
		return buf, len(buf), nil
	}
	return buf[:idx+1], idx + 1, nil
}
