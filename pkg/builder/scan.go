package builder

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/3leaps/bioindex/pkg/bioerr"
	"github.com/3leaps/bioindex/pkg/catalog"
	"github.com/3leaps/bioindex/pkg/keyschema"
)

const maxLineBytes = 4 << 20

// openRun is an in-progress Index Row: a run of records sharing a key
// tuple (and, for locus indexes, an overlapping/abutting locus interval).
type openRun struct {
	keys        []string
	chromosome  string
	start, end  int64
	startOffset int64
	endOffset   int64
}

// scanResult is the outcome of scanning one object.
type scanResult struct {
	Rows     []catalog.Row
	Warnings int
}

// scanObject performs the per-object algorithm from the builder
// contract: line-buffered scan tracking byte offsets, JSON decode, key/
// locus extraction, and single-pass run collapsing.
//
// Because an interchangeable KeyPart can materialize more than one row
// per record (one per distinct non-null alternative), more than one run
// can be open at a time; runs are tracked by their key-tuple string
// rather than a single "current row" pointer. Records are still required
// to be sorted by KeyParts-then-locus. A run stays open until a later
// record with the same key tuple fails to extend it, or until EOF, so
// runs of different key tuples can be open at the same time.
func scanObject(r io.Reader, spec *keyschema.KeySpec) (scanResult, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	var offset int64
	open := make(map[string]*openRun)
	var order []string // first-seen order, for deterministic flush/insert order
	var rows []catalog.Row
	warnings := 0

	flush := func(key string) {
		run := open[key]
		rows = append(rows, catalog.Row{
			Keys:        run.keys,
			Chromosome:  run.chromosome,
			Start:       run.start,
			End:         run.end,
			StartOffset: run.startOffset,
			EndOffset:   run.endOffset,
		})
		delete(open, key)
	}

	flushAll := func() {
		for _, key := range order {
			if _, ok := open[key]; ok {
				flush(key)
			}
		}
		order = order[:0]
	}

	for {
		lineStart := offset
		line, rerr := readLine(br, maxLineBytes)
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				break
			}
			return scanResult{}, bioerr.Wrap(bioerr.CorruptShard, "scanObject", rerr)
		}
		offset += int64(len(line))
		trimmed := bytes.TrimRight(line, "\n")
		if len(bytes.TrimSpace(trimmed)) == 0 {
			continue
		}
		lineEnd := offset

		var rec map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &rec); err != nil {
			return scanResult{}, bioerr.Wrap(bioerr.CorruptShard, "scanObject", err)
		}

		extracted, err := extract(rec, spec)
		if err != nil {
			var mk *errMissingKey
			if errors.As(err, &mk) {
				warnings++
				continue
			}
			return scanResult{}, bioerr.Wrap(bioerr.CorruptShard, "scanObject", err)
		}

		for _, tuple := range extracted.KeyTuples {
			key := strings.Join(tuple, "\x1f")
			run, exists := open[key]

			if exists && runExtends(run, extracted.Locus, spec.IsLocus()) {
				if extracted.Locus != nil {
					if extracted.Locus.Start < run.start {
						run.start = extracted.Locus.Start
					}
					if extracted.Locus.End > run.end {
						run.end = extracted.Locus.End
					}
				}
				run.endOffset = lineEnd
				continue
			}

			if exists {
				flush(key)
			} else {
				order = append(order, key)
			}

			newRun := &openRun{keys: tuple, startOffset: lineStart, endOffset: lineEnd}
			if extracted.Locus != nil {
				newRun.chromosome = extracted.Locus.Chromosome
				newRun.start = extracted.Locus.Start
				newRun.end = extracted.Locus.End
			}
			open[key] = newRun
		}
	}

	flushAll()

	return scanResult{Rows: rows, Warnings: warnings}, nil
}

// runExtends reports whether a new record's locus (if any) abuts or
// overlaps the open run's interval within zero tolerance, per the
// new.start <= current.end rule. Exact indexes (isLocus == false) always
// extend on key-tuple match.
func runExtends(run *openRun, lv *locusValue, isLocus bool) bool {
	if !isLocus {
		return true
	}
	if lv == nil {
		return false
	}
	if lv.Chromosome != run.chromosome {
		return false
	}
	return lv.Start <= run.end
}

// readLine reads one line (including its trailing '\n', if present)
// using ReadSlice so the returned offset delta exactly matches bytes
// consumed from the stream.
func readLine(r *bufio.Reader, maxBytes int) ([]byte, error) {
	var out []byte
	for {
		frag, err := r.ReadSlice('\n')
		out = append(out, frag...)
		if len(out) > maxBytes {
			return nil, errors.New("ndjson line exceeds max bytes")
		}
		if err == nil {
			return out, nil
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) {
			if len(out) == 0 {
				return nil, io.EOF
			}
			return out, nil
		}
		return nil, err
	}
}
