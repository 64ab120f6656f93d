package planner

import (
	"bytes"
	"context"
	"strings"

	"github.com/3leaps/bioindex/pkg/bioerr"
)

// Count estimates the number of records matching q without streaming
// them: it sums the byte span of every matching Index Row, samples
// records from the first few slices to estimate mean bytes-per-record,
// and divides. It never blocks on full streaming.
func (p *Planner) Count(ctx context.Context, indexName string, q Query) (int64, error) {
	spec, indexSpec, err := p.resolveIndex(ctx, indexName)
	if err != nil {
		return 0, err
	}
	if err := validateArity(spec, q); err != nil {
		return 0, err
	}

	rows, err := selectRows(ctx, p.cat.DB(), indexSpec.TableName, spec, q)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	var totalBytes int64
	for _, r := range rows {
		totalBytes += r.EndOffset - r.StartOffset
	}

	slices := coalesce(rowsToSlices(rows), p.cfg.StitchGap)

	var sampleCount int
	var sampleBytes int64
sampleLoop:
	for _, sl := range slices {
		data, err := p.store.Fetch(ctx, sl.Object, sl.StartOffset, sl.EndOffset, indexSpec.Compressed)
		if err != nil {
			return 0, err
		}
		pos := 0
		for pos < len(data) {
			line, n, err := readLine(data[pos:])
			if err != nil {
				return 0, bioerr.Wrap(bioerr.CorruptShard, "Count", err)
			}
			pos += n
			trimmed := bytes.TrimRight(line, "\n")
			if len(strings.TrimSpace(string(trimmed))) == 0 {
				continue
			}
			sampleCount++
			sampleBytes += int64(len(line))
			if sampleCount >= p.cfg.SampleLimit {
				break sampleLoop
			}
		}
	}

	if sampleCount == 0 || sampleBytes == 0 {
		return int64(sampleCount), nil
	}
	meanBytes := float64(sampleBytes) / float64(sampleCount)
	return int64(float64(totalBytes) / meanBytes), nil
}
