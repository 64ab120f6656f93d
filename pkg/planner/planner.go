// Package planner turns a query against an index into an ordered list
// of (object, byte-range) slices, drives the record store to stream
// matching records, and mints continuation tokens for truncated
// responses.
package planner

import (
	"context"
	"io"
	"time"

	"github.com/3leaps/bioindex/pkg/catalog"
	"github.com/3leaps/bioindex/pkg/continuation"
	"github.com/3leaps/bioindex/pkg/keyschema"
	"github.com/3leaps/bioindex/pkg/locus"
	"github.com/3leaps/bioindex/pkg/recordstore"
)

// Config tunes the planner's operational limits.
type Config struct {
	// ResponseLimit caps cumulative bytes read from the blob store
	// before a query truncates and returns a continuation.
	ResponseLimit int64

	// StitchGap is the maximum byte gap between adjacent same-object
	// slices that still get coalesced into one ranged read.
	StitchGap int64

	// SampleLimit bounds how many records Count inspects to estimate
	// mean bytes-per-record.
	SampleLimit int

	// MatchLimit bounds how many distinct values Match returns.
	MatchLimit int
}

const (
	defaultResponseLimit = 2 << 20 // ~2 MiB
	defaultSampleLimit   = 500
	defaultMatchLimit    = 100
)

func (c Config) withDefaults() Config {
	if c.ResponseLimit <= 0 {
		c.ResponseLimit = defaultResponseLimit
	}
	if c.SampleLimit <= 0 {
		c.SampleLimit = defaultSampleLimit
	}
	if c.MatchLimit <= 0 {
		c.MatchLimit = defaultMatchLimit
	}
	return c
}

// Query is a filter against one index: exactly one value per KeyPart
// (nil means the unfiltered `all` scan), and an optional locus bound
// (only meaningful against a locus index; nil means unbounded).
type Query struct {
	KeyValues []string
	Locus     *locus.Locus
}

// Planner executes query/all/count/match against a catalog-backed
// index table, streaming NDJSON and minting continuations on truncation.
type Planner struct {
	cat   *catalog.Catalog
	store *recordstore.Store
	cm    *continuation.Manager
	cfg   Config
}

// New builds a Planner over cat's catalog, store's blob access, and
// cm's continuation tokens.
func New(cat *catalog.Catalog, store *recordstore.Store, cm *continuation.Manager, cfg Config) *Planner {
	return &Planner{cat: cat, store: store, cm: cm, cfg: cfg.withDefaults()}
}

func (p *Planner) resolveIndex(ctx context.Context, indexName string) (*keyschema.KeySpec, catalog.IndexSpec, error) {
	spec, err := p.cat.Get(ctx, indexName)
	if err != nil {
		return nil, catalog.IndexSpec{}, err
	}
	keySpec, err := keyschema.Parse(spec.KeySchema)
	if err != nil {
		return nil, catalog.IndexSpec{}, err
	}
	return keySpec, *spec, nil
}

// StreamResult describes one page of a streamed response: whether a
// continuation follows, which page this was, and the telemetry the HTTP
// envelope reports alongside the records.
type StreamResult struct {
	// Continuation resumes the response, or "" when it is complete.
	Continuation string

	// Page is the 1-based page number of this response within its
	// continuation chain.
	Page int

	// Q echoes the filter terms the response answered: key values in
	// schema order, then the locus token when one bounded the query.
	Q []string

	// BytesRead is the cumulative bytes read from the blob store across
	// every page of the chain so far; BytesTotal is the byte span of all
	// selected slices.
	BytesRead  int64
	BytesTotal int64

	// QuerySeconds and FetchSeconds split this page's wall time between
	// planning (catalog + index table) and blob-store streaming.
	QuerySeconds float64
	FetchSeconds float64
}

// Query streams every record matching q under indexName to w as
// newline-delimited JSON. The returned StreamResult carries a non-empty
// Continuation if the response was truncated by the byte budget.
func (p *Planner) Query(ctx context.Context, indexName string, q Query, w io.Writer) (*StreamResult, error) {
	planStart := time.Now()
	spec, indexSpec, err := p.resolveIndex(ctx, indexName)
	if err != nil {
		return nil, err
	}
	if err := validateArity(spec, q); err != nil {
		return nil, err
	}

	rows, err := selectRows(ctx, p.cat.DB(), indexSpec.TableName, spec, q)
	if err != nil {
		return nil, err
	}
	slices := coalesce(rowsToSlices(rows), p.cfg.StitchGap)

	var bytesTotal int64
	for _, sl := range slices {
		bytesTotal += sl.EndOffset - sl.StartOffset
	}

	return p.stream(ctx, indexName, indexSpec.Compressed, spec, q, slices, 0,
		1, 0, bytesTotal, time.Since(planStart).Seconds())(w)
}

// All streams every record under indexName, with no key or locus filter.
func (p *Planner) All(ctx context.Context, indexName string, w io.Writer) (*StreamResult, error) {
	return p.Query(ctx, indexName, Query{}, w)
}

// Resume continues a previously truncated response from token.
func (p *Planner) Resume(ctx context.Context, token string, w io.Writer) (*StreamResult, error) {
	planStart := time.Now()
	cursor, err := p.cm.Resume(token)
	if err != nil {
		return nil, err
	}
	spec, indexSpec, err := p.resolveIndex(ctx, cursor.IndexName)
	if err != nil {
		return nil, err
	}
	q := predicateToQuery(cursor.Filter)

	return p.stream(ctx, cursor.IndexName, indexSpec.Compressed, spec, q, cursor.Slices, cursor.OffsetInFirstSlice,
		cursor.Page, cursor.BytesRead, cursor.BytesTotal, time.Since(planStart).Seconds())(w)
}

// stream runs executeSlices and, on truncation, mints a fresh
// continuation token capturing the residual cursor, with the page
// counter advanced past the page just emitted.
func (p *Planner) stream(ctx context.Context, indexName string, compressed bool, spec *keyschema.KeySpec, q Query, slices []continuation.Slice, firstOffset int64, page int, priorBytes, bytesTotal int64, querySeconds float64) func(io.Writer) (*StreamResult, error) {
	return func(w io.Writer) (*StreamResult, error) {
		fetchStart := time.Now()
		result, err := executeSlices(ctx, p.store, compressed, spec, q, slices, firstOffset, p.cfg.ResponseLimit, w)
		if err != nil {
			return nil, err
		}

		sr := &StreamResult{
			Page:         page,
			Q:            queryTerms(q),
			BytesRead:    priorBytes + result.BytesRead,
			BytesTotal:   bytesTotal,
			QuerySeconds: querySeconds,
			FetchSeconds: time.Since(fetchStart).Seconds(),
		}
		if !result.Truncated {
			return sr, nil
		}
		cursor := continuation.Cursor{
			IndexName:          indexName,
			Slices:             result.Residual,
			OffsetInFirstSlice: 0,
			Filter:             queryToPredicate(q),
			ByteBudget:         p.cfg.ResponseLimit,
			Page:               page + 1,
			BytesTotal:         bytesTotal,
			BytesRead:          sr.BytesRead,
		}
		sr.Continuation = p.cm.Mint(cursor)
		return sr, nil
	}
}

// queryTerms renders q the way a caller would have typed it: key values
// in schema order, then the locus token when present.
func queryTerms(q Query) []string {
	terms := append(make([]string, 0, len(q.KeyValues)+1), q.KeyValues...)
	if q.Locus != nil {
		terms = append(terms, q.Locus.String())
	}
	return terms
}

func queryToPredicate(q Query) continuation.Predicate {
	pred := continuation.Predicate{KeyValues: q.KeyValues}
	if q.Locus != nil {
		pred.HasLocus = true
		pred.LocusChrom = q.Locus.Chromosome
		pred.LocusStart = q.Locus.Start
		pred.LocusEnd = q.Locus.End
	}
	return pred
}

func predicateToQuery(pred continuation.Predicate) Query {
	q := Query{KeyValues: pred.KeyValues}
	if pred.HasLocus {
		q.Locus = &locus.Locus{Chromosome: pred.LocusChrom, Start: pred.LocusStart, End: pred.LocusEnd}
	}
	return q
}
