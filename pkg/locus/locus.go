// Package locus parses genomic locus strings: a chromosome, a point
// position, a half-open range, or a gene name resolved via a collaborator.
package locus

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/3leaps/bioindex/pkg/bioerr"
)

// validChroms is the accepted chromosome vocabulary: 1-22, X, Y, XY, MT.
var validChroms = map[string]bool{
	"X": true, "Y": true, "XY": true, "MT": true,
}

func init() {
	for i := 1; i <= 22; i++ {
		validChroms[strconv.Itoa(i)] = true
	}
}

// Locus is a half-open genomic interval [Start, End) on a chromosome.
// A point locus has End == Start+1 after normalization.
type Locus struct {
	Chromosome string
	Start      int64
	End        int64
}

// String renders the locus back in the 1-based inclusive form Parse
// accepts: "chr" for a whole chromosome, "chr:pos" for a point,
// "chr:start-end" otherwise.
func (l Locus) String() string {
	if l.Start == 0 && l.End == maxLocusEnd {
		return l.Chromosome
	}
	if l.End == l.Start+1 {
		return fmt.Sprintf("%s:%d", l.Chromosome, l.Start)
	}
	return fmt.Sprintf("%s:%d-%d", l.Chromosome, l.Start, l.End-1)
}

// Overlaps reports whether l and other share at least one base. This is
// a strict half-open intersection test; merely touching intervals do
// not overlap (the builder's run-collapse abut rule is deliberately
// looser than this query-side check).
func (l Locus) Overlaps(other Locus) bool {
	if l.Chromosome != other.Chromosome {
		return false
	}
	return l.Start < other.End && other.Start < l.End
}

// GeneResolver resolves a gene name to its genomic locus. Callers
// provide an implementation (e.g. backed by a GFF file); the indexing
// core ships none of its own.
type GeneResolver interface {
	ResolveGene(name string) (chromosome string, start, end int64, err error)
}

var rangeRe = regexp.MustCompile(`^([0-9A-Za-z]+):(\d+)-(\d+)$`)
var pointRe = regexp.MustCompile(`^([0-9A-Za-z]+):(\d+)$`)
var chromOnlyRe = regexp.MustCompile(`^([0-9A-Za-z]+)$`)

// Parse accepts "chr" (a whole chromosome, normalized to an unbounded
// range on it), "chr:pos", "chr:start-end", or a bare token treated as
// a gene name.
//
// Positions in the input are 1-based inclusive start, inclusive end;
// the returned Locus is normalized to half-open [start, end).
func Parse(token string, resolver GeneResolver) (*Locus, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, bioerr.New(bioerr.InvalidLocus, "Parse", "empty locus")
	}

	if m := rangeRe.FindStringSubmatch(token); m != nil {
		chrom, ok := normalizeChromosome(m[1])
		if !ok {
			return nil, bioerr.New(bioerr.InvalidLocus, "Parse", "unknown chromosome: "+m[1])
		}
		start, err := strconv.ParseInt(m[2], 10, 64)
		if err != nil {
			return nil, bioerr.Wrap(bioerr.InvalidLocus, "Parse", err)
		}
		end, err := strconv.ParseInt(m[3], 10, 64)
		if err != nil {
			return nil, bioerr.Wrap(bioerr.InvalidLocus, "Parse", err)
		}
		if end < start {
			return nil, bioerr.New(bioerr.InvalidLocus, "Parse", "range end before start: "+token)
		}
		return &Locus{Chromosome: chrom, Start: start, End: end + 1}, nil
	}

	if m := pointRe.FindStringSubmatch(token); m != nil {
		chrom, ok := normalizeChromosome(m[1])
		if !ok {
			return nil, bioerr.New(bioerr.InvalidLocus, "Parse", "unknown chromosome: "+m[1])
		}
		pos, err := strconv.ParseInt(m[2], 10, 64)
		if err != nil {
			return nil, bioerr.Wrap(bioerr.InvalidLocus, "Parse", err)
		}
		return &Locus{Chromosome: chrom, Start: pos, End: pos + 1}, nil
	}

	if m := chromOnlyRe.FindStringSubmatch(token); m != nil {
		if chrom, ok := normalizeChromosome(m[1]); ok {
			// Whole-chromosome locus: unbounded range on that chromosome.
			return &Locus{Chromosome: chrom, Start: 0, End: maxLocusEnd}, nil
		}
	}

	// Not a recognized chromosome-shaped token: treat as a gene name.
	if resolver == nil {
		return nil, bioerr.New(bioerr.UnknownLocus, "Parse", "no gene resolver configured for: "+token)
	}
	chrom, start, end, err := resolver.ResolveGene(token)
	if err != nil {
		return nil, bioerr.Wrap(bioerr.UnknownLocus, "Parse", err)
	}
	normChrom, ok := normalizeChromosome(chrom)
	if !ok {
		return nil, bioerr.New(bioerr.UnknownLocus, "Parse", "gene resolver returned unknown chromosome: "+chrom)
	}
	return &Locus{Chromosome: normChrom, Start: start, End: end}, nil
}

// maxLocusEnd stands in for "rest of chromosome" when only a bare
// chromosome name is given; chromosome lengths live with the gene
// resolver collaborator, not the indexing core.
const maxLocusEnd = int64(1) << 62

// normalizeChromosome normalizes a chromosome token to uppercase and
// validates it against the accepted vocabulary (1-22, X, Y, XY, MT).
func normalizeChromosome(raw string) (string, bool) {
	up := strings.ToUpper(raw)
	if validChroms[up] {
		return up, true
	}
	return "", false
}
