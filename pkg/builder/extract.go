package builder

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/3leaps/bioindex/pkg/keyschema"
	"github.com/3leaps/bioindex/pkg/locus"
)

// locusValue is the extracted chromosome/start/end for one record, in the
// half-open convention used throughout the index tables.
type locusValue = locus.Locus

// extractResult holds everything one record contributes to the Index
// Table: possibly multiple key-tuple variants (when an interchangeable
// KeyPart has more than one distinct non-null value on this record) and,
// for locus indexes, the parsed locus.
type extractResult struct {
	KeyTuples [][]string
	Locus     *locusValue
}

// errMissingKey is returned (wrapped with field context by the caller)
// when a required key field is absent or null.
type errMissingKey struct {
	field string
}

func (e *errMissingKey) Error() string { return "missing key field: " + e.field }

// extract pulls the key tuple(s) and locus out of one decoded JSON record
// per the Key Spec. A missing required key field returns errMissingKey,
// which the caller treats as a skip-with-warning, not a CorruptShard.
func extract(rec map[string]json.RawMessage, spec *keyschema.KeySpec) (*extractResult, error) {
	variantsPerPart := make([][]string, len(spec.KeyParts))

	for i, kp := range spec.KeyParts {
		values, err := nonNullValues(rec, kp.Fields)
		if err != nil {
			return nil, err
		}
		if len(values) == 0 {
			return nil, &errMissingKey{field: kp.String()}
		}
		variantsPerPart[i] = values
	}

	keyTuples := cartesian(variantsPerPart)

	result := &extractResult{KeyTuples: keyTuples}

	if spec.IsLocus() {
		lv, err := keyschema.ExtractLocus(rec, spec.Locus)
		if err != nil {
			var mf *keyschema.ErrMissingField
			if errors.As(err, &mf) {
				return nil, &errMissingKey{field: mf.Field}
			}
			return nil, err
		}
		result.Locus = lv
	}

	return result, nil
}

// nonNullValues returns every distinct non-null value among the candidate
// fields, in field order. A KeyPart with a single field returns at most
// one value; an interchangeable KeyPart (a|b|...) returns one value per
// distinct non-null alternative present on the record, per the
// "inserts the row once per distinct non-null alternative" rule.
func nonNullValues(rec map[string]json.RawMessage, fields []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, f := range fields {
		raw, ok := rec[f]
		if !ok || isJSONNull(raw) {
			continue
		}
		v, err := keyschema.ScalarToString(raw)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f, err)
		}
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out, nil
}

func isJSONNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// cartesian expands per-KeyPart candidate value lists into the full list
// of key tuples a record contributes, one tuple per combination.
func cartesian(perPart [][]string) [][]string {
	if len(perPart) == 0 {
		return nil
	}
	result := [][]string{{}}
	for _, values := range perPart {
		next := make([][]string, 0, len(result)*len(values))
		for _, prefix := range result {
			for _, v := range values {
				tuple := make([]string, len(prefix), len(prefix)+1)
				copy(tuple, prefix)
				tuple = append(tuple, v)
				next = append(next, tuple)
			}
		}
		result = next
	}
	return result
}
