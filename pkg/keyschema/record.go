package keyschema

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/3leaps/bioindex/pkg/locus"
)

// ErrMissingField is returned by ExtractLocus when a required locus
// field is absent or JSON null on a record.
type ErrMissingField struct {
	Field string
}

func (e *ErrMissingField) Error() string { return "missing field: " + e.Field }

// Matches reports whether any of kp's candidate fields on rec has a
// non-null value equal to value: the "any interchangeable alternative
// equals the query value" rule, used both to build the query predicate
// and, at read time, as a re-check against row coarseness.
func (kp KeyPart) Matches(rec map[string]json.RawMessage, value string) bool {
	for _, f := range kp.Fields {
		raw, ok := rec[f]
		if !ok || isJSONNull(raw) {
			continue
		}
		v, err := ScalarToString(raw)
		if err != nil {
			continue
		}
		if v == value {
			return true
		}
	}
	return false
}

// ExtractLocus reads the chromosome/start/end a single decoded JSON
// record contributes, according to spec.Locus's kind. It is shared by
// the builder (collapsing runs of records) and the planner (filtering
// a collapsed run's records against a query locus), so both read a
// record's locus identically.
func ExtractLocus(rec map[string]json.RawMessage, lp *LocusPart) (*locus.Locus, error) {
	switch lp.Kind {
	case LocusPoint:
		chrom, err := requiredString(rec, lp.ChromField)
		if err != nil {
			return nil, err
		}
		pos, err := requiredInt(rec, lp.StartField)
		if err != nil {
			return nil, err
		}
		return &locus.Locus{Chromosome: chrom, Start: pos, End: pos + 1}, nil

	case LocusRange:
		chrom, err := requiredString(rec, lp.ChromField)
		if err != nil {
			return nil, err
		}
		start, err := requiredInt(rec, lp.StartField)
		if err != nil {
			return nil, err
		}
		end, err := requiredInt(rec, lp.EndField)
		if err != nil {
			return nil, err
		}
		return &locus.Locus{Chromosome: chrom, Start: start, End: end}, nil

	case LocusTemplate:
		raw, ok := rec[lp.TemplateField]
		if !ok || isJSONNull(raw) {
			return nil, &ErrMissingField{Field: lp.TemplateField}
		}
		s, err := ScalarToString(raw)
		if err != nil {
			return nil, err
		}
		parsed, err := locus.Parse(s, nil)
		if err != nil {
			return nil, err
		}
		return parsed, nil
	}
	return nil, fmt.Errorf("unknown locus kind %v", lp.Kind)
}

func isJSONNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// ScalarToString canonicalizes a JSON scalar to the string form used for
// key-column and locus-field comparisons: numbers are formatted without
// trailing zeros so "1" and "1.0" compare equal.
func ScalarToString(raw json.RawMessage) (string, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	switch t := v.(type) {
	case string:
		return t, nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(t), nil
	default:
		return "", fmt.Errorf("unsupported field type %T", v)
	}
}

func requiredString(rec map[string]json.RawMessage, field string) (string, error) {
	raw, ok := rec[field]
	if !ok || isJSONNull(raw) {
		return "", &ErrMissingField{Field: field}
	}
	return ScalarToString(raw)
}

func requiredInt(rec map[string]json.RawMessage, field string) (int64, error) {
	raw, ok := rec[field]
	if !ok || isJSONNull(raw) {
		return 0, &ErrMissingField{Field: field}
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, fmt.Errorf("field %q: not a number: %w", field, err)
	}
	return int64(f), nil
}
