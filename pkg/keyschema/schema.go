// Package keyschema compiles an index's textual schema string into a
// structured Key Spec: an ordered list of KeyParts followed by an
// optional LocusPart.
package keyschema

import (
	"strings"

	"github.com/3leaps/bioindex/pkg/bioerr"
)

// KeyPart is a single schema position: one field name, or a disjunction
// of interchangeable field names joined by '|'.
type KeyPart struct {
	// Fields holds one entry for a plain key, or multiple for "a|b" forms.
	Fields []string
}

// Interchangeable reports whether this KeyPart has more than one field.
func (k KeyPart) Interchangeable() bool {
	return len(k.Fields) > 1
}

// String renders the KeyPart back to schema form (e.g. "a|b").
func (k KeyPart) String() string {
	return strings.Join(k.Fields, "|")
}

// LocusKind identifies the shape of a LocusPart.
type LocusKind int

const (
	// LocusPoint is "chrom:pos": two plain fields.
	LocusPoint LocusKind = iota
	// LocusRange is "chrom:start-end": three plain fields.
	LocusRange
	// LocusTemplate is "name=$chrom:$pos" or "name=$chrom:$start-$end":
	// a single composite field that is also an exact KeyPart.
	LocusTemplate
)

// LocusPart describes the (optional) trailing locus position of a Key Spec.
type LocusPart struct {
	Kind LocusKind

	// Plain-field forms (LocusPoint / LocusRange): the source field names.
	ChromField string
	StartField string
	EndField   string // empty for LocusPoint

	// Template form (LocusTemplate): the composite field name, which is
	// also indexed as an exact KeyPart, and whether it carries a range.
	TemplateField string
	TemplateRange bool
}

// KeySpec is the compiled form of a schema string.
type KeySpec struct {
	Raw      string
	KeyParts []KeyPart
	Locus    *LocusPart // nil for an "exact" schema
}

// IsLocus reports whether this Key Spec carries a trailing LocusPart.
func (s *KeySpec) IsLocus() bool {
	return s.Locus != nil
}

// Arity is the number of KeyParts a query must supply one value for;
// a field-template locus's composite field counts, since it is matched
// exactly like any other key.
func (s *KeySpec) Arity() int {
	return len(s.KeyParts)
}

// Parse compiles a schema string such as "phenotype,chromosome:position"
// or "varId" or "gene=$chrom:$start-$end" into a KeySpec.
//
// Errors are MalformedSchema when a locus part appears before a key part,
// when more than one locus part appears, or when a key part is empty.
func Parse(schema string) (*KeySpec, error) {
	raw := schema
	schema = strings.TrimSpace(schema)
	if schema == "" {
		return nil, bioerr.New(bioerr.MalformedSchema, "Parse", "schema is empty")
	}

	segments := strings.Split(schema, ",")
	spec := &KeySpec{Raw: raw}

	for i, seg := range segments {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			return nil, bioerr.New(bioerr.MalformedSchema, "Parse", "empty key part")
		}

		locus, isLocus, err := parseLocusSegment(seg)
		if err != nil {
			return nil, err
		}

		if isLocus {
			if spec.Locus != nil {
				return nil, bioerr.New(bioerr.MalformedSchema, "Parse", "more than one locus part")
			}
			if i != len(segments)-1 {
				return nil, bioerr.New(bioerr.MalformedSchema, "Parse", "locus part must be last")
			}
			spec.Locus = locus
			if locus.Kind == LocusTemplate {
				spec.KeyParts = append(spec.KeyParts, KeyPart{Fields: []string{locus.TemplateField}})
			}
			continue
		}

		part, err := parseKeyPartSegment(seg)
		if err != nil {
			return nil, err
		}
		spec.KeyParts = append(spec.KeyParts, part)
	}

	if len(spec.KeyParts) == 0 && spec.Locus == nil {
		return nil, bioerr.New(bioerr.MalformedSchema, "Parse", "schema has no key parts")
	}

	return spec, nil
}

// parseKeyPartSegment parses a plain (non-locus) segment, handling the
// "a|b" interchangeable-key disjunction form.
func parseKeyPartSegment(seg string) (KeyPart, error) {
	fields := strings.Split(seg, "|")
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			return KeyPart{}, bioerr.New(bioerr.MalformedSchema, "Parse", "empty field name in key part: "+seg)
		}
		out = append(out, f)
	}
	return KeyPart{Fields: out}, nil
}

// parseLocusSegment detects and parses the three locus forms:
//
//	chrom:position
//	chrom:start-end
//	name=$chrom:$position           (field-template, exact match + derived locus)
//	name=$chrom:$start-$end
//
// A segment is a locus segment only if it contains ':' or a template '='.
// Plain field names never contain these characters in valid schemas, so
// their presence disambiguates a locus segment from a key part.
func parseLocusSegment(seg string) (*LocusPart, bool, error) {
	if strings.Contains(seg, "=$") {
		eq := strings.Index(seg, "=$")
		field := strings.TrimSpace(seg[:eq])
		if field == "" {
			return nil, true, bioerr.New(bioerr.MalformedSchema, "Parse", "field-template locus missing field name: "+seg)
		}
		tmpl := seg[eq+1:] // "$chrom:$pos" or "$chrom:$start-$end"
		chromField, startField, endField, hasRange, err := parseTemplateLocusFields(tmpl)
		if err != nil {
			return nil, true, err
		}
		return &LocusPart{
			Kind:          LocusTemplate,
			ChromField:    chromField,
			StartField:    startField,
			EndField:      endField,
			TemplateField: field,
			TemplateRange: hasRange,
		}, true, nil
	}

	if !strings.Contains(seg, ":") {
		return nil, false, nil
	}

	parts := strings.SplitN(seg, ":", 2)
	chromField := strings.TrimSpace(parts[0])
	rest := strings.TrimSpace(parts[1])
	if chromField == "" || rest == "" {
		return nil, true, bioerr.New(bioerr.MalformedSchema, "Parse", "malformed locus part: "+seg)
	}

	if strings.Contains(rest, "-") {
		sub := strings.SplitN(rest, "-", 2)
		startField := strings.TrimSpace(sub[0])
		endField := strings.TrimSpace(sub[1])
		if startField == "" || endField == "" {
			return nil, true, bioerr.New(bioerr.MalformedSchema, "Parse", "malformed range locus part: "+seg)
		}
		return &LocusPart{Kind: LocusRange, ChromField: chromField, StartField: startField, EndField: endField}, true, nil
	}

	return &LocusPart{Kind: LocusPoint, ChromField: chromField, StartField: rest}, true, nil
}

// parseTemplateLocusFields parses the "$chrom:$pos" / "$chrom:$start-$end"
// template payload that follows "name=".
func parseTemplateLocusFields(tmpl string) (chromField, startField, endField string, hasRange bool, err error) {
	if !strings.HasPrefix(tmpl, "$") {
		return "", "", "", false, bioerr.New(bioerr.MalformedSchema, "Parse", "field-template locus must start with $: "+tmpl)
	}
	if !strings.Contains(tmpl, ":") {
		return "", "", "", false, bioerr.New(bioerr.MalformedSchema, "Parse", "malformed field-template locus: "+tmpl)
	}
	parts := strings.SplitN(tmpl, ":", 2)
	chromField = strings.TrimPrefix(strings.TrimSpace(parts[0]), "$")
	rest := strings.TrimSpace(parts[1])
	rest = strings.TrimPrefix(rest, "$")

	if strings.Contains(rest, "-$") {
		sub := strings.SplitN(rest, "-$", 2)
		startField = strings.TrimSpace(sub[0])
		endField = strings.TrimSpace(sub[1])
		if chromField == "" || startField == "" || endField == "" {
			return "", "", "", false, bioerr.New(bioerr.MalformedSchema, "Parse", "malformed field-template range locus: "+tmpl)
		}
		return chromField, startField, endField, true, nil
	}

	startField = rest
	if chromField == "" || startField == "" {
		return "", "", "", false, bioerr.New(bioerr.MalformedSchema, "Parse", "malformed field-template point locus: "+tmpl)
	}
	return chromField, startField, "", false, nil
}
