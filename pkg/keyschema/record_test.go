package keyschema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeRecord(t *testing.T, s string) map[string]json.RawMessage {
	t.Helper()
	var rec map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(s), &rec))
	return rec
}

func TestExtractLocus_Point(t *testing.T) {
	spec, err := Parse("phenotype,chromosome:position")
	require.NoError(t, err)

	rec := decodeRecord(t, `{"phenotype":"T2D","chromosome":"chr7","position":140453}`)
	lv, err := ExtractLocus(rec, spec.Locus)
	require.NoError(t, err)
	assert.Equal(t, "chr7", lv.Chromosome, "plain chrom/start/end fields are stored verbatim, unlike the template form which normalizes via locus.Parse")
	assert.EqualValues(t, 140453, lv.Start)
	assert.EqualValues(t, 140454, lv.End)
}

func TestExtractLocus_Range(t *testing.T) {
	spec, err := Parse("sampleId,chrom:start-end")
	require.NoError(t, err)

	rec := decodeRecord(t, `{"sampleId":"s1","chrom":"1","start":100,"end":200}`)
	lv, err := ExtractLocus(rec, spec.Locus)
	require.NoError(t, err)
	assert.Equal(t, "1", lv.Chromosome)
	assert.EqualValues(t, 100, lv.Start)
	assert.EqualValues(t, 200, lv.End)
}

func TestExtractLocus_Template(t *testing.T) {
	spec, err := Parse("varId=$chrom:$start-$end")
	require.NoError(t, err)

	rec := decodeRecord(t, `{"varId":"3:500-600"}`)
	lv, err := ExtractLocus(rec, spec.Locus)
	require.NoError(t, err)
	assert.Equal(t, "3", lv.Chromosome)
	assert.EqualValues(t, 500, lv.Start)
}

func TestExtractLocus_MissingField(t *testing.T) {
	spec, err := Parse("phenotype,chromosome:position")
	require.NoError(t, err)

	rec := decodeRecord(t, `{"phenotype":"T2D"}`)
	_, err = ExtractLocus(rec, spec.Locus)
	require.Error(t, err)
	var mf *ErrMissingField
	require.ErrorAs(t, err, &mf)
	assert.Equal(t, "chromosome", mf.Field)
}

func TestExtractLocus_NullField(t *testing.T) {
	spec, err := Parse("phenotype,chromosome:position")
	require.NoError(t, err)

	rec := decodeRecord(t, `{"phenotype":"T2D","chromosome":null,"position":5}`)
	_, err = ExtractLocus(rec, spec.Locus)
	require.Error(t, err)
	var mf *ErrMissingField
	require.ErrorAs(t, err, &mf)
}

func TestScalarToString_NumbersFormatWithoutTrailingZeros(t *testing.T) {
	raw := json.RawMessage(`1.0`)
	s, err := ScalarToString(raw)
	require.NoError(t, err)
	assert.Equal(t, "1", s)
}

func TestScalarToString_String(t *testing.T) {
	raw := json.RawMessage(`"rs12345"`)
	s, err := ScalarToString(raw)
	require.NoError(t, err)
	assert.Equal(t, "rs12345", s)
}

func TestScalarToString_UnsupportedType(t *testing.T) {
	raw := json.RawMessage(`{"nested":true}`)
	_, err := ScalarToString(raw)
	require.Error(t, err)
}
