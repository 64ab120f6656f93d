package match

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RequiresIncludes(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrNoIncludes)
}

func TestNew_RejectsInvalidPattern(t *testing.T) {
	_, err := New(Config{Includes: []string{"genomes/[unclosed"}})
	require.Error(t, err)

	var perr *PatternError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "genomes/[unclosed", perr.Pattern)
	assert.ErrorIs(t, err, ErrInvalidPattern)
}

func TestMatch_IncludeAndExclude(t *testing.T) {
	m, err := New(Config{
		Includes: []string{"genomes/variants/**/*.ndjson"},
		Excludes: []string{"genomes/variants/staging/**"},
	})
	require.NoError(t, err)

	assert.True(t, m.Match("genomes/variants/chr8/part-000.ndjson"))
	assert.False(t, m.Match("genomes/variants/staging/part-000.ndjson"), "excluded subtree")
	assert.False(t, m.Match("genomes/regions/chr8/part-000.ndjson"), "outside every include")
	assert.False(t, m.Match("genomes/variants/chr8/part-000.csv"), "wrong extension")
}

func TestMatch_MultipleIncludes(t *testing.T) {
	m, err := New(Config{Includes: []string{"a/**", "b/**"}})
	require.NoError(t, err)

	assert.True(t, m.Match("a/x.ndjson"))
	assert.True(t, m.Match("b/y.ndjson"))
	assert.False(t, m.Match("c/z.ndjson"))
}

func TestMatch_DotSegmentsNeverInScope(t *testing.T) {
	m, err := New(Config{Includes: []string{"**"}})
	require.NoError(t, err)

	assert.False(t, m.Match(".bioindex-preflight/probe"))
	assert.False(t, m.Match("genomes/.staging/part.ndjson"))
	assert.True(t, m.Match("genomes/variants/part.ndjson"))
}

func TestNarrowListing(t *testing.T) {
	tests := []struct {
		name        string
		includes    []string
		indexPrefix string
		want        string
	}{
		{
			name:        "single include under the index prefix narrows",
			includes:    []string{"genomes/variants/chr8/*.ndjson"},
			indexPrefix: "genomes/variants/",
			want:        "genomes/variants/chr8/",
		},
		{
			name:        "include broader than the index prefix keeps it",
			includes:    []string{"**/*.ndjson"},
			indexPrefix: "genomes/variants/",
			want:        "genomes/variants/",
		},
		{
			name:        "disagreeing includes fall back to the index prefix",
			includes:    []string{"genomes/variants/chr8/**", "genomes/variants/chr9/**"},
			indexPrefix: "genomes/variants/",
			want:        "genomes/variants/",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := New(Config{Includes: tt.includes})
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.NarrowListing(tt.indexPrefix))
		})
	}
}
