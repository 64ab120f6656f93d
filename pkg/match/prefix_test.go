package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDerivePrefix(t *testing.T) {
	tests := []struct {
		pattern string
		want    string
	}{
		{"genomes/variants/**/*.ndjson", "genomes/variants/"},
		{"*.ndjson", ""},
		{"genomes/chr[12]/part.ndjson", "genomes/"},
		{"genomes/exact.ndjson", "genomes/exact.ndjson"},
		{"genomes/chr*", "genomes/"},
		{"genomes/", "genomes/"},
		{"", ""},
		{`genomes/a\*b/*.ndjson`, "genomes/a*b/"},
		{`genomes/\[staging\]/**`, "genomes/[staging]/"},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			assert.Equal(t, tt.want, DerivePrefix(tt.pattern))
		})
	}
}
