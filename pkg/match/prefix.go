package match

import "strings"

// DerivePrefix returns the longest static key prefix of a glob pattern,
// cut back to a whole path segment. Listing a bucket with this prefix
// retrieves a superset of what the pattern matches, so a scoped build
// can skip objects the Matcher would reject without ever seeing them.
//
//	genomes/variants/**/*.ndjson  -> genomes/variants/
//	*.ndjson                      -> ""
//	genomes/chr[12]/part.ndjson   -> genomes/
//	genomes/exact.ndjson          -> genomes/exact.ndjson
//
// A backslash escapes the metacharacter after it, keeping it literal:
// `genomes/a\*b/*.ndjson` derives `genomes/a*b/` (object keys carry the
// raw asterisk, not the escape).
func DerivePrefix(pattern string) string {
	if pattern == "" {
		return ""
	}

	meta := firstMeta(pattern)
	if meta == -1 {
		return unescape(pattern)
	}
	if meta == 0 {
		return ""
	}

	// A partial trailing segment ("genomes/chr" from "genomes/chr*")
	// would under-list siblings like "genomes/chrX" vs over-list; keep
	// only whole segments.
	head := pattern[:meta]
	slash := strings.LastIndex(head, "/")
	if slash < 0 {
		return ""
	}
	return unescape(head[:slash+1])
}

// firstMeta returns the offset of the first unescaped glob
// metacharacter, or -1 when the pattern is fully literal.
func firstMeta(pattern string) int {
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		if c == '\\' && i+1 < len(pattern) {
			i++
			continue
		}
		switch c {
		case '*', '?', '[', '{':
			return i
		}
	}
	return -1
}

// unescape strips escape backslashes, yielding the raw key characters a
// listing prefix must carry.
func unescape(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
