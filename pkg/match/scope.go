// Package match filters shard object keys against glob scope patterns.
// A build normally ingests every object under its index's prefix; a
// scope narrows that to the shards an operator actually wants indexed,
// without registering a second index.
package match

import (
	"errors"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Config declares a build scope. A shard key is in scope when it
// matches at least one include pattern and no exclude pattern.
type Config struct {
	// Includes are doublestar glob patterns; at least one is required.
	Includes []string

	// Excludes remove keys an include matched. Optional.
	Excludes []string
}

var (
	// ErrNoIncludes is returned when a Config has no include patterns.
	ErrNoIncludes = errors.New("at least one include pattern is required")

	// ErrInvalidPattern is returned when a pattern fails to compile.
	ErrInvalidPattern = errors.New("invalid glob pattern")
)

// PatternError carries the offending pattern alongside the cause.
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return "pattern " + e.Pattern + ": " + e.Err.Error()
}

func (e *PatternError) Unwrap() error {
	return e.Err
}

// Matcher evaluates a compiled scope against shard keys. Safe for
// concurrent use once constructed, so one Matcher serves a whole
// builder worker pool.
type Matcher struct {
	includes []string
	excludes []string
}

// New validates every pattern in cfg and returns a Matcher for it.
func New(cfg Config) (*Matcher, error) {
	if len(cfg.Includes) == 0 {
		return nil, ErrNoIncludes
	}
	for _, p := range append(append([]string{}, cfg.Includes...), cfg.Excludes...) {
		if !doublestar.ValidatePattern(p) {
			return nil, &PatternError{Pattern: p, Err: ErrInvalidPattern}
		}
	}
	return &Matcher{
		includes: append([]string{}, cfg.Includes...),
		excludes: append([]string{}, cfg.Excludes...),
	}, nil
}

// Match reports whether key is in scope. Keys with a dot-prefixed path
// segment are never in scope; sidecar and bookkeeping objects live
// under such segments and must not be fed to the shard scanner.
func (m *Matcher) Match(key string) bool {
	if hasDotSegment(key) {
		return false
	}
	in := false
	for _, p := range m.includes {
		if globMatch(p, key) {
			in = true
			break
		}
	}
	if !in {
		return false
	}
	for _, p := range m.excludes {
		if globMatch(p, key) {
			return false
		}
	}
	return true
}

// NarrowListing returns the listing prefix a scoped build should use:
// the index's own prefix, extended by the scope's static prefix when
// every include pattern agrees on one that falls under it. The listing
// stays correct either way; a longer prefix just skips objects the
// Matcher would reject anyway.
func (m *Matcher) NarrowListing(indexPrefix string) string {
	common := ""
	for i, p := range m.includes {
		derived := DerivePrefix(p)
		if i == 0 {
			common = derived
			continue
		}
		common = commonPrefix(common, derived)
		if common == "" {
			break
		}
	}
	// Keep only whole segments, as DerivePrefix does for one pattern.
	if slash := strings.LastIndex(common, "/"); slash >= 0 {
		common = common[:slash+1]
	} else {
		common = ""
	}
	if len(common) > len(indexPrefix) && strings.HasPrefix(common, indexPrefix) {
		return common
	}
	return indexPrefix
}

func commonPrefix(a, b string) string {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return a[:i]
}

func hasDotSegment(key string) bool {
	for _, seg := range strings.Split(key, "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}

// globMatch applies one already-validated pattern; a pattern error at
// this point means "not matched" rather than a failure.
func globMatch(pattern, key string) bool {
	ok, err := doublestar.Match(pattern, key)
	return err == nil && ok
}
