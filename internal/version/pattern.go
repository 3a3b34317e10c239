package version

import (
	"fmt"
	"regexp"
)

// Pattern is a per-project accepted-tag pattern. The first capture group must
// match the numeric version tuple; an optional second group captures a
// qualifier suffix. Tags that do not match are dropped, never errors: upstream
// feeds routinely mix release tags with nightlies and helper tags.
type Pattern struct {
	re *regexp.Regexp
}

// CompilePattern compiles expr into a Pattern. The expression must contain at
// least one capture group for the numeric tuple.
func CompilePattern(expr string) (Pattern, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return Pattern{}, fmt.Errorf("compile tag pattern %q: %w", expr, err)
	}
	if re.NumSubexp() < 1 {
		return Pattern{}, fmt.Errorf("tag pattern %q needs a capture group for the version tuple", expr)
	}
	return Pattern{re: re}, nil
}

// MustCompilePattern is CompilePattern for static defaults; it panics on error.
func MustCompilePattern(expr string) Pattern {
	p, err := CompilePattern(expr)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the source expression of the pattern.
func (p Pattern) String() string {
	if p.re == nil {
		return ""
	}
	return p.re.String()
}

// Match normalizes a raw upstream tag against the pattern. It returns the
// parsed version and true on a match, or the zero Version and false for tags
// that should be dropped.
func (p Pattern) Match(rawTag string) (Version, bool) {
	if p.re == nil {
		return Version{}, false
	}

	groups := p.re.FindStringSubmatch(rawTag)
	if groups == nil {
		return Version{}, false
	}

	parsed, err := Parse(groups[1])
	if err != nil {
		return Version{}, false
	}

	if len(groups) > 2 && groups[2] != "" {
		parsed = parsed.WithSuffix(groups[2])
	}

	return parsed, true
}
