package version

import (
	"fmt"
	"sort"
	"strings"

	semver "github.com/Masterminds/semver/v3"
)

// Version is a parsed upstream release version. Precedence is defined by the
// numeric (major, minor, patch) tuple alone; the suffix is a project-specific
// qualifier (e.g. "limitless") that is carried for identity but never affects
// ordering. Immutable once parsed.
type Version struct {
	major  uint64
	minor  uint64
	patch  uint64
	suffix string
}

// Parse parses a bare numeric version string such as "10.3.1" or "10.3".
// Shorter tuples are zero-padded, so "10.3" equals "10.3.0".
func Parse(raw string) (Version, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Version{}, fmt.Errorf("empty version string")
	}
	// semver.NewVersion tolerates a leading "v", but prefixes are the tag
	// pattern's job to strip; here they are malformed input.
	if raw[0] < '0' || raw[0] > '9' {
		return Version{}, fmt.Errorf("parse version %q: must start with a digit", raw)
	}

	parsed, err := semver.NewVersion(raw)
	if err != nil {
		return Version{}, fmt.Errorf("parse version %q: %w", raw, err)
	}
	if parsed.Prerelease() != "" || parsed.Metadata() != "" {
		return Version{}, fmt.Errorf("parse version %q: qualifiers must be stripped by the tag pattern", raw)
	}

	return Version{
		major: parsed.Major(),
		minor: parsed.Minor(),
		patch: parsed.Patch(),
	}, nil
}

// WithSuffix returns a copy of v carrying the given qualifier suffix.
func (v Version) WithSuffix(suffix string) Version {
	v.suffix = strings.TrimPrefix(suffix, "-")
	return v
}

// Suffix returns the qualifier suffix, empty for plain versions.
func (v Version) Suffix() string {
	return v.suffix
}

// Compare returns -1, 0 or +1 ordering by the numeric tuple only.
func (v Version) Compare(other Version) int {
	for _, pair := range [][2]uint64{
		{v.major, other.major},
		{v.minor, other.minor},
		{v.patch, other.patch},
	} {
		if pair[0] < pair[1] {
			return -1
		}
		if pair[0] > pair[1] {
			return 1
		}
	}
	return 0
}

// LessThan reports whether v orders strictly before other.
func (v Version) LessThan(other Version) bool {
	return v.Compare(other) < 0
}

// GreaterThan reports whether v orders strictly after other.
func (v Version) GreaterThan(other Version) bool {
	return v.Compare(other) > 0
}

// Equal reports full identity: numeric tuple and suffix.
func (v Version) Equal(other Version) bool {
	return v.Compare(other) == 0 && v.suffix == other.suffix
}

// String renders the numeric tuple, e.g. "10.3.1". This is the registry tag
// form; the suffix is intentionally not included.
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.major, v.minor, v.patch)
}

// Release is one qualifying upstream release.
type Release struct {
	RawTag     string
	Version    Version
	Prerelease bool
}

// SortReleasesDesc orders releases by descending version, in place. The order
// of releases with equal numeric tuples is preserved.
func SortReleasesDesc(releases []Release) {
	sort.SliceStable(releases, func(i, j int) bool {
		return releases[i].Version.GreaterThan(releases[j].Version)
	})
}
