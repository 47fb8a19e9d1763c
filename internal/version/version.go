// Package version implements the semantic version comparisons used for
// server-advertised SDK version requirements.
package version

import (
	"strconv"
	"strings"
)

// Version is a parsed semantic version.
type Version struct {
	Major int
	Minor int
	Patch int
}

// Parse parses "major.minor.patch". Missing components default to zero;
// pre-release and build suffixes are ignored.
func Parse(s string) (Version, bool) {
	s = strings.TrimPrefix(s, "v")
	if i := strings.IndexAny(s, "-+"); i >= 0 {
		s = s[:i]
	}

	parts := strings.Split(s, ".")
	if len(parts) == 0 || parts[0] == "" {
		return Version{}, false
	}

	var v Version
	fields := []*int{&v.Major, &v.Minor, &v.Patch}
	for i, part := range parts {
		if i >= len(fields) {
			break
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return Version{}, false
		}
		*fields[i] = n
	}

	return v, true
}

// Compare returns -1, 0, or 1 as v orders before, equal to, or after o.
func (v Version) Compare(o Version) int {
	pairs := [][2]int{{v.Major, o.Major}, {v.Minor, o.Minor}, {v.Patch, o.Patch}}
	for _, p := range pairs {
		if p[0] < p[1] {
			return -1
		}
		if p[0] > p[1] {
			return 1
		}
	}
	return 0
}

// IsLessThan reports whether the version string a orders before b.
// Unparseable inputs compare as not-less.
func IsLessThan(a, b string) bool {
	va, ok1 := Parse(a)
	vb, ok2 := Parse(b)
	if !ok1 || !ok2 {
		return false
	}
	return va.Compare(vb) < 0
}

// IsAtLeast reports whether the version string a orders at or after b.
func IsAtLeast(a, b string) bool {
	va, ok1 := Parse(a)
	vb, ok2 := Parse(b)
	if !ok1 || !ok2 {
		return false
	}
	return va.Compare(vb) >= 0
}
