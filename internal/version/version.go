// Package version wraps PEP 440 version parsing and specifier matching.
package version

import (
	"fmt"
	"sort"

	pep440 "github.com/aquasecurity/go-pep440-version"
)

// Version is a parsed PEP 440 version, retaining its original textual form
// since go-pep440-version does not expose a canonical String().
type Version struct {
	raw    string
	parsed pep440.Version
}

// Parse parses a PEP 440 version string.
func Parse(s string) (Version, error) {
	v, err := pep440.Parse(s)
	if err != nil {
		return Version{}, fmt.Errorf("parsing version %q: %w", s, err)
	}

	return Version{raw: s, parsed: v}, nil
}

// MustParse parses s, panicking on error. Intended for constants such as the
// walker's sentinel root version.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}

	return v
}

// String returns the version's original textual form.
func (v Version) String() string { return v.raw }

// IsZero reports whether v is the zero Version (never parsed).
func (v Version) IsZero() bool { return v.raw == "" }

// Compare returns -1, 0, or 1 depending on whether v sorts before, equal to,
// or after other.
func (v Version) Compare(other Version) int {
	return v.parsed.Compare(other.parsed)
}

// Equal reports whether v and other compare equal.
func (v Version) Equal(other Version) bool {
	return v.Compare(other) == 0
}

// GreaterThan reports whether v sorts after other.
func (v Version) GreaterThan(other Version) bool {
	return v.parsed.GreaterThan(other.parsed)
}

// IsPreRelease reports whether v is a PEP 440 pre-release or dev release.
func (v Version) IsPreRelease() bool {
	return v.parsed.IsPreRelease()
}

// Specifiers is a PEP 440 version specifier set (a conjunction of
// constraints), e.g. ">=1.0,<2.0".
type Specifiers struct {
	raw string
	set pep440.Specifiers
}

// ParseSpecifiers parses a PEP 440 specifier set. An empty string matches
// every version.
func ParseSpecifiers(s string) (Specifiers, error) {
	if s == "" {
		return Specifiers{raw: s}, nil
	}

	ss, err := pep440.NewSpecifiers(s)
	if err != nil {
		return Specifiers{}, fmt.Errorf("parsing specifier %q: %w", s, err)
	}

	return Specifiers{raw: s, set: ss}, nil
}

// String returns the specifier set's original textual form.
func (s Specifiers) String() string { return s.raw }

// Empty reports whether the specifier set admits every version (no
// constraints were given).
func (s Specifiers) Empty() bool { return s.raw == "" }

// Check reports whether v satisfies every constraint in the set. Prerelease
// inclusion/exclusion is handled by go-pep440-version's own Check logic, per
// spec: we never re-implement prerelease gating here.
func (s Specifiers) Check(v Version) bool {
	if s.Empty() {
		return true
	}

	return s.set.Check(v.parsed)
}

// Filter returns the subset of candidates admitted by s, preserving order.
func (s Specifiers) Filter(candidates []Version) []Version {
	if s.Empty() {
		out := make([]Version, len(candidates))
		copy(out, candidates)

		return out
	}

	var out []Version

	for _, v := range candidates {
		if s.Check(v) {
			out = append(out, v)
		}
	}

	return out
}

// SortDescending sorts versions highest-first, in place, and also returns
// the slice for convenience.
func SortDescending(versions []Version) []Version {
	sort.Slice(versions, func(i, j int) bool {
		return versions[i].GreaterThan(versions[j])
	})

	return versions
}
