// Package requirement parses PEP 508 dependency specifiers and PEP 503
// project names.
package requirement

import (
	"fmt"
	"strings"

	"github.com/hdeps/hdeps/internal/markers"
	"github.com/hdeps/hdeps/internal/version"
)

// CanonicalName is a PEP 503 normalized project name.
type CanonicalName string

// Canonicalize lowercases name and collapses runs of '-', '_', '.' into a
// single '-'.
func Canonicalize(name string) CanonicalName {
	name = strings.ToLower(name)

	var b strings.Builder

	prevSep := false

	for i := 0; i < len(name); i++ {
		switch name[i] {
		case '-', '_', '.':
			if !prevSep {
				b.WriteByte('-')
				prevSep = true
			}
		default:
			b.WriteByte(name[i])
			prevSep = false
		}
	}

	return CanonicalName(b.String())
}

// Requirement is a parsed PEP 508 requirement line.
type Requirement struct {
	Name      CanonicalName
	Extras    []string
	Specifier version.Specifiers
	Marker    *markers.Expr
	Raw       string
}

// Parse parses a PEP 508 requirement string such as
// `importlib-metadata>=3.6.0; python_version < "3.10"`.
//
// Direct URL references (`name @ url`) are rejected: spec.md's Non-goals
// explicitly exclude non-simple requirement lines.
func Parse(s string) (Requirement, error) {
	raw := s

	nameSpec, markerStr, _ := strings.Cut(s, ";")
	nameSpec = strings.TrimSpace(nameSpec)
	markerStr = strings.TrimSpace(markerStr)

	if strings.Contains(nameSpec, "@") {
		return Requirement{}, fmt.Errorf("parsing requirement %q: direct URL references are not supported", raw)
	}

	name, extras, specifierStr, err := splitNameExtrasSpecifier(nameSpec)
	if err != nil {
		return Requirement{}, fmt.Errorf("parsing requirement %q: %w", raw, err)
	}

	specifier, err := version.ParseSpecifiers(specifierStr)
	if err != nil {
		return Requirement{}, fmt.Errorf("parsing requirement %q: %w", raw, err)
	}

	var marker *markers.Expr

	if markerStr != "" {
		marker, err = markers.Parse(markerStr)
		if err != nil {
			return Requirement{}, fmt.Errorf("parsing requirement %q: %w", raw, err)
		}
	}

	return Requirement{
		Name:      Canonicalize(name),
		Extras:    extras,
		Specifier: specifier,
		Marker:    marker,
		Raw:       raw,
	}, nil
}

// splitNameExtrasSpecifier splits "name[extra1,extra2] (>=1.0,<2.0)" into its
// three parts, stripping parentheses around the specifier if present.
func splitNameExtrasSpecifier(nameSpec string) (name string, extras []string, specifier string, err error) {
	rest := nameSpec

	if idx := strings.IndexByte(rest, '['); idx >= 0 {
		end := strings.IndexByte(rest[idx:], ']')
		if end < 0 {
			return "", nil, "", fmt.Errorf("unterminated extras list")
		}

		end += idx

		name = strings.TrimSpace(rest[:idx])

		extrasList := rest[idx+1 : end]
		for _, e := range strings.Split(extrasList, ",") {
			e = strings.TrimSpace(e)
			if e != "" {
				extras = append(extras, e)
			}
		}

		rest = strings.TrimSpace(rest[end+1:])
	} else {
		specStart := strings.IndexAny(rest, "><=!~(")
		if specStart < 0 {
			return strings.TrimSpace(rest), nil, "", nil
		}

		name = strings.TrimSpace(rest[:specStart])
		rest = strings.TrimSpace(rest[specStart:])
	}

	rest = strings.TrimPrefix(rest, "(")
	rest = strings.TrimSuffix(rest, ")")

	return name, extras, strings.TrimSpace(rest), nil
}
