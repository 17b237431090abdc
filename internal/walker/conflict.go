package walker

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/hdeps/hdeps/internal/requirement"
	"github.com/hdeps/hdeps/internal/version"
)

// Seed is one originally-fed requirement, replayed verbatim by the conflict
// driver each time it re-seeds a walk with a pin prepended.
type Seed struct {
	Requirement requirement.Requirement
	Source      string
}

// ResolvedPin records a conflict the driver resolved by pinning a project
// to one of its conflicting versions.
type ResolvedPin struct {
	Name    requirement.CanonicalName
	Version version.Version
}

// UnresolvedConflict reports a project for which no single pin made the
// conflict disappear.
type UnresolvedConflict struct {
	Name     requirement.CanonicalName
	Versions []version.Version
}

// ConflictReport is the conflict driver's verdict after exhausting every
// conflicted project's candidate pins.
type ConflictReport struct {
	Resolved   []ResolvedPin
	Unresolved []UnresolvedConflict
}

// ResolveConflicts implements spec.md §4.8: after a drain leaves
// KnownConflicts non-empty, for each conflicted project (in the order the
// walk first observed it), try re-seeding the original requirements with
// `name==version` prepended, for each version in that project's conflict
// set in walk-observed order, until one drain no longer reports a conflict
// for that project.
func (w *Walker) ResolveConflicts(ctx context.Context, seeds []Seed) (ConflictReport, error) {
	var report ConflictReport

	// Snapshot names (in walk-observed order) and their conflicting version
	// sets before the replay loop below starts calling Clear(), which would
	// otherwise wipe w.KnownConflicts out from under us.
	names := append([]requirement.CanonicalName(nil), w.conflictOrder...)
	versionsByName := make(map[requirement.CanonicalName][]version.Version, len(names))

	for _, name := range names {
		versionsByName[name] = append([]version.Version(nil), w.KnownConflicts[name]...)
	}

	for _, name := range names {
		versions := versionsByName[name]

		resolved := false

		for _, pin := range versions {
			w.Clear()

			pinReq, err := requirement.Parse(fmt.Sprintf("%s==%s", name, pin.String()))
			if err != nil {
				return report, fmt.Errorf("building pin requirement for %s==%s: %w", name, pin.String(), err)
			}

			w.Feed(pinReq, "pin")

			for _, seed := range seeds {
				w.Feed(seed.Requirement, seed.Source)
			}

			if err := w.Drain(ctx); err != nil {
				// NoMatchingRelease is non-fatal per spec.md §7: this pin
				// just didn't work out (e.g. it excludes some other
				// consumer's specifier), so try the next candidate version
				// instead of abandoning the whole report. Any other error
				// is a genuine external failure and still propagates.
				if errors.Is(err, ErrNoMatchingRelease) {
					continue
				}

				return report, err
			}

			if _, stillConflicted := w.KnownConflicts[name]; !stillConflicted {
				report.Resolved = append(report.Resolved, ResolvedPin{Name: name, Version: pin})
				resolved = true

				break
			}
		}

		if !resolved {
			report.Unresolved = append(report.Unresolved, UnresolvedConflict{Name: name, Versions: versions})
		}
	}

	sort.Slice(report.Unresolved, func(i, j int) bool { return report.Unresolved[i].Name < report.Unresolved[j].Name })

	return report, nil
}
