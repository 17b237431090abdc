package walker

import (
	"errors"
	"fmt"
	"sort"

	"github.com/hdeps/hdeps/internal/markers"
	"github.com/hdeps/hdeps/internal/project"
	"github.com/hdeps/hdeps/internal/requirement"
	"github.com/hdeps/hdeps/internal/version"
)

// ErrNoMatchingRelease is returned when the selector can find no version of
// a project that satisfies both the requirement's specifier and (unless
// overridden) the target interpreter's requires_python constraints.
var ErrNoMatchingRelease = errors.New("no matching release")

// VersionCallback reports the current (already-installed, or otherwise
// pinned) version of a project, if any such hint is known.
type VersionCallback func(name requirement.CanonicalName) (ver string, ok bool)

// candidate pairs a version with its index in the project's ascending
// version list, used as the recency component of the tie-break key.
// recencyIndex is -1 for versions the project never published (private or
// pinned builds admitted only via the current-version callback).
type candidate struct {
	version      version.Version
	recencyIndex int
}

// selectVersion implements spec.md §4.2's six-step selection algorithm.
func selectVersion(
	proj *project.Project,
	req requirement.Requirement,
	env *markers.EnvironmentMarkers,
	alreadyChosen *version.Version,
	currentVersionCallback VersionCallback,
) (version.Version, error) {
	releases := proj.Versions()
	requiresPythonCache := map[string]bool{}

	var candidates []candidate

	seen := map[string]bool{}
	add := func(v version.Version, recencyIndex int) {
		key := v.String()
		if seen[key] {
			return
		}

		seen[key] = true

		candidates = append(candidates, candidate{version: v, recencyIndex: recencyIndex})
	}

	// Step 1: every release whose requires_python admits the target
	// interpreter, not just the most recent one — the specifier filter in
	// Step 5 needs the full set to narrow, not a single pre-picked release.
	var anyCompatible bool

	for i, pv := range releases {
		if requiresPythonAdmits(pv.RequiresPython(), env, requiresPythonCache) {
			anyCompatible = true

			add(pv.Version, i)
		}
	}

	// Step 2: the current-version hint.
	var curVersion *version.Version

	if currentVersionCallback != nil {
		if s, ok := currentVersionCallback(req.Name); ok && s != "" {
			if v, err := version.Parse(s); err == nil {
				curVersion = &v

				if pv, found := proj.Lookup(v); found {
					if requiresPythonAdmits(pv.RequiresPython(), env, requiresPythonCache) {
						add(v, recencyIndexOf(releases, v))
					}
				} else {
					// Non-public version: admitted unconditionally.
					add(v, -1)
				}
			}
		}
	}

	// Step 3: the already-chosen version from a prior visit this drain.
	if alreadyChosen != nil {
		add(*alreadyChosen, recencyIndexOf(releases, *alreadyChosen))
	}

	// Step 4: fail fast, distinguishing the two "nothing compatible" cases.
	if len(candidates) == 0 {
		if !anyCompatible && anySpecifierMatch(releases, req.Specifier) {
			return version.Version{}, fmt.Errorf("%s: %w: no release is compatible with python %s",
				req.Name, ErrNoMatchingRelease, env.PythonFullVersion)
		}

		return version.Version{}, fmt.Errorf("%s: %w: specifier %q admits no releases",
			req.Name, ErrNoMatchingRelease, req.Specifier.String())
	}

	// Step 5: re-filter the small candidate set through the requirement's
	// specifier, which also governs prerelease inclusion.
	var filtered []candidate

	for _, c := range candidates {
		if req.Specifier.Check(c.version) {
			filtered = append(filtered, c)
		}
	}

	if len(filtered) == 0 {
		return version.Version{}, fmt.Errorf("%s: %w: specifier %q excludes every interpreter-compatible candidate",
			req.Name, ErrNoMatchingRelease, req.Specifier.String())
	}

	// Step 6: composite tie-break (equals already_chosen, equals cur,
	// recency, version), ascending; take the last (best) entry.
	sort.SliceStable(filtered, func(i, j int) bool {
		a, b := filtered[i], filtered[j]

		aChosen, bChosen := matches(alreadyChosen, a.version), matches(alreadyChosen, b.version)
		if aChosen != bChosen {
			return !aChosen
		}

		aCur, bCur := matches(curVersion, a.version), matches(curVersion, b.version)
		if aCur != bCur {
			return !aCur
		}

		if a.recencyIndex != b.recencyIndex {
			return a.recencyIndex < b.recencyIndex
		}

		return a.version.Compare(b.version) < 0
	})

	return filtered[len(filtered)-1].version, nil
}

func matches(v *version.Version, candidate version.Version) bool {
	return v != nil && v.Compare(candidate) == 0
}

func recencyIndexOf(releases []*project.ProjectVersion, v version.Version) int {
	for i, pv := range releases {
		if pv.Version.Compare(v) == 0 {
			return i
		}
	}

	return -1
}

func anySpecifierMatch(releases []*project.ProjectVersion, spec version.Specifiers) bool {
	for _, pv := range releases {
		if spec.Check(pv.Version) {
			return true
		}
	}

	return false
}

// requiresPythonAdmits reports whether a release's requires_python string
// admits the environment's interpreter, caching per distinct string. An
// absent or invalid specifier admits everything; an invalid one is accepted
// silently, without any log record.
func requiresPythonAdmits(requiresPython string, env *markers.EnvironmentMarkers, cache map[string]bool) bool {
	if requiresPython == "" {
		return true
	}

	if v, ok := cache[requiresPython]; ok {
		return v
	}

	spec, err := version.ParseSpecifiers(requiresPython)
	if err != nil {
		cache[requiresPython] = true

		return true
	}

	full, err := version.Parse(env.PythonFullVersion)
	if err != nil {
		cache[requiresPython] = true

		return true
	}

	admits := spec.Check(full)
	cache[requiresPython] = admits

	return admits
}
