package walker

import (
	"log/slog"
	"testing"

	"github.com/hdeps/hdeps/internal/markers"
	"github.com/hdeps/hdeps/internal/project"
	"github.com/hdeps/hdeps/internal/pypi"
	"github.com/hdeps/hdeps/internal/requirement"
	"github.com/hdeps/hdeps/internal/version"
)

// batmanProject builds the spec.md §8 fixture project: two releases, newer
// one unconstrained by requires_python. Used across the selectVersion tests
// below so each only has to vary the requirement/callback under test.
func batmanProject(t *testing.T) *project.Project {
	t.Helper()

	page := &pypi.ProjectPage{
		Name: "batman",
		Files: []pypi.File{
			{Filename: "batman-1.0-py3-none-any.whl", URL: "https://example.test/batman-1.0-py3-none-any.whl"},
			{Filename: "batman-2.0-py3-none-any.whl", URL: "https://example.test/batman-2.0-py3-none-any.whl"},
		},
	}

	return project.FromProjectPage(slog.Default(), page)
}

func testEnvFor(t *testing.T) *markers.EnvironmentMarkers {
	t.Helper()

	env, err := markers.New("3.12.0")
	if err != nil {
		t.Fatalf("markers.New: %v", err)
	}

	return env
}

func parseReq(t *testing.T, s string) requirement.Requirement {
	t.Helper()

	req, err := requirement.Parse(s)
	if err != nil {
		t.Fatalf("requirement.Parse(%q): %v", s, err)
	}

	return req
}

// TestSelectVersionPicksOlderReleaseWhenSpecifierExcludesTheNewest is the
// direct regression test for spec.md §8 Seed Scenario 1: `batman==1` must
// select 1.0 even though 2.0 is newer and equally requires_python-compatible
// (no requires_python is set on either release here). Step 1 of the selector
// must collect every requires_python-admitted release, not just the single
// newest one, or this specifier-driven narrowing has nothing to narrow.
func TestSelectVersionPicksOlderReleaseWhenSpecifierExcludesTheNewest(t *testing.T) {
	proj := batmanProject(t)
	req := parseReq(t, "batman==1")

	v, err := selectVersion(proj, req, testEnvFor(t), nil, nil)
	if err != nil {
		t.Fatalf("selectVersion() error: %v", err)
	}

	if v.String() != "1.0" {
		t.Errorf("expected batman==1 to select 1.0, got %s", v.String())
	}
}

func TestSelectVersionPicksNewestWithNoSpecifier(t *testing.T) {
	proj := batmanProject(t)
	req := parseReq(t, "batman")

	v, err := selectVersion(proj, req, testEnvFor(t), nil, nil)
	if err != nil {
		t.Fatalf("selectVersion() error: %v", err)
	}

	if v.String() != "2.0" {
		t.Errorf("expected bare batman to select the newest release 2.0, got %s", v.String())
	}
}

// TestSelectVersionTieBreakAlreadyChosenDominates is spec.md §8's own
// worked tie-break property: given {v1, v2} with v2 > v1, already_chosen==v1
// wins over recency.
func TestSelectVersionTieBreakAlreadyChosenDominates(t *testing.T) {
	proj := batmanProject(t)
	req := parseReq(t, "batman")

	v1 := version.MustParse("1.0")

	v, err := selectVersion(proj, req, testEnvFor(t), &v1, nil)
	if err != nil {
		t.Fatalf("selectVersion() error: %v", err)
	}

	if v.String() != "1.0" {
		t.Errorf("expected already_chosen 1.0 to dominate recency, got %s", v.String())
	}
}

// TestSelectVersionTieBreakCurrentVersionWinsWithoutAlreadyChosen covers the
// second clause of the same tie-break property: current==v1 wins over
// recency when there is no already_chosen.
func TestSelectVersionTieBreakCurrentVersionWinsWithoutAlreadyChosen(t *testing.T) {
	proj := batmanProject(t)
	req := parseReq(t, "batman")

	cb := func(name requirement.CanonicalName) (string, bool) {
		if name == "batman" {
			return "1.0", true
		}

		return "", false
	}

	v, err := selectVersion(proj, req, testEnvFor(t), nil, cb)
	if err != nil {
		t.Fatalf("selectVersion() error: %v", err)
	}

	if v.String() != "1.0" {
		t.Errorf("expected current-version hint 1.0 to win the tie-break, got %s", v.String())
	}
}

// TestSelectVersionHaveRetainsNonPublicVersion is spec.md §8 Seed Scenario 4:
// --have robin==1.5 against a project that never published 1.5 must still
// admit it (a non-public version reused from an external --have pin).
func TestSelectVersionHaveRetainsNonPublicVersion(t *testing.T) {
	page := &pypi.ProjectPage{
		Name: "robin",
		Files: []pypi.File{
			{Filename: "robin-1.0-py3-none-any.whl", URL: "https://example.test/robin-1.0-py3-none-any.whl"},
			{Filename: "robin-2.0-py3-none-any.whl", URL: "https://example.test/robin-2.0-py3-none-any.whl"},
		},
	}
	proj := project.FromProjectPage(slog.Default(), page)

	req := parseReq(t, "robin>1.0")

	cb := func(name requirement.CanonicalName) (string, bool) {
		if name == "robin" {
			return "1.5", true
		}

		return "", false
	}

	v, err := selectVersion(proj, req, testEnvFor(t), nil, cb)
	if err != nil {
		t.Fatalf("selectVersion() error: %v", err)
	}

	if v.String() != "1.5" {
		t.Errorf("expected the non-public --have version 1.5 to be retained, got %s", v.String())
	}
}

func TestSelectVersionNoInterpreterCompatibleRelease(t *testing.T) {
	page := &pypi.ProjectPage{
		Name: "onlynew",
		Files: []pypi.File{
			{Filename: "onlynew-1.0-py3-none-any.whl", URL: "https://example.test/onlynew-1.0-py3-none-any.whl", RequiresPython: ">=4.0"},
		},
	}
	proj := project.FromProjectPage(slog.Default(), page)

	req := parseReq(t, "onlynew")

	_, err := selectVersion(proj, req, testEnvFor(t), nil, nil)
	if err == nil {
		t.Fatal("expected ErrNoMatchingRelease when no release admits the interpreter")
	}
}

func TestSelectVersionSpecifierExcludesEveryCandidate(t *testing.T) {
	proj := batmanProject(t)
	req := parseReq(t, "batman==9.9")

	_, err := selectVersion(proj, req, testEnvFor(t), nil, nil)
	if err == nil {
		t.Fatal("expected ErrNoMatchingRelease when the specifier admits no release")
	}
}
