package walker_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/hdeps/hdeps/internal/markers"
	"github.com/hdeps/hdeps/internal/pypi"
	"github.com/hdeps/hdeps/internal/requirement"
	"github.com/hdeps/hdeps/internal/walker"
)

// release describes one fake project release: its requires-dist metadata
// lives in a CoreMetadata sidecar so fakeClient.GetMetadata can serve it
// without building real wheel/sdist archives.
type release struct {
	version        string
	requiresPython string
	metadataText   string // RFC 5322-style Requires-Dist/Provides-Extra body
	noWheel        bool
}

// fakeClient serves a small fixed universe of projects in memory.
type fakeClient struct {
	projects map[requirement.CanonicalName][]release
	metadata map[string]string // sidecar URL -> RFC 5322-style body

	mu          sync.Mutex
	pageFetches map[requirement.CanonicalName]int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		projects:    map[requirement.CanonicalName][]release{},
		metadata:    map[string]string{},
		pageFetches: map[requirement.CanonicalName]int{},
	}
}

func (f *fakeClient) add(name string, releases ...release) {
	f.projects[requirement.Canonicalize(name)] = releases

	for _, r := range releases {
		if !r.noWheel {
			f.metadata[fmt.Sprintf("https://example.test/%s-%s-py3-none-any.whl", name, r.version)] = r.metadataText
		} else {
			f.metadata[fmt.Sprintf("https://example.test/%s-%s.tar.gz", name, r.version)] = r.metadataText
		}
	}
}

func (f *fakeClient) GetProjectPage(_ context.Context, name string) (*pypi.ProjectPage, error) {
	f.mu.Lock()
	f.pageFetches[requirement.Canonicalize(name)]++
	f.mu.Unlock()

	releases, ok := f.projects[requirement.Canonicalize(name)]
	if !ok {
		return nil, fmt.Errorf("unknown project %q", name)
	}

	page := &pypi.ProjectPage{Name: name}

	for _, r := range releases {
		wheelURL := fmt.Sprintf("https://example.test/%s-%s-py3-none-any.whl", name, r.version)
		sdistURL := fmt.Sprintf("https://example.test/%s-%s.tar.gz", name, r.version)

		if !r.noWheel {
			page.Files = append(page.Files, pypi.File{
				Filename:       fmt.Sprintf("%s-%s-py3-none-any.whl", name, r.version),
				URL:            wheelURL,
				RequiresPython: r.requiresPython,
				CoreMetadata:   true,
			})
		}

		page.Files = append(page.Files, pypi.File{
			Filename:       fmt.Sprintf("%s-%s.tar.gz", name, r.version),
			URL:            sdistURL,
			RequiresPython: r.requiresPython,
			CoreMetadata:   r.noWheel,
		})
	}

	return page, nil
}

func (f *fakeClient) GetMetadata(_ context.Context, fileURL string) (string, error) {
	text, ok := f.metadata[fileURL]
	if !ok {
		return "", fmt.Errorf("no sidecar for %s", fileURL)
	}

	return text, nil
}

func testEnv(t *testing.T) *markers.EnvironmentMarkers {
	t.Helper()

	env, err := markers.New("3.12.0")
	if err != nil {
		t.Fatalf("markers.New: %v", err)
	}

	return env
}

func TestFeedAndDrainBuildsGraph(t *testing.T) {
	client := newFakeClient()
	client.add("flask", release{version: "3.0.0", metadataText: "Requires-Dist: click>=8.0\n"})
	client.add("click", release{version: "8.1.0", metadataText: ""})

	w := walker.New(client, testEnv(t))

	req, err := requirement.Parse("flask")
	if err != nil {
		t.Fatalf("requirement.Parse: %v", err)
	}

	w.Feed(req, "test")

	if err := w.Drain(context.Background()); err != nil {
		t.Fatalf("Drain() error: %v", err)
	}

	root := w.Root()
	if len(root.Deps) != 1 {
		t.Fatalf("expected 1 top-level dep, got %d", len(root.Deps))
	}

	flask := root.Deps[0].Target
	if flask.Version.String() != "3.0.0" {
		t.Errorf("expected flask==3.0.0, got %s", flask.Version.String())
	}

	if len(flask.Deps) != 1 || flask.Deps[0].Target.Name != "click" {
		t.Fatalf("expected flask to depend on click, got %+v", flask.Deps)
	}

	if flask.Deps[0].Target.Version.String() != "8.1.0" {
		t.Errorf("expected click==8.1.0, got %s", flask.Deps[0].Target.Version.String())
	}
}

func TestFeedSkipsRequirementsWhoseMarkerDoesNotMatch(t *testing.T) {
	client := newFakeClient()
	client.add("winonly", release{version: "1.0.0"})

	w := walker.New(client, testEnv(t))

	req, err := requirement.Parse(`winonly; sys_platform == "win32"`)
	if err != nil {
		t.Fatalf("requirement.Parse: %v", err)
	}

	w.Feed(req, "test")

	if err := w.Drain(context.Background()); err != nil {
		t.Fatalf("Drain() error: %v", err)
	}

	if len(w.Root().Deps) != 0 {
		t.Errorf("expected the marker-excluded requirement to be skipped, got %+v", w.Root().Deps)
	}
}

func TestDrainDetectsConflict(t *testing.T) {
	client := newFakeClient()
	client.add("a", release{version: "1.0.0", metadataText: "Requires-Dist: shared==1.0.0\n"})
	client.add("b", release{version: "1.0.0", metadataText: "Requires-Dist: shared==2.0.0\n"})
	client.add("shared", release{version: "1.0.0"}, release{version: "2.0.0"})

	w := walker.New(client, testEnv(t))

	for _, name := range []string{"a", "b"} {
		req, err := requirement.Parse(name)
		if err != nil {
			t.Fatalf("requirement.Parse(%q): %v", name, err)
		}

		w.Feed(req, "test")
	}

	if err := w.Drain(context.Background()); err != nil {
		t.Fatalf("Drain() error: %v", err)
	}

	versions, ok := w.KnownConflicts["shared"]
	if !ok {
		t.Fatal("expected a known conflict for \"shared\"")
	}

	if len(versions) != 2 {
		t.Errorf("expected 2 conflicting versions recorded, got %d: %v", len(versions), versions)
	}
}

func TestResolveConflictsReportsAGenuinelyIrreconcilableConflict(t *testing.T) {
	// a and b pin shared to mutually exclusive exact versions: no single
	// replay pin can satisfy both specifiers at once, so every candidate
	// pin the driver tries must still leave the conflict in place.
	client := newFakeClient()
	client.add("a", release{version: "1.0.0", metadataText: "Requires-Dist: shared==1.0.0\n"})
	client.add("b", release{version: "1.0.0", metadataText: "Requires-Dist: shared==2.0.0\n"})
	client.add("shared", release{version: "1.0.0"}, release{version: "2.0.0"})

	w := walker.New(client, testEnv(t))

	var seeds []walker.Seed

	for _, name := range []string{"a", "b"} {
		req, err := requirement.Parse(name)
		if err != nil {
			t.Fatalf("requirement.Parse(%q): %v", name, err)
		}

		w.Feed(req, "test")

		seeds = append(seeds, walker.Seed{Requirement: req, Source: "test"})
	}

	if err := w.Drain(context.Background()); err != nil {
		t.Fatalf("Drain() error: %v", err)
	}

	if _, ok := w.KnownConflicts["shared"]; !ok {
		t.Fatal("expected the fixture's exact-version specifiers to conflict")
	}

	report, err := w.ResolveConflicts(context.Background(), seeds)
	if err != nil {
		t.Fatalf("ResolveConflicts() error: %v", err)
	}

	if len(report.Unresolved) != 1 || report.Unresolved[0].Name != "shared" {
		t.Fatalf("expected \"shared\" reported unresolved, got resolved=%+v unresolved=%+v", report.Resolved, report.Unresolved)
	}
}

func TestMemoizationSharesOneFetchPerProject(t *testing.T) {
	client := newFakeClient()
	client.add("shared", release{version: "1.0.0"})
	client.add("a", release{version: "1.0.0", metadataText: "Requires-Dist: shared\n"})
	client.add("b", release{version: "1.0.0", metadataText: "Requires-Dist: shared\n"})

	w := walker.New(client, testEnv(t))

	for _, name := range []string{"a", "b"} {
		req, err := requirement.Parse(name)
		if err != nil {
			t.Fatalf("requirement.Parse(%q): %v", name, err)
		}

		w.Feed(req, "test")
	}

	if err := w.Drain(context.Background()); err != nil {
		t.Fatalf("Drain() error: %v", err)
	}

	root := w.Root()
	if len(root.Deps) != 2 {
		t.Fatalf("expected 2 top-level deps, got %d", len(root.Deps))
	}

	for _, e := range root.Deps {
		if len(e.Target.Deps) != 1 || e.Target.Deps[0].Target.Name != "shared" {
			t.Errorf("expected %s to depend on shared, got %+v", e.Target.Name, e.Target.Deps)
		}
	}

	client.mu.Lock()
	sharedFetches := client.pageFetches["shared"]
	client.mu.Unlock()

	if sharedFetches != 1 {
		t.Errorf("expected exactly 1 project-page fetch for shared, got %d", sharedFetches)
	}
}
