package walker

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"

	"github.com/hdeps/hdeps/internal/cache"
	"github.com/hdeps/hdeps/internal/markers"
	"github.com/hdeps/hdeps/internal/project"
	"github.com/hdeps/hdeps/internal/pypi"
	"github.com/hdeps/hdeps/internal/reqfile"
	"github.com/hdeps/hdeps/internal/requirement"
	"github.com/hdeps/hdeps/internal/version"
)

// workItem is one pending edge to resolve: a requirement reached by way of
// parent, plus the ancestor-key set that guards against cycles.
type workItem struct {
	parent       *Choice
	name         requirement.CanonicalName
	req          requirement.Requirement
	source       string
	ancestorKeys map[string]struct{}
}

// verKey identifies a ProjectVersion for the metadata memoization map.
type verKey struct {
	name requirement.CanonicalName
	ver  string
}

// Option configures a Walker.
type Option func(*Walker)

// WithParallelism sets the fetch pool's worker count (default 24).
func WithParallelism(n int) Option {
	return func(w *Walker) {
		if n > 0 {
			w.pool = NewPool(n)
		}
	}
}

// WithHTTPClient sets the HTTP client the metadata fetcher uses for ranged
// reads and sdist downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(w *Walker) {
		if c != nil {
			w.httpClient = c
		}
	}
}

// WithCache sets the blob cache backing extracted-metadata lookups.
func WithCache(c cache.Store) Option {
	return func(w *Walker) {
		if c != nil {
			w.cache = c
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Walker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithCurrentVersionCallback registers the --have pin lookup.
func WithCurrentVersionCallback(cb VersionCallback) Option {
	return func(w *Walker) {
		if cb != nil {
			w.currentVersionCallback = cb
		}
	}
}

const defaultParallelism = 24

// Walker turns seed requirements into a DAG of Choices rooted at a sentinel
// node, per spec.md §4.6. The drain loop is the sole mutator of queue,
// chosen, and the graph; background fetches mutate only the memoization
// maps (under mutex) and the blob cache (safe via atomic rename).
type Walker struct {
	root       *Choice
	pool       *Pool
	client     pypi.Client
	env        *markers.EnvironmentMarkers
	cache      cache.Store
	httpClient *http.Client
	fetcher    *project.MetadataFetcher
	logger     *slog.Logger

	currentVersionCallback VersionCallback

	fetchMu   sync.Mutex
	memoFetch map[requirement.CanonicalName]*Future[*project.Project]

	metaMu              sync.Mutex
	memoVersionMetadata map[verKey]*Future[*project.Metadata]

	queueMu sync.Mutex
	queue   []workItem

	// KnownConflicts maps a project name to every distinct version chosen
	// for it across drains since the last clear(). Exported for renderers.
	KnownConflicts map[requirement.CanonicalName][]version.Version
	// conflictOrder records the order names were first added to
	// KnownConflicts, since the conflict driver must replay them in
	// walk-observed order and Go map iteration order is not that.
	conflictOrder []requirement.CanonicalName
}

// New creates a Walker. client and env are required; every other component
// defaults to the no-op/default variant an Option can override.
func New(client pypi.Client, env *markers.EnvironmentMarkers, opts ...Option) *Walker {
	w := &Walker{
		root:                newRoot(),
		pool:                NewPool(defaultParallelism),
		client:              client,
		env:                 env,
		cache:               cache.NoOp{},
		httpClient:          &http.Client{},
		logger:              slog.Default(),
		memoFetch:           make(map[requirement.CanonicalName]*Future[*project.Project]),
		memoVersionMetadata: make(map[verKey]*Future[*project.Metadata]),
		KnownConflicts:      make(map[requirement.CanonicalName][]version.Version),
	}

	for _, opt := range opts {
		opt(w)
	}

	w.fetcher = project.NewMetadataFetcher(client,
		project.WithCache(w.cache),
		project.WithHTTPClient(w.httpClient),
		project.WithLogger(w.logger),
	)

	return w
}

// Root returns the sentinel root of the graph built so far.
func (w *Walker) Root() *Choice { return w.root }

// Clear resets the root to a fresh sentinel and empties the conflict table.
// Memoization maps intentionally persist so a replay (the conflict driver's
// pin-and-redrain loop) avoids re-fetching the index.
func (w *Walker) Clear() {
	w.root = newRoot()
	w.KnownConflicts = make(map[requirement.CanonicalName][]version.Version)
	w.conflictOrder = nil
}

// FeedFile parses path as a requirements file and feeds every requirement
// it contains.
func (w *Walker) FeedFile(path string) error {
	reqs, err := reqfile.ParseFile(path, w.logger)
	if err != nil {
		return fmt.Errorf("feeding %s: %w", path, err)
	}

	for _, req := range reqs {
		w.Feed(req, path)
	}

	return nil
}

// Feed enqueues one seed requirement as an edge from root, scheduling its
// project fetch if no fetch is already in flight or memoized.
func (w *Walker) Feed(req requirement.Requirement, source string) {
	name := req.Name

	w.logger.Debug("feed", slog.String("name", string(name)), slog.String("requirement", req.Raw), slog.String("source", source))

	if req.Marker != nil && !w.env.Match(req.Marker, nil) {
		return
	}

	w.ensureFetchScheduled(name)

	w.queueMu.Lock()
	w.queue = append(w.queue, workItem{parent: w.root, name: name, req: req, source: source, ancestorKeys: map[string]struct{}{}})
	w.queueMu.Unlock()
}

// Drain processes the queue until empty, building the graph rooted at
// Root(). It returns the first error raised by a version selection or an
// awaited future; per spec.md §7, a *NoMatchingRelease* aborts the current
// walk but is not considered a process-fatal condition by callers such as
// the conflict driver.
func (w *Walker) Drain(ctx context.Context) error {
	chosen := map[requirement.CanonicalName]version.Version{}

	for {
		item, ok := w.popQueue()
		if !ok {
			return nil
		}

		w.logger.Info("process",
			slog.String("name", string(item.name)),
			slog.String("requirement", item.req.Raw),
			slog.String("source", item.source),
		)

		projFut := w.ensureFetchScheduled(item.name)

		proj, err := projFut.Result(ctx)
		if err != nil {
			return fmt.Errorf("fetching project page for %s: %w", item.name, err)
		}

		var alreadyChosen *version.Version
		if v, ok := chosen[item.name]; ok {
			alreadyChosen = &v
		}

		selected, err := selectVersion(proj, item.req, w.env, alreadyChosen, w.currentVersionCallback)
		if err != nil {
			return err
		}

		choice := &Choice{Name: item.name, Version: selected, Extras: item.req.Extras}
		edge := &Edge{Target: choice, Specifier: item.req.Specifier, Marker: item.req.Marker, Note: item.source}
		item.parent.Deps = append(item.parent.Deps, edge)

		if _, isAncestor := item.ancestorKeys[choice.Key()]; isAncestor {
			w.logger.Info("avoiding circular dependency", slog.String("name", string(item.name)))

			continue
		}

		if prev, ok := chosen[item.name]; ok && prev.Compare(selected) != 0 {
			w.recordConflict(item.name, prev)
			w.recordConflict(item.name, selected)
		}

		chosen[item.name] = selected

		pv, found := proj.Lookup(selected)
		if !found {
			continue
		}

		metaFut := w.ensureMetadataScheduled(item.name, pv)

		md, err := metaFut.Result(ctx)
		if err != nil {
			return fmt.Errorf("fetching metadata for %s==%s: %w", item.name, selected.String(), err)
		}

		choice.HasSdist = md.HasSdist
		choice.HasWheel = md.HasWheel

		for _, r := range md.Requires {
			if !w.env.Match(r.Marker, sortedCopy(item.req.Extras)) {
				continue
			}

			w.ensureFetchScheduled(r.Name)

			childAncestors := make(map[string]struct{}, len(item.ancestorKeys)+1)
			for k := range item.ancestorKeys {
				childAncestors[k] = struct{}{}
			}

			childAncestors[choice.Key()] = struct{}{}

			w.queueMu.Lock()
			w.queue = append(w.queue, workItem{parent: choice, name: r.Name, req: r, source: "dep", ancestorKeys: childAncestors})
			w.queueMu.Unlock()
		}
	}
}

func (w *Walker) popQueue() (workItem, bool) {
	w.queueMu.Lock()
	defer w.queueMu.Unlock()

	if len(w.queue) == 0 {
		return workItem{}, false
	}

	item := w.queue[0]
	w.queue = w.queue[1:]

	return item, true
}

func (w *Walker) recordConflict(name requirement.CanonicalName, v version.Version) {
	if _, seenBefore := w.KnownConflicts[name]; !seenBefore {
		w.conflictOrder = append(w.conflictOrder, name)
	}

	for _, existing := range w.KnownConflicts[name] {
		if existing.Compare(v) == 0 {
			return
		}
	}

	w.KnownConflicts[name] = append(w.KnownConflicts[name], v)
}

// ensureFetchScheduled schedules a project-page fetch for name if none is
// already in flight or memoized, and returns the (possibly pre-existing)
// future. The lookup and the insertion both happen under fetchMu, so two
// callers racing on the same name share one fetch.
func (w *Walker) ensureFetchScheduled(name requirement.CanonicalName) *Future[*project.Project] {
	w.fetchMu.Lock()
	defer w.fetchMu.Unlock()

	if fut, ok := w.memoFetch[name]; ok {
		return fut
	}

	fut := Submit(w.pool, func(ctx context.Context) (*project.Project, error) {
		return w.fetchProject(ctx, name)
	})
	w.memoFetch[name] = fut

	return fut
}

// maybeSchedulePrefetch applies the cheap-check / expensive-marker-eval /
// re-check-under-lock dance spec.md §4.6 calls for: don't pay for marker
// evaluation when the fetch is already scheduled.
func (w *Walker) maybeSchedulePrefetch(name requirement.CanonicalName, marker *markers.Expr) {
	w.fetchMu.Lock()
	_, exists := w.memoFetch[name]
	w.fetchMu.Unlock()

	if exists {
		return
	}

	if !w.env.Match(marker, nil) {
		return
	}

	w.ensureFetchScheduled(name)
}

func (w *Walker) fetchProject(ctx context.Context, name requirement.CanonicalName) (*project.Project, error) {
	page, err := w.client.GetProjectPage(ctx, string(name))
	if err != nil {
		return nil, err
	}

	proj := project.FromProjectPage(w.logger, page)

	// Prefetch heuristic: the highest version's deps are the likely next
	// ask, so start extracting its metadata now.
	if releases := proj.Versions(); len(releases) > 0 {
		w.ensureMetadataScheduled(name, releases[len(releases)-1])
	}

	return proj, nil
}

// ensureMetadataScheduled schedules a metadata fetch for pv if none is
// already in flight or memoized, and returns the (possibly pre-existing)
// future.
func (w *Walker) ensureMetadataScheduled(name requirement.CanonicalName, pv *project.ProjectVersion) *Future[*project.Metadata] {
	key := verKey{name: name, ver: pv.Version.String()}

	w.metaMu.Lock()
	defer w.metaMu.Unlock()

	if fut, ok := w.memoVersionMetadata[key]; ok {
		return fut
	}

	fut := Submit(w.pool, func(ctx context.Context) (*project.Metadata, error) {
		return w.fetchMetadata(ctx, name, pv)
	})
	w.memoVersionMetadata[key] = fut

	return fut
}

func (w *Walker) fetchMetadata(ctx context.Context, name requirement.CanonicalName, pv *project.ProjectVersion) (*project.Metadata, error) {
	md, err := w.fetcher.FetchMetadata(ctx, pv)
	if err != nil {
		return nil, err
	}

	// Prefetch heuristic: these deps are the likely next ask too (without
	// extras, matching the parent's unextra'd marker environment).
	for _, r := range md.Requires {
		w.maybeSchedulePrefetch(r.Name, r.Marker)
	}

	w.logger.Debug("fetched metadata", slog.String("name", string(name)), slog.String("version", pv.Version.String()), slog.Int("requires", len(md.Requires)))

	return md, nil
}

func sortedCopy(extras []string) []string {
	if len(extras) == 0 {
		return extras
	}

	out := append([]string(nil), extras...)
	sort.Strings(out)

	return out
}
