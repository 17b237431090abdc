// Package project models a PyPI project's release history and extracts
// per-release dependency metadata from whichever distribution is cheapest
// to read, caching the extracted bytes along the way.
package project

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/hdeps/hdeps/internal/cache"
	"github.com/hdeps/hdeps/internal/pypi"
	"github.com/hdeps/hdeps/internal/requirement"
	"github.com/hdeps/hdeps/internal/version"
)

// Project is a PyPI project's full release history, grouped by version and
// kept in ascending version order.
type Project struct {
	Name     requirement.CanonicalName
	versions []*ProjectVersion
	byKey    map[string]*ProjectVersion
}

// ProjectVersion is every distribution published for one release.
type ProjectVersion struct {
	Version version.Version
	Files   []pypi.File
}

// FromProjectPage groups a project page's distributions by version,
// dropping any distribution with an unparseable or absent version. The
// project name is canonicalized.
//
// Grouping is done by semantic version equality (Compare == 0), not by raw
// spelling: two distributions of the same release can legally spell their
// version differently (e.g. "3.0" and "3.0.0").
func FromProjectPage(logger *slog.Logger, page *pypi.ProjectPage) *Project {
	var releases []*ProjectVersion

	for _, f := range page.Files {
		nameVer, err := extractVersion(f.Filename)
		if err != nil || nameVer == "" {
			logger.Debug("ignoring distribution with unset version", slog.String("filename", f.Filename))

			continue
		}

		v, err := version.Parse(nameVer)
		if err != nil {
			logger.Debug("ignoring invalid version", slog.String("version", nameVer), slog.String("filename", f.Filename))

			continue
		}

		var pv *ProjectVersion

		for _, existing := range releases {
			if existing.Version.Compare(v) == 0 {
				pv = existing

				break
			}
		}

		if pv == nil {
			pv = &ProjectVersion{Version: v}
			releases = append(releases, pv)
		}

		pv.Files = append(pv.Files, f)
	}

	sort.Slice(releases, func(i, j int) bool { return releases[i].Version.Compare(releases[j].Version) < 0 })

	p := &Project{
		Name:     requirement.Canonicalize(page.Name),
		versions: releases,
		byKey:    make(map[string]*ProjectVersion, len(releases)),
	}

	for _, pv := range releases {
		p.byKey[pv.Version.String()] = pv
	}

	return p
}

// Versions returns every release in ascending version order.
func (p *Project) Versions() []*ProjectVersion { return p.versions }

// Lookup finds the release matching v, if the project published it. Falls
// back to a semantic scan when v's raw spelling doesn't match any stored
// key verbatim, since callers may spell an equal version differently.
func (p *Project) Lookup(v version.Version) (*ProjectVersion, bool) {
	if pv, ok := p.byKey[v.String()]; ok {
		return pv, true
	}

	for _, pv := range p.versions {
		if pv.Version.Compare(v) == 0 {
			return pv, true
		}
	}

	return nil, false
}

// RequiresPython returns the first non-empty requires-python constraint
// among this release's distributions.
func (pv *ProjectVersion) RequiresPython() string {
	for _, f := range pv.Files {
		if f.RequiresPython != "" {
			return f.RequiresPython
		}
	}

	return ""
}

// Yanked reports whether any distribution backing this release is yanked.
func (pv *ProjectVersion) Yanked() bool {
	for _, f := range pv.Files {
		if f.Yanked {
			return true
		}
	}

	return false
}

// HasSdist reports whether this release published a source distribution.
func (pv *ProjectVersion) HasSdist() bool {
	for _, f := range pv.Files {
		if f.PackageType() == "sdist" {
			return true
		}
	}

	return false
}

// HasWheel reports whether this release published a wheel.
func (pv *ProjectVersion) HasWheel() bool {
	for _, f := range pv.Files {
		if f.PackageType() == "wheel" {
			return true
		}
	}

	return false
}

// extractVersion pulls the version component out of a distribution's
// filename: after stripping the archive suffix, the segment between the
// first and second dash (or everything after the first dash if there is no
// second). Wheel and sdist naming are handled the same way here since both
// start "<name>-<version>"; the name part is not checked against the
// project name, so an sdist whose name itself contains a dash yields the
// name's second word instead of the version.
func extractVersion(filename string) (string, error) {
	base := filename

	for _, suffix := range []string{".whl", ".tar.gz", ".tgz", ".zip"} {
		if strings.HasSuffix(base, suffix) {
			base = strings.TrimSuffix(base, suffix)

			break
		}
	}

	idx := strings.Index(base, "-")
	if idx < 0 {
		return "", fmt.Errorf("no dash in filename %q", filename)
	}

	rest := base[idx+1:]

	// Wheels have at least 4 more dash-separated fields after name-version;
	// sdists have none. Either way the version is the segment up to the
	// next dash, or the whole remainder if there isn't one.
	if next := strings.Index(rest, "-"); next >= 0 {
		return rest[:next], nil
	}

	return rest, nil
}

// distributionScore implements spec.md §4.4's selection table.
func distributionScore(f pypi.File) int {
	switch {
	case f.CoreMetadata:
		return 100
	case f.PackageType() == "wheel":
		return 90
	case f.PackageType() == "sdist" && strings.HasSuffix(f.Filename, ".zip"):
		return 50
	case f.PackageType() == "sdist":
		return 30
	default:
		return 0
	}
}

// SelectDistribution picks the cheapest-to-read distribution for a release,
// breaking score ties by lexicographically smallest filename to keep cache
// keys stable across runs.
func SelectDistribution(pv *ProjectVersion) (pypi.File, bool) {
	var (
		best      pypi.File
		bestScore int
		found     bool
	)

	for _, f := range pv.Files {
		score := distributionScore(f)
		if score == 0 {
			continue
		}

		switch {
		case !found, score > bestScore:
			best, bestScore, found = f, score, true
		case score == bestScore && f.Filename < best.Filename:
			best = f
		}
	}

	return best, found
}

// Option configures a MetadataFetcher.
type Option func(*MetadataFetcher)

// WithCache sets the blob cache used to remember extracted metadata.
func WithCache(c cache.Store) Option {
	return func(f *MetadataFetcher) {
		if c != nil {
			f.cache = c
		}
	}
}

// WithHTTPClient sets the HTTP client used for ranged reads and sdist
// downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(f *MetadataFetcher) {
		if c != nil {
			f.httpClient = c
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *MetadataFetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

// MetadataFetcher extracts dependency metadata for a release, consulting
// the blob cache before doing any network I/O.
type MetadataFetcher struct {
	client     pypi.Client
	cache      cache.Store
	httpClient *http.Client
	logger     *slog.Logger
}

// NewMetadataFetcher creates a MetadataFetcher backed by client.
func NewMetadataFetcher(client pypi.Client, opts ...Option) *MetadataFetcher {
	f := &MetadataFetcher{
		client:     client,
		cache:      cache.NoOp{},
		httpClient: &http.Client{},
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// FetchMetadata extracts dependency metadata for pv, per spec.md §4.4.
func (f *MetadataFetcher) FetchMetadata(ctx context.Context, pv *ProjectVersion) (*Metadata, error) {
	base := &Metadata{HasSdist: pv.HasSdist(), HasWheel: pv.HasWheel()}

	dist, ok := SelectDistribution(pv)
	if !ok {
		f.logger.Warn("cannot load metadata, no matching distributions",
			slog.String("version", pv.Version.String()))

		return base, nil
	}

	raw, cacheKey, err := f.extractRaw(ctx, dist)
	if err != nil {
		return base, fmt.Errorf("extracting metadata for %s: %w", dist.Filename, err)
	}

	md, err := ParseMetadata(f.logger, raw)
	if err != nil {
		return base, fmt.Errorf("parsing metadata for %s (cache key %s): %w", dist.Filename, cacheKey, err)
	}

	md.HasSdist = base.HasSdist
	md.HasWheel = base.HasWheel

	return md, nil
}

func (f *MetadataFetcher) extractRaw(ctx context.Context, dist pypi.File) (raw []byte, cacheKey string, err error) {
	cacheKey = dist.URL
	if dist.PackageType() == "sdist" {
		cacheKey = dist.URL + "#requires.txt"
	}

	if cached, ok := f.cache.Get(cacheKey); ok {
		return cached, cacheKey, nil
	}

	switch {
	case dist.CoreMetadata:
		raw, err = f.fetchSidecar(ctx, dist)
	case dist.PackageType() == "wheel":
		raw, err = f.fetchWheel(ctx, dist)
	case dist.PackageType() == "sdist" && strings.HasSuffix(dist.Filename, ".zip"):
		raw, err = f.fetchZipSdist(ctx, dist)
	case dist.PackageType() == "sdist":
		raw, err = f.fetchTarSdist(ctx, dist)
	default:
		return nil, "", fmt.Errorf("unsupported distribution type for %s", dist.Filename)
	}

	if err != nil {
		return nil, "", err
	}

	if err := f.cache.Set(cacheKey, raw); err != nil {
		f.logger.Debug("failed to write metadata cache entry", slog.String("key", cacheKey), slog.String("error", err.Error()))
	}

	return raw, cacheKey, nil
}

func (f *MetadataFetcher) fetchSidecar(ctx context.Context, dist pypi.File) ([]byte, error) {
	text, err := f.client.GetMetadata(ctx, dist.URL)
	if err != nil {
		return nil, err
	}

	return []byte(text), nil
}

func (f *MetadataFetcher) fetchWheel(ctx context.Context, dist pypi.File) ([]byte, error) {
	rr, err := pypi.NewRangeReader(ctx, f.httpClient, dist.URL)
	if err != nil {
		return nil, err
	}

	return ExtractWheelMetadata(rr, rr.Size(), dist.Filename)
}

func (f *MetadataFetcher) fetchZipSdist(ctx context.Context, dist pypi.File) ([]byte, error) {
	rr, err := pypi.NewRangeReader(ctx, f.httpClient, dist.URL)
	if err != nil {
		return nil, err
	}

	return ExtractZipSdistMetadata(rr, rr.Size())
}

func (f *MetadataFetcher) fetchTarSdist(ctx context.Context, dist pypi.File) ([]byte, error) {
	data, err := f.downloadFull(ctx, dist)
	if err != nil {
		return nil, err
	}

	gzipped := strings.HasSuffix(dist.Filename, ".tar.gz") || strings.HasSuffix(dist.Filename, ".tgz")

	return ExtractTarSdistMetadata(bytes.NewReader(data), gzipped)
}

func (f *MetadataFetcher) downloadFull(ctx context.Context, dist pypi.File) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, dist.URL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", dist.URL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("downloading %s: unexpected status %d", dist.URL, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dist.URL, err)
	}

	if want, ok := dist.Hashes["sha256"]; ok && want != "" {
		sum := sha256.Sum256(data)
		if got := hex.EncodeToString(sum[:]); got != want {
			return nil, fmt.Errorf("sha256 mismatch for %s: want %s, got %s", dist.URL, want, got)
		}
	}

	return data, nil
}
