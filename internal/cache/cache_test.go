package cache_test

import (
	"crypto/sha1" //nolint:gosec // mirrors the cache's own key-hashing scheme
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/hdeps/hdeps/internal/cache"
)

func TestSetThenGetRoundTrip(t *testing.T) {
	dir := t.TempDir()

	m, err := cache.New(cache.WithDir(dir))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	key := "https://files.pythonhosted.org/packages/x/y/pkg.whl"
	value := []byte("METADATA contents")

	if err := m.Set(key, value); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	got, ok := m.Get(key)
	if !ok {
		t.Fatal("expected cache hit, got miss")
	}

	if string(got) != string(value) {
		t.Errorf("Get() = %q, want %q", got, value)
	}
}

func TestGetUnknownKeyMisses(t *testing.T) {
	dir := t.TempDir()

	m, err := cache.New(cache.WithDir(dir))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if _, ok := m.Get("never-set"); ok {
		t.Fatal("expected miss for unknown key")
	}
}

func TestDerivedPath(t *testing.T) {
	dir := t.TempDir()

	m, err := cache.New(cache.WithDir(dir))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	key := "some-cache-key"

	if err := m.Set(key, []byte("v")); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	sum := sha1.Sum([]byte(key)) //nolint:gosec
	h := hex.EncodeToString(sum[:])
	want := filepath.Join(dir, string(h[0]), string(h[1]), string(h[2]), string(h[3]), string(h[4]), h)

	if _, err := os.Stat(want); err != nil {
		t.Errorf("expected file at derived path %s: %v", want, err)
	}
}

func TestSetOverwritesExisting(t *testing.T) {
	dir := t.TempDir()

	m, err := cache.New(cache.WithDir(dir))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	key := "k"

	if err := m.Set(key, []byte("old")); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	if err := m.Set(key, []byte("new")); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	got, ok := m.Get(key)
	if !ok || string(got) != "new" {
		t.Errorf("Get() = %q, %v, want %q, true", got, ok, "new")
	}
}

func TestConcurrentSet(t *testing.T) {
	dir := t.TempDir()

	m, err := cache.New(cache.WithDir(dir))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)

		go func(n int) {
			defer wg.Done()

			_ = m.Set("shared", []byte{byte(n)})
		}(i)
	}

	wg.Wait()

	if _, ok := m.Get("shared"); !ok {
		t.Error("expected cached value to exist after concurrent writes")
	}
}

func TestNewCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sub", "cache")

	if _, err := cache.New(cache.WithDir(dir)); err != nil {
		t.Fatalf("New() error: %v", err)
	}

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("cache directory not created: %v", err)
	}

	if !info.IsDir() {
		t.Error("expected directory, got file")
	}
}

func TestWithLoggerNilIgnored(t *testing.T) {
	dir := t.TempDir()

	m, err := cache.New(cache.WithDir(dir), cache.WithLogger(nil))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if _, ok := m.Get("nonexistent"); ok {
		t.Error("expected miss")
	}
}

func TestWithLogger(t *testing.T) {
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	m, err := cache.New(cache.WithDir(dir), cache.WithLogger(logger))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if _, ok := m.Get("nonexistent"); ok {
		t.Error("expected miss")
	}
}

func TestNewWithEnvVar(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "env-cache")
	t.Setenv("HDEPS_CACHE_DIR", dir)

	m, err := cache.New()
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if err := m.Set("k", []byte("v")); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) == 0 {
		t.Errorf("expected cache writes under HDEPS_CACHE_DIR=%s", dir)
	}
}

func TestNoOpAlwaysMisses(t *testing.T) {
	var c cache.NoOp

	if err := c.Set("k", []byte("v")); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	if _, ok := c.Get("k"); ok {
		t.Error("NoOp cache should never hit")
	}
}
