package cache

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCacheRoundTrip(t *testing.T) {
	c, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	const url = "https://github.com/owner/repo/pull/42.diff"
	const content = "diff --git a/x b/x\n+hello\n"

	if _, ok := c.Get(url); ok {
		t.Fatal("Get() on empty cache reported a hit")
	}
	if err := c.Put(url, content); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, ok := c.Get(url)
	if !ok {
		t.Fatal("Get() missed after Put()")
	}
	if got != content {
		t.Errorf("Get() = %q, want %q", got, content)
	}
}

func TestCacheKeyedByURL(t *testing.T) {
	c, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := c.Put("https://example.com/a.diff", "A"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, ok := c.Get("https://example.com/b.diff"); ok {
		t.Error("Get() for a different URL reported a hit")
	}
}

func TestCachePersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()

	c1, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := c1.Put("url", "persisted"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	c2, err := New(dir)
	if err != nil {
		t.Fatalf("New() second instance error = %v", err)
	}
	got, ok := c2.Get("url")
	if !ok || got != "persisted" {
		t.Errorf("Get() from second instance = %q, %v; want %q, true", got, ok, "persisted")
	}
}

func TestCacheLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := c.Put("url", "content"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 {
		var names []string
		for _, e := range entries {
			names = append(names, filepath.Base(e.Name()))
		}
		t.Errorf("cache dir holds %d entries %v, want exactly 1", len(entries), names)
	}
}
