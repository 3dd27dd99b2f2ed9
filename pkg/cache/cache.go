package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// Cache is a content-addressed disk store of fetched diffs. Each entry's
// filename is the hex SHA-256 of the fetch URL and its content is the raw
// diff text. Entries are never evicted: a cached diff is an immutable fetch
// result and re-fetching it would return the same bytes.
type Cache struct {
	dir string
}

// New creates a cache rooted at dir, creating the directory if needed.
func New(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &Cache{dir: dir}, nil
}

func (c *Cache) path(url string) string {
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:]))
}

// Get returns the cached diff for url, if present.
func (c *Cache) Get(url string) (string, bool) {
	data, err := os.ReadFile(c.path(url))
	if err != nil {
		return "", false
	}
	return string(data), true
}

// Put stores the diff for url. The write goes to a temp file first and is
// renamed into place, so concurrent readers never observe a partial entry.
func (c *Cache) Put(url, content string) error {
	tmp, err := os.CreateTemp(c.dir, "entry-*")
	if err != nil {
		return fmt.Errorf("failed to create cache temp file: %w", err)
	}
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close cache entry: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path(url)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to store cache entry: %w", err)
	}
	return nil
}
