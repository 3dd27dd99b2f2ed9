package config

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

// Config holds the splitting thresholds and the fetch policy for one run.
type Config struct {
	// Splitting thresholds
	MaxLoc   int // added lines allowed before a directory group is exploded
	MaxDirs  int // directory count at which every group is exploded
	MinDiffs int // minimum atomic diffs required to keep a PR

	// Diff cache
	CacheEnabled bool
	CacheDir     string

	// Rate limiting
	RateLimitEnabled       bool
	SecondsBetweenRequests float64 // global per-host interval; 0 uses built-in host defaults

	// Fetching
	GitHubToken string

	// Run shape
	Workers int
	Debug   bool
}

// Load returns the default configuration with environment overrides applied.
func Load() *Config {
	return &Config{
		MaxLoc:           500,
		MaxDirs:          3,
		MinDiffs:         2,
		CacheEnabled:     true,
		CacheDir:         ".cache/diffs",
		RateLimitEnabled: true,
		GitHubToken:      os.Getenv("GITHUB_TOKEN"),
		Workers:          1,
		Debug:            os.Getenv("DEBUG") == "true",
	}
}

// RegisterFlags binds the configurable options onto a flag set.
func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.IntVar(&c.MaxLoc, "max-loc", c.MaxLoc, "Added-line threshold above which a directory group is split per file.")
	fs.IntVar(&c.MaxDirs, "max-dirs", c.MaxDirs, "Directory count at which every group is split per file.")
	fs.IntVar(&c.MinDiffs, "min-diffs", c.MinDiffs, "Minimum atomic diffs a PR must yield to be kept.")
	fs.BoolVar(&c.CacheEnabled, "cache", c.CacheEnabled, "Cache fetched diffs on disk.")
	fs.StringVar(&c.CacheDir, "cache-dir", c.CacheDir, "Directory for the diff cache.")
	fs.BoolVar(&c.RateLimitEnabled, "rate-limit", c.RateLimitEnabled, "Pace requests per host.")
	fs.Float64Var(&c.SecondsBetweenRequests, "seconds-between-requests", c.SecondsBetweenRequests, "Seconds between requests to the same host (0 uses per-host defaults).")
	fs.IntVarP(&c.Workers, "workers", "w", c.Workers, "Number of records fetched concurrently.")
	fs.BoolVar(&c.Debug, "debug", c.Debug, "Enable debug logging.")
}

// Validate checks the configuration before any record is processed.
// A validation error is the only failure that aborts the whole run.
func (c *Config) Validate() error {
	if c.MaxLoc <= 0 {
		return fmt.Errorf("max-loc must be positive, got %d", c.MaxLoc)
	}
	if c.MaxDirs <= 0 {
		return fmt.Errorf("max-dirs must be positive, got %d", c.MaxDirs)
	}
	if c.MinDiffs < 1 {
		return fmt.Errorf("min-diffs must be at least 1, got %d", c.MinDiffs)
	}
	if c.CacheEnabled && c.CacheDir == "" {
		return fmt.Errorf("cache-dir is required when caching is enabled")
	}
	if c.SecondsBetweenRequests < 0 {
		return fmt.Errorf("seconds-between-requests must not be negative, got %g", c.SecondsBetweenRequests)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	return nil
}
