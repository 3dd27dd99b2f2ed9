// Package split orchestrates one record's journey from raw PR record to
// atomic diffs: fetch, parse, group, split, quality filter. Every failure is
// contained here and reported as a skip so one bad record never aborts the
// records behind it.
package split

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/atomicdiff/prsplit/pkg/config"
	"github.com/atomicdiff/prsplit/pkg/diff"
	"github.com/atomicdiff/prsplit/pkg/fetch"
	"github.com/atomicdiff/prsplit/pkg/log"
)

// RawRecord is one input line: a merged PR and where to fetch its diff.
// PRID is kept raw so numeric and string ids round-trip unchanged.
type RawRecord struct {
	PRID    json.RawMessage `json:"pr_id"`
	Repo    string          `json:"repo"`
	DiffURL string          `json:"diff_url"`
	Body    string          `json:"body,omitempty"`
}

// Empty reports whether the record carries no usable fields.
func (r RawRecord) Empty() bool {
	return len(r.PRID) == 0 && r.Repo == "" && r.DiffURL == ""
}

// ID renders the PR id for log lines.
func (r RawRecord) ID() string {
	if len(r.PRID) == 0 {
		return "<unknown>"
	}
	return string(r.PRID)
}

// SplitResult is the output record for one successfully split PR.
type SplitResult struct {
	PRID         json.RawMessage   `json:"pr_id"`
	Repo         string            `json:"repo"`
	OriginalDiff string            `json:"original_diff"`
	AtomicDiffs  []diff.AtomicDiff `json:"atomic_diffs"`
}

// SkipReason tags why a record produced no result, so callers can tell a
// deliberately excluded PR from a malfunction without matching error text.
type SkipReason string

const (
	SkipNone        SkipReason = ""
	SkipEmptyRecord SkipReason = "empty_record"
	SkipNoDiffURL   SkipReason = "no_diff_url"
	SkipDiffGone    SkipReason = "diff_gone"
	SkipFetchFailed SkipReason = "fetch_failed"
	SkipTooFewDiffs SkipReason = "too_few_diffs"
	SkipPanic       SkipReason = "panic"
)

// Fetcher retrieves diff text for a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Splitter turns raw PR records into atomic diffs.
type Splitter struct {
	logger  *log.Logger
	fetcher Fetcher
	cfg     *config.Config
}

// New creates a splitter.
func New(logger *log.Logger, fetcher Fetcher, cfg *config.Config) (*Splitter, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	return &Splitter{logger: logger, fetcher: fetcher, cfg: cfg}, nil
}

// Process splits one record. A nil result means the record was skipped; the
// reason says why. Nothing escapes this boundary: fetch failures, quality
// rejections and panics all come back as skips.
func (s *Splitter) Process(ctx context.Context, rec RawRecord) (res *SplitResult, skip SkipReason) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic processing PR %s: %v\n%s", rec.ID(), r, debug.Stack())
			res, skip = nil, SkipPanic
		}
	}()

	if rec.Empty() {
		s.logger.Warning("Received empty PR record")
		return nil, SkipEmptyRecord
	}
	if rec.DiffURL == "" {
		s.logger.Warning("PR %s has no diff_url", rec.ID())
		return nil, SkipNoDiffURL
	}

	s.logger.Info("Processing PR %s from %s", rec.ID(), rec.Repo)

	text, err := s.fetcher.Fetch(ctx, rec.DiffURL)
	if err != nil {
		if errors.Is(err, fetch.ErrNotFound) {
			s.logger.Info("PR %s diff vanished (repo deleted/private) - skipping", rec.ID())
			return nil, SkipDiffGone
		}
		s.logger.Error("Failed to fetch diff for PR %s: %v", rec.ID(), err)
		return nil, SkipFetchFailed
	}

	files := diff.Parse(text)
	s.logger.Diff("Found %d files in PR %s", len(files), rec.ID())

	groups := diff.GroupByDir(files)
	s.logger.Debug("Grouped into %d directories", len(groups))

	diffs := diff.Split(groups, diff.Thresholds{MaxLoc: s.cfg.MaxLoc, MaxDirs: s.cfg.MaxDirs})
	if len(diffs) < s.cfg.MinDiffs {
		s.logger.Split("PR %s has too few diffs (%d < %d)", rec.ID(), len(diffs), s.cfg.MinDiffs)
		return nil, SkipTooFewDiffs
	}
	s.logger.Split("PR %s split into %d atomic diffs", rec.ID(), len(diffs))

	return &SplitResult{
		PRID:         rec.PRID,
		Repo:         rec.Repo,
		OriginalDiff: text,
		AtomicDiffs:  diffs,
	}, SkipNone
}
