package diff

import (
	"fmt"
	"strings"
)

// AtomicDiff is a minimal, self-contained subset of a PR's changes.
type AtomicDiff struct {
	Title string `json:"title"`
	Patch string `json:"patch"`
}

// Thresholds control the split decision.
type Thresholds struct {
	MaxLoc  int // added lines a group may carry before it is exploded
	MaxDirs int // group count at which every group is exploded
}

// Split decides, per group, whether to keep it intact or explode it into
// per-file diffs. The MaxDirs comparison uses the total group count, so a
// PR touching many directories is exploded everywhere; only the added-line
// count varies the decision between groups.
func Split(groups []Group, t Thresholds) []AtomicDiff {
	var out []AtomicDiff

	for _, g := range groups {
		added := 0
		for _, fc := range g.Files {
			added += AddedLines(fc.Patch)
		}

		if added > t.MaxLoc || len(groups) >= t.MaxDirs {
			for _, fc := range g.Files {
				out = append(out, AtomicDiff{
					Title: fmt.Sprintf("Update %s", fc.Path),
					Patch: fc.Patch,
				})
			}
			continue
		}

		patches := make([]string, len(g.Files))
		for i, fc := range g.Files {
			patches[i] = fc.Patch
		}
		out = append(out, AtomicDiff{
			Title: fmt.Sprintf("Update %s directory", g.Dir),
			Patch: strings.Join(patches, "\n"),
		})
	}

	return out
}
