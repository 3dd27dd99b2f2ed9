// Package diff parses unified diffs into per-file changes and partitions
// them into atomic units by top-level directory and size.
package diff

import "strings"

// FileChange is one modified file's slice of a unified diff. Patch holds the
// file's "diff --git" header line and every line up to the next header.
type FileChange struct {
	Path  string
	Patch string
}

// Parse converts raw unified-diff text into per-file changes, in the order
// the files appear. It never fails: malformed input yields a best-effort
// partial result, and text with no headers yields nothing.
func Parse(text string) []FileChange {
	var files []FileChange
	var path string
	var patch []string

	flush := func() {
		if path != "" && len(patch) > 0 {
			files = append(files, FileChange{Path: path, Patch: strings.Join(patch, "\n")})
		}
	}

	for _, line := range strings.Split(strings.TrimSuffix(text, "\n"), "\n") {
		if strings.HasPrefix(line, "diff --git") {
			flush()
			path = pathFromHeader(line)
			patch = []string{line}
		} else if path != "" {
			patch = append(patch, line)
		}
	}
	flush()

	return files
}

// pathFromHeader extracts the post-image path from a "diff --git a/... b/..."
// line. A header without a " b/" marker falls back to the whole line.
func pathFromHeader(line string) string {
	if i := strings.LastIndex(line, " b/"); i >= 0 {
		return line[i+len(" b/"):]
	}
	return line
}

// AddedLines counts addition lines in a patch, excluding the "+++" file
// marker. Only hunk-body additions count toward split decisions.
func AddedLines(patch string) int {
	n := 0
	for _, line := range strings.Split(patch, "\n") {
		if strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++") {
			n++
		}
	}
	return n
}
