package diff

import (
	"path"
	"strings"
)

// Group is the set of file changes sharing a top-level path segment, in the
// order they appeared in the diff.
type Group struct {
	Dir   string
	Files []FileChange
}

// GroupByDir partitions file changes by first path segment, preserving the
// insertion order of first occurrence. Files whose path has no directory
// component belong to no group and are dropped.
func GroupByDir(files []FileChange) []Group {
	var groups []Group
	index := make(map[string]int)

	for _, fc := range files {
		dir, ok := topDir(fc.Path)
		if !ok {
			continue
		}
		i, seen := index[dir]
		if !seen {
			i = len(groups)
			index[dir] = i
			groups = append(groups, Group{Dir: dir})
		}
		groups[i].Files = append(groups[i].Files, fc)
	}

	return groups
}

func topDir(p string) (string, bool) {
	p = path.Clean(p)
	i := strings.IndexByte(p, '/')
	if i <= 0 {
		return "", false
	}
	return p[:i], true
}
