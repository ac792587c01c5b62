package history

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// File is a history file candidate.
type File struct {
	Path    string
	ModTime time.Time
}

// Discover returns the regular files matching base+"*", sorted by path.
// Rotated history files share the configured base name.
func Discover(base string) ([]File, error) {
	matches, err := filepath.Glob(base + "*")
	if err != nil {
		return nil, fmt.Errorf("invalid history pattern %q: %w", base, err)
	}
	sort.Strings(matches)

	files := make([]File, 0, len(matches))
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		files = append(files, File{Path: m, ModTime: info.ModTime()})
	}
	return files, nil
}
