package logreader

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/rs/zerolog/log"
)

// ScanDirectory lists the regular files directly inside dir whose base name matches filter.
// A nil filter matches every file. When dir is itself a regular file it is returned alone.
// Results are sorted by path.
func ScanDirectory(dir string, filter *regexp.Regexp) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", dir, err)
	}

	if info.Mode().IsRegular() {
		return []string{dir}, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if filter != nil && !filter.MatchString(entry.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}

	sort.Strings(files)

	log.Debug().
		Str("dir", dir).
		Int("files", len(files)).
		Msg("Directory scan complete")

	return files, nil
}
