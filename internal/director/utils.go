package director

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FindLatestCatalog finds the most recent catalog file in dir
func FindLatestCatalog(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read catalog directory: %w", err)
	}

	var catalogs []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".yaml", ".yml", ".json":
			catalogs = append(catalogs, filepath.Join(dir, entry.Name()))
		}
	}

	if len(catalogs) == 0 {
		return "", fmt.Errorf("no catalog files found in %s", dir)
	}

	// Sort by modification time (newest first)
	sort.Slice(catalogs, func(i, j int) bool {
		infoI, _ := os.Stat(catalogs[i])
		infoJ, _ := os.Stat(catalogs[j])
		return infoI.ModTime().After(infoJ.ModTime())
	})

	return catalogs[0], nil
}

// abs returns absolute value of an integer
func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
