package main

import (
	"os"
	"path/filepath"
)

// cleanCaches removes every cached source archive and any leftover
// per-install build workspace under the configured cache directory,
// reporting how many top-level entries it removed. Orphaned build
// directories accumulate when KeepBuildDir is set or a run is
// interrupted before Cleanup runs, so clean gives an operator a way to
// reclaim that space without tracing individual failed installs.
func cleanCaches(cfg interface {
	SourcesDir() string
	BuildsDir() string
}) (int, error) {
	removed := 0
	for _, dir := range []string{cfg.SourcesDir(), cfg.BuildsDir()} {
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return removed, err
		}
		for _, e := range entries {
			if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}
