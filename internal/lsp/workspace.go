package lsp

import (
	"os"
	"path/filepath"
)

// rootMarkers are files or directories whose presence identifies a
// workspace root, checked in order at each level.
var rootMarkers = []string{
	".git",
	"go.mod",
	"Cargo.toml",
	"package.json",
	"pyproject.toml",
}

// FindWorkspaceRoot walks up from path looking for a workspace marker.
// If none is found it returns the directory containing path.
func FindWorkspaceRoot(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Dir(path)
	}

	dir := abs
	if info, err := os.Stat(abs); err != nil || !info.IsDir() {
		dir = filepath.Dir(abs)
	}
	fallback := dir

	for {
		for _, marker := range rootMarkers {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}
		dir = parent
	}
}
