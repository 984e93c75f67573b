package pathutil

import (
	"fmt"
	"os"
	"path/filepath"
)

// FindRepoRoot walks up from dir to the nearest directory containing a .git
// entry (a directory, or a file for linked worktrees and submodules).
func FindRepoRoot(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	for current := abs; ; current = filepath.Dir(current) {
		if _, err := os.Stat(filepath.Join(current, ".git")); err == nil {
			return current, nil
		}
		if IsFilesystemRoot(current) || filepath.Dir(current) == current {
			return "", fmt.Errorf("not a git repository (or any parent up to %s): %s", current, abs)
		}
	}
}

// IsFilesystemRoot reports whether path points to filesystem root (POSIX or Windows volume root).
func IsFilesystemRoot(path string) bool {
	clean := filepath.Clean(path)
	if clean == string(filepath.Separator) {
		return true
	}
	volume := filepath.VolumeName(clean)
	return volume != "" && clean == volume+string(filepath.Separator)
}
