// Package pathutil repairs PATH for the conductor process. Conductors are
// frequently launched under systemd/launchd with a minimal PATH, and the
// worker spawn path (workerproc.Spawn, falling back to self-reexec when
// JULIA_DAEMON_WORKER_EXECUTABLE is unset) needs a PATH that actually
// resolves the requested worker executable.
package pathutil

import (
	"os"
	"path/filepath"
	"strings"
)

// CommonPaths returns locations commonly missing from a service-manager's
// minimal launch environment.
func CommonPaths() []string {
	paths := []string{
		"/opt/homebrew/bin", // Homebrew on Apple Silicon
		"/opt/homebrew/sbin",
		"/usr/local/bin", // Homebrew on Intel Mac, also common on Linux
		"/usr/local/sbin",
	}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".local", "bin"))
	}

	return paths
}

// MergePaths combines two PATH strings, preserving order and removing
// duplicates. Primary paths come first, then secondary paths not already
// present.
func MergePaths(primary, secondary string) string {
	seen := make(map[string]bool)
	var merged []string

	for _, pathList := range []string{primary, secondary} {
		for _, part := range strings.Split(pathList, ":") {
			if part != "" && !seen[part] {
				seen[part] = true
				merged = append(merged, part)
			}
		}
	}
	return strings.Join(merged, ":")
}

// AddExistingPaths adds paths that exist on disk to the current PATH.
// Returns the merged PATH string.
func AddExistingPaths(currentPath string, paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			currentPath = MergePaths(currentPath, p)
		}
	}
	return currentPath
}
