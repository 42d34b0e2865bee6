//go:build darwin

package pathutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// EnsureWorkerPath repairs PATH before the conductor spawns its first
// worker. On macOS a launchd-started conductor gets a minimal PATH, so:
//  1. Run /usr/libexec/path_helper to pick up /etc/paths and /etc/paths.d/*
//  2. Add common Homebrew/user bin directories that exist on disk
//  3. Update the conductor process's own PATH, inherited by every worker
//     it subsequently spawns
func EnsureWorkerPath() error {
	currentPath := os.Getenv("PATH")

	if helperPath := runPathHelper(); helperPath != "" {
		currentPath = MergePaths(currentPath, helperPath)
	}

	commonPaths := []string{
		"/opt/homebrew/bin",
		"/opt/homebrew/sbin",
		"/usr/local/bin",
		"/usr/local/sbin",
	}
	if home, err := os.UserHomeDir(); err == nil {
		commonPaths = append(commonPaths, filepath.Join(home, ".local", "bin"))
	}
	currentPath = AddExistingPaths(currentPath, commonPaths)

	return os.Setenv("PATH", currentPath)
}

func runPathHelper() string {
	cmd := exec.Command("/usr/libexec/path_helper", "-s")
	output, err := cmd.Output()
	if err != nil {
		return ""
	}
	return extractPathFromShellOutput(string(output))
}

// extractPathFromShellOutput parses `path_helper -s` output of the form
// PATH="..."; export PATH;
func extractPathFromShellOutput(output string) string {
	const prefix = "PATH=\""
	start := strings.Index(output, prefix)
	if start == -1 {
		return ""
	}
	start += len(prefix)
	end := strings.Index(output[start:], "\"")
	if end == -1 {
		return ""
	}
	return output[start : start+end]
}
