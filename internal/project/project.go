// Package project resolves the worker-pool key for a client connection:
// the filesystem path identifying the project whose dependency set a
// worker should be bound to. There is no equivalent file in the teacher
// repo — daemon.go keys its sessions by worktree path, which is the
// closest analogue and shaped this package's upward-search pattern
// (daemon/worktree.go's repo-root walk) — see DESIGN.md.
package project

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/warmrun/warmd/internal/protocol"
)

// ProjectTOML is the marker file an upward search looks for.
const ProjectTOML = "Project.toml"

// DefaultManifestDir is the fallback "default user project" used when
// neither a --project switch nor JULIA_PROJECT is given, and when an
// upward Project.toml search finds nothing.
// There being no real embedded host runtime to query for its own default
// environment, this mirrors the host's well-known per-user environment
// directory layout (see DESIGN.md's resolution of this Open Question).
const DefaultManifestDir = ".warmd/environments/default"

// Resolve determines the project path for a client, per spec.md's
// "Project-path resolution": the last --project switch value, else
// JULIA_PROJECT from the client's forwarded environment, else the
// default user project. "@." or "" trigger an upward search from cwd
// for Project.toml, falling back to the default user project when none
// is found before the filesystem root. Any other value is resolved
// relative to cwd with ~ expansion and a trailing slash stripped.
func Resolve(info protocol.ClientInfo, cwd string, env map[string]string) string {
	value, ok := info.SwitchValue(protocol.SwitchProject)
	if !ok {
		value, ok = env["JULIA_PROJECT"]
	}
	if !ok {
		return defaultUserProject()
	}
	if value == "" || value == "@." {
		return resolveUpwardOrDefault(cwd)
	}
	return resolveRelative(value, cwd)
}

func resolveRelative(value, cwd string) string {
	value = expandHome(value)
	if !filepath.IsAbs(value) {
		value = filepath.Join(cwd, value)
	}
	value = strings.TrimRight(value, "/")
	if value == "" {
		return "/"
	}
	return filepath.Clean(value)
}

func expandHome(value string) string {
	if value == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
		return value
	}
	if strings.HasPrefix(value, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, value[2:])
		}
	}
	return value
}

// resolveUpwardOrDefault walks from cwd up to the filesystem root
// looking for Project.toml, falling back to the default user project
// when the search reaches "/" without finding one.
func resolveUpwardOrDefault(cwd string) string {
	dir := cwd
	for {
		candidate := filepath.Join(dir, ProjectTOML)
		if _, err := os.Stat(candidate); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return defaultUserProject()
		}
		dir = parent
	}
}

func defaultUserProject() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, DefaultManifestDir)
	}
	return DefaultManifestDir
}
