// Package config resolves the conductor and client's runtime settings,
// layering environment variables over an optional JSON config file over
// built-in defaults. The priority chain and the config-file shape are
// adapted directly from the teacher's internal/config/config.go.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Environment variables recognised per the spec's External Interfaces
// table, plus WARMD_CONFIG_PATH/WARMD_DEBUG added as ambient config-layer
// texture (SPEC_FULL.md §6).
const (
	EnvServer            = "JULIA_DAEMON_SERVER"
	EnvWorkerMaxClient   = "JULIA_DAEMON_WORKER_MAXCLIENTS"
	EnvWorkerArgs        = "JULIA_DAEMON_WORKER_ARGS"
	EnvWorkerExecPath    = "JULIA_DAEMON_WORKER_EXECUTABLE"
	EnvWorkerTTL         = "JULIA_DAEMON_WORKER_TTL"
	EnvFilterPrefixesKey = "JULIA_DAEMON_ENV_FILTER_PREFIXES"
	EnvConfigPath        = "WARMD_CONFIG_PATH"
	EnvDebug             = "WARMD_DEBUG"
)

const (
	defaultWorkerArgs      = "--startup-file=no"
	defaultWorkerMaxClient = 1
	defaultWorkerTTL       = 7200 * time.Second
	defaultFilterPrefix    = "JULIA_DAEMON_BENCH_"
)

type configFile struct {
	SocketPath string `json:"socket_path"`
	WorkerArgs string `json:"worker_args"`
}

var (
	configMu     sync.RWMutex
	loadedConfig configFile
)

func init() {
	loadConfig()
}

// loadConfig reads the JSON config file named by EnvConfigPath (default
// ~/.warmd/config.json). A missing or unparsable file is silently
// treated as empty: the file is an optional layer beneath explicit
// environment variables.
func loadConfig() {
	configMu.Lock()
	defer configMu.Unlock()

	loadedConfig = configFile{}

	path := os.Getenv(EnvConfigPath)
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return
		}
		path = filepath.Join(home, ".warmd", "config.json")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	_ = json.Unmarshal(data, &loadedConfig)
}

// ReloadForTesting forces the config file to be re-read; production code
// never needs to call this since the file is loaded once at process
// start.
func ReloadForTesting() {
	loadConfig()
}

func runtimeDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir
	}
	return filepath.Join("/run/user", strconv.Itoa(os.Getuid()))
}

// SocketPath returns the conductor endpoint string: a Unix socket path,
// or one of the recognised ":PORT" / "[IPv6]:PORT" / "IPv4:PORT" forms.
// Priority: JULIA_DAEMON_SERVER env var > config file > default.
func SocketPath() string {
	if v := os.Getenv(EnvServer); v != "" {
		return v
	}
	configMu.RLock()
	fromFile := loadedConfig.SocketPath
	configMu.RUnlock()
	if fromFile != "" {
		return fromFile
	}
	return filepath.Join(runtimeDir(), "julia-daemon", "conductor.sock")
}

// WorkerMaxClients returns the cap on concurrent sessions per worker; 0
// disables the cap, meaning the first worker in a bucket is always
// reused.
func WorkerMaxClients() int {
	v := os.Getenv(EnvWorkerMaxClient)
	if v == "" {
		return defaultWorkerMaxClient
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return defaultWorkerMaxClient
	}
	return n
}

// WorkerArgs returns the whitespace-split argument list appended to
// every spawned worker's command line. Priority: env var > config file >
// default.
func WorkerArgs() []string {
	v := os.Getenv(EnvWorkerArgs)
	if v == "" {
		configMu.RLock()
		v = loadedConfig.WorkerArgs
		configMu.RUnlock()
	}
	if v == "" {
		v = defaultWorkerArgs
	}
	return strings.Fields(v)
}

// WorkerExecutable returns an operator-configured worker binary path, or
// "" when none is set, in which case workerproc.Spawn re-executes the
// running binary under its worker-shim subcommand (this Go
// implementation has no embedded language runtime of its own).
func WorkerExecutable() string {
	return os.Getenv(EnvWorkerExecPath)
}

// WorkerTTL returns the idle duration after which a worker with no
// active sessions self-exits. 0 disables the check.
func WorkerTTL() time.Duration {
	v := os.Getenv(EnvWorkerTTL)
	if v == "" {
		return defaultWorkerTTL
	}
	seconds, err := strconv.Atoi(v)
	if err != nil || seconds < 0 {
		return defaultWorkerTTL
	}
	return time.Duration(seconds) * time.Second
}

// EnvFilterPrefixes returns the comma-separated list of environment-key
// prefixes excluded from the fingerprint and from the cached environment
// (§4.1's "configured prefix" used to filter benchmark-harness noise).
func EnvFilterPrefixes() []string {
	v := os.Getenv(EnvFilterPrefixesKey)
	if v == "" {
		return []string{defaultFilterPrefix}
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Debug levels, ordered from least to most verbose.
const (
	LogError = iota
	LogWarn
	LogInfo
	LogDebug
	LogTrace
)

// DebugLevel returns the logging verbosity requested via WARMD_DEBUG.
func DebugLevel() int {
	switch os.Getenv(EnvDebug) {
	case "trace":
		return LogTrace
	case "debug", "1", "true":
		return LogDebug
	case "info":
		return LogInfo
	case "warn":
		return LogWarn
	default:
		return LogError
	}
}

// LogPath returns the conductor's log file path, alongside its socket.
func LogPath() string {
	return filepath.Join(filepath.Dir(SocketPath()), "conductor.log")
}
