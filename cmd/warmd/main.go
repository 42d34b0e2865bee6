// Command warmd is the conductor daemon: it owns the listening socket,
// the worker pool, and the reserve slot, and it re-executes itself under
// the hidden worker-shim subcommand to play the worker role (internal/
// workerproc.Spawn's self-reexec fallback). Structured after the
// teacher's cmd/attn/main.go subcommand dispatch.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/warmrun/warmd/internal/conductor"
	"github.com/warmrun/warmd/internal/config"
	"github.com/warmrun/warmd/internal/logging"
	"github.com/warmrun/warmd/internal/workershim"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "worker-shim" {
		runWorkerShim(os.Args[2:])
		return
	}
	runConductor()
}

func runConductor() {
	socketPath := config.SocketPath()
	runtimeDir := filepath.Dir(socketPath)

	log, err := logging.New(config.LogPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "warmd: open log: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	c := conductor.New(socketPath, runtimeDir, log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		c.Stop()
		os.Exit(0)
	}()

	if err := c.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "warmd: %v\n", err)
		os.Exit(1)
	}
}

// runWorkerShim extracts --control-socket from args and otherwise
// ignores them: the rest (config.WorkerArgs) are opaque host-runtime
// flags this stub has no interpreter to forward them to.
func runWorkerShim(args []string) {
	controlSocket := extractFlagValue(args, "--control-socket")
	if controlSocket == "" {
		fmt.Fprintln(os.Stderr, "worker-shim: --control-socket is required")
		os.Exit(1)
	}

	log, err := logging.New(filepath.Join(filepath.Dir(controlSocket), "worker.log"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "worker-shim: open log: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	if err := workershim.Run(context.Background(), controlSocket, log); err != nil {
		log.Errorf("worker-shim: %v", err)
		os.Exit(1)
	}
}

func extractFlagValue(args []string, name string) string {
	for i, a := range args {
		if a == name && i+1 < len(args) {
			return args[i+1]
		}
		if strings.HasPrefix(a, name+"=") {
			return strings.TrimPrefix(a, name+"=")
		}
	}
	return ""
}
