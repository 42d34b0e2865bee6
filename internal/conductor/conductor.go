// Package conductor implements the daemon side of spec.md §4.4: a
// sequential accept loop that completes the client handshake inline
// (no thread-per-connection, per the measured latency rationale),
// dispatches on switches, and routes to the worker pool. Structurally
// grounded on the teacher's internal/daemon/daemon.go (New/Start/Stop,
// accept loop, done-channel shutdown); the pool/reserve/worker pieces it
// drives live in internal/workerproc.
package conductor

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/warmrun/warmd/internal/config"
	"github.com/warmrun/warmd/internal/envcache"
	"github.com/warmrun/warmd/internal/logging"
	"github.com/warmrun/warmd/internal/pathutil"
	"github.com/warmrun/warmd/internal/workerproc"
)

// Version is the canned version banner served for -v/--version.
const Version = "warmd 0.1.0 (julia-daemon-mode compatible)"

// HelpText is the canned help string served for -h/--help.
const HelpText = `usage: warmclient [switches] [program_file] [args...]

  -e, --eval EXPR        evaluate EXPR in the session namespace
  -E, --print EXPR       evaluate EXPR and print its result
  -L, --load FILE        include FILE into the session namespace
  -i                     force an interactive REPL
      --project[=DIR]    select the active project (@. searches upward)
      --banner=yes|no|auto
      --color=yes|no|auto
      --history-file=yes|no
  -q, --quiet            suppress the REPL banner
      --restart          kill the workers for the active project
  -v, --version          print the version banner
  -h, --help             print this message
`

// Conductor owns the listening socket, the worker pool, and the reserve
// slot for one daemon instance.
type Conductor struct {
	socketPath string
	runtimeDir string
	listener   net.Listener
	pool       *workerproc.Pool
	reserve    *workerproc.ReserveSlot
	envCache   *envcache.Cache
	log        *logging.Logger
	done       chan struct{}

	// spawnFn creates a fresh unbound worker; a field rather than a direct
	// call to workerproc.Spawn so tests can substitute a fake spawner.
	spawnFn func(context.Context) (*workerproc.Worker, error)
}

// New builds a Conductor bound to socketPath, spawning workers under
// runtimeDir.
func New(socketPath, runtimeDir string, log *logging.Logger) *Conductor {
	c := &Conductor{
		socketPath: socketPath,
		runtimeDir: runtimeDir,
		pool:       workerproc.NewPool(),
		envCache:   envcache.New(5),
		log:        log,
		done:       make(chan struct{}),
	}
	c.spawnFn = func(ctx context.Context) (*workerproc.Worker, error) {
		return workerproc.Spawn(ctx, c.runtimeDir, c.log)
	}
	c.reserve = workerproc.NewReserveSlot(c.spawnWorker, c.warmUpReserve)
	return c
}

// Start implements the main loop's opening two steps
// (ensure_worker_env, spawn_background(create_reserve_worker)) then
// serves connections sequentially until Stop is called.
func (c *Conductor) Start() error {
	if err := ensureWorkerEnv(); err != nil {
		c.log.Errorf("conductor: ensure worker env: %v", err)
	}

	network, address := config.ParseEndpoint(c.socketPath)
	if network == "unix" {
		if err := os.MkdirAll(filepath.Dir(address), 0700); err != nil {
			return fmt.Errorf("create socket dir: %w", err)
		}
		_ = os.Remove(address)
	}
	listener, err := net.Listen(network, address)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	c.listener = listener
	c.log.Infof("conductor: listening on %s %s", network, address)

	c.reserve.Ensure(context.Background())

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-c.done:
				return nil
			default:
				c.log.Errorf("conductor: accept: %v", err)
				continue
			}
		}
		c.serveOnce(conn)
	}
}

// Stop implements §4.4's shutdown sequence: kill every worker, kill the
// reserve, then remove the server socket file — recursively removing the
// daemon runtime directory instead when the socket lives inside it.
func (c *Conductor) Stop() {
	close(c.done)
	if c.listener != nil {
		_ = c.listener.Close()
	}
	c.pool.Shutdown()
	if w := c.reserve.Take(); w != nil {
		w.Kill()
	}
	if network, address := config.ParseEndpoint(c.socketPath); network == "unix" {
		if rel, err := filepath.Rel(c.runtimeDir, address); err == nil && !strings.HasPrefix(rel, "..") {
			_ = os.RemoveAll(c.runtimeDir)
		} else {
			_ = os.Remove(address)
		}
	}
	c.log.Info("conductor: stopped")
}

func (c *Conductor) spawnWorker(ctx context.Context) (*workerproc.Worker, error) {
	return c.spawnFn(ctx)
}

// warmUpReserve is the reserve warm-up pass: it evaluates "nothing" in
// the worker's top scope through one eval control message. It does not
// start a client session, so no session sockets are created.
func (c *Conductor) warmUpReserve(w *workerproc.Worker) error {
	_, err := w.Eval("nothing")
	return err
}

// ensureWorkerEnv performs the conductor-side environment repair the
// teacher's macOS launch path needed before spawning its first child;
// see internal/pathutil.
func ensureWorkerEnv() error {
	return pathutil.EnsureWorkerPath()
}
