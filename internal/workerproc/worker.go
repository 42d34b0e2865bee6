// Package workerproc implements the conductor-side half of a worker: the
// process handle, its control connection, and the pool/reserve-slot
// bookkeeping described in spec.md's Data Model (Worker, WorkerPool,
// ReserveSlot). Spawning follows the teacher's internal/ptybackend/worker.go
// Spawn() shape (self-reexec, readiness polling, graceful-then-forced
// kill) — see DESIGN.md.
package workerproc

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/warmrun/warmd/internal/config"
	"github.com/warmrun/warmd/internal/ctrlproto"
	"github.com/warmrun/warmd/internal/logging"
)

const (
	spawnReadyTimeout    = 8 * time.Second
	spawnKillGracePeriod = 1 * time.Second
)

var workerSeq atomic.Uint32

// Worker is one OS child process bound to at most one project path, with
// its control connection serialised under mu per spec.md's Data Model
// invariant: "every interaction with a worker's control connection is
// serialised".
type Worker struct {
	ID            uint32
	CTime         time.Time
	ProjectPath   string // empty while unassigned (reserve)
	ControlSocket string

	mu          sync.Mutex
	process     *os.Process
	conn        net.Conn
	listener    net.Listener
	clientCount int
	softExit    bool

	log *logging.Logger
}

// Spawn launches a worker subprocess, then accepts its control-socket
// dial-in. The control socket is conductor-owned (per the Data Model's
// "control_socket (listening server + one accepted connection)"); the
// worker subprocess is handed its path and dials in, as described in
// §4.2 ("a worker ... connects to a conductor-provided control socket").
func Spawn(ctx context.Context, runtimeDir string, log *logging.Logger) (*Worker, error) {
	id := workerSeq.Add(1)
	controlSocket := socketPathFor(runtimeDir, "control", id)

	if err := os.MkdirAll(runtimeDir, 0700); err != nil {
		return nil, fmt.Errorf("create worker runtime dir: %w", err)
	}
	_ = os.Remove(controlSocket)
	listener, err := net.Listen("unix", controlSocket)
	if err != nil {
		return nil, fmt.Errorf("listen worker control socket: %w", err)
	}

	exePath := config.WorkerExecutable()
	if exePath == "" {
		// No operator-configured host runtime: this Go reimplementation has
		// no embedded interpreter of its own, so the worker role is played
		// by re-executing this same binary under its hidden subcommand
		// (grounded on the teacher's self-reexec pty-worker pattern).
		exePath, err = os.Executable()
		if err != nil {
			_ = listener.Close()
			return nil, fmt.Errorf("resolve worker executable: %w", err)
		}
	}

	args := append([]string{"worker-shim", "--control-socket", controlSocket}, config.WorkerArgs()...)
	cmd := exec.CommandContext(ctx, exePath, args...)
	cmd.Env = os.Environ()
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("start worker process: %w", err)
	}

	conn, err := acceptWithTimeout(listener, spawnReadyTimeout)
	if err != nil {
		_ = listener.Close()
		killProcess(cmd.Process)
		return nil, fmt.Errorf("worker did not dial control socket: %w", err)
	}

	w := &Worker{
		ID:            id,
		CTime:         time.Now(),
		ControlSocket: controlSocket,
		process:       cmd.Process,
		conn:          conn,
		listener:      listener,
		log:           log,
	}
	go w.reapOnExit(cmd)
	return w, nil
}

func acceptWithTimeout(listener net.Listener, timeout time.Duration) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := listener.Accept()
		ch <- result{conn, err}
	}()
	select {
	case r := <-ch:
		return r.conn, r.err
	case <-time.After(timeout):
		return nil, fmt.Errorf("timed out after %s", timeout)
	}
}

func (w *Worker) reapOnExit(cmd *exec.Cmd) {
	_ = cmd.Wait()
}

// Alive reports whether the worker's process is still running.
func (w *Worker) Alive() bool {
	w.mu.Lock()
	proc := w.process
	w.mu.Unlock()
	if proc == nil {
		return false
	}
	return processAlive(proc.Pid)
}

// ClientCount returns the number of active sessions on this worker.
func (w *Worker) ClientCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.clientCount
}

// SendClient sends the tagged `client` control message carrying encoded
// ClientInfo, and returns the two socket-path replies the worker sends
// back (§4.2 step (b)).
func (w *Worker) SendClient(encodedClientInfo []byte) (stdioPath, signalsPath string, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := ctrlproto.Write(w.conn, ctrlproto.Message{Tag: ctrlproto.TagClient, Payload: encodedClientInfo}); err != nil {
		return "", "", fmt.Errorf("send client message: %w", err)
	}
	paths := map[string]string{}
	for i := 0; i < 2; i++ {
		msg, err := ctrlproto.Read(w.conn)
		if err != nil {
			return "", "", fmt.Errorf("read socket reply: %w", err)
		}
		name, path, err := ctrlproto.ReadSocketReply(msg)
		if err != nil {
			return "", "", err
		}
		paths[name] = path
	}
	w.clientCount++
	return paths["stdio"], paths["signals"], nil
}

// NoteSessionEnded decrements the active session count, called once a
// session's exit signal has been observed.
func (w *Worker) NoteSessionEnded() {
	w.mu.Lock()
	w.clientCount--
	if w.clientCount < 0 {
		w.clientCount = 0
	}
	w.mu.Unlock()
}

// Eval sends the tagged `eval` control message and returns the worker's
// serialised result. Used to bind a reserve worker to a project
// (eval(set_project(P))) and for the reserve warm-up. ClientCount does
// not go through Eval: it reads a conductor-side counter.
func (w *Worker) Eval(expr string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := ctrlproto.Write(w.conn, ctrlproto.Message{Tag: ctrlproto.TagEval, Payload: []byte(expr)}); err != nil {
		return "", fmt.Errorf("send eval message: %w", err)
	}
	msg, err := ctrlproto.Read(w.conn)
	if err != nil {
		return "", fmt.Errorf("read eval reply: %w", err)
	}
	switch msg.Tag {
	case ctrlproto.TagValue:
		return string(msg.Payload), nil
	case ctrlproto.TagError:
		return "", fmt.Errorf("worker eval error: %s", msg.Payload)
	default:
		return "", fmt.Errorf("unexpected eval reply tag %q", msg.Tag)
	}
}

// SoftExit sends the tagged `softexit` message: the worker exits
// immediately if idle, else exits once its last session ends.
func (w *Worker) SoftExit() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return ctrlproto.Write(w.conn, ctrlproto.Message{Tag: ctrlproto.TagSoftExit})
}

// Kill terminates the worker process and releases its control socket.
func (w *Worker) Kill() {
	w.mu.Lock()
	proc := w.process
	conn := w.conn
	listener := w.listener
	w.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if listener != nil {
		_ = listener.Close()
	}
	killProcess(proc)
}

func killProcess(proc *os.Process) {
	if proc == nil {
		return
	}
	if !processAlive(proc.Pid) {
		return
	}
	_ = proc.Signal(os.Interrupt)
	deadline := time.Now().Add(spawnKillGracePeriod)
	for time.Now().Before(deadline) {
		if !processAlive(proc.Pid) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	_ = proc.Kill()
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func socketPathFor(runtimeDir, kind string, id uint32) string {
	return runtimeDir + "/" + kind + "-" + strconv.FormatUint(uint64(id), 10) + "-" + uuid.NewString()[:8] + ".sock"
}
