// Package workershim implements the in-worker supervisor spec.md §4.2
// describes: a subprocess that dials the conductor-provided control
// socket, enters a tagged-message loop, and materialises one isolated
// session per `client` message. It is the worker-side counterpart of
// internal/workerproc, grounded on the same conductor<->worker protocol
// (internal/ctrlproto) and, for its accept/reap/TTL shape, on the
// teacher's internal/ptyworker/runtime.go.
package workershim

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/warmrun/warmd/internal/config"
	"github.com/warmrun/warmd/internal/ctrlproto"
	"github.com/warmrun/warmd/internal/evalhost"
	"github.com/warmrun/warmd/internal/logging"
	"github.com/warmrun/warmd/internal/protocol"
)

const (
	dialRetryPeriod = 25 * time.Millisecond
	dialTimeout     = 5 * time.Second
	acceptTimeout   = 8 * time.Second
)

// Runtime is one worker process's state: its control connection, the
// host used to build per-client namespaces, and the bookkeeping the
// per-session semantics and TTL timer both need.
type Runtime struct {
	host       evalhost.Host
	conn       net.Conn
	runtimeDir string
	log        *logging.Logger
	ttl        time.Duration

	mu       sync.Mutex
	clients  map[uint64]time.Time
	nextID   uint64
	softExit bool
	ttlTimer *time.Timer

	// envMu serialises the environment-override window of concurrent
	// sessions: Go's process environment is global, so "scoped to this
	// session" (§4.2 step 3) can only be honoured by taking turns.
	envMu sync.Mutex

	// exitFunc terminates the worker process; overridden in tests so
	// self-exit paths are observable without killing the test binary.
	exitFunc func(code int)
}

// Run dials controlSocket, then services control messages until the
// connection closes (the conductor hangs up to kill this worker) or ctx
// is cancelled.
func Run(ctx context.Context, controlSocket string, log *logging.Logger) error {
	conn, err := dialWithRetry(ctx, controlSocket)
	if err != nil {
		return fmt.Errorf("dial control socket: %w", err)
	}
	rt := &Runtime{
		host:       evalhost.NewStubHost(),
		conn:       conn,
		runtimeDir: filepath.Dir(controlSocket),
		log:        log,
		ttl:        config.WorkerTTL(),
		clients:    make(map[uint64]time.Time),
		exitFunc:   os.Exit,
	}
	defer conn.Close()
	return rt.loop(ctx)
}

func dialWithRetry(ctx context.Context, path string) (net.Conn, error) {
	deadline := time.Now().Add(dialTimeout)
	var lastErr error
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		conn, err := net.Dial("unix", path)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		time.Sleep(dialRetryPeriod)
	}
	return nil, lastErr
}

func (rt *Runtime) loop(ctx context.Context) error {
	for {
		msg, err := ctrlproto.Read(rt.conn)
		if err != nil {
			return err
		}
		switch msg.Tag {
		case ctrlproto.TagClient:
			rt.handleClient(msg.Payload)
		case ctrlproto.TagEval:
			rt.handleEval(msg.Payload)
		case ctrlproto.TagSoftExit:
			if rt.handleSoftExit() {
				rt.log.Info("worker: soft-exit with no active sessions")
				rt.exitFunc(0)
				return nil
			}
		default:
			rt.log.Errorf("worker: unrecognised control tag %q", msg.Tag)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// handleClient implements §4.2's client(ClientInfo) steps (a)-(d): create
// the two session sockets, reply with their paths on the control
// connection (synchronously, since the conductor's SendClient blocks on
// exactly two replies), then hand the accept+session work to a goroutine
// so the control loop can keep servicing eval/softexit messages.
func (rt *Runtime) handleClient(payload []byte) {
	info, err := protocol.DecodeClientInfo(payload)
	if err != nil {
		rt.log.Errorf("worker: decode client info: %v", err)
		return
	}

	id := rt.reserveID()
	stdioPath := sessionSocketPath(rt.runtimeDir, "stdio", id)
	signalsPath := sessionSocketPath(rt.runtimeDir, "signals", id)

	stdioListener, err := net.Listen("unix", stdioPath)
	if err != nil {
		rt.log.Errorf("worker: listen stdio socket: %v", err)
		return
	}
	signalsListener, err := net.Listen("unix", signalsPath)
	if err != nil {
		rt.log.Errorf("worker: listen signals socket: %v", err)
		stdioListener.Close()
		return
	}

	if err := ctrlproto.WriteSocketReply(rt.conn, "stdio", stdioPath); err != nil {
		rt.log.Errorf("worker: send stdio socket reply: %v", err)
		stdioListener.Close()
		signalsListener.Close()
		return
	}
	if err := ctrlproto.WriteSocketReply(rt.conn, "signals", signalsPath); err != nil {
		rt.log.Errorf("worker: send signals socket reply: %v", err)
		stdioListener.Close()
		signalsListener.Close()
		return
	}

	go rt.acceptAndRun(id, info, stdioListener, signalsListener)
}

func (rt *Runtime) acceptAndRun(id uint64, info protocol.ClientInfo, stdioListener, signalsListener net.Listener) {
	defer stdioListener.Close()
	defer signalsListener.Close()

	stdioConn, err := acceptWithTimeout(stdioListener, acceptTimeout)
	if err != nil {
		rt.log.Errorf("worker: accept stdio connection: %v", err)
		return
	}
	signalsConn, err := acceptWithTimeout(signalsListener, acceptTimeout)
	if err != nil {
		rt.log.Errorf("worker: accept signals connection: %v", err)
		stdioConn.Close()
		return
	}

	rt.runSession(id, info, stdioConn, signalsConn)
}

func (rt *Runtime) handleEval(payload []byte) {
	result, err := rt.host.Eval(string(payload))
	if err != nil {
		_ = ctrlproto.Write(rt.conn, ctrlproto.Message{Tag: ctrlproto.TagError, Payload: []byte(err.Error())})
		return
	}
	_ = ctrlproto.Write(rt.conn, ctrlproto.Message{Tag: ctrlproto.TagValue, Payload: []byte(result)})
}

// handleSoftExit returns true when the worker should terminate now
// (there were no active sessions); otherwise it flags soft_exit so the
// last session's cleanup step ends the process.
func (rt *Runtime) handleSoftExit() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if len(rt.clients) == 0 {
		return true
	}
	rt.softExit = true
	return false
}

func (rt *Runtime) reserveID() uint64 {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.nextID++
	return rt.nextID
}

// register records a new session under lock (step 1) and cancels any
// pending TTL timer, since the worker is no longer idle.
func (rt *Runtime) register(id uint64) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.clients[id] = time.Now()
	if rt.ttlTimer != nil {
		rt.ttlTimer.Stop()
		rt.ttlTimer = nil
	}
}

// unregister implements step 8: remove the session and, once no session
// is left, either terminate (soft_exit was requested) or arm a fresh TTL
// timer. No separate last_client_time is kept: the timer is armed when
// the last session ends and cancelled by register.
func (rt *Runtime) unregister(id uint64) {
	rt.mu.Lock()
	delete(rt.clients, id)
	idle := len(rt.clients) == 0
	softExit := rt.softExit
	rt.mu.Unlock()

	if !idle {
		return
	}
	if softExit {
		rt.log.Info("worker: soft-exit after last session ended")
		rt.exitFunc(0)
		return
	}
	rt.armTTL()
}

func (rt *Runtime) armTTL() {
	if rt.ttl <= 0 {
		return
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.ttlTimer != nil {
		rt.ttlTimer.Stop()
	}
	rt.ttlTimer = time.AfterFunc(rt.ttl, func() {
		rt.mu.Lock()
		idleStill := len(rt.clients) == 0
		rt.mu.Unlock()
		if idleStill {
			rt.log.Infof("worker: TTL of %s elapsed with no new session", rt.ttl)
			rt.exitFunc(0)
		}
	})
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

func sessionSocketPath(dir, kind string, id uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%d.sock", kind, id))
}
