package conductor

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/warmrun/warmd/internal/config"
	"github.com/warmrun/warmd/internal/project"
	"github.com/warmrun/warmd/internal/protocol"
	"github.com/warmrun/warmd/internal/workerproc"
)

const cannedAcceptTimeout = 5 * time.Second

// serveOnce implements serve_once(): parse the initial frame, complete
// the env-fingerprint cache handshake, then dispatch on switches. It
// never spawns a goroutine per connection, per §4.4's latency rationale.
func (c *Conductor) serveOnce(conn net.Conn) {
	defer conn.Close()

	frame, err := protocol.ReadInitialFrame(conn)
	if err != nil {
		c.log.Errorf("conductor: read initial frame: %v", err)
		return
	}

	env, err := c.resolveEnv(conn, frame.EnvFingerprint)
	if err != nil {
		c.log.Errorf("conductor: env handshake: %v", err)
		return
	}

	switches, programFile, hasProgramFile, progArgs := protocol.ParseSwitches(frame.Args)
	info := protocol.ClientInfo{
		TTY:            frame.TTY,
		PID:            frame.PID,
		CWD:            frame.CWD,
		EnvFingerprint: frame.EnvFingerprint,
		Env:            env,
		Args:           progArgs,
		Switches:       switches,
		ProgramFile:    programFile,
		HasProgramFile: hasProgramFile,
	}

	switch {
	case info.HasSwitch(protocol.SwitchHelp):
		c.serveCanned(conn, HelpText, 0)
	case info.HasSwitch(protocol.SwitchVersion):
		c.serveCanned(conn, Version+"\n", 0)
	case info.HasSwitch(protocol.SwitchRestart):
		c.serveRestart(conn, info)
	default:
		c.serveSession(conn, info)
	}
}

// resolveEnv implements §4.1's cache-miss protocol: a lone CacheMissByte
// write, then the client's full environment, read and cached; or
// nothing at all on a hit.
func (c *Conductor) resolveEnv(conn net.Conn, fingerprint uint64) ([]protocol.EnvPair, error) {
	if cached, hit := c.envCache.Lookup(fingerprint); hit {
		return cached, nil
	}
	if _, err := conn.Write([]byte{protocol.CacheMissByte}); err != nil {
		return nil, fmt.Errorf("write cache-miss marker: %w", err)
	}
	env, err := protocol.ReadEnvPairs(conn)
	if err != nil {
		return nil, fmt.Errorf("read client env: %w", err)
	}
	c.envCache.Insert(fingerprint, env)
	return env, nil
}

func (c *Conductor) serveRestart(conn net.Conn, info protocol.ClientInfo) {
	proj := project.Resolve(info, info.CWD, envMapFrom(info.Env))
	count := c.pool.RemoveProject(proj)
	c.serveCanned(conn, fmt.Sprintf("Reset: killed %d worker(s) for %s\n", count, proj), 0)
}

func (c *Conductor) serveSession(conn net.Conn, info protocol.ClientInfo) {
	proj := project.Resolve(info, info.CWD, envMapFrom(info.Env))
	w := c.acquireWorker(proj)
	if w == nil {
		c.serveCanned(conn, "error: could not acquire a worker\n", 1)
		return
	}

	stdioPath, signalsPath, err := w.SendClient(protocol.EncodeClientInfo(info))
	if err != nil {
		c.log.Errorf("conductor: send client to worker %d: %v", w.ID, err)
		c.serveCanned(conn, fmt.Sprintf("error: %v\n", err), 1)
		return
	}
	if err := protocol.WriteSocketPathsReply(conn, false, stdioPath, signalsPath); err != nil {
		c.log.Errorf("conductor: send socket paths reply: %v", err)
	}
}

// acquireWorker implements §4.4's pool-lookup algorithm, steps 1-4.
func (c *Conductor) acquireWorker(proj string) *workerproc.Worker {
	if w := c.pool.Lookup(proj, config.WorkerMaxClients()); w != nil {
		return w
	}
	if w := c.reserve.Take(); w != nil {
		if _, err := w.Eval(fmt.Sprintf("set_project(%q)", proj)); err != nil {
			c.log.Errorf("conductor: bind reserve worker %d to %s: %v", w.ID, proj, err)
		}
		c.pool.Add(proj, w)
		return w
	}
	w, err := c.spawnWorker(context.Background())
	if err != nil {
		c.log.Errorf("conductor: spawn worker for %s: %v", proj, err)
		return nil
	}
	c.pool.Add(proj, w)
	return w
}

// serveCanned replies to -h/--help, -v/--version, and --restart: a
// freshly minted stdio/signals socket pair carrying text and an exit
// signal, per §4.4's dispatch table.
func (c *Conductor) serveCanned(conn net.Conn, text string, exitCode int) {
	id := uuid.NewString()[:8]
	stdioPath := filepath.Join(c.runtimeDir, "canned-stdio-"+id+".sock")
	signalsPath := filepath.Join(c.runtimeDir, "canned-signals-"+id+".sock")

	stdioListener, err := net.Listen("unix", stdioPath)
	if err != nil {
		c.log.Errorf("conductor: listen canned stdio socket: %v", err)
		return
	}
	defer stdioListener.Close()
	signalsListener, err := net.Listen("unix", signalsPath)
	if err != nil {
		c.log.Errorf("conductor: listen canned signals socket: %v", err)
		return
	}
	defer signalsListener.Close()

	if err := protocol.WriteSocketPathsReply(conn, false, stdioPath, signalsPath); err != nil {
		c.log.Errorf("conductor: send canned socket paths reply: %v", err)
		return
	}

	stdioConn, err := acceptWithTimeout(stdioListener, cannedAcceptTimeout)
	if err != nil {
		c.log.Errorf("conductor: accept canned stdio connection: %v", err)
		return
	}
	defer stdioConn.Close()
	signalsConn, err := acceptWithTimeout(signalsListener, cannedAcceptTimeout)
	if err != nil {
		c.log.Errorf("conductor: accept canned signals connection: %v", err)
		return
	}
	defer signalsConn.Close()

	if _, err := fmt.Fprint(stdioConn, text); err != nil {
		c.log.Errorf("conductor: write canned text: %v", err)
	}
	if _, err := signalsConn.Write(protocol.EncodeExitSignal(exitCode)); err != nil {
		c.log.Errorf("conductor: write canned exit signal: %v", err)
	}
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

func envMapFrom(pairs []protocol.EnvPair) map[string]string {
	m := make(map[string]string, len(pairs))
	for _, p := range pairs {
		m[p.Key] = p.Value
	}
	return m
}
