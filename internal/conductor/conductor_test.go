package conductor

import (
	"bytes"
	"context"
	"errors"
	"net"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/warmrun/warmd/internal/envcache"
	"github.com/warmrun/warmd/internal/logging"
	"github.com/warmrun/warmd/internal/protocol"
	"github.com/warmrun/warmd/internal/workerproc"
)

func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	log, err := logging.New(filepath.Join(t.TempDir(), "conductor.log"))
	if err != nil {
		t.Fatalf("logging.New: %v", err)
	}
	t.Cleanup(func() { log.Close() })
	return log
}

// newTestConductor builds a Conductor without Start()'s socket/reserve
// side effects, so tests can drive serveOnce's pieces directly.
func newTestConductor(t *testing.T, spawnFn func(context.Context) (*workerproc.Worker, error)) *Conductor {
	t.Helper()
	if spawnFn == nil {
		spawnFn = func(context.Context) (*workerproc.Worker, error) {
			t.Fatal("spawnFn should not have been called")
			return nil, nil
		}
	}
	c := &Conductor{
		runtimeDir: t.TempDir(),
		pool:       workerproc.NewPool(),
		envCache:   envcache.New(5),
		log:        testLogger(t),
		done:       make(chan struct{}),
		spawnFn:    spawnFn,
	}
	c.reserve = workerproc.NewReserveSlot(c.spawnWorker, c.warmUpReserve)
	return c
}

func TestResolveEnv_CacheHit(t *testing.T) {
	c := newTestConductor(t, nil)
	want := []protocol.EnvPair{{Key: "PATH", Value: "/bin"}}
	c.envCache.Insert(42, want)

	// Neither end of this pipe is ever driven: a cache hit must not touch
	// the connection at all.
	sideA, sideB := net.Pipe()
	defer sideA.Close()
	defer sideB.Close()

	got, err := c.resolveEnv(sideA, 42)
	if err != nil {
		t.Fatalf("resolveEnv: %v", err)
	}
	if len(got) != 1 || got[0] != want[0] {
		t.Errorf("resolveEnv() = %+v, want %+v", got, want)
	}
}

func TestResolveEnv_CacheMiss(t *testing.T) {
	c := newTestConductor(t, nil)
	sideA, sideB := net.Pipe()
	defer sideA.Close()
	defer sideB.Close()

	want := []protocol.EnvPair{{Key: "HOME", Value: "/home/u"}}
	errCh := make(chan error, 1)
	go func() {
		var marker [1]byte
		if _, err := sideB.Read(marker[:]); err != nil {
			errCh <- err
			return
		}
		if err := protocol.WriteEnvPairs(sideB, want); err != nil {
			errCh <- err
			return
		}
		if marker[0] != protocol.CacheMissByte {
			errCh <- errors.New("first byte from conductor is not CacheMissByte")
			return
		}
		errCh <- nil
	}()

	got, err := c.resolveEnv(sideA, 7)
	if err != nil {
		t.Fatalf("resolveEnv: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("driver goroutine: %v", err)
	}
	if len(got) != 1 || got[0] != want[0] {
		t.Errorf("resolveEnv() = %+v, want %+v", got, want)
	}
	if cached, hit := c.envCache.Lookup(7); !hit || len(cached) != 1 || cached[0] != want[0] {
		t.Errorf("env not cached after miss: %+v, hit=%v", cached, hit)
	}
}

// dialHandshakeClient plays the client half of the full §4.1 handshake:
// a marker byte that may or may not be followed by an env round-trip,
// then an entirely separate socket-paths reply written by whichever
// dispatch branch served the request.
func dialHandshakeClient(t *testing.T, conn net.Conn) (stdio, signals net.Conn) {
	t.Helper()
	cacheMiss, first, err := protocol.PeekHandshakeMarker(conn)
	if err != nil {
		t.Fatalf("PeekHandshakeMarker: %v", err)
	}

	var stdioPath, signalsPath string
	if cacheMiss {
		if err := protocol.WriteEnvPairs(conn, nil); err != nil {
			t.Fatalf("WriteEnvPairs: %v", err)
		}
		stdioPath, signalsPath, err = protocol.ReadSocketPaths(conn)
		if err != nil {
			t.Fatalf("ReadSocketPaths: %v", err)
		}
	} else {
		stdioPath, signalsPath, err = protocol.ReadSocketPathsAfterMarker(conn, false, first)
		if err != nil {
			t.Fatalf("ReadSocketPathsAfterMarker: %v", err)
		}
	}
	return dialRetrying(t, stdioPath), dialRetrying(t, signalsPath)
}

func dialRetrying(t *testing.T, path string) net.Conn {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.Dial("unix", path)
		if err == nil {
			return conn
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("could not dial %s", path)
	return nil
}

func readExitCode(t *testing.T, conn net.Conn) int {
	t.Helper()
	parser := protocol.NewSignalParser()
	buf := make([]byte, 256)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, err := conn.Read(buf)
		if n > 0 {
			frames, ferr := parser.Feed(buf[:n])
			if ferr != nil {
				t.Fatalf("signal parse: %v", ferr)
			}
			for _, f := range frames {
				code, err := f.ExitCode()
				if err != nil {
					t.Fatalf("ExitCode: %v", err)
				}
				return code
			}
		}
		if err != nil && !isTimeoutErr(err) {
			t.Fatalf("read signals: %v", err)
		}
	}
	t.Fatal("timed out waiting for exit signal")
	return -1
}

func isTimeoutErr(err error) bool {
	type timeout interface{ Timeout() bool }
	te, ok := err.(timeout)
	return ok && te.Timeout()
}

func dialCannedClient(t *testing.T, conn net.Conn) (stdio, signals net.Conn) {
	t.Helper()
	stdioPath, signalsPath, err := protocol.ReadSocketPaths(conn)
	if err != nil {
		t.Fatalf("ReadSocketPaths: %v", err)
	}
	return dialRetrying(t, stdioPath), dialRetrying(t, signalsPath)
}

func TestServeCanned_WritesTextAndExitSignal(t *testing.T) {
	c := newTestConductor(t, nil)
	sideA, sideB := net.Pipe()

	go c.serveCanned(sideA, "hello from conductor\n", 0)

	stdio, signals := dialCannedClient(t, sideB)
	defer stdio.Close()
	defer signals.Close()

	buf := make([]byte, 64)
	stdio.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := stdio.Read(buf)
	if err != nil {
		t.Fatalf("read stdio: %v", err)
	}
	if got := string(buf[:n]); got != "hello from conductor\n" {
		t.Errorf("stdio = %q, want %q", got, "hello from conductor\n")
	}
	if code := readExitCode(t, signals); code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
}

func TestServeRestart_KillsBucketAndReportsCount(t *testing.T) {
	c := newTestConductor(t, nil)
	c.pool.Add("/proj", &workerproc.Worker{ID: 1})
	c.pool.Add("/proj", &workerproc.Worker{ID: 2})

	sideA, sideB := net.Pipe()
	go c.serveRestart(sideA, protocol.ClientInfo{
		CWD:      "/proj",
		Switches: []protocol.Switch{{Name: protocol.SwitchProject, Value: "/proj"}},
	})

	stdio, signals := dialCannedClient(t, sideB)
	defer stdio.Close()
	defer signals.Close()

	buf := make([]byte, 128)
	stdio.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := stdio.Read(buf)
	if err != nil {
		t.Fatalf("read stdio: %v", err)
	}
	if !bytes.Contains(buf[:n], []byte("killed 2 worker(s)")) {
		t.Errorf("stdio = %q, want mention of killed 2 worker(s)", buf[:n])
	}
	readExitCode(t, signals)

	if len(c.pool.All()) != 0 {
		t.Errorf("pool should be empty after --restart, got %d workers", len(c.pool.All()))
	}
}

func TestAcquireWorker_SpawnsFreshWhenPoolAndReserveEmpty(t *testing.T) {
	var spawnCount atomic.Int32
	c := newTestConductor(t, func(context.Context) (*workerproc.Worker, error) {
		n := spawnCount.Add(1)
		return &workerproc.Worker{ID: uint32(n)}, nil
	})

	w := c.acquireWorker("/proj")
	if w == nil {
		t.Fatal("acquireWorker() = nil, want a freshly spawned worker")
	}
	if spawnCount.Load() != 1 {
		t.Errorf("spawnFn called %d times, want 1", spawnCount.Load())
	}
	if len(c.pool.All()) != 1 {
		t.Errorf("pool should contain the spawned worker")
	}
}

func TestAcquireWorker_SpawnErrorReturnsNil(t *testing.T) {
	c := newTestConductor(t, func(context.Context) (*workerproc.Worker, error) {
		return nil, errors.New("spawn failed")
	})
	if w := c.acquireWorker("/proj"); w != nil {
		t.Errorf("acquireWorker() = %v, want nil on spawn failure", w)
	}
}

func TestServeOnce_HelpSwitchServesHelpText(t *testing.T) {
	c := newTestConductor(t, nil)
	clientConn, conductorConn := net.Pipe()
	defer clientConn.Close()

	go c.serveOnce(conductorConn)

	frame := protocol.InitialFrame{CWD: "/tmp", Args: []string{"-h"}}
	encoded, err := protocol.EncodeInitialFrame(frame)
	if err != nil {
		t.Fatalf("EncodeInitialFrame: %v", err)
	}
	if _, err := clientConn.Write(encoded); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	stdio, signals := dialHandshakeClient(t, clientConn)
	defer stdio.Close()
	defer signals.Close()

	buf := make([]byte, len(HelpText)+16)
	stdio.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := stdio.Read(buf)
	if err != nil {
		t.Fatalf("read stdio: %v", err)
	}
	if string(buf[:n]) != HelpText {
		t.Errorf("stdio = %q, want HelpText", buf[:n])
	}
	if code := readExitCode(t, signals); code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
}
