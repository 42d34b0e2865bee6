package muxclient

import (
	"io"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/warmrun/warmd/internal/protocol"
)

// multiplexer pumps three streams — stdin->stdio, stdio->stdout,
// signals->parser — until an exit frame arrives, mirroring the teacher's
// connCtx.writeLoop/enqueue channel shape (internal/ptyworker/runtime.go)
// generalised from one outbound queue to three independent pumps.
type multiplexer struct {
	stdio   net.Conn
	signals net.Conn

	exitCode chan int
	sigintCh chan os.Signal
	stopOnce sync.Once
}

func newMultiplexer(stdio, signals net.Conn) *multiplexer {
	return &multiplexer{
		stdio:    stdio,
		signals:  signals,
		exitCode: make(chan int, 1),
		sigintCh: make(chan os.Signal, 1),
	}
}

// run implements Stage 4 and the SIGINT relay described in §4.3. It
// blocks until an exit frame is observed and returns the exit code,
// clamped to 0..255 by protocol.SignalFrame.ExitCode.
func (m *multiplexer) run() int {
	signal.Notify(m.sigintCh, syscall.SIGINT)
	defer signal.Stop(m.sigintCh)

	go m.pumpStdin()
	go m.pumpStdout()
	go m.pumpSignals()
	go m.relaySIGINT()

	code := <-m.exitCode
	m.stop()
	return code
}

// pumpStdin relays local stdin to the worker's stdio socket, verbatim,
// with no line buffering (raw mode already stripped it at the tty).
func (m *multiplexer) pumpStdin() {
	_, _ = io.Copy(m.stdio, os.Stdin)
}

// pumpStdout relays the worker's stdio socket to local stdout.
func (m *multiplexer) pumpStdout() {
	_, _ = io.Copy(os.Stdout, m.stdio)
}

// pumpSignals feeds the signals socket through the fragmentation-
// resilient parser and finishes the multiplexer on the first exit frame
// or framing error.
func (m *multiplexer) pumpSignals() {
	parser := protocol.NewSignalParser()
	buf := make([]byte, 4096)
	for {
		n, err := m.signals.Read(buf)
		if n > 0 {
			frames, ferr := parser.Feed(buf[:n])
			for _, f := range frames {
				if f.Name == protocol.SignalExit {
					code, cerr := f.ExitCode()
					if cerr != nil {
						code = 1
					}
					m.finish(code)
					return
				}
			}
			if ferr != nil {
				os.Stderr.WriteString("warmclient: malformed signal frame: " + ferr.Error() + "\n")
				m.finish(1)
				return
			}
		}
		if err != nil {
			// The worker closed the signals socket without an exit
			// frame: treat as an abnormal termination.
			m.finish(1)
			return
		}
	}
}

// relaySIGINT implements "a SIGINT handler writes a single \x03 byte
// into the stdio socket ... and otherwise does not terminate the
// client." SIGTERM is deliberately left unhandled.
func (m *multiplexer) relaySIGINT() {
	for range m.sigintCh {
		_, _ = m.stdio.Write([]byte{0x03})
	}
}

func (m *multiplexer) finish(code int) {
	m.stopOnce.Do(func() {
		m.exitCode <- code
	})
}

// stop unblocks the stdin/stdout pump goroutines by closing both
// sockets; the client is exiting regardless of whether those Copy calls
// have returned, matching the spec's "no completions remain queued"
// exit condition collapsed to "we know the code now, tear down".
func (m *multiplexer) stop() {
	_ = m.stdio.Close()
	_ = m.signals.Close()
}
