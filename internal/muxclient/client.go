// Package muxclient implements the client half of spec.md §4.3: connect
// to the conductor, complete the handshake, and multiplex stdin/stdout/
// signals against the two session sockets the conductor hands back.
// Grounded on the teacher's internal/client/client.go for the
// dial-then-request shape and on internal/ptyworker/runtime.go's
// channel-driven I/O pumps for the multiplexer.
package muxclient

import (
	"fmt"
	"os"
)

// Run drives the full client lifecycle for one invocation of
// args (the switches and program arguments a user passed on the command
// line) and returns the process exit code.
func Run(args []string) int {
	guard, err := enterRawMode()
	if err != nil {
		fmt.Fprintf(os.Stderr, "warmclient: enter raw mode: %v\n", err)
		return 1
	}
	defer guard.Close()

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "warmclient: getwd: %v\n", err)
		return 1
	}

	conn, err := dialConductor()
	if err != nil {
		fmt.Fprintf(os.Stderr, "warmclient: %v\n", err)
		return 1
	}
	defer conn.Close()

	if err := sendInitialFrame(conn, stdinIsTTY(), cwd, args); err != nil {
		fmt.Fprintf(os.Stderr, "warmclient: send initial frame: %v\n", err)
		return 1
	}

	stdioPath, signalsPath, err := completeHandshake(conn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warmclient: handshake: %v\n", err)
		return 1
	}

	stdioConn, err := dialSessionSocket(stdioPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warmclient: %v\n", err)
		return 1
	}
	defer stdioConn.Close()

	signalsConn, err := dialSessionSocket(signalsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warmclient: %v\n", err)
		return 1
	}
	defer signalsConn.Close()

	mux := newMultiplexer(stdioConn, signalsConn)
	return mux.run()
}
