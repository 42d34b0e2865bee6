package muxclient

import (
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/warmrun/warmd/internal/config"
	"github.com/warmrun/warmd/internal/protocol"
)

// dialConductor implements Stage 1: resolve the server endpoint via
// config.SocketPath (env var, then config file, then the
// XDG_RUNTIME_DIR-derived default), and connect to it — a Unix socket
// path by default, or TCP for one of the ":PORT" / "[IPv6]:PORT" /
// "IPv4:PORT" forms (§4.4).
func dialConductor() (net.Conn, error) {
	endpoint := config.SocketPath()
	network, address := config.ParseEndpoint(endpoint)
	conn, err := net.Dial(network, address)
	if err != nil {
		return nil, fmt.Errorf("connect to conductor at %s: %w", endpoint, err)
	}
	return conn, nil
}

// sendInitialFrame implements Stage 2: build and write the handshake
// frame described in §4.1, fingerprinting the current process
// environment with the operator-configured exclusion prefixes.
func sendInitialFrame(conn net.Conn, tty bool, cwd string, args []string) error {
	env := currentEnv()
	fingerprint := protocol.Fingerprint(env, config.EnvFilterPrefixes())
	frame := protocol.InitialFrame{
		TTY:            tty,
		PID:            uint32(os.Getpid()),
		CWD:            cwd,
		EnvFingerprint: fingerprint,
		Args:           args,
	}
	encoded, err := protocol.EncodeInitialFrame(frame)
	if err != nil {
		return fmt.Errorf("encode initial frame: %w", err)
	}
	_, err = conn.Write(encoded)
	return err
}

// completeHandshake implements Stage 3: read the cache-miss marker,
// optionally send the full environment, then read the two session
// socket paths.
func completeHandshake(conn net.Conn) (stdioPath, signalsPath string, err error) {
	cacheMiss, first, err := protocol.PeekHandshakeMarker(conn)
	if err != nil {
		return "", "", fmt.Errorf("read handshake marker: %w", err)
	}
	if !cacheMiss {
		return protocol.ReadSocketPathsAfterMarker(conn, false, first)
	}

	if err := protocol.WriteEnvPairs(conn, currentEnv()); err != nil {
		return "", "", fmt.Errorf("send environment: %w", err)
	}
	stdioPath, signalsPath, err = protocol.ReadSocketPaths(conn)
	if err != nil {
		return "", "", fmt.Errorf("read socket paths: %w", err)
	}
	return stdioPath, signalsPath, nil
}

// dialSessionSocket connects to a worker-assigned session socket, then
// removes the socket file per Stage 3 ("so workers may immediately
// re-listen").
func dialSessionSocket(path string) (net.Conn, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", path, err)
	}
	_ = os.Remove(path)
	return conn, nil
}

func currentEnv() []protocol.EnvPair {
	raw := os.Environ()
	pairs := make([]protocol.EnvPair, 0, len(raw))
	for _, kv := range raw {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		pairs = append(pairs, protocol.EnvPair{Key: key, Value: value})
	}
	return pairs
}
