package evalhost

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// StubHost is a deterministic evalhost.Host with no real language behind
// it. Tests use it, and workershim.Run installs it as the worker's host,
// this module having no other Host implementation. It understands a tiny
// line grammar rather than any real language:
//
//	print <text>      -> writes text + "\n" to stdout, result is text
//	exit <n>          -> raises *SystemExit{Code: n}
//	args              -> prints the namespace's bound args, space joined
//	cwd               -> prints the namespace's bound cwd
//	env <key>         -> prints the session-scoped value of key
//
// Anything else (including "echo ...") is echoed back verbatim as both
// the eval result and stdout output; no command reads from stdin. This is enough to exercise the shim's control flow
// (namespace isolation, switch ordering, SystemExit propagation, REPL
// loop) without a real interpreter, which spec.md places out of scope.
type StubHost struct{}

// NewStubHost returns a ready-to-use StubHost.
func NewStubHost() *StubHost { return &StubHost{} }

func (h *StubHost) Eval(expr string) (string, error) {
	return evalLine(expr, nil, "", nil, nopWriter{})
}

func (h *StubHost) NewNamespace(cwd string, args []string, env map[string]string, stdio Stdio) (Namespace, error) {
	return &stubNamespace{cwd: cwd, args: args, env: env, stdio: stdio}, nil
}

type stubNamespace struct {
	cwd    string
	args   []string
	env    map[string]string
	stdio  Stdio
	closed bool
}

func (n *stubNamespace) Eval(expr string) (string, error) {
	if n.closed {
		return "", ErrNamespaceClosed
	}
	return evalLine(expr, n.args, n.cwd, n.env, n.stdio.Out)
}

func (n *stubNamespace) Include(path string) error {
	if n.closed {
		return ErrNamespaceClosed
	}
	_, err := n.Eval(fmt.Sprintf("print included:%s", path))
	return err
}

func (n *stubNamespace) RunProgram(source io.Reader) error {
	if n.closed {
		return ErrNamespaceClosed
	}
	scanner := bufio.NewScanner(source)
	for scanner.Scan() {
		if _, err := n.Eval(scanner.Text()); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (n *stubNamespace) REPL(opts REPLOptions) error {
	if n.closed {
		return ErrNamespaceClosed
	}
	if opts.ShowBanner && !opts.Quiet {
		fmt.Fprintln(n.stdio.Out, "stub> ")
	}
	scanner := bufio.NewScanner(n.stdio.In)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if _, err := n.Eval(line); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (n *stubNamespace) Close() error {
	n.closed = true
	return nil
}

func evalLine(line string, args []string, cwd string, env map[string]string, out io.Writer) (string, error) {
	fields := strings.SplitN(strings.TrimSpace(line), " ", 2)
	cmd := fields[0]
	rest := ""
	if len(fields) > 1 {
		rest = fields[1]
	}

	switch cmd {
	case "print":
		fmt.Fprintln(out, rest)
		return rest, nil
	case "exit":
		code, err := strconv.Atoi(strings.TrimSpace(rest))
		if err != nil {
			code = 1
		}
		return "", &SystemExit{Code: code}
	case "args":
		joined := strings.Join(args, " ")
		fmt.Fprintln(out, joined)
		return joined, nil
	case "cwd":
		fmt.Fprintln(out, cwd)
		return cwd, nil
	case "env":
		value := env[strings.TrimSpace(rest)]
		fmt.Fprintln(out, value)
		return value, nil
	default:
		fmt.Fprintln(out, line)
		return line, nil
	}
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }
