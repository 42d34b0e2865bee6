// Package evalhost defines the seam between the worker shim and the
// embedded language runtime. Spec §1 treats "evaluate this program in
// this context" as an opaque primitive provided by the host language;
// this package is that primitive's Go-side contract, plus a small
// deterministic reference implementation used by tests so the shim's
// control flow (namespace creation, switch execution order, SystemExit
// handling) is exercised without a real interpreter.
package evalhost

import (
	"errors"
	"fmt"
	"io"
)

// SystemExit is the error type a Namespace's exit builtin raises to
// unwind only its own session, mirroring the isolated exit/SystemExit
// pair described in the spec's per-session semantics.
type SystemExit struct {
	Code int
}

func (e *SystemExit) Error() string {
	return fmt.Sprintf("system exit: %d", e.Code)
}

// ErrNamespaceClosed is returned by a Namespace whose session has already
// ended.
var ErrNamespaceClosed = errors.New("evalhost: namespace closed")

// Namespace is a fresh, per-client execution context: its own exit
// builtin, its own eval/include pair, and a cwd/args binding. Host
// implementations lacking first-class modules are expected to back this
// with a sandboxed symbol table and a local exception type, per §9.
type Namespace interface {
	// Eval evaluates expr in the top scope of this namespace and returns
	// its printable representation. It returns *SystemExit when user
	// code invoked exit(n).
	Eval(expr string) (result string, err error)

	// Include evaluates the contents of path into this namespace, as if
	// pasted at the call site (the --load switch and `include`).
	Include(path string) error

	// RunProgram evaluates the full text of a top-level program (either
	// program_file's contents, or stdin when program_file is "-").
	RunProgram(source io.Reader) error

	// REPL enters an interactive read-eval-print loop over the streams
	// bound at namespace creation. It returns when the stream is
	// exhausted or user code calls exit(n). Terminal-capability queries
	// the REPL would normally perform are stubbed to no-op by the host
	// implementation, since the "terminal" here is a socket; opts carries
	// the decisions that would otherwise come from querying one.
	REPL(opts REPLOptions) error

	// Close releases any resources the namespace holds. Further calls to
	// Eval/Include/RunProgram/REPL after Close return
	// ErrNamespaceClosed.
	Close() error
}

// Stdio is the set of streams a namespace's standard-stream redirection
// wraps around the worker's stdio socket, annotated with the color flag
// derived from --color (§4.2 step 4).
type Stdio struct {
	In    io.Reader
	Out   io.Writer
	Err   io.Writer
	Color bool
}

// REPLOptions carries the passed-in decisions §4.2 requires the REPL
// adaptor to honour explicitly, since the usual terminal-capability
// queries are stubbed to no-op (the "terminal" is a socket).
type REPLOptions struct {
	Color       bool
	ShowBanner  bool
	HistoryFile bool
	Quiet       bool
}

// Host constructs per-client Namespaces. One Host is created per worker
// process and lives for the worker's lifetime; it is the worker-local
// analogue of the host language's top-level module registry.
type Host interface {
	// NewNamespace builds an isolated namespace for one client session.
	// cwd is applied via a change-directory scoped to the namespace;
	// args is bound as the program's argument sequence; env overrides
	// environment variables scoped to the session (the caller restores
	// process-wide environment on session exit); stdio wraps the
	// worker's stdio socket per §4.2 step 4.
	NewNamespace(cwd string, args []string, env map[string]string, stdio Stdio) (Namespace, error)

	// Eval evaluates expr in the host's top scope, outside of any
	// client namespace. The conductor's eval control messages land here:
	// the reserve warm-up's "nothing" and the set_project call that binds
	// a reserve worker to a project.
	Eval(expr string) (result string, err error)
}
