package workershim

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/warmrun/warmd/internal/evalhost"
	"github.com/warmrun/warmd/internal/protocol"
)

// runSession implements §4.2's per-session semantics, steps 2-8. Step 1
// (record under lock) and the final bookkeeping half of step 8 live in
// register/unregister so the TTL timer and soft_exit flag stay correct
// even when this function panics-recovers or returns early.
func (rt *Runtime) runSession(id uint64, info protocol.ClientInfo, stdioConn, signalsConn net.Conn) {
	rt.register(id)
	defer rt.unregister(id)
	defer stdioConn.Close()
	defer signalsConn.Close()

	rt.envMu.Lock()
	saved := applyEnvOverrides(envMapFrom(info.Env))
	defer func() {
		restoreEnv(saved)
		rt.envMu.Unlock()
	}()

	color := resolveColor(info)
	ns, err := rt.host.NewNamespace(info.CWD, info.Args, envMapFrom(info.Env), evalhost.Stdio{
		In:    stdioConn,
		Out:   stdioConn,
		Err:   stdioConn,
		Color: color,
	})
	if err != nil {
		rt.log.Errorf("worker: create namespace: %v", err)
		signalExit(signalsConn, 1)
		return
	}
	defer ns.Close()

	exitCode := executeSession(ns, info, stdioConn, color)
	signalExit(signalsConn, exitCode)
}

// executeSession runs step 5 (switches in source order, then
// program_file), step 6 (REPL fallback), and step 7 (result -> exit
// code), returning the exit code to signal.
func executeSession(ns evalhost.Namespace, info protocol.ClientInfo, stdio net.Conn, color bool) int {
	ran, err := runSwitchesAndProgram(ns, info, stdio)
	if err == nil && (!ran || info.HasSwitch(protocol.SwitchInteractive)) {
		err = ns.REPL(replOptionsFor(info, color))
	}
	return exitCodeFor(err, stdio)
}

func runSwitchesAndProgram(ns evalhost.Namespace, info protocol.ClientInfo, stdio net.Conn) (ran bool, err error) {
	for _, s := range info.Switches {
		switch s.Name {
		case protocol.SwitchEval:
			ran = true
			if _, err := ns.Eval(s.Value); err != nil {
				return ran, err
			}
		case protocol.SwitchPrint:
			ran = true
			result, err := ns.Eval(s.Value)
			if err != nil {
				return ran, err
			}
			fmt.Fprintln(stdio, result)
		case protocol.SwitchLoad:
			// -L/--load does not suppress the REPL fallback (step 6):
			// Julia drops into the REPL after "-L file" the same way it
			// would with no switches at all.
			if err := ns.Include(s.Value); err != nil {
				return ran, err
			}
		}
	}

	if !info.HasProgramFile {
		return ran, nil
	}
	ran = true
	if info.ProgramFile == "-" {
		return ran, ns.RunProgram(stdio)
	}
	f, err := os.Open(info.ProgramFile)
	if err != nil {
		return ran, err
	}
	defer f.Close()
	return ran, ns.RunProgram(f)
}

// replOptionsFor resolves the passed-in decisions the REPL adaptor
// contract requires explicitly, since the usual terminal-capability
// queries are stubbed to no-op.
func replOptionsFor(info protocol.ClientInfo, color bool) evalhost.REPLOptions {
	quiet := info.HasSwitch(protocol.SwitchQuiet)

	showBanner := !quiet
	if v, ok := info.SwitchValue(protocol.SwitchBanner); ok {
		switch v {
		case "yes":
			showBanner = true
		case "no":
			showBanner = false
		default: // "auto" or empty
			showBanner = !quiet
		}
	}

	historyFile := true
	if v, ok := info.SwitchValue(protocol.SwitchHistoryFile); ok && v == "no" {
		historyFile = false
	}

	return evalhost.REPLOptions{
		Color:       color,
		ShowBanner:  showBanner,
		Quiet:       quiet,
		HistoryFile: historyFile,
	}
}

// resolveColor implements §4.2 step 4's colour default: --color overrides;
// absent, default is yes if TERM starts with "xterm".
func resolveColor(info protocol.ClientInfo) bool {
	if v, ok := info.SwitchValue(protocol.SwitchColor); ok {
		switch v {
		case "yes":
			return true
		case "no":
			return false
		}
	}
	return strings.HasPrefix(envValue(info.Env, "TERM"), "xterm")
}

// exitCodeFor implements step 7: a *SystemExit carries its own code;
// any other error is displayed on stdio (if still open) and signals 1;
// a nil error signals 0.
func exitCodeFor(err error, stdio net.Conn) int {
	if err == nil {
		return 0
	}
	var se *evalhost.SystemExit
	if errors.As(err, &se) {
		return se.Code
	}
	fmt.Fprintf(stdio, "error: %v\n", err)
	return 1
}

func signalExit(signals net.Conn, code int) {
	_, _ = signals.Write(protocol.EncodeExitSignal(code))
}

func envMapFrom(pairs []protocol.EnvPair) map[string]string {
	m := make(map[string]string, len(pairs))
	for _, p := range pairs {
		m[p.Key] = p.Value
	}
	return m
}

func envValue(pairs []protocol.EnvPair, key string) string {
	for _, p := range pairs {
		if p.Key == key {
			return p.Value
		}
	}
	return ""
}

// applyEnvOverrides sets each key to its session value, returning the
// prior state (value, wasSet) so restoreEnv can put the process
// environment back exactly as it found it.
func applyEnvOverrides(overrides map[string]string) map[string][2]string {
	saved := make(map[string][2]string, len(overrides))
	for key, value := range overrides {
		prev, wasSet := os.LookupEnv(key)
		wasSetStr := "0"
		if wasSet {
			wasSetStr = "1"
		}
		saved[key] = [2]string{prev, wasSetStr}
		_ = os.Setenv(key, value)
	}
	return saved
}

func restoreEnv(saved map[string][2]string) {
	for key, state := range saved {
		prev, wasSetStr := state[0], state[1]
		if wasSetStr == "1" {
			_ = os.Setenv(key, prev)
		} else {
			_ = os.Unsetenv(key)
		}
	}
}
