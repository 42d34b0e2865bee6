package muxclient

import (
	"os"

	"github.com/mattn/go-isatty"
	"golang.org/x/term"
)

// rawModeGuard restores the terminal's prior state on Close. It is a
// no-op when stdin isn't a TTY, grounded on the same
// IsTerminal-then-MakeRaw-then-Restore shape used for interactive
// process wrappers in the retrieval pack (see DESIGN.md).
type rawModeGuard struct {
	fd    int
	state *term.State
}

// enterRawMode implements Stage 0: if stdin is a TTY, disable canonical
// mode and echo so bytes reach the remote worker unbuffered.
func enterRawMode() (*rawModeGuard, error) {
	fd := int(os.Stdin.Fd())
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return &rawModeGuard{fd: -1}, nil
	}
	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	return &rawModeGuard{fd: fd, state: state}, nil
}

func (g *rawModeGuard) Close() {
	if g == nil || g.fd < 0 || g.state == nil {
		return
	}
	_ = term.Restore(g.fd, g.state)
}

func stdinIsTTY() bool {
	return isatty.IsTerminal(os.Stdin.Fd())
}
