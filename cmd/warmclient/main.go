// Command warmclient is the thin client described in spec.md §4.3: it
// dials the conductor, completes the handshake, and multiplexes stdin/
// stdout/signals against the session sockets the conductor hands back.
// Structured after the teacher's cmd/attn/main.go single-purpose main.
package main

import (
	"os"

	"github.com/warmrun/warmd/internal/muxclient"
)

func main() {
	os.Exit(muxclient.Run(os.Args[1:]))
}
