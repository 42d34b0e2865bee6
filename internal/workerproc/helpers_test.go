package workerproc

import "os"

// osFindProcessSelf returns a process handle for the running test binary,
// used so pool tests can construct a Worker that Alive() reports as
// genuinely alive without spawning a subprocess.
func osFindProcessSelf() (*os.Process, error) {
	return os.FindProcess(os.Getpid())
}
