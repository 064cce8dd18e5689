//go:build windows

package supervisor

import (
	"os"
	"syscall"
)

// shutdownSignals on Windows is limited to the signals the runtime can
// actually deliver.
var shutdownSignals = []os.Signal{syscall.SIGTERM, syscall.SIGINT}

// terminateProcess asks a tracked child to exit. Windows has no TERM
// delivery for arbitrary processes, so Kill is the only option.
func terminateProcess(p *os.Process) error {
	return p.Kill()
}
