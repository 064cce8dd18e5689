//go:build !windows

package supervisor

import (
	"os"
	"syscall"
)

// shutdownSignals is the explicit table of termination signals handled by
// the coordinator. SIGUSR2 is the operator-triggered secondary signal.
var shutdownSignals = []os.Signal{syscall.SIGTERM, syscall.SIGINT, syscall.SIGUSR2}

// terminateProcess asks a tracked child to exit.
func terminateProcess(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}
