//go:build windows

package daemon

import (
	"fmt"
	"os"
)

func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	_, err := os.FindProcess(pid)
	return err == nil
}

// Shutdown terminates the daemon process; Windows has no SIGTERM to try first.
func Shutdown(daemonPID int) error {
	process, err := os.FindProcess(daemonPID)
	if err != nil {
		return nil
	}
	if err := process.Kill(); err != nil {
		return fmt.Errorf("failed to stop daemon %d: %w", daemonPID, err)
	}
	return nil
}
