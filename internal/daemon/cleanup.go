//go:build !windows

package daemon

import (
	"fmt"
	"log"
	"os"
	"syscall"
	"time"
)

// signalProcess sends signal to pid, treating an already dead process as done.
func signalProcess(pid int, signal syscall.Signal) error {
	if pid <= 0 {
		return fmt.Errorf("invalid process id: %d", pid)
	}

	log.Printf("Sending signal %v to process %d", signal, pid)
	err := syscall.Kill(pid, signal)
	if err != nil {
		// ESRCH means no such process, which is fine (already dead)
		if err == syscall.ESRCH {
			return nil
		}
		return fmt.Errorf("failed to signal process %d: %w", pid, err)
	}

	return nil
}

// waitForProcessExit waits for a process to exit, returns true if it exited within timeout
func waitForProcessExit(pid int, timeout time.Duration) bool {
	if pid <= 0 {
		return true
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !isProcessRunning(pid) {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}

	return false
}

// isProcessRunning checks if a process is still running
func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	return process.Signal(syscall.Signal(0)) == nil
}

// Shutdown stops the daemon process with SIGTERM, escalating to SIGKILL. It is
// the fallback when the daemon does not answer a shutdown request. Handler
// children run in their own process groups and are killed by the daemon's
// signal handler through context cancellation.
func Shutdown(daemonPID int) error {
	log.Printf("=== Starting daemon shutdown (PID: %d) ===", daemonPID)

	if !isProcessRunning(daemonPID) {
		log.Printf("Daemon is not running")
		return nil
	}

	if err := signalProcess(daemonPID, syscall.SIGTERM); err != nil {
		return err
	}
	if waitForProcessExit(daemonPID, 5*time.Second) {
		log.Printf("Daemon exited gracefully via SIGTERM")
		return nil
	}

	log.Printf("Daemon did not respond to SIGTERM, sending SIGKILL...")
	if err := signalProcess(daemonPID, syscall.SIGKILL); err != nil {
		return err
	}
	if !waitForProcessExit(daemonPID, 2*time.Second) {
		return fmt.Errorf("daemon process %d could not be stopped", daemonPID)
	}

	log.Printf("Daemon killed via SIGKILL")
	return nil
}
