package daemon

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrAlreadyRunning is returned when another daemon instance already holds the lock.
var ErrAlreadyRunning = errors.New("daemon already running")

// IsRunning reports whether a daemon is listening on socketPath.
func IsRunning(socketPath string) bool {
	conn, err := net.DialTimeout("unix", socketPath, 1*time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// ReadPIDFile reads the daemon PID from pidFile.
func ReadPIDFile(pidFile string) (int, error) {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, err
	}

	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return 0, fmt.Errorf("pid file %s is empty", pidFile)
	}

	pid, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("invalid pid in %s: %w", pidFile, err)
	}

	if pid <= 0 {
		return 0, fmt.Errorf("invalid pid %d in %s", pid, pidFile)
	}

	return pid, nil
}

// CleanupStaleFiles removes a socket nobody listens on and a pid file whose
// process is gone. It fails if a daemon is actually running.
func CleanupStaleFiles(socketPath, pidFile string) error {
	if _, err := os.Stat(socketPath); err == nil {
		if IsRunning(socketPath) {
			return ErrAlreadyRunning
		}
		if removeErr := os.Remove(socketPath); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			return fmt.Errorf("remove stale socket: %w", removeErr)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat socket: %w", err)
	}

	pid, err := ReadPIDFile(pidFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if removeErr := os.Remove(pidFile); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			return fmt.Errorf("remove invalid pid file: %w", removeErr)
		}
		return nil
	}

	if !isProcessRunning(pid) {
		if removeErr := os.Remove(pidFile); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			return fmt.Errorf("remove stale pid file: %w", removeErr)
		}
	}

	return nil
}
