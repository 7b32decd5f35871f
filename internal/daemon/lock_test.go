//go:build !windows

package daemon

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestProcessLockIsExclusive(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "daemon.pid")

	lock, err := acquireProcessLock(pidFile)
	if err != nil {
		t.Fatalf("acquireProcessLock failed: %v", err)
	}

	data, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("read pid file: %v", err)
	}
	if strings.TrimSpace(string(data)) != strconv.Itoa(os.Getpid()) {
		t.Fatalf("pid file should hold our pid, got %q", data)
	}

	if _, err := acquireProcessLock(pidFile); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := os.Stat(pidFile); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("pid file should be removed on release")
	}

	again, err := acquireProcessLock(pidFile)
	if err != nil {
		t.Fatalf("lock should be free after release: %v", err)
	}
	again.Release()
}
