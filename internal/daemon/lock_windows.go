//go:build windows

package daemon

import (
	"errors"
	"fmt"
	"os"
)

type processLock struct {
	file *os.File
	path string
}

// acquireProcessLock creates pidFile exclusively. A stale file left by a crash
// has to be removed by CleanupStaleFiles first.
func acquireProcessLock(pidFile string) (*processLock, error) {
	file, err := os.OpenFile(pidFile, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, ErrAlreadyRunning
		}
		return nil, fmt.Errorf("open pid file: %w", err)
	}
	if _, err := fmt.Fprintf(file, "%d\n", os.Getpid()); err != nil {
		file.Close()
		os.Remove(pidFile)
		return nil, fmt.Errorf("write pid file: %w", err)
	}
	return &processLock{file: file, path: pidFile}, nil
}

func (l *processLock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := l.file.Close()
	if rmErr := os.Remove(l.path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		err = errors.Join(err, rmErr)
	}
	l.file = nil
	return err
}
