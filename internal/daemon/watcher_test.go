package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatchSettingsReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	writeFile(t, path, "history: true\n")
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(path, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	stop := make(chan struct{})
	defer close(stop)
	reloaded := make(chan struct{}, 4)
	go watchSettings(path, stop, func() { reloaded <- struct{}{} })

	// Give the watcher time to register before writing.
	time.Sleep(200 * time.Millisecond)
	writeFile(t, filepath.Join(dir, "unrelated.yaml"), "x: 1\n")
	writeFile(t, path, "history: false\n")

	select {
	case <-reloaded:
	case <-time.After(5 * time.Second):
		t.Fatalf("settings change was not noticed")
	}
}
