package daemon

import (
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchSettings calls reload whenever settingsPath is written, created or
// renamed into place. The parent directory is watched so that editors which
// replace the file are seen too.
func watchSettings(settingsPath string, stop <-chan struct{}, reload func()) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("Error creating settings watcher: %v", err)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(settingsPath)); err != nil {
		log.Printf("Error watching settings directory: %v", err)
		return
	}

	var lastModTime time.Time
	if stat, err := os.Stat(settingsPath); err == nil {
		lastModTime = stat.ModTime()
	}

	for {
		select {
		case <-stop:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(settingsPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			stat, err := os.Stat(settingsPath)
			if err != nil {
				continue
			}
			if !stat.ModTime().After(lastModTime) {
				continue
			}
			lastModTime = stat.ModTime()

			// Let the writer finish before reading.
			time.Sleep(100 * time.Millisecond)
			log.Printf("Settings file changed, reloading...")
			reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("Settings watcher error: %v", err)
		}
	}
}
