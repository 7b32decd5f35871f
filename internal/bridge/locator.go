package bridge

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"chatbridge/config"
)

// Locator resolves the handler script on disk.
type Locator struct {
	Mode   config.Mode
	Script string
	// WorkDir anchors development-mode paths; empty means the current
	// working directory at resolution time.
	WorkDir string
	// ResourceDir anchors production-mode paths; empty means
	// DefaultResourceDir().
	ResourceDir string
}

// DefaultResourceDir is the bundled resource root next to the executable.
func DefaultResourceDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Join(filepath.Dir(exe), "resources"), nil
}

// Path computes the script location without touching the filesystem.
func (l Locator) Path() (string, error) {
	if l.Script == "" {
		return "", fmt.Errorf("script is not configured")
	}
	if filepath.IsAbs(l.Script) {
		return filepath.Clean(l.Script), nil
	}

	var base string
	switch l.Mode {
	case config.ModeProduction:
		base = l.ResourceDir
		if base == "" {
			dir, err := DefaultResourceDir()
			if err != nil {
				return "", err
			}
			base = dir
		}
	default:
		base = l.WorkDir
		if base == "" {
			cwd, err := os.Getwd()
			if err != nil {
				return "", fmt.Errorf("failed to get current directory: %w", err)
			}
			base = cwd
		}
	}

	return filepath.Join(base, filepath.FromSlash(l.Script)), nil
}

// Resolve returns the script path after checking that it exists. The check is
// advisory: the file can still vanish before spawn, which then surfaces as
// KindSpawnFailed or KindExecutionFailed.
func (l Locator) Resolve() (string, error) {
	path, err := l.Path()
	if err != nil {
		return "", &Error{Kind: KindScriptNotFound, Path: l.Script, Err: err}
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", &Error{Kind: KindScriptNotFound, Path: path, Err: os.ErrNotExist}
		}
		return "", &Error{Kind: KindScriptNotFound, Path: path, Err: err}
	}
	if info.IsDir() {
		return "", &Error{Kind: KindScriptNotFound, Path: path, Err: fmt.Errorf("%s is a directory", path)}
	}

	return path, nil
}

// LocatorsFromSettings returns the sync and stream locators for settings.
func LocatorsFromSettings(s config.Settings) (Locator, Locator) {
	base := Locator{
		Mode:        s.Mode,
		Script:      s.Script,
		WorkDir:     s.WorkDir,
		ResourceDir: s.ResourceDir,
	}
	stream := base
	stream.Script = s.StreamScriptPath()
	return base, stream
}
