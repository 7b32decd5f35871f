//go:build windows

package bridge

import (
	"errors"
	"os"
	"os/exec"
)

func configureProcess(cmd *exec.Cmd) {
	cmd.Cancel = func() error { return killProcess(cmd) }
}

func killProcess(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// interrupted reports whether the child may have been killed. Windows records
// a kill as exit code 1, so any unsuccessful exit counts.
func interrupted(cmd *exec.Cmd) bool {
	return cmd.ProcessState == nil || !cmd.ProcessState.Success()
}
