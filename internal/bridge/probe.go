package bridge

import (
	"context"
	"os/exec"
	"strings"
)

// Probe reports whether `<interpreter> --version` starts and exits cleanly.
// A missing binary, a permission problem or a failing exit all mean the same
// thing to callers, so none of them is an error.
func Probe(ctx context.Context, interpreter string) bool {
	if strings.TrimSpace(interpreter) == "" {
		return false
	}
	cmd := exec.CommandContext(ctx, interpreter, "--version")
	return cmd.Run() == nil
}

// InterpreterVersion returns the trimmed version banner. Older interpreters
// print it on stderr, so both streams are captured.
func InterpreterVersion(ctx context.Context, interpreter string) (string, error) {
	out, err := exec.CommandContext(ctx, interpreter, "--version").CombinedOutput()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
