package bridge

import (
	"bytes"
	"context"
	"errors"
	"os/exec"

	"chatbridge/internal/protocol"
)

// Invoke runs the handler once with message and decodes its single JSON
// result. A non-zero exit fails with KindExecutionFailed carrying stderr
// verbatim; unparsable stdout fails with KindDecodeFailed carrying the raw
// output. There is no retry.
func (r *Runner) Invoke(ctx context.Context, message string) (protocol.ChatResult, error) {
	id := InvocationID(ctx)

	script, err := r.script.Resolve()
	if err != nil {
		r.logger.Printf("[invoke %s] %v", id, err)
		return protocol.ChatResult{}, err
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	cmd := r.command(ctx, script, message)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		r.logger.Printf("[invoke %s] spawn %s failed: %v", id, r.interpreter, err)
		return protocol.ChatResult{}, &Error{Kind: KindSpawnFailed, Path: r.interpreter, Err: err}
	}
	r.logger.Printf("[invoke %s] started pid %d: %s %s", id, cmd.Process.Pid, r.interpreter, script)

	waitErr := cmd.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil && interrupted(cmd) {
		r.logger.Printf("[invoke %s] canceled: %v", id, ctxErr)
		return protocol.ChatResult{}, &Error{
			Kind:     KindCanceled,
			Path:     script,
			Stderr:   stderr.String(),
			ExitCode: exitCode(cmd),
			Err:      ctxErr,
		}
	}

	// A clean exit whose output copy was cut short by WaitDelay or the
	// context keeps what was already read.
	if waitErr != nil && cmd.ProcessState != nil && cmd.ProcessState.Success() &&
		(errors.Is(waitErr, exec.ErrWaitDelay) || ctx.Err() != nil) {
		r.logger.Printf("[invoke %s] handler exited but a child still holds its output; using the %d bytes read: %v", id, stdout.Len(), waitErr)
		waitErr = nil
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			r.logger.Printf("[invoke %s] exited with code %d", id, exitErr.ExitCode())
			return protocol.ChatResult{}, &Error{
				Kind:     KindExecutionFailed,
				Path:     script,
				Stderr:   stderr.String(),
				ExitCode: exitErr.ExitCode(),
				Err:      waitErr,
			}
		}
		return protocol.ChatResult{}, &Error{Kind: KindExecutionFailed, Path: script, Stderr: stderr.String(), ExitCode: exitCode(cmd), Err: waitErr}
	}

	result, err := protocol.DecodeResult(stdout.Bytes())
	if err != nil {
		r.logger.Printf("[invoke %s] undecodable output (%d bytes): %v", id, stdout.Len(), err)
		return protocol.ChatResult{}, &Error{Kind: KindDecodeFailed, Path: script, Raw: stdout.String(), Err: err}
	}

	r.logger.Printf("[invoke %s] completed success=%t", id, result.Success)
	return result, nil
}

func exitCode(cmd *exec.Cmd) int {
	if cmd.ProcessState == nil {
		return -1
	}
	return cmd.ProcessState.ExitCode()
}
