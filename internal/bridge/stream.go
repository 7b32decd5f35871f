package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"chatbridge/internal/protocol"
)

// stderrTailLines bounds the diagnostics kept for error reports.
const stderrTailLines = 20

// StreamState tracks a streaming invocation.
type StreamState int

const (
	StateNotStarted StreamState = iota
	StateSpawned
	StateStreaming
	StateDraining
	StateExited
	StateCompleted
	StateFailed
)

func (s StreamState) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateSpawned:
		return "spawned"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateExited:
		return "exited"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// StreamObserver is told about every state transition of a streaming
// invocation. It runs on the invoking goroutine and must not block.
type StreamObserver func(id string, state StreamState)

// StreamStats summarises a finished streaming invocation. ExitCode is -1 when
// the child never started or was killed by a signal.
type StreamStats struct {
	Delivered int
	Dropped   int
	ExitCode  int
	State     StreamState
}

// InvokeStream runs the streaming handler and hands every decoded line to sink
// as soon as it is read. Malformed lines are dropped. The call returns nil once
// the child has exited, whatever its exit code.
func (r *Runner) InvokeStream(ctx context.Context, message string, sink Sink) error {
	_, err := r.InvokeStreamStats(ctx, message, sink)
	return err
}

// InvokeStreamStats is InvokeStream with delivery counters. On a sink or read
// failure, or when ctx ends, the process group is killed and its output
// drained; the call never returns before the child is reaped.
func (r *Runner) InvokeStreamStats(ctx context.Context, message string, sink Sink) (StreamStats, error) {
	id := InvocationID(ctx)
	stats := StreamStats{ExitCode: -1, State: StateNotStarted}
	setState := func(state StreamState) {
		stats.State = state
		r.logger.Printf("[stream %s] %s", id, state)
		if r.observer != nil {
			r.observer(id, state)
		}
	}

	if sink == nil {
		return stats, fmt.Errorf("stream sink is required")
	}

	script, err := r.streamScript.Resolve()
	if err != nil {
		r.logger.Printf("[stream %s] %v", id, err)
		setState(StateFailed)
		return stats, err
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	cmd := r.command(ctx, script, message)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		setState(StateFailed)
		return stats, &Error{Kind: KindSpawnFailed, Path: r.interpreter, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		setState(StateFailed)
		return stats, &Error{Kind: KindSpawnFailed, Path: r.interpreter, Err: err}
	}
	if err := cmd.Start(); err != nil {
		r.logger.Printf("[stream %s] spawn %s failed: %v", id, r.interpreter, err)
		setState(StateFailed)
		return stats, &Error{Kind: KindSpawnFailed, Path: r.interpreter, Err: err}
	}
	r.logger.Printf("[stream %s] started pid %d: %s %s", id, cmd.Process.Pid, r.interpreter, script)
	setState(StateSpawned)

	tail := newLineTail(stderrTailLines)
	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		err := protocol.ReadLines(stderr, func(line []byte) error {
			r.logger.Printf("[stream %s] stderr: %s", id, line)
			tail.add(string(line))
			return nil
		})
		if err != nil {
			r.logger.Printf("[stream %s] stderr read failed: %v", id, err)
		}
	}()

	var src io.Reader = stdout
	if r.wrapStdout != nil {
		src = r.wrapStdout(stdout)
	}

	setState(StateStreaming)
	readErr := protocol.ReadLines(src, func(line []byte) error {
		unit, err := protocol.DecodeUnit(line)
		if err != nil {
			stats.Dropped++
			r.logger.Printf("[stream %s] dropped malformed line: %v", id, err)
			return nil
		}
		if err := sink.Deliver(unit); err != nil {
			return err
		}
		stats.Delivered++
		return nil
	})

	var failure *Error
	if readErr != nil {
		var cbErr *protocol.CallbackError
		if errors.As(readErr, &cbErr) {
			failure = &Error{Kind: KindSinkDelivery, Path: script, Err: cbErr.Err}
		} else {
			failure = &Error{Kind: KindStreamRead, Path: script, Err: readErr}
		}
		r.logger.Printf("[stream %s] aborting: %v", id, failure)
		if err := killProcess(cmd); err != nil {
			r.logger.Printf("[stream %s] kill failed: %v", id, err)
		}
		if !drainWithin(stdout, stderr, stderrDone, waitDelay) {
			r.logger.Printf("[stream %s] output still held open after kill; closed pipes", id)
		}
	}

	setState(StateDraining)
	<-stderrDone
	waitErr := cmd.Wait()
	stats.ExitCode = exitCode(cmd)

	if failure == nil {
		if ctxErr := ctx.Err(); ctxErr != nil && interrupted(cmd) {
			failure = &Error{Kind: KindCanceled, Path: script, Err: ctxErr}
		}
	}
	if failure != nil {
		failure.ExitCode = stats.ExitCode
		failure.Stderr = tail.String()
		setState(StateFailed)
		return stats, failure
	}

	if waitErr != nil {
		r.logger.Printf("[stream %s] handler exited with code %d: %v", id, stats.ExitCode, waitErr)
	}
	setState(StateExited)
	r.logger.Printf("[stream %s] delivered=%d dropped=%d exit=%d", id, stats.Delivered, stats.Dropped, stats.ExitCode)
	setState(StateCompleted)
	return stats, nil
}

// drainWithin discards what is left on stdout and waits for the stderr reader.
// A process outside the killed group can keep the pipes open, so after d both
// are closed to unblock the readers. It reports whether the drain finished on
// its own.
func drainWithin(stdout, stderr io.ReadCloser, stderrDone <-chan struct{}, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = io.Copy(io.Discard, stdout)
		<-stderrDone
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		stdout.Close()
		stderr.Close()
		<-done
		return false
	}
}

// lineTail keeps the last n lines written to it. It is filled by the stderr
// goroutine and read only after that goroutine is done.
type lineTail struct {
	max   int
	lines []string
}

func newLineTail(n int) *lineTail {
	return &lineTail{max: n}
}

func (t *lineTail) add(line string) {
	t.lines = append(t.lines, line)
	if len(t.lines) > t.max {
		t.lines = t.lines[len(t.lines)-t.max:]
	}
}

func (t *lineTail) String() string {
	return strings.Join(t.lines, "\n")
}
