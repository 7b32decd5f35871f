//go:build !windows

package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"chatbridge/internal/protocol"
)

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

func readPID(t *testing.T, path string) int {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read pid file: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		t.Fatalf("parse pid: %v", err)
	}
	return pid
}

func TestInvokeStreamReadErrorKillsAndReaps(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "handler.pid")
	line := `{"type":"content","content":"a"}` + "\n"
	script := writeScript(t, fmt.Sprintf(`echo $$ > %q
printf '%%s' '%s'
sleep 30
`, pidFile, line))
	r := newShellRunner(t, script)

	pipeBroken := errors.New("pipe broken")
	r.wrapStdout = func(stdout io.Reader) io.Reader {
		return io.MultiReader(io.LimitReader(stdout, int64(len(line))), errReader{pipeBroken})
	}

	sink := &Collector{}
	start := time.Now()
	stats, err := r.InvokeStreamStats(context.Background(), "hello", sink)
	if !errors.Is(err, ErrStreamRead) {
		t.Fatalf("expected ErrStreamRead, got %v", err)
	}
	if !errors.Is(err, pipeBroken) {
		t.Fatalf("read error should be in the chain, got %v", err)
	}
	if KindOf(err) != KindStreamRead {
		t.Fatalf("expected kind %s, got %s", KindStreamRead, KindOf(err))
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("handler was not killed: %v", elapsed)
	}
	if stats.State != StateFailed || stats.Delivered != 1 || stats.ExitCode != -1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	pid := readPID(t, pidFile)
	if err := syscall.Kill(pid, 0); !errors.Is(err, syscall.ESRCH) {
		t.Fatalf("handler pid %d still exists after return: %v", pid, err)
	}
}

func TestInvokeStreamAbortNotPinnedByDetachedChild(t *testing.T) {
	if _, err := exec.LookPath("setsid"); err != nil {
		t.Skip("setsid not available")
	}
	pidFile := filepath.Join(t.TempDir(), "detached.pid")
	script := writeScript(t, fmt.Sprintf(`setsid sleep 30 &
echo $! > %q
printf '%%s\n' '{"type":"content","content":"a"}'
sleep 30
`, pidFile))
	t.Cleanup(func() {
		if data, err := os.ReadFile(pidFile); err == nil {
			if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil {
				_ = syscall.Kill(pid, syscall.SIGKILL)
			}
		}
	})
	r := newShellRunner(t, script)

	rejected := errors.New("ui window closed")
	sink := SinkFunc(func(protocol.StreamUnit) error { return rejected })

	start := time.Now()
	stats, err := r.InvokeStreamStats(context.Background(), "hello", sink)
	if !errors.Is(err, ErrSinkDelivery) {
		t.Fatalf("expected ErrSinkDelivery, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("drain was pinned by the detached child: %v", elapsed)
	}
	if stats.State != StateFailed {
		t.Fatalf("unexpected stats %+v", stats)
	}
}
