package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"chatbridge/internal/bridge"
	"chatbridge/internal/ipc"
)

type testDaemon struct {
	server       *Server
	opts         Options
	dir          string
	settingsPath string
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0755); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func writeSettings(t *testing.T, path, syncScript, streamScript string) {
	t.Helper()
	writeFile(t, path, fmt.Sprintf(`mode: development
interpreter: /bin/sh
script: %s
stream_script: %s
history: true
`, syncScript, streamScript))
}

func startDaemon(t *testing.T) *testDaemon {
	t.Helper()
	dir := t.TempDir()

	syncScript := filepath.Join(dir, "sync.sh")
	writeFile(t, syncScript, `printf '{"success": true, "message": "echo:%s"}' "$1"`)
	streamScript := filepath.Join(dir, "stream.sh")
	writeFile(t, streamScript, `for word in $1; do printf '{"type":"content","content":"%s"}\n' "$word"; done
printf '%s\n' 'not json'
printf '%s\n' '{"type":"done","success":true}'
`)
	settingsPath := filepath.Join(dir, "settings.yaml")
	writeSettings(t, settingsPath, syncScript, streamScript)

	opts := Options{
		SocketPath:   filepath.Join(dir, "d.sock"),
		SettingsPath: settingsPath,
		PIDFile:      filepath.Join(dir, "daemon.pid"),
		DatabasePath: filepath.Join(dir, "chatbridge.db"),
	}
	server, err := NewServer(opts)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()
	t.Cleanup(func() {
		server.Stop()
		if err := <-errCh; err != nil {
			t.Errorf("Start returned %v", err)
		}
	})

	deadline := time.Now().Add(5 * time.Second)
	for !IsRunning(opts.SocketPath) {
		if time.Now().After(deadline) {
			t.Fatalf("daemon did not start listening")
		}
		time.Sleep(20 * time.Millisecond)
	}

	return &testDaemon{server: server, opts: opts, dir: dir, settingsPath: settingsPath}
}

func (d *testDaemon) client(t *testing.T) *ipc.Client {
	t.Helper()
	c, err := ipc.NewClient("unix://" + d.opts.SocketPath)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestDaemonSend(t *testing.T) {
	d := startDaemon(t)
	c := d.client(t)

	result, id, err := c.Send("hello")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if !result.Success || result.Text() != "echo:hello" {
		t.Fatalf("unexpected result %+v", result)
	}
	if id == "" {
		t.Fatalf("expected exchange id")
	}

	ex, err := c.Exchange(id)
	if err != nil {
		t.Fatalf("Exchange failed: %v", err)
	}
	if ex.Message != "hello" || ex.Response != "echo:hello" {
		t.Fatalf("unexpected exchange %+v", ex)
	}
}

func TestDaemonStreamOverSocket(t *testing.T) {
	d := startDaemon(t)
	c := d.client(t)

	var events []ipc.ChunkEvent
	resp, err := c.Stream("a b c", func(ev ipc.ChunkEvent) error {
		events = append(events, ev)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}
	for i, want := range []string{"a", "b", "c"} {
		if events[i].Unit.ContentText() != want || events[i].Seq != i+1 {
			t.Fatalf("event %d out of order: %+v", i, events[i])
		}
		if events[i].Event != TopicStreamChunk {
			t.Fatalf("unexpected event name %q", events[i].Event)
		}
	}
	if resp.Stats == nil || resp.Stats.Delivered != 4 || resp.Stats.Dropped != 1 {
		t.Fatalf("unexpected stats %+v", resp.Stats)
	}

	exchanges, err := c.History(10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(exchanges) != 1 || exchanges[0].Response != "abc" || !exchanges[0].Success {
		t.Fatalf("unexpected history %+v", exchanges)
	}

	// The connection stays usable after a stream.
	if _, _, err := c.Send("again"); err != nil {
		t.Fatalf("Send after stream failed: %v", err)
	}
}

func TestDaemonWatchReceivesPublishedChunks(t *testing.T) {
	d := startDaemon(t)
	watcher := d.client(t)

	var (
		mu     sync.Mutex
		seen   []ipc.ChunkEvent
		gotAll = make(chan struct{})
	)
	stop := errors.New("done")
	watchErr := make(chan error, 1)
	go func() {
		watchErr <- watcher.Watch(t.Context(), func(ev ipc.ChunkEvent) error {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, ev)
			if len(seen) == 3 {
				close(gotAll)
				return stop
			}
			return nil
		})
	}()

	deadline := time.Now().Add(5 * time.Second)
	for d.server.Hub().SubscriberCount(TopicStreamChunk) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("watcher never subscribed")
		}
		time.Sleep(20 * time.Millisecond)
	}

	if _, err := d.client(t).Stream("x y", func(ipc.ChunkEvent) error { return nil }); err != nil {
		t.Fatalf("Stream failed: %v", err)
	}

	select {
	case <-gotAll:
	case <-time.After(5 * time.Second):
		t.Fatalf("watcher did not receive all chunks")
	}
	if err := <-watchErr; !errors.Is(err, stop) {
		t.Fatalf("unexpected watch result %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if seen[0].Unit.ContentText() != "x" || seen[1].Unit.ContentText() != "y" {
		t.Fatalf("unexpected watched events %+v", seen)
	}
	if seen[0].InvocationID == "" || seen[0].InvocationID != seen[2].InvocationID {
		t.Fatalf("events should share the invocation id")
	}
}

func TestDaemonReportsErrorKind(t *testing.T) {
	d := startDaemon(t)
	failing := filepath.Join(d.dir, "fail.sh")
	writeFile(t, failing, "echo 'Traceback: boom' >&2\nexit 1\n")
	writeSettings(t, d.settingsPath, failing, failing)
	if err := d.server.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	_, _, err := d.client(t).Send("hello")
	if !errors.Is(err, bridge.ErrExecutionFailed) {
		t.Fatalf("expected execution failure across the socket, got %v", err)
	}
	var remote *ipc.RemoteError
	if !errors.As(err, &remote) || remote.Message != "chat handler failed: Traceback: boom" {
		t.Fatalf("unexpected remote error %#v", err)
	}
}

func TestDaemonReloadKeepsRunnerOnBadSettings(t *testing.T) {
	d := startDaemon(t)
	writeFile(t, d.settingsPath, "mode: staging\n")
	if err := d.server.Reload(); err == nil {
		t.Fatalf("expected reload error")
	}

	result, _, err := d.client(t).Send("still")
	if err != nil || result.Text() != "echo:still" {
		t.Fatalf("previous runner should still serve, got %+v (%v)", result, err)
	}
}

func TestDaemonCheck(t *testing.T) {
	d := startDaemon(t)
	if _, err := d.client(t).Check(); err != nil {
		t.Fatalf("Check failed: %v", err)
	}
}

func TestDaemonShutdownRequest(t *testing.T) {
	d := startDaemon(t)
	if err := d.client(t).Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for IsRunning(d.opts.SocketPath) {
		if time.Now().After(deadline) {
			t.Fatalf("daemon still running after shutdown")
		}
		time.Sleep(20 * time.Millisecond)
	}
	if _, err := os.Stat(d.opts.PIDFile); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("pid file should be removed, got %v", err)
	}
}

func TestSecondDaemonIsRejected(t *testing.T) {
	d := startDaemon(t)
	opts := d.opts
	opts.SocketPath = filepath.Join(d.dir, "second.sock")
	if _, err := NewServer(opts); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestCleanupStaleFiles(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "stale.sock")
	pidFile := filepath.Join(dir, "daemon.pid")
	writeFile(t, socketPath, "")
	writeFile(t, pidFile, "not-a-pid")

	if err := CleanupStaleFiles(socketPath, pidFile); err != nil {
		t.Fatalf("CleanupStaleFiles failed: %v", err)
	}
	for _, path := range []string{socketPath, pidFile} {
		if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("%s should be removed", path)
		}
	}

	writeFile(t, pidFile, fmt.Sprintf("%d\n", os.Getpid()))
	if err := CleanupStaleFiles(socketPath, pidFile); err != nil {
		t.Fatalf("CleanupStaleFiles failed: %v", err)
	}
	if _, err := os.Stat(pidFile); err != nil {
		t.Fatalf("pid file of a live process must be kept: %v", err)
	}
	pid, err := ReadPIDFile(pidFile)
	if err != nil || pid != os.Getpid() {
		t.Fatalf("ReadPIDFile returned %d, %v", pid, err)
	}
}
