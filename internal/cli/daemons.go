package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"time"

	"chatbridge/config"
	"chatbridge/internal/daemon"
	"chatbridge/internal/ipc"
)

func daemonPaths() (string, string, error) {
	socketPath, err := config.GetSocketPath()
	if err != nil {
		return "", "", err
	}
	pidFile, err := config.GetPIDFile()
	if err != nil {
		return "", "", err
	}
	return socketPath, pidFile, nil
}

// StartDaemon launches `chatbridge daemon start --foreground` in the
// background and waits for the socket to answer.
func StartDaemon(out io.Writer) error {
	socketPath, pidFile, err := daemonPaths()
	if err != nil {
		return err
	}
	if daemon.IsRunning(socketPath) {
		return daemon.ErrAlreadyRunning
	}
	if err := daemon.CleanupStaleFiles(socketPath, pidFile); err != nil {
		if errors.Is(err, daemon.ErrAlreadyRunning) {
			return err
		}
		log.Printf("Warning: cleanup failed: %v", err)
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}
	cmd := exec.Command(executable, "daemon", "start", "--foreground")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	// The daemon outlives this process; do not leave a zombie behind if it
	// exits early.
	go cmd.Wait()

	fmt.Fprintln(out, "Starting daemon in background...")
	for i := 0; i < 10; i++ {
		time.Sleep(500 * time.Millisecond)
		if daemon.IsRunning(socketPath) {
			fmt.Fprintln(out, "Daemon started successfully")
			return nil
		}
	}

	fmt.Fprintln(out, "Warning: Daemon may not have started properly")
	return nil
}

// RunDaemon serves in the foreground until ctx is canceled or a client asks
// the daemon to shut down.
func RunDaemon(ctx context.Context) error {
	opts, err := daemon.DefaultOptions()
	if err != nil {
		return err
	}
	if _, err := config.EnsureSettingsExist(); err != nil {
		return fmt.Errorf("failed to prepare settings: %w", err)
	}

	server, err := daemon.NewServer(opts)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- server.Start() }()

	select {
	case <-ctx.Done():
		log.Printf("Received shutdown signal, stopping daemon...")
		server.Stop()
		<-done
		log.Printf("Graceful shutdown complete")
		return nil
	case err := <-done:
		server.Stop()
		return err
	}
}

// StopDaemon asks the daemon to exit over its socket and falls back to
// signalling the recorded PID.
func StopDaemon(out io.Writer) error {
	socketPath, pidFile, err := daemonPaths()
	if err != nil {
		return err
	}
	if !daemon.IsRunning(socketPath) {
		if cleanupErr := daemon.CleanupStaleFiles(socketPath, pidFile); cleanupErr != nil {
			log.Printf("Warning: cleanup failed: %v", cleanupErr)
		}
		return fmt.Errorf("daemon is not running")
	}

	pid, pidErr := daemon.ReadPIDFile(pidFile)
	if pidErr == nil {
		fmt.Fprintf(out, "Stopping daemon (PID: %d)...\n", pid)
	} else {
		fmt.Fprintln(out, "Stopping daemon...")
	}

	if requestShutdown() && waitUntilStopped(socketPath, 5*time.Second) {
		fmt.Fprintln(out, "Daemon stopped successfully")
		return nil
	}

	if pidErr != nil {
		return fmt.Errorf("daemon did not stop and its PID is unknown: %w", pidErr)
	}
	if err := daemon.Shutdown(pid); err != nil {
		return err
	}
	if err := daemon.CleanupStaleFiles(socketPath, pidFile); err != nil {
		log.Printf("Warning: cleanup failed: %v", err)
	}

	fmt.Fprintln(out, "Daemon stopped successfully")
	return nil
}

func requestShutdown() bool {
	client, err := ipc.NewDefaultClient()
	if err != nil {
		return false
	}
	defer client.Close()
	return client.Shutdown() == nil
}

func waitUntilStopped(socketPath string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !daemon.IsRunning(socketPath) {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return false
}

// DaemonStatus prints whether the daemon runs and whether its handler
// interpreter is available.
func DaemonStatus(out io.Writer) (bool, error) {
	socketPath, pidFile, err := daemonPaths()
	if err != nil {
		return false, err
	}
	if !daemon.IsRunning(socketPath) {
		fmt.Fprintln(out, "Daemon is not running")
		return false, nil
	}

	fmt.Fprintln(out, labelStyle.Render("Daemon is running"))
	if pid, err := daemon.ReadPIDFile(pidFile); err == nil {
		fmt.Fprintf(out, "  PID: %d\n", pid)
	}
	fmt.Fprintf(out, "  Socket: %s\n", socketPath)

	client, err := ipc.NewDefaultClient()
	if err != nil {
		return true, nil
	}
	defer client.Close()
	if available, err := client.Check(); err == nil {
		fmt.Fprintf(out, "  Interpreter available: %v\n", available)
	}
	return true, nil
}
