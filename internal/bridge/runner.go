package bridge

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"

	"chatbridge/config"
)

// waitDelay bounds how long Wait keeps copying output after the child was
// killed, in case a grandchild outside the process group holds the pipes.
const waitDelay = 2 * time.Second

// Options configures a Runner.
type Options struct {
	// Interpreter is the binary that runs the handler script.
	Interpreter string
	Script      Locator
	// StreamScript is used by InvokeStream; a zero value reuses Script.
	StreamScript Locator
	// Env is appended to the inherited environment.
	Env []string
	// Timeout bounds each invocation; zero waits indefinitely.
	Timeout time.Duration
	Logger  *log.Logger
	// Observer, when set, receives streaming state transitions.
	Observer StreamObserver
}

// Runner launches the chat handler. It holds no per-invocation state and is
// safe for concurrent use; every call owns its own child process.
type Runner struct {
	interpreter  string
	script       Locator
	streamScript Locator
	env          []string
	timeout      time.Duration
	logger       *log.Logger
	observer     StreamObserver

	// wrapStdout, when set, wraps the streaming handler's stdout before it
	// is read.
	wrapStdout func(io.Reader) io.Reader
}

func NewRunner(opts Options) (*Runner, error) {
	interpreter := strings.TrimSpace(opts.Interpreter)
	if interpreter == "" {
		return nil, fmt.Errorf("interpreter is required")
	}
	if opts.Timeout < 0 {
		return nil, fmt.Errorf("timeout cannot be negative")
	}

	streamScript := opts.StreamScript
	if streamScript.Script == "" {
		streamScript = opts.Script
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	return &Runner{
		interpreter:  interpreter,
		script:       opts.Script,
		streamScript: streamScript,
		env:          append([]string(nil), opts.Env...),
		timeout:      opts.Timeout,
		logger:       logger,
		observer:     opts.Observer,
	}, nil
}

// NewRunnerFromSettings builds a Runner from loaded settings. extraEnv carries
// values that do not live in the settings file, such as keyring secrets.
func NewRunnerFromSettings(s config.Settings, extraEnv []string, logger *log.Logger) (*Runner, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	script, stream := LocatorsFromSettings(s)
	env := append(s.Environ(), extraEnv...)
	return NewRunner(Options{
		Interpreter:  s.Interpreter,
		Script:       script,
		StreamScript: stream,
		Env:          env,
		Timeout:      s.Timeout,
		Logger:       logger,
	})
}

func (r *Runner) Interpreter() string { return r.interpreter }

// ScriptPath resolves the synchronous handler script.
func (r *Runner) ScriptPath() (string, error) { return r.script.Resolve() }

// StreamScriptPath resolves the streaming handler script.
func (r *Runner) StreamScriptPath() (string, error) { return r.streamScript.Resolve() }

// Available probes the configured interpreter.
func (r *Runner) Available(ctx context.Context) bool {
	return Probe(ctx, r.interpreter)
}

func (r *Runner) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout > 0 {
		return context.WithTimeout(ctx, r.timeout)
	}
	return context.WithCancel(ctx)
}

// command builds `<interpreter> <script> <message>`. The message is passed as a
// single argument and never interpreted by a shell.
func (r *Runner) command(ctx context.Context, script, message string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, r.interpreter, script, message)
	cmd.Env = append(os.Environ(), r.env...)
	cmd.WaitDelay = waitDelay
	configureProcess(cmd)
	return cmd
}

type invocationKey struct{}

// WithInvocationID tags ctx so runner log lines can be correlated with the
// caller's records.
func WithInvocationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, invocationKey{}, id)
}

// InvocationID returns the ID attached to ctx or a fresh one.
func InvocationID(ctx context.Context) string {
	if id, ok := ctx.Value(invocationKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}
