package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/charmbracelet/huh/spinner"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"chatbridge/config"
	"chatbridge/internal/bridge"
	"chatbridge/internal/credentials"
	"chatbridge/internal/history"
	"chatbridge/internal/ipc"
	"chatbridge/internal/protocol"
	"chatbridge/pkg/db"
	"chatbridge/pkg/migration"
)

// DebugEnv routes runner diagnostics to stderr when set to 1.
const DebugEnv = "CHATBRIDGE_DEBUG"

// Styles for CLI output
var (
	primary   = lipgloss.Color("#f7c0af") // orangish/peach
	secondary = lipgloss.Color("#3ccad7") // cyan
	success   = lipgloss.Color("#87bf47") // green
	errorCol  = lipgloss.Color("#bf5d47") // red
	muted     = lipgloss.Color("#7f7f7f") // gray

	labelStyle       = lipgloss.NewStyle().Foreground(primary).Bold(true)
	valueStyle       = lipgloss.NewStyle().Foreground(secondary)
	mutedStyle       = lipgloss.NewStyle().Foreground(muted)
	successStyle     = lipgloss.NewStyle().Foreground(success)
	errorStyle       = lipgloss.NewStyle().Foreground(errorCol)
	sectionStyle     = lipgloss.NewStyle().Foreground(primary).Bold(true).Margin(1, 0, 0, 0)
	veryMutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#5f5f5f"))
	veryMutedBracket = lipgloss.NewStyle().Foreground(lipgloss.Color("#4f4f4f"))
	spinnerStyle     = lipgloss.NewStyle().MarginLeft(2).Foreground(primary)

	// ANSI color codes for streaming (to avoid lipgloss breaking lines)
	responseColorStart = "\033[38;5;252m" // light gray
	colorReset         = "\033[0m"
)

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// useColor honours NO_COLOR and dumb terminals on top of the TTY check.
func useColor(w io.Writer) bool {
	if !isTerminal(w) {
		return false
	}
	return termenv.NewOutput(w).EnvColorProfile() != termenv.Ascii
}

// ExecOptions controls a single message exchange.
type ExecOptions struct {
	Message string
	// ViaDaemon sends the message through the running daemon.
	ViaDaemon bool
	JSON      bool
	// NoSave skips the history store for local invocations.
	NoSave bool
	Out    io.Writer
	ErrOut io.Writer
}

func (o *ExecOptions) writers() (io.Writer, io.Writer) {
	out, errOut := o.Out, o.ErrOut
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	return out, errOut
}

// session is a locally built runner plus the optional history store.
type session struct {
	runner   *bridge.Runner
	settings config.Settings
	db       *db.DB
	history  *history.Store
}

func runnerLogger(errOut io.Writer) *log.Logger {
	if os.Getenv(DebugEnv) == "1" {
		return log.New(errOut, "[chatbridge] ", log.LstdFlags|log.Lmicroseconds)
	}
	return nil
}

func openSession(errOut io.Writer, record bool) (*session, error) {
	settingsPath, err := config.GetSettingsFile()
	if err != nil {
		return nil, err
	}
	settings, err := config.LoadSettings(settingsPath)
	if err != nil {
		return nil, err
	}

	env, missing, err := credentials.Environ(settings.SecretEnv)
	if err != nil {
		return nil, fmt.Errorf("failed to read secrets: %w", err)
	}
	for _, name := range missing {
		fmt.Fprintln(errOut, errorStyle.Render("Warning:")+" "+mutedStyle.Render(fmt.Sprintf("secret %s is not stored (run: chatbridge secret set %s)", name, name)))
	}

	runner, err := bridge.NewRunnerFromSettings(settings, env, runnerLogger(errOut))
	if err != nil {
		return nil, err
	}

	s := &session{runner: runner, settings: settings}
	if record && settings.History {
		dbPath, err := config.GetDatabasePath()
		if err != nil {
			return nil, err
		}
		d, err := migration.Open(dbPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open history: %w", err)
		}
		s.db = d
		s.history = history.NewStore(d)
	}
	return s, nil
}

func (s *session) record(errOut io.Writer, ex history.Exchange) string {
	if s.history == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.history.Record(ctx, &ex); err != nil {
		fmt.Fprintln(errOut, errorStyle.Render("Warning:")+" "+mutedStyle.Render(fmt.Sprintf("failed to save exchange: %v", err)))
		return ""
	}
	return ex.ID
}

func (s *session) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

// SendMessage runs the synchronous handler and prints its reply to stdout.
// A handler that reports success=false is returned as an error.
func SendMessage(ctx context.Context, opts ExecOptions) error {
	out, errOut := opts.writers()

	var (
		result     protocol.ChatResult
		exchangeID string
		err        error
	)
	call := func() {
		if opts.ViaDaemon {
			result, exchangeID, err = sendViaDaemon(opts.Message)
			return
		}
		result, exchangeID, err = sendLocal(ctx, errOut, opts)
	}

	if !opts.JSON && isTerminal(out) && isTerminal(errOut) {
		spinErr := spinner.New().
			Title("Waiting for the chat handler...").
			Style(spinnerStyle).
			Action(call).
			Run()
		if spinErr != nil {
			return spinErr
		}
	} else {
		call()
	}
	if err != nil {
		return err
	}

	if opts.JSON {
		payload := struct {
			protocol.ChatResult
			ExchangeID string `json:"exchange_id,omitempty"`
		}{result, exchangeID}
		data, mErr := json.Marshal(payload)
		if mErr != nil {
			return mErr
		}
		fmt.Fprintln(out, string(data))
		if !result.Success {
			return errHandlerReported
		}
		return nil
	}

	if !result.Success {
		msg := result.Text()
		if msg == "" {
			msg = "chat handler reported failure"
		}
		return errors.New(msg)
	}
	fmt.Fprintln(out, result.Text())
	return nil
}

// errHandlerReported signals a failure already written as JSON.
var errHandlerReported = errors.New("chat handler reported failure")

// IsReported reports whether err was already shown to the user.
func IsReported(err error) bool {
	return errors.Is(err, errHandlerReported)
}

func sendLocal(ctx context.Context, errOut io.Writer, opts ExecOptions) (protocol.ChatResult, string, error) {
	s, err := openSession(errOut, !opts.NoSave)
	if err != nil {
		return protocol.ChatResult{}, "", err
	}
	defer s.Close()

	id := uuid.NewString()
	started := time.Now()
	result, err := s.runner.Invoke(bridge.WithInvocationID(ctx, id), opts.Message)
	exchangeID := s.record(errOut, history.SyncExchange(id, opts.Message, started, result, err))
	return result, exchangeID, err
}

func sendViaDaemon(message string) (protocol.ChatResult, string, error) {
	client, err := ipc.NewDefaultClient()
	if err != nil {
		return protocol.ChatResult{}, "", fmt.Errorf("daemon is not reachable: %w", err)
	}
	defer client.Close()
	return client.Send(message)
}

// StreamMessage runs the streaming handler and renders units as they arrive.
func StreamMessage(ctx context.Context, opts ExecOptions) error {
	out, errOut := opts.writers()

	var emitter EventEmitter
	if opts.JSON {
		emitter = NewJSONEmitter(out)
	} else {
		emitter = NewPrettyEmitter(out, errOut)
	}

	if opts.ViaDaemon {
		return streamViaDaemon(opts.Message, emitter)
	}
	return streamLocal(ctx, errOut, opts, emitter)
}

func streamLocal(ctx context.Context, errOut io.Writer, opts ExecOptions, emitter EventEmitter) error {
	s, err := openSession(errOut, !opts.NoSave)
	if err != nil {
		return err
	}
	defer s.Close()

	id := uuid.NewString()
	emitter.EmitStreamStarted(StreamStartedEvent{InvocationID: id, Message: opts.Message})

	collector := &bridge.Collector{}
	seq := 0
	render := bridge.SinkFunc(func(unit protocol.StreamUnit) error {
		seq++
		return emitter.EmitStreamUnit(StreamUnitEvent{InvocationID: id, Seq: seq, Unit: unit})
	})

	started := time.Now()
	stats, err := s.runner.InvokeStreamStats(bridge.WithInvocationID(ctx, id), opts.Message, bridge.MultiSink(collector, render))
	exchangeID := s.record(errOut, history.StreamExchange(id, opts.Message, started, collector.Units(), stats, err))
	elapsed := time.Since(started).Milliseconds()

	if err != nil {
		kind := ""
		if k := bridge.KindOf(err); k != bridge.KindUnknown {
			kind = k.String()
		}
		emitter.EmitStreamFailed(StreamFailedEvent{
			InvocationID: id,
			ExchangeID:   exchangeID,
			Error:        bridge.Message(err),
			ErrorKind:    kind,
			Delivered:    stats.Delivered,
			Dropped:      stats.Dropped,
			ExitCode:     stats.ExitCode,
			DurationMS:   elapsed,
		})
		return err
	}

	emitter.EmitStreamCompleted(StreamCompletedEvent{
		InvocationID: id,
		ExchangeID:   exchangeID,
		Delivered:    stats.Delivered,
		Dropped:      stats.Dropped,
		ExitCode:     stats.ExitCode,
		DurationMS:   elapsed,
	})
	return nil
}

func streamViaDaemon(message string, emitter EventEmitter) error {
	client, err := ipc.NewDefaultClient()
	if err != nil {
		return fmt.Errorf("daemon is not reachable: %w", err)
	}
	defer client.Close()

	emitter.EmitStreamStarted(StreamStartedEvent{Message: message, ViaDaemon: true})

	started := time.Now()
	var invocationID string
	resp, err := client.Stream(message, func(ev ipc.ChunkEvent) error {
		invocationID = ev.InvocationID
		return emitter.EmitStreamUnit(StreamUnitEvent{InvocationID: ev.InvocationID, Seq: ev.Seq, Unit: ev.Unit})
	})
	if err != nil {
		return err
	}
	elapsed := time.Since(started).Milliseconds()

	var stats ipc.StreamStats
	if resp.Stats != nil {
		stats = *resp.Stats
	}
	if resp.ExchangeID != "" {
		invocationID = resp.ExchangeID
	}

	if respErr := resp.Err(); respErr != nil {
		emitter.EmitStreamFailed(StreamFailedEvent{
			InvocationID: invocationID,
			ExchangeID:   resp.ExchangeID,
			Error:        resp.Error,
			ErrorKind:    resp.ErrorKind,
			Delivered:    stats.Delivered,
			Dropped:      stats.Dropped,
			ExitCode:     stats.ExitCode,
			DurationMS:   elapsed,
		})
		return respErr
	}

	emitter.EmitStreamCompleted(StreamCompletedEvent{
		InvocationID: invocationID,
		ExchangeID:   resp.ExchangeID,
		Delivered:    stats.Delivered,
		Dropped:      stats.Dropped,
		ExitCode:     stats.ExitCode,
		DurationMS:   elapsed,
	})
	return nil
}

// CheckHandler prints whether the configured interpreter can be launched.
func CheckHandler(ctx context.Context, out io.Writer, viaDaemon bool) (bool, error) {
	var available bool
	if viaDaemon {
		client, err := ipc.NewDefaultClient()
		if err != nil {
			return false, fmt.Errorf("daemon is not reachable: %w", err)
		}
		defer client.Close()
		available, err = client.Check()
		if err != nil {
			return false, err
		}
	} else {
		settingsPath, err := config.GetSettingsFile()
		if err != nil {
			return false, err
		}
		settings, err := config.LoadSettings(settingsPath)
		if err != nil {
			return false, err
		}
		available = bridge.Probe(ctx, settings.Interpreter)
	}

	fmt.Fprintln(out, available)
	return available, nil
}
