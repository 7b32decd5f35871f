package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"chatbridge/internal/protocol"
)

// EventEmitter renders the lifecycle of a streamed invocation.
type EventEmitter interface {
	EmitStreamStarted(event StreamStartedEvent)
	// EmitStreamUnit returns the write error so a closed stdout stops the
	// handler.
	EmitStreamUnit(event StreamUnitEvent) error
	EmitStreamCompleted(event StreamCompletedEvent)
	EmitStreamFailed(event StreamFailedEvent)
}

// JSONEmitter writes events as JSON Lines
type JSONEmitter struct {
	mu     sync.Mutex
	output io.Writer
}

func NewJSONEmitter(output io.Writer) *JSONEmitter {
	return &JSONEmitter{output: output}
}

func (e *JSONEmitter) emit(event interface{}) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	data, err := json.Marshal(event)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to serialize event: %v\n", err)
		return nil
	}

	if _, err := fmt.Fprintln(e.output, string(data)); err != nil {
		return err
	}

	// Flush to ensure streaming behavior
	if f, ok := e.output.(*os.File); ok {
		f.Sync()
	}
	return nil
}

func (e *JSONEmitter) EmitStreamStarted(event StreamStartedEvent) {
	event.Type = EventStreamStarted
	e.emit(event)
}

func (e *JSONEmitter) EmitStreamUnit(event StreamUnitEvent) error {
	event.Type = EventStreamUnit
	return e.emit(event)
}

func (e *JSONEmitter) EmitStreamCompleted(event StreamCompletedEvent) {
	event.Type = EventStreamCompleted
	e.emit(event)
}

func (e *JSONEmitter) EmitStreamFailed(event StreamFailedEvent) {
	event.Type = EventStreamFailed
	e.emit(event)
}

// PrettyEmitter writes response text to out as it arrives and everything
// else to errOut.
type PrettyEmitter struct {
	mu       sync.Mutex
	out      io.Writer
	errOut   io.Writer
	color    bool
	lastByte byte
	wrote    bool
}

func NewPrettyEmitter(out, errOut io.Writer) *PrettyEmitter {
	return &PrettyEmitter{
		out:    out,
		errOut: errOut,
		color:  useColor(out),
	}
}

func (e *PrettyEmitter) EmitStreamStarted(event StreamStartedEvent) {}

func (e *PrettyEmitter) EmitStreamUnit(event StreamUnitEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	unit := event.Unit
	switch unit.Kind {
	case protocol.KindContent:
		text := unit.ContentText()
		if text == "" {
			return nil
		}
		// Raw ANSI codes keep lipgloss from re-wrapping partial lines.
		if e.color {
			text = responseColorStart + text + colorReset
		}
		if _, err := io.WriteString(e.out, text); err != nil {
			return err
		}
		e.wrote = true
		e.lastByte = unit.ContentText()[len(unit.ContentText())-1]
	case protocol.KindError:
		e.finishLine()
		fmt.Fprintln(e.errOut, errorStyle.Render("Handler error:")+" "+unit.ErrorText())
	case protocol.KindDone:
	default:
		fmt.Fprintln(e.errOut, veryMutedBracket.Render("[")+veryMutedStyle.Render("unit "+unit.Type)+veryMutedBracket.Render("]"))
	}
	return nil
}

// finishLine terminates response text that did not end with a newline.
func (e *PrettyEmitter) finishLine() {
	if e.wrote && e.lastByte != '\n' {
		fmt.Fprintln(e.out)
	}
	e.wrote = false
}

func (e *PrettyEmitter) EmitStreamCompleted(event StreamCompletedEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.finishLine()
	if event.Dropped > 0 {
		fmt.Fprintln(e.errOut, mutedStyle.Render(fmt.Sprintf("Skipped %d malformed line(s)", event.Dropped)))
	}
}

func (e *PrettyEmitter) EmitStreamFailed(event StreamFailedEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.finishLine()
	details := []string{}
	if event.ErrorKind != "" {
		details = append(details, event.ErrorKind)
	}
	if event.ExitCode != 0 {
		details = append(details, fmt.Sprintf("exit %d", event.ExitCode))
	}
	if len(details) > 0 {
		fmt.Fprintln(e.errOut, mutedStyle.Render("("+strings.Join(details, ", ")+")"))
	}
}
