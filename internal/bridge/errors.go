package bridge

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Kind classifies invocation failures.
type Kind int

const (
	KindUnknown Kind = iota
	KindScriptNotFound
	KindSpawnFailed
	KindExecutionFailed
	KindDecodeFailed
	KindStreamRead
	KindSinkDelivery
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindScriptNotFound:
		return "script_not_found"
	case KindSpawnFailed:
		return "process_spawn_failed"
	case KindExecutionFailed:
		return "process_execution_failed"
	case KindDecodeFailed:
		return "decode_failed"
	case KindStreamRead:
		return "stream_read_error"
	case KindSinkDelivery:
		return "sink_delivery_error"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) Kind {
	for k := KindScriptNotFound; k <= KindCanceled; k++ {
		if k.String() == s {
			return k
		}
	}
	return KindUnknown
}

// Sentinels for errors.Is matching against an *Error of the same kind.
var (
	ErrScriptNotFound   = errors.New("script not found")
	ErrSpawnFailed      = errors.New("process spawn failed")
	ErrExecutionFailed  = errors.New("process execution failed")
	ErrDecodeFailed     = errors.New("decode failed")
	ErrStreamRead       = errors.New("stream read error")
	ErrSinkDelivery     = errors.New("sink delivery error")
	ErrCanceled         = errors.New("invocation canceled")
	errUnknownInvokeErr = errors.New("invocation failed")
)

// Sentinel returns the package error that an *Error of kind k matches.
func (k Kind) Sentinel() error {
	switch k {
	case KindScriptNotFound:
		return ErrScriptNotFound
	case KindSpawnFailed:
		return ErrSpawnFailed
	case KindExecutionFailed:
		return ErrExecutionFailed
	case KindDecodeFailed:
		return ErrDecodeFailed
	case KindStreamRead:
		return ErrStreamRead
	case KindSinkDelivery:
		return ErrSinkDelivery
	case KindCanceled:
		return ErrCanceled
	default:
		return errUnknownInvokeErr
	}
}

// Error is the failure type returned by the invokers. Path is the script or
// interpreter involved, Stderr the captured diagnostics of a failed run and Raw
// the undecodable output.
type Error struct {
	Kind     Kind
	Path     string
	Stderr   string
	Raw      string
	ExitCode int
	Err      error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindScriptNotFound:
		if e.Err != nil && !errors.Is(e.Err, os.ErrNotExist) {
			return fmt.Sprintf("chat handler script not found at: %s (%v)", e.Path, e.Err)
		}
		return fmt.Sprintf("chat handler script not found at: %s", e.Path)
	case KindSpawnFailed:
		return fmt.Sprintf("failed to execute %s: %v", e.Path, e.Err)
	case KindExecutionFailed:
		if e.Stderr == "" && e.Err != nil {
			return fmt.Sprintf("chat handler failed: %v", e.Err)
		}
		return fmt.Sprintf("chat handler failed: %s", e.Stderr)
	case KindDecodeFailed:
		return fmt.Sprintf("failed to parse handler response: %v", e.Err)
	case KindStreamRead:
		return fmt.Sprintf("failed to read handler output: %v", e.Err)
	case KindSinkDelivery:
		return fmt.Sprintf("failed to deliver stream unit: %v", e.Err)
	case KindCanceled:
		return fmt.Sprintf("chat handler invocation canceled: %v", e.Err)
	default:
		if e.Err != nil {
			return e.Err.Error()
		}
		return errUnknownInvokeErr.Error()
	}
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind.Sentinel()}
	}
	return []error{e.Kind.Sentinel(), e.Err}
}

// KindOf returns the Kind of err, or KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var bErr *Error
	if errors.As(err, &bErr) {
		return bErr.Kind
	}
	return KindUnknown
}

// Message flattens err into the single line shown to users.
func Message(err error) string {
	if err == nil {
		return ""
	}
	return strings.TrimRight(err.Error(), "\r\n")
}
