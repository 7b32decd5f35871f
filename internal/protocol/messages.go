package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// UnitKind is the discriminant of a streamed record.
type UnitKind string

const (
	KindContent UnitKind = "content"
	KindDone    UnitKind = "done"
	KindError   UnitKind = "error"
	KindOther   UnitKind = "other"
)

// ErrMissingField is returned when a record lacks a required field.
var ErrMissingField = errors.New("missing required field")

// ChatResult is the single payload a handler prints in synchronous mode.
type ChatResult struct {
	Success bool    `json:"success"`
	Message *string `json:"message"`
	Error   *string `json:"error"`
}

// Text returns the field that is meaningful for the success flag.
func (r ChatResult) Text() string {
	if r.Success {
		if r.Message != nil {
			return *r.Message
		}
		return ""
	}
	if r.Error != nil {
		return *r.Error
	}
	return ""
}

// StreamUnit is one decoded line of a streaming handler's output.
type StreamUnit struct {
	Kind    UnitKind `json:"kind"`
	Type    string   `json:"type"`
	Content *string  `json:"content,omitempty"`
	Success *bool    `json:"success,omitempty"`
	Error   *string  `json:"error,omitempty"`
}

// IsTerminal reports whether the unit carries final status.
func (u StreamUnit) IsTerminal() bool {
	return u.Kind == KindDone || u.Kind == KindError
}

// ContentText returns the chunk text or an empty string.
func (u StreamUnit) ContentText() string {
	if u.Content == nil {
		return ""
	}
	return *u.Content
}

// ErrorText returns the error text or an empty string.
func (u StreamUnit) ErrorText() string {
	if u.Error == nil {
		return ""
	}
	return *u.Error
}

type wireResult struct {
	Success *bool   `json:"success"`
	Message *string `json:"message"`
	Error   *string `json:"error"`
}

type wireUnit struct {
	Type    *string `json:"type"`
	Content *string `json:"content"`
	Success *bool   `json:"success"`
	Error   *string `json:"error"`
}

// DecodeResult parses the full stdout of a synchronous invocation.
func DecodeResult(data []byte) (ChatResult, error) {
	var w wireResult
	if err := json.Unmarshal(bytes.TrimSpace(data), &w); err != nil {
		return ChatResult{}, err
	}
	if w.Success == nil {
		return ChatResult{}, fmt.Errorf("success: %w", ErrMissingField)
	}
	return ChatResult{Success: *w.Success, Message: w.Message, Error: w.Error}, nil
}

// DecodeUnit parses a single line of streaming output.
func DecodeUnit(line []byte) (StreamUnit, error) {
	var w wireUnit
	if err := json.Unmarshal(bytes.TrimSpace(line), &w); err != nil {
		return StreamUnit{}, err
	}
	if w.Type == nil {
		return StreamUnit{}, fmt.Errorf("type: %w", ErrMissingField)
	}
	return StreamUnit{
		Kind:    ParseUnitKind(*w.Type),
		Type:    *w.Type,
		Content: w.Content,
		Success: w.Success,
		Error:   w.Error,
	}, nil
}

// ParseUnitKind maps a wire type to its UnitKind; unknown types are KindOther.
func ParseUnitKind(t string) UnitKind {
	switch UnitKind(t) {
	case KindContent, KindDone, KindError:
		return UnitKind(t)
	default:
		return KindOther
	}
}

// NewContentUnit builds a content chunk.
func NewContentUnit(text string) StreamUnit {
	return StreamUnit{Kind: KindContent, Type: string(KindContent), Content: &text}
}

// NewDoneUnit builds a completion marker.
func NewDoneUnit(success bool) StreamUnit {
	return StreamUnit{Kind: KindDone, Type: string(KindDone), Success: &success}
}

// NewErrorUnit builds an error marker.
func NewErrorUnit(msg string) StreamUnit {
	failed := false
	return StreamUnit{Kind: KindError, Type: string(KindError), Success: &failed, Error: &msg}
}
