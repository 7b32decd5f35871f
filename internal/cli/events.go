package cli

import "chatbridge/internal/protocol"

// Event type constants
const (
	EventStreamStarted   = "stream.started"
	EventStreamUnit      = "stream.unit"
	EventStreamCompleted = "stream.completed"
	EventStreamFailed    = "stream.failed"
)

// StreamStartedEvent emitted before the handler is launched
type StreamStartedEvent struct {
	Type         string `json:"type"`
	InvocationID string `json:"invocation_id,omitempty"`
	Message      string `json:"message"`
	ViaDaemon    bool   `json:"via_daemon"`
}

// StreamUnitEvent emitted for every unit the handler produced
type StreamUnitEvent struct {
	Type         string              `json:"type"`
	InvocationID string              `json:"invocation_id,omitempty"`
	Seq          int                 `json:"seq"`
	Unit         protocol.StreamUnit `json:"unit"`
}

// StreamCompletedEvent emitted when the handler output was fully consumed
type StreamCompletedEvent struct {
	Type         string `json:"type"`
	InvocationID string `json:"invocation_id,omitempty"`
	ExchangeID   string `json:"exchange_id,omitempty"`
	Delivered    int    `json:"delivered"`
	Dropped      int    `json:"dropped"`
	ExitCode     int    `json:"exit_code"`
	DurationMS   int64  `json:"duration_ms"`
}

// StreamFailedEvent emitted when the invocation failed
type StreamFailedEvent struct {
	Type         string `json:"type"`
	InvocationID string `json:"invocation_id,omitempty"`
	ExchangeID   string `json:"exchange_id,omitempty"`
	Error        string `json:"error"`
	ErrorKind    string `json:"error_kind,omitempty"`
	Delivered    int    `json:"delivered"`
	Dropped      int    `json:"dropped"`
	ExitCode     int    `json:"exit_code"`
	DurationMS   int64  `json:"duration_ms"`
}
