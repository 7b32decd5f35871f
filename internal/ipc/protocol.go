package ipc

import (
	"encoding/json"

	"chatbridge/internal/bridge"
	"chatbridge/internal/history"
	"chatbridge/internal/protocol"
)

type RequestType string

const (
	RequestCheck    RequestType = "check"
	RequestSend     RequestType = "send"
	RequestStream   RequestType = "stream"
	RequestWatch    RequestType = "watch"
	RequestHistory  RequestType = "history"
	RequestShutdown RequestType = "shutdown"
)

// EventStreamChunk names the channel every streamed unit is published on.
const EventStreamChunk = "stream-chunk"

type Request struct {
	Type       RequestType `json:"type"`
	Message    string      `json:"message,omitempty"`
	ExchangeID string      `json:"exchange_id,omitempty"`
	Limit      int         `json:"limit,omitempty"`
	ClientID   string      `json:"client_id,omitempty"`
}

type Response struct {
	Success    bool                 `json:"success"`
	Error      string               `json:"error,omitempty"`
	ErrorKind  string               `json:"error_kind,omitempty"`
	Result     *protocol.ChatResult `json:"result,omitempty"`
	Available  *bool                `json:"available,omitempty"`
	Exchanges  []history.Exchange   `json:"exchanges,omitempty"`
	ExchangeID string               `json:"exchange_id,omitempty"`
	Stats      *StreamStats         `json:"stats,omitempty"`
}

// StreamStats mirrors bridge.StreamStats on the wire.
type StreamStats struct {
	Delivered int    `json:"delivered"`
	Dropped   int    `json:"dropped"`
	ExitCode  int    `json:"exit_code"`
	State     string `json:"state"`
}

func NewStreamStats(stats bridge.StreamStats) *StreamStats {
	return &StreamStats{
		Delivered: stats.Delivered,
		Dropped:   stats.Dropped,
		ExitCode:  stats.ExitCode,
		State:     stats.State.String(),
	}
}

// ChunkEvent is one streamed unit as seen by subscribers.
type ChunkEvent struct {
	Event        string              `json:"event"`
	InvocationID string              `json:"invocation_id"`
	Seq          int                 `json:"seq"`
	Unit         protocol.StreamUnit `json:"unit"`
}

// ErrorResponse flattens err for the wire, keeping its kind when known.
func ErrorResponse(err error) Response {
	resp := Response{Success: false, Error: bridge.Message(err)}
	if kind := bridge.KindOf(err); kind != bridge.KindUnknown {
		resp.ErrorKind = kind.String()
	}
	return resp
}

// RemoteError is a failure reported by the daemon. It matches the bridge
// sentinel of its kind through errors.Is.
type RemoteError struct {
	Kind    bridge.Kind
	Message string
}

func (e *RemoteError) Error() string { return e.Message }

func (e *RemoteError) Unwrap() error {
	if e.Kind == bridge.KindUnknown {
		return nil
	}
	return e.Kind.Sentinel()
}

// Err converts an unsuccessful response into an error.
func (r Response) Err() error {
	if r.Success {
		return nil
	}
	msg := r.Error
	if msg == "" {
		msg = "daemon request failed"
	}
	return &RemoteError{Kind: bridge.ParseKind(r.ErrorKind), Message: msg}
}

func EncodeRequest(req Request) ([]byte, error) {
	return json.Marshal(req)
}

func DecodeRequest(data []byte) (Request, error) {
	var req Request
	err := json.Unmarshal(data, &req)
	return req, err
}

func EncodeResponse(resp Response) ([]byte, error) {
	return json.Marshal(resp)
}

func DecodeResponse(data []byte) (Response, error) {
	var resp Response
	err := json.Unmarshal(data, &resp)
	return resp, err
}

type envelope struct {
	Event string `json:"event"`
}

// decodeStreamLine tells a chunk event apart from the final response of an
// event-mode connection.
func decodeStreamLine(data []byte) (*ChunkEvent, *Response, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, nil, err
	}
	if env.Event == EventStreamChunk {
		var ev ChunkEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, nil, err
		}
		return &ev, nil, nil
	}
	resp, err := DecodeResponse(data)
	if err != nil {
		return nil, nil, err
	}
	return nil, &resp, nil
}
