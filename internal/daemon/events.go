package daemon

import (
	"chatbridge/internal/ipc"
	"chatbridge/internal/protocol"
)

// TopicStreamChunk carries every unit delivered by a streaming invocation.
const TopicStreamChunk = ipc.EventStreamChunk

func newChunkEvent(invocationID string, seq int, unit protocol.StreamUnit) ipc.ChunkEvent {
	return ipc.ChunkEvent{
		Event:        TopicStreamChunk,
		InvocationID: invocationID,
		Seq:          seq,
		Unit:         unit,
	}
}
