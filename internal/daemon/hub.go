package daemon

import (
	"context"
	"sync"
)

// Hub routes events to per-topic brokers.
type Hub[T any] struct {
	mu      sync.Mutex
	topics  map[string]*Broker[T]
	closed  bool
	bufSize int
}

func NewHub[T any](bufSize int) *Hub[T] {
	return &Hub[T]{topics: make(map[string]*Broker[T]), bufSize: bufSize}
}

func (h *Hub[T]) broker(topic string) *Broker[T] {
	h.mu.Lock()
	defer h.mu.Unlock()

	b, ok := h.topics[topic]
	if !ok {
		b = NewBroker[T](h.bufSize)
		if h.closed {
			b.Shutdown()
		}
		h.topics[topic] = b
	}
	return b
}

// Subscribe follows topic until ctx is done or the hub shuts down.
func (h *Hub[T]) Subscribe(ctx context.Context, topic string) <-chan T {
	return h.broker(topic).Subscribe(ctx)
}

// Publish delivers payload once to each current subscriber of topic.
func (h *Hub[T]) Publish(topic string, payload T) int {
	return h.broker(topic).Publish(payload)
}

func (h *Hub[T]) SubscriberCount(topic string) int {
	return h.broker(topic).SubscriberCount()
}

// Shutdown closes every topic. Later subscriptions receive a closed channel.
func (h *Hub[T]) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for _, b := range h.topics {
		b.Shutdown()
	}
}
