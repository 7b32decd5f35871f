package daemon

import (
	"context"
	"sync"
)

const defaultBufferCap = 64

// Broker fan-outs events to subscribers without blocking publishers.
type Broker[T any] struct {
	mu        sync.RWMutex
	subs      map[chan T]struct{}
	done      chan struct{}
	bufferCap int
}

// NewBroker constructs a broker whose subscribers buffer up to bufferCap
// events; a non-positive value uses the default.
func NewBroker[T any](bufferCap int) *Broker[T] {
	if bufferCap <= 0 {
		bufferCap = defaultBufferCap
	}
	return &Broker[T]{
		subs:      make(map[chan T]struct{}),
		done:      make(chan struct{}),
		bufferCap: bufferCap,
	}
}

// Shutdown closes the broker and all subscriber channels.
func (b *Broker[T]) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case <-b.done:
		return
	default:
		close(b.done)
	}

	for ch := range b.subs {
		close(ch)
	}
	clear(b.subs)
}

// Subscribe registers for future events. The returned channel closes when the
// provided context is done or the broker shuts down.
func (b *Broker[T]) Subscribe(ctx context.Context) <-chan T {
	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case <-b.done:
		ch := make(chan T)
		close(ch)
		return ch
	default:
	}

	ch := make(chan T, b.bufferCap)
	b.subs[ch] = struct{}{}

	go func() {
		select {
		case <-ctx.Done():
		case <-b.done:
			return
		}

		b.mu.Lock()
		defer b.mu.Unlock()

		if _, ok := b.subs[ch]; !ok {
			return
		}
		delete(b.subs, ch)
		close(ch)
	}()

	return ch
}

// Publish sends payload to all subscribers using best-effort delivery and
// reports how many received it.
func (b *Broker[T]) Publish(payload T) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	select {
	case <-b.done:
		return 0
	default:
	}

	delivered := 0
	for ch := range b.subs {
		select {
		case ch <- payload:
			delivered++
		default:
			// Slow subscriber; skip to avoid blocking the publisher.
		}
	}
	return delivered
}

func (b *Broker[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
