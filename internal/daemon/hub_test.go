package daemon

import (
	"context"
	"testing"
	"time"
)

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed unexpectedly")
		}
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	var zero T
	return zero
}

func TestHubFanOut(t *testing.T) {
	hub := NewHub[int](4)
	defer hub.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := hub.Subscribe(ctx, TopicStreamChunk)
	b := hub.Subscribe(ctx, TopicStreamChunk)
	other := hub.Subscribe(ctx, "other")

	if n := hub.Publish(TopicStreamChunk, 7); n != 2 {
		t.Fatalf("expected 2 deliveries, got %d", n)
	}
	if receive(t, a) != 7 || receive(t, b) != 7 {
		t.Fatalf("subscribers did not receive the event")
	}
	select {
	case v := <-other:
		t.Fatalf("other topic received %d", v)
	default:
	}
}

func TestHubUnsubscribeOnCancel(t *testing.T) {
	hub := NewHub[int](4)
	defer hub.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	ch := hub.Subscribe(ctx, TopicStreamChunk)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("channel not closed after cancel")
	}
	if hub.SubscriberCount(TopicStreamChunk) != 0 {
		t.Fatalf("subscriber not removed")
	}
}

func TestHubShutdownClosesSubscribers(t *testing.T) {
	hub := NewHub[int](4)
	ch := hub.Subscribe(context.Background(), TopicStreamChunk)
	hub.Shutdown()

	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel after shutdown")
	}
	late := hub.Subscribe(context.Background(), "late")
	if _, ok := <-late; ok {
		t.Fatalf("subscriptions after shutdown should be closed")
	}
	if n := hub.Publish(TopicStreamChunk, 1); n != 0 {
		t.Fatalf("publish after shutdown delivered %d", n)
	}
}

func TestBrokerSkipsSlowSubscriber(t *testing.T) {
	b := NewBroker[int](1)
	defer b.Shutdown()

	ch := b.Subscribe(context.Background())
	b.Publish(1)

	done := make(chan struct{})
	go func() {
		b.Publish(2)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publish blocked on a full subscriber")
	}
	if receive(t, ch) != 1 {
		t.Fatalf("expected first event to be kept")
	}
}
