package tracking

import (
	"context"
	"testing"
	"time"
)

func TestDispatcherDeliversToOwningUserOnly(t *testing.T) {
	dispatcher := NewDispatcher()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "user-1")
	defer cleanup()
	otherStream, otherCleanup := dispatcher.Subscribe(ctx, "user-2")
	defer otherCleanup()

	dispatcher.Publish(Event{
		UserID:     "user-1",
		EventType:  EventMetricUpdated,
		MetricKind: "water",
		Day:        "2026-03-14",
		Value:      200,
		Target:     2000,
	})

	select {
	case event := <-stream:
		if event.MetricKind != "water" || event.Value != 200 {
			t.Fatalf("unexpected event: %#v", event)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected event delivery")
	}

	select {
	case event := <-otherStream:
		t.Fatalf("unexpected cross-user delivery: %#v", event)
	default:
	}
}

func TestDispatcherDropsWhenSubscriberIsSlow(t *testing.T) {
	dispatcher := NewDispatcher()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "user-1")
	defer cleanup()

	for i := 0; i < 64; i++ {
		dispatcher.Publish(Event{UserID: "user-1", EventType: EventMetricUpdated})
	}

	received := 0
	for {
		select {
		case <-stream:
			received++
			continue
		default:
		}
		break
	}
	if received == 0 || received > 16 {
		t.Fatalf("expected buffered delivery with drops, received %d", received)
	}
}

func TestDispatcherIgnoresAnonymousSubscribers(t *testing.T) {
	dispatcher := NewDispatcher()

	stream, cleanup := dispatcher.Subscribe(context.Background(), "")
	defer cleanup()

	if _, open := <-stream; open {
		t.Fatalf("expected a closed stream for empty user id")
	}
}

func TestDispatcherUnsubscribesOnContextCancel(t *testing.T) {
	dispatcher := NewDispatcher()

	ctx, cancel := context.WithCancel(context.Background())
	_, cleanup := dispatcher.Subscribe(ctx, "user-1")
	defer cleanup()

	cancel()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		dispatcher.mu.RLock()
		remaining := len(dispatcher.subscribers["user-1"])
		dispatcher.mu.RUnlock()
		if remaining == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected subscriber removal after cancellation")
}
