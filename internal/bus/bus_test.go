package bus

import (
	"context"
	"runtime"
	"testing"
	"time"
)

func TestDispatcherPublishesToSubscriber(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx)
	defer cleanup()

	dispatcher.Publish(Message{
		Type:    EventNotesChanged,
		VideoID: "video-1",
		NoteIDs: []string{"note-a", "note-b"},
	})

	select {
	case received := <-stream:
		if received.Type != EventNotesChanged {
			t.Fatalf("expected event type %s, got %s", EventNotesChanged, received.Type)
		}
		if len(received.NoteIDs) != 2 {
			t.Fatalf("expected 2 note ids, got %d", len(received.NoteIDs))
		}
		if received.Timestamp.IsZero() {
			t.Fatal("expected publish to stamp the message")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected broadcast message within deadline")
	}
}

func TestDispatcherDropsUntypedMessages(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx)
	defer cleanup()

	dispatcher.Publish(Message{})

	select {
	case msg := <-stream:
		t.Fatalf("did not expect delivery of untyped message %#v", msg)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestDispatcherUnsubscribeStopsDelivery(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx)
	cleanup()

	dispatcher.Publish(Message{Type: EventSyncComplete})

	select {
	case msg, open := <-stream:
		if open {
			t.Fatalf("did not expect message after cleanup: %#v", msg)
		}
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSubscribeWithBackgroundContextDoesNotLeakGoroutines(t *testing.T) {
	dispatcher := NewDispatcher()

	before := runtime.NumGoroutine()
	for i := 0; i < 100; i++ {
		_, cleanup := dispatcher.Subscribe(context.Background())
		cleanup()
	}
	// Allow any stray goroutines to unwind before counting.
	time.Sleep(50 * time.Millisecond)
	after := runtime.NumGoroutine()

	if after > before+2 {
		t.Fatalf("expected no goroutine growth across subscribe/cleanup cycles, before=%d after=%d", before, after)
	}
}

func TestSubscribeStillEndsOnContextCancel(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())

	_, _ = dispatcher.Subscribe(ctx)
	cancel()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		dispatcher.mu.RLock()
		remaining := len(dispatcher.subscribers)
		dispatcher.mu.RUnlock()
		if remaining == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected context cancellation to unregister the subscriber")
}

func TestDispatcherDoesNotBlockOnSlowSubscriber(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, cleanup := dispatcher.Subscribe(ctx)
	defer cleanup()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			dispatcher.Publish(Message{Type: EventNotesChanged})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a subscriber that never drains")
	}
}
