package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("socket.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindSocketConnected, Timestamp: time.Now(), Payload: "test"})

	select {
	case evt := <-ch:
		if evt.Kind != KindSocketConnected {
			t.Errorf("got kind %q, want %q", evt.Kind, KindSocketConnected)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("socket.event.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindSocketConnected})
	b.Publish(Event{Kind: KindNewMessage})

	select {
	case evt := <-ch:
		if evt.Kind != KindNewMessage {
			t.Errorf("got kind %q, want %q", evt.Kind, KindNewMessage)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// Ensure the connection event was not delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected: no more events.
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("socket.", 10)
	unsub()

	b.Publish(Event{Kind: KindSocketConnected})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("socket.", 1)
	defer unsub()

	// Second publish must not block even though nobody is draining.
	done := make(chan struct{})
	go func() {
		b.Publish(Event{Kind: KindSocketConnected})
		b.Publish(Event{Kind: KindSocketDisconnected})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	// Only the first event fit in the buffer.
	evt := <-ch
	if evt.Kind != KindSocketConnected {
		t.Errorf("got kind %q, want %q", evt.Kind, KindSocketConnected)
	}
	select {
	case evt := <-ch:
		t.Errorf("dropped event was delivered: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDefaultBufferSelected(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("socket.", 0)
	defer unsub()

	if cap(ch) != DefaultBuffer {
		t.Errorf("cap = %d, want %d", cap(ch), DefaultBuffer)
	}
}
