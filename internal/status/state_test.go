package status

import (
	"testing"
	"time"

	"github.com/matheus3301/bbsync/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Disconnected {
		t.Errorf("initial state = %s, want %s", m.Current(), Disconnected)
	}
}

func TestValidTransitionSequence(t *testing.T) {
	m := NewMachine(nil)

	steps := []State{Connecting, Connected, Error, Connecting, Connected, Disconnected}
	for _, to := range steps {
		if err := m.Transition(to); err != nil {
			t.Fatalf("transition to %s: %v", to, err)
		}
	}
	if m.Current() != Disconnected {
		t.Errorf("final state = %s, want %s", m.Current(), Disconnected)
	}
}

func TestInvalidTransitionRejected(t *testing.T) {
	m := NewMachine(nil)

	// Disconnected cannot jump straight to Connected.
	if err := m.Transition(Connected); err == nil {
		t.Error("expected error for Disconnected -> Connected")
	}
	if m.Current() != Disconnected {
		t.Errorf("state changed on rejected transition: %s", m.Current())
	}
}

func TestFailRecordsReason(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}
	if err := m.Fail("dial refused"); err != nil {
		t.Fatal(err)
	}
	if m.Current() != Error {
		t.Errorf("state = %s, want %s", m.Current(), Error)
	}
	if m.Reason() != "dial refused" {
		t.Errorf("reason = %q, want %q", m.Reason(), "dial refused")
	}
}

func TestErrorToErrorUpdatesReason(t *testing.T) {
	m := NewMachine(nil)
	_ = m.Transition(Connecting)
	_ = m.Fail("first")
	if err := m.Fail("second"); err != nil {
		t.Fatal(err)
	}
	if m.Reason() != "second" {
		t.Errorf("reason = %q, want %q", m.Reason(), "second")
	}
}

func TestTransitionPublishesStatusChange(t *testing.T) {
	b := bus.New()
	m := NewMachine(b)

	ch, unsub := b.Subscribe("socket.status", 10)
	defer unsub()

	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		sc, ok := evt.Payload.(StatusChange)
		if !ok {
			t.Fatalf("payload type %T, want StatusChange", evt.Payload)
		}
		if sc.From != Disconnected || sc.To != Connecting {
			t.Errorf("got %s -> %s, want %s -> %s", sc.From, sc.To, Disconnected, Connecting)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for status change event")
	}
}
