package sync

import (
	"testing"
	"time"
)

func TestTypingSetAndClear(t *testing.T) {
	tr := NewTypingTracker(time.Minute)

	tr.Set("c1", "a@example.com", true)
	if sender, ok := tr.Active("c1"); !ok || sender != "a@example.com" {
		t.Errorf("active = %q/%v", sender, ok)
	}

	tr.Set("c1", "a@example.com", false)
	if _, ok := tr.Active("c1"); ok {
		t.Error("still active after clear")
	}
}

func TestTypingExpiresLazily(t *testing.T) {
	tr := NewTypingTracker(10 * time.Millisecond)

	tr.Set("c1", "a@example.com", true)
	time.Sleep(20 * time.Millisecond)

	if _, ok := tr.Active("c1"); ok {
		t.Error("entry should have expired")
	}
	// Expired entry is gone, not just hidden.
	tr.mu.Lock()
	_, present := tr.entries["c1"]
	tr.mu.Unlock()
	if present {
		t.Error("expired entry not removed")
	}
}

func TestTypingChatsIndependent(t *testing.T) {
	tr := NewTypingTracker(time.Minute)

	tr.Set("c1", "a@example.com", true)
	if _, ok := tr.Active("c2"); ok {
		t.Error("typing leaked across chats")
	}
}
