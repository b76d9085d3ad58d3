package sync

import (
	"sync"
	"time"
)

// TypingExpiry is how long a typing indicator stays active without a
// follow-up event. The bridge does not reliably send a stop event, so
// presence decays client-side.
const TypingExpiry = 5 * time.Second

type typingEntry struct {
	sender string
	seen   time.Time
}

// TypingTracker holds ephemeral typing presence per chat. Nothing here is
// ever persisted; entries expire lazily on read.
type TypingTracker struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]typingEntry
}

// NewTypingTracker creates a tracker. ttl <= 0 selects TypingExpiry.
func NewTypingTracker(ttl time.Duration) *TypingTracker {
	if ttl <= 0 {
		ttl = TypingExpiry
	}
	return &TypingTracker{
		ttl:     ttl,
		entries: make(map[string]typingEntry),
	}
}

// Set records typing presence for a chat. typing=false clears it.
func (t *TypingTracker) Set(chatGUID, sender string, typing bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !typing {
		delete(t.entries, chatGUID)
		return
	}
	t.entries[chatGUID] = typingEntry{sender: sender, seen: time.Now()}
}

// Active reports whether someone is currently typing in the chat, and who.
// Entries older than the ttl are expired on the way out.
func (t *TypingTracker) Active(chatGUID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[chatGUID]
	if !ok {
		return "", false
	}
	if time.Since(e.seen) > t.ttl {
		delete(t.entries, chatGUID)
		return "", false
	}
	return e.sender, true
}
