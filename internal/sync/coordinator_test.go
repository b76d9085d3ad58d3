package sync

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/bbsync/internal/bus"
	"github.com/matheus3301/bbsync/internal/socket"
	"github.com/matheus3301/bbsync/internal/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testCoordinator(t *testing.T) (*Coordinator, *store.DB, *bus.Bus) {
	t.Helper()
	db := testDB(t)
	b := bus.New()
	rec := NewReconciler(db, nil)
	c := NewCoordinator(db, b, rec, NewTypingTracker(0), nil)
	return c, db, b
}

func newMessageEvent(guid, chatGUID, text string, fromMe bool, ts int64) bus.Event {
	return bus.Event{
		Kind: bus.KindNewMessage,
		Payload: &socket.NewMessage{
			ChatGUID: chatGUID,
			Message: &store.Message{
				GUID: guid, ChatGUID: chatGUID, Text: text,
				DateCreated: ts, FromMe: fromMe,
			},
		},
	}
}

func TestNewMessageCommitted(t *testing.T) {
	c, db, b := testCoordinator(t)

	ch, unsub := b.Subscribe("cache.", 10)
	defer unsub()

	c.handleEvent(newMessageEvent("m1", "c1", "hello", false, 1000))

	m, err := db.GetMessage("m1")
	if err != nil {
		t.Fatal(err)
	}
	if m == nil || m.Text != "hello" {
		t.Fatalf("message = %+v", m)
	}
	conv, _ := db.GetConversation("c1")
	if conv == nil {
		t.Fatal("conversation not created")
	}
	if conv.UnreadCount != 1 {
		t.Errorf("unread = %d, want 1 (inbound message)", conv.UnreadCount)
	}

	select {
	case evt := <-ch:
		if evt.Kind != bus.KindMessageUpserted {
			t.Errorf("kind = %q", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("no cache notification published")
	}
}

func TestNewMessageRedeliveredOnce(t *testing.T) {
	c, db, _ := testCoordinator(t)

	evt := newMessageEvent("m1", "c1", "hello", false, 1000)
	c.handleEvent(evt)
	c.handleEvent(evt)

	msgs, _ := db.ListMessages("c1", 10, 0)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	conv, _ := db.GetConversation("c1")
	if conv.UnreadCount != 1 {
		t.Errorf("unread = %d, want 1 (redelivery must not double-count)", conv.UnreadCount)
	}
}

func TestOwnMessageDoesNotBumpUnread(t *testing.T) {
	c, db, _ := testCoordinator(t)

	c.handleEvent(newMessageEvent("m1", "c1", "sent elsewhere", true, 1000))

	conv, _ := db.GetConversation("c1")
	if conv.UnreadCount != 0 {
		t.Errorf("unread = %d, want 0 for own message", conv.UnreadCount)
	}
}

// An echo of this client's own pending send promotes the provisional row
// instead of inserting a second one.
func TestOwnEchoReconciled(t *testing.T) {
	c, db, _ := testCoordinator(t)

	if err := c.rec.Track("tmp-1", "c1"); err != nil {
		t.Fatal(err)
	}
	if err := db.CommitMessage(&store.Message{
		GUID: "tmp-1", ChatGUID: "c1", Text: "hi",
		DateCreated: 1000, FromMe: true, IsSending: true, TempGUID: "tmp-1",
	}, false); err != nil {
		t.Fatal(err)
	}

	c.handleEvent(bus.Event{
		Kind: bus.KindNewMessage,
		Payload: &socket.NewMessage{
			ChatGUID: "c1",
			TempGUID: "tmp-1",
			Message: &store.Message{
				GUID: "srv-1", ChatGUID: "c1", Text: "hi",
				DateCreated: 1500, FromMe: true,
			},
		},
	})

	msgs, _ := db.ListMessages("c1", 10, 0)
	if len(msgs) != 1 || msgs[0].GUID != "srv-1" {
		t.Fatalf("messages = %+v, want single srv-1 row", msgs)
	}
	if msgs[0].IsSending {
		t.Error("is_sending not cleared by reconciliation")
	}
}

// An echo carrying an unknown temp guid (e.g. sent from another device)
// is just a new message.
func TestEchoWithUnknownTempGuidCommitsNormally(t *testing.T) {
	c, db, _ := testCoordinator(t)

	c.handleEvent(bus.Event{
		Kind: bus.KindNewMessage,
		Payload: &socket.NewMessage{
			ChatGUID: "c1",
			TempGUID: "tmp-unknown",
			Message: &store.Message{
				GUID: "srv-1", ChatGUID: "c1", Text: "hi",
				DateCreated: 1500, FromMe: true,
			},
		},
	})

	m, _ := db.GetMessage("srv-1")
	if m == nil {
		t.Fatal("message not committed")
	}
}

func TestUpdatedMessagePatches(t *testing.T) {
	c, db, _ := testCoordinator(t)

	c.handleEvent(newMessageEvent("m1", "c1", "hello", false, 1000))

	read := int64(1200)
	c.handleEvent(bus.Event{
		Kind:    bus.KindUpdatedMessage,
		Payload: &socket.UpdatedMessage{GUID: "m1", Patch: store.MessagePatch{DateRead: &read}},
	})

	m, _ := db.GetMessage("m1")
	if m.DateRead != 1200 {
		t.Errorf("date_read = %d, want 1200", m.DateRead)
	}
}

func TestUpdatedMessageForUncachedRowDropped(t *testing.T) {
	c, db, _ := testCoordinator(t)

	read := int64(1200)
	c.handleEvent(bus.Event{
		Kind:    bus.KindUpdatedMessage,
		Payload: &socket.UpdatedMessage{GUID: "ghost", Patch: store.MessagePatch{DateRead: &read}},
	})

	if m, _ := db.GetMessage("ghost"); m != nil {
		t.Error("update must not materialize a row")
	}
}

func TestTypingIndicatorTrackedNotPersisted(t *testing.T) {
	c, db, b := testCoordinator(t)

	ch, unsub := b.Subscribe("presence.", 10)
	defer unsub()

	c.handleEvent(bus.Event{
		Kind:    bus.KindTypingIndicator,
		Payload: &socket.TypingIndicator{ChatGUID: "c1", Display: true, SenderAddress: "a@example.com"},
	})

	if sender, ok := c.typing.Active("c1"); !ok || sender != "a@example.com" {
		t.Errorf("typing = %q/%v", sender, ok)
	}
	select {
	case evt := <-ch:
		tp, ok := evt.Payload.(TypingPresence)
		if !ok || !tp.IsTyping || tp.ChatGUID != "c1" {
			t.Errorf("payload = %#v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no presence event")
	}

	// Nothing reaches the database.
	if conv, _ := db.GetConversation("c1"); conv != nil {
		t.Error("typing indicator created a conversation row")
	}

	c.handleEvent(bus.Event{
		Kind:    bus.KindTypingIndicator,
		Payload: &socket.TypingIndicator{ChatGUID: "c1", Display: false},
	})
	if _, ok := c.typing.Active("c1"); ok {
		t.Error("typing not cleared")
	}
}

func TestGroupNameChangeApplied(t *testing.T) {
	c, db, _ := testCoordinator(t)

	c.handleEvent(newMessageEvent("m1", "c1", "hello", false, 1000))
	c.handleEvent(bus.Event{
		Kind:    bus.KindGroupNameChange,
		Payload: &socket.GroupNameChange{ChatGUID: "c1", NewName: "Team"},
	})

	conv, _ := db.GetConversation("c1")
	if conv.DisplayName != "Team" {
		t.Errorf("display_name = %q, want Team", conv.DisplayName)
	}
}

func TestParticipantEventsApplied(t *testing.T) {
	c, db, _ := testCoordinator(t)

	c.handleEvent(newMessageEvent("m1", "c1", "hello", false, 1000))
	c.handleEvent(bus.Event{
		Kind:    bus.KindParticipantChange,
		Payload: &socket.ParticipantChange{ChatGUID: "c1", Address: "a@example.com", Added: true},
	})
	c.handleEvent(bus.Event{
		Kind:    bus.KindParticipantChange,
		Payload: &socket.ParticipantChange{ChatGUID: "c1", Address: "b@example.com", Added: true},
	})
	c.handleEvent(bus.Event{
		Kind:    bus.KindParticipantChange,
		Payload: &socket.ParticipantChange{ChatGUID: "c1", Address: "a@example.com", Added: false},
	})

	conv, _ := db.GetConversation("c1")
	if len(conv.Participants) != 1 || conv.Participants[0] != "b@example.com" {
		t.Errorf("participants = %v", conv.Participants)
	}
}

func TestChatReadStatusResetsOneChat(t *testing.T) {
	c, db, _ := testCoordinator(t)

	c.handleEvent(newMessageEvent("m1", "c1", "hello", false, 1000))
	c.handleEvent(newMessageEvent("m2", "c2", "other", false, 1000))

	c.handleEvent(bus.Event{
		Kind:    bus.KindChatReadStatus,
		Payload: &socket.ChatReadStatusChanged{ChatGUID: "c1", Read: true},
	})

	c1, _ := db.GetConversation("c1")
	c2, _ := db.GetConversation("c2")
	if c1.UnreadCount != 0 {
		t.Errorf("c1 unread = %d, want 0", c1.UnreadCount)
	}
	if c2.UnreadCount != 1 {
		t.Errorf("c2 unread = %d, want 1 (scope leak)", c2.UnreadCount)
	}

	// The unread direction carries no count and is ignored.
	c.handleEvent(bus.Event{
		Kind:    bus.KindChatReadStatus,
		Payload: &socket.ChatReadStatusChanged{ChatGUID: "c2", Read: false},
	})
	c2, _ = db.GetConversation("c2")
	if c2.UnreadCount != 1 {
		t.Errorf("c2 unread = %d after unread event, want 1", c2.UnreadCount)
	}
}

func TestCoordinatorConsumesFromBus(t *testing.T) {
	c, db, b := testCoordinator(t)

	c.Start(context.Background())
	defer c.Stop()

	b.Publish(newMessageEvent("m1", "c1", "via bus", false, 1000))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m, _ := db.GetMessage("m1"); m != nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("event from bus never applied")
}
