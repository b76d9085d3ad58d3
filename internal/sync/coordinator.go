package sync

import (
	"context"
	"time"

	"github.com/matheus3301/bbsync/internal/bus"
	"github.com/matheus3301/bbsync/internal/socket"
	"github.com/matheus3301/bbsync/internal/store"
	"go.uber.org/zap"
)

// TypingPresence is the payload published on presence.typing.
type TypingPresence struct {
	ChatGUID      string
	IsTyping      bool
	SenderAddress string
}

// MessageUpserted is the payload published on cache.message_upserted.
type MessageUpserted struct {
	ChatGUID string
	GUID     string
}

// Coordinator consumes decoded socket events and applies them to the
// cache, one event at a time in arrival order. It owns the merge rules:
// what gets written, what bumps unread counts, and what gets dropped.
type Coordinator struct {
	db     *store.DB
	bus    *bus.Bus
	rec    *Reconciler
	typing *TypingTracker
	logger *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// NewCoordinator creates a coordinator. Call Start to begin consuming.
func NewCoordinator(db *store.DB, b *bus.Bus, rec *Reconciler, typing *TypingTracker, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{db: db, bus: b, rec: rec, typing: typing, logger: logger}
}

// Start subscribes to the socket event stream and processes it until the
// context is canceled or Stop is called.
func (c *Coordinator) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	// Sized above bus.DefaultBuffer: the decode loop can burst a whole
	// backlog after a reconnect, and a drop here loses a cache write.
	events, unsub := c.bus.Subscribe("socket.event.", 256)

	go func() {
		defer close(c.done)
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-events:
				if !ok {
					return
				}
				c.handleEvent(evt)
			}
		}
	}()
}

// Stop cancels the consumer loop and waits for it to drain.
func (c *Coordinator) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
}

func (c *Coordinator) handleEvent(evt bus.Event) {
	switch p := evt.Payload.(type) {
	case *socket.NewMessage:
		c.applyNewMessage(p)
	case *socket.UpdatedMessage:
		c.applyUpdatedMessage(p)
	case *socket.TypingIndicator:
		c.applyTypingIndicator(p)
	case *socket.GroupNameChange:
		c.applyGroupNameChange(p)
	case *socket.ParticipantChange:
		c.applyParticipantChange(p)
	case *socket.ChatReadStatusChanged:
		c.applyChatReadStatus(p)
	case *socket.UnknownEvent:
		c.logger.Debug("ignoring unknown event", zap.String("name", p.Name))
	default:
		c.logger.Warn("unexpected event payload", zap.String("kind", evt.Kind))
	}
}

// applyNewMessage commits an inbound message. Echoes of this client's own
// optimistic sends are routed through the reconciler first so the
// provisional row is promoted instead of duplicated. Unread counts bump
// only for messages from other people, and only once per guid.
func (c *Coordinator) applyNewMessage(p *socket.NewMessage) {
	if p.TempGUID != "" && p.Message.FromMe {
		handled, err := c.rec.ReconcileInbound(p.TempGUID, p.Message)
		if err != nil {
			c.logger.Error("reconcile inbound echo", zap.String("temp_guid", p.TempGUID), zap.Error(err))
			return
		}
		if handled {
			c.upsertAttachments(p.Message.GUID, p.Attachments)
			c.publishMessageUpserted(p.ChatGUID, p.Message.GUID)
			return
		}
	}

	if err := c.db.CommitMessage(p.Message, !p.Message.FromMe); err != nil {
		c.logger.Error("commit message", zap.String("guid", p.Message.GUID), zap.Error(err))
		return
	}
	c.upsertAttachments(p.Message.GUID, p.Attachments)
	c.publishMessageUpserted(p.ChatGUID, p.Message.GUID)
}

// applyUpdatedMessage patches delivery/read/error state on a cached row.
// Updates for messages the cache has never seen are dropped: a patch
// without its base row would surface a message with no text.
func (c *Coordinator) applyUpdatedMessage(p *socket.UpdatedMessage) {
	ok, err := c.db.PatchMessage(p.GUID, p.Patch)
	if err != nil {
		c.logger.Error("patch message", zap.String("guid", p.GUID), zap.Error(err))
		return
	}
	if !ok {
		c.logger.Debug("dropping update for uncached message", zap.String("guid", p.GUID))
		return
	}
	msg, err := c.db.GetMessage(p.GUID)
	if err != nil || msg == nil {
		return
	}
	c.publishMessageUpserted(msg.ChatGUID, p.GUID)
}

func (c *Coordinator) applyTypingIndicator(p *socket.TypingIndicator) {
	c.typing.Set(p.ChatGUID, p.SenderAddress, p.Display)
	c.bus.Publish(bus.Event{
		Kind:      bus.KindTypingPresence,
		Timestamp: time.Now(),
		Payload: TypingPresence{
			ChatGUID:      p.ChatGUID,
			IsTyping:      p.Display,
			SenderAddress: p.SenderAddress,
		},
	})
}

func (c *Coordinator) applyGroupNameChange(p *socket.GroupNameChange) {
	if err := c.db.RenameConversation(p.ChatGUID, p.NewName); err != nil {
		c.logger.Error("rename conversation", zap.String("chat_guid", p.ChatGUID), zap.Error(err))
		return
	}
	c.publishChatUpdated(p.ChatGUID)
}

func (c *Coordinator) applyParticipantChange(p *socket.ParticipantChange) {
	var err error
	if p.Added {
		err = c.db.AddParticipant(p.ChatGUID, p.Address)
	} else {
		err = c.db.RemoveParticipant(p.ChatGUID, p.Address)
	}
	if err != nil {
		c.logger.Error("update participants",
			zap.String("chat_guid", p.ChatGUID),
			zap.String("address", p.Address),
			zap.Bool("added", p.Added),
			zap.Error(err))
		return
	}
	c.publishChatUpdated(p.ChatGUID)
}

// applyChatReadStatus clears the unread count when the chat was read on
// another device. The unread transition carries no count, so only the
// read direction is actionable.
func (c *Coordinator) applyChatReadStatus(p *socket.ChatReadStatusChanged) {
	if !p.Read {
		return
	}
	if err := c.db.MarkConversationRead(p.ChatGUID); err != nil {
		c.logger.Error("mark conversation read", zap.String("chat_guid", p.ChatGUID), zap.Error(err))
		return
	}
	c.publishChatUpdated(p.ChatGUID)
}

func (c *Coordinator) upsertAttachments(messageGUID string, atts []store.Attachment) {
	for i := range atts {
		atts[i].MessageGUID = messageGUID
		if err := c.db.UpsertAttachment(&atts[i]); err != nil {
			c.logger.Error("upsert attachment", zap.String("guid", atts[i].GUID), zap.Error(err))
		}
	}
}

func (c *Coordinator) publishMessageUpserted(chatGUID, guid string) {
	c.bus.Publish(bus.Event{
		Kind:      bus.KindMessageUpserted,
		Timestamp: time.Now(),
		Payload:   MessageUpserted{ChatGUID: chatGUID, GUID: guid},
	})
}

func (c *Coordinator) publishChatUpdated(chatGUID string) {
	c.bus.Publish(bus.Event{
		Kind:      bus.KindChatUpdated,
		Timestamp: time.Now(),
		Payload:   chatGUID,
	})
}
