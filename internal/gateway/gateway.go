package gateway

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/bbsync/internal/bus"
	"github.com/matheus3301/bbsync/internal/store"
	"github.com/matheus3301/bbsync/internal/sync"
	"go.uber.org/zap"
)

// DefaultPageSize is the page size used for reads and background refreshes.
const DefaultPageSize = 25

// refreshTimeout bounds fire-and-forget background refreshes, which run
// detached from the caller's context.
const refreshTimeout = 30 * time.Second

// Notifier carries this client's outbound presence over the socket.
// Implemented by the connection supervisor.
type Notifier interface {
	SendTypingIndicator(chatGUID string, display bool) error
	SendReadReceipt(chatGUID, messageGUID string) error
}

// SendFailure is returned when an optimistic send could not be delivered.
// It keeps the original text so the caller can offer a retry without
// re-reading the cache.
type SendFailure struct {
	TempGUID string
	ChatGUID string
	Text     string
	Err      error
}

func (e *SendFailure) Error() string {
	return fmt.Sprintf("send %s failed: %v", e.TempGUID, e.Err)
}

func (e *SendFailure) Unwrap() error { return e.Err }

// SendAck is the payload published on message.send_ack and
// message.send_failed.
type SendAck struct {
	TempGUID string
	GUID     string
	ChatGUID string
	Reason   string
}

// Gateway is the read/write surface of the mirror: cache-first reads with
// background refresh, and optimistic sends reconciled against the server.
type Gateway struct {
	client   *Client
	db       *store.DB
	bus      *bus.Bus
	rec      *sync.Reconciler
	notifier Notifier
	logger   *zap.Logger
}

// NewGateway creates a gateway. notifier may be nil; presence calls are
// then skipped.
func NewGateway(client *Client, db *store.DB, b *bus.Bus, rec *sync.Reconciler, notifier Notifier, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{client: client, db: db, bus: b, rec: rec, notifier: notifier, logger: logger}
}

// GetConversations returns a page of conversations. The first page is
// served from the cache immediately when the cache has anything, with a
// background refresh keeping it current; otherwise the bridge is queried
// inline.
func (g *Gateway) GetConversations(ctx context.Context, offset, limit int) ([]store.Conversation, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	cached, err := g.db.ListConversations(limit, offset)
	if err != nil {
		return nil, err
	}
	if offset == 0 && len(cached) > 0 {
		go g.refreshConversations(limit)
		return cached, nil
	}
	if err := g.fetchConversations(ctx, offset, limit); err != nil {
		if len(cached) > 0 {
			g.logger.Warn("conversation fetch failed, serving cache", zap.Error(err))
			return cached, nil
		}
		return nil, err
	}
	return g.db.ListConversations(limit, offset)
}

// GetMessages returns a page of a chat's messages, newest first. Same
// cache-first policy as GetConversations.
func (g *Gateway) GetMessages(ctx context.Context, chatGUID string, offset, limit int) ([]store.Message, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	cached, err := g.db.ListMessages(chatGUID, limit, offset)
	if err != nil {
		return nil, err
	}
	if offset == 0 && len(cached) > 0 {
		go g.refreshMessages(chatGUID, limit)
		return cached, nil
	}
	if err := g.fetchMessages(ctx, chatGUID, offset, limit); err != nil {
		if len(cached) > 0 {
			g.logger.Warn("message fetch failed, serving cache",
				zap.String("chat_guid", chatGUID), zap.Error(err))
			return cached, nil
		}
		return nil, err
	}
	return g.db.ListMessages(chatGUID, limit, offset)
}

// SendMessage performs an optimistic send: the provisional row is visible
// immediately under a client-generated temp guid, then reconciled to the
// server guid on confirmation. Attachments upload first, in order; the
// first failure aborts the whole send with a SendFailure.
func (g *Gateway) SendMessage(ctx context.Context, chatGUID, text, subject, replyToGUID string, attachments []string) (string, error) {
	tempGUID := uuid.NewString()

	if err := g.rec.Track(tempGUID, chatGUID); err != nil {
		return "", fmt.Errorf("track send: %w", err)
	}
	provisional := &store.Message{
		GUID:                 tempGUID,
		ChatGUID:             chatGUID,
		Text:                 text,
		Subject:              subject,
		ThreadOriginatorGUID: replyToGUID,
		DateCreated:          time.Now().UnixMilli(),
		FromMe:               true,
		IsSending:            true,
		TempGUID:             tempGUID,
	}
	if err := g.db.CommitMessage(provisional, false); err != nil {
		return "", fmt.Errorf("write provisional row: %w", err)
	}
	g.publishUpserted(chatGUID, tempGUID)

	for _, path := range attachments {
		if _, err := g.client.SendAttachment(ctx, chatGUID, path); err != nil {
			return tempGUID, g.failSend(tempGUID, chatGUID, text, fmt.Errorf("upload %s: %w", filepath.Base(path), err))
		}
	}

	server, err := g.client.SendText(ctx, chatGUID, tempGUID, text, subject, replyToGUID)
	if err != nil {
		return tempGUID, g.failSend(tempGUID, chatGUID, text, err)
	}
	server.FromMe = true

	if err := g.rec.Confirm(tempGUID, server); err != nil {
		return tempGUID, fmt.Errorf("reconcile send: %w", err)
	}
	g.bus.Publish(bus.Event{
		Kind:      bus.KindSendAck,
		Timestamp: time.Now(),
		Payload:   SendAck{TempGUID: tempGUID, GUID: server.GUID, ChatGUID: chatGUID},
	})
	g.publishUpserted(chatGUID, server.GUID)
	return tempGUID, nil
}

// MarkChatRead clears the unread count locally first, then notifies the
// bridge. A bridge failure is logged but never rolls the count back; the
// next inbound message restores it anyway.
func (g *Gateway) MarkChatRead(ctx context.Context, chatGUID string) error {
	if err := g.db.MarkConversationRead(chatGUID); err != nil {
		return err
	}
	g.bus.Publish(bus.Event{Kind: bus.KindChatUpdated, Timestamp: time.Now(), Payload: chatGUID})

	if err := g.client.MarkRead(ctx, chatGUID); err != nil {
		g.logger.Warn("remote mark-read failed", zap.String("chat_guid", chatGUID), zap.Error(err))
	}
	if g.notifier != nil {
		if err := g.notifier.SendReadReceipt(chatGUID, ""); err != nil {
			g.logger.Debug("read receipt not sent", zap.Error(err))
		}
	}
	return nil
}

// SetTyping reports this client's typing state for a chat. Best effort.
func (g *Gateway) SetTyping(chatGUID string, typing bool) {
	if g.notifier == nil {
		return
	}
	if err := g.notifier.SendTypingIndicator(chatGUID, typing); err != nil {
		g.logger.Debug("typing indicator not sent", zap.Error(err))
	}
}

// DownloadAttachment fetches an attachment's bytes into destDir, recording
// progress on the cache row as it goes. Returns the local path.
func (g *Gateway) DownloadAttachment(ctx context.Context, attachmentGUID, destDir string) (string, error) {
	att, err := g.db.GetAttachment(attachmentGUID)
	if err != nil {
		return "", err
	}
	if att == nil {
		return "", fmt.Errorf("unknown attachment %s", attachmentGUID)
	}
	if att.LocalPath != "" && att.DownloadProgress == 100 {
		return att.LocalPath, nil
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", err
	}
	name := att.TransferName
	if name == "" {
		name = att.GUID
	}
	path := filepath.Join(destDir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}

	lastPct := -1
	err = g.client.DownloadAttachment(ctx, attachmentGUID, f, func(received, total int64) {
		if total <= 0 {
			total = att.TotalBytes
		}
		if total <= 0 {
			return
		}
		pct := int(received * 100 / total)
		if pct != lastPct {
			lastPct = pct
			if perr := g.db.SetAttachmentProgress(attachmentGUID, pct); perr != nil {
				g.logger.Warn("record download progress", zap.Error(perr))
			}
		}
	})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", err
	}
	if err := g.db.SetAttachmentLocalPath(attachmentGUID, path); err != nil {
		return "", err
	}
	return path, nil
}

// Refresh pulls the first page of conversations from the bridge into the
// cache. Used at daemon startup and after reconnects.
func (g *Gateway) Refresh(ctx context.Context) error {
	return g.fetchConversations(ctx, 0, DefaultPageSize)
}

func (g *Gateway) failSend(tempGUID, chatGUID, text string, cause error) error {
	if err := g.rec.Fail(tempGUID, cause.Error(), 1); err != nil {
		g.logger.Error("record send failure", zap.String("temp_guid", tempGUID), zap.Error(err))
	}
	g.bus.Publish(bus.Event{
		Kind:      bus.KindSendFailed,
		Timestamp: time.Now(),
		Payload:   SendAck{TempGUID: tempGUID, ChatGUID: chatGUID, Reason: cause.Error()},
	})
	g.publishUpserted(chatGUID, tempGUID)
	return &SendFailure{TempGUID: tempGUID, ChatGUID: chatGUID, Text: text, Err: cause}
}

func (g *Gateway) fetchConversations(ctx context.Context, offset, limit int) error {
	convs, err := g.client.Chats(ctx, offset, limit)
	if err != nil {
		return err
	}
	for _, conv := range convs {
		if err := g.db.UpsertConversation(conv); err != nil {
			return err
		}
	}
	return nil
}

func (g *Gateway) fetchMessages(ctx context.Context, chatGUID string, offset, limit int) error {
	msgs, atts, err := g.client.Messages(ctx, chatGUID, offset, limit)
	if err != nil {
		return err
	}
	// Refresh merges are additive and never bump unread counts.
	for _, m := range msgs {
		if err := g.db.CommitMessage(m, false); err != nil {
			return err
		}
	}
	for i := range atts {
		if err := g.db.UpsertAttachment(&atts[i]); err != nil {
			return err
		}
	}
	return nil
}

func (g *Gateway) refreshConversations(limit int) {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()
	if err := g.fetchConversations(ctx, 0, limit); err != nil {
		g.logger.Warn("background conversation refresh failed", zap.Error(err))
	}
}

func (g *Gateway) refreshMessages(chatGUID string, limit int) {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()
	if err := g.fetchMessages(ctx, chatGUID, 0, limit); err != nil {
		g.logger.Warn("background message refresh failed",
			zap.String("chat_guid", chatGUID), zap.Error(err))
	}
}

func (g *Gateway) publishUpserted(chatGUID, guid string) {
	g.bus.Publish(bus.Event{
		Kind:      bus.KindMessageUpserted,
		Timestamp: time.Now(),
		Payload:   sync.MessageUpserted{ChatGUID: chatGUID, GUID: guid},
	})
}
