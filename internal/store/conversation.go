package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

const conversationColumns = `guid, display_name, participants,
	last_message_guid, last_message_text, last_message_at, last_message_from_me,
	unread_count, is_pinned, is_muted, is_archived, is_group, last_updated`

// UpsertConversation inserts or updates a conversation record. The unread
// count is never touched by this path (bulk refreshes must not clobber it)
// and the denormalized last-message fields only move forward in time.
func (db *DB) UpsertConversation(c *Conversation) error {
	participants, err := json.Marshal(c.Participants)
	if err != nil {
		return fmt.Errorf("marshal participants: %w", err)
	}
	now := time.Now().UnixMilli()
	_, err = db.Exec(`
		INSERT INTO conversations (guid, display_name, participants,
			last_message_guid, last_message_text, last_message_at, last_message_from_me,
			unread_count, is_pinned, is_muted, is_archived, is_group, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(guid) DO UPDATE SET
			display_name = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE conversations.display_name END,
			participants = CASE WHEN excluded.participants != '[]' THEN excluded.participants ELSE conversations.participants END,
			last_message_guid = CASE WHEN excluded.last_message_at > conversations.last_message_at THEN excluded.last_message_guid ELSE conversations.last_message_guid END,
			last_message_text = CASE WHEN excluded.last_message_at > conversations.last_message_at THEN excluded.last_message_text ELSE conversations.last_message_text END,
			last_message_from_me = CASE WHEN excluded.last_message_at > conversations.last_message_at THEN excluded.last_message_from_me ELSE conversations.last_message_from_me END,
			last_message_at = MAX(conversations.last_message_at, excluded.last_message_at),
			is_pinned = excluded.is_pinned,
			is_muted = excluded.is_muted,
			is_archived = excluded.is_archived,
			is_group = excluded.is_group,
			last_updated = excluded.last_updated`,
		c.GUID, c.DisplayName, string(participants),
		c.LastMessageGUID, c.LastMessageText, c.LastMessageAt, c.LastMessageFromMe,
		c.UnreadCount, c.IsPinned, c.IsMuted, c.IsArchived, c.IsGroup, now)
	return err
}

// ListConversations returns non-archived conversations, pinned first, then
// by last message timestamp descending.
func (db *DB) ListConversations(limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 25
	}
	rows, err := db.Query(`
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE is_archived = 0
		ORDER BY is_pinned DESC, last_message_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convos []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convos = append(convos, *c)
	}
	return convos, rows.Err()
}

// GetConversation returns a single conversation by guid, or nil if absent.
func (db *DB) GetConversation(guid string) (*Conversation, error) {
	row := db.QueryRow(`
		SELECT `+conversationColumns+`
		FROM conversations WHERE guid = ?`, guid)
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// RenameConversation sets the display name. Missing conversations are a no-op.
func (db *DB) RenameConversation(guid, name string) error {
	_, err := db.Exec(`
		UPDATE conversations SET display_name = ?, last_updated = ?
		WHERE guid = ?`, name, time.Now().UnixMilli(), guid)
	return err
}

// MarkConversationRead resets the unread count to zero.
func (db *DB) MarkConversationRead(guid string) error {
	_, err := db.Exec(`
		UPDATE conversations SET unread_count = 0, last_updated = ?
		WHERE guid = ?`, time.Now().UnixMilli(), guid)
	return err
}

// AddParticipant adds an address to the conversation's participant set.
// Adding an address already present is a no-op.
func (db *DB) AddParticipant(guid, address string) error {
	return db.mutateParticipants(guid, func(set []string) []string {
		if slices.Contains(set, address) {
			return set
		}
		return append(set, address)
	})
}

// RemoveParticipant removes an address from the conversation's participant
// set. Removing an absent address is a no-op.
func (db *DB) RemoveParticipant(guid, address string) error {
	return db.mutateParticipants(guid, func(set []string) []string {
		return slices.DeleteFunc(set, func(a string) bool { return a == address })
	})
}

// mutateParticipants applies fn to the participant set inside a single
// transaction so concurrent add/remove events cannot lose updates.
func (db *DB) mutateParticipants(guid string, fn func([]string) []string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var raw string
	err = tx.QueryRow(`SELECT participants FROM conversations WHERE guid = ?`, guid).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}

	var set []string
	if err := json.Unmarshal([]byte(raw), &set); err != nil {
		set = nil
	}
	set = fn(set)
	if set == nil {
		set = []string{}
	}

	updated, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("marshal participants: %w", err)
	}
	if _, err := tx.Exec(`
		UPDATE conversations SET participants = ?, is_group = ?, last_updated = ?
		WHERE guid = ?`, string(updated), len(set) > 1, time.Now().UnixMilli(), guid); err != nil {
		return err
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(r rowScanner) (*Conversation, error) {
	var c Conversation
	var participants string
	if err := r.Scan(&c.GUID, &c.DisplayName, &participants,
		&c.LastMessageGUID, &c.LastMessageText, &c.LastMessageAt, &c.LastMessageFromMe,
		&c.UnreadCount, &c.IsPinned, &c.IsMuted, &c.IsArchived, &c.IsGroup, &c.LastUpdated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(participants), &c.Participants); err != nil {
		c.Participants = nil
	}
	return &c, nil
}
