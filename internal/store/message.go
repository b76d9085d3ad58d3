package store

import (
	"database/sql"
	"fmt"
	"time"
)

const messageColumns = `guid, chat_guid, text, subject,
	date_created, date_delivered, date_read, from_me,
	handle_address, handle_name, thread_originator_guid,
	error, is_sending, COALESCE(temp_guid, '')`

const upsertMessageSQL = `
	INSERT INTO messages (guid, chat_guid, text, subject,
		date_created, date_delivered, date_read, from_me,
		handle_address, handle_name, thread_originator_guid,
		error, is_sending, temp_guid)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(guid) DO UPDATE SET
		text = excluded.text,
		subject = excluded.subject,
		date_created = excluded.date_created,
		date_delivered = CASE WHEN excluded.date_delivered != 0 THEN excluded.date_delivered ELSE messages.date_delivered END,
		date_read = CASE WHEN excluded.date_read != 0 THEN excluded.date_read ELSE messages.date_read END,
		handle_address = excluded.handle_address,
		handle_name = excluded.handle_name,
		thread_originator_guid = excluded.thread_originator_guid,
		error = excluded.error`

// UpsertMessage inserts or updates a message keyed by guid (idempotent).
// Used by bulk refreshes; does not touch the owning conversation.
func (db *DB) UpsertMessage(m *Message) error {
	_, err := db.Exec(upsertMessageSQL, upsertMessageArgs(m)...)
	return err
}

// CommitMessage applies a message to the cache as one atomic unit: it
// upserts the message row, creates a shell conversation if the chat is not
// cached yet, patches the conversation's denormalized last-message fields,
// and optionally increments the unread count. The unread bump only happens
// when the row is new, so redelivered events stay idempotent.
func (db *DB) CommitMessage(m *Message, bumpUnread bool) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	if _, err := tx.Exec(`
		INSERT INTO conversations (guid, last_updated) VALUES (?, ?)
		ON CONFLICT(guid) DO NOTHING`, m.ChatGUID, now); err != nil {
		return fmt.Errorf("ensure conversation: %w", err)
	}

	var existed bool
	if err := tx.QueryRow(`SELECT EXISTS(SELECT 1 FROM messages WHERE guid = ?)`, m.GUID).Scan(&existed); err != nil {
		return err
	}

	if _, err := tx.Exec(upsertMessageSQL, upsertMessageArgs(m)...); err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}

	if _, err := tx.Exec(`
		UPDATE conversations SET
			last_message_guid = ?,
			last_message_text = ?,
			last_message_at = ?,
			last_message_from_me = ?,
			last_updated = ?
		WHERE guid = ? AND last_message_at <= ?`,
		m.GUID, m.Text, m.DateCreated, m.FromMe, now, m.ChatGUID, m.DateCreated); err != nil {
		return fmt.Errorf("patch conversation: %w", err)
	}

	if bumpUnread && !existed {
		if _, err := tx.Exec(`
			UPDATE conversations SET unread_count = unread_count + 1
			WHERE guid = ?`, m.ChatGUID); err != nil {
			return fmt.Errorf("bump unread: %w", err)
		}
	}

	return tx.Commit()
}

// GetMessage returns a single message by guid (or temp guid, while the row
// is still provisional), or nil if absent.
func (db *DB) GetMessage(guid string) (*Message, error) {
	row := db.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE guid = ?`, guid)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ListMessages returns messages for a chat ordered newest first.
func (db *DB) ListMessages(chatGUID string, limit, offset int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT `+messageColumns+`
		FROM messages
		WHERE chat_guid = ?
		ORDER BY date_created DESC
		LIMIT ? OFFSET ?`, chatGUID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// PatchMessage applies an updated-message patch to an existing row. Fields
// left nil in the patch keep their stored values. Returns false if no row
// with the guid exists.
func (db *DB) PatchMessage(guid string, p MessagePatch) (bool, error) {
	res, err := db.Exec(`
		UPDATE messages SET
			date_delivered = COALESCE(?, date_delivered),
			date_read = COALESCE(?, date_read),
			error = COALESCE(?, error)
		WHERE guid = ?`,
		p.DateDelivered, p.DateRead, p.Error, guid)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetMessageError marks a message row with an error code, preserving its
// text so the caller can retry the send.
func (db *DB) SetMessageError(guid string, code int) error {
	_, err := db.Exec(`UPDATE messages SET error = ? WHERE guid = ?`, code, guid)
	return err
}

// PromoteMessage rewrites a provisional row's key from the temp guid to the
// server-issued guid, clearing is_sending. It covers every interleaving of
// the REST confirmation and the socket echo: whichever path runs second
// finds the work already done and degenerates to a field patch, so exactly
// one row keyed by the server guid survives. Attachment rows follow the key
// rewrite (ON UPDATE CASCADE).
func (db *DB) PromoteMessage(tempGUID string, server *Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var tempExists, serverExists bool
	if err := tx.QueryRow(`SELECT EXISTS(SELECT 1 FROM messages WHERE guid = ?)`, tempGUID).Scan(&tempExists); err != nil {
		return err
	}
	if err := tx.QueryRow(`SELECT EXISTS(SELECT 1 FROM messages WHERE guid = ?)`, server.GUID).Scan(&serverExists); err != nil {
		return err
	}

	switch {
	case tempExists && !serverExists:
		if _, err := tx.Exec(`
			UPDATE messages SET
				guid = ?,
				temp_guid = NULL,
				is_sending = 0,
				date_created = CASE WHEN ? != 0 THEN ? ELSE date_created END,
				date_delivered = CASE WHEN ? != 0 THEN ? ELSE date_delivered END,
				date_read = CASE WHEN ? != 0 THEN ? ELSE date_read END,
				error = ?
			WHERE guid = ?`,
			server.GUID,
			server.DateCreated, server.DateCreated,
			server.DateDelivered, server.DateDelivered,
			server.DateRead, server.DateRead,
			server.Error, tempGUID); err != nil {
			return fmt.Errorf("rewrite key: %w", err)
		}
	case tempExists && serverExists:
		// Both paths raced: the server row already landed via the event
		// stream. Move any locally attached rows over, then drop the temp
		// row; the remaining duplicates cascade away with it.
		if _, err := tx.Exec(`
			UPDATE OR IGNORE attachments SET message_guid = ?
			WHERE message_guid = ?`, server.GUID, tempGUID); err != nil {
			return fmt.Errorf("move attachments: %w", err)
		}
		if _, err := tx.Exec(`
			UPDATE messages SET is_sending = 0, temp_guid = NULL
			WHERE guid = ?`, server.GUID); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM messages WHERE guid = ?`, tempGUID); err != nil {
			return fmt.Errorf("delete temp row: %w", err)
		}
	case serverExists:
		// Already promoted; make the call idempotent.
		if _, err := tx.Exec(`
			UPDATE messages SET is_sending = 0, temp_guid = NULL
			WHERE guid = ?`, server.GUID); err != nil {
			return err
		}
	default:
		// Neither row exists (temp row was never written or got lost);
		// fall back to inserting the server copy.
		if _, err := tx.Exec(`
			INSERT INTO conversations (guid, last_updated) VALUES (?, ?)
			ON CONFLICT(guid) DO NOTHING`, server.ChatGUID, time.Now().UnixMilli()); err != nil {
			return fmt.Errorf("ensure conversation: %w", err)
		}
		if _, err := tx.Exec(upsertMessageSQL, upsertMessageArgs(server)...); err != nil {
			return fmt.Errorf("insert server row: %w", err)
		}
	}

	if _, err := tx.Exec(`
		UPDATE conversations SET last_message_guid = ?
		WHERE last_message_guid = ?`, server.GUID, tempGUID); err != nil {
		return err
	}

	return tx.Commit()
}

func upsertMessageArgs(m *Message) []any {
	var tempGUID any
	if m.TempGUID != "" {
		tempGUID = m.TempGUID
	}
	return []any{
		m.GUID, m.ChatGUID, m.Text, m.Subject,
		m.DateCreated, m.DateDelivered, m.DateRead, m.FromMe,
		m.HandleAddress, m.HandleName, m.ThreadOriginatorGUID,
		m.Error, m.IsSending, tempGUID,
	}
}

func scanMessage(r rowScanner) (*Message, error) {
	var m Message
	if err := r.Scan(&m.GUID, &m.ChatGUID, &m.Text, &m.Subject,
		&m.DateCreated, &m.DateDelivered, &m.DateRead, &m.FromMe,
		&m.HandleAddress, &m.HandleName, &m.ThreadOriginatorGUID,
		&m.Error, &m.IsSending, &m.TempGUID); err != nil {
		return nil, err
	}
	return &m, nil
}
