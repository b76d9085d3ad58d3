package store

import (
	"database/sql"
	"time"
)

// CreatePendingSend records an in-flight optimistic send keyed by temp guid.
func (db *DB) CreatePendingSend(tempGUID, chatGUID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO pending_sends (temp_guid, chat_guid, status, created_at, updated_at)
		VALUES (?, ?, 'sending', ?, ?)`,
		tempGUID, chatGUID, now, now)
	return err
}

// GetPendingSend returns the pending send for a temp guid, or nil if absent.
func (db *DB) GetPendingSend(tempGUID string) (*PendingSend, error) {
	var p PendingSend
	err := db.QueryRow(`
		SELECT temp_guid, chat_guid, server_guid, status, error_message, created_at, updated_at
		FROM pending_sends WHERE temp_guid = ?`, tempGUID).
		Scan(&p.TempGUID, &p.ChatGUID, &p.ServerGUID, &p.Status, &p.ErrorMessage, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ConfirmPendingSend records the server guid the send resolved to.
func (db *DB) ConfirmPendingSend(tempGUID, serverGUID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE pending_sends SET status = 'confirmed', server_guid = ?, updated_at = ?
		WHERE temp_guid = ?`, serverGUID, now, tempGUID)
	return err
}

// FailPendingSend marks a pending send as failed with an error message.
func (db *DB) FailPendingSend(tempGUID, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE pending_sends SET status = 'failed', error_message = ?, updated_at = ?
		WHERE temp_guid = ?`, errMsg, now, tempGUID)
	return err
}
