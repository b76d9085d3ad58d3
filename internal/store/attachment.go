package store

import "database/sql"

// UpsertAttachment inserts or updates an attachment record. LocalPath and
// download progress are preserved on conflict so a bulk refresh cannot
// undo a completed download.
func (db *DB) UpsertAttachment(a *Attachment) error {
	_, err := db.Exec(`
		INSERT INTO attachments (guid, message_guid, mime_type, transfer_name,
			local_path, total_bytes, width, height, download_progress)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(guid) DO UPDATE SET
			message_guid = excluded.message_guid,
			mime_type = excluded.mime_type,
			transfer_name = excluded.transfer_name,
			total_bytes = excluded.total_bytes,
			width = excluded.width,
			height = excluded.height`,
		a.GUID, a.MessageGUID, a.MimeType, a.TransferName,
		a.LocalPath, a.TotalBytes, a.Width, a.Height, a.DownloadProgress)
	return err
}

// ListAttachments returns the attachments owned by a message.
func (db *DB) ListAttachments(messageGUID string) ([]Attachment, error) {
	rows, err := db.Query(`
		SELECT guid, message_guid, mime_type, transfer_name,
			local_path, total_bytes, width, height, download_progress
		FROM attachments
		WHERE message_guid = ?
		ORDER BY guid`, messageGUID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var atts []Attachment
	for rows.Next() {
		var a Attachment
		if err := rows.Scan(&a.GUID, &a.MessageGUID, &a.MimeType, &a.TransferName,
			&a.LocalPath, &a.TotalBytes, &a.Width, &a.Height, &a.DownloadProgress); err != nil {
			return nil, err
		}
		atts = append(atts, a)
	}
	return atts, rows.Err()
}

// GetAttachment returns one attachment by guid, or nil if absent.
func (db *DB) GetAttachment(guid string) (*Attachment, error) {
	var a Attachment
	err := db.QueryRow(`
		SELECT guid, message_guid, mime_type, transfer_name,
			local_path, total_bytes, width, height, download_progress
		FROM attachments WHERE guid = ?`, guid).
		Scan(&a.GUID, &a.MessageGUID, &a.MimeType, &a.TransferName,
			&a.LocalPath, &a.TotalBytes, &a.Width, &a.Height, &a.DownloadProgress)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// SetAttachmentProgress records download progress (0-100).
func (db *DB) SetAttachmentProgress(guid string, progress int) error {
	_, err := db.Exec(`UPDATE attachments SET download_progress = ? WHERE guid = ?`, progress, guid)
	return err
}

// SetAttachmentLocalPath records the downloaded file location and marks the
// download complete.
func (db *DB) SetAttachmentLocalPath(guid, path string) error {
	_, err := db.Exec(`
		UPDATE attachments SET local_path = ?, download_progress = 100
		WHERE guid = ?`, path, guid)
	return err
}
