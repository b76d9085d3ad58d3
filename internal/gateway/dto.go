package gateway

import (
	"encoding/json"

	"github.com/matheus3301/bbsync/internal/store"
)

// REST DTOs. The HTTP API uses snake_case field names, unlike the
// camelCase socket stream.

type apiResponse struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type handleDTO struct {
	Address     string `json:"address"`
	DisplayName string `json:"display_name"`
}

type attachmentDTO struct {
	GUID         string `json:"guid"`
	MimeType     string `json:"mime_type"`
	TransferName string `json:"transfer_name"`
	TotalBytes   int64  `json:"total_bytes"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
}

type messageDTO struct {
	GUID                 string          `json:"guid"`
	Text                 string          `json:"text"`
	Subject              string          `json:"subject"`
	DateCreated          int64           `json:"date_created"`
	DateDelivered        int64           `json:"date_delivered"`
	DateRead             int64           `json:"date_read"`
	IsFromMe             bool            `json:"is_from_me"`
	Error                int             `json:"error"`
	ThreadOriginatorGUID string          `json:"thread_originator_guid"`
	Handle               *handleDTO      `json:"handle"`
	Attachments          []attachmentDTO `json:"attachments"`
}

type chatDTO struct {
	GUID         string      `json:"guid"`
	DisplayName  string      `json:"display_name"`
	IsArchived   bool        `json:"is_archived"`
	Participants []handleDTO `json:"participants"`
	LastMessage  *messageDTO `json:"last_message"`
}

// ServerInfo describes the bridge server, as reported by its info endpoint.
type ServerInfo struct {
	ServerVersion string `json:"server_version"`
	OSVersion     string `json:"os_version"`
	PrivateAPI    bool   `json:"private_api"`
}

// sendTextRequest is the POST body for a text send. The temp guid is
// echoed back on the socket so the provisional row can be reconciled.
type sendTextRequest struct {
	ChatGUID    string `json:"chat_guid"`
	Message     string `json:"message"`
	Method      string `json:"method"`
	TempGUID    string `json:"temp_guid"`
	Subject     string `json:"subject,omitempty"`
	ReplyToGUID string `json:"selected_message_guid,omitempty"`
}

func (c *chatDTO) toStore() *store.Conversation {
	conv := &store.Conversation{
		GUID:        c.GUID,
		DisplayName: c.DisplayName,
		IsArchived:  c.IsArchived,
	}
	for _, h := range c.Participants {
		conv.Participants = append(conv.Participants, h.Address)
	}
	conv.IsGroup = len(conv.Participants) > 1
	if lm := c.LastMessage; lm != nil {
		conv.LastMessageGUID = lm.GUID
		conv.LastMessageText = lm.Text
		conv.LastMessageAt = lm.DateCreated
		conv.LastMessageFromMe = lm.IsFromMe
	}
	return conv
}

// toStore normalizes a REST message into a cache row plus its attachments.
func (m *messageDTO) toStore(chatGUID string) (*store.Message, []store.Attachment) {
	msg := &store.Message{
		GUID:                 m.GUID,
		ChatGUID:             chatGUID,
		Text:                 m.Text,
		Subject:              m.Subject,
		DateCreated:          m.DateCreated,
		DateDelivered:        m.DateDelivered,
		DateRead:             m.DateRead,
		FromMe:               m.IsFromMe,
		ThreadOriginatorGUID: m.ThreadOriginatorGUID,
		Error:                m.Error,
	}
	if m.Handle != nil {
		msg.HandleAddress = m.Handle.Address
		msg.HandleName = m.Handle.DisplayName
	}
	var atts []store.Attachment
	for _, a := range m.Attachments {
		atts = append(atts, store.Attachment{
			GUID:         a.GUID,
			MessageGUID:  m.GUID,
			MimeType:     a.MimeType,
			TransferName: a.TransferName,
			TotalBytes:   a.TotalBytes,
			Width:        a.Width,
			Height:       a.Height,
		})
	}
	return msg, atts
}
