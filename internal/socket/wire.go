package socket

import "github.com/matheus3301/bbsync/internal/store"

// Wire structs for "42" event payloads. The socket stream uses camelCase
// field names, unlike the REST API's snake_case.

type wireHandle struct {
	Address     string `json:"address"`
	DisplayName string `json:"displayName"`
}

type wireAttachment struct {
	GUID         string `json:"guid"`
	MimeType     string `json:"mimeType"`
	TransferName string `json:"transferName"`
	TotalBytes   int64  `json:"totalBytes"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
}

type wireMessage struct {
	GUID                 string           `json:"guid"`
	TempGUID             string           `json:"tempGuid"`
	Text                 string           `json:"text"`
	Subject              string           `json:"subject"`
	DateCreated          int64            `json:"dateCreated"`
	DateDelivered        *int64           `json:"dateDelivered"`
	DateRead             *int64           `json:"dateRead"`
	IsFromMe             bool             `json:"isFromMe"`
	Handle               *wireHandle      `json:"handle"`
	Attachments          []wireAttachment `json:"attachments"`
	ThreadOriginatorGUID string           `json:"threadOriginatorGuid"`
	Error                *int             `json:"error"`
}

// toStore normalizes a wire message into a cache row.
func (w *wireMessage) toStore(chatGUID string) *store.Message {
	m := &store.Message{
		GUID:                 w.GUID,
		ChatGUID:             chatGUID,
		Text:                 w.Text,
		Subject:              w.Subject,
		DateCreated:          w.DateCreated,
		FromMe:               w.IsFromMe,
		ThreadOriginatorGUID: w.ThreadOriginatorGUID,
	}
	if w.DateDelivered != nil {
		m.DateDelivered = *w.DateDelivered
	}
	if w.DateRead != nil {
		m.DateRead = *w.DateRead
	}
	if w.Error != nil {
		m.Error = *w.Error
	}
	if w.Handle != nil {
		m.HandleAddress = w.Handle.Address
		m.HandleName = w.Handle.DisplayName
	}
	return m
}

func (w *wireMessage) storeAttachments() []store.Attachment {
	var atts []store.Attachment
	for _, a := range w.Attachments {
		atts = append(atts, store.Attachment{
			GUID:         a.GUID,
			MessageGUID:  w.GUID,
			MimeType:     a.MimeType,
			TransferName: a.TransferName,
			TotalBytes:   a.TotalBytes,
			Width:        a.Width,
			Height:       a.Height,
		})
	}
	return atts
}
