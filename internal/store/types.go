package store

// Conversation represents a mirrored chat. LastMessage* fields are
// denormalized from the newest committed message for cheap list rendering.
type Conversation struct {
	GUID              string
	DisplayName       string
	Participants      []string
	LastMessageGUID   string
	LastMessageText   string
	LastMessageAt     int64
	LastMessageFromMe bool
	UnreadCount       int
	IsPinned          bool
	IsMuted           bool
	IsArchived        bool
	IsGroup           bool
	LastUpdated       int64
}

// Message represents a mirrored message. While a locally sent message is
// unconfirmed its row is keyed by the client-generated temp guid (GUID ==
// TempGUID, IsSending true); reconciliation rewrites the key to the
// server-issued guid and clears both. Zero means unset for the date fields.
type Message struct {
	GUID                 string
	ChatGUID             string
	Text                 string
	Subject              string
	DateCreated          int64
	DateDelivered        int64
	DateRead             int64
	FromMe               bool
	HandleAddress        string
	HandleName           string
	ThreadOriginatorGUID string
	Error                int
	IsSending            bool
	TempGUID             string
}

// MessagePatch carries the fields an updated-message event may change.
// Nil pointers leave the stored value untouched.
type MessagePatch struct {
	DateDelivered *int64
	DateRead      *int64
	Error         *int
}

// Attachment represents an attachment owned by a cached message. LocalPath
// is set only once the file has been downloaded.
type Attachment struct {
	GUID             string
	MessageGUID      string
	MimeType         string
	TransferName     string
	LocalPath        string
	TotalBytes       int64
	Width            int
	Height           int
	DownloadProgress int
}

// PendingSend tracks an in-flight optimistic send, keyed by temp guid.
// Both the REST confirmation and the socket echo consult this table so
// exactly one cache row survives reconciliation.
type PendingSend struct {
	TempGUID     string
	ChatGUID     string
	ServerGUID   string
	Status       string // sending, confirmed, failed
	ErrorMessage string
	CreatedAt    int64
	UpdatedAt    int64
}
