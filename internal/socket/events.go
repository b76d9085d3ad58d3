package socket

import (
	"encoding/json"

	"github.com/matheus3301/bbsync/internal/store"
)

// Typed domain events decoded from the socket stream. The sync coordinator
// switches on these payload types; anything the decoder cannot name becomes
// an UnknownEvent rather than vanishing silently.

// NewMessage carries a freshly pushed message. TempGUID is set when the
// bridge echoes back a message this client sent optimistically.
type NewMessage struct {
	ChatGUID    string
	TempGUID    string
	Message     *store.Message
	Attachments []store.Attachment
}

// UpdatedMessage patches delivery/read/error state of an existing message.
type UpdatedMessage struct {
	GUID  string
	Patch store.MessagePatch
}

// TypingIndicator reports typing presence for a chat. Never persisted.
type TypingIndicator struct {
	ChatGUID      string
	Display       bool
	SenderAddress string
}

// GroupNameChange renames a group conversation.
type GroupNameChange struct {
	ChatGUID string
	NewName  string
}

// ParticipantChange adds or removes a participant address.
type ParticipantChange struct {
	ChatGUID string
	Address  string
	Added    bool
}

// ChatReadStatusChanged reports the chat's read state as seen by the bridge.
type ChatReadStatusChanged struct {
	ChatGUID string
	Read     bool
}

// UnknownEvent carries an event name the decoder has no entry for.
type UnknownEvent struct {
	Name string
	Raw  json.RawMessage
}
