package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Kinds published by the core components. Namespaces group related events
// so subscribers can attach with a single prefix.
const (
	KindSocketConnected    = "socket.connected"
	KindSocketDisconnected = "socket.disconnected"
	KindSocketError        = "socket.error"
	KindStatusChanged      = "socket.status_changed"

	KindNewMessage        = "socket.event.new_message"
	KindUpdatedMessage    = "socket.event.updated_message"
	KindTypingIndicator   = "socket.event.typing_indicator"
	KindGroupNameChange   = "socket.event.group_name_change"
	KindParticipantChange = "socket.event.participant_change"
	KindChatReadStatus    = "socket.event.chat_read_status"
	KindUnknownEvent      = "socket.event.unknown"

	KindMessageUpserted = "cache.message_upserted"
	KindChatUpdated     = "cache.chat_updated"

	KindTypingPresence = "presence.typing"

	KindSendAck    = "message.send_ack"
	KindSendFailed = "message.send_failed"
)
