package bus

import "time"

// Event kinds published by the conversation services.
const (
	KindMessageInserted       = "message.inserted"
	KindMessageUpdated        = "message.updated"
	KindMessageRead           = "message.read"
	KindConversationActivated = "conversation.activated"
	KindConversationBlocked   = "conversation.blocked"
	KindConversationUnblocked = "conversation.unblocked"
	KindConversationDeleted   = "conversation.deleted"
)

// Event represents a domain event published on the bus. Key scopes the event,
// usually to a conversation id.
type Event struct {
	Kind      string
	Key       string
	Timestamp time.Time
	Payload   any
}
