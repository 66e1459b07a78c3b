package convo

import "time"

// ReadResult counts the writes made by a read reconciliation pass.
type ReadResult struct {
	Marked  int64 `json:"marked"`
	Cleared int64 `json:"cleared"`
}

// ReadReceipt is emitted when a participant marks inbound messages read.
type ReadReceipt struct {
	ConversationID string    `json:"conversation_id"`
	ReaderID       string    `json:"reader_id"`
	MessageIDs     []string  `json:"message_ids"`
	ReadAt         time.Time `json:"read_at"`
}

// Snapshot is a conversation as loaded for one viewer.
type Snapshot struct {
	Conversation    Conversation `json:"conversation"`
	Messages        []Message    `json:"messages"`
	ListingTitle    string       `json:"listing_title"`
	OwnerID         string       `json:"owner_id"`
	ViewerState     State        `json:"viewer_state"`
	BlockedByViewer bool         `json:"blocked_by_viewer"`
	BlockedByOther  bool         `json:"blocked_by_other"`
	Read            ReadResult   `json:"read"`
}

// ParticipantAction is the payload of block, unblock and delete events.
type ParticipantAction struct {
	ConversationID string    `json:"conversation_id"`
	ActorID        string    `json:"actor_id"`
	At             time.Time `json:"at"`
}
