package convo

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// MessageType distinguishes user text from system notices.
type MessageType string

const (
	TypeText     MessageType = "text"
	TypeInterest MessageType = "interest"
)

// NotifyNewMessage is the notification kind queued for a message recipient.
const NotifyNewMessage = "new_message"

// ListingKind is the kind of item a listing offers.
type ListingKind string

const (
	KindRoom ListingKind = "room"
	KindBib  ListingKind = "bib"
)

// Listing is the subset of a marketplace listing the messaging core needs.
type Listing struct {
	ID      string      `json:"id"`
	OwnerID string      `json:"owner_id"`
	Title   string      `json:"title"`
	Kind    ListingKind `json:"kind"`
	Active  bool        `json:"active"`
}

// Conversation is a two-party thread scoped to one listing. ParticipantA is the
// initiator and ParticipantB the listing owner at creation time.
type Conversation struct {
	ID           string    `json:"id"`
	PublicID     string    `json:"public_id"`
	ListingID    string    `json:"listing_id"`
	ParticipantA string    `json:"participant_a"`
	ParticipantB string    `json:"participant_b"`
	Activated    bool      `json:"activated"`
	DeletedByA   bool      `json:"deleted_by_a"`
	DeletedByB   bool      `json:"deleted_by_b"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Slot identifies which participant column a user occupies.
type Slot int

const (
	SlotNone Slot = iota
	SlotA
	SlotB
)

// Message is one entry in a conversation. Persisted messages carry ID; client
// optimistic copies carry only TempID until confirmed.
type Message struct {
	ID                string      `json:"id"`
	TempID            string      `json:"temp_id,omitempty"`
	ConversationID    string      `json:"conversation_id"`
	SenderID          string      `json:"sender_id"`
	Content           string      `json:"content"`
	Type              MessageType `json:"type"`
	CreatedAt         time.Time   `json:"created_at"`
	ReadAt            *time.Time  `json:"read_at,omitempty"`
	DetectedLanguage  string      `json:"detected_language,omitempty"`
	TranslatedContent string      `json:"translated_content,omitempty"`
	TranslatedTo      string      `json:"translated_to,omitempty"`
}

// Key returns the message identity: the persisted id when known, else the temp id.
func (m Message) Key() string {
	if m.ID != "" {
		return m.ID
	}
	return m.TempID
}

// IsRead reports whether the recipient has seen the message.
func (m Message) IsRead() bool {
	return m.ReadAt != nil
}

// BlockRelation is directed: BlockerID refuses contact with BlockedID.
type BlockRelation struct {
	BlockerID string    `json:"blocker_id"`
	BlockedID string    `json:"blocked_id"`
	CreatedAt time.Time `json:"created_at"`
}

// NewConversation validates the participants and assigns identities.
func NewConversation(listingID, initiatorID, ownerID string, now time.Time) (*Conversation, error) {
	if strings.TrimSpace(listingID) == "" {
		return nil, NewError(CodeValidation, "listing id is required", nil)
	}
	if strings.TrimSpace(initiatorID) == "" || strings.TrimSpace(ownerID) == "" {
		return nil, NewError(CodeValidation, "both participants are required", nil)
	}
	if initiatorID == ownerID {
		return nil, NewError(CodeValidation, "participants must be distinct", nil)
	}
	return &Conversation{
		ID:           uuid.NewString(),
		PublicID:     NewPublicID(),
		ListingID:    listingID,
		ParticipantA: initiatorID,
		ParticipantB: ownerID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// NewPublicID returns a short shareable id.
func NewPublicID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}

// NewMessage builds a text or interest message with trimmed, non-empty content.
func NewMessage(conversationID, senderID, content string, typ MessageType, now time.Time) (*Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, NewError(CodeValidation, "message content is empty", nil)
	}
	if conversationID == "" || senderID == "" {
		return nil, NewError(CodeValidation, "conversation and sender are required", nil)
	}
	switch typ {
	case TypeText, TypeInterest:
	case "":
		typ = TypeText
	default:
		return nil, NewError(CodeValidation, "unknown message type "+string(typ), nil)
	}
	return &Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Type:           typ,
		CreatedAt:      now,
	}, nil
}

// NewBlockRelation rejects self-blocks.
func NewBlockRelation(blockerID, blockedID string, now time.Time) (*BlockRelation, error) {
	if blockerID == "" || blockedID == "" {
		return nil, NewError(CodeValidation, "blocker and blocked are required", nil)
	}
	if blockerID == blockedID {
		return nil, NewError(CodeValidation, "cannot block yourself", nil)
	}
	return &BlockRelation{BlockerID: blockerID, BlockedID: blockedID, CreatedAt: now}, nil
}

// SlotOf returns the participant slot of userID.
func (c *Conversation) SlotOf(userID string) Slot {
	switch userID {
	case "":
		return SlotNone
	case c.ParticipantA:
		return SlotA
	case c.ParticipantB:
		return SlotB
	}
	return SlotNone
}

// IsParticipant reports whether userID is one of the two participants.
func (c *Conversation) IsParticipant(userID string) bool {
	return c.SlotOf(userID) != SlotNone
}

// Other returns the counterpart of userID, or "" if userID is not a participant.
func (c *Conversation) Other(userID string) string {
	switch c.SlotOf(userID) {
	case SlotA:
		return c.ParticipantB
	case SlotB:
		return c.ParticipantA
	}
	return ""
}

// DeletedBy reports whether userID has soft-deleted the conversation.
func (c *Conversation) DeletedBy(userID string) bool {
	switch c.SlotOf(userID) {
	case SlotA:
		return c.DeletedByA
	case SlotB:
		return c.DeletedByB
	}
	return false
}

// SetDeleted sets the soft-delete flag owned by userID.
func (c *Conversation) SetDeleted(userID string, deleted bool) {
	switch c.SlotOf(userID) {
	case SlotA:
		c.DeletedByA = deleted
	case SlotB:
		c.DeletedByB = deleted
	}
}

// NormalizeContent collapses whitespace so that echoes of the same text compare equal.
func NormalizeContent(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
