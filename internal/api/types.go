package api

import (
	"time"

	"github.com/bibswap/swapchat/internal/chat"
	"github.com/bibswap/swapchat/internal/convo"
)

type InboxRequest struct {
	Limit int `json:"limit,omitempty"`
}

type InboxResponse struct {
	Entries []chat.InboxEntry `json:"entries"`
}

type OpenRequest struct {
	ConversationID string `json:"conversation_id"`
	// Language selects which cached translations come back with the messages.
	Language string `json:"language,omitempty"`
}

type SendRequest struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
}

type SendResponse struct {
	Message   convo.Message `json:"message"`
	Activated bool          `json:"activated"`
}

// ConversationRequest names the conversation of MarkSeen, Block, Unblock and Delete.
type ConversationRequest struct {
	ConversationID string `json:"conversation_id"`
}

type ReportRequest struct {
	ConversationID string `json:"conversation_id"`
	Reason         string `json:"reason"`
}

type ReportResponse struct {
	ReportID  string    `json:"report_id"`
	CreatedAt time.Time `json:"created_at"`
}

type TranslateRequest struct {
	MessageID string `json:"message_id"`
	Language  string `json:"language"`
}

type TranslateResponse struct {
	Text string `json:"text"`
}

type StartRequest struct {
	ListingID string `json:"listing_id"`
	Content   string `json:"content"`
}

type StartResponse struct {
	Conversation convo.Conversation `json:"conversation"`
	Message      convo.Message      `json:"message"`
	Activated    bool               `json:"activated"`
}

type InterestRequest struct {
	ListingID string `json:"listing_id"`
}

type InterestResponse struct {
	Message convo.Message `json:"message"`
}

type PutListingRequest struct {
	Listing convo.Listing `json:"listing"`
}

type ResolveRequest struct {
	PublicID string `json:"public_id"`
}

type ResolveResponse struct {
	Conversation convo.Conversation `json:"conversation"`
}

type StatusResponse struct {
	State       string    `json:"state"`
	Since       time.Time `json:"since"`
	Reason      string    `json:"reason,omitempty"`
	Translation bool      `json:"translation"`
	Subscribers int       `json:"subscribers"`
}

type WatchRequest struct {
	ConversationID string `json:"conversation_id"`
}

// KindReady is the first event of every watch stream. It is sent once the
// server-side subscription exists.
const KindReady = "watch.ready"

// WatchEvent is one push channel event for a conversation.
type WatchEvent struct {
	Kind    string             `json:"kind"`
	Message *convo.Message     `json:"message,omitempty"`
	Receipt *convo.ReadReceipt `json:"receipt,omitempty"`
	ActorID string             `json:"actor_id,omitempty"`
	At      time.Time          `json:"at"`
}
