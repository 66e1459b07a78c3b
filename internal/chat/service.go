package chat

import (
	"context"
	"strings"
	"time"

	"github.com/bibswap/swapchat/internal/bus"
	"github.com/bibswap/swapchat/internal/convo"
	"github.com/bibswap/swapchat/internal/store"
	intsync "github.com/bibswap/swapchat/internal/sync"
	"github.com/bibswap/swapchat/internal/translate"
	"go.uber.org/zap"
)

// SendResult is the outcome of a successful send.
type SendResult struct {
	Message convo.Message
	// Activated is true only for the send that moved the conversation to ACTIVE.
	Activated bool
}

// InboxEntry is one conversation in a participant's inbox.
type InboxEntry struct {
	store.InboxEntry
	State convo.State `json:"state"`
}

// Service implements the conversation operations. Every method takes the
// acting user explicitly.
type Service struct {
	db         *store.DB
	bus        *bus.Bus
	reconciler *intsync.Reconciler
	translator *translate.Service
	logger     *zap.Logger
	now        func() time.Time
}

// NewService creates a chat service.
func NewService(db *store.DB, b *bus.Bus, rec *intsync.Reconciler, tr *translate.Service, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, bus: b, reconciler: rec, translator: tr, logger: logger, now: time.Now}
}

// PutListing mirrors a listing from the marketplace. Only the owner may write
// it, and ownership of an existing listing cannot change.
func (s *Service) PutListing(ctx context.Context, viewerID string, l convo.Listing) error {
	if strings.TrimSpace(l.ID) == "" || strings.TrimSpace(l.OwnerID) == "" {
		return convo.NewError(convo.CodeValidation, "listing id and owner are required", nil)
	}
	switch l.Kind {
	case "", convo.KindRoom, convo.KindBib:
	default:
		return convo.NewError(convo.CodeValidation, "unknown listing kind "+string(l.Kind), nil)
	}
	if l.OwnerID != viewerID {
		return convo.NewError(convo.CodeUnauthorized, "only the owner can publish a listing", nil)
	}
	existing, err := s.db.GetListing(ctx, l.ID)
	if err != nil {
		return err
	}
	if existing != nil && existing.OwnerID != l.OwnerID {
		return convo.NewError(convo.CodeUnauthorized, "listing belongs to another user", nil)
	}
	return s.db.UpsertListing(ctx, l)
}

// StartConversation opens (or reuses) the conversation between viewerID and
// the listing owner and sends the first message into it.
func (s *Service) StartConversation(ctx context.Context, viewerID, listingID, content string) (*convo.Conversation, *SendResult, error) {
	l, err := s.activeListing(ctx, listingID)
	if err != nil {
		return nil, nil, err
	}
	if l.OwnerID == viewerID {
		return nil, nil, convo.NewError(convo.CodeValidation, "cannot start a conversation on your own listing", nil)
	}
	if strings.TrimSpace(content) == "" {
		return nil, nil, convo.NewError(convo.CodeValidation, "message content is empty", nil)
	}

	// Check before creating, so a refused start leaves no empty conversation.
	if err := s.checkBlocked(ctx, viewerID, l.OwnerID); err != nil {
		return nil, nil, err
	}
	c, err := s.ensureConversation(ctx, l, viewerID)
	if err != nil {
		return nil, nil, err
	}
	res, err := s.Send(ctx, c.ID, viewerID, content)
	if err != nil {
		return c, nil, err
	}
	return c, res, nil
}

func (s *Service) activeListing(ctx context.Context, listingID string) (*convo.Listing, error) {
	l, err := s.db.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, convo.NewError(convo.CodeNotFound, "listing "+listingID, nil)
	}
	if !l.Active {
		return nil, convo.NewError(convo.CodeValidation, "listing is not active", nil)
	}
	return l, nil
}

// ensureConversation looks up the (listing, pair) conversation before
// inserting one.
func (s *Service) ensureConversation(ctx context.Context, l *convo.Listing, userID string) (*convo.Conversation, error) {
	existing, err := s.db.FindConversation(ctx, l.ID, userID, l.OwnerID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	c, err := convo.NewConversation(l.ID, userID, l.OwnerID, s.now())
	if err != nil {
		return nil, err
	}
	got, created, err := s.db.CreateConversation(ctx, c)
	if err != nil {
		return nil, err
	}
	if created {
		s.logger.Info("conversation created",
			zap.String("conversation_id", got.ID),
			zap.String("listing_id", l.ID))
	}
	return got, nil
}

// ownerOf returns the listing owner, falling back to the participant recorded
// as owner when the conversation was created.
func (s *Service) ownerOf(ctx context.Context, c *convo.Conversation) (string, error) {
	l, err := s.db.GetListing(ctx, c.ListingID)
	if err != nil {
		return "", err
	}
	if l != nil && c.IsParticipant(l.OwnerID) {
		return l.OwnerID, nil
	}
	return c.ParticipantB, nil
}

// Send persists a text message from senderID.
func (s *Service) Send(ctx context.Context, conversationID, senderID, content string) (*SendResult, error) {
	c, err := s.db.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, convo.NewError(convo.CodeNotFound, "conversation "+conversationID, nil)
	}
	if !c.IsParticipant(senderID) {
		return nil, convo.NewError(convo.CodeUnauthorized, "sender is not a participant", nil)
	}
	m, err := convo.NewMessage(c.ID, senderID, content, convo.TypeText, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.checkBlocked(ctx, senderID, c.Other(senderID)); err != nil {
		return nil, err
	}
	return s.deliver(ctx, c, m)
}

// checkBlocked rejects a send while a block exists in either direction.
func (s *Service) checkBlocked(ctx context.Context, senderID, otherID string) error {
	for _, pair := range [][2]string{{senderID, otherID}, {otherID, senderID}} {
		blocked, err := s.db.IsBlocked(ctx, pair[0], pair[1])
		if err != nil {
			return err
		}
		if blocked {
			return convo.NewError(convo.CodeBlocked, "conversation is blocked", nil)
		}
	}
	return nil
}

// deliver persists m and applies its side effects.
func (s *Service) deliver(ctx context.Context, c *convo.Conversation, m *convo.Message) (*SendResult, error) {
	ownerID, err := s.ownerOf(ctx, c)
	if err != nil {
		return nil, err
	}
	eff := c.OnSend(m.SenderID, ownerID, m.Type)

	if err := s.db.InsertMessage(ctx, m); err != nil {
		s.logger.Warn("insert message failed", zap.String("conversation_id", c.ID), zap.Error(err))
		return nil, err
	}
	log := s.logger.With(zap.String("conversation_id", c.ID), zap.String("message_id", m.ID))

	// The message is stored; the remaining writes are best effort.
	if err := s.db.TouchConversation(ctx, c.ID, m.CreatedAt); err != nil {
		log.Warn("touch conversation failed", zap.Error(err))
	}
	if eff.ReviveSender {
		if err := s.db.SetDeleted(ctx, c.ID, c.SlotOf(m.SenderID), false); err != nil {
			log.Warn("revive conversation failed", zap.Error(err))
		}
	}

	res := &SendResult{Message: *m}
	if eff.Activate {
		activated, err := s.db.SetActivated(ctx, c.ID)
		if err != nil {
			log.Warn("activate conversation failed", zap.Error(err))
		}
		if activated {
			res.Activated = true
			log.Info("conversation activated")
			s.bus.Publish(bus.Event{
				Kind:      bus.KindConversationActivated,
				Key:       c.ID,
				Timestamp: m.CreatedAt,
				Payload:   convo.StateChange{ConversationID: c.ID, From: convo.New, To: convo.Active},
			})
		}
	}

	if m.Type == convo.TypeText {
		if err := s.db.AddNotification(ctx, c.Other(m.SenderID), convo.NotifyNewMessage, c.ID, m.ID, m.CreatedAt); err != nil {
			log.Warn("queue notification failed", zap.Error(err))
		}
	}

	s.bus.Publish(bus.Event{
		Kind:      bus.KindMessageInserted,
		Key:       c.ID,
		Timestamp: m.CreatedAt,
		Payload:   *m,
	})
	log.Debug("message sent", zap.String("sender_id", m.SenderID), zap.String("type", string(m.Type)))
	return res, nil
}

// RecordInterest inserts an interest notice from userID into the conversation
// with the listing owner, creating it if needed. Notices never activate and are
// refused while the owner blocks userID.
func (s *Service) RecordInterest(ctx context.Context, listingID, userID string) (*convo.Message, error) {
	l, err := s.activeListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if l.OwnerID == userID {
		return nil, convo.NewError(convo.CodeValidation, "owners cannot register interest in their own listing", nil)
	}
	// Only the owner's block suppresses notices; the user's own block does not.
	blocked, err := s.db.IsBlocked(ctx, l.OwnerID, userID)
	if err != nil {
		return nil, err
	}
	if blocked {
		return nil, convo.NewError(convo.CodeBlocked, "the listing owner has blocked you", nil)
	}
	c, err := s.ensureConversation(ctx, l, userID)
	if err != nil {
		return nil, err
	}
	m, err := convo.NewMessage(c.ID, userID, "is interested in "+listingTitle(l), convo.TypeInterest, s.now())
	if err != nil {
		return nil, err
	}
	res, err := s.deliver(ctx, c, m)
	if err != nil {
		return nil, err
	}
	return &res.Message, nil
}

func listingTitle(l *convo.Listing) string {
	if l.Title != "" {
		return l.Title
	}
	return "this listing"
}

// Open loads the conversation for viewerID and marks its inbound messages read.
func (s *Service) Open(ctx context.Context, conversationID, viewerID, lang string) (*convo.Snapshot, error) {
	c, msgs, err := s.db.LoadConversation(ctx, conversationID, viewerID, translate.BaseLanguage(lang))
	if err != nil {
		return nil, err
	}
	read, err := s.reconciler.Reconcile(ctx, c, msgs, viewerID)
	if err != nil {
		return nil, err
	}
	snap := &convo.Snapshot{
		Conversation: *c,
		Messages:     msgs,
		ViewerState:  c.StateFor(viewerID),
		Read:         read,
	}
	if l, err := s.db.GetListing(ctx, c.ListingID); err != nil {
		return nil, err
	} else if l != nil {
		snap.ListingTitle = l.Title
	}
	if snap.OwnerID, err = s.ownerOf(ctx, c); err != nil {
		return nil, err
	}
	other := c.Other(viewerID)
	if snap.BlockedByViewer, err = s.db.IsBlocked(ctx, viewerID, other); err != nil {
		return nil, err
	}
	if snap.BlockedByOther, err = s.db.IsBlocked(ctx, other, viewerID); err != nil {
		return nil, err
	}
	return snap, nil
}

// MarkSeen marks every unread inbound message read against current store contents.
func (s *Service) MarkSeen(ctx context.Context, conversationID, viewerID string) (convo.ReadResult, error) {
	c, msgs, err := s.db.LoadConversation(ctx, conversationID, viewerID, "")
	if err != nil {
		return convo.ReadResult{}, err
	}
	return s.reconciler.Reconcile(ctx, c, msgs, viewerID)
}

// participant loads the conversation and checks viewerID belongs to it.
func (s *Service) participant(ctx context.Context, conversationID, viewerID string) (*convo.Conversation, error) {
	c, err := s.db.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, convo.NewError(convo.CodeNotFound, "conversation "+conversationID, nil)
	}
	if !c.IsParticipant(viewerID) {
		return nil, convo.NewError(convo.CodeUnauthorized, "viewer is not a participant", nil)
	}
	return c, nil
}

// Conversation returns the conversation when viewerID participates in it.
func (s *Service) Conversation(ctx context.Context, conversationID, viewerID string) (*convo.Conversation, error) {
	return s.participant(ctx, conversationID, viewerID)
}

func (s *Service) publishAction(kind string, c *convo.Conversation, actorID string) {
	now := s.now()
	s.bus.Publish(bus.Event{
		Kind:      kind,
		Key:       c.ID,
		Timestamp: now,
		Payload:   convo.ParticipantAction{ConversationID: c.ID, ActorID: actorID, At: now},
	})
}

// Block blocks the other participant. Activation is unaffected.
func (s *Service) Block(ctx context.Context, conversationID, viewerID string) error {
	c, err := s.participant(ctx, conversationID, viewerID)
	if err != nil {
		return err
	}
	rel, err := convo.NewBlockRelation(viewerID, c.Other(viewerID), s.now())
	if err != nil {
		return err
	}
	if err := s.db.UpsertBlock(ctx, *rel); err != nil {
		return err
	}
	s.logger.Info("participant blocked", zap.String("conversation_id", c.ID), zap.String("viewer_id", viewerID))
	s.publishAction(bus.KindConversationBlocked, c, viewerID)
	return nil
}

// Unblock removes the viewer's block on the other participant.
func (s *Service) Unblock(ctx context.Context, conversationID, viewerID string) error {
	c, err := s.participant(ctx, conversationID, viewerID)
	if err != nil {
		return err
	}
	if err := s.db.RemoveBlock(ctx, viewerID, c.Other(viewerID)); err != nil {
		return err
	}
	s.logger.Info("participant unblocked", zap.String("conversation_id", c.ID), zap.String("viewer_id", viewerID))
	s.publishAction(bus.KindConversationUnblocked, c, viewerID)
	return nil
}

// Delete hides the conversation from the viewer's inbox.
func (s *Service) Delete(ctx context.Context, conversationID, viewerID string) error {
	c, err := s.participant(ctx, conversationID, viewerID)
	if err != nil {
		return err
	}
	if err := s.db.SetDeleted(ctx, c.ID, c.SlotOf(viewerID), true); err != nil {
		return err
	}
	s.publishAction(bus.KindConversationDeleted, c, viewerID)
	return nil
}

// Report files a moderation report.
func (s *Service) Report(ctx context.Context, conversationID, viewerID, reason string) (*store.Report, error) {
	c, err := s.participant(ctx, conversationID, viewerID)
	if err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, convo.NewError(convo.CodeValidation, "reason is required", nil)
	}
	r := &store.Report{ConversationID: c.ID, ReporterID: viewerID, Reason: reason, CreatedAt: s.now()}
	if err := s.db.InsertReport(ctx, r); err != nil {
		return nil, err
	}
	s.logger.Info("conversation reported", zap.String("conversation_id", c.ID), zap.String("report_id", r.ID))
	return r, nil
}

// Inbox lists the conversations visible to viewerID.
func (s *Service) Inbox(ctx context.Context, viewerID string, limit int) ([]InboxEntry, error) {
	rows, err := s.db.ListInbox(ctx, viewerID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]InboxEntry, len(rows))
	for i, r := range rows {
		out[i] = InboxEntry{InboxEntry: r, State: r.Conversation.StateFor(viewerID)}
	}
	return out, nil
}

// Translate returns a message of the viewer's conversation in target.
func (s *Service) Translate(ctx context.Context, messageID, viewerID, target string) (string, error) {
	m, err := s.db.GetMessage(ctx, messageID, "")
	if err != nil {
		return "", err
	}
	if m == nil {
		return "", convo.NewError(convo.CodeNotFound, "message "+messageID, nil)
	}
	if _, err := s.participant(ctx, m.ConversationID, viewerID); err != nil {
		return "", err
	}
	return s.translator.Translate(ctx, m, target)
}

// Resolve maps a public id to the conversation id for a participant.
func (s *Service) Resolve(ctx context.Context, publicID, viewerID string) (*convo.Conversation, error) {
	c, err := s.db.GetConversationByPublicID(ctx, publicID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, convo.NewError(convo.CodeNotFound, "conversation "+publicID, nil)
	}
	if !c.IsParticipant(viewerID) {
		return nil, convo.NewError(convo.CodeUnauthorized, "viewer is not a participant", nil)
	}
	return c, nil
}
