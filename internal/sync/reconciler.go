package sync

import (
	"context"
	"time"

	"github.com/bibswap/swapchat/internal/bus"
	"github.com/bibswap/swapchat/internal/convo"
	"go.uber.org/zap"
)

// ReadStore is the slice of the store the Reconciler writes to.
type ReadStore interface {
	MarkRead(ctx context.Context, ids []string, at time.Time) (int64, error)
	PendingNotifications(ctx context.Context, userID, kind, conversationID string) (int, error)
	ClearNotifications(ctx context.Context, userID, kind, conversationID string) (int64, error)
}

// Reconciler marks inbound messages read and clears new-message notifications
// when a participant opens a conversation.
type Reconciler struct {
	db     ReadStore
	bus    *bus.Bus
	logger *zap.Logger
	now    func() time.Time
}

// NewReconciler creates a new reconciler.
func NewReconciler(db ReadStore, b *bus.Bus, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{db: db, bus: b, logger: logger, now: time.Now}
}

// Reconcile marks every unread message in msgs not authored by viewerID as
// read and clears the viewer's pending new-message notifications for the
// conversation. Marked entries of msgs get ReadAt set in place. When nothing is
// unread and nothing is pending it performs no writes.
func (r *Reconciler) Reconcile(ctx context.Context, c *convo.Conversation, msgs []convo.Message, viewerID string) (convo.ReadResult, error) {
	var res convo.ReadResult
	if !c.IsParticipant(viewerID) {
		return res, convo.NewError(convo.CodeUnauthorized, "viewer is not a participant", nil)
	}

	var (
		ids []string
		idx []int
	)
	for i, m := range msgs {
		if m.SenderID != viewerID && !m.IsRead() && m.ID != "" {
			ids = append(ids, m.ID)
			idx = append(idx, i)
		}
	}

	if len(ids) > 0 {
		at := r.now()
		n, err := r.db.MarkRead(ctx, ids, at)
		if err != nil {
			return res, err
		}
		res.Marked = n
		for _, i := range idx {
			readAt := at
			msgs[i].ReadAt = &readAt
		}
		if r.bus != nil {
			r.bus.Publish(bus.Event{
				Kind:      bus.KindMessageRead,
				Key:       c.ID,
				Timestamp: at,
				Payload:   convo.ReadReceipt{ConversationID: c.ID, ReaderID: viewerID, MessageIDs: ids, ReadAt: at},
			})
		}
	}

	pending, err := r.db.PendingNotifications(ctx, viewerID, convo.NotifyNewMessage, c.ID)
	if err != nil {
		return res, err
	}
	if pending > 0 {
		n, err := r.db.ClearNotifications(ctx, viewerID, convo.NotifyNewMessage, c.ID)
		if err != nil {
			return res, err
		}
		res.Cleared = n
	}

	if res.Marked > 0 || res.Cleared > 0 {
		r.logger.Debug("conversation reconciled",
			zap.String("conversation_id", c.ID),
			zap.String("viewer_id", viewerID),
			zap.Int64("marked", res.Marked),
			zap.Int64("cleared", res.Cleared))
	}
	return res, nil
}
