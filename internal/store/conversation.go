package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/bibswap/swapchat/internal/convo"
)

const conversationColumns = `c.id, c.public_id, c.listing_id, c.participant_a, c.participant_b,
	c.activated, c.deleted_by_a, c.deleted_by_b, c.created_at, c.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*convo.Conversation, error) {
	var (
		c                convo.Conversation
		created, updated int64
	)
	if err := row.Scan(&c.ID, &c.PublicID, &c.ListingID, &c.ParticipantA, &c.ParticipantB,
		&c.Activated, &c.DeletedByA, &c.DeletedByB, &created, &updated); err != nil {
		return nil, err
	}
	c.CreatedAt = fromMillis(created)
	c.UpdatedAt = fromMillis(updated)
	return &c, nil
}

func orderedPair(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}

// CreateConversation inserts c unless a conversation for the same listing and
// unordered participant pair already exists, in which case the existing row is
// returned with created=false.
func (db *DB) CreateConversation(ctx context.Context, c *convo.Conversation) (*convo.Conversation, bool, error) {
	lo, hi := orderedPair(c.ParticipantA, c.ParticipantB)
	res, err := db.ExecContext(ctx, `
		INSERT INTO conversations (id, public_id, listing_id, participant_a, participant_b, pair_lo, pair_hi,
			activated, deleted_by_a, deleted_by_b, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(listing_id, pair_lo, pair_hi) DO NOTHING`,
		c.ID, c.PublicID, c.ListingID, c.ParticipantA, c.ParticipantB, lo, hi,
		c.Activated, c.DeletedByA, c.DeletedByB, millis(c.CreatedAt), millis(c.UpdatedAt))
	if err != nil {
		return nil, false, transient("create conversation", err)
	}
	n, _ := res.RowsAffected()
	existing, err := db.FindConversation(ctx, c.ListingID, c.ParticipantA, c.ParticipantB)
	if err != nil {
		return nil, false, err
	}
	return existing, n == 1, nil
}

// FindConversation looks up the conversation for a listing and participant pair
// in either order. Returns nil, nil when none exists.
func (db *DB) FindConversation(ctx context.Context, listingID, userA, userB string) (*convo.Conversation, error) {
	lo, hi := orderedPair(userA, userB)
	c, err := scanConversation(db.QueryRowContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations c
		WHERE c.listing_id = ? AND c.pair_lo = ? AND c.pair_hi = ?`, listingID, lo, hi))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, transient("find conversation", err)
	}
	return c, nil
}

// GetConversation returns a conversation by id, or nil, nil when missing.
func (db *DB) GetConversation(ctx context.Context, id string) (*convo.Conversation, error) {
	c, err := scanConversation(db.QueryRowContext(ctx, `
		SELECT `+conversationColumns+` FROM conversations c WHERE c.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, transient("get conversation", err)
	}
	return c, nil
}

// GetConversationByPublicID resolves a share link id.
func (db *DB) GetConversationByPublicID(ctx context.Context, publicID string) (*convo.Conversation, error) {
	c, err := scanConversation(db.QueryRowContext(ctx, `
		SELECT `+conversationColumns+` FROM conversations c WHERE c.public_id = ?`, publicID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, transient("get conversation by public id", err)
	}
	return c, nil
}

// LoadConversation returns the conversation and its ordered messages for a
// participant. Translations cached for lang are attached to each message.
func (db *DB) LoadConversation(ctx context.Context, id, viewerID, lang string) (*convo.Conversation, []convo.Message, error) {
	c, err := db.GetConversation(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if c == nil {
		return nil, nil, convo.NewError(convo.CodeNotFound, "conversation "+id, nil)
	}
	if !c.IsParticipant(viewerID) {
		return nil, nil, convo.NewError(convo.CodeUnauthorized, "viewer is not a participant", nil)
	}
	msgs, err := db.ListMessages(ctx, id, lang)
	if err != nil {
		return nil, nil, err
	}
	return c, msgs, nil
}

// TouchConversation bumps updated_at, never moving it backwards.
func (db *DB) TouchConversation(ctx context.Context, id string, at time.Time) error {
	_, err := db.ExecContext(ctx, `
		UPDATE conversations SET updated_at = MAX(updated_at, ?) WHERE id = ?`, millis(at), id)
	return transient("touch conversation", err)
}

// SetActivated flips activated from 0 to 1. It reports true only for the call
// that performed the transition.
func (db *DB) SetActivated(ctx context.Context, id string) (bool, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE conversations SET activated = 1 WHERE id = ? AND activated = 0`, id)
	if err != nil {
		return false, transient("activate conversation", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, transient("activate conversation", err)
	}
	return n == 1, nil
}

// SetDeleted sets the soft-delete flag owned by the given slot.
func (db *DB) SetDeleted(ctx context.Context, id string, slot convo.Slot, deleted bool) error {
	var query string
	switch slot {
	case convo.SlotA:
		query = `UPDATE conversations SET deleted_by_a = ? WHERE id = ?`
	case convo.SlotB:
		query = `UPDATE conversations SET deleted_by_b = ? WHERE id = ?`
	default:
		return convo.NewError(convo.CodeUnauthorized, "viewer is not a participant", nil)
	}
	_, err := db.ExecContext(ctx, query, deleted, id)
	return transient("set deleted flag", err)
}

// InboxEntry is one row of a participant's conversation list.
type InboxEntry struct {
	Conversation  convo.Conversation `json:"conversation"`
	ListingTitle  string             `json:"listing_title"`
	LastMessage   string             `json:"last_message"`
	LastMessageAt time.Time          `json:"last_message_at"`
	Unread        int                `json:"unread"`
}

// ListInbox returns the conversations visible to viewerID, most recently
// updated first. Conversations the viewer soft-deleted are excluded.
func (db *DB) ListInbox(ctx context.Context, viewerID string, limit int) ([]InboxEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
		SELECT `+conversationColumns+`,
			COALESCE(l.title, ''),
			COALESCE((SELECT m.content FROM messages m WHERE m.conversation_id = c.id
				ORDER BY m.created_at DESC, m.seq DESC LIMIT 1), ''),
			COALESCE((SELECT MAX(m.created_at) FROM messages m WHERE m.conversation_id = c.id), 0),
			(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id
				AND m.sender_id <> ? AND m.read_at IS NULL)
		FROM conversations c
		LEFT JOIN listings l ON l.id = c.listing_id
		WHERE (c.participant_a = ? AND c.deleted_by_a = 0)
		   OR (c.participant_b = ? AND c.deleted_by_b = 0)
		ORDER BY c.updated_at DESC
		LIMIT ?`, viewerID, viewerID, viewerID, limit)
	if err != nil {
		return nil, transient("list inbox", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []InboxEntry
	for rows.Next() {
		var (
			e                InboxEntry
			created, updated int64
			lastAt           int64
		)
		c := &e.Conversation
		if err := rows.Scan(&c.ID, &c.PublicID, &c.ListingID, &c.ParticipantA, &c.ParticipantB,
			&c.Activated, &c.DeletedByA, &c.DeletedByB, &created, &updated,
			&e.ListingTitle, &e.LastMessage, &lastAt, &e.Unread); err != nil {
			return nil, transient("scan inbox", err)
		}
		c.CreatedAt = fromMillis(created)
		c.UpdatedAt = fromMillis(updated)
		if lastAt > 0 {
			e.LastMessageAt = fromMillis(lastAt)
		}
		entries = append(entries, e)
	}
	return entries, transient("list inbox", rows.Err())
}
