package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/bibswap/swapchat/internal/convo"
	"github.com/google/uuid"
)

// UpsertBlock records that b.BlockerID blocks b.BlockedID. Repeating it is a no-op.
func (db *DB) UpsertBlock(ctx context.Context, b convo.BlockRelation) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO blocks (blocker_id, blocked_id, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(blocker_id, blocked_id) DO NOTHING`,
		b.BlockerID, b.BlockedID, millis(b.CreatedAt))
	return transient("upsert block", err)
}

// RemoveBlock deletes the directed block row if present.
func (db *DB) RemoveBlock(ctx context.Context, blockerID, blockedID string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM blocks WHERE blocker_id = ? AND blocked_id = ?`, blockerID, blockedID)
	return transient("remove block", err)
}

// IsBlocked reports whether blockerID blocks blockedID.
func (db *DB) IsBlocked(ctx context.Context, blockerID, blockedID string) (bool, error) {
	var one int
	err := db.QueryRowContext(ctx, `
		SELECT 1 FROM blocks WHERE blocker_id = ? AND blocked_id = ?`, blockerID, blockedID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, transient("check block", err)
	}
	return true, nil
}

// AddNotification queues a notification for userID.
func (db *DB) AddNotification(ctx context.Context, userID, kind, conversationID, messageID string, at time.Time) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO notifications (user_id, kind, conversation_id, message_id, created_at)
		VALUES (?, ?, ?, ?, ?)`, userID, kind, conversationID, messageID, millis(at))
	return transient("add notification", err)
}

// PendingNotifications counts userID's notifications of kind for a conversation.
func (db *DB) PendingNotifications(ctx context.Context, userID, kind, conversationID string) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notifications
		WHERE user_id = ? AND kind = ? AND conversation_id = ?`, userID, kind, conversationID).Scan(&n)
	return n, transient("count notifications", err)
}

// ClearNotifications deletes userID's notifications of kind for a conversation.
func (db *DB) ClearNotifications(ctx context.Context, userID, kind, conversationID string) (int64, error) {
	res, err := db.ExecContext(ctx, `
		DELETE FROM notifications
		WHERE user_id = ? AND kind = ? AND conversation_id = ?`, userID, kind, conversationID)
	if err != nil {
		return 0, transient("clear notifications", err)
	}
	n, err := res.RowsAffected()
	return n, transient("clear notifications", err)
}

// Report is a moderation report filed against a conversation.
type Report struct {
	ID             string
	ConversationID string
	ReporterID     string
	Reason         string
	CreatedAt      time.Time
}

// InsertReport persists r, assigning an id when empty.
func (db *DB) InsertReport(ctx context.Context, r *Report) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO reports (id, conversation_id, reporter_id, reason, created_at)
		VALUES (?, ?, ?, ?, ?)`, r.ID, r.ConversationID, r.ReporterID, r.Reason, millis(r.CreatedAt))
	return transient("insert report", err)
}

// ListReports returns the reports filed against a conversation, oldest first.
func (db *DB) ListReports(ctx context.Context, conversationID string) ([]Report, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, conversation_id, reporter_id, reason, created_at
		FROM reports WHERE conversation_id = ? ORDER BY created_at`, conversationID)
	if err != nil {
		return nil, transient("list reports", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Report
	for rows.Next() {
		var (
			r  Report
			at int64
		)
		if err := rows.Scan(&r.ID, &r.ConversationID, &r.ReporterID, &r.Reason, &at); err != nil {
			return nil, transient("scan report", err)
		}
		r.CreatedAt = fromMillis(at)
		out = append(out, r)
	}
	return out, transient("list reports", rows.Err())
}
