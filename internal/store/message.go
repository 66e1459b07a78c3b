package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/bibswap/swapchat/internal/convo"
	"github.com/google/uuid"
)

// InsertMessage persists m, assigning an id when empty. CreatedAt is truncated
// to millisecond precision so the caller's copy matches what is stored.
func (db *DB) InsertMessage(ctx context.Context, m *convo.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.CreatedAt = truncMillis(m.CreatedAt)
	_, err := db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, content, message_type, detected_language, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.SenderID, m.Content, string(m.Type), m.DetectedLanguage, millis(m.CreatedAt))
	return transient("insert message", err)
}

const messageColumns = `m.id, m.conversation_id, m.sender_id, m.content, m.message_type,
	m.detected_language, m.created_at, m.read_at, COALESCE(t.content, ''), COALESCE(t.language, '')`

func scanMessage(row rowScanner) (convo.Message, error) {
	var (
		m       convo.Message
		typ     string
		created int64
		readAt  sql.NullInt64
	)
	if err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &typ,
		&m.DetectedLanguage, &created, &readAt, &m.TranslatedContent, &m.TranslatedTo); err != nil {
		return m, err
	}
	m.Type = convo.MessageType(typ)
	m.CreatedAt = fromMillis(created)
	m.ReadAt = nullMillis(readAt)
	return m, nil
}

// ListMessages returns a conversation's messages ordered by creation time,
// ties broken by insertion order. lang selects which cached translation to attach.
func (db *DB) ListMessages(ctx context.Context, conversationID, lang string) ([]convo.Message, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages m
		LEFT JOIN message_translations t ON t.message_id = m.id AND t.language = ?
		WHERE m.conversation_id = ?
		ORDER BY m.created_at ASC, m.seq ASC`, lang, conversationID)
	if err != nil {
		return nil, transient("list messages", err)
	}
	defer func() { _ = rows.Close() }()

	var msgs []convo.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, transient("scan message", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, transient("list messages", rows.Err())
}

// GetMessage returns one message with the translation cached for lang, or nil, nil.
func (db *DB) GetMessage(ctx context.Context, id, lang string) (*convo.Message, error) {
	m, err := scanMessage(db.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages m
		LEFT JOIN message_translations t ON t.message_id = m.id AND t.language = ?
		WHERE m.id = ?`, lang, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, transient("get message", err)
	}
	return &m, nil
}

// MarkRead sets read_at on the given messages that are still unread and
// returns how many rows changed.
func (db *DB) MarkRead(ctx context.Context, ids []string, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, millis(at))
	for _, id := range ids {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	res, err := db.ExecContext(ctx, `
		UPDATE messages SET read_at = ?
		WHERE read_at IS NULL AND id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, transient("mark read", err)
	}
	n, err := res.RowsAffected()
	return n, transient("mark read", err)
}

// SetDetectedLanguage records the detected language of a message.
func (db *DB) SetDetectedLanguage(ctx context.Context, id, lang string) error {
	_, err := db.ExecContext(ctx, `UPDATE messages SET detected_language = ? WHERE id = ?`, lang, id)
	return transient("set detected language", err)
}
