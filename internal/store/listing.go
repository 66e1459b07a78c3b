package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/bibswap/swapchat/internal/convo"
)

// UpsertListing mirrors a listing from the marketplace.
func (db *DB) UpsertListing(ctx context.Context, l convo.Listing) error {
	if l.Kind == "" {
		l.Kind = convo.KindRoom
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO listings (id, owner_id, title, kind, active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner_id = excluded.owner_id,
			title = excluded.title,
			kind = excluded.kind,
			active = excluded.active,
			updated_at = excluded.updated_at`,
		l.ID, l.OwnerID, l.Title, string(l.Kind), l.Active, time.Now().UnixMilli())
	return transient("upsert listing", err)
}

// GetListing returns a listing by id, or nil, nil when missing.
func (db *DB) GetListing(ctx context.Context, id string) (*convo.Listing, error) {
	var (
		l    convo.Listing
		kind string
	)
	err := db.QueryRowContext(ctx, `
		SELECT id, owner_id, title, kind, active FROM listings WHERE id = ?`, id).
		Scan(&l.ID, &l.OwnerID, &l.Title, &kind, &l.Active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, transient("get listing", err)
	}
	l.Kind = convo.ListingKind(kind)
	return &l, nil
}

// GetTranslation returns the cached translation of a message into lang.
func (db *DB) GetTranslation(ctx context.Context, messageID, lang string) (string, bool, error) {
	var content string
	err := db.QueryRowContext(ctx, `
		SELECT content FROM message_translations WHERE message_id = ? AND language = ?`,
		messageID, lang).Scan(&content)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, transient("get translation", err)
	}
	return content, true, nil
}

// SaveTranslation stores a translation once; a second write for the same
// message and language keeps the first and reports false.
func (db *DB) SaveTranslation(ctx context.Context, messageID, lang, content string) (bool, error) {
	res, err := db.ExecContext(ctx, `
		INSERT INTO message_translations (message_id, language, content, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(message_id, language) DO NOTHING`,
		messageID, lang, content, time.Now().UnixMilli())
	if err != nil {
		return false, transient("save translation", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}
