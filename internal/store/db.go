package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bibswap/swapchat/internal/convo"
	"github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database that backs conversations, messages,
// notifications and the translation cache.
type DB struct {
	*sql.DB
}

// Open creates a new SQLite connection with WAL mode and recommended pragmas.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{db}, nil
}

// IsBusy reports whether err is a SQLite lock contention error.
func IsBusy(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}

// transient wraps a failed store call. Callers see TRANSIENT_STORE and may retry.
func transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return convo.NewError(convo.CodeTransientStore, op, err)
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}

func nullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

// truncMillis drops sub-millisecond precision so values round-trip unchanged.
func truncMillis(t time.Time) time.Time {
	return fromMillis(t.UnixMilli())
}
