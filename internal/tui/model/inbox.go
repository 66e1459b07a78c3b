package model

import (
	"context"
	"slices"
	"sync"

	"github.com/bibswap/swapchat/internal/api"
	"github.com/bibswap/swapchat/internal/chat"
)

// Source is the part of the daemon API the inbox reads.
type Source interface {
	Inbox(ctx context.Context, limit int) ([]chat.InboxEntry, error)
	Status(ctx context.Context) (*api.StatusResponse, error)
}

// InboxLimit is how many conversations the inbox loads.
const InboxLimit = 100

// Inbox caches the viewer's conversation list and the daemon status, and
// signals the UI when either changes.
type Inbox struct {
	mu sync.RWMutex

	source  Source
	entries []chat.InboxEntry
	status  *api.StatusResponse

	refreshCh chan struct{}
}

// NewInbox creates an inbox model reading from source.
func NewInbox(source Source) *Inbox {
	return &Inbox{
		source:    source,
		refreshCh: make(chan struct{}, 1),
	}
}

// RefreshCh returns the channel that signals UI refresh.
func (m *Inbox) RefreshCh() <-chan struct{} {
	return m.refreshCh
}

func (m *Inbox) signalRefresh() {
	select {
	case m.refreshCh <- struct{}{}:
	default:
	}
}

// LoadStatus fetches the daemon status. A failure clears it so the header
// shows the daemon as unreachable.
func (m *Inbox) LoadStatus(ctx context.Context) error {
	resp, err := m.source.Status(ctx)
	m.mu.Lock()
	m.status = resp
	m.mu.Unlock()
	m.signalRefresh()
	return err
}

// LoadEntries fetches the conversation list.
func (m *Inbox) LoadEntries(ctx context.Context) error {
	entries, err := m.source.Inbox(ctx, InboxLimit)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.entries = slices.Clone(entries)
	m.mu.Unlock()
	m.signalRefresh()
	return nil
}

// Entries returns a snapshot of the conversation list.
func (m *Inbox) Entries() []chat.InboxEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.entries)
}

// Entry returns the cached entry of a conversation.
func (m *Inbox) Entry(conversationID string) (chat.InboxEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.entries {
		if e.Conversation.ID == conversationID {
			return e, true
		}
	}
	return chat.InboxEntry{}, false
}

// Status returns the last daemon status, or nil if the daemon did not answer.
func (m *Inbox) Status() *api.StatusResponse {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Unread sums the unread counts of all conversations.
func (m *Inbox) Unread() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.entries {
		n += e.Unread
	}
	return n
}

// MarkRead zeroes the cached unread count of a conversation after the viewer
// has seen it, ahead of the next reload.
func (m *Inbox) MarkRead(conversationID string) {
	m.mu.Lock()
	for i := range m.entries {
		if m.entries[i].Conversation.ID == conversationID {
			m.entries[i].Unread = 0
		}
	}
	m.mu.Unlock()
	m.signalRefresh()
}

// Remove drops a conversation the viewer deleted.
func (m *Inbox) Remove(conversationID string) {
	m.mu.Lock()
	kept := m.entries[:0:0]
	for _, e := range m.entries {
		if e.Conversation.ID != conversationID {
			kept = append(kept, e)
		}
	}
	m.entries = kept
	m.mu.Unlock()
	m.signalRefresh()
}
