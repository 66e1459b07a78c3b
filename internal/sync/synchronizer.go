package sync

import (
	"time"

	"github.com/bibswap/swapchat/internal/convo"
	"github.com/google/uuid"
)

// Synchronizer holds one viewer's visible sequence for one conversation. It is
// owned by a single goroutine and is not safe for concurrent use.
type Synchronizer struct {
	conversationID string
	viewerID       string
	merger         Merger
	seq            Sequence
	now            func() time.Time
	newTempID      func() string
}

// SyncOption configures a Synchronizer.
type SyncOption func(*Synchronizer)

// WithMatchWindow sets the echo match window.
func WithMatchWindow(d time.Duration) SyncOption {
	return func(s *Synchronizer) { s.merger.Window = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) SyncOption {
	return func(s *Synchronizer) { s.now = now }
}

// WithTempIDs overrides temp id generation.
func WithTempIDs(gen func() string) SyncOption {
	return func(s *Synchronizer) { s.newTempID = gen }
}

// NewSynchronizer creates an empty synchronizer.
func NewSynchronizer(conversationID, viewerID string, opts ...SyncOption) *Synchronizer {
	s := &Synchronizer{
		conversationID: conversationID,
		viewerID:       viewerID,
		now:            time.Now,
		newTempID:      func() string { return "tmp-" + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Seed merges a server snapshot.
func (s *Synchronizer) Seed(msgs []convo.Message) {
	s.Apply(Change{Op: OpSeed, Messages: msgs})
}

// AppendOptimistic validates content and appends a pending entry for it.
func (s *Synchronizer) AppendOptimistic(content string) (Entry, error) {
	m, err := convo.NewMessage(s.conversationID, s.viewerID, content, convo.TypeText, s.now())
	if err != nil {
		return Entry{}, err
	}
	m.TempID = s.newTempID()
	s.Apply(Change{Op: OpAppendOptimistic, Message: *m})
	e, _ := s.Lookup(m.TempID)
	return e, nil
}

// Retry returns a failed entry to pending and reports its content.
func (s *Synchronizer) Retry(tempID string) (Entry, bool) {
	e, ok := s.Lookup(tempID)
	if !ok || e.Status != StatusFailed {
		return Entry{}, false
	}
	s.Apply(Change{Op: OpRetry, TempID: tempID, Message: convo.Message{CreatedAt: s.now()}})
	e, _ = s.Lookup(tempID)
	return e, true
}

// Apply runs changes through the merger.
func (s *Synchronizer) Apply(changes ...Change) {
	s.seq = s.merger.Apply(s.seq, changes...)
}

// Lookup finds an entry by persisted id or temp id.
func (s *Synchronizer) Lookup(key string) (Entry, bool) {
	if key == "" {
		return Entry{}, false
	}
	for _, e := range s.seq {
		if e.Message.ID == key || e.Message.TempID == key {
			return e, true
		}
	}
	return Entry{}, false
}

// Entries returns a copy of the visible sequence.
func (s *Synchronizer) Entries() Sequence {
	out := make(Sequence, len(s.seq))
	copy(out, s.seq)
	return out
}

// UnseenInbound returns ids of inbound messages the viewer has not marked read.
func (s *Synchronizer) UnseenInbound() []string {
	return s.seq.UnseenInbound(s.viewerID)
}
