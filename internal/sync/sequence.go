package sync

import (
	"slices"
	"time"

	"github.com/bibswap/swapchat/internal/convo"
)

// DefaultMatchWindow bounds the clock difference between an optimistic entry
// and its echoed copy.
const DefaultMatchWindow = 2 * time.Minute

// EntryStatus is the confirmation state of a visible entry.
type EntryStatus string

const (
	StatusConfirmed EntryStatus = "confirmed"
	StatusPending   EntryStatus = "pending"
	StatusFailed    EntryStatus = "failed"
)

// Entry is one visible message. At is the ordering key fixed when the entry
// was placed; it does not change when an optimistic entry is confirmed.
type Entry struct {
	Message convo.Message
	Status  EntryStatus
	At      time.Time
	ErrCode convo.ErrorCode
	ErrText string
}

// Key returns the entry identity.
func (e Entry) Key() string {
	return e.Message.Key()
}

// Sequence is the ordered list of visible entries.
type Sequence []Entry

// Op selects what a Change does.
type Op int

const (
	OpSeed Op = iota
	OpAppendOptimistic
	OpPush
	OpConfirm
	OpFail
	OpRetry
	OpDiscard
	OpUpdate
)

// Change is one input to the reconciliation function.
//
//	OpSeed             Messages from a server snapshot
//	OpAppendOptimistic Message with TempID set, appended at the tail
//	OpPush             Message delivered by the push channel
//	OpConfirm          send response Message for TempID
//	OpFail             send failure Err for TempID
//	OpRetry            failed TempID re-appended as pending; Message.CreatedAt is the retry time
//	OpDiscard          remove failed TempID
//	OpUpdate           merge mutable fields of a known Message
type Change struct {
	Op       Op
	TempID   string
	Message  convo.Message
	Messages []convo.Message
	Err      error
}

// Merger reconciles sequences. The zero value uses DefaultMatchWindow.
type Merger struct {
	Window time.Duration
}

// Apply is Merger{}.Apply.
func Apply(seq Sequence, changes ...Change) Sequence {
	return Merger{}.Apply(seq, changes...)
}

// Apply returns the sequence obtained by applying changes in order. seq is not
// modified. Entries already placed are never reordered; a batch of many pushes
// gives the same result as applying them one at a time.
func (m Merger) Apply(seq Sequence, changes ...Change) Sequence {
	out := slices.Clone(seq)
	for _, ch := range changes {
		switch ch.Op {
		case OpSeed:
			for _, msg := range ch.Messages {
				out = m.push(out, msg)
			}
		case OpAppendOptimistic:
			out = appendOptimistic(out, ch.Message)
		case OpPush:
			out = m.push(out, ch.Message)
		case OpConfirm:
			out = m.confirm(out, ch.TempID, ch.Message)
		case OpFail:
			out = fail(out, ch.TempID, ch.Err)
		case OpRetry:
			out = retry(out, ch.TempID, ch.Message.CreatedAt)
		case OpDiscard:
			out = discard(out, ch.TempID)
		case OpUpdate:
			if i := indexOfID(out, ch.Message.ID); i >= 0 {
				out[i].Message = mergeFields(out[i].Message, ch.Message)
			}
		}
	}
	return out
}

func (m Merger) window() time.Duration {
	if m.Window > 0 {
		return m.Window
	}
	return DefaultMatchWindow
}

func appendOptimistic(seq Sequence, msg convo.Message) Sequence {
	if msg.TempID == "" || indexOfTemp(seq, msg.TempID) >= 0 {
		return seq
	}
	msg.ID = ""
	at := msg.CreatedAt
	if n := len(seq); n > 0 && seq[n-1].At.After(at) {
		at = seq[n-1].At
	}
	return append(seq, Entry{Message: msg, Status: StatusPending, At: at})
}

func (m Merger) push(seq Sequence, msg convo.Message) Sequence {
	if msg.ID == "" {
		return seq
	}
	if i := indexOfID(seq, msg.ID); i >= 0 {
		seq[i].Message = mergeFields(seq[i].Message, msg)
		return seq
	}
	if i := m.matchOptimistic(seq, msg); i >= 0 {
		seq[i] = confirmed(seq[i], msg)
		return seq
	}
	return insertOrdered(seq, Entry{Message: msg, Status: StatusConfirmed, At: msg.CreatedAt})
}

func (m Merger) confirm(seq Sequence, tempID string, msg convo.Message) Sequence {
	i := indexOfTemp(seq, tempID)
	if i < 0 {
		return m.push(seq, msg)
	}
	if seq[i].Message.ID == msg.ID {
		seq[i].Message = mergeFields(seq[i].Message, msg)
		return seq
	}
	if j := indexOfID(seq, msg.ID); j >= 0 {
		// The echo was placed separately; drop the optimistic copy.
		seq[j].Message = mergeFields(seq[j].Message, msg)
		return slices.Delete(seq, i, i+1)
	}
	seq[i] = confirmed(seq[i], msg)
	return seq
}

func fail(seq Sequence, tempID string, err error) Sequence {
	i := indexOfTemp(seq, tempID)
	if i < 0 || seq[i].Status == StatusConfirmed {
		return seq
	}
	seq[i].Status = StatusFailed
	seq[i].ErrCode = convo.CodeOf(err)
	if err != nil {
		seq[i].ErrText = err.Error()
	}
	return seq
}

// retry turns a failed entry into a new send: it leaves its old slot and is
// appended at the tail with the retry time, so confirmation keeps the order.
func retry(seq Sequence, tempID string, at time.Time) Sequence {
	i := indexOfTemp(seq, tempID)
	if i < 0 || seq[i].Status != StatusFailed {
		return seq
	}
	e := seq[i]
	e.ErrCode = ""
	e.ErrText = ""
	if !at.IsZero() {
		e.Message.CreatedAt = at
	}
	seq = slices.Delete(seq, i, i+1)
	return appendOptimistic(seq, e.Message)
}

func discard(seq Sequence, tempID string) Sequence {
	i := indexOfTemp(seq, tempID)
	if i < 0 || seq[i].Status != StatusFailed {
		return seq
	}
	return slices.Delete(seq, i, i+1)
}

// matchOptimistic finds the unconfirmed entry that msg echoes: same sender,
// same normalized content, created within the match window. Pending entries
// win over failed ones and the closest creation time wins among them. A failed
// entry is only claimed when msg fits its slot in creation order.
func (m Merger) matchOptimistic(seq Sequence, msg convo.Message) int {
	content := convo.NormalizeContent(msg.Content)
	best, bestFailed := -1, -1
	var bestD, bestFailedD time.Duration
	for i, e := range seq {
		if e.Status == StatusConfirmed || e.Message.ID != "" {
			continue
		}
		if e.Message.SenderID != msg.SenderID || convo.NormalizeContent(e.Message.Content) != content {
			continue
		}
		d := msg.CreatedAt.Sub(e.Message.CreatedAt)
		if d < 0 {
			d = -d
		}
		if d > m.window() {
			continue
		}
		switch e.Status {
		case StatusPending:
			if best < 0 || d < bestD {
				best, bestD = i, d
			}
		case StatusFailed:
			if fitsSlot(seq, i, msg.CreatedAt) && (bestFailed < 0 || d < bestFailedD) {
				bestFailed, bestFailedD = i, d
			}
		}
	}
	if best >= 0 {
		return best
	}
	return bestFailed
}

// fitsSlot reports whether a message created at t can take position i
// without breaking creation order with its neighbours.
func fitsSlot(seq Sequence, i int, t time.Time) bool {
	if i > 0 && seq[i-1].Message.CreatedAt.After(t) {
		return false
	}
	if i+1 < len(seq) && seq[i+1].Message.CreatedAt.Before(t) {
		return false
	}
	return true
}

func confirmed(e Entry, msg convo.Message) Entry {
	msg.TempID = e.Message.TempID
	return Entry{Message: msg, Status: StatusConfirmed, At: e.At}
}

// insertOrdered places e after the last entry whose At is not after e.At, so
// ties go after existing entries.
func insertOrdered(seq Sequence, e Entry) Sequence {
	i := len(seq)
	for i > 0 && seq[i-1].At.After(e.At) {
		i--
	}
	return slices.Insert(seq, i, e)
}

// mergeFields copies the fields that change after insertion.
func mergeFields(dst, src convo.Message) convo.Message {
	if src.ReadAt != nil {
		dst.ReadAt = src.ReadAt
	}
	if src.DetectedLanguage != "" {
		dst.DetectedLanguage = src.DetectedLanguage
	}
	if src.TranslatedContent != "" {
		dst.TranslatedContent = src.TranslatedContent
		dst.TranslatedTo = src.TranslatedTo
	}
	return dst
}

func indexOfID(seq Sequence, id string) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(seq, func(e Entry) bool { return e.Message.ID == id })
}

func indexOfTemp(seq Sequence, tempID string) int {
	if tempID == "" {
		return -1
	}
	return slices.IndexFunc(seq, func(e Entry) bool { return e.Message.TempID == tempID })
}

// Messages returns the entries' messages in order.
func (s Sequence) Messages() []convo.Message {
	out := make([]convo.Message, len(s))
	for i, e := range s {
		out[i] = e.Message
	}
	return out
}

// UnseenInbound returns ids of confirmed unread messages not sent by viewerID.
func (s Sequence) UnseenInbound(viewerID string) []string {
	var ids []string
	for _, e := range s {
		if e.Status == StatusConfirmed && e.Message.SenderID != viewerID && !e.Message.IsRead() {
			ids = append(ids, e.Message.ID)
		}
	}
	return ids
}
