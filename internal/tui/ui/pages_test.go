package ui

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/bibswap/swapchat/internal/convo"
	"github.com/rivo/tview"
)

func newTestPages(names ...string) *Pages {
	p := NewPages()
	for _, n := range names {
		p.AddPage(n, tview.NewBox(), true, false)
	}
	return p
}

func TestPagesStack(t *testing.T) {
	p := newTestPages("inbox", "thread", "details")
	var last []string
	p.SetOnChange(func(stack []string) { last = stack })

	p.Reset("inbox")
	p.Push("thread")
	p.Push("thread")
	p.Push("details")
	if got := p.Stack(); !slices.Equal(got, []string{"inbox", "thread", "details"}) {
		t.Fatalf("stack = %v", got)
	}
	if !slices.Equal(last, p.Stack()) {
		t.Errorf("onChange saw %v", last)
	}

	p.Push("thread")
	if got := p.Stack(); !slices.Equal(got, []string{"inbox", "thread"}) {
		t.Fatalf("push of a stacked page = %v, want a return to it", got)
	}
	p.Push("details")

	if got := p.Pop(); got != "details" {
		t.Errorf("Pop = %q, want details", got)
	}
	if front, _ := p.GetFrontPage(); front != "thread" {
		t.Errorf("front page = %q, want thread", front)
	}

	p.Push("details")
	p.PopTo("inbox")
	if p.Current() != "inbox" || p.Depth() != 1 {
		t.Errorf("after PopTo stack = %v", p.Stack())
	}
	if got := p.Pop(); got != "" {
		t.Errorf("Pop of root = %q, want empty", got)
	}
	p.PopTo("missing")
	if p.Current() != "inbox" {
		t.Errorf("PopTo(missing) changed the stack to %v", p.Stack())
	}
}

func TestFlashErrShowsReason(t *testing.T) {
	f := NewFlashModel()
	f.Err(convo.NewError(convo.CodeBlocked, "sending is disabled while blocked", nil))
	msg := f.GetMessage()
	if msg == nil || msg.Text != "sending is disabled while blocked" || msg.Level != FlashWarn {
		t.Fatalf("flash = %+v, want a warning with the reason", msg)
	}

	f.Err(convo.NewError(convo.CodeNotFound, "conversation not found", nil))
	if msg := f.GetMessage(); msg.Level != FlashErr || msg.Code != convo.CodeNotFound {
		t.Errorf("flash = %+v, want NOT_FOUND error", msg)
	}

	f.Err(errors.New("dial failed"))
	for _, want := range []string{"sending is disabled while blocked", "conversation not found", "dial failed"} {
		if got := (<-f.Watch()).Text; got != want {
			t.Errorf("watched = %q, want %q", got, want)
		}
	}
	f.Err(nil)
	if got := f.GetMessage().Text; got != "dial failed" {
		t.Errorf("Err(nil) replaced the message with %q", got)
	}
}

func TestFlashExpires(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	f := NewFlashModel()
	f.now = func() time.Time { return now }

	if f.GetMessage() != nil {
		t.Fatal("new model has a message")
	}
	f.Info("Sorted by unread")
	now = now.Add(flashTTL[FlashInfo] - time.Millisecond)
	if f.GetMessage() == nil {
		t.Fatal("message expired early")
	}
	now = now.Add(2 * time.Millisecond)
	if f.GetMessage() != nil {
		t.Error("message outlived its ttl")
	}
}
