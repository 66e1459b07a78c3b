package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bibswap/swapchat/internal/bus"
	"github.com/bibswap/swapchat/internal/convo"
	"github.com/bibswap/swapchat/internal/outbox"
)

type fakePush struct {
	ch         chan PushEvent
	subscribed atomic.Bool
	unsubs     atomic.Int32
	err        error
}

func newFakePush() *fakePush { return &fakePush{ch: make(chan PushEvent, 64)} }

func (p *fakePush) Subscribe(context.Context, string) (<-chan PushEvent, func(), error) {
	if p.err != nil {
		return nil, nil, p.err
	}
	p.subscribed.Store(true)
	return p.ch, func() { p.unsubs.Add(1) }, nil
}

type fakeBackend struct {
	push *fakePush

	mu        gosync.Mutex
	snap      convo.Snapshot
	openErr   error
	onOpen    func()
	sendGate  chan struct{}
	sendErrs  []error
	sends     []string
	seenCalls int

	translateGate chan struct{}
	translated    atomic.Int32
}

func newFakeBackend(push *fakePush, msgs ...convo.Message) *fakeBackend {
	return &fakeBackend{
		push: push,
		snap: convo.Snapshot{
			Conversation: convo.Conversation{ID: "c1", ListingID: "l1", ParticipantA: "buyer", ParticipantB: "owner"},
			Messages:     msgs,
			ListingTitle: "Berlin Marathon bib",
			OwnerID:      "owner",
		},
	}
}

func (b *fakeBackend) Open(context.Context, string) (*convo.Snapshot, error) {
	if !b.push.subscribed.Load() {
		return nil, errors.New("opened before subscribing")
	}
	if b.onOpen != nil {
		b.onOpen()
	}
	if b.openErr != nil {
		return nil, b.openErr
	}
	s := b.snap
	return &s, nil
}

func (b *fakeBackend) SendMessage(ctx context.Context, conversationID, content string) (convo.Message, error) {
	b.mu.Lock()
	b.sends = append(b.sends, content)
	n := len(b.sends)
	var err error
	if len(b.sendErrs) > 0 {
		err, b.sendErrs = b.sendErrs[0], b.sendErrs[1:]
	}
	gate := b.sendGate
	b.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return convo.Message{}, ctx.Err()
		}
	}
	if err != nil {
		return convo.Message{}, err
	}
	return sentMessage(fmt.Sprintf("srv-%d", n), content), nil
}

func sentMessage(id, content string) convo.Message {
	return convo.Message{ID: id, ConversationID: "c1", SenderID: "buyer", Content: content, Type: convo.TypeText, CreatedAt: time.Now()}
}

func (b *fakeBackend) MarkSeen(context.Context, string) (convo.ReadResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seenCalls++
	return convo.ReadResult{Marked: 1}, nil
}

func (b *fakeBackend) Translate(ctx context.Context, messageID, target string) (string, error) {
	if b.translateGate != nil {
		<-b.translateGate
	}
	b.translated.Add(1)
	return "[" + target + "] " + messageID, nil
}

func (b *fakeBackend) sendCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sends)
}

// recorder collects rendered views.
type recorder struct {
	mu    gosync.Mutex
	views []View
}

func (r *recorder) onChange(v View) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.views = append(r.views, v)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.views)
}

func (r *recorder) waitFor(t *testing.T, desc string, pred func(View) bool) View {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		if n := len(r.views); n > 0 && pred(r.views[n-1]) {
			v := r.views[n-1]
			r.mu.Unlock()
			return v
		}
		r.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for view: %s", desc)
	return View{}
}

func openEngine(t *testing.T, b *fakeBackend, lang string) (*Engine, *recorder) {
	t.Helper()
	rec := &recorder{}
	e, err := Open(context.Background(), b, b.push, Config{
		ConversationID: "c1",
		ViewerID:       "buyer",
		Language:       lang,
		OnChange:       rec.onChange,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(e.Close)
	return e, rec
}

func entryCount(n int) func(View) bool {
	return func(v View) bool { return len(v.Entries) == n }
}

func TestOpenSubscribesBeforeLoading(t *testing.T) {
	push := newFakePush()
	b := newFakeBackend(push, msg("m1", "owner", "hi", 1))
	// A message inserted while the snapshot is loading arrives on the channel.
	b.onOpen = func() { push.ch <- PushEvent{Kind: bus.KindMessageInserted, Message: msg("m2", "owner", "there?", 2)} }

	_, rec := openEngine(t, b, "")
	v := rec.waitFor(t, "seed plus buffered push", entryCount(2))
	if v.ListingTitle != "Berlin Marathon bib" || v.OtherID != "owner" || v.State != convo.New {
		t.Errorf("view = %+v", v)
	}
}

func TestOpenFailureUnsubscribes(t *testing.T) {
	push := newFakePush()
	b := newFakeBackend(push)
	b.openErr = convo.NewError(convo.CodeUnauthorized, "not a participant", nil)

	_, err := Open(context.Background(), b, push, Config{ConversationID: "c1", ViewerID: "buyer"})
	if !errors.Is(err, convo.ErrUnauthorized) {
		t.Fatalf("err = %v, want unauthorized", err)
	}
	if push.unsubs.Load() != 1 {
		t.Errorf("unsubscribed %d times, want 1", push.unsubs.Load())
	}
}

func TestCloseUnsubscribes(t *testing.T) {
	push := newFakePush()
	e, _ := openEngine(t, newFakeBackend(push), "")
	e.Close()
	if push.unsubs.Load() != 1 {
		t.Errorf("unsubscribed %d times, want 1", push.unsubs.Load())
	}
	if err := e.Send("late"); !errors.Is(err, ErrClosed) {
		t.Errorf("send after close err = %v, want ErrClosed", err)
	}
}

func TestSendEchoBeforeResponse(t *testing.T) {
	push := newFakePush()
	b := newFakeBackend(push)
	b.sendGate = make(chan struct{})
	e, rec := openEngine(t, b, "")

	if err := e.Send("Is the bib still available?"); err != nil {
		t.Fatal(err)
	}
	v := rec.waitFor(t, "pending entry", entryCount(1))
	if v.Entries[0].Status != StatusPending || v.CanSend() {
		t.Fatalf("entry = %+v, can send = %v", v.Entries[0], v.CanSend())
	}

	push.ch <- PushEvent{Kind: bus.KindMessageInserted, Message: sentMessage("srv-1", "Is the bib still available?")}
	rec.waitFor(t, "echo confirmed", func(v View) bool {
		return len(v.Entries) == 1 && v.Entries[0].Status == StatusConfirmed
	})

	close(b.sendGate)
	v = rec.waitFor(t, "send finished", func(v View) bool { return v.Sending == "" })
	if len(v.Entries) != 1 || v.Entries[0].Message.ID != "srv-1" {
		t.Fatalf("entries = %+v, want exactly one srv-1", v.Entries)
	}
}

func TestSendResponseBeforeEcho(t *testing.T) {
	push := newFakePush()
	b := newFakeBackend(push)
	e, rec := openEngine(t, b, "")

	if err := e.Send("hello"); err != nil {
		t.Fatal(err)
	}
	rec.waitFor(t, "confirmed", func(v View) bool {
		return len(v.Entries) == 1 && v.Entries[0].Status == StatusConfirmed && v.Sending == ""
	})
	push.ch <- PushEvent{Kind: bus.KindMessageInserted, Message: sentMessage("srv-1", "hello")}
	push.ch <- PushEvent{Kind: bus.KindMessageInserted, Message: sentMessage("srv-1", "hello")}
	for len(push.ch) > 0 {
		time.Sleep(time.Millisecond)
	}
	if v, err := e.View(); err != nil || len(v.Entries) != 1 {
		t.Fatalf("after redelivered echo: %d entries, err %v", len(v.Entries), err)
	}

	if err := e.Send("second"); err != nil {
		t.Fatal(err)
	}
	v := rec.waitFor(t, "second confirmed", func(v View) bool {
		return len(v.Entries) == 2 && v.Entries[1].Status == StatusConfirmed
	})
	if v.Entries[0].Message.ID != "srv-1" {
		t.Errorf("entries = %+v", v.Entries)
	}
}

func TestResubmissionRefusedWhileInFlight(t *testing.T) {
	push := newFakePush()
	b := newFakeBackend(push)
	b.sendGate = make(chan struct{})
	e, rec := openEngine(t, b, "")

	if err := e.Send("hello"); err != nil {
		t.Fatal(err)
	}
	if err := e.Send("hello"); !errors.Is(err, outbox.ErrInFlight) {
		t.Fatalf("err = %v, want ErrInFlight", err)
	}
	close(b.sendGate)
	v := rec.waitFor(t, "send finished", func(v View) bool { return v.Sending == "" && len(v.Entries) == 1 })
	if v.Entries[0].Status != StatusConfirmed {
		t.Errorf("status = %s", v.Entries[0].Status)
	}
	if n := b.sendCount(); n != 1 {
		t.Errorf("backend saw %d sends, want 1", n)
	}
}

func TestFailedSendRetryAndDiscard(t *testing.T) {
	push := newFakePush()
	b := newFakeBackend(push)
	storeErr := convo.NewError(convo.CodeTransientStore, "insert message", errors.New("database is locked"))
	b.sendErrs = []error{storeErr, storeErr}
	e, rec := openEngine(t, b, "")

	if err := e.Send("Hello"); err != nil {
		t.Fatal(err)
	}
	v := rec.waitFor(t, "failed", func(v View) bool { return len(v.Entries) == 1 && v.Entries[0].Status == StatusFailed })
	if v.Fatal != nil || !errors.Is(v.Err, convo.ErrTransientStore) {
		t.Errorf("view err = %v fatal = %v", v.Err, v.Fatal)
	}
	tempID := v.Entries[0].Message.TempID

	if err := e.Retry(tempID); err != nil {
		t.Fatal(err)
	}
	rec.waitFor(t, "failed again", func(v View) bool {
		return v.Sending == "" && len(v.Entries) == 1 && v.Entries[0].Status == StatusFailed
	})

	if err := e.Retry(tempID); err != nil {
		t.Fatal(err)
	}
	v = rec.waitFor(t, "confirmed after retry", func(v View) bool {
		return len(v.Entries) == 1 && v.Entries[0].Status == StatusConfirmed
	})
	if v.Err != nil {
		t.Errorf("err not cleared: %v", v.Err)
	}

	// A second failure can be discarded.
	b.mu.Lock()
	b.sendErrs = []error{storeErr}
	b.mu.Unlock()
	if err := e.Send("second"); err != nil {
		t.Fatal(err)
	}
	v = rec.waitFor(t, "second failed", func(v View) bool { return len(v.Entries) == 2 && v.Entries[1].Status == StatusFailed })
	if err := e.Discard(v.Entries[1].Message.TempID); err != nil {
		t.Fatal(err)
	}
	rec.waitFor(t, "discarded", entryCount(1))
}

func TestSendWhileBlocked(t *testing.T) {
	push := newFakePush()
	b := newFakeBackend(push)
	b.snap.BlockedByViewer = true
	e, rec := openEngine(t, b, "")

	if err := e.Send("hi"); !errors.Is(err, convo.ErrBlocked) {
		t.Fatalf("err = %v, want blocked", err)
	}
	if b.sendCount() != 0 {
		t.Error("blocked send reached the backend")
	}

	push.ch <- PushEvent{Kind: bus.KindConversationUnblocked, ActorID: "buyer"}
	rec.waitFor(t, "unblocked", func(v View) bool { return v.CanSend() })
	if err := e.Send("hi"); err != nil {
		t.Fatal(err)
	}
}

func TestBlockedByOtherSurfacesOnFailure(t *testing.T) {
	push := newFakePush()
	b := newFakeBackend(push)
	b.sendErrs = []error{convo.NewError(convo.CodeBlocked, "conversation is blocked", nil)}
	e, rec := openEngine(t, b, "")

	if err := e.Send("hi"); err != nil {
		t.Fatal(err)
	}
	v := rec.waitFor(t, "failed", func(v View) bool { return len(v.Entries) == 1 && v.Entries[0].Status == StatusFailed })
	if !v.BlockedByOther || v.CanSend() {
		t.Errorf("view = %+v, want blocked by other", v)
	}
}

func TestPushedMessagesNotMarkedReadUntilSeen(t *testing.T) {
	push := newFakePush()
	b := newFakeBackend(push)
	e, rec := openEngine(t, b, "")

	push.ch <- PushEvent{Kind: bus.KindMessageInserted, Message: msg("m1", "owner", "Room still free?", 1)}
	v := rec.waitFor(t, "inbound", entryCount(1))
	if v.Unseen != 1 {
		t.Errorf("unseen = %d, want 1", v.Unseen)
	}
	b.mu.Lock()
	calls := b.seenCalls
	b.mu.Unlock()
	if calls != 0 {
		t.Fatal("pushed message marked read without MarkSeen")
	}

	res, err := e.MarkSeen(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Marked != 1 {
		t.Errorf("marked = %d", res.Marked)
	}
	rec.waitFor(t, "seen", func(v View) bool { return v.Unseen == 0 })

	// Nothing left to mark: no server call.
	if _, err := e.MarkSeen(context.Background()); err != nil {
		t.Fatal(err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.seenCalls != 1 {
		t.Errorf("MarkSeen reached the server %d times, want 1", b.seenCalls)
	}
}

func TestReadReceiptAndActivationEvents(t *testing.T) {
	push := newFakePush()
	b := newFakeBackend(push, sentMessage("m1", "hi"))
	_, rec := openEngine(t, b, "")

	push.ch <- PushEvent{Kind: bus.KindConversationActivated}
	push.ch <- PushEvent{Kind: bus.KindMessageRead, Receipt: &convo.ReadReceipt{
		ConversationID: "c1", ReaderID: "owner", MessageIDs: []string{"m1"}, ReadAt: time.Now(),
	}}
	rec.waitFor(t, "read and active", func(v View) bool {
		return v.State == convo.Active && len(v.Entries) == 1 && v.Entries[0].Message.IsRead()
	})
}

func TestTranslationOverlay(t *testing.T) {
	push := newFakePush()
	in := msg("m1", "owner", "Hola", 1)
	in.DetectedLanguage = "es"
	b := newFakeBackend(push, in)
	e, rec := openEngine(t, b, "en")

	v := rec.waitFor(t, "translated", func(v View) bool { return len(v.Entries) == 1 && v.Entries[0].Display.Translated })
	if v.Entries[0].Display.Text != "[en] m1" || !v.Entries[0].Indicator {
		t.Errorf("entry = %+v", v.Entries[0])
	}

	if err := e.ToggleOriginal("m1"); err != nil {
		t.Fatal(err)
	}
	rec.waitFor(t, "original", func(v View) bool { return v.Entries[0].Display.Text == "Hola" })

	// Detected language arriving later triggers a translation of a pushed message.
	push.ch <- PushEvent{Kind: bus.KindMessageInserted, Message: msg("m2", "owner", "Gracias", 2)}
	push.ch <- PushEvent{Kind: bus.KindMessageUpdated, Message: convo.Message{ID: "m2", DetectedLanguage: "es"}}
	rec.waitFor(t, "second translated", func(v View) bool {
		return len(v.Entries) == 2 && v.Entries[1].Display.Translated
	})
	if got := b.translated.Load(); got != 2 {
		t.Errorf("translated %d times, want 2", got)
	}
}

func TestTranslationAfterCloseIsDropped(t *testing.T) {
	push := newFakePush()
	in := msg("m1", "owner", "Hola", 1)
	in.DetectedLanguage = "es"
	b := newFakeBackend(push, in)
	b.translateGate = make(chan struct{})
	e, rec := openEngine(t, b, "en")

	rec.waitFor(t, "loading", func(v View) bool { return len(v.Entries) == 1 && v.Entries[0].Display.IsLoading })
	e.Close()
	renders := rec.count()

	close(b.translateGate)
	deadline := time.Now().Add(time.Second)
	for b.translated.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	if rec.count() != renders {
		t.Error("view changed after Close")
	}
}
