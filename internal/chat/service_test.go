package chat

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bibswap/swapchat/internal/bus"
	"github.com/bibswap/swapchat/internal/convo"
	"github.com/bibswap/swapchat/internal/store"
	intsync "github.com/bibswap/swapchat/internal/sync"
	"github.com/bibswap/swapchat/internal/translate"
)

type echoTranslator struct{ calls int }

func (e *echoTranslator) Translate(_ context.Context, text, target string) (string, error) {
	e.calls++
	return strings.ToUpper(target) + ": " + text, nil
}

type fixture struct {
	svc *Service
	db  *store.DB
	bus *bus.Bus
	tr  *echoTranslator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	b := bus.New()
	tr := &echoTranslator{}
	svc := NewService(db, b, intsync.NewReconciler(db, b, nil), translate.NewService(db, tr, nil), nil)

	// Each test gets a monotonically increasing clock so ordering is deterministic.
	clock := time.UnixMilli(1_700_000_000_000)
	svc.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	ctx := context.Background()
	if err := svc.PutListing(ctx, "owner", convo.Listing{ID: "bib-42", OwnerID: "owner", Title: "Berlin Marathon bib", Kind: convo.KindBib, Active: true}); err != nil {
		t.Fatal(err)
	}
	if err := svc.PutListing(ctx, "owner", convo.Listing{ID: "room-7", OwnerID: "owner", Title: "Hotel near start", Kind: convo.KindRoom}); err != nil {
		t.Fatal(err)
	}
	return &fixture{svc: svc, db: db, bus: b, tr: tr}
}

func (f *fixture) start(t *testing.T) *convo.Conversation {
	t.Helper()
	c, _, err := f.svc.StartConversation(context.Background(), "buyer", "bib-42", "Is this still available?")
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func (f *fixture) send(t *testing.T, convID, sender, content string) *SendResult {
	t.Helper()
	res, err := f.svc.Send(context.Background(), convID, sender, content)
	if err != nil {
		t.Fatalf("send %q as %s: %v", content, sender, err)
	}
	return res
}

func TestStartConversationCreatesNewAndReuses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, res, err := f.svc.StartConversation(ctx, "buyer", "bib-42", "Is this still available?")
	if err != nil {
		t.Fatal(err)
	}
	if c.Activated || c.ParticipantA != "buyer" || c.ParticipantB != "owner" {
		t.Errorf("conversation = %+v", c)
	}
	if res.Activated {
		t.Error("initiator's message must not activate")
	}

	again, _, err := f.svc.StartConversation(ctx, "buyer", "bib-42", "Hello?")
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != c.ID {
		t.Errorf("second start created %s, want reuse of %s", again.ID, c.ID)
	}

	snap, err := f.svc.Open(ctx, c.ID, "owner", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Messages) != 2 || snap.ViewerState != convo.New {
		t.Errorf("snapshot = %d messages, state %s", len(snap.Messages), snap.ViewerState)
	}
}

func TestStartConversationValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := []struct {
		name            string
		viewer, listing string
		content         string
		want            error
	}{
		{"own listing", "owner", "bib-42", "hi", convo.ErrValidation},
		{"inactive listing", "buyer", "room-7", "hi", convo.ErrValidation},
		{"missing listing", "buyer", "nope", "hi", convo.ErrNotFound},
		{"empty content", "buyer", "bib-42", "   ", convo.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := f.svc.StartConversation(ctx, tc.viewer, tc.listing, tc.content); !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestOwnerReplyActivatesOnce(t *testing.T) {
	f := newFixture(t)
	c := f.start(t)
	events, unsub := f.bus.SubscribeKey("conversation.activated", c.ID, 4)
	defer unsub()

	if f.send(t, c.ID, "buyer", "anyone there?").Activated {
		t.Error("buyer send activated")
	}
	if !f.send(t, c.ID, "owner", "Yes, still available").Activated {
		t.Error("first owner reply did not activate")
	}
	if f.send(t, c.ID, "owner", "Price is firm").Activated {
		t.Error("second owner reply reported activation again")
	}

	got, err := f.db.GetConversation(context.Background(), c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Activated {
		t.Error("store not activated")
	}
	if n := len(events); n != 1 {
		t.Errorf("published %d activation events, want 1", n)
	}
}

func TestSendFailureOrder(t *testing.T) {
	f := newFixture(t)
	c := f.start(t)
	ctx := context.Background()

	cases := []struct {
		name    string
		convID  string
		sender  string
		content string
		want    error
	}{
		{"missing conversation", "nope", "buyer", "hi", convo.ErrNotFound},
		{"not a participant", c.ID, "stranger", "", convo.ErrUnauthorized},
		{"empty content", c.ID, "buyer", " \n\t", convo.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.svc.Send(ctx, tc.convID, tc.sender, tc.content); !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestBlockGatesBothDirectionsAndKeepsActivation(t *testing.T) {
	f := newFixture(t)
	c := f.start(t)
	ctx := context.Background()
	f.send(t, c.ID, "owner", "Yes")

	if err := f.svc.Block(ctx, c.ID, "owner"); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.Block(ctx, c.ID, "owner"); err != nil {
		t.Fatalf("repeat block: %v", err)
	}

	for _, sender := range []string{"buyer", "owner"} {
		if _, err := f.svc.Send(ctx, c.ID, sender, "hello"); !errors.Is(err, convo.ErrBlocked) {
			t.Errorf("%s send err = %v, want blocked", sender, err)
		}
	}
	// Empty content is reported before the block.
	if _, err := f.svc.Send(ctx, c.ID, "buyer", ""); !errors.Is(err, convo.ErrValidation) {
		t.Errorf("empty send err = %v, want validation", err)
	}

	snap, err := f.svc.Open(ctx, c.ID, "buyer", "")
	if err != nil {
		t.Fatal(err)
	}
	if snap.BlockedByViewer || !snap.BlockedByOther {
		t.Errorf("buyer snapshot blocked flags = %v/%v", snap.BlockedByViewer, snap.BlockedByOther)
	}
	if !snap.Conversation.Activated {
		t.Error("block changed activation")
	}

	if err := f.svc.Unblock(ctx, c.ID, "owner"); err != nil {
		t.Fatal(err)
	}
	f.send(t, c.ID, "buyer", "thanks")
}

func TestBlockRequiresParticipant(t *testing.T) {
	f := newFixture(t)
	c := f.start(t)
	if err := f.svc.Block(context.Background(), c.ID, "stranger"); !errors.Is(err, convo.ErrUnauthorized) {
		t.Errorf("err = %v, want unauthorized", err)
	}
}

func TestOpenMarksInboundAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	c := f.start(t)
	ctx := context.Background()
	f.send(t, c.ID, "owner", "Yes, available")
	f.send(t, c.ID, "owner", "When do you need it?")

	snap, err := f.svc.Open(ctx, c.ID, "buyer", "")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Read.Marked != 2 || snap.Read.Cleared != 2 {
		t.Errorf("first open read = %+v, want 2 marked 2 cleared", snap.Read)
	}
	for _, m := range snap.Messages {
		if m.SenderID == "buyer" && m.IsRead() {
			t.Error("viewer's own message marked read")
		}
		if m.SenderID == "owner" && !m.IsRead() {
			t.Error("inbound message left unread")
		}
	}

	again, err := f.svc.Open(ctx, c.ID, "buyer", "")
	if err != nil {
		t.Fatal(err)
	}
	if again.Read != (convo.ReadResult{}) {
		t.Errorf("reopen read = %+v, want no writes", again.Read)
	}
}

func TestOpenAccessControl(t *testing.T) {
	f := newFixture(t)
	c := f.start(t)
	ctx := context.Background()
	if _, err := f.svc.Open(ctx, c.ID, "stranger", ""); !errors.Is(err, convo.ErrUnauthorized) {
		t.Errorf("err = %v, want unauthorized", err)
	}
	if _, err := f.svc.Open(ctx, "missing", "buyer", ""); !errors.Is(err, convo.ErrNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestMarkSeenCatchesMessagesSentAfterOpen(t *testing.T) {
	f := newFixture(t)
	c := f.start(t)
	ctx := context.Background()
	if _, err := f.svc.Open(ctx, c.ID, "buyer", ""); err != nil {
		t.Fatal(err)
	}
	f.send(t, c.ID, "owner", "Still there?")

	res, err := f.svc.MarkSeen(ctx, c.ID, "buyer")
	if err != nil {
		t.Fatal(err)
	}
	if res.Marked != 1 {
		t.Errorf("marked = %d, want 1", res.Marked)
	}
}

func TestSoftDeleteIsPerParticipant(t *testing.T) {
	f := newFixture(t)
	c := f.start(t)
	ctx := context.Background()

	inboxIDs := func(viewer string) []string {
		t.Helper()
		entries, err := f.svc.Inbox(ctx, viewer, 0)
		if err != nil {
			t.Fatal(err)
		}
		var ids []string
		for _, e := range entries {
			ids = append(ids, e.Conversation.ID)
		}
		return ids
	}

	if err := f.svc.Delete(ctx, c.ID, "buyer"); err != nil {
		t.Fatal(err)
	}
	if ids := inboxIDs("buyer"); len(ids) != 0 {
		t.Errorf("buyer inbox = %v, want empty", ids)
	}
	if ids := inboxIDs("owner"); len(ids) != 1 {
		t.Errorf("owner inbox = %v, want the conversation", ids)
	}

	// The other side's reply is stored but does not unhide it.
	f.send(t, c.ID, "owner", "Yes, available")
	if ids := inboxIDs("buyer"); len(ids) != 0 {
		t.Errorf("owner reply unhid buyer's conversation: %v", ids)
	}

	// Messaging into it again brings it back with the same identity.
	f.send(t, c.ID, "buyer", "Great, I'll take it")
	if ids := inboxIDs("buyer"); len(ids) != 1 || ids[0] != c.ID {
		t.Errorf("buyer inbox = %v, want [%s]", ids, c.ID)
	}
}

func TestInboxOrderAndUnread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.svc.PutListing(ctx, "owner", convo.Listing{ID: "room-8", OwnerID: "owner", Title: "Room B", Kind: convo.KindRoom, Active: true}); err != nil {
		t.Fatal(err)
	}
	first := f.start(t)
	second, _, err := f.svc.StartConversation(ctx, "buyer", "room-8", "Room free?")
	if err != nil {
		t.Fatal(err)
	}
	f.send(t, first.ID, "buyer", "bump")

	entries, err := f.svc.Inbox(ctx, "owner", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Conversation.ID != first.ID || entries[1].Conversation.ID != second.ID {
		t.Fatalf("inbox order wrong: %+v", entries)
	}
	if entries[0].Unread != 2 || entries[0].LastMessage != "bump" || entries[0].State != convo.New {
		t.Errorf("entry = %+v", entries[0])
	}
}

func TestRecordInterestNeverActivates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, err := f.svc.RecordInterest(ctx, "bib-42", "buyer")
	if err != nil {
		t.Fatal(err)
	}
	if m.Type != convo.TypeInterest {
		t.Errorf("type = %s", m.Type)
	}
	// The buyer's own block does not stop the notice.
	if err := f.svc.Block(ctx, m.ConversationID, "buyer"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.RecordInterest(ctx, "bib-42", "buyer"); err != nil {
		t.Fatalf("interest after own block: %v", err)
	}

	c, err := f.db.GetConversation(ctx, m.ConversationID)
	if err != nil {
		t.Fatal(err)
	}
	if c.Activated {
		t.Error("interest notice activated the conversation")
	}
	if _, err := f.svc.RecordInterest(ctx, "bib-42", "owner"); !errors.Is(err, convo.ErrValidation) {
		t.Errorf("owner interest err = %v, want validation", err)
	}
}

func TestRecordInterestRefusedWhileOwnerBlocks(t *testing.T) {
	f := newFixture(t)
	c := f.start(t)
	ctx := context.Background()

	if err := f.svc.Block(ctx, c.ID, "owner"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.RecordInterest(ctx, "bib-42", "buyer"); !errors.Is(err, convo.ErrBlocked) {
		t.Fatalf("err = %v, want blocked", err)
	}
	entries, err := f.svc.Inbox(ctx, "owner", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Unread != 1 || entries[0].LastMessage != "Is this still available?" {
		t.Errorf("owner inbox = %+v, want only the first message", entries)
	}

	if err := f.svc.Unblock(ctx, c.ID, "owner"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.RecordInterest(ctx, "bib-42", "buyer"); err != nil {
		t.Errorf("interest after unblock: %v", err)
	}
}

func TestStartConversationBlockedLeavesNoConversation(t *testing.T) {
	f := newFixture(t)
	c := f.start(t)
	ctx := context.Background()
	if err := f.svc.PutListing(ctx, "owner", convo.Listing{ID: "bib-99", OwnerID: "owner", Title: "Paris bib", Kind: convo.KindBib, Active: true}); err != nil {
		t.Fatal(err)
	}

	for _, blocker := range []string{"owner", "buyer"} {
		if err := f.svc.Block(ctx, c.ID, blocker); err != nil {
			t.Fatal(err)
		}
		if _, _, err := f.svc.StartConversation(ctx, "buyer", "bib-99", "Still for sale?"); !errors.Is(err, convo.ErrBlocked) {
			t.Fatalf("%s blocks: err = %v, want blocked", blocker, err)
		}
		if err := f.svc.Unblock(ctx, c.ID, blocker); err != nil {
			t.Fatal(err)
		}
	}

	got, err := f.db.FindConversation(ctx, "bib-99", "buyer", "owner")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("refused start created conversation %+v", got)
	}
	entries, err := f.svc.Inbox(ctx, "owner", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("owner inbox has %d entries, want 1", len(entries))
	}
}

func TestReport(t *testing.T) {
	f := newFixture(t)
	c := f.start(t)
	ctx := context.Background()

	if _, err := f.svc.Report(ctx, c.ID, "owner", "  "); !errors.Is(err, convo.ErrValidation) {
		t.Errorf("err = %v, want validation", err)
	}
	r, err := f.svc.Report(ctx, c.ID, "owner", "asking for payment off-platform")
	if err != nil {
		t.Fatal(err)
	}
	reports, err := f.db.ListReports(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(reports) != 1 || reports[0].ID != r.ID || reports[0].ReporterID != "owner" {
		t.Errorf("reports = %+v", reports)
	}
}

func TestTranslateIsCachedAndScoped(t *testing.T) {
	f := newFixture(t)
	c := f.start(t)
	ctx := context.Background()
	res := f.send(t, c.ID, "owner", "Sí, disponible")
	if err := f.db.SetDetectedLanguage(ctx, res.Message.ID, "es"); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		got, err := f.svc.Translate(ctx, res.Message.ID, "buyer", "en-US")
		if err != nil {
			t.Fatal(err)
		}
		if got != "EN: Sí, disponible" {
			t.Errorf("translation = %q", got)
		}
	}
	if f.tr.calls != 1 {
		t.Errorf("translator called %d times, want 1", f.tr.calls)
	}

	snap, err := f.svc.Open(ctx, c.ID, "buyer", "en-GB")
	if err != nil {
		t.Fatal(err)
	}
	last := snap.Messages[len(snap.Messages)-1]
	if last.TranslatedContent != "EN: Sí, disponible" || last.TranslatedTo != "en" {
		t.Errorf("snapshot message = %+v", last)
	}

	if _, err := f.svc.Translate(ctx, res.Message.ID, "stranger", "en"); !errors.Is(err, convo.ErrUnauthorized) {
		t.Errorf("err = %v, want unauthorized", err)
	}
	if _, err := f.svc.Translate(ctx, "missing", "buyer", "en"); !errors.Is(err, convo.ErrNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestPutListingOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := []struct {
		name   string
		viewer string
		l      convo.Listing
		want   error
	}{
		{"other owner", "buyer", convo.Listing{ID: "x", OwnerID: "owner"}, convo.ErrUnauthorized},
		{"takeover", "buyer", convo.Listing{ID: "bib-42", OwnerID: "buyer", Active: true}, convo.ErrUnauthorized},
		{"bad kind", "owner", convo.Listing{ID: "x", OwnerID: "owner", Kind: "car"}, convo.ErrValidation},
		{"missing id", "owner", convo.Listing{OwnerID: "owner"}, convo.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := f.svc.PutListing(ctx, tc.viewer, tc.l); !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
		})
	}

	// Deactivating stops new conversations.
	if err := f.svc.PutListing(ctx, "owner", convo.Listing{ID: "bib-42", OwnerID: "owner", Kind: convo.KindBib}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := f.svc.StartConversation(ctx, "buyer", "bib-42", "hi"); !errors.Is(err, convo.ErrValidation) {
		t.Errorf("start on inactive listing err = %v, want validation", err)
	}
}

func TestResolvePublicID(t *testing.T) {
	f := newFixture(t)
	c := f.start(t)
	got, err := f.svc.Resolve(context.Background(), c.PublicID, "owner")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != c.ID {
		t.Errorf("resolved %s, want %s", got.ID, c.ID)
	}
	if _, err := f.svc.Resolve(context.Background(), c.PublicID, "stranger"); !errors.Is(err, convo.ErrUnauthorized) {
		t.Errorf("err = %v, want unauthorized", err)
	}
}

func TestStoreFailureIsRetryable(t *testing.T) {
	f := newFixture(t)
	c := f.start(t)
	_ = f.db.Close()

	_, err := f.svc.Send(context.Background(), c.ID, "buyer", "hello")
	if !convo.Retryable(err) {
		t.Errorf("err = %v, want retryable", err)
	}
}
