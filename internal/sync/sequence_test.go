package sync

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/bibswap/swapchat/internal/convo"
)

var t0 = time.UnixMilli(1_700_000_000_000)

func at(sec int) time.Time { return t0.Add(time.Duration(sec) * time.Second) }

func msg(id, sender, content string, sec int) convo.Message {
	return convo.Message{ID: id, ConversationID: "c1", SenderID: sender, Content: content, Type: convo.TypeText, CreatedAt: at(sec)}
}

func optimistic(tempID, sender, content string, sec int) convo.Message {
	return convo.Message{TempID: tempID, ConversationID: "c1", SenderID: sender, Content: content, Type: convo.TypeText, CreatedAt: at(sec)}
}

func contents(seq Sequence) []string {
	out := make([]string, len(seq))
	for i, e := range seq {
		out[i] = e.Message.Content
	}
	return out
}

func assertContents(t *testing.T, seq Sequence, want ...string) {
	t.Helper()
	got := contents(seq)
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("sequence = %q, want %q", got, want)
	}
}

func TestSeedOrdersByCreatedAt(t *testing.T) {
	seq := Apply(nil, Change{Op: OpSeed, Messages: []convo.Message{
		msg("m1", "owner", "a", 1),
		msg("m3", "owner", "c", 3),
		msg("m2", "buyer", "b", 2),
	}})
	assertContents(t, seq, "a", "b", "c")
}

func TestEchoReplacesOptimisticInPlace(t *testing.T) {
	seq := Apply(nil,
		Change{Op: OpSeed, Messages: []convo.Message{msg("m1", "owner", "hi", 1)}},
		Change{Op: OpAppendOptimistic, Message: optimistic("t1", "buyer", "Is this still available?", 10)},
	)
	seq = Apply(seq, Change{Op: OpPush, Message: msg("m2", "buyer", "Is this still available?", 11)})

	assertContents(t, seq, "hi", "Is this still available?")
	e := seq[1]
	if e.Status != StatusConfirmed || e.Message.ID != "m2" || e.Message.TempID != "t1" {
		t.Errorf("entry = %+v, want confirmed m2 keeping temp id", e)
	}
	if !e.At.Equal(at(10)) {
		t.Errorf("At = %v, want placement time kept", e.At)
	}
}

func TestEchoMatchIgnoresWhitespace(t *testing.T) {
	seq := Apply(nil, Change{Op: OpAppendOptimistic, Message: optimistic("t1", "buyer", "see you  at the\nexpo", 0)})
	seq = Apply(seq, Change{Op: OpPush, Message: msg("m1", "buyer", "see you at the expo", 1)})
	if len(seq) != 1 {
		t.Fatalf("got %d entries, want 1", len(seq))
	}
}

func TestPushOutsideWindowDoesNotMatch(t *testing.T) {
	seq := Apply(nil, Change{Op: OpAppendOptimistic, Message: optimistic("t1", "buyer", "ok", 0)})
	seq = Apply(seq, Change{Op: OpPush, Message: msg("m-old", "buyer", "ok", -600)})
	if len(seq) != 2 {
		t.Fatalf("got %d entries, want 2 (old identical message is a different message)", len(seq))
	}
	if seq[1].Status != StatusPending {
		t.Error("optimistic entry should still be pending")
	}
}

func TestOtherSenderNeverMatches(t *testing.T) {
	seq := Apply(nil, Change{Op: OpAppendOptimistic, Message: optimistic("t1", "buyer", "ok", 0)})
	seq = Apply(seq, Change{Op: OpPush, Message: msg("m1", "owner", "ok", 0)})
	if len(seq) != 2 {
		t.Fatalf("got %d entries, want 2", len(seq))
	}
}

// Property: one visible entry per send, whichever of echo and send response arrives first.
func TestNoDuplicateEcho(t *testing.T) {
	sent := msg("m2", "buyer", "hello", 5)
	orders := map[string][]Change{
		"echo then confirm": {
			{Op: OpPush, Message: sent},
			{Op: OpConfirm, TempID: "t1", Message: sent},
		},
		"confirm then echo": {
			{Op: OpConfirm, TempID: "t1", Message: sent},
			{Op: OpPush, Message: sent},
		},
		"echo redelivered": {
			{Op: OpPush, Message: sent},
			{Op: OpPush, Message: sent},
			{Op: OpConfirm, TempID: "t1", Message: sent},
			{Op: OpPush, Message: sent},
		},
	}
	for name, changes := range orders {
		t.Run(name, func(t *testing.T) {
			seq := Apply(nil, Change{Op: OpAppendOptimistic, Message: optimistic("t1", "buyer", "hello", 4)})
			seq = Apply(seq, changes...)
			if len(seq) != 1 {
				t.Fatalf("got %d entries, want exactly 1: %+v", len(seq), seq)
			}
			if seq[0].Status != StatusConfirmed || seq[0].Message.ID != "m2" {
				t.Errorf("entry = %+v", seq[0])
			}
		})
	}
}

func TestConfirmDropsOptimisticWhenEchoPlacedSeparately(t *testing.T) {
	// An echo outside the window is placed as its own entry; the send response
	// then identifies it and the optimistic copy goes away.
	seq := Apply(nil, Change{Op: OpAppendOptimistic, Message: optimistic("t1", "buyer", "hello", 0)})
	late := msg("m9", "buyer", "hello", 400)
	seq = Apply(seq, Change{Op: OpPush, Message: late})
	if len(seq) != 2 {
		t.Fatalf("setup: got %d entries", len(seq))
	}
	seq = Apply(seq, Change{Op: OpConfirm, TempID: "t1", Message: late})
	if len(seq) != 1 || seq[0].Message.ID != "m9" {
		t.Fatalf("sequence = %+v, want only m9", seq)
	}
}

func TestFailedSendIsFlaggedNotConfirmed(t *testing.T) {
	seq := Apply(nil, Change{Op: OpAppendOptimistic, Message: optimistic("t1", "buyer", "Hello", 0)})
	sendErr := convo.NewError(convo.CodeTransientStore, "insert message", errors.New("disk I/O error"))
	seq = Apply(seq, Change{Op: OpFail, TempID: "t1", Err: sendErr})

	if seq[0].Status != StatusFailed {
		t.Fatalf("status = %s, want failed", seq[0].Status)
	}
	if seq[0].ErrCode != convo.CodeTransientStore {
		t.Errorf("err code = %s", seq[0].ErrCode)
	}

	retried := Apply(seq, Change{Op: OpRetry, TempID: "t1", Message: convo.Message{CreatedAt: at(30)}})
	if retried[0].Status != StatusPending || retried[0].ErrCode != "" {
		t.Errorf("after retry = %+v, want pending", retried[0])
	}
	if !retried[0].Message.CreatedAt.Equal(at(30)) || !retried[0].At.Equal(at(30)) {
		t.Errorf("retry kept the old timestamps: %+v", retried[0])
	}

	discarded := Apply(seq, Change{Op: OpDiscard, TempID: "t1"})
	if len(discarded) != 0 {
		t.Errorf("discard left %d entries", len(discarded))
	}
}

func TestRetryReappendsAtTail(t *testing.T) {
	seq := Apply(nil,
		Change{Op: OpAppendOptimistic, Message: optimistic("t1", "buyer", "hello", 0)},
		Change{Op: OpFail, TempID: "t1", Err: errors.New("timeout")},
		Change{Op: OpPush, Message: msg("m1", "owner", "are you there?", 10)},
		Change{Op: OpRetry, TempID: "t1", Message: convo.Message{CreatedAt: at(20)}},
		Change{Op: OpPush, Message: msg("m2", "buyer", "hello", 21)},
	)
	assertContents(t, seq, "are you there?", "hello")
	if seq[1].Status != StatusConfirmed || seq[1].Message.TempID != "t1" {
		t.Errorf("retried entry = %+v, want confirmed t1", seq[1])
	}
	assertCreatedAtMonotonic(t, seq)
}

func TestEchoPrefersPendingOverStaleFailed(t *testing.T) {
	seq := Apply(nil,
		Change{Op: OpAppendOptimistic, Message: optimistic("t1", "buyer", "hi", 0)},
		Change{Op: OpFail, TempID: "t1", Err: errors.New("timeout")},
		Change{Op: OpPush, Message: msg("mo", "owner", "mo", 10)},
		Change{Op: OpAppendOptimistic, Message: optimistic("t2", "buyer", "hi", 20)},
	)
	echo := msg("m2", "buyer", "hi", 20)
	seq = Apply(seq,
		Change{Op: OpPush, Message: echo},
		Change{Op: OpConfirm, TempID: "t2", Message: echo},
	)

	assertContents(t, seq, "hi", "mo", "hi")
	if seq[0].Status != StatusFailed || seq[0].Message.TempID != "t1" {
		t.Errorf("stale entry = %+v, want still failed", seq[0])
	}
	if seq[2].Status != StatusConfirmed || seq[2].Message.ID != "m2" || seq[2].Message.TempID != "t2" {
		t.Errorf("new entry = %+v, want confirmed m2 for t2", seq[2])
	}
	assertCreatedAtMonotonic(t, seq)
}

func TestEchoClaimsFailedOnlyWhenItFitsTheSlot(t *testing.T) {
	// The send timed out on the client but reached the store.
	seq := Apply(nil,
		Change{Op: OpAppendOptimistic, Message: optimistic("t1", "buyer", "hi", 0)},
		Change{Op: OpFail, TempID: "t1", Err: errors.New("timeout")},
		Change{Op: OpPush, Message: msg("m1", "buyer", "hi", 1)},
	)
	if len(seq) != 1 || seq[0].Status != StatusConfirmed || seq[0].Message.ID != "m1" {
		t.Fatalf("sequence = %+v, want the failed entry confirmed in place", seq)
	}

	// A later message sits between the failed entry and the echo's time.
	seq = Apply(nil,
		Change{Op: OpAppendOptimistic, Message: optimistic("t1", "buyer", "hi", 0)},
		Change{Op: OpFail, TempID: "t1", Err: errors.New("timeout")},
		Change{Op: OpPush, Message: msg("mo", "owner", "mo", 10)},
		Change{Op: OpPush, Message: msg("m2", "buyer", "hi", 20)},
	)
	assertContents(t, seq, "hi", "mo", "hi")
	if seq[0].Status != StatusFailed {
		t.Errorf("failed marker lost: %+v", seq[0])
	}
	assertCreatedAtMonotonic(t, seq)
}

func TestEchoPicksClosestPending(t *testing.T) {
	seq := Apply(nil,
		Change{Op: OpAppendOptimistic, Message: optimistic("t1", "buyer", "ok", 0)},
		Change{Op: OpAppendOptimistic, Message: optimistic("t2", "buyer", "ok", 30)},
		Change{Op: OpPush, Message: msg("m2", "buyer", "ok", 31)},
	)
	if seq[1].Message.ID != "m2" || seq[0].Status != StatusPending {
		t.Errorf("sequence = %+v, want m2 to confirm t2", seq)
	}
}

func assertCreatedAtMonotonic(t *testing.T, seq Sequence) {
	t.Helper()
	for i := 1; i < len(seq); i++ {
		if seq[i].Message.CreatedAt.Before(seq[i-1].Message.CreatedAt) {
			t.Fatalf("order not monotonic in createdAt at %d: %+v", i, seq)
		}
	}
}

func TestFailAfterEchoKeepsConfirmed(t *testing.T) {
	seq := Apply(nil,
		Change{Op: OpAppendOptimistic, Message: optimistic("t1", "buyer", "hi", 0)},
		Change{Op: OpPush, Message: msg("m1", "buyer", "hi", 0)},
		Change{Op: OpFail, TempID: "t1", Err: errors.New("timeout")},
	)
	if seq[0].Status != StatusConfirmed {
		t.Errorf("status = %s, want confirmed: the store has the message", seq[0].Status)
	}
}

func TestDiscardIgnoresPending(t *testing.T) {
	seq := Apply(nil,
		Change{Op: OpAppendOptimistic, Message: optimistic("t1", "buyer", "hi", 0)},
		Change{Op: OpDiscard, TempID: "t1"},
	)
	if len(seq) != 1 {
		t.Error("pending entries cannot be discarded")
	}
}

func TestTiesAppendAfterExisting(t *testing.T) {
	seq := Apply(nil, Change{Op: OpSeed, Messages: []convo.Message{msg("m1", "owner", "first", 5)}})
	seq = Apply(seq, Change{Op: OpPush, Message: msg("m2", "buyer", "second", 5)})
	assertContents(t, seq, "first", "second")
}

func TestLatePushInsertsByCreatedAtWithoutMovingOthers(t *testing.T) {
	seq := Apply(nil, Change{Op: OpSeed, Messages: []convo.Message{
		msg("m1", "owner", "a", 1),
		msg("m3", "owner", "c", 3),
	}})
	seq = Apply(seq, Change{Op: OpPush, Message: msg("m2", "buyer", "b", 2)})
	assertContents(t, seq, "a", "b", "c")
}

func TestUpdateMergesInPlace(t *testing.T) {
	seq := Apply(nil, Change{Op: OpSeed, Messages: []convo.Message{msg("m1", "owner", "Hola", 1), msg("m2", "owner", "x", 2)}})
	upd := convo.Message{ID: "m1", DetectedLanguage: "es"}
	seq = Apply(seq, Change{Op: OpUpdate, Message: upd}, Change{Op: OpUpdate, Message: convo.Message{ID: "unknown", DetectedLanguage: "fr"}})

	if seq[0].Message.DetectedLanguage != "es" || seq[0].Message.Content != "Hola" {
		t.Errorf("entry = %+v", seq[0].Message)
	}
	if len(seq) != 2 {
		t.Errorf("update for unknown id must not insert")
	}
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	seq := Apply(nil, Change{Op: OpAppendOptimistic, Message: optimistic("t1", "buyer", "hi", 0)})
	_ = Apply(seq, Change{Op: OpPush, Message: msg("m1", "buyer", "hi", 0)})
	if seq[0].Status != StatusPending {
		t.Error("input sequence was modified")
	}
}

func TestBatchEqualsSequentialApplication(t *testing.T) {
	base := Apply(nil,
		Change{Op: OpSeed, Messages: []convo.Message{msg("m1", "owner", "a", 1)}},
		Change{Op: OpAppendOptimistic, Message: optimistic("t1", "buyer", "b", 2)},
	)
	pushes := []Change{
		{Op: OpPush, Message: msg("m4", "owner", "d", 4)},
		{Op: OpPush, Message: msg("m2", "buyer", "b", 2)},
		{Op: OpPush, Message: msg("m3", "owner", "c", 3)},
		{Op: OpPush, Message: msg("m4", "owner", "d", 4)},
	}

	batched := Apply(base, pushes...)
	sequential := base
	for _, p := range pushes {
		sequential = Apply(sequential, p)
	}
	if fmt.Sprint(contents(batched)) != fmt.Sprint(contents(sequential)) {
		t.Errorf("batched %q != sequential %q", contents(batched), contents(sequential))
	}
	assertContents(t, batched, "a", "b", "c", "d")
}

// Property: across random arrival orders the visible order stays monotonic in
// the placement time and a placed entry never changes position relative to the
// entries placed before it.
func TestOrderStabilityRandomized(t *testing.T) {
	for seed := uint64(1); seed <= 200; seed++ {
		rng := rand.New(rand.NewPCG(seed, seed*7))
		var seq Sequence
		n := 0
		for step := 0; step < 30; step++ {
			before := keys(seq)
			var ch Change
			switch rng.IntN(4) {
			case 0:
				n++
				ch = Change{Op: OpAppendOptimistic, Message: optimistic(fmt.Sprintf("t%d", n), "buyer", fmt.Sprintf("opt %d", n), 100+step)}
			case 1:
				n++
				ch = Change{Op: OpPush, Message: msg(fmt.Sprintf("m%d", n), "owner", fmt.Sprintf("push %d", n), rng.IntN(200))}
			case 2:
				// Echo of a random optimistic entry, possibly twice.
				if i := rng.IntN(len(seq) + 1); i < len(seq) && seq[i].Message.TempID != "" {
					e := seq[i].Message
					ch = Change{Op: OpPush, Message: msg("srv-"+e.TempID, e.SenderID, e.Content, int(e.CreatedAt.Sub(t0)/time.Second))}
				}
			case 3:
				if len(seq) > 0 {
					e := seq[rng.IntN(len(seq))].Message
					ch = Change{Op: OpPush, Message: e}
				}
			}
			seq = Apply(seq, ch)

			for i := 1; i < len(seq); i++ {
				if seq[i].At.Before(seq[i-1].At) {
					t.Fatalf("seed %d step %d: order not monotonic at %d", seed, step, i)
				}
			}
			if !isSubsequence(before, keys(seq)) {
				t.Fatalf("seed %d step %d: placed entries moved: %v -> %v", seed, step, before, keys(seq))
			}
		}
	}
}

// keys identifies entries by temp id when they had one, so confirmation does not change identity.
func keys(seq Sequence) []string {
	out := make([]string, len(seq))
	for i, e := range seq {
		if e.Message.TempID != "" {
			out[i] = e.Message.TempID
		} else {
			out[i] = e.Message.ID
		}
	}
	return out
}

func isSubsequence(sub, full []string) bool {
	j := 0
	for _, k := range full {
		if j < len(sub) && sub[j] == k {
			j++
		}
	}
	return j == len(sub)
}

func TestSynchronizerOptimisticValidation(t *testing.T) {
	s := NewSynchronizer("c1", "buyer", WithClock(func() time.Time { return at(0) }), WithTempIDs(func() string { return "t1" }))
	if _, err := s.AppendOptimistic("   "); !errors.Is(err, convo.ErrValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
	if len(s.Entries()) != 0 {
		t.Fatal("rejected content must not appear")
	}
	e, err := s.AppendOptimistic(" hi ")
	if err != nil {
		t.Fatal(err)
	}
	if e.Message.TempID != "t1" || e.Message.Content != "hi" || e.Status != StatusPending {
		t.Errorf("entry = %+v", e)
	}
}

func TestSynchronizerUnseenInbound(t *testing.T) {
	s := NewSynchronizer("c1", "buyer")
	read := at(0)
	m1 := msg("m1", "owner", "old", 1)
	m1.ReadAt = &read
	s.Seed([]convo.Message{m1, msg("m2", "owner", "new", 2), msg("m3", "buyer", "mine", 3)})
	ids := s.UnseenInbound()
	if len(ids) != 1 || ids[0] != "m2" {
		t.Errorf("unseen = %v, want [m2]", ids)
	}
}
