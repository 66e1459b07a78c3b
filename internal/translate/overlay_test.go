package translate

import (
	"errors"
	"testing"
	"time"

	"github.com/bibswap/swapchat/internal/convo"
	"github.com/stretchr/testify/require"
)

func inbound(id, lang string) convo.Message {
	return convo.Message{ID: id, SenderID: "owner", Content: "Hola, ¿sigue disponible?", Type: convo.TypeText, DetectedLanguage: lang}
}

func TestBaseLanguage(t *testing.T) {
	cases := map[string]string{
		"en":    "en",
		"en-US": "en",
		"pt-BR": "pt",
		" es ":  "es",
		"":      "",
		"zz-!!": "",
	}
	for in, want := range cases {
		require.Equal(t, want, BaseLanguage(in), "tag=%q", in)
	}
	require.True(t, SameLanguage("en-GB", "en-US"))
	require.False(t, SameLanguage("", ""))
}

func TestObserve_RequestsOnlyForeignInbound(t *testing.T) {
	o := NewOverlay("buyer", "en-US")
	own := inbound("m2", "es")
	own.SenderID = "buyer"
	notice := inbound("m4", "es")
	notice.Type = convo.TypeInterest

	reqs := o.Observe([]convo.Message{
		inbound("m1", "es"),
		own,
		inbound("m3", "en-GB"),
		notice,
		inbound("m5", ""),
		{TempID: "t1", SenderID: "owner", Content: "x", DetectedLanguage: "es"},
	})
	require.Equal(t, []Request{{MessageID: "m1", Target: "en-US"}}, reqs)
}

func TestObserve_NoDuplicateRequests(t *testing.T) {
	o := NewOverlay("buyer", "en")
	msgs := []convo.Message{inbound("m1", "es")}
	require.Len(t, o.Observe(msgs), 1)
	require.Empty(t, o.Observe(msgs), "loading messages must not be requested again")
	require.True(t, o.Display(msgs[0]).IsLoading)

	o.Resolve("m1", "Hi, is it still available?", nil)
	require.Empty(t, o.Observe(msgs), "cached messages must not be requested again")

	d := o.Display(msgs[0])
	require.Equal(t, "Hi, is it still available?", d.Text)
	require.True(t, d.Translated)
	require.True(t, d.CanToggle)
	require.False(t, d.IsLoading)
}

func TestObserve_UsesServerTranslation(t *testing.T) {
	o := NewOverlay("buyer", "en")
	m := inbound("m1", "es")
	m.TranslatedContent = "Hi"
	m.TranslatedTo = "en"
	require.Empty(t, o.Observe([]convo.Message{m}))
	require.Equal(t, "Hi", o.Display(m).Text)
}

func TestResolve_FailureShowsOriginalWithoutRetry(t *testing.T) {
	o := NewOverlay("buyer", "en")
	m := inbound("m1", "es")
	o.Observe([]convo.Message{m})
	o.Resolve("m1", "", convo.NewError(convo.CodeTranslationUnavailable, "translate", errors.New("503")))

	d := o.Display(m)
	require.Equal(t, m.Content, d.Text)
	require.False(t, d.IsLoading)
	require.False(t, d.CanToggle)
	require.Empty(t, o.Observe([]convo.Message{m}))
}

func TestResolve_IgnoresUnrequested(t *testing.T) {
	o := NewOverlay("buyer", "en")
	o.Resolve("m9", "text", nil)
	require.Equal(t, "orig", o.Display(convo.Message{ID: "m9", Content: "orig"}).Text)
}

func TestToggle(t *testing.T) {
	o := NewOverlay("buyer", "en")
	m := inbound("m1", "es")
	require.False(t, o.Toggle("m1"), "nothing cached yet")

	o.Observe([]convo.Message{m})
	require.False(t, o.Toggle("m1"), "still loading")

	o.Resolve("m1", "Hi", nil)
	require.True(t, o.Toggle("m1"))
	d := o.Display(m)
	require.True(t, d.ShowOriginal)
	require.Equal(t, m.Content, d.Text)

	require.True(t, o.Toggle("m1"))
	require.Equal(t, "Hi", o.Display(m).Text)
}

func TestMarkRuns(t *testing.T) {
	base := time.UnixMilli(1_700_000_000_000)
	minute := func(n int) time.Time { return base.Add(time.Duration(n) * time.Minute) }

	cases := []struct {
		name  string
		items []RunItem
		want  []bool
	}{
		{"empty", nil, []bool{}},
		{"single run", []RunItem{
			{"owner", minute(0), true}, {"owner", minute(1), true}, {"owner", minute(2), true},
		}, []bool{true, false, false}},
		{"sender change", []RunItem{
			{"owner", minute(0), true}, {"other", minute(1), true},
		}, []bool{true, true}},
		{"untranslated breaks run", []RunItem{
			{"owner", minute(0), true}, {"owner", minute(1), false}, {"owner", minute(2), true},
		}, []bool{true, false, true}},
		{"gap breaks run", []RunItem{
			{"owner", minute(0), true}, {"owner", minute(5), true}, {"owner", minute(11), true},
		}, []bool{true, false, true}},
		{"untranslated only", []RunItem{
			{"owner", minute(0), false},
		}, []bool{false}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, MarkRuns(tc.items))
		})
	}
}
