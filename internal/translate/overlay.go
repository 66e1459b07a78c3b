package translate

import (
	"strings"
	"time"

	"github.com/bibswap/swapchat/internal/convo"
	"golang.org/x/text/language"
)

// GroupGap is the largest gap between consecutive messages of one run.
const GroupGap = 5 * time.Minute

// BaseLanguage returns the lowercase base subtag of a BCP 47 tag, or "" when
// the tag cannot be parsed.
func BaseLanguage(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return ""
	}
	t, err := language.Parse(tag)
	if err != nil {
		return ""
	}
	b, conf := t.Base()
	if conf == language.No {
		return ""
	}
	return b.String()
}

// SameLanguage reports whether two tags share a base language.
func SameLanguage(a, b string) bool {
	ba, bb := BaseLanguage(a), BaseLanguage(b)
	return ba != "" && ba == bb
}

// Request asks for a message to be translated into Target.
type Request struct {
	MessageID string
	Target    string
}

type overlayState struct {
	text         string
	loading      bool
	failed       bool
	showOriginal bool
}

// Display is how one message should be rendered.
type Display struct {
	Text         string
	Translated   bool
	IsLoading    bool
	CanToggle    bool
	ShowOriginal bool
}

// Overlay tracks per-message translation state for one viewer in one
// conversation. It is owned by the session loop and is not safe for
// concurrent use.
type Overlay struct {
	viewerID string
	lang     string
	states   map[string]*overlayState
}

// NewOverlay creates an overlay for viewerID whose preferred language is lang.
func NewOverlay(viewerID, lang string) *Overlay {
	return &Overlay{viewerID: viewerID, lang: lang, states: make(map[string]*overlayState)}
}

// Language returns the viewer's preferred language.
func (o *Overlay) Language() string { return o.lang }

// needs reports whether m is an inbound text message in another language.
func (o *Overlay) needs(m convo.Message) bool {
	if m.ID == "" || m.SenderID == o.viewerID || m.Type == convo.TypeInterest {
		return false
	}
	if m.DetectedLanguage == "" || BaseLanguage(o.lang) == "" {
		return false
	}
	return !SameLanguage(m.DetectedLanguage, o.lang)
}

// Observe records translations already present on msgs and returns requests
// for messages that need one and have none cached, loading or failed. Requests
// returned are marked loading.
func (o *Overlay) Observe(msgs []convo.Message) []Request {
	var reqs []Request
	for _, m := range msgs {
		if !o.needs(m) {
			continue
		}
		st, ok := o.states[m.ID]
		if !ok {
			st = &overlayState{}
			o.states[m.ID] = st
		}
		if st.text == "" && m.TranslatedContent != "" && SameLanguage(m.TranslatedTo, o.lang) {
			st.text = m.TranslatedContent
			st.loading = false
		}
		if st.text != "" || st.loading || st.failed {
			continue
		}
		st.loading = true
		reqs = append(reqs, Request{MessageID: m.ID, Target: o.lang})
	}
	return reqs
}

// Resolve stores the outcome of a request. A failure is remembered so the
// message is shown in its original language without further attempts.
func (o *Overlay) Resolve(messageID, text string, err error) {
	st, ok := o.states[messageID]
	if !ok || !st.loading {
		return
	}
	st.loading = false
	if err != nil || strings.TrimSpace(text) == "" {
		st.failed = true
		return
	}
	st.text = text
}

// Toggle flips between original and translated text. It does nothing unless a
// translation is cached.
func (o *Overlay) Toggle(messageID string) bool {
	st, ok := o.states[messageID]
	if !ok || st.text == "" {
		return false
	}
	st.showOriginal = !st.showOriginal
	return true
}

// Display returns the rendering of m.
func (o *Overlay) Display(m convo.Message) Display {
	d := Display{Text: m.Content}
	st, ok := o.states[m.ID]
	if !ok || m.ID == "" {
		return d
	}
	d.IsLoading = st.loading
	if st.text == "" {
		return d
	}
	d.CanToggle = true
	d.ShowOriginal = st.showOriginal
	if !st.showOriginal {
		d.Text = st.text
		d.Translated = true
	}
	return d
}

// RunItem is the input to MarkRuns.
type RunItem struct {
	SenderID   string
	At         time.Time
	Translated bool
}

// MarkRuns returns, for each item, whether it carries the auto-translated
// indicator. The indicator goes on the first translated message of each
// consecutive run from one sender; a run ends on a sender change, an
// untranslated message, or a gap longer than GroupGap.
func MarkRuns(items []RunItem) []bool {
	marks := make([]bool, len(items))
	inRun := false
	for i, it := range items {
		if !it.Translated {
			inRun = false
			continue
		}
		if inRun {
			prev := items[i-1]
			if prev.SenderID != it.SenderID || it.At.Sub(prev.At) > GroupGap {
				inRun = false
			}
		}
		if !inRun {
			marks[i] = true
			inRun = true
		}
	}
	return marks
}
