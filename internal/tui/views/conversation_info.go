package views

import (
	"fmt"
	"time"

	"github.com/bibswap/swapchat/internal/convo"
	"github.com/bibswap/swapchat/internal/tui/ui"
	"github.com/rivo/tview"
)

// Details is what the details view shows about a conversation.
type Details struct {
	ConversationID  string
	PublicID        string
	ListingID       string
	ListingTitle    string
	OwnerID         string
	OtherID         string
	State           convo.State
	BlockedByViewer bool
	BlockedByOther  bool
	Messages        int
	Unseen          int
	CreatedAt       time.Time
	ShareLink       string
}

// ConversationInfo displays detailed information about a conversation.
type ConversationInfo struct {
	*tview.TextView
	theme *ui.Theme
}

// NewConversationInfo creates a new conversation info view.
func NewConversationInfo(theme *ui.Theme) *ConversationInfo {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Conversation Details ")
	tv.SetTitleColor(theme.TitleColor)

	return &ConversationInfo{
		TextView: tv,
		theme:    theme,
	}
}

// Name implements Component.
func (ci *ConversationInfo) Name() string { return "Details" }

// Hints implements Component.
func (ci *ConversationInfo) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "S", Description: "Share QR"},
		{Key: "Esc", Description: "Back"},
		{Key: ":", Description: "Command"},
		{Key: "?", Description: "Help"},
	}
}

// Update renders conversation details.
func (ci *ConversationInfo) Update(d *Details) {
	ci.Clear()
	if d == nil {
		return
	}

	fg := colorHex(ci.theme.FgColor)
	ct := colorHex(ci.theme.CounterColor)

	blocked := "no"
	switch {
	case d.BlockedByViewer && d.BlockedByOther:
		blocked = "both ways"
	case d.BlockedByViewer:
		blocked = "by you"
	case d.BlockedByOther:
		blocked = "by " + d.OtherID
	}
	created := "-"
	if !d.CreatedAt.IsZero() {
		created = d.CreatedAt.Local().Format("2006-01-02 15:04")
	}
	link := d.ShareLink
	if link == "" {
		link = "-"
	}

	rows := []struct{ label, value string }{
		{"Listing:", d.ListingTitle},
		{"Listing ID:", d.ListingID},
		{"Owner:", d.OwnerID},
		{"With:", d.OtherID},
		{"State:", stateLabel(d.State)},
		{"Blocked:", blocked},
		{"Messages:", fmt.Sprintf("%d (%d unread)", d.Messages, d.Unseen)},
		{"Started:", created},
		{"ID:", d.ConversationID},
		{"Share link:", link},
	}
	_, _ = fmt.Fprintln(ci)
	for _, r := range rows {
		_, _ = fmt.Fprintf(ci, " [%s::b]%-12s[-:-:-] [%s]%s[-]\n",
			fg, r.label, ct, tview.Escape(sanitizeForTerminal(r.value)))
	}

	title := d.ListingTitle
	if title == "" {
		title = "Conversation"
	}
	ci.SetTitle(fmt.Sprintf(" %s Details ", tview.Escape(sanitizeForTerminal(title))))
}
