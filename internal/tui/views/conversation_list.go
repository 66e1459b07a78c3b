package views

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/bibswap/swapchat/internal/chat"
	"github.com/bibswap/swapchat/internal/convo"
	"github.com/bibswap/swapchat/internal/tui/ui"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"golang.org/x/text/cases"
)

// SortMode orders the inbox.
type SortMode int

const (
	SortRecent SortMode = iota
	SortUnread
	SortListing
)

func (s SortMode) String() string {
	switch s {
	case SortUnread:
		return "unread"
	case SortListing:
		return "listing"
	default:
		return "recent"
	}
}

// ConversationList is the inbox view.
type ConversationList struct {
	*tview.Table
	theme    *ui.Theme
	viewerID string
	entries  []chat.InboxEntry
	visible  []chat.InboxEntry
	filter   string
	sort     SortMode
}

// NewConversationList creates the inbox table for viewerID.
func NewConversationList(theme *ui.Theme, viewerID string) *ConversationList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true)
	table.SetBorderColor(theme.BorderColor)
	table.SetBackgroundColor(theme.BgColor)
	table.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))
	table.SetTitle(" Inbox ")
	table.SetTitleColor(theme.TitleColor)

	cl := &ConversationList{
		Table:    table,
		theme:    theme,
		viewerID: viewerID,
	}
	cl.render()
	return cl
}

// Name implements Component.
func (cl *ConversationList) Name() string { return "Inbox" }

// Hints implements Component.
func (cl *ConversationList) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Enter", Description: "Open"},
		{Key: "/", Description: "Filter"},
		{Key: ":", Description: "Command"},
		{Key: "s", Description: "Sort (" + cl.sort.String() + ")"},
		{Key: "Ctrl-R", Description: "Reload"},
		{Key: "?", Description: "Help"},
		{Key: "q", Description: "Quit"},
		{Key: "1-9", Description: "Jump", Numeric: true},
	}
}

// Update replaces the inbox entries, keeping the selected conversation
// selected when it is still listed.
func (cl *ConversationList) Update(entries []chat.InboxEntry) {
	selected := cl.SelectedConversation()
	cl.entries = entries
	cl.render()
	if selected != "" {
		cl.SelectConversation(selected)
	}
}

// SetFilter sets the active filter text and re-renders.
func (cl *ConversationList) SetFilter(filter string) {
	cl.filter = strings.TrimSpace(filter)
	cl.render()
}

// ClearFilter clears the active filter.
func (cl *ConversationList) ClearFilter() {
	cl.filter = ""
	cl.render()
}

// Filter returns the active filter.
func (cl *ConversationList) Filter() string { return cl.filter }

// CycleSort switches to the next sort mode.
func (cl *ConversationList) CycleSort() SortMode {
	cl.sort = (cl.sort + 1) % 3
	cl.render()
	return cl.sort
}

// SelectConversation moves the cursor to a conversation. It reports whether the
// conversation is visible.
func (cl *ConversationList) SelectConversation(conversationID string) bool {
	for i, e := range cl.visible {
		if e.Conversation.ID == conversationID {
			cl.Select(i+1, 0)
			return true
		}
	}
	return false
}

func (cl *ConversationList) other(e chat.InboxEntry) string {
	if other := e.Conversation.Other(cl.viewerID); other != "" {
		return other
	}
	return "-"
}

func (cl *ConversationList) matches(e chat.InboxEntry) bool {
	if cl.filter == "" {
		return true
	}
	return containsFold(e.ListingTitle, cl.filter) ||
		containsFold(cl.other(e), cl.filter) ||
		containsFold(e.LastMessage, cl.filter)
}

func (cl *ConversationList) arrange() []chat.InboxEntry {
	var out []chat.InboxEntry
	for _, e := range cl.entries {
		if cl.matches(e) {
			out = append(out, e)
		}
	}
	switch cl.sort {
	case SortUnread:
		slices.SortStableFunc(out, func(a, b chat.InboxEntry) int {
			return min(b.Unread, 1) - min(a.Unread, 1)
		})
	case SortListing:
		slices.SortStableFunc(out, func(a, b chat.InboxEntry) int {
			return strings.Compare(cases.Fold().String(a.ListingTitle), cases.Fold().String(b.ListingTitle))
		})
	}
	return out
}

func (cl *ConversationList) render() {
	cl.Clear()

	headers := []struct {
		text string
		exp  int
	}{
		{" LISTING", 2},
		{" WITH", 1},
		{" LAST MESSAGE", 3},
		{" STATE", 0},
		{" TIME", 0},
	}
	for col, h := range headers {
		cell := tview.NewTableCell(h.text).
			SetSelectable(false).
			SetTextColor(cl.theme.TableHeaderFg).
			SetBackgroundColor(cl.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold).
			SetExpansion(h.exp)
		cl.SetCell(0, col, cell)
	}

	cl.visible = cl.arrange()
	for i, e := range cl.visible {
		row := i + 1
		title := e.ListingTitle
		if title == "" {
			title = e.Conversation.ListingID
		}
		color := cl.theme.FgColor
		if e.Unread > 0 {
			title = fmt.Sprintf("(%d) %s", e.Unread, title)
			color = cl.theme.CounterColor
		}

		cl.SetCell(row, 0, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(title))).SetExpansion(2).SetTextColor(color))
		cl.SetCell(row, 1, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(cl.other(e)))).SetExpansion(1).SetTextColor(cl.theme.FgColor))
		cl.SetCell(row, 2, tview.NewTableCell(" "+tview.Escape(preview(e.LastMessage))).SetExpansion(3).SetTextColor(cl.theme.FgColor))
		cl.SetCell(row, 3, tview.NewTableCell(" "+stateLabel(e.State)).SetExpansion(0).SetTextColor(cl.theme.FgColor))
		cl.SetCell(row, 4, tview.NewTableCell(" "+formatTimestamp(e.LastMessageAt)).SetExpansion(0).SetTextColor(cl.theme.FgColor).SetAlign(tview.AlignRight))
	}

	if cl.filter != "" {
		cl.SetTitle(fmt.Sprintf(" Inbox (%d/%d) filter: %s ", len(cl.visible), len(cl.entries), tview.Escape(cl.filter)))
	} else {
		cl.SetTitle(fmt.Sprintf(" Inbox (%d) ", len(cl.entries)))
	}
}

// SelectedConversation returns the id of the conversation under the cursor.
func (cl *ConversationList) SelectedConversation() string {
	row, _ := cl.GetSelection()
	return cl.ConversationByIndex(row)
}

// ConversationByIndex returns the id of the Nth visible conversation (1-based).
func (cl *ConversationList) ConversationByIndex(n int) string {
	if n < 1 || n > len(cl.visible) {
		return ""
	}
	return cl.visible[n-1].Conversation.ID
}

func stateLabel(s convo.State) string {
	if s == convo.New {
		return "pending"
	}
	return strings.ToLower(string(s))
}

func preview(s string) string {
	s = strings.Join(strings.Fields(sanitizeForTerminal(s)), " ")
	if r := []rune(s); len(r) > 60 {
		return string(r[:59]) + "…"
	}
	return s
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	t = t.Local()
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}

func containsFold(s, substr string) bool {
	fold := cases.Fold()
	return strings.Contains(fold.String(s), fold.String(substr))
}
