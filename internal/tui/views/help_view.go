package views

import (
	"fmt"

	"github.com/bibswap/swapchat/internal/tui/ui"
	"github.com/rivo/tview"
)

// HelpView displays key binding reference.
type HelpView struct {
	*tview.TextView
	theme *ui.Theme
}

// NewHelpView creates a new help view.
func NewHelpView(theme *ui.Theme) *HelpView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Help ")
	tv.SetTitleColor(theme.TitleColor)

	hv := &HelpView{
		TextView: tv,
		theme:    theme,
	}
	hv.render()
	return hv
}

// Name implements Component.
func (hv *HelpView) Name() string { return "Help" }

// Hints implements Component.
func (hv *HelpView) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Esc", Description: "Back"},
	}
}

var helpSections = []struct {
	title string
	rows  [][2]string
}{
	{"Global Keys", [][2]string{
		{":", "Command mode"},
		{"/", "Filter the inbox"},
		{"Esc", "Cancel / Go back"},
		{"?", "Help"},
		{"q", "Quit / Back"},
		{"Ctrl-C", "Quit immediately"},
	}},
	{"Inbox", [][2]string{
		{"Enter", "Open conversation"},
		{"1-9", "Open the Nth conversation"},
		{"0", "Clear filter"},
		{"s", "Cycle sort (recent, unread, listing)"},
		{"Ctrl-R", "Reload"},
	}},
	{"Thread", [][2]string{
		{"i", "Focus composer (Enter sends, Esc leaves)"},
		{"j/k", "Select newer / older message"},
		{"r", "Mark incoming messages seen"},
		{"t", "Toggle original / translated text"},
		{"R", "Retry a failed message"},
		{"x", "Discard a failed message"},
		{"b", "Block or unblock"},
		{"D", "Delete for you"},
		{"d", "Details"},
		{"S", "Share QR"},
		{"!", "Report (type a reason)"},
	}},
	{"Commands (: mode)", [][2]string{
		{":open <id|link>", "Open by id or share link"},
		{":start <listing> <text>", "Message a listing owner"},
		{":interest <listing>", "Tell the owner you are interested"},
		{":report <reason>", "Report the open conversation"},
		{":block / :unblock", "Block or unblock the open conversation"},
		{":delete", "Delete the open conversation for you"},
		{":share", "Show the share QR"},
		{":inbox / :reload", "Back to the inbox / reload it"},
		{"Up/Down", "Browse command history"},
		{":help / :h", "Show this help"},
		{":quit / :q", "Quit application"},
	}},
}

func (hv *HelpView) render() {
	kc := colorHex(hv.theme.MenuKeyColor)
	for _, s := range helpSections {
		_, _ = fmt.Fprintf(hv, "\n  [::b]%s[-:-:-]\n\n", s.title)
		for _, r := range s.rows {
			_, _ = fmt.Fprintf(hv, "  [%s]%-26s[-:-:-] %s\n", kc, tview.Escape(r[0]), r[1])
		}
	}
}
