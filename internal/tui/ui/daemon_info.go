package ui

import (
	"fmt"
	"time"

	"github.com/rivo/tview"
)

// DaemonData is what the header shows about the viewer and the daemon.
type DaemonData struct {
	User          string
	Language      string
	State         string
	Reason        string
	Translation   bool
	Conversations int
	Unread        int
	Since         time.Time
}

// DaemonInfo displays viewer and daemon metadata in the header.
type DaemonInfo struct {
	*tview.TextView
	theme *Theme
}

// NewDaemonInfo creates a new daemon info panel.
func NewDaemonInfo(theme *Theme) *DaemonInfo {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 1, 1)

	return &DaemonInfo{
		TextView: tv,
		theme:    theme,
	}
}

// Update renders the panel. A nil data clears it.
func (di *DaemonInfo) Update(data *DaemonData) {
	di.Clear()
	if data == nil {
		return
	}

	fg := colorName(di.theme.FgColor)
	ct := colorName(di.theme.CounterColor)

	state := data.State
	if state == "" {
		state = "UNREACHABLE"
	}
	stateColor := ct
	if state != "READY" {
		stateColor = colorName(di.theme.FlashWarnColor)
	}
	if data.Reason != "" && state != "READY" {
		state += " (" + data.Reason + ")"
	}

	translation := "off"
	if data.Translation {
		translation = "on"
	}
	lang := data.Language
	if lang == "" {
		lang = "-"
	}

	_, _ = fmt.Fprintf(di,
		"[%s::b]User:[-:-:-]    [%s]%s[-]\n"+
			"[%s::b]Lang:[-:-:-]    [%s]%s[-] [%s](translation %s)[-]\n"+
			"[%s::b]Daemon:[-:-:-]  [%s]%s[-]\n"+
			"[%s::b]Chats:[-:-:-]   [%s]%d[-]\n"+
			"[%s::b]Unread:[-:-:-]  [%s]%d[-]\n"+
			"[%s::b]Up:[-:-:-]      [%s]%s[-]",
		fg, ct, tview.Escape(data.User),
		fg, ct, lang, fg, translation,
		fg, stateColor, tview.Escape(state),
		fg, ct, data.Conversations,
		fg, ct, data.Unread,
		fg, ct, formatSince(data.Since),
	)
}

func formatSince(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
