package views

import (
	"fmt"

	"github.com/bibswap/swapchat/internal/share"
	"github.com/bibswap/swapchat/internal/tui/ui"
	"github.com/rivo/tview"
)

// ShareView displays a conversation's share link as a scannable QR code.
type ShareView struct {
	*tview.TextView
	theme *ui.Theme
}

// NewShareView creates a new share view.
func NewShareView(theme *ui.Theme) *ShareView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Share Conversation ")
	tv.SetTitleColor(theme.TitleColor)

	return &ShareView{
		TextView: tv,
		theme:    theme,
	}
}

// Name implements Component.
func (sv *ShareView) Name() string { return "Share" }

// Hints implements Component.
func (sv *ShareView) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Esc", Description: "Back"},
	}
}

// ShowLink renders link as a QR code with the link underneath.
func (sv *ShareView) ShowLink(title, link string) {
	sv.Clear()

	qr, err := share.RenderQR(link, "  ")
	if err != nil {
		sv.ShowMessage("QR generation failed: " + err.Error())
		return
	}
	_, _ = fmt.Fprintf(sv, "\n  Scan to open [::b]%s[-:-:-] on another device:\n\n%s\n  [::u]%s[-:-:-]",
		tview.Escape(sanitizeForTerminal(title)), qr, tview.Escape(link))
}

// ShowMessage displays a status message.
func (sv *ShareView) ShowMessage(msg string) {
	sv.Clear()
	_, _ = fmt.Fprintf(sv, "\n\n%s", tview.Escape(msg))
}
