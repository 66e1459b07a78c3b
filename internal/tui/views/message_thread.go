package views

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bibswap/swapchat/internal/convo"
	intsync "github.com/bibswap/swapchat/internal/sync"
	"github.com/bibswap/swapchat/internal/tui/ui"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// MessageThread displays one conversation and its composer.
type MessageThread struct {
	*tview.Flex
	theme    *ui.Theme
	banner   *tview.TextView
	messages *tview.TextView
	composer *tview.InputField
	view     intsync.View
	// cursor indexes view.Entries; -1 follows the newest entry.
	cursor int
	onSend func(text string)
}

// NewMessageThread creates a new message thread view.
func NewMessageThread(theme *ui.Theme) *MessageThread {
	banner := tview.NewTextView().
		SetDynamicColors(true)
	banner.SetBackgroundColor(theme.BgColor)
	banner.SetBorderPadding(0, 0, 1, 1)

	messages := tview.NewTextView().
		SetDynamicColors(true).
		SetRegions(true).
		SetScrollable(true).
		SetWordWrap(true)
	messages.SetBorder(true)
	messages.SetBorderColor(theme.BorderColor)
	messages.SetBackgroundColor(theme.BgColor)
	messages.SetTextColor(theme.FgColor)
	messages.SetTitle(" Messages ")
	messages.SetTitleColor(theme.TitleColor)

	composer := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)
	composer.SetBorder(true)
	composer.SetBorderColor(theme.BorderColor)
	composer.SetBackgroundColor(theme.BgColor)
	composer.SetFieldBackgroundColor(theme.BgColor)
	composer.SetFieldTextColor(theme.FgColor)
	composer.SetLabelColor(theme.MenuKeyColor)
	composer.SetTitle(" Compose (i to focus) ")
	composer.SetTitleColor(theme.TitleColor)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(banner, 1, 0, false).
		AddItem(messages, 0, 1, true).
		AddItem(composer, 3, 0, false)

	mt := &MessageThread{
		Flex:     flex,
		theme:    theme,
		banner:   banner,
		messages: messages,
		composer: composer,
		cursor:   -1,
	}

	composer.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter || mt.onSend == nil || !mt.view.CanSend() {
			return
		}
		text := strings.TrimSpace(composer.GetText())
		if text != "" {
			mt.onSend(text)
			composer.SetText("")
		}
	})

	return mt
}

// Name implements Component.
func (mt *MessageThread) Name() string {
	if mt.view.ListingTitle != "" {
		return mt.view.ListingTitle
	}
	return "Thread"
}

// Hints implements Component.
func (mt *MessageThread) Hints() []ui.MenuHint {
	block := "Block"
	if mt.view.BlockedByViewer {
		block = "Unblock"
	}
	return []ui.MenuHint{
		{Key: "i", Description: "Compose", Disabled: !mt.view.CanSend()},
		{Key: "j/k", Description: "Select"},
		{Key: "r", Description: "Mark seen"},
		{Key: "t", Description: "Original/translated"},
		{Key: "R", Description: "Retry failed"},
		{Key: "x", Description: "Discard failed"},
		{Key: "b", Description: block},
		{Key: "d", Description: "Details"},
		{Key: "D", Description: "Delete"},
		{Key: "!", Description: "Report"},
		{Key: "Esc", Description: "Back"},
	}
}

// Reset clears the thread before another conversation is opened.
func (mt *MessageThread) Reset() {
	mt.view = intsync.View{}
	mt.cursor = -1
	mt.composer.SetText("")
	mt.banner.Clear()
	mt.messages.Clear()
	mt.messages.SetTitle(" Messages ")
}

// SetOnSend sets the callback when a message is sent.
func (mt *MessageThread) SetOnSend(fn func(text string)) {
	mt.onSend = fn
}

// View returns the last rendered view.
func (mt *MessageThread) View() intsync.View { return mt.view }

// Update renders a new view of the conversation.
func (mt *MessageThread) Update(v intsync.View) {
	mt.view = v
	if mt.cursor >= len(v.Entries) {
		mt.cursor = len(v.Entries) - 1
	}

	title := v.ListingTitle
	if title == "" {
		title = "Conversation"
	}
	if v.OtherID != "" {
		title += " · " + v.OtherID
	}
	mt.messages.SetTitle(" " + tview.Escape(sanitizeForTerminal(title)) + " ")

	if v.CanSend() {
		mt.composer.SetTitle(" Compose (i to focus) ")
	} else if v.Sending != "" {
		mt.composer.SetTitle(" Compose (sending…) ")
	} else {
		mt.composer.SetTitle(" Compose (disabled) ")
	}

	mt.renderBanner()
	mt.renderMessages()
}

// MoveCursor moves the selection by delta entries.
func (mt *MessageThread) MoveCursor(delta int) {
	n := len(mt.view.Entries)
	if n == 0 {
		return
	}
	cur := mt.cursor
	if cur < 0 {
		cur = n - 1
	}
	cur += delta
	switch {
	case cur < 0:
		cur = 0
	case cur >= n-1:
		cur = -1
	}
	mt.cursor = cur
	mt.renderMessages()
}

// Selected returns the entry under the cursor, or the newest one.
func (mt *MessageThread) Selected() (intsync.ViewEntry, bool) {
	n := len(mt.view.Entries)
	if n == 0 {
		return intsync.ViewEntry{}, false
	}
	if mt.cursor < 0 {
		return mt.view.Entries[n-1], true
	}
	return mt.view.Entries[mt.cursor], true
}

// Failed returns the selected entry when it failed to send, else the newest
// failed entry.
func (mt *MessageThread) Failed() (intsync.ViewEntry, bool) {
	if e, ok := mt.Selected(); ok && e.Status == intsync.StatusFailed {
		return e, true
	}
	for i := len(mt.view.Entries) - 1; i >= 0; i-- {
		if e := mt.view.Entries[i]; e.Status == intsync.StatusFailed {
			return e, true
		}
	}
	return intsync.ViewEntry{}, false
}

func (mt *MessageThread) renderBanner() {
	mt.banner.Clear()
	text, warn := bannerText(mt.view)
	if text == "" {
		return
	}
	color := colorHex(mt.theme.BannerColor)
	if warn {
		color = colorHex(mt.theme.FlashErrColor)
	}
	_, _ = fmt.Fprintf(mt.banner, "[%s]%s[-]", color, tview.Escape(text))
}

// bannerText describes the conversation state above the messages. warn is
// set for conditions that need the viewer's attention.
func bannerText(v intsync.View) (text string, warn bool) {
	viewerIsOwner := v.OwnerID != "" && v.OwnerID != v.OtherID
	switch {
	case v.Fatal != nil:
		return "Conversation unavailable: " + reason(v.Fatal), true
	case v.BlockedByViewer:
		return "You blocked this conversation. Press b to unblock.", false
	case v.BlockedByOther:
		return "The other participant blocked this conversation.", false
	case v.Err != nil:
		return reason(v.Err), true
	case v.Sending != "":
		return "Sending…", false
	case v.State == convo.New && viewerIsOwner:
		return "Reply to start this conversation.", false
	case v.State == convo.New:
		return "Waiting for the owner to reply.", false
	case v.Unseen > 0:
		return fmt.Sprintf("%d unread. Press r to mark seen.", v.Unseen), false
	}
	return "", false
}

func reason(err error) string {
	var ce *convo.Error
	if errors.As(err, &ce) && ce.Reason != "" {
		return ce.Reason
	}
	return err.Error()
}

func (mt *MessageThread) renderMessages() {
	mt.messages.Clear()
	v := mt.view
	for i, e := range v.Entries {
		sender := v.OtherID
		senderColor := mt.theme.InboundColor
		if e.Outbound {
			sender = "You"
			senderColor = mt.theme.OutboundColor
		}
		cursor := "  "
		if i == mt.cursor {
			cursor = "▶ "
		}

		var b strings.Builder
		fmt.Fprintf(&b, "[\"e%d\"]%s[%s::b]%s[-:-:-] [::d]%s[-:-:-]%s[\"\"]\n",
			i, cursor, colorHex(senderColor),
			tview.Escape(sanitizeForTerminal(sender)),
			formatTimestamp(e.At), mt.marker(e))

		body := tview.Escape(sanitizeForTerminal(e.Display.Text))
		if e.Message.Type == convo.TypeInterest {
			body = "★ " + body
		}
		if e.Status == intsync.StatusPending {
			body = fmt.Sprintf("[%s]%s[-]", colorHex(mt.theme.PendingColor), body)
		}
		fmt.Fprintf(&b, "  %s\n", strings.ReplaceAll(body, "\n", "\n  "))

		if note := mt.note(e); note != "" {
			fmt.Fprintf(&b, "  %s\n", note)
		}
		b.WriteString("\n")
		_, _ = fmt.Fprint(mt.messages, b.String())
	}

	if mt.cursor >= 0 {
		mt.messages.Highlight(fmt.Sprintf("e%d", mt.cursor))
		mt.messages.ScrollToHighlight()
	} else {
		mt.messages.Highlight()
		mt.messages.ScrollToEnd()
	}
}

// marker is the delivery state shown after the timestamp.
func (mt *MessageThread) marker(e intsync.ViewEntry) string {
	switch e.Status {
	case intsync.StatusPending:
		return fmt.Sprintf(" [%s]sending…[-]", colorHex(mt.theme.PendingColor))
	case intsync.StatusFailed:
		return fmt.Sprintf(" [%s]✗ not sent[-]", colorHex(mt.theme.FailedColor))
	}
	if !e.Outbound {
		return ""
	}
	if e.Message.IsRead() {
		return fmt.Sprintf(" [%s]✓✓ seen[-]", colorHex(mt.theme.ReadColor))
	}
	return " ✓"
}

// note is the hint line under a message body.
func (mt *MessageThread) note(e intsync.ViewEntry) string {
	hint := colorHex(mt.theme.HintColor)
	switch {
	case e.Status == intsync.StatusFailed:
		msg := e.ErrText
		if msg == "" {
			msg = string(e.ErrCode)
		}
		return fmt.Sprintf("[%s]%s · R retry · x discard[-]", colorHex(mt.theme.FailedColor), tview.Escape(msg))
	case e.Display.IsLoading:
		return fmt.Sprintf("[%s]translating…[-]", hint)
	case e.Display.ShowOriginal && e.Display.CanToggle:
		return fmt.Sprintf("[%s]original · t to translate[-]", hint)
	case e.Indicator:
		return fmt.Sprintf("[%s]auto-translated · t for original[-]", hint)
	}
	return ""
}

// Messages returns the messages text view (for focus management).
func (mt *MessageThread) Messages() *tview.TextView {
	return mt.messages
}

// Composer returns the composer input field (for focus management).
func (mt *MessageThread) Composer() *tview.InputField {
	return mt.composer
}

func colorHex(c tcell.Color) string {
	return fmt.Sprintf("#%06x", c.Hex())
}
