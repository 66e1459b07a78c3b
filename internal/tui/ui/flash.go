package ui

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bibswap/swapchat/internal/convo"
	"github.com/rivo/tview"
)

// FlashLevel represents the severity of a flash message.
type FlashLevel int

const (
	FlashInfo FlashLevel = iota
	FlashWarn
	FlashErr
)

var flashTTL = map[FlashLevel]time.Duration{
	FlashInfo: 4 * time.Second,
	FlashWarn: 8 * time.Second,
	FlashErr:  12 * time.Second,
}

// FlashMessage is a transient notice for the bottom bar.
type FlashMessage struct {
	Text    string
	Level   FlashLevel
	Code    convo.ErrorCode
	Expires time.Time
}

// FlashModel holds the latest notice. Publishing never blocks; watchers that
// fall behind only miss redraw hints.
type FlashModel struct {
	mu      sync.RWMutex
	current FlashMessage
	watchCh chan FlashMessage
	now     func() time.Time
}

// NewFlashModel creates a new flash model.
func NewFlashModel() *FlashModel {
	return &FlashModel{
		watchCh: make(chan FlashMessage, 8),
		now:     time.Now,
	}
}

func (f *FlashModel) Info(msg string) { f.set(FlashMessage{Text: msg, Level: FlashInfo}) }

func (f *FlashModel) Warn(msg string) { f.set(FlashMessage{Text: msg, Level: FlashWarn}) }

// Err shows err by its conversation error reason. Blocked, validation and
// translation failures are recoverable in place, so they show as warnings.
func (f *FlashModel) Err(err error) {
	if err == nil {
		return
	}
	fm := FlashMessage{Text: err.Error(), Level: FlashErr}
	var ce *convo.Error
	if errors.As(err, &ce) {
		fm.Code = ce.Code
		if ce.Reason != "" {
			fm.Text = ce.Reason
		}
		switch ce.Code {
		case convo.CodeBlocked, convo.CodeValidation, convo.CodeTranslationUnavailable:
			fm.Level = FlashWarn
		}
	}
	f.set(fm)
}

func (f *FlashModel) set(fm FlashMessage) {
	fm.Expires = f.now().Add(flashTTL[fm.Level])
	f.mu.Lock()
	f.current = fm
	f.mu.Unlock()
	select {
	case f.watchCh <- fm:
	default:
	}
}

// GetMessage returns the current flash message, or nil if expired.
func (f *FlashModel) GetMessage() *FlashMessage {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.current.Text == "" || f.now().After(f.current.Expires) {
		return nil
	}
	m := f.current
	return &m
}

// Watch returns a channel that receives flash messages.
func (f *FlashModel) Watch() <-chan FlashMessage {
	return f.watchCh
}

// FlashBar is the one-line notice bar at the bottom of the screen.
type FlashBar struct {
	*tview.TextView
	theme *Theme
}

func NewFlashBar(theme *Theme) *FlashBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	return &FlashBar{TextView: tv, theme: theme}
}

// Update renders msg; nil clears the bar.
func (fb *FlashBar) Update(msg *FlashMessage) {
	fb.Clear()
	if msg == nil {
		return
	}

	color := fb.theme.FlashInfoColor
	switch msg.Level {
	case FlashWarn:
		color = fb.theme.FlashWarnColor
	case FlashErr:
		color = fb.theme.FlashErrColor
	}
	text := tview.Escape(msg.Text)
	if msg.Code != "" && msg.Level == FlashErr {
		text = fmt.Sprintf("%s (%s)", text, msg.Code)
	}
	_, _ = fmt.Fprintf(fb, " [%s]%s[-]", colorName(color), text)
}
