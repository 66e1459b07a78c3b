package ui

import (
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// PromptMode selects what a submitted prompt line means.
type PromptMode int

const (
	PromptCommand PromptMode = iota
	PromptFilter
	PromptReport
)

const historySize = 50

// Prompt is the single-line input bar for commands, inbox filtering and
// report reasons. Command mode keeps a history browsed with Up and Down.
type Prompt struct {
	*tview.InputField
	theme    *Theme
	mode     PromptMode
	history  []string
	cursor   int
	onSubmit func(mode PromptMode, text string)
	onChange func(mode PromptMode, text string)
	onCancel func()
}

func NewPrompt(theme *Theme) *Prompt {
	input := tview.NewInputField()
	input.SetBorder(true)
	input.SetBorderColor(theme.PromptBorderColor)
	input.SetBackgroundColor(theme.BgColor)
	input.SetFieldBackgroundColor(theme.BgColor)
	input.SetFieldTextColor(theme.FgColor)
	input.SetLabelColor(theme.MenuKeyColor)

	p := &Prompt{InputField: input, theme: theme}
	input.SetDoneFunc(p.done)
	input.SetChangedFunc(func(text string) {
		if p.onChange != nil {
			p.onChange(p.mode, text)
		}
	})
	input.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		if p.mode != PromptCommand {
			return ev
		}
		switch ev.Key() {
		case tcell.KeyUp:
			p.browse(-1)
			return nil
		case tcell.KeyDown:
			p.browse(1)
			return nil
		}
		return ev
	})
	return p
}

func (p *Prompt) done(key tcell.Key) {
	text := strings.TrimSpace(p.GetText())
	p.SetText("")
	if key == tcell.KeyEnter && text != "" {
		if p.mode == PromptCommand {
			p.remember(text)
		}
		if p.onSubmit != nil {
			p.onSubmit(p.mode, text)
		}
		return
	}
	if (key == tcell.KeyEnter || key == tcell.KeyEscape) && p.onCancel != nil {
		p.onCancel()
	}
}

func (p *Prompt) remember(line string) {
	if n := len(p.history); n == 0 || p.history[n-1] != line {
		p.history = append(p.history, line)
	}
	if len(p.history) > historySize {
		p.history = p.history[len(p.history)-historySize:]
	}
	p.cursor = len(p.history)
}

// browse moves through the command history; past the newest entry the line is empty.
func (p *Prompt) browse(delta int) {
	if len(p.history) == 0 {
		return
	}
	p.cursor = max(0, min(len(p.history), p.cursor+delta))
	if p.cursor == len(p.history) {
		p.SetText("")
		return
	}
	p.SetText(p.history[p.cursor])
}

// History returns the remembered commands, oldest first.
func (p *Prompt) History() []string {
	return append([]string(nil), p.history...)
}

func (p *Prompt) SetOnSubmit(fn func(mode PromptMode, text string)) {
	p.onSubmit = fn
}

// SetOnChange sets the callback fired on every edit.
func (p *Prompt) SetOnChange(fn func(mode PromptMode, text string)) {
	p.onChange = fn
}

// SetOnCancel sets the callback for Esc or an empty submission.
func (p *Prompt) SetOnCancel(fn func()) {
	p.onCancel = fn
}

// Activate clears the line and switches to mode.
func (p *Prompt) Activate(mode PromptMode) {
	p.mode = mode
	p.cursor = len(p.history)
	p.SetText("")
	switch mode {
	case PromptCommand:
		p.SetLabel(":")
		p.SetTitle(" Command ")
	case PromptFilter:
		p.SetLabel("/")
		p.SetTitle(" Filter ")
	case PromptReport:
		p.SetLabel("reason> ")
		p.SetTitle(" Report conversation ")
	}
}

func (p *Prompt) Mode() PromptMode {
	return p.mode
}
