package ui

import (
	"slices"

	"github.com/rivo/tview"
)

// Pages keeps a navigation stack over tview.Pages. A page appears on the
// stack at most once and the root page is never popped.
type Pages struct {
	*tview.Pages
	stack    []string
	onChange func(stack []string)
}

func NewPages() *Pages {
	return &Pages{Pages: tview.NewPages()}
}

// SetOnChange sets a callback that fires after every stack change.
func (p *Pages) SetOnChange(fn func(stack []string)) {
	p.onChange = fn
}

// Push shows name on top. A page already on the stack is returned to by
// popping the pages above it.
func (p *Pages) Push(name string) {
	if slices.Contains(p.stack, name) {
		p.PopTo(name)
		return
	}
	if top := p.Current(); top != "" {
		p.HidePage(top)
	}
	p.stack = append(p.stack, name)
	p.show(name)
}

// Pop removes the top page and returns its name, or "" at the root.
func (p *Pages) Pop() string {
	if len(p.stack) < 2 {
		return ""
	}
	top := p.stack[len(p.stack)-1]
	p.HidePage(top)
	p.stack = p.stack[:len(p.stack)-1]
	p.show(p.Current())
	return top
}

// PopTo pops pages until name is on top. Unknown names are ignored.
func (p *Pages) PopTo(name string) {
	i := slices.Index(p.stack, name)
	if i < 0 || i == len(p.stack)-1 {
		return
	}
	for _, n := range p.stack[i+1:] {
		p.HidePage(n)
	}
	p.stack = p.stack[:i+1]
	p.show(name)
}

// Current returns the top page, or "" when the stack is empty.
func (p *Pages) Current() string {
	if len(p.stack) == 0 {
		return ""
	}
	return p.stack[len(p.stack)-1]
}

func (p *Pages) Stack() []string { return slices.Clone(p.stack) }

func (p *Pages) Depth() int { return len(p.stack) }

// Reset makes name the only page on the stack.
func (p *Pages) Reset(name string) {
	for _, n := range p.stack {
		p.HidePage(n)
	}
	p.stack = []string{name}
	p.show(name)
}

func (p *Pages) show(name string) {
	p.ShowPage(name)
	p.SendToFront(name)
	if p.onChange != nil {
		p.onChange(p.Stack())
	}
}
