package ui

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"
)

// crumbWidth bounds a crumb label; listing titles can be long.
const crumbWidth = 28

// Crumb is one step of the navigation trail.
type Crumb struct {
	Label string
	// Badge is an unread count shown next to the label when positive.
	Badge int
}

// Crumbs is a breadcrumb bar showing the current navigation path.
type Crumbs struct {
	*tview.TextView
	theme *Theme
}

// NewCrumbs creates a new breadcrumb bar.
func NewCrumbs(theme *Theme) *Crumbs {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)

	return &Crumbs{
		TextView: tv,
		theme:    theme,
	}
}

// Update renders the trail; the last crumb is the active page.
func (c *Crumbs) Update(trail []Crumb) {
	c.Clear()
	if len(trail) == 0 {
		return
	}

	fg, bg := colorName(c.theme.CrumbInactiveFg), colorName(c.theme.CrumbInactiveBg)
	parts := make([]string, 0, len(trail))
	for i, cr := range trail {
		label := tview.Escape(clipLabel(cr.Label, crumbWidth))
		if cr.Badge > 0 {
			label += fmt.Sprintf(" (%d)", cr.Badge)
		}
		if i == len(trail)-1 {
			fg, bg = colorName(c.theme.CrumbActiveFg), colorName(c.theme.CrumbActiveBg)
			parts = append(parts, fmt.Sprintf("[%s:%s:b] %s [-:-:-]", fg, bg, label))
			continue
		}
		parts = append(parts, fmt.Sprintf("[%s:%s:] %s [-:-:-]", fg, bg, label))
	}
	_, _ = fmt.Fprint(c, strings.Join(parts, " > "))
}

func clipLabel(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
