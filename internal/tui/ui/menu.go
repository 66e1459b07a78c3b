package ui

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"
)

// Menu lays keyboard hints out column by column in the header.
type Menu struct {
	*tview.TextView
	theme *Theme
	rows  int
}

// NewMenu creates a menu that fills at most rows lines per column.
func NewMenu(theme *Theme, rows int) *Menu {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 2, 0)

	if rows < 1 {
		rows = 1
	}
	return &Menu{TextView: tv, theme: theme, rows: rows}
}

// Update renders hints. Columns are padded to their widest cell so keys line up.
func (m *Menu) Update(hints []MenuHint) {
	m.Clear()
	if len(hints) == 0 {
		return
	}

	cols := (len(hints) + m.rows - 1) / m.rows
	widths := make([]int, cols)
	for i, h := range hints {
		if w := cellWidth(h); w > widths[i/m.rows] {
			widths[i/m.rows] = w
		}
	}

	var b strings.Builder
	for r := 0; r < m.rows && r < len(hints); r++ {
		for c := 0; c < cols; c++ {
			i := c*m.rows + r
			if i >= len(hints) {
				break
			}
			h := hints[i]
			b.WriteString(m.cell(h))
			if c < cols-1 {
				b.WriteString(strings.Repeat(" ", widths[c]-cellWidth(h)+2))
			}
		}
		b.WriteByte('\n')
	}
	_, _ = fmt.Fprint(m, b.String())
}

func (m *Menu) cell(h MenuHint) string {
	kc := colorName(m.theme.MenuKeyColor)
	switch {
	case h.Disabled:
		hc := colorName(m.theme.HintColor)
		return fmt.Sprintf("[%s]<%s> %s[-]", hc, h.Key, tview.Escape(h.Description))
	case h.Numeric:
		kc = colorName(m.theme.NumericKeyColor)
	}
	return fmt.Sprintf("[%s::b]<%s>[-:-:-] %s", kc, h.Key, tview.Escape(h.Description))
}

func cellWidth(h MenuHint) int {
	return tview.TaggedStringWidth(fmt.Sprintf("<%s> %s", h.Key, h.Description))
}
