package ui

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"
)

// menuRows is how many hints fit in one header column.
const menuRows = 6

// Menu displays keyboard shortcut hints in the header, wrapping into extra
// columns when a view has more hints than the header is tall.
type Menu struct {
	*tview.TextView
	theme *Theme
}

// NewMenu creates a new menu hint bar.
func NewMenu(theme *Theme) *Menu {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 2, 0)

	return &Menu{
		TextView: tv,
		theme:    theme,
	}
}

// Update renders hints column by column.
func (m *Menu) Update(hints []MenuHint) {
	m.Clear()
	if len(hints) == 0 {
		return
	}

	cols := (len(hints) + menuRows - 1) / menuRows
	width := make([]int, cols)
	for i, h := range hints {
		c := i / menuRows
		if w := len(h.Key) + len(h.Description) + 3; w > width[c] {
			width[c] = w
		}
	}

	keyColor := ColorName(m.theme.MenuKeyColor)
	numColor := ColorName(m.theme.NumericKeyColor)
	fg := ColorName(m.theme.FgColor)

	lines := make([]string, min(len(hints), menuRows))
	for i, h := range hints {
		row, col := i%menuRows, i/menuRows
		kc := keyColor
		if h.Numeric {
			kc = numColor
		}
		cell := fmt.Sprintf("[%s::b]<%s>[-:-:-] [%s]%s[-]", kc, h.Key, fg, h.Description)
		if col < cols-1 {
			cell += strings.Repeat(" ", width[col]-len(h.Key)-len(h.Description)-3+2)
		}
		lines[row] += cell
	}
	_, _ = fmt.Fprint(m, strings.Join(lines, "\n"))
}
