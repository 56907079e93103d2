package ui

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"
)

// Crumbs is the breadcrumb bar under the page area. Besides the navigation
// path it carries an unread badge so new messages stay visible from any page.
type Crumbs struct {
	*tview.TextView
	theme  *Theme
	stack  []string
	unread int
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

// Update sets the trail from the page stack.
func (c *Crumbs) Update(stack []string) {
	c.stack = append(c.stack[:0], stack...)
	c.render()
}

// SetUnread sets the unread badge. Zero hides it.
func (c *Crumbs) SetUnread(n int) {
	if n == c.unread {
		return
	}
	c.unread = n
	c.render()
}

func (c *Crumbs) render() {
	c.Clear()
	if len(c.stack) == 0 {
		return
	}

	parts := make([]string, 0, len(c.stack))
	for i, name := range c.stack {
		fg, bg, attr := c.theme.CrumbInactiveFg, c.theme.CrumbInactiveBg, ""
		if i == len(c.stack)-1 {
			fg, bg, attr = c.theme.CrumbActiveFg, c.theme.CrumbActiveBg, "b"
		}
		parts = append(parts, fmt.Sprintf("[%s:%s:%s] %s [-:-:-]",
			ColorName(fg), ColorName(bg), attr, tview.Escape(name)))
	}
	text := strings.Join(parts, " > ")
	if c.unread > 0 {
		text += fmt.Sprintf("  [%s::b]%d unread[-:-:-]", ColorName(c.theme.UnreadColor), c.unread)
	}
	_, _ = fmt.Fprint(c, text)
}
