package ui

import "github.com/rivo/tview"

// Pages is a stack-based page manager wrapping tview.Pages. The bottom of
// the stack is the root view; it is never popped.
type Pages struct {
	*tview.Pages
	stack    []string
	onChange func(stack []string)
}

// NewPages creates a new stack-based page manager.
func NewPages() *Pages {
	return &Pages{
		Pages: tview.NewPages(),
	}
}

// SetOnChange sets a callback that fires when the stack changes.
func (p *Pages) SetOnChange(fn func(stack []string)) {
	p.onChange = fn
}

// Push shows name on top of the stack. Pushing the current page is a no-op;
// pushing a page already further down moves it back to the top instead of
// stacking a second copy.
func (p *Pages) Push(name string) {
	if p.Current() == name {
		return
	}
	if len(p.stack) > 0 {
		p.HidePage(p.Current())
	}
	p.remove(name)
	p.stack = append(p.stack, name)
	p.ShowPage(name)
	p.SendToFront(name)
	p.notify()
}

// Pop removes the top page and shows the previous one. It returns the
// popped page, or "" when only the root is left.
func (p *Pages) Pop() string {
	if len(p.stack) <= 1 {
		return ""
	}
	top := p.stack[len(p.stack)-1]
	p.HidePage(top)
	p.stack = p.stack[:len(p.stack)-1]
	p.showCurrent()
	p.notify()
	return top
}

// PopTo pops pages until name is on top. It reports false, leaving the
// stack untouched, when name is not on the stack.
func (p *Pages) PopTo(name string) bool {
	idx := p.index(name)
	if idx < 0 {
		return false
	}
	if idx == len(p.stack)-1 {
		return true
	}
	for _, n := range p.stack[idx+1:] {
		p.HidePage(n)
	}
	p.stack = p.stack[:idx+1]
	p.showCurrent()
	p.notify()
	return true
}

// Has reports whether name is anywhere on the stack.
func (p *Pages) Has(name string) bool {
	return p.index(name) >= 0
}

// Current returns the name of the current (top) page.
func (p *Pages) Current() string {
	if len(p.stack) == 0 {
		return ""
	}
	return p.stack[len(p.stack)-1]
}

// Stack returns a copy of the current page stack.
func (p *Pages) Stack() []string {
	s := make([]string, len(p.stack))
	copy(s, p.stack)
	return s
}

// Depth returns the current stack depth.
func (p *Pages) Depth() int {
	return len(p.stack)
}

// Reset clears the stack and shows only the given page.
func (p *Pages) Reset(name string) {
	for _, n := range p.stack {
		p.HidePage(n)
	}
	p.stack = []string{name}
	p.showCurrent()
	p.notify()
}

func (p *Pages) index(name string) int {
	for i, n := range p.stack {
		if n == name {
			return i
		}
	}
	return -1
}

func (p *Pages) remove(name string) {
	if i := p.index(name); i >= 0 {
		p.stack = append(p.stack[:i], p.stack[i+1:]...)
	}
}

func (p *Pages) showCurrent() {
	if cur := p.Current(); cur != "" {
		p.ShowPage(cur)
		p.SendToFront(cur)
	}
}

func (p *Pages) notify() {
	if p.onChange != nil {
		p.onChange(p.Stack())
	}
}
