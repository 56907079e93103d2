// Package keys maps key events to actions per page.
package keys

import (
	"github.com/Ae-Ti/BMN-sub000/internal/tui/ui"
	"github.com/gdamore/tcell/v2"
)

// Global is the scope whose bindings apply on every page.
const Global = ""

// Binding ties a key to an action. Bindings without a description work
// but are left out of the menu.
type Binding struct {
	Key         tcell.Key
	Rune        rune
	Description string
	Handler     func()
}

// Rune binds a printable key.
func Rune(r rune, description string, handler func()) *Binding {
	return &Binding{Key: tcell.KeyRune, Rune: r, Description: description, Handler: handler}
}

// Key binds a special key.
func Key(k tcell.Key, description string, handler func()) *Binding {
	return &Binding{Key: k, Description: description, Handler: handler}
}

// Matches reports whether ev triggers b.
func (b *Binding) Matches(ev *tcell.EventKey) bool {
	if b.Key != tcell.KeyRune {
		return ev.Key() == b.Key
	}
	return ev.Key() == tcell.KeyRune && ev.Rune() == b.Rune
}

// Label is how the key shows in the menu.
func (b *Binding) Label() string {
	if b.Key == tcell.KeyRune {
		return string(b.Rune)
	}
	if name, ok := tcell.KeyNames[b.Key]; ok {
		return name
	}
	return "?"
}

func (b *Binding) sameKey(o *Binding) bool {
	return b.Key == o.Key && (b.Key != tcell.KeyRune || b.Rune == o.Rune)
}

// Registry holds bindings per scope in registration order, so lookups and
// menus are deterministic.
type Registry struct {
	scopes map[string][]*Binding
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{scopes: make(map[string][]*Binding)}
}

// Bind adds b to scope, replacing an earlier binding of the same key there.
func (r *Registry) Bind(scope string, b *Binding) {
	list := r.scopes[scope]
	for i, old := range list {
		if old.sameKey(b) {
			list[i] = b
			return
		}
	}
	r.scopes[scope] = append(list, b)
}

// Lookup finds the binding for ev on page, preferring the page's own
// bindings over global ones.
func (r *Registry) Lookup(page string, ev *tcell.EventKey) *Binding {
	for _, scope := range []string{page, Global} {
		for _, b := range r.scopes[scope] {
			if b.Matches(ev) {
				return b
			}
		}
	}
	return nil
}

// HandleEvent runs the binding for ev on page. It reports whether one ran.
func (r *Registry) HandleEvent(page string, ev *tcell.EventKey) bool {
	b := r.Lookup(page, ev)
	if b == nil || b.Handler == nil {
		return false
	}
	b.Handler()
	return true
}

// Hints lists the described bindings active on page, page bindings first.
// A global binding shadowed by the page is left out.
func (r *Registry) Hints(page string) []ui.MenuHint {
	var hints []ui.MenuHint
	own := r.scopes[page]
	for _, b := range own {
		if b.Description != "" {
			hints = append(hints, ui.MenuHint{Key: b.Label(), Description: b.Description})
		}
	}
	if page == Global {
		return hints
	}
outer:
	for _, b := range r.scopes[Global] {
		if b.Description == "" {
			continue
		}
		for _, o := range own {
			if o.sameKey(b) {
				continue outer
			}
		}
		hints = append(hints, ui.MenuHint{Key: b.Label(), Description: b.Description})
	}
	return hints
}
