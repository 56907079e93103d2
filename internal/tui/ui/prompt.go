package ui

import (
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// PromptMode indicates the type of prompt (command or filter).
type PromptMode int

const (
	PromptCommand PromptMode = iota
	PromptFilter
)

const historySize = 50

// Prompt is the bottom input bar for commands and list filters. Each mode
// keeps its own history, browsed with Ctrl-P and Ctrl-N.
type Prompt struct {
	*tview.InputField
	theme     *Theme
	mode      PromptMode
	history   map[PromptMode]*History
	completer func(prefix string) []string
	onSubmit  func(mode PromptMode, text string)
	onCancel  func()
}

// NewPrompt creates a new prompt input bar.
func NewPrompt(theme *Theme) *Prompt {
	input := tview.NewInputField()
	input.SetBorder(true)
	input.SetBorderColor(theme.PromptBorderColor)
	input.SetBackgroundColor(theme.BgColor)
	input.SetFieldBackgroundColor(theme.BgColor)
	input.SetFieldTextColor(theme.FgColor)
	input.SetLabelColor(theme.MenuKeyColor)
	input.SetAutocompleteStyles(theme.BgColor,
		tcell.StyleDefault.Foreground(theme.FgColor).Background(theme.BgColor),
		tcell.StyleDefault.Foreground(theme.TableCursorFg).Background(theme.TableCursorBg))

	p := &Prompt{
		InputField: input,
		theme:      theme,
		history: map[PromptMode]*History{
			PromptCommand: NewHistory(historySize),
			PromptFilter:  NewHistory(historySize),
		},
	}

	input.SetAutocompleteFunc(func(text string) []string {
		if p.mode != PromptCommand || p.completer == nil || text == "" {
			return nil
		}
		return p.completer(text)
	})
	input.SetAutocompletedFunc(func(text string, _, source int) bool {
		if source == tview.AutocompletedNavigate {
			p.SetText(text)
			return false
		}
		p.SetText(text + " ")
		return true
	})

	input.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		h := p.history[p.mode]
		switch ev.Key() {
		case tcell.KeyCtrlP:
			if s, ok := h.Prev(p.GetText()); ok {
				p.SetText(s)
			}
			return nil
		case tcell.KeyCtrlN:
			if s, ok := h.Next(); ok {
				p.SetText(s)
			}
			return nil
		}
		return ev
	})

	input.SetDoneFunc(func(key tcell.Key) {
		switch key {
		case tcell.KeyEnter:
			text := strings.TrimSpace(p.GetText())
			if text != "" {
				p.history[p.mode].Add(text)
				if p.onSubmit != nil {
					p.onSubmit(p.mode, text)
				}
			}
			p.SetText("")
		case tcell.KeyEscape:
			p.SetText("")
			if p.onCancel != nil {
				p.onCancel()
			}
		}
	})

	return p
}

// SetCompleter sets the function suggesting command completions.
func (p *Prompt) SetCompleter(fn func(prefix string) []string) {
	p.completer = fn
}

// SetOnSubmit sets the callback when the prompt is submitted.
func (p *Prompt) SetOnSubmit(fn func(mode PromptMode, text string)) {
	p.onSubmit = fn
}

// SetOnCancel sets the callback when the prompt is cancelled.
func (p *Prompt) SetOnCancel(fn func()) {
	p.onCancel = fn
}

// Activate shows the prompt in the specified mode.
func (p *Prompt) Activate(mode PromptMode) {
	p.mode = mode
	p.history[mode].Reset()
	p.SetText("")
	switch mode {
	case PromptCommand:
		p.SetLabel(":")
		p.SetTitle(" Command ")
	case PromptFilter:
		p.SetLabel("/")
		p.SetTitle(" Filter ")
	}
}

// Mode returns the current prompt mode.
func (p *Prompt) Mode() PromptMode {
	return p.mode
}

// History is a bounded list of submitted entries with a browse cursor.
type History struct {
	entries []string
	limit   int
	pos     int    // index being shown; len(entries) when not browsing
	draft   string // text typed before browsing started
}

// NewHistory creates a history keeping at most limit entries.
func NewHistory(limit int) *History {
	return &History{limit: limit}
}

// Add records an entry. A repeat of the latest entry is not stored twice.
func (h *History) Add(s string) {
	if n := len(h.entries); n == 0 || h.entries[n-1] != s {
		h.entries = append(h.entries, s)
		if len(h.entries) > h.limit {
			h.entries = h.entries[len(h.entries)-h.limit:]
		}
	}
	h.Reset()
}

// Reset ends browsing.
func (h *History) Reset() {
	h.pos = len(h.entries)
	h.draft = ""
}

// Prev steps back one entry. current is remembered when browsing starts so
// Next can restore it.
func (h *History) Prev(current string) (string, bool) {
	if h.pos == 0 {
		return "", false
	}
	if h.pos == len(h.entries) {
		h.draft = current
	}
	h.pos--
	return h.entries[h.pos], true
}

// Next steps forward, ending on the text typed before browsing.
func (h *History) Next() (string, bool) {
	if h.pos >= len(h.entries) {
		return "", false
	}
	h.pos++
	if h.pos == len(h.entries) {
		return h.draft, true
	}
	return h.entries[h.pos], true
}
