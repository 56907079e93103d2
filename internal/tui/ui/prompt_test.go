package ui

import (
	"testing"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

func TestHistoryBrowse(t *testing.T) {
	h := NewHistory(10)
	h.Add("search lunch")
	h.Add("open alice")
	h.Add("open alice")

	if len(h.entries) != 2 {
		t.Fatalf("entries = %v", h.entries)
	}

	if s, ok := h.Prev("peo"); !ok || s != "open alice" {
		t.Errorf("prev = %q %v", s, ok)
	}
	if s, ok := h.Prev("open alice"); !ok || s != "search lunch" {
		t.Errorf("prev = %q %v", s, ok)
	}
	if _, ok := h.Prev("search lunch"); ok {
		t.Error("prev past the oldest entry")
	}
	if s, ok := h.Next(); !ok || s != "open alice" {
		t.Errorf("next = %q %v", s, ok)
	}
	if s, ok := h.Next(); !ok || s != "peo" {
		t.Errorf("next should restore the draft, got %q %v", s, ok)
	}
	if _, ok := h.Next(); ok {
		t.Error("next past the draft")
	}
}

func TestHistoryLimit(t *testing.T) {
	h := NewHistory(2)
	h.Add("a")
	h.Add("b")
	h.Add("c")
	if len(h.entries) != 2 || h.entries[0] != "b" {
		t.Errorf("entries = %v", h.entries)
	}
}

func TestPromptRecordsPerMode(t *testing.T) {
	p := NewPrompt(DefaultTheme())
	var got []string
	p.SetOnSubmit(func(_ PromptMode, text string) { got = append(got, text) })

	p.Activate(PromptFilter)
	p.SetText(" ali ")
	p.InputHandler()(tcell.NewEventKey(tcell.KeyEnter, 0, tcell.ModNone), func(tview.Primitive) {})

	if len(got) != 1 || got[0] != "ali" {
		t.Fatalf("submitted = %v", got)
	}
	if len(p.history[PromptFilter].entries) != 1 || len(p.history[PromptCommand].entries) != 0 {
		t.Errorf("histories = %v / %v", p.history[PromptFilter].entries, p.history[PromptCommand].entries)
	}
}
