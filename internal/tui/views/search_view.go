package views

import (
	"fmt"
	"strings"

	"github.com/Ae-Ti/BMN-sub000/internal/rpc"
	"github.com/Ae-Ti/BMN-sub000/internal/tui/ui"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// SearchMode selects what the search view queries.
type SearchMode int

const (
	SearchMessages SearchMode = iota
	SearchPeople
)

// SearchView provides message and correspondent search.
type SearchView struct {
	*tview.Flex
	theme   *ui.Theme
	input   *tview.InputField
	results *tview.Table
	mode    SearchMode
	onQuery func(mode SearchMode, query string)
	hits    []rpc.SearchHit
	people  []rpc.Correspondent
}

// NewSearchView creates a new search view.
func NewSearchView(theme *ui.Theme) *SearchView {
	input := tview.NewInputField().
		SetFieldWidth(0)
	input.SetBorderColor(theme.BorderColor)
	input.SetBackgroundColor(theme.BgColor)
	input.SetFieldBackgroundColor(theme.BgColor)
	input.SetFieldTextColor(theme.FgColor)
	input.SetLabelColor(theme.MenuKeyColor)

	results := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	results.SetBorder(true)
	results.SetBorderColor(theme.BorderColor)
	results.SetBackgroundColor(theme.BgColor)
	results.SetTitle(" Results ")
	results.SetTitleColor(theme.TitleColor)
	results.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(input, 1, 0, true).
		AddItem(results, 0, 1, false)

	sv := &SearchView{
		Flex:    flex,
		theme:   theme,
		input:   input,
		results: results,
	}
	sv.SetMode(SearchMessages)

	input.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter && sv.onQuery != nil {
			sv.onQuery(sv.mode, sv.input.GetText())
		}
	})

	return sv
}

// Name implements Component.
func (sv *SearchView) Name() string {
	if sv.mode == SearchPeople {
		return "People"
	}
	return "Search"
}

// Init implements Component.
func (sv *SearchView) Init() {}

// Start implements Component.
func (sv *SearchView) Start() {}

// Stop implements Component.
func (sv *SearchView) Stop() {}

// Primitive implements Component.
func (sv *SearchView) Primitive() tview.Primitive { return sv.input }

// Hints implements Component.
func (sv *SearchView) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Enter", Description: "Search/Open"},
		{Key: "Tab", Description: "Results"},
		{Key: "Esc", Description: "Back"},
		{Key: ":", Description: "Command"},
	}
}

// SetMode switches between message and correspondent search, clearing
// previous results.
func (sv *SearchView) SetMode(mode SearchMode) {
	sv.mode = mode
	sv.hits = nil
	sv.people = nil
	sv.results.Clear()
	if mode == SearchPeople {
		sv.input.SetLabel(" People: ")
	} else {
		sv.input.SetLabel(" Search: ")
	}
}

// Mode returns the current search mode.
func (sv *SearchView) Mode() SearchMode {
	return sv.mode
}

// SetQuery fills the input without submitting it.
func (sv *SearchView) SetQuery(q string) {
	sv.input.SetText(q)
}

// SetOnQuery sets the callback when a search query is submitted.
func (sv *SearchView) SetOnQuery(fn func(mode SearchMode, query string)) {
	sv.onQuery = fn
}

func (sv *SearchView) header(cols ...string) {
	sv.results.Clear()
	for col, h := range cols {
		sv.results.SetCell(0, col, tview.NewTableCell(h).
			SetSelectable(false).
			SetTextColor(sv.theme.TableHeaderFg).
			SetBackgroundColor(sv.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold))
	}
}

// UpdateMessages shows message search hits.
func (sv *SearchView) UpdateMessages(hits []rpc.SearchHit) {
	sv.hits = hits
	sv.people = nil
	sv.header(" CHAT", " SNIPPET", " TIME")

	for i, h := range hits {
		row := i + 1
		name := h.DisplayName
		if name == "" {
			name = h.ConversationKey
		}
		if h.FromMe {
			name += " (you)"
		}
		snippet := h.Snippet
		if snippet == "" {
			snippet = h.Text
		}
		sv.results.SetCell(row, 0, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(name))).SetMaxWidth(25).SetTextColor(sv.theme.FgColor))
		sv.results.SetCell(row, 1, tview.NewTableCell(" "+highlight(oneLine(snippet), sv.theme)).SetExpansion(1).SetTextColor(sv.theme.FgColor))
		sv.results.SetCell(row, 2, tview.NewTableCell(" "+formatTimestamp(h.CreatedAtMs)).SetMaxWidth(12).SetTextColor(sv.theme.FgColor))
	}
	sv.results.SetTitle(fmt.Sprintf(" Results (%d) ", len(hits)))
}

// UpdatePeople shows correspondent search results.
func (sv *SearchView) UpdatePeople(people []rpc.Correspondent) {
	sv.people = people
	sv.hits = nil
	sv.header(" NAME", " NICKNAME", " USER")

	for i, p := range people {
		row := i + 1
		name := p.DisplayName
		if name == "" {
			name = p.ID
		}
		sv.results.SetCell(row, 0, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(name))).SetExpansion(1).SetTextColor(sv.theme.FgColor))
		sv.results.SetCell(row, 1, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(p.Nickname))).SetExpansion(1).SetTextColor(sv.theme.FgColor))
		sv.results.SetCell(row, 2, tview.NewTableCell(" "+tview.Escape(p.ID)).SetTextColor(sv.theme.CounterColor))
	}
	sv.results.SetTitle(fmt.Sprintf(" People (%d) ", len(people)))
}

// SelectedConversation returns the conversation of the selected row, and the
// display name when known.
func (sv *SearchView) SelectedConversation() (string, string) {
	row, _ := sv.results.GetSelection()
	idx := row - 1
	switch {
	case idx >= 0 && idx < len(sv.hits):
		return sv.hits[idx].ConversationKey, sv.hits[idx].DisplayName
	case idx >= 0 && idx < len(sv.people):
		return sv.people[idx].ID, sv.people[idx].DisplayName
	}
	return "", ""
}

// Input returns the search input field.
func (sv *SearchView) Input() *tview.InputField {
	return sv.input
}

// Results returns the results table.
func (sv *SearchView) Results() *tview.Table {
	return sv.results
}

// highlight turns the <<match>> markers of a snippet into color tags.
func highlight(snippet string, theme *ui.Theme) string {
	s := tview.Escape(sanitizeForTerminal(snippet))
	s = strings.ReplaceAll(s, "<<", "["+ui.ColorName(theme.CounterColor)+"::b]")
	return strings.ReplaceAll(s, ">>", "[-:-:-]")
}
