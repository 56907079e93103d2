package views

import (
	"fmt"

	"github.com/Ae-Ti/BMN-sub000/internal/tui/ui"
	"github.com/rivo/tview"
)

// HelpView displays key binding reference.
type HelpView struct {
	*tview.TextView
	theme *ui.Theme
}

// NewHelpView creates a new help view.
func NewHelpView(theme *ui.Theme) *HelpView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Help ")
	tv.SetTitleColor(theme.TitleColor)

	hv := &HelpView{
		TextView: tv,
		theme:    theme,
	}
	hv.render()
	return hv
}

// Name implements Component.
func (hv *HelpView) Name() string { return "Help" }

// Init implements Component.
func (hv *HelpView) Init() {}

// Start implements Component.
func (hv *HelpView) Start() {}

// Stop implements Component.
func (hv *HelpView) Stop() {}

// Primitive implements Component.
func (hv *HelpView) Primitive() tview.Primitive { return hv }

// Hints implements Component.
func (hv *HelpView) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Esc", Description: "Back"},
	}
}

func (hv *HelpView) render() {
	kc := ui.ColorName(hv.theme.MenuKeyColor)

	help := fmt.Sprintf(`
  [::b]Global Keys[-:-:-]

  [%[1]s]:[-:-:-]      Command mode        [%[1]s]Esc[-:-:-]    Cancel / Go back
  [%[1]s]/[-:-:-]      Filter mode         [%[1]s]?[-:-:-]      Help
  [%[1]s]q[-:-:-]      Quit / Back         [%[1]s]Ctrl-C[-:-:-] Quit immediately
  [%[1]s]Ctrl-R[-:-:-] Refresh everything

  [::b]Conversation List[-:-:-]

  [%[1]s]Enter[-:-:-]  Open conversation   [%[1]s]0[-:-:-]      Show all (clear filter)
  [%[1]s]1-9[-:-:-]    Jump to Nth row     [%[1]s]p[-:-:-]      Find people
  [%[1]s]j/Down[-:-:-] Move down           [%[1]s]k/Up[-:-:-]   Move up

  [::b]Message Thread[-:-:-]

  [%[1]s]i[-:-:-]      Focus composer      [%[1]s]d[-:-:-]      Conversation details
  [%[1]s]o[-:-:-]      Load older messages [%[1]s]Enter[-:-:-]  Send (in composer)
  [%[1]s]Esc[-:-:-]    Exit composer

  [::b]Commands (: mode)[-:-:-]

  [%[1]s]Tab[-:-:-] completes a command name, [%[1]s]Ctrl-P[-:-:-]/[%[1]s]Ctrl-N[-:-:-] browse history.

  [%[1]s]:search [query][-:-:-]   Search message history (:s)
  [%[1]s]:people [query][-:-:-]   Find someone to message (:p)
  [%[1]s]:open <user>[-:-:-]      Open a conversation by user id (:o)
  [%[1]s]:outbox[-:-:-]           Show failed sends in the status bar
  [%[1]s]:logout[-:-:-]           Discard the session token
  [%[1]s]:help[-:-:-] / [%[1]s]:h[-:-:-]      Show this help
  [%[1]s]:quit[-:-:-] / [%[1]s]:q[-:-:-]      Quit application
`, kc)

	_, _ = fmt.Fprint(hv, help)
}
