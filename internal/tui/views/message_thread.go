package views

import (
	"fmt"

	"github.com/Ae-Ti/BMN-sub000/internal/rpc"
	"github.com/Ae-Ti/BMN-sub000/internal/tui/ui"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// MessageThread displays messages and a composer for a single conversation.
type MessageThread struct {
	*tview.Flex
	theme        *ui.Theme
	messages     *tview.TextView
	composer     *tview.InputField
	name         string
	conversation string
	onSend       func(text string)
}

// NewMessageThread creates a new message thread view.
func NewMessageThread(theme *ui.Theme) *MessageThread {
	messages := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	messages.SetBorder(true)
	messages.SetBorderColor(theme.BorderColor)
	messages.SetBackgroundColor(theme.BgColor)
	messages.SetTextColor(theme.FgColor)
	messages.SetTitle(" Messages ")
	messages.SetTitleColor(theme.TitleColor)

	composer := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)
	composer.SetBorder(true)
	composer.SetBorderColor(theme.BorderColor)
	composer.SetBackgroundColor(theme.BgColor)
	composer.SetFieldBackgroundColor(theme.BgColor)
	composer.SetFieldTextColor(theme.FgColor)
	composer.SetLabelColor(theme.MenuKeyColor)
	composer.SetTitle(" Compose (i to focus) ")
	composer.SetTitleColor(theme.TitleColor)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(messages, 0, 1, true).
		AddItem(composer, 3, 0, false)

	mt := &MessageThread{
		Flex:     flex,
		theme:    theme,
		messages: messages,
		composer: composer,
	}

	composer.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter && mt.onSend != nil {
			text := composer.GetText()
			if text != "" {
				mt.onSend(text)
				composer.SetText("")
			}
		}
	})

	return mt
}

// Name implements Component.
func (mt *MessageThread) Name() string {
	if mt.name != "" {
		return mt.name
	}
	return "Messages"
}

// Init implements Component.
func (mt *MessageThread) Init() {}

// Start implements Component.
func (mt *MessageThread) Start() {}

// Stop implements Component.
func (mt *MessageThread) Stop() {}

// Primitive implements Component.
func (mt *MessageThread) Primitive() tview.Primitive { return mt.messages }

// Hints implements Component.
func (mt *MessageThread) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "i", Description: "Compose"},
		{Key: "o", Description: "Older"},
		{Key: "d", Description: "Details"},
		{Key: "Esc", Description: "Back"},
		{Key: ":", Description: "Command"},
		{Key: "?", Description: "Help"},
	}
}

// SetConversation binds the thread to a conversation and its display name.
func (mt *MessageThread) SetConversation(id, name string) {
	if name == "" {
		name = id
	}
	mt.conversation = id
	mt.name = name
	mt.messages.SetTitle(fmt.Sprintf(" %s ", tview.Escape(name)))
}

// Conversation returns the bound conversation id.
func (mt *MessageThread) Conversation() string {
	return mt.conversation
}

// SetOnSend sets the callback when a message is sent.
func (mt *MessageThread) SetOnSend(fn func(text string)) {
	mt.onSend = fn
}

// Update renders page, which is ordered oldest first.
func (mt *MessageThread) Update(page *rpc.MessagesResponse) {
	mt.messages.Clear()
	if page == nil {
		return
	}

	switch {
	case page.Loading:
		_, _ = fmt.Fprint(mt.messages, "[::d]loading older messages...[-:-:-]\n\n")
	case page.HasMore:
		_, _ = fmt.Fprint(mt.messages, "[::d]press o for older messages[-:-:-]\n\n")
	}
	if len(page.Messages) == 0 && !page.Loading {
		_, _ = fmt.Fprint(mt.messages, "[::d]no messages yet, say hi[-:-:-]\n")
	}

	self := ui.ColorName(mt.theme.SelfColor)
	peer := ui.ColorName(mt.theme.PeerColor)
	for _, m := range page.Messages {
		sender, color := mt.name, peer
		if m.FromMe {
			sender, color = "You", self
		}
		ts := formatTimestamp(m.CreatedAtMs)
		line := fmt.Sprintf("[%s::b]%s[-:-:-] [::d]%s[-:-:-]%s\n%s\n\n",
			color, tview.Escape(sanitizeForTerminal(sender)), ts, mt.deliveryMark(m.Delivery),
			tview.Escape(sanitizeForTerminal(m.Text)))
		_, _ = fmt.Fprint(mt.messages, line)
	}

	mt.messages.ScrollToEnd()
}

func (mt *MessageThread) deliveryMark(d string) string {
	switch d {
	case "pending":
		return fmt.Sprintf(" [%s]sending...[-]", ui.ColorName(mt.theme.PendingColor))
	case "failed":
		return fmt.Sprintf(" [%s]failed to send[-]", ui.ColorName(mt.theme.FailedColor))
	default:
		return ""
	}
}

// Messages returns the messages text view (for focus management).
func (mt *MessageThread) Messages() *tview.TextView {
	return mt.messages
}

// Composer returns the composer input field (for focus management).
func (mt *MessageThread) Composer() *tview.InputField {
	return mt.composer
}
