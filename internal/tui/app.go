package tui

import (
	"context"
	"fmt"
	"time"

	"github.com/Ae-Ti/BMN-sub000/internal/tui/keys"
	"github.com/Ae-Ti/BMN-sub000/internal/tui/model"
	"github.com/Ae-Ti/BMN-sub000/internal/tui/ui"
	"github.com/Ae-Ti/BMN-sub000/internal/tui/views"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

const (
	pageConversations = "conversations"
	pageThread        = "thread"
	pageDetails       = "details"
	pageSearch        = "search"
	pageHelp          = "help"
)

// App is the main TUI application shell.
type App struct {
	app      *tview.Application
	theme    *ui.Theme
	pages    *ui.Pages
	vm       *model.ViewModel
	flash    *ui.FlashModel
	registry *keys.Registry

	info     *ui.SessionInfo
	menu     *ui.Menu
	logo     *ui.Logo
	crumbs   *ui.Crumbs
	prompt   *ui.Prompt
	flashBar *ui.FlashBar
	body     *tview.Flex

	convList *views.ConversationList
	thread   *views.MessageThread
	details  *views.ConversationInfo
	searchV  *views.SearchView
	help     *views.HelpView

	components map[string]ui.Component
	promptOpen bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(d model.Daemon) *App {
	ctx, cancel := context.WithCancel(context.Background())
	theme := ui.DefaultTheme()
	flash := ui.NewFlashModel()

	a := &App{
		app:      tview.NewApplication(),
		theme:    theme,
		pages:    ui.NewPages(),
		vm:       model.NewViewModel(d, flash),
		flash:    flash,
		registry: keys.NewRegistry(),
		info:     ui.NewSessionInfo(theme),
		menu:     ui.NewMenu(theme),
		logo:     ui.NewLogo(theme),
		crumbs:   ui.NewCrumbs(theme),
		prompt:   ui.NewPrompt(theme),
		flashBar: ui.NewFlashBar(theme),
		convList: views.NewConversationList(theme),
		thread:   views.NewMessageThread(theme),
		details:  views.NewConversationInfo(theme),
		searchV:  views.NewSearchView(theme),
		help:     views.NewHelpView(theme),
		ctx:      ctx,
		cancel:   cancel,
	}
	a.components = map[string]ui.Component{
		pageConversations: a.convList,
		pageThread:        a.thread,
		pageDetails:       a.details,
		pageSearch:        a.searchV,
		pageHelp:          a.help,
	}

	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupBindings() {
	a.registry.Bind(keys.Global, keys.Rune('?', "Help", func() { a.push(pageHelp) }))
	a.registry.Bind(keys.Global, keys.Rune(':', "Command", func() { a.openPrompt(ui.PromptCommand) }))
	a.registry.Bind(keys.Global, keys.Rune('q', "Back", a.back))
	a.registry.Bind(keys.Global, keys.Key(tcell.KeyCtrlR, "Refresh", a.refresh))

	a.registry.Bind(pageConversations, keys.Rune('/', "Filter", func() { a.openPrompt(ui.PromptFilter) }))
	a.registry.Bind(pageConversations, keys.Rune('0', "", func() {
		a.convList.ClearFilter()
		a.convList.Update(a.vm.Conversations())
	}))
	a.registry.Bind(pageConversations, keys.Rune('p', "People", func() { a.showSearch(views.SearchPeople, "") }))
	for n := '1'; n <= '9'; n++ {
		idx := int(n - '0')
		a.registry.Bind(pageConversations, keys.Rune(n, "", func() {
			if id := a.convList.ConversationByIndex(idx); id != "" {
				a.openConversation(id, "")
			}
		}))
	}

	a.registry.Bind(pageThread, keys.Rune('i', "Compose", func() { a.app.SetFocus(a.thread.Composer()) }))
	a.registry.Bind(pageThread, keys.Rune('o', "Older", a.loadOlder))
	a.registry.Bind(pageThread, keys.Rune('d', "Details", a.showDetails))
}

func (a *App) setupCallbacks() {
	a.pages.SetOnChange(func([]string) {
		a.updateCrumbs()
		a.updateMenu()
	})

	a.convList.SetSelectedFunc(func(row, _ int) {
		if id := a.convList.ConversationByIndex(row); id != "" {
			a.openConversation(id, "")
		}
	})

	a.thread.SetOnSend(func(text string) {
		go func() {
			if err := a.vm.Send(a.ctx, text); err != nil {
				a.flash.Err(err)
			}
			a.app.QueueUpdateDraw(a.render)
		}()
	})

	a.searchV.SetOnQuery(func(mode views.SearchMode, query string) {
		go a.runSearch(mode, query)
	})
	a.searchV.Results().SetSelectedFunc(func(_, _ int) {
		if id, name := a.searchV.SelectedConversation(); id != "" {
			a.openConversation(id, name)
		}
	})

	a.prompt.SetOnSubmit(func(mode ui.PromptMode, text string) {
		a.closePrompt()
		switch mode {
		case ui.PromptFilter:
			a.convList.SetFilter(text)
		case ui.PromptCommand:
			a.runCommand(ParseCommand(text))
		}
	})
	a.prompt.SetOnCancel(a.closePrompt)
	a.prompt.SetCompleter(CompleteCommand)
}

func (a *App) setupLayout() {
	a.pages.AddPage(pageConversations, a.convList, true, false)
	a.pages.AddPage(pageThread, a.thread, true, false)
	a.pages.AddPage(pageDetails, a.details, true, false)
	a.pages.AddPage(pageSearch, a.searchV, true, false)
	a.pages.AddPage(pageHelp, a.help, true, false)

	header := tview.NewFlex().
		AddItem(a.info, 0, 2, false).
		AddItem(a.menu, 0, 2, false).
		AddItem(a.logo, 20, 0, false)

	a.body = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(header, 6, 0, false).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.crumbs, 1, 0, false).
		AddItem(a.flashBar, 1, 0, false)

	a.app.SetRoot(a.body, true)
	a.pages.Reset(pageConversations)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		// Text input widgets handle their own keys.
		if _, ok := a.app.GetFocus().(*tview.InputField); ok {
			if event.Key() == tcell.KeyEscape && !a.promptOpen {
				if a.pages.Current() == pageThread {
					a.focusCurrent()
				} else {
					a.back()
				}
				return nil
			}
			if event.Key() == tcell.KeyTab && a.pages.Current() == pageSearch {
				a.app.SetFocus(a.searchV.Results())
				return nil
			}
			return event
		}

		switch event.Key() {
		case tcell.KeyEscape:
			if a.pages.Depth() > 1 {
				a.back()
			} else {
				a.convList.ClearFilter()
			}
			return nil
		case tcell.KeyTab:
			if a.pages.Current() == pageSearch {
				a.app.SetFocus(a.searchV.Input())
				return nil
			}
		}

		if a.registry.HandleEvent(a.pages.Current(), event) {
			return nil
		}
		return event
	})
}

func (a *App) push(page string) {
	if a.pages.Current() == page {
		return
	}
	a.pages.Push(page)
	a.focusCurrent()
}

// back pops the current page. On the root page it quits.
func (a *App) back() {
	if a.pages.Depth() <= 1 {
		a.Stop()
		return
	}
	if a.pages.Pop() == pageThread {
		a.vm.Close()
	}
	a.focusCurrent()
	a.render()
}

// updateCrumbs names the page stack. Names can change without the stack
// changing, as when the search page switches mode.
func (a *App) updateCrumbs() {
	stack := a.pages.Stack()
	names := make([]string, 0, len(stack))
	for _, p := range stack {
		if c, ok := a.components[p]; ok {
			names = append(names, c.Name())
		}
	}
	a.crumbs.Update(names)
}

// updateMenu shows the current page's hints followed by the bound keys it
// does not mention.
func (a *App) updateMenu() {
	page := a.pages.Current()
	var hints []ui.MenuHint
	if c, ok := a.components[page]; ok {
		hints = c.Hints()
	}
	seen := make(map[string]bool, len(hints))
	for _, h := range hints {
		seen[h.Key] = true
	}
	for _, h := range a.registry.Hints(page) {
		if !seen[h.Key] {
			hints = append(hints, h)
		}
	}
	a.menu.Update(hints)
}

func (a *App) focusCurrent() {
	if c, ok := a.components[a.pages.Current()]; ok {
		a.app.SetFocus(c.Primitive())
	}
}

func (a *App) openPrompt(mode ui.PromptMode) {
	a.prompt.Activate(mode)
	a.promptOpen = true
	a.body.AddItem(a.prompt, 3, 0, false)
	a.app.SetFocus(a.prompt)
}

func (a *App) closePrompt() {
	if !a.promptOpen {
		return
	}
	a.promptOpen = false
	a.body.RemoveItem(a.prompt)
	a.focusCurrent()
}

func (a *App) runCommand(cmd Command) {
	if err := cmd.Validate(); err != nil {
		a.flash.Warn(err.Error())
		return
	}
	switch cmd.Name {
	case "search":
		a.showSearch(views.SearchMessages, cmd.Args)
	case "people":
		a.showSearch(views.SearchPeople, cmd.Args)
	case "open":
		a.openConversation(cmd.Args, "")
	case "outbox":
		go a.showFailedSends()
	case "logout":
		go func() {
			if err := a.vm.Logout(a.ctx); err != nil {
				a.flash.Err(err)
			}
		}()
	case "help":
		a.push(pageHelp)
	case "quit":
		a.Stop()
	}
}

// openConversation opens id on top of the conversation list. hint names
// the conversation when the list does not know it yet.
func (a *App) openConversation(id, hint string) {
	name := hint
	if c, ok := a.convList.Conversation(id); ok && c.DisplayName != "" {
		name = c.DisplayName
	}
	go func() {
		if err := a.vm.Open(a.ctx, id); err != nil {
			a.flash.Err(fmt.Errorf("open %s: %w", id, err))
			return
		}
		a.app.QueueUpdateDraw(func() {
			a.thread.SetConversation(id, name)
			if !a.pages.PopTo(pageConversations) {
				a.pages.Reset(pageConversations)
			}
			a.push(pageThread)
			a.render()
		})
	}()
}

func (a *App) loadOlder() {
	go func() {
		if err := a.vm.LoadOlder(a.ctx); err != nil {
			a.flash.Err(err)
		}
		a.app.QueueUpdateDraw(a.render)
	}()
}

func (a *App) showDetails() {
	c, ok := a.convList.Conversation(a.vm.Active())
	if !ok {
		a.flash.Warn("no details for this conversation yet")
		return
	}
	loaded := 0
	if page := a.vm.Page(); page != nil {
		loaded = len(page.Messages)
	}
	a.details.Update(c, loaded)
	a.push(pageDetails)
}

func (a *App) showSearch(mode views.SearchMode, query string) {
	a.searchV.SetMode(mode)
	a.searchV.SetQuery(query)
	a.push(pageSearch)
	a.updateCrumbs()
	if query != "" {
		go a.runSearch(mode, query)
	}
}

func (a *App) runSearch(mode views.SearchMode, query string) {
	var update func()
	switch mode {
	case views.SearchPeople:
		people, err := a.vm.SearchPeople(a.ctx, query)
		if err != nil {
			a.flash.Err(err)
			return
		}
		update = func() { a.searchV.UpdatePeople(people) }
	default:
		hits, err := a.vm.SearchMessages(a.ctx, query)
		if err != nil {
			a.flash.Err(err)
			return
		}
		update = func() { a.searchV.UpdateMessages(hits) }
	}
	a.app.QueueUpdateDraw(func() {
		update()
		a.app.SetFocus(a.searchV.Results())
	})
}

func (a *App) showFailedSends() {
	entries, err := a.vm.FailedSends(a.ctx)
	if err != nil {
		a.flash.Err(err)
		return
	}
	if len(entries) == 0 {
		a.flash.Info("no failed sends")
		return
	}
	last := entries[0]
	a.flash.Warn(fmt.Sprintf("%d failed sends, latest to %s: %s", len(entries), last.ConversationKey, last.Error))
}

// render pushes the view model's snapshots into the views. It must run on
// the UI goroutine.
func (a *App) render() {
	a.convList.Update(a.vm.Conversations())
	if a.vm.Active() != "" && a.vm.Active() == a.thread.Conversation() {
		a.thread.Update(a.vm.Page())
	}
	a.crumbs.SetUnread(a.vm.TotalUnread())
	a.renderHeader()

	if ss := a.vm.SessionStatus(); ss != nil && ss.State == "AUTH_REQUIRED" && a.flash.Get() == "" {
		a.flash.Warn("not logged in: run dmctl login <token>, then restart the daemon")
	}
}

func (a *App) renderHeader() {
	a.info.Update(a.vm.SessionData())
	a.flashBar.Update(a.flash.GetMessage())
}

// refresh reloads everything shown from the daemon in the background.
func (a *App) refresh() {
	go func() {
		if err := a.vm.LoadSessionStatus(a.ctx); err != nil {
			a.flash.Err(err)
			return
		}
		_ = a.vm.LoadConversations(a.ctx)
		_ = a.vm.ReloadMessages(a.ctx)
		a.app.QueueUpdateDraw(a.render)
	}()
}

// Run starts the TUI application.
func (a *App) Run() error {
	a.refresh()
	go a.vm.Watch(a.ctx)
	go a.refreshLoop()

	return a.app.Run()
}

func (a *App) refreshLoop() {
	// Ticks only touch the header so scroll positions survive.
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-a.vm.RefreshCh():
			a.app.QueueUpdateDraw(a.render)
		case <-a.flash.Watch():
			a.app.QueueUpdateDraw(a.render)
		case <-ticker.C:
			a.app.QueueUpdateDraw(a.renderHeader)
		case <-a.ctx.Done():
			return
		}
	}
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
