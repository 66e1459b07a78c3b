package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bibswap/swapchat/internal/convo"
	"github.com/bibswap/swapchat/internal/share"
	intsync "github.com/bibswap/swapchat/internal/sync"
	"github.com/bibswap/swapchat/internal/tui/client"
	"github.com/bibswap/swapchat/internal/tui/keys"
	"github.com/bibswap/swapchat/internal/tui/model"
	"github.com/bibswap/swapchat/internal/tui/ui"
	"github.com/bibswap/swapchat/internal/tui/views"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"
)

const (
	pageInbox   = "inbox"
	pageThread  = "thread"
	pageDetails = "details"
	pageShare   = "share"
	pageHelp    = "help"

	callTimeout = 10 * time.Second
	headerRows  = 7
)

// Options configures the terminal client.
type Options struct {
	ViewerID     string
	ShareBaseURL string
	MatchWindow  time.Duration
	SendTimeout  time.Duration
	Refresh      time.Duration
	Logger       *zap.Logger
}

// App is the main TUI application shell.
type App struct {
	app      *tview.Application
	theme    *ui.Theme
	client   *client.Client
	opts     Options
	inbox    *model.Inbox
	registry *keys.Registry
	flash    *ui.FlashModel

	root     *tview.Flex
	pages    *ui.Pages
	info     *ui.DaemonInfo
	menu     *ui.Menu
	crumbs   *ui.Crumbs
	flashBar *ui.FlashBar
	prompt   *ui.Prompt

	list    *views.ConversationList
	thread  *views.MessageThread
	details *views.ConversationInfo
	share   *views.ShareView
	help    *views.HelpView

	components map[string]ui.Component

	mu      sync.Mutex
	engine  *intsync.Engine
	current string

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp creates the TUI application for the viewer the client token
// belongs to.
func NewApp(c *client.Client, opts Options) *App {
	if opts.Refresh <= 0 {
		opts.Refresh = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	theme := ui.DefaultTheme()

	a := &App{
		app:      tview.NewApplication(),
		theme:    theme,
		client:   c,
		opts:     opts,
		inbox:    model.NewInbox(c.API),
		registry: keys.NewRegistry(),
		flash:    ui.NewFlashModel(),
		pages:    ui.NewPages(),
		info:     ui.NewDaemonInfo(theme),
		menu:     ui.NewMenu(theme, headerRows),
		crumbs:   ui.NewCrumbs(theme),
		flashBar: ui.NewFlashBar(theme),
		prompt:   ui.NewPrompt(theme),
		list:     views.NewConversationList(theme, opts.ViewerID),
		thread:   views.NewMessageThread(theme),
		details:  views.NewConversationInfo(theme),
		share:    views.NewShareView(theme),
		help:     views.NewHelpView(theme),
		ctx:      ctx,
		cancel:   cancel,
	}
	a.components = map[string]ui.Component{
		pageInbox:   a.list,
		pageThread:  a.thread,
		pageDetails: a.details,
		pageShare:   a.share,
		pageHelp:    a.help,
	}

	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()
	return a
}

func (a *App) setupBindings() {
	a.registry.AddGlobal("quit", &keys.Action{
		Rune: 'q', Key: tcell.KeyRune,
		Description: "q:quit", Visible: true,
		Handler: a.back,
	})
	a.registry.AddGlobal("help", &keys.Action{
		Rune: '?', Key: tcell.KeyRune,
		Description: "?:help", Visible: true,
		Handler: func() { a.push(pageHelp, a.help) },
	})
	a.registry.AddGlobal("command", &keys.Action{
		Rune: ':', Key: tcell.KeyRune,
		Description: ":cmd",
		Handler:     func() { a.showPrompt(ui.PromptCommand) },
	})
	a.registry.AddGlobal("filter", &keys.Action{
		Rune: '/', Key: tcell.KeyRune,
		Description: "/:filter",
		Handler: func() {
			a.pages.PopTo(pageInbox)
			a.closeThread()
			a.showPrompt(ui.PromptFilter)
		},
	})
	a.registry.AddGlobal("back", &keys.Action{
		Key: tcell.KeyEscape,
		Handler: func() {
			if a.pages.Current() == pageInbox {
				a.list.ClearFilter()
				return
			}
			a.back()
		},
	})

	a.registry.AddView(pageInbox, "sort", &keys.Action{
		Rune: 's', Key: tcell.KeyRune,
		Handler: func() {
			mode := a.list.CycleSort()
			a.flash.Info("Sorted by " + mode.String())
			a.refreshChrome()
		},
	})
	a.registry.AddView(pageInbox, "reload", &keys.Action{
		Key:     tcell.KeyCtrlR,
		Handler: func() { go a.reload() },
	})
	a.registry.AddView(pageInbox, "clear-filter", &keys.Action{
		Rune: '0', Key: tcell.KeyRune,
		Handler: func() { a.list.ClearFilter() },
	})
	for n := 1; n <= 9; n++ {
		a.registry.AddView(pageInbox, fmt.Sprintf("jump-%d", n), &keys.Action{
			Rune: rune('0' + n), Key: tcell.KeyRune,
			Handler: func() {
				if id := a.list.ConversationByIndex(n); id != "" {
					a.openConversation(id)
				}
			},
		})
	}

	thread := func(name string, r rune, fn func()) {
		a.registry.AddView(pageThread, name, &keys.Action{Rune: r, Key: tcell.KeyRune, Handler: fn})
	}
	thread("compose", 'i', func() { a.app.SetFocus(a.thread.Composer()) })
	thread("newer", 'j', func() { a.thread.MoveCursor(1) })
	thread("older", 'k', func() { a.thread.MoveCursor(-1) })
	thread("seen", 'r', a.markSeen)
	thread("toggle", 't', a.toggleOriginal)
	thread("retry", 'R', a.retryFailed)
	thread("discard", 'x', a.discardFailed)
	thread("block", 'b', a.toggleBlock)
	thread("delete", 'D', a.deleteConversation)
	thread("details", 'd', a.showDetails)
	thread("share", 'S', a.showShare)
	thread("report", '!', func() { a.showPrompt(ui.PromptReport) })

	a.registry.AddView(pageDetails, "share", &keys.Action{
		Rune: 'S', Key: tcell.KeyRune,
		Handler: a.showShare,
	})
}

func (a *App) setupCallbacks() {
	a.list.SetSelectedFunc(func(row, _ int) {
		if id := a.list.ConversationByIndex(row); id != "" {
			a.openConversation(id)
		}
	})

	a.thread.SetOnSend(func(text string) {
		eng := a.activeEngine()
		if eng == nil {
			return
		}
		go func() {
			if err := eng.Send(text); err != nil {
				a.flash.Err(err)
			}
		}()
	})

	a.prompt.SetOnChange(func(mode ui.PromptMode, text string) {
		if mode == ui.PromptFilter {
			a.list.SetFilter(text)
		}
	})
	a.prompt.SetOnSubmit(func(mode ui.PromptMode, text string) {
		a.hidePrompt()
		switch mode {
		case ui.PromptCommand:
			a.runCommand(ParseCommand(text))
		case ui.PromptReport:
			a.report(text)
		}
	})
	a.prompt.SetOnCancel(func() {
		if a.prompt.Mode() == ui.PromptFilter {
			a.list.ClearFilter()
		}
		a.hidePrompt()
	})

	a.pages.SetOnChange(func([]string) { a.refreshChrome() })
}

func (a *App) setupLayout() {
	header := tview.NewFlex().
		AddItem(ui.NewLogo(a.theme), 20, 0, false).
		AddItem(a.info, 0, 1, false).
		AddItem(a.menu, 0, 1, false)

	for name, c := range map[string]tview.Primitive{
		pageInbox:   a.list,
		pageThread:  a.thread,
		pageDetails: a.details,
		pageShare:   a.share,
		pageHelp:    a.help,
	} {
		a.pages.AddPage(name, c, true, false)
	}

	a.root = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(header, headerRows, 0, false).
		AddItem(a.prompt, 0, 0, false).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.crumbs, 1, 0, false).
		AddItem(a.flashBar, 1, 0, false)

	a.app.SetRoot(a.root, true)
	a.pages.Reset(pageInbox)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		focused := a.app.GetFocus()
		if focused == a.thread.Composer() && event.Key() == tcell.KeyEscape {
			a.app.SetFocus(a.thread.Messages())
			return nil
		}
		// Text input widgets get every key.
		if _, ok := focused.(*tview.InputField); ok || focused == a.prompt {
			return event
		}
		if a.registry.HandleEvent(a.pages.Current(), event) {
			return nil
		}
		return event
	})
}

// refreshChrome redraws the breadcrumbs, menu and header from current state.
func (a *App) refreshChrome() {
	var trail []ui.Crumb
	for _, p := range a.pages.Stack() {
		c, ok := a.components[p]
		if !ok {
			continue
		}
		cr := ui.Crumb{Label: c.Name()}
		if p == pageInbox {
			cr.Badge = a.inbox.Unread()
		}
		trail = append(trail, cr)
	}
	a.crumbs.Update(trail)
	if c, ok := a.components[a.pages.Current()]; ok {
		a.menu.Update(c.Hints())
	}

	data := &ui.DaemonData{
		User:          a.opts.ViewerID,
		Language:      a.client.Language(),
		Conversations: len(a.inbox.Entries()),
		Unread:        a.inbox.Unread(),
	}
	if st := a.inbox.Status(); st != nil {
		data.State = st.State
		data.Reason = st.Reason
		data.Translation = st.Translation
		data.Since = st.Since
	}
	a.info.Update(data)
	a.flashBar.Update(a.flash.GetMessage())
}

func (a *App) push(page string, focus tview.Primitive) {
	a.pages.Push(page)
	a.app.SetFocus(focus)
}

// back pops the current page. On the inbox it quits.
func (a *App) back() {
	switch a.pages.Current() {
	case pageInbox:
		if a.list.Filter() != "" {
			a.list.ClearFilter()
			return
		}
		a.Stop()
		return
	case pageThread:
		a.closeThread()
	}
	a.pages.Pop()
	a.focusCurrent()
}

func (a *App) focusCurrent() {
	switch a.pages.Current() {
	case pageInbox:
		a.app.SetFocus(a.list)
	case pageThread:
		a.app.SetFocus(a.thread.Messages())
	case pageDetails:
		a.app.SetFocus(a.details)
	case pageShare:
		a.app.SetFocus(a.share)
	case pageHelp:
		a.app.SetFocus(a.help)
	}
}

func (a *App) showPrompt(mode ui.PromptMode) {
	a.prompt.Activate(mode)
	if mode == ui.PromptFilter {
		a.prompt.SetText(a.list.Filter())
	}
	a.root.ResizeItem(a.prompt, 3, 0)
	a.app.SetFocus(a.prompt)
}

func (a *App) hidePrompt() {
	a.root.ResizeItem(a.prompt, 0, 0)
	a.focusCurrent()
}

// openConversation starts a synchronizer session for id and shows the thread.
func (a *App) openConversation(id string) {
	a.closeThread()
	a.mu.Lock()
	a.current = id
	a.mu.Unlock()

	a.thread.Reset()
	a.pages.PopTo(pageInbox)
	a.push(pageThread, a.thread.Messages())

	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, callTimeout)
		defer cancel()
		eng, err := intsync.Open(ctx, a.client, a.client, intsync.Config{
			ConversationID: id,
			ViewerID:       a.opts.ViewerID,
			Language:       a.client.Language(),
			MatchWindow:    a.opts.MatchWindow,
			SendTimeout:    a.opts.SendTimeout,
			Logger:         a.opts.Logger,
			OnChange: func(v intsync.View) {
				a.app.QueueUpdateDraw(func() {
					if a.isCurrent(id) {
						a.thread.Update(v)
						a.refreshChrome()
					}
				})
			},
		})
		if err != nil {
			a.opts.Logger.Warn("open conversation failed", zap.String("conversation_id", id), zap.Error(err))
			a.flash.Err(err)
			a.app.QueueUpdateDraw(func() {
				if a.isCurrent(id) {
					a.closeThread()
					a.pages.PopTo(pageInbox)
					a.focusCurrent()
				}
			})
			return
		}

		a.mu.Lock()
		stale := a.current != id
		if !stale {
			a.engine = eng
		}
		a.mu.Unlock()
		if stale {
			eng.Close()
		}
	}()
}

func (a *App) isCurrent(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current == id
}

func (a *App) activeEngine() *intsync.Engine {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.engine
}

// closeThread ends the open session. Close runs off the UI goroutine since the
// session may be waiting on a queued redraw.
func (a *App) closeThread() {
	a.mu.Lock()
	eng := a.engine
	a.engine = nil
	a.current = ""
	a.mu.Unlock()
	if eng != nil {
		go eng.Close()
	}
}

// withEngine runs fn against the open session off the UI goroutine.
func (a *App) withEngine(fn func(*intsync.Engine) error) {
	eng := a.activeEngine()
	if eng == nil {
		a.flash.Warn("No conversation is open")
		return
	}
	go func() {
		if err := fn(eng); err != nil && !errors.Is(err, intsync.ErrClosed) {
			a.flash.Err(err)
		}
	}()
}

func (a *App) markSeen() {
	a.withEngine(func(eng *intsync.Engine) error {
		ctx, cancel := context.WithTimeout(a.ctx, callTimeout)
		defer cancel()
		res, err := eng.MarkSeen(ctx)
		if err != nil {
			return err
		}
		a.inbox.MarkRead(a.thread.View().ConversationID)
		if res.Marked > 0 {
			a.flash.Info(fmt.Sprintf("Marked %d message(s) seen", res.Marked))
		}
		return nil
	})
}

func (a *App) toggleOriginal() {
	e, ok := a.thread.Selected()
	if !ok || e.Message.ID == "" {
		return
	}
	if !e.Display.CanToggle {
		a.flash.Info("No translation for this message")
		return
	}
	a.withEngine(func(eng *intsync.Engine) error {
		return eng.ToggleOriginal(e.Message.ID)
	})
}

func (a *App) retryFailed() {
	e, ok := a.thread.Failed()
	if !ok {
		a.flash.Info("No failed message to retry")
		return
	}
	a.withEngine(func(eng *intsync.Engine) error {
		return eng.Retry(e.Message.TempID)
	})
}

func (a *App) discardFailed() {
	e, ok := a.thread.Failed()
	if !ok {
		a.flash.Info("No failed message to discard")
		return
	}
	a.withEngine(func(eng *intsync.Engine) error {
		return eng.Discard(e.Message.TempID)
	})
}

func (a *App) openConversationID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// conversationAction runs a daemon call against the open conversation.
func (a *App) conversationAction(done string, fn func(ctx context.Context, id string) error) {
	id := a.openConversationID()
	if id == "" {
		a.flash.Warn("No conversation is open")
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, callTimeout)
		defer cancel()
		if err := fn(ctx, id); err != nil {
			a.flash.Err(err)
			return
		}
		if done != "" {
			a.flash.Info(done)
		}
		a.app.QueueUpdateDraw(a.refreshChrome)
	}()
}

func (a *App) toggleBlock() {
	if a.thread.View().BlockedByViewer {
		a.conversationAction("Unblocked", a.client.API.Unblock)
		return
	}
	a.conversationAction("Blocked", a.client.API.Block)
}

func (a *App) deleteConversation() {
	id := a.openConversationID()
	a.conversationAction("Conversation deleted", func(ctx context.Context, id string) error {
		return a.client.API.Delete(ctx, id)
	})
	if id == "" {
		return
	}
	// Hidden locally right away; the next reload restores it if the call failed.
	a.inbox.Remove(id)
	a.closeThread()
	a.pages.PopTo(pageInbox)
	a.focusCurrent()
}

func (a *App) report(reason string) {
	if strings.TrimSpace(reason) == "" {
		a.flash.Warn("Usage: :report <reason>")
		return
	}
	a.conversationAction("Report sent", func(ctx context.Context, id string) error {
		_, err := a.client.API.Report(ctx, id, reason)
		return err
	})
}

func (a *App) currentDetails() *views.Details {
	v := a.thread.View()
	if v.ConversationID == "" {
		return nil
	}
	d := &views.Details{
		ConversationID:  v.ConversationID,
		PublicID:        v.PublicID,
		ListingID:       v.ListingID,
		ListingTitle:    v.ListingTitle,
		OwnerID:         v.OwnerID,
		OtherID:         v.OtherID,
		State:           v.State,
		BlockedByViewer: v.BlockedByViewer,
		BlockedByOther:  v.BlockedByOther,
		Messages:        len(v.Entries),
		Unseen:          v.Unseen,
		CreatedAt:       v.CreatedAt,
	}
	if link, err := share.Link(a.opts.ShareBaseURL, v.PublicID); err == nil {
		d.ShareLink = link
	}
	return d
}

func (a *App) showDetails() {
	d := a.currentDetails()
	if d == nil {
		a.flash.Warn("Conversation is still loading")
		return
	}
	a.details.Update(d)
	a.push(pageDetails, a.details)
}

func (a *App) showShare() {
	d := a.currentDetails()
	if d == nil {
		a.flash.Warn("No conversation is open")
		return
	}
	if d.ShareLink == "" {
		a.share.ShowMessage("This conversation has no public link.")
	} else {
		a.share.ShowLink(d.ListingTitle, d.ShareLink)
	}
	a.push(pageShare, a.share)
}

func (a *App) runCommand(cmd Command) {
	switch cmd.Name {
	case "q", "quit":
		a.Stop()
	case "h", "help":
		a.push(pageHelp, a.help)
	case "inbox":
		a.closeThread()
		a.pages.PopTo(pageInbox)
		a.focusCurrent()
	case "reload":
		go a.reload()
	case "open":
		a.openTarget(cmd.Args)
	case "start":
		listingID, text := cmd.Split()
		a.startConversation(listingID, text)
	case "interest":
		a.recordInterest(cmd.Args)
	case "report":
		a.report(cmd.Args)
	case "block":
		a.conversationAction("Blocked", a.client.API.Block)
	case "unblock":
		a.conversationAction("Unblocked", a.client.API.Unblock)
	case "delete":
		a.deleteConversation()
	case "share":
		a.showShare()
	case "seen":
		a.markSeen()
	default:
		a.flash.Warn("Unknown command: " + cmd.Name)
	}
}

// openTarget opens a conversation by id, public id or share link.
func (a *App) openTarget(arg string) {
	if arg == "" {
		a.flash.Warn("Usage: :open <conversation id | public id | link>")
		return
	}
	if !strings.Contains(arg, "/") && strings.Contains(arg, "-") {
		a.openConversation(arg)
		return
	}
	publicID := share.PublicID(a.opts.ShareBaseURL, arg)
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, callTimeout)
		defer cancel()
		conv, err := a.client.API.Resolve(ctx, publicID)
		if err != nil {
			a.flash.Err(err)
			return
		}
		a.app.QueueUpdateDraw(func() { a.openConversation(conv.ID) })
	}()
}

func (a *App) startConversation(listingID, text string) {
	if listingID == "" || text == "" {
		a.flash.Warn("Usage: :start <listing id> <message>")
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, callTimeout)
		defer cancel()
		res, err := a.client.API.StartConversation(ctx, listingID, text)
		if err != nil {
			a.flash.Err(err)
			return
		}
		_ = a.inbox.LoadEntries(ctx)
		a.app.QueueUpdateDraw(func() { a.openConversation(res.Conversation.ID) })
	}()
}

func (a *App) recordInterest(listingID string) {
	if listingID == "" {
		a.flash.Warn("Usage: :interest <listing id>")
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, callTimeout)
		defer cancel()
		if _, err := a.client.API.RecordInterest(ctx, listingID); err != nil {
			a.flash.Err(err)
			return
		}
		a.flash.Info("Interest sent to the owner of " + listingID)
		_ = a.inbox.LoadEntries(ctx)
	}()
}

// reload fetches the inbox and daemon status.
func (a *App) reload() {
	ctx, cancel := context.WithTimeout(a.ctx, callTimeout)
	defer cancel()
	if err := a.inbox.LoadStatus(ctx); err != nil {
		a.opts.Logger.Debug("status failed", zap.Error(err))
	}
	if err := a.inbox.LoadEntries(ctx); err != nil {
		if code := convo.CodeOf(err); code != "" {
			a.flash.Err(err)
		} else {
			a.flash.Warn("Daemon unreachable: " + err.Error())
		}
	}
}

// Run starts the TUI application.
func (a *App) Run() error {
	go a.reload()
	go a.watch()
	a.refreshChrome()
	a.app.SetFocus(a.list)
	return a.app.Run()
}

// watch redraws on model and flash changes and reloads the inbox periodically.
func (a *App) watch() {
	ticker := time.NewTicker(a.opts.Refresh)
	defer ticker.Stop()
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			go a.reload()
			a.app.QueueUpdateDraw(a.refreshChrome)
		case <-a.inbox.RefreshCh():
			a.app.QueueUpdateDraw(func() {
				a.list.Update(a.inbox.Entries())
				a.refreshChrome()
			})
		case <-a.flash.Watch():
			a.app.QueueUpdateDraw(a.refreshChrome)
		}
	}
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.closeThread()
	a.cancel()
	a.app.Stop()
}
