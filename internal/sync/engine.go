package sync

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/Ae-Ti/BMN-sub000/internal/auth"
	"github.com/Ae-Ti/BMN-sub000/internal/backend"
	"github.com/Ae-Ti/BMN-sub000/internal/bus"
	"github.com/Ae-Ti/BMN-sub000/internal/chat"
	"github.com/Ae-Ti/BMN-sub000/internal/live"
	"github.com/Ae-Ti/BMN-sub000/internal/logging"
	"github.com/Ae-Ti/BMN-sub000/internal/status"
	"github.com/Ae-Ti/BMN-sub000/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// maxConversationPages bounds the bootstrap walk over server summaries.
const maxConversationPages = 20

// Backend is the REST surface the engine reads from.
type Backend interface {
	chat.CorrespondentFetcher
	chat.PageFetcher
	chat.ReceiptSender
	ListConversations(ctx context.Context, page, size int) (backend.ConversationPage, error)
}

// Options tunes an Engine. Zero values pick the package defaults.
type Options struct {
	PageSize           int
	DirectoryPageSize  int
	ReceiptTimeout     time.Duration
	PendingMatchWindow time.Duration
}

// MessagePage is what the message panel renders for one conversation.
type MessagePage struct {
	ConversationKey string
	Messages        []chat.Message
	HasMore         bool
	Loading         bool
}

// MessagesChanged is the payload of message.upserted.
type MessagesChanged struct {
	ConversationKey string
	Messages        []chat.Message
	Removed         []string
}

// SearchHit is one full-text match from the session cache.
type SearchHit struct {
	ConversationKey string
	DisplayName     string
	MessageID       string
	Text            string
	Snippet         string
	FromMe          bool
	CreatedAt       time.Time
}

// Engine owns the per-session conversation state and is the only writer of
// the message store and the conversation list. Every mutation happens under
// one lock; network calls happen outside it.
type Engine struct {
	backend Backend
	tokens  auth.Provider
	db      *store.DB
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger

	norm   *chat.Normalizer
	dir    *chat.Directory
	msgs   *chat.MessageStore
	list   *chat.ConversationList
	pager  *chat.Paginator
	reads  *chat.ReadTracker
	checks *Reconciler

	mu         stdsync.Mutex
	statusLine string
	loggedOut  bool

	cancel context.CancelFunc
	wg     stdsync.WaitGroup
}

// NewEngine wires the chat components together. db, machine and tokens may be nil.
func NewEngine(be Backend, norm *chat.Normalizer, db *store.DB, b *bus.Bus, machine *status.Machine, tokens auth.Provider, opts Options, logger *zap.Logger) *Engine {
	logger = logging.OrNop(logger)
	if norm == nil {
		norm = chat.NewNormalizer("")
	}
	e := &Engine{
		backend: be,
		tokens:  tokens,
		db:      db,
		bus:     b,
		machine: machine,
		logger:  logger,
		norm:    norm,
		dir:     chat.NewDirectory(be, opts.DirectoryPageSize),
		msgs:    chat.NewMessageStore(chat.WithPendingMatchWindow(opts.PendingMatchWindow)),
		list:    chat.NewConversationList(),
		checks:  NewReconciler(db, logger),
	}
	e.pager = chat.NewPaginator(be, norm, e.MergeLocal, opts.PageSize, logger)
	e.reads = chat.NewReadTracker(e.list, be, opts.ReceiptTimeout, logger)
	return e
}

// Directory exposes the correspondent allow-list.
func (e *Engine) Directory() *chat.Directory { return e.dir }

// Normalizer exposes the payload decoder bound to the local identity.
func (e *Engine) Normalizer() *chat.Normalizer { return e.norm }

// DB returns the session cache, which may be nil.
func (e *Engine) DB() *store.DB { return e.db }

// Checkpoints exposes the sync checkpoints.
func (e *Engine) Checkpoints() *Reconciler { return e.checks }

// Start subscribes to live channel events and watches the session.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe("live.", 256)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}()

	if e.tokens != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			select {
			case <-e.tokens.Invalidated():
				e.sessionInvalidated()
			case <-ctx.Done():
			}
		}()
	}
}

// Stop stops the engine and waits for outstanding read receipts.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.reads.Wait()
}

func (e *Engine) handleEvent(ctx context.Context, evt bus.Event) {
	switch evt.Kind {
	case bus.KindLiveFrame:
		frame, ok := evt.Payload.(live.Frame)
		if !ok {
			return
		}
		if err := e.IngestPush(frame.Data); err != nil {
			e.logger.Warn("dropping push frame", zap.Error(err))
		}
	case bus.KindLiveReconnected:
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.CatchUp(ctx)
		}()
	}
}

func (e *Engine) sessionInvalidated() {
	e.mu.Lock()
	byLogout := e.loggedOut
	e.mu.Unlock()
	if byLogout {
		return
	}
	e.logger.Warn("session invalidated")
	e.setStatus("session expired, log in again")
	e.transition(status.AuthRequired)
	e.bus.Emit(bus.KindSessionInvalidated, nil)
}

// Bootstrap loads the directory and the server conversation list
// concurrently and seeds the conversation list from both.
func (e *Engine) Bootstrap(ctx context.Context) error {
	e.transition(status.Syncing)
	if id := e.norm.Identity(); id != "" {
		e.checks.UpdateCheckpoint(CheckpointIdentity, id)
	}

	var summaries []chat.Conversation
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := e.dir.Refresh(gctx)
		if err != nil {
			return err
		}
		e.logger.Info("directory loaded", zap.Int("correspondents", n))
		return nil
	})
	g.Go(func() error {
		var err error
		summaries, err = e.fetchSummaries(gctx)
		return err
	})
	err := g.Wait()

	// Whatever arrived before a failure is still worth showing.
	e.mu.Lock()
	for _, c := range e.dir.All() {
		e.list.Ensure(c.ID, c.Label())
	}
	e.list.Seed(summaries)
	convs := e.list.List()
	e.mu.Unlock()

	e.mirrorDirectory()
	for _, c := range convs {
		e.mirrorConversation(c)
	}
	if len(convs) > 0 {
		e.bus.Emit(bus.KindConversationUpdated, convs)
	}

	if err != nil {
		e.fail("bootstrap", err)
		if isSessionError(err) {
			e.transition(status.AuthRequired)
		} else {
			e.transition(status.Degraded)
		}
		return err
	}
	e.checks.Stamp(CheckpointBootstrapped, time.Now())
	e.setStatus("")
	e.logger.Info("bootstrap complete", zap.Int("conversations", len(convs)))
	return nil
}

func (e *Engine) fetchSummaries(ctx context.Context) ([]chat.Conversation, error) {
	var out []chat.Conversation
	size := e.pager.PageSize()
	for page := 0; page < maxConversationPages; page++ {
		res, err := e.backend.ListConversations(ctx, page, size)
		if err != nil {
			return out, &chat.TransientError{Op: "list conversations", Err: err}
		}
		out = append(out, res.Items...)
		more := len(res.Items) == size
		if res.HasMore != nil {
			more = *res.HasMore
		}
		if !more || len(res.Items) == 0 {
			break
		}
	}
	return out, nil
}

// CatchUp reloads the newest page of every known conversation. It runs
// after the live channel reconnects to fill the gap.
func (e *Engine) CatchUp(ctx context.Context) {
	keys := e.msgs.Keys()
	if sel := e.list.Selected(); sel != "" && e.msgs.Len(sel) == 0 {
		keys = append(keys, sel)
	}
	for _, key := range keys {
		if _, err := e.pager.LoadPage(ctx, key, 0); err != nil && !errors.Is(err, chat.ErrLoadInFlight) {
			e.logger.Warn("catch-up failed", zap.String("conversation", key), zap.Error(err))
		}
	}
	e.checks.Stamp(CheckpointCatchUp, time.Now())
	e.logger.Info("catch-up complete", zap.Int("conversations", len(keys)))
}

// SelectConversation makes key the viewed conversation, clears its unread
// count, sends a read receipt and loads its newest page.
func (e *Engine) SelectConversation(ctx context.Context, key string) error {
	if key == "" {
		return &chat.ValidationError{Reason: "no conversation given"}
	}
	name := ""
	if c, ok := e.dir.Get(key); ok {
		name = c.Label()
	}

	e.mu.Lock()
	e.list.Ensure(key, name)
	e.pager.Reset(key)
	e.reads.Select(key)
	conv, _ := e.list.Get(key)
	e.mu.Unlock()

	e.mirrorConversation(conv)
	e.bus.Emit(bus.KindConversationSelected, key)
	e.bus.Emit(bus.KindConversationUpdated, []chat.Conversation{conv})

	if _, err := e.pager.LoadPage(ctx, key, 0); err != nil {
		if errors.Is(err, chat.ErrLoadInFlight) {
			return nil
		}
		e.fail("load messages", err)
		return err
	}
	e.setStatus("")
	return nil
}

// LoadOlder fetches the next older page of key. It does nothing once the
// conversation is exhausted and fails with ErrLoadInFlight while a page is
// loading.
func (e *Engine) LoadOlder(ctx context.Context, key string) error {
	if key == "" {
		return &chat.ValidationError{Reason: "no conversation given"}
	}
	if _, err := e.pager.LoadNext(ctx, key); err != nil {
		if !errors.Is(err, chat.ErrLoadInFlight) {
			e.fail("load older messages", err)
		}
		return err
	}
	return nil
}

// Conversations returns the ordered conversation list.
func (e *Engine) Conversations() []chat.Conversation {
	return e.list.List()
}

// Conversation returns one conversation.
func (e *Engine) Conversation(key string) (chat.Conversation, bool) {
	return e.list.Get(key)
}

// Selected returns the viewed conversation key.
func (e *Engine) Selected() string {
	return e.list.Selected()
}

// TotalUnread sums unread counts over every conversation.
func (e *Engine) TotalUnread() int {
	return e.list.TotalUnread()
}

// Messages returns the ordered log of key with its pagination state.
func (e *Engine) Messages(key string) MessagePage {
	c := e.pager.Cursor(key)
	return MessagePage{
		ConversationKey: key,
		Messages:        e.msgs.Log(key),
		HasMore:         c.HasMore && c.State != chat.CursorExhausted,
		Loading:         c.State == chat.CursorLoading,
	}
}

// SearchCorrespondents matches term against the allow-list.
func (e *Engine) SearchCorrespondents(term string) []chat.Correspondent {
	if e.db == nil {
		return e.dir.Search(term)
	}
	rows, err := e.db.SearchCorrespondents(term, 0)
	if err != nil {
		e.logger.Warn("correspondent search fell back to memory", zap.Error(err))
		return e.dir.Search(term)
	}
	out := make([]chat.Correspondent, 0, len(rows))
	for _, r := range rows {
		out = append(out, chat.Correspondent{ID: r.ID, DisplayName: r.DisplayName, Nickname: r.Nickname})
	}
	return out
}

// SearchMessages runs a full-text query over every message merged this
// session. key narrows it to one conversation.
func (e *Engine) SearchMessages(query, key string, limit int) ([]SearchHit, error) {
	if e.db == nil {
		return nil, errors.New("message search needs the session cache")
	}
	rows, err := e.db.SearchMessages(query, key, limit)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	hits := make([]SearchHit, 0, len(rows))
	for _, r := range rows {
		hits = append(hits, SearchHit{
			ConversationKey: r.Message.ConversationKey,
			DisplayName:     r.DisplayName,
			MessageID:       r.Message.MsgID,
			Text:            r.Message.Body,
			Snippet:         r.Snippet,
			FromMe:          r.Message.FromMe,
			CreatedAt:       fromMillis(r.Message.Timestamp),
		})
	}
	return hits, nil
}

// IngestPush decodes one live frame and merges it. Frames that are not
// messages are ignored.
func (e *Engine) IngestPush(frame []byte) error {
	key, m, err := e.norm.DecodePush(frame)
	if errors.Is(err, chat.ErrIgnoredFrame) {
		return nil
	}
	if err != nil {
		return err
	}
	name := ""
	if c, ok := e.dir.Get(key); ok {
		name = c.Label()
	}

	e.mu.Lock()
	e.list.Ensure(key, name)
	res := e.msgs.Merge(key, []chat.Message{m})
	if res.Filtered == 0 {
		final, ok := e.msgs.Get(key, m.ID)
		if !ok {
			final = m
		}
		e.reads.ObservePush(final, res.IsNew(m.ID))
	}
	conv, _ := e.list.Get(key)
	e.mu.Unlock()

	e.checks.Stamp(CheckpointLastPush, time.Now())
	e.publish(res, conv)
	return nil
}

// MergeLocal merges msgs into key's log and projects the newest entry into
// the conversation list. The paginator and the sender feed through it.
func (e *Engine) MergeLocal(key string, msgs []chat.Message) chat.MergeResult {
	name := ""
	if c, ok := e.dir.Get(key); ok {
		name = c.Label()
	}

	e.mu.Lock()
	e.list.Ensure(key, name)
	res := e.msgs.Merge(key, msgs)
	if res.Mutated() {
		e.list.Project(res.Latest)
	}
	conv, _ := e.list.Get(key)
	e.mu.Unlock()

	e.publish(res, conv)
	return res
}

// Logout invalidates the session and drops all session state.
func (e *Engine) Logout() error {
	e.mu.Lock()
	e.loggedOut = true
	e.mu.Unlock()
	if inv, ok := e.tokens.(interface{ Invalidate() }); ok {
		inv.Invalidate()
	}

	e.mu.Lock()
	e.msgs.Reset()
	e.list.Reset()
	e.dir.Reset()
	e.pager.ResetAll()
	e.mu.Unlock()

	e.transition(status.AuthRequired)
	e.setStatus("logged out")
	if e.db != nil {
		if err := e.db.Clear(); err != nil {
			return fmt.Errorf("clear session cache: %w", err)
		}
	}
	e.logger.Info("logged out")
	return nil
}

// Status returns the last user-facing error line, or "" when the last
// operation succeeded.
func (e *Engine) Status() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statusLine
}

// State returns the session state, or Booting when no machine is attached.
func (e *Engine) State() status.State {
	if e.machine == nil {
		return status.Booting
	}
	return e.machine.Current()
}

func (e *Engine) publish(res chat.MergeResult, conv chat.Conversation) {
	if !res.Mutated() {
		return
	}
	e.mirrorMessages(res)
	e.mirrorConversation(conv)
	e.bus.Emit(bus.KindMessageUpserted, MessagesChanged{
		ConversationKey: res.Key,
		Messages:        res.Changed,
		Removed:         res.Removed,
	})
	e.bus.Emit(bus.KindConversationUpdated, []chat.Conversation{conv})
}

func (e *Engine) fail(op string, err error) {
	e.logger.Warn(op+" failed", zap.Error(err))
	e.setStatus(fmt.Sprintf("%s failed: %v", op, err))
}

func (e *Engine) setStatus(s string) {
	e.mu.Lock()
	e.statusLine = s
	e.mu.Unlock()
}

func (e *Engine) transition(to status.State) {
	if e.machine == nil || e.machine.Current() == to || !e.machine.Can(to) {
		return
	}
	if err := e.machine.Transition(to); err != nil {
		e.logger.Debug("state not changed", zap.Error(err))
	}
}

func (e *Engine) mirrorDirectory() {
	if e.db == nil {
		return
	}
	all := e.dir.All()
	rows := make([]store.Correspondent, 0, len(all))
	for _, c := range all {
		rows = append(rows, store.Correspondent{ID: c.ID, DisplayName: c.DisplayName, Nickname: c.Nickname})
	}
	if err := e.db.BulkUpsertCorrespondents(rows); err != nil {
		e.logger.Warn("failed to cache correspondents", zap.Error(err))
	}
}

func (e *Engine) mirrorConversation(c chat.Conversation) {
	if e.db == nil || c.CorrespondentID == "" {
		return
	}
	err := e.db.UpsertConversation(&store.Conversation{
		CorrespondentID: c.CorrespondentID,
		DisplayName:     c.DisplayName,
		LatestText:      c.LatestText,
		LatestAt:        toMillis(c.LatestAt),
		UnreadCount:     c.UnreadCount,
	})
	if err != nil {
		e.logger.Warn("failed to cache conversation", zap.String("conversation", c.CorrespondentID), zap.Error(err))
	}
}

func (e *Engine) mirrorMessages(res chat.MergeResult) {
	if e.db == nil {
		return
	}
	rows := make([]store.Message, 0, len(res.Changed))
	for _, m := range res.Changed {
		rows = append(rows, store.Message{
			MsgID:     m.ID,
			ClientID:  m.ClientID,
			Body:      m.Text,
			FromMe:    m.FromMe,
			Delivery:  string(m.Delivery),
			Source:    m.Source.String(),
			Timestamp: toMillis(m.CreatedAt),
		})
	}
	if err := e.db.ApplyMessages(res.Key, rows, res.Removed); err != nil {
		e.logger.Warn("failed to cache messages", zap.String("conversation", res.Key), zap.Error(err))
	}
}

func isSessionError(err error) bool {
	return errors.Is(err, auth.ErrSessionInvalid) || errors.Is(err, backend.ErrUnauthorized)
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
