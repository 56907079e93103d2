package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Ae-Ti/BMN-sub000/internal/rpc"
	"github.com/Ae-Ti/BMN-sub000/internal/tui/client"
	"github.com/Ae-Ti/BMN-sub000/internal/tui/ui"
	"github.com/cenkalti/backoff/v4"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// Daemon is the subset of the daemon client the view model drives.
type Daemon interface {
	GetSessionStatus(ctx context.Context) (*rpc.SessionStatus, error)
	Logout(ctx context.Context) (*rpc.LogoutResponse, error)
	ListConversations(ctx context.Context) (*rpc.ListConversationsResponse, error)
	ListMessages(ctx context.Context, conversation string) (*rpc.MessagesResponse, error)
	SelectConversation(ctx context.Context, conversation string) (*rpc.MessagesResponse, error)
	LoadOlder(ctx context.Context, conversation string) (*rpc.MessagesResponse, error)
	SendText(ctx context.Context, conversation, text string) (*rpc.SendTextResponse, error)
	SearchCorrespondents(ctx context.Context, query string, limit int) (*rpc.SearchCorrespondentsResponse, error)
	SearchMessages(ctx context.Context, query, conversation string, limit int) (*rpc.SearchMessagesResponse, error)
	ListOutbox(ctx context.Context, status string, limit int) (*rpc.ListOutboxResponse, error)
	WatchEvents(ctx context.Context, prefixes ...string) (*client.EventStream, error)
}

// ViewModel caches daemon state and signals UI refreshes. Pushed events
// update it in place; callers read snapshots through the getters.
type ViewModel struct {
	mu sync.RWMutex

	daemon        Daemon
	flash         *ui.FlashModel
	status        *rpc.SessionStatus
	conversations []rpc.Conversation
	totalUnread   int
	active        string
	page          *rpc.MessagesResponse

	refreshCh chan struct{}
}

// NewViewModel creates a new view model connected to the daemon.
func NewViewModel(d Daemon, flash *ui.FlashModel) *ViewModel {
	return &ViewModel{
		daemon:    d,
		flash:     flash,
		refreshCh: make(chan struct{}, 1),
	}
}

// RefreshCh returns the channel that signals UI refresh.
func (vm *ViewModel) RefreshCh() <-chan struct{} {
	return vm.refreshCh
}

func (vm *ViewModel) signalRefresh() {
	select {
	case vm.refreshCh <- struct{}{}:
	default:
	}
}

// LoadSessionStatus fetches current session status.
func (vm *ViewModel) LoadSessionStatus(ctx context.Context) error {
	resp, err := vm.daemon.GetSessionStatus(ctx)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.status = resp
	vm.mu.Unlock()
	vm.signalRefresh()
	return nil
}

// LoadConversations fetches the conversation list.
func (vm *ViewModel) LoadConversations(ctx context.Context) error {
	resp, err := vm.daemon.ListConversations(ctx)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.conversations = resp.Conversations
	vm.totalUnread = resp.TotalUnread
	vm.mu.Unlock()
	vm.signalRefresh()
	return nil
}

// Open selects a conversation on the daemon, which marks it read and starts
// the initial page load, and makes it the active one here.
func (vm *ViewModel) Open(ctx context.Context, conversation string) error {
	resp, err := vm.daemon.SelectConversation(ctx, conversation)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.active = conversation
	vm.page = resp
	// Copy so snapshots handed out earlier stay untouched.
	convs := append([]rpc.Conversation(nil), vm.conversations...)
	for i := range convs {
		if convs[i].ID == conversation {
			vm.totalUnread -= convs[i].UnreadCount
			convs[i].UnreadCount = 0
		}
	}
	vm.conversations = convs
	vm.mu.Unlock()
	vm.signalRefresh()
	return nil
}

// Close forgets the active conversation.
func (vm *ViewModel) Close() {
	vm.mu.Lock()
	vm.active = ""
	vm.page = nil
	vm.mu.Unlock()
}

// ReloadMessages refetches the active conversation's log.
func (vm *ViewModel) ReloadMessages(ctx context.Context) error {
	active := vm.Active()
	if active == "" {
		return nil
	}
	resp, err := vm.daemon.ListMessages(ctx, active)
	if err != nil {
		return err
	}
	vm.setPage(active, resp)
	return nil
}

// LoadOlder asks for the page before the oldest loaded message. A load
// already in flight is not an error.
func (vm *ViewModel) LoadOlder(ctx context.Context) error {
	active := vm.Active()
	if active == "" {
		return nil
	}
	resp, err := vm.daemon.LoadOlder(ctx, active)
	if grpcstatus.Code(err) == codes.Aborted {
		return nil
	}
	if err != nil {
		return err
	}
	vm.setPage(active, resp)
	return nil
}

// Send sends text to the active conversation. The optimistic entry shows up
// through the pushed events.
func (vm *ViewModel) Send(ctx context.Context, text string) error {
	active := vm.Active()
	if active == "" {
		return errors.New("no conversation open")
	}
	if _, err := vm.daemon.SendText(ctx, active, text); err != nil {
		return errors.New(grpcstatus.Convert(err).Message())
	}
	return vm.ReloadMessages(ctx)
}

// SearchMessages runs a full-text query over stored messages.
func (vm *ViewModel) SearchMessages(ctx context.Context, query string) ([]rpc.SearchHit, error) {
	resp, err := vm.daemon.SearchMessages(ctx, query, "", 50)
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// SearchPeople matches correspondents by name or nickname.
func (vm *ViewModel) SearchPeople(ctx context.Context, query string) ([]rpc.Correspondent, error) {
	resp, err := vm.daemon.SearchCorrespondents(ctx, query, 50)
	if err != nil {
		return nil, err
	}
	return resp.Correspondents, nil
}

// FailedSends lists the most recent sends the backend rejected.
func (vm *ViewModel) FailedSends(ctx context.Context) ([]rpc.OutboxEntry, error) {
	resp, err := vm.daemon.ListOutbox(ctx, "failed", 20)
	if err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// Logout discards the daemon's session token.
func (vm *ViewModel) Logout(ctx context.Context) error {
	resp, err := vm.daemon.Logout(ctx)
	if err != nil {
		return err
	}
	if resp.Message != "" {
		vm.flash.Info(resp.Message)
	}
	return vm.LoadSessionStatus(ctx)
}

// Watch follows the daemon's event stream until ctx is cancelled,
// reconnecting with backoff when the stream drops.
func (vm *ViewModel) Watch(ctx context.Context) {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(b, ctx)
	_ = backoff.Retry(func() error {
		stream, err := vm.daemon.WatchEvents(ctx)
		if err != nil {
			return err
		}
		// Catch up on anything missed while disconnected.
		_ = vm.LoadSessionStatus(ctx)
		_ = vm.LoadConversations(ctx)
		_ = vm.ReloadMessages(ctx)
		policy.Reset()
		for {
			evt, err := stream.Recv()
			if err != nil {
				if ctx.Err() != nil {
					return backoff.Permanent(ctx.Err())
				}
				return err
			}
			vm.Apply(ctx, evt)
		}
	}, policy)
}

type conversationRef struct {
	Conversation string `json:"conversation"`
}

type sendFailure struct {
	Conversation string `json:"conversation"`
	Error        string `json:"error"`
}

// Apply folds one pushed event into the cached state.
func (vm *ViewModel) Apply(ctx context.Context, evt *rpc.Event) {
	switch {
	case evt.Kind == "conversation.updated":
		var convs []rpc.Conversation
		if err := json.Unmarshal(evt.Payload, &convs); err != nil {
			return
		}
		unread := 0
		for _, c := range convs {
			unread += c.UnreadCount
		}
		vm.mu.Lock()
		vm.conversations = convs
		vm.totalUnread = unread
		vm.mu.Unlock()
		vm.signalRefresh()

	case evt.Kind == "message.send_failed":
		var f sendFailure
		if err := json.Unmarshal(evt.Payload, &f); err == nil && f.Error != "" {
			vm.flash.Warn(fmt.Sprintf("send to %s failed: %s", f.Conversation, f.Error))
		}
		vm.reloadIfActive(ctx, evt.Payload)

	case strings.HasPrefix(evt.Kind, "message."):
		vm.reloadIfActive(ctx, evt.Payload)

	case evt.Kind == "session.invalidated":
		vm.flash.Warn("session expired, log in again and restart the daemon")
		_ = vm.LoadSessionStatus(ctx)

	case strings.HasPrefix(evt.Kind, "session."):
		_ = vm.LoadSessionStatus(ctx)
	}
}

func (vm *ViewModel) reloadIfActive(ctx context.Context, payload json.RawMessage) {
	var ref conversationRef
	if err := json.Unmarshal(payload, &ref); err != nil {
		return
	}
	if ref.Conversation != "" && ref.Conversation == vm.Active() {
		_ = vm.ReloadMessages(ctx)
	}
}

func (vm *ViewModel) setPage(conversation string, page *rpc.MessagesResponse) {
	vm.mu.Lock()
	// The user may have moved on while the call was in flight.
	if vm.active != conversation {
		vm.mu.Unlock()
		return
	}
	vm.page = page
	vm.mu.Unlock()
	vm.signalRefresh()
}

// Conversations returns a snapshot of the conversation list.
func (vm *ViewModel) Conversations() []rpc.Conversation {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.conversations
}

// TotalUnread returns the unread count summed over all conversations.
func (vm *ViewModel) TotalUnread() int {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.totalUnread
}

// Active returns the open conversation, or "" when none is open.
func (vm *ViewModel) Active() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.active
}

// Page returns a snapshot of the active conversation's log.
func (vm *ViewModel) Page() *rpc.MessagesResponse {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.page
}

// SessionStatus returns a snapshot of session status.
func (vm *ViewModel) SessionStatus() *rpc.SessionStatus {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.status
}

// SessionData adapts the session status for the header panel.
func (vm *ViewModel) SessionData() *ui.SessionData {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	if vm.status == nil {
		return nil
	}
	return &ui.SessionData{
		Session:       vm.status.Session,
		Identity:      vm.status.Identity,
		Status:        vm.status.State,
		Live:          vm.status.LiveConnected,
		Conversations: vm.status.Conversations,
		Messages:      vm.status.Messages,
		Unread:        vm.totalUnread,
		Uptime:        time.Duration(vm.status.UptimeMs) * time.Millisecond,
	}
}
