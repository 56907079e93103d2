package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Ae-Ti/BMN-sub000/internal/bus"
	"github.com/Ae-Ti/BMN-sub000/internal/chat"
	"github.com/Ae-Ti/BMN-sub000/internal/store"
	"go.uber.org/zap"
)

// mockSender records calls and returns configurable results.
type mockSender struct {
	mu    sync.Mutex
	calls []sendCall
	reply string // JSON echo; "" echoes a server message carrying the client id
	err   error
	gate  chan struct{} // when set, SendMessage blocks until it is closed
}

type sendCall struct {
	Partner  string
	Text     string
	ClientID string
}

func (m *mockSender) SendMessage(_ context.Context, partner, text, clientID string) (json.RawMessage, error) {
	m.mu.Lock()
	m.calls = append(m.calls, sendCall{Partner: partner, Text: text, ClientID: clientID})
	m.mu.Unlock()
	if m.gate != nil {
		<-m.gate
	}
	if m.err != nil {
		return nil, m.err
	}
	if m.reply != "" {
		return json.RawMessage(m.reply), nil
	}
	return json.RawMessage(fmt.Sprintf(
		`{"id":"srv-1","content":%q,"clientMsgId":%q,"createdAt":"2026-03-01T10:00:00Z","sender":"me"}`, text, clientID)), nil
}

func (m *mockSender) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type harness struct {
	db     *store.DB
	bus    *bus.Bus
	dir    *chat.Directory
	msgs   *chat.MessageStore
	mock   *mockSender
	sender *Sender
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newHarness(t *testing.T, mock *mockSender) *harness {
	t.Helper()
	h := &harness{
		db:   testDB(t),
		bus:  bus.New(),
		dir:  chat.NewDirectory(nil, 0),
		msgs: chat.NewMessageStore(),
		mock: mock,
	}
	h.dir.Upsert(chat.Correspondent{ID: "bob"})
	logger, _ := zap.NewDevelopment()
	h.sender = NewSender(h.db, mock, h.dir, chat.NewNormalizer("me"), h.msgs.Merge, h.bus, logger)
	return h
}

func TestSendRejectsEmptyText(t *testing.T) {
	h := newHarness(t, &mockSender{})

	_, err := h.sender.Send(context.Background(), "bob", "   ")
	if !chat.IsValidation(err) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if h.mock.callCount() != 0 {
		t.Error("backend was called for an empty message")
	}
	if h.msgs.Len("bob") != 0 {
		t.Error("empty message reached the log")
	}
}

func TestSendRejectsUnfollowedRecipient(t *testing.T) {
	h := newHarness(t, &mockSender{})

	_, err := h.sender.Send(context.Background(), "mallory", "hi")
	var verr *chat.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if verr.Reason != NotFollowedReason {
		t.Errorf("reason = %q, want %q", verr.Reason, NotFollowedReason)
	}
	if h.mock.callCount() != 0 {
		t.Error("backend was called for an unfollowed recipient")
	}
}

func TestSendSupersedesOptimisticCopy(t *testing.T) {
	h := newHarness(t, &mockSender{})
	ch, unsub := h.bus.Subscribe("message.send_ack", 10)
	defer unsub()

	got, err := h.sender.Send(context.Background(), "bob", "  hello  ")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "srv-1" || got.Delivery != chat.DeliverySent || !got.FromMe {
		t.Errorf("final = %+v, want srv-1 sent fromMe", got)
	}

	log := h.msgs.Log("bob")
	if len(log) != 1 {
		t.Fatalf("log has %d entries, want 1 (optimistic copy must be superseded)", len(log))
	}
	if log[0].Text != "hello" {
		t.Errorf("text = %q, want trimmed hello", log[0].Text)
	}

	h.mock.mu.Lock()
	call := h.mock.calls[0]
	h.mock.mu.Unlock()
	if call.ClientID == "" || log[0].ClientID != call.ClientID {
		t.Errorf("client id %q not carried to the log (%q)", call.ClientID, log[0].ClientID)
	}

	select {
	case evt := <-ch:
		ack, ok := evt.Payload.(SendAck)
		if !ok || ack.ServerID != "srv-1" || ack.ClientID != call.ClientID {
			t.Errorf("ack payload = %+v", evt.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for send_ack event")
	}

	sent, err := h.db.ListOutbox("sent", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(sent) != 1 || sent[0].ServerMsgID != "srv-1" {
		t.Errorf("outbox = %+v, want one sent entry for srv-1", sent)
	}
}

// TestSendShowsOptimisticCopyImmediately verifies the message is in the log
// with pending delivery before the backend answers.
func TestSendShowsOptimisticCopyImmediately(t *testing.T) {
	mock := &mockSender{gate: make(chan struct{})}
	h := newHarness(t, mock)

	done := make(chan error, 1)
	go func() {
		_, err := h.sender.Send(context.Background(), "bob", "optimistic")
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for h.msgs.Len("bob") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("optimistic message never appeared")
		}
		time.Sleep(5 * time.Millisecond)
	}
	log := h.msgs.Log("bob")
	if log[0].Delivery != chat.DeliveryPending || !log[0].FromMe {
		t.Errorf("optimistic entry = %+v, want pending fromMe", log[0])
	}

	close(mock.gate)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	log = h.msgs.Log("bob")
	if len(log) != 1 || log[0].Delivery != chat.DeliverySent {
		t.Errorf("log after ack = %+v, want one sent entry", log)
	}
}

func TestSendFailureKeepsEntry(t *testing.T) {
	h := newHarness(t, &mockSender{err: fmt.Errorf("network error")})
	ch, unsub := h.bus.Subscribe("message.send_failed", 10)
	defer unsub()

	got, err := h.sender.Send(context.Background(), "bob", "will-fail")
	if !chat.IsTransient(err) {
		t.Fatalf("err = %v, want TransientError", err)
	}
	if got.Delivery != chat.DeliveryFailed {
		t.Errorf("delivery = %q, want failed", got.Delivery)
	}

	log := h.msgs.Log("bob")
	if len(log) != 1 || log[0].Delivery != chat.DeliveryFailed || log[0].Text != "will-fail" {
		t.Errorf("log = %+v, want the failed entry kept", log)
	}

	select {
	case evt := <-ch:
		if evt.Kind != bus.KindMessageSendFailed {
			t.Errorf("event kind = %q, want %s", evt.Kind, bus.KindMessageSendFailed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for send_failed event")
	}

	failed, err := h.db.ListOutbox("failed", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 1 || failed[0].ErrorMessage != "network error" {
		t.Errorf("outbox = %+v, want one failed entry", failed)
	}
}

// TestSendFailureAfterPushEcho verifies a request that fails after the push
// channel already delivered its echo counts as sent.
func TestSendFailureAfterPushEcho(t *testing.T) {
	mock := &mockSender{err: fmt.Errorf("connection reset"), gate: make(chan struct{})}
	h := newHarness(t, mock)

	type result struct {
		msg chat.Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		m, err := h.sender.Send(context.Background(), "bob", "racy")
		done <- result{m, err}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for mock.callCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("send never reached the backend")
		}
		time.Sleep(5 * time.Millisecond)
	}
	mock.mu.Lock()
	clientID := mock.calls[0].ClientID
	mock.mu.Unlock()

	h.msgs.Merge("bob", []chat.Message{{
		ID: "srv-7", ClientID: clientID, Text: "racy", CreatedAt: time.Now(),
		FromMe: true, Delivery: chat.DeliverySent, Source: chat.SourcePush,
	}})
	close(mock.gate)

	var r result
	select {
	case r = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("send did not return")
	}
	if r.err != nil {
		t.Fatalf("err = %v, want nil", r.err)
	}
	if r.msg.ID != "srv-7" || r.msg.Delivery != chat.DeliverySent {
		t.Errorf("got %+v, want the echoed message", r.msg)
	}
	log := h.msgs.Log("bob")
	if len(log) != 1 || log[0].Delivery != chat.DeliverySent {
		t.Errorf("log = %+v", log)
	}
	sent, err := h.db.ListOutbox("sent", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(sent) != 1 || sent[0].ServerMsgID != "srv-7" {
		t.Errorf("outbox = %+v", sent)
	}
}

// TestSendWithoutEcho verifies a send is confirmed even when the backend
// answers with an empty body.
func TestSendWithoutEcho(t *testing.T) {
	h := newHarness(t, &mockSender{reply: `{}`})

	got, err := h.sender.Send(context.Background(), "bob", "quiet")
	if err != nil {
		t.Fatal(err)
	}
	if got.Delivery != chat.DeliverySent {
		t.Errorf("delivery = %q, want sent", got.Delivery)
	}
	if n := h.msgs.Len("bob"); n != 1 {
		t.Errorf("log has %d entries, want 1", n)
	}
}

// TestSendEchoWithoutClientID verifies an ack that omits the client id still
// replaces the optimistic copy.
func TestSendEchoWithoutClientID(t *testing.T) {
	h := newHarness(t, &mockSender{reply: `{"message":{"id":77,"content":"hello","createdAt":"2026-03-01T10:00:00Z"}}`})

	got, err := h.sender.Send(context.Background(), "bob", "hello")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "77" {
		t.Errorf("id = %q, want 77", got.ID)
	}
	if n := h.msgs.Len("bob"); n != 1 {
		t.Errorf("log has %d entries, want 1", n)
	}
}

func TestSendWithoutCache(t *testing.T) {
	mock := &mockSender{}
	msgs := chat.NewMessageStore()
	dir := chat.NewDirectory(nil, 0)
	dir.Upsert(chat.Correspondent{ID: "bob"})
	s := NewSender(nil, mock, dir, chat.NewNormalizer("me"), msgs.Merge, bus.New(), nil)

	if _, err := s.Send(context.Background(), "bob", "hi"); err != nil {
		t.Fatal(err)
	}
	if msgs.Len("bob") != 1 {
		t.Errorf("log has %d entries, want 1", msgs.Len("bob"))
	}
}
