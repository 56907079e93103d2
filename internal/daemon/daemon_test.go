package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Ae-Ti/BMN-sub000/internal/api"
	"github.com/Ae-Ti/BMN-sub000/internal/bus"
	"github.com/Ae-Ti/BMN-sub000/internal/chat"
	"github.com/Ae-Ti/BMN-sub000/internal/config"
	"github.com/Ae-Ti/BMN-sub000/internal/status"
	intsync "github.com/Ae-Ti/BMN-sub000/internal/sync"
	"github.com/Ae-Ti/BMN-sub000/internal/tui/client"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// fakeBackend serves the REST endpoints the daemon talks to.
type fakeBackend struct {
	mu    sync.Mutex
	reads int
	sends []string
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer tok" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/chat/correspondents":
		_, _ = w.Write([]byte(`[{"username":"alice","displayName":"Alice"},{"username":"bob"}]`))
	case r.Method == http.MethodGet && r.URL.Path == "/api/chat/conversations":
		_, _ = w.Write([]byte(`[{"partner":"alice","lastMessage":"hello there","lastMessageAt":"2026-01-01T10:00:00Z","unreadCount":1}]`))
	case r.Method == http.MethodGet && r.URL.Path == "/api/chat/conversations/alice/messages":
		_, _ = w.Write([]byte(`[{"id":"m1","content":"hello there","sender":"alice","receiver":"me","createdAt":"2026-01-01T10:00:00Z"}]`))
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/messages"):
		_, _ = w.Write([]byte(`[]`))
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/read"):
		f.mu.Lock()
		f.reads++
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	case r.Method == http.MethodPost && r.URL.Path == "/api/chat/conversations/alice/messages":
		var body struct {
			Content     string `json:"content"`
			ClientMsgID string `json:"clientMsgId"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.sends = append(f.sends, body.Content)
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":          "m2",
			"content":     body.Content,
			"sender":      "me",
			"receiver":    "alice",
			"clientMsgId": body.ClientMsgID,
			"createdAt":   "2026-01-01T10:05:00Z",
		})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func shortTempDir(t *testing.T, pattern string) string {
	t.Helper()
	// Use /tmp to stay under the 104-char Unix socket limit on macOS.
	dir, err := os.MkdirTemp("/tmp", pattern)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startDaemon(t *testing.T, backendURL, token string) (*client.Client, string) {
	t.Helper()
	home := shortTempDir(t, "dm-home-*")
	t.Setenv("DM_HOME", home)
	socketPath := filepath.Join(home, "d.sock")

	cfg := &config.Config{}
	cfg.Backend.BaseURL = backendURL
	cfg.Live.URL = strings.Replace(backendURL, "http", "ws", 1) + "/ws/chat"
	cfg.Auth.User = "me"

	app := fx.New(
		Module(Params{
			SessionName: "test",
			SocketPath:  socketPath,
			Config:      cfg,
			Token:       token,
			Logger:      zap.NewNop(),
		}),
		fx.NopLogger,
	)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		t.Fatalf("app.Start() error = %v", err)
	}
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = app.Stop(stopCtx)
	})

	c, err := client.New(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, socketPath
}

func TestDaemonLifecycle(t *testing.T) {
	fb := &fakeBackend{}
	srv := httptest.NewServer(fb)
	defer srv.Close()

	c, _ := startDaemon(t, srv.URL, "tok")
	ctx := context.Background()

	// Bootstrap runs in the background; the live dial fails against the
	// fake server, which leaves the session offline but usable.
	waitFor(t, "bootstrap", func() bool {
		resp, err := c.ListConversations(ctx)
		return err == nil && len(resp.Conversations) == 2
	})

	convs, err := c.ListConversations(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if convs.Conversations[0].ID != "alice" || convs.Conversations[0].UnreadCount != 1 {
		t.Errorf("first conversation = %+v, want alice with 1 unread", convs.Conversations[0])
	}
	if convs.TotalUnread != 1 {
		t.Errorf("TotalUnread = %d, want 1", convs.TotalUnread)
	}

	status, err := c.GetSessionStatus(ctx)
	if err != nil {
		t.Fatalf("GetSessionStatus error = %v", err)
	}
	if status.Session != "test" {
		t.Errorf("session = %q, want %q", status.Session, "test")
	}
	if status.Identity != "me" {
		t.Errorf("identity = %q, want me", status.Identity)
	}
	if status.Correspondents != 2 {
		t.Errorf("correspondents = %d, want 2", status.Correspondents)
	}

	page, err := c.SelectConversation(ctx, "alice")
	if err != nil {
		t.Fatalf("SelectConversation error = %v", err)
	}
	if len(page.Messages) != 1 || page.Messages[0].ID != "m1" {
		t.Fatalf("messages = %+v, want m1", page.Messages)
	}
	if page.Messages[0].FromMe {
		t.Error("m1 should not be from me")
	}
	convs, _ = c.ListConversations(ctx)
	if convs.Selected != "alice" || convs.TotalUnread != 0 {
		t.Errorf("after select: selected=%q unread=%d, want alice and 0", convs.Selected, convs.TotalUnread)
	}

	sent, err := c.SendText(ctx, "alice", "  see you  ")
	if err != nil {
		t.Fatalf("SendText error = %v", err)
	}
	if sent.Message.ID != "m2" || sent.Message.Text != "see you" || sent.Message.Delivery != "sent" {
		t.Errorf("sent = %+v, want m2 'see you' sent", sent.Message)
	}

	page, err = c.ListMessages(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Messages) != 2 || page.Messages[1].ID != "m2" {
		t.Errorf("messages after send = %+v, want m1 then m2", page.Messages)
	}

	hits, err := c.SearchMessages(ctx, "hello", "", 10)
	if err != nil {
		t.Fatalf("SearchMessages error = %v", err)
	}
	if len(hits.Results) != 1 || hits.Results[0].MessageID != "m1" {
		t.Errorf("search hits = %+v, want m1", hits.Results)
	}

	people, err := c.SearchCorrespondents(ctx, "ali", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(people.Correspondents) != 1 || people.Correspondents[0].ID != "alice" {
		t.Errorf("people = %+v, want alice", people.Correspondents)
	}

	entries, err := c.ListOutbox(ctx, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries.Entries) != 1 || entries.Entries[0].Status != "sent" || entries.Entries[0].ServerID != "m2" {
		t.Errorf("outbox = %+v, want one sent entry for m2", entries.Entries)
	}

	out, err := c.Logout(ctx)
	if err != nil {
		t.Fatalf("Logout error = %v", err)
	}
	if !out.Success {
		t.Error("expected logout success")
	}
	status, _ = c.GetSessionStatus(ctx)
	if status.State != "AUTH_REQUIRED" {
		t.Errorf("state after logout = %s, want AUTH_REQUIRED", status.State)
	}
}

func TestSendValidationMapsToInvalidArgument(t *testing.T) {
	srv := httptest.NewServer(&fakeBackend{})
	defer srv.Close()

	c, _ := startDaemon(t, srv.URL, "tok")
	ctx := context.Background()
	waitFor(t, "bootstrap", func() bool {
		resp, err := c.ListConversations(ctx)
		return err == nil && len(resp.Conversations) == 2
	})

	for _, tc := range []struct {
		name, to, text string
	}{
		{"blank text", "alice", "   "},
		{"not followed", "mallory", "hi"},
	} {
		_, err := c.SendText(ctx, tc.to, tc.text)
		if got := grpcstatus.Code(err); got != codes.InvalidArgument {
			t.Errorf("%s: code = %v, want InvalidArgument", tc.name, got)
		}
	}
}

// TestStatusTransitionsToAuthRequired verifies the daemon reports
// AUTH_REQUIRED when it starts without a credential.
// Regression: the daemon must not stay in BOOTING when unauthenticated.
func TestStatusTransitionsToAuthRequired(t *testing.T) {
	srv := httptest.NewServer(&fakeBackend{})
	defer srv.Close()

	c, _ := startDaemon(t, srv.URL, "")

	waitFor(t, "auth required", func() bool {
		resp, err := c.GetSessionStatus(context.Background())
		return err == nil && resp.State == "AUTH_REQUIRED"
	})
}

func TestRejectedTokenRequiresAuth(t *testing.T) {
	srv := httptest.NewServer(&fakeBackend{})
	defer srv.Close()

	c, _ := startDaemon(t, srv.URL, "wrong")

	waitFor(t, "auth required", func() bool {
		resp, err := c.GetSessionStatus(context.Background())
		return err == nil && resp.State == "AUTH_REQUIRED"
	})
	_, err := c.SelectConversation(context.Background(), "alice")
	if got := grpcstatus.Code(err); got != codes.Unauthenticated {
		t.Errorf("select after 401: code = %v, want Unauthenticated", got)
	}
}

func TestWatchEventsStreamsMessages(t *testing.T) {
	srv := httptest.NewServer(&fakeBackend{})
	defer srv.Close()

	c, _ := startDaemon(t, srv.URL, "tok")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	waitFor(t, "bootstrap", func() bool {
		resp, err := c.ListConversations(ctx)
		return err == nil && len(resp.Conversations) == 2
	})

	stream, err := c.WatchEvents(ctx, "message.")
	if err != nil {
		t.Fatal(err)
	}
	// Give the server a moment to subscribe before producing events.
	time.Sleep(100 * time.Millisecond)
	if _, err := c.SendText(ctx, "alice", "ping"); err != nil {
		t.Fatal(err)
	}

	for {
		evt, err := stream.Recv()
		if err != nil {
			t.Fatalf("Recv() error = %v", err)
		}
		if !strings.HasPrefix(evt.Kind, "message.") {
			t.Fatalf("got %s outside the requested prefix", evt.Kind)
		}
		if evt.Kind != bus.KindMessageSendAck {
			continue
		}
		var ack struct {
			Conversation string `json:"conversation"`
			ServerID     string `json:"serverId"`
		}
		if err := json.Unmarshal(evt.Payload, &ack); err != nil {
			t.Fatal(err)
		}
		if ack.Conversation != "alice" || ack.ServerID != "m2" {
			t.Errorf("ack = %+v, want alice/m2", ack)
		}
		if evt.Session != "test" || evt.ID == "" {
			t.Errorf("envelope = %+v, want session and id set", evt)
		}
		return
	}
}

// TestFxModuleWiring verifies NewServer resolves from Params alone.
// Regression: a bare `string` param caused fx to fail with "missing type: string".
func TestFxModuleWiring(t *testing.T) {
	socketPath := filepath.Join(shortTempDir(t, "dm-fx-*"), "d.sock")

	b := bus.New()
	engine := intsync.NewEngine(nil, chat.NewNormalizer("me"), nil, b, status.NewMachine(b), nil, intsync.Options{}, nil)
	p := Params{SessionName: "fxtest", SocketPath: socketPath}
	srv, err := NewServer(
		p,
		zap.NewNop(),
		api.NewSessionService("fxtest", engine, nil),
		api.NewChatService(engine, nil, b, "fxtest", nil),
	)
	if err != nil {
		t.Fatalf("NewServer() with Params failed: %v", err)
	}

	// Verify socket was created inside the temp dir (not ~/.dm).
	info, statErr := os.Stat(socketPath)
	if statErr != nil {
		t.Fatalf("socket not created at %s: %v", socketPath, statErr)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("socket mode = %o, want 600", perm)
	}

	srv.Stop(context.Background())
}

func TestNewServerRefusesLiveSocket(t *testing.T) {
	socketPath := filepath.Join(shortTempDir(t, "dm-live-*"), "d.sock")
	b := bus.New()
	engine := intsync.NewEngine(nil, chat.NewNormalizer("me"), nil, b, status.NewMachine(b), nil, intsync.Options{}, nil)
	newServer := func() (*Server, error) {
		return NewServer(Params{SessionName: "live", SocketPath: socketPath}, zap.NewNop(),
			api.NewSessionService("live", engine, nil),
			api.NewChatService(engine, nil, b, "live", nil))
	}

	first, err := newServer()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := newServer(); !errors.Is(err, ErrSocketInUse) {
		t.Fatalf("second server err = %v, want ErrSocketInUse", err)
	}
	first.Stop(context.Background())

	// A leftover file nobody answers on is replaced.
	if err := os.WriteFile(socketPath, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	second, err := newServer()
	if err != nil {
		t.Fatalf("stale socket not cleared: %v", err)
	}
	second.Stop(context.Background())
}
