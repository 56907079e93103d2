package store

import (
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := testDB(t)

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 2 {
		t.Errorf("version = %d, want 2 (init + fts)", result.Version)
	}
}

func TestMigrateRecoversInterruptedRun(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "dirty.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	// A first migration that failed and rolled back leaves only the flag.
	if _, err := db.Exec(`CREATE TABLE schema_migrations (version uint64, dirty bool);
		INSERT INTO schema_migrations VALUES (1, 1);`); err != nil {
		t.Fatal(err)
	}

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if !result.Recovered || !result.Changed || result.Version != 2 {
		t.Errorf("result = %+v", result)
	}
	if _, err := db.CorrespondentCount(); err != nil {
		t.Errorf("schema not applied: %v", err)
	}
}

func TestInMemoryDatabasesAreIsolated(t *testing.T) {
	a, err := Open("")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = a.Close() }()
	b, err := Open("")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = b.Close() }()

	for _, db := range []*DB{a, b} {
		if _, err := db.Migrate(); err != nil {
			t.Fatal(err)
		}
	}
	if err := a.UpsertCorrespondent(&Correspondent{ID: "bob"}); err != nil {
		t.Fatal(err)
	}
	n, err := b.CorrespondentCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("second in-memory db sees %d correspondents, want 0", n)
	}
}

func TestCorrespondentUpsertKeepsNames(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertCorrespondent(&Correspondent{ID: "bob", DisplayName: "Bob", Nickname: "bobby"}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertCorrespondent(&Correspondent{ID: "bob"}); err != nil {
		t.Fatal(err)
	}
	c, err := db.GetCorrespondent("bob")
	if err != nil {
		t.Fatal(err)
	}
	if c == nil || c.DisplayName != "Bob" || c.Nickname != "bobby" {
		t.Errorf("got %+v, want names preserved", c)
	}

	missing, err := db.GetCorrespondent("nobody")
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Error("expected nil for unknown correspondent")
	}
}

func TestSearchCorrespondents(t *testing.T) {
	db := testDB(t)

	err := db.BulkUpsertCorrespondents([]Correspondent{
		{ID: "bob", DisplayName: "Robert"},
		{ID: "alice", Nickname: "Al"},
		{ID: "carol_100", DisplayName: "Carol"},
	})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		term string
		want []string
	}{
		{"rob", []string{"bob"}},
		{"AL", []string{"alice"}},
		{"_1", []string{"carol_100"}},
		{"%", nil},
		{"", []string{"alice", "bob", "carol_100"}},
	}
	for _, tt := range tests {
		t.Run(tt.term, func(t *testing.T) {
			got, err := db.SearchCorrespondents(tt.term, 10)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d results, want %d (%+v)", len(got), len(tt.want), got)
			}
			for i, c := range got {
				if c.ID != tt.want[i] {
					t.Errorf("result[%d] = %q, want %q", i, c.ID, tt.want[i])
				}
			}
		})
	}
}

func TestConversationsOrderedByRecency(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertCorrespondent(&Correspondent{ID: "carol", Nickname: "Caz"}); err != nil {
		t.Fatal(err)
	}
	for _, c := range []Conversation{
		{CorrespondentID: "empty"},
		{CorrespondentID: "bob", DisplayName: "Bob", LatestText: "old", LatestAt: 1000},
		{CorrespondentID: "carol", LatestText: "new", LatestAt: 2000, UnreadCount: 3},
	} {
		c := c
		if err := db.UpsertConversation(&c); err != nil {
			t.Fatal(err)
		}
	}

	convs, err := db.ListConversations(10, 0)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"carol", "bob", "empty"}
	if len(convs) != len(want) {
		t.Fatalf("got %d conversations, want %d", len(convs), len(want))
	}
	for i, c := range convs {
		if c.CorrespondentID != want[i] {
			t.Errorf("conversation[%d] = %q, want %q", i, c.CorrespondentID, want[i])
		}
	}
	if convs[0].DisplayName != "Caz" {
		t.Errorf("display name = %q, want nickname fallback Caz", convs[0].DisplayName)
	}
	if convs[0].UnreadCount != 3 {
		t.Errorf("unread = %d, want 3", convs[0].UnreadCount)
	}

	got, err := db.GetConversation("bob")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.LatestText != "old" {
		t.Errorf("got %+v, want bob/old", got)
	}
}

func TestMessageUpsertIdempotent(t *testing.T) {
	db := testDB(t)

	msg := &Message{ConversationKey: "bob", MsgID: "m1", Body: "hello", Timestamp: 1000}
	if err := db.UpsertMessage(msg); err != nil {
		t.Fatal(err)
	}
	msg.Body = "hello updated"
	if err := db.UpsertMessage(msg); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("bob", 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (idempotent upsert failed)", len(msgs))
	}
	if msgs[0].Body != "hello updated" {
		t.Errorf("body = %q, want hello updated", msgs[0].Body)
	}
}

func TestApplyMessagesReplacesOptimisticRow(t *testing.T) {
	db := testDB(t)

	pending := Message{MsgID: "c-1", ClientID: "c-1", Body: "hi", FromMe: true, Delivery: "pending", Timestamp: 1000}
	if err := db.ApplyMessages("bob", []Message{pending}, nil); err != nil {
		t.Fatal(err)
	}
	echo := Message{MsgID: "srv-9", ClientID: "c-1", Body: "hi", FromMe: true, Delivery: "sent", Timestamp: 1001}
	if err := db.ApplyMessages("bob", []Message{echo}, []string{"c-1"}); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("bob", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].MsgID != "srv-9" {
		t.Fatalf("got %+v, want only srv-9", msgs)
	}

	results, err := db.SearchMessages("hi", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Errorf("search after replace got %d results, want 1", len(results))
	}
}

func TestListMessagesKeyset(t *testing.T) {
	db := testDB(t)

	batch := []Message{
		{MsgID: "a", Body: "one", Timestamp: 1000},
		{MsgID: "b", Body: "two", Timestamp: 2000},
		{MsgID: "c", Body: "three", Timestamp: 3000},
		{MsgID: "u", Body: "undated"},
	}
	if err := db.ApplyMessages("bob", batch, nil); err != nil {
		t.Fatal(err)
	}

	first, err := db.ListMessages("bob", 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 2 || first[0].MsgID != "u" || first[1].MsgID != "c" {
		t.Fatalf("first page = %+v, want u then c", first)
	}

	older, err := db.ListMessages("bob", first[1].Timestamp, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(older) != 2 || older[0].MsgID != "b" || older[1].MsgID != "a" {
		t.Errorf("older page = %+v, want b then a", older)
	}
}

func TestSearchMessages(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertCorrespondent(&Correspondent{ID: "bob", DisplayName: "Bob"}); err != nil {
		t.Fatal(err)
	}
	batch := []Message{
		{MsgID: "m1", Body: "hello world", Timestamp: 1000},
		{MsgID: "m2", Body: "goodbye world", Timestamp: 2000},
	}
	if err := db.ApplyMessages("bob", batch, nil); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(&Message{ConversationKey: "alice", MsgID: "m3", Body: "hello alice", Timestamp: 3000}); err != nil {
		t.Fatal(err)
	}

	results, err := db.SearchMessages("hello", "bob", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Message.MsgID != "m1" || results[0].DisplayName != "Bob" {
		t.Errorf("got %+v, want m1 from Bob", results[0])
	}

	quoted, err := db.SearchMessages(`"goodbye`, "", 10)
	if err != nil {
		t.Fatalf("quoted input should not be parsed as FTS syntax: %v", err)
	}
	if len(quoted) != 1 || quoted[0].Message.MsgID != "m2" {
		t.Errorf("got %+v, want m2", quoted)
	}

	none, err := db.SearchMessages("  ", "", 10)
	if err != nil || none != nil {
		t.Errorf("blank query = %v, %v; want nil, nil", none, err)
	}
}

func TestOutbox(t *testing.T) {
	db := testDB(t)

	if err := db.QueueOutbox("client1", "bob", "test msg"); err != nil {
		t.Fatal(err)
	}
	if err := db.QueueOutbox("client2", "bob", "second"); err != nil {
		t.Fatal(err)
	}

	queued, err := db.ListOutbox("queued", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(queued) != 2 {
		t.Fatalf("got %d queued, want 2", len(queued))
	}

	if err := db.MarkOutboxSending("client1"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkOutboxSent("client1", "server1"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkOutboxFailed("client2", "backend down"); err != nil {
		t.Fatal(err)
	}

	queued, err = db.ListOutbox("queued", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(queued) != 0 {
		t.Errorf("got %d queued after completion, want 0", len(queued))
	}

	failed, err := db.ListOutbox("failed", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 1 || failed[0].ErrorMessage != "backend down" {
		t.Errorf("failed = %+v, want client2 with error", failed)
	}

	all, err := db.ListOutbox("", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("got %d entries, want 2", len(all))
	}
}

func TestClearAndState(t *testing.T) {
	db := testDB(t)

	if err := db.SetState("identity", "alice"); err != nil {
		t.Fatal(err)
	}
	v, err := db.State("identity")
	if err != nil {
		t.Fatal(err)
	}
	if v != "alice" {
		t.Errorf("state = %q, want alice", v)
	}
	if err := db.UpsertMessage(&Message{ConversationKey: "bob", MsgID: "m1", Body: "x", Timestamp: 1}); err != nil {
		t.Fatal(err)
	}

	if err := db.Clear(); err != nil {
		t.Fatal(err)
	}
	n, err := db.MessageCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("messages after clear = %d, want 0", n)
	}
	v, err = db.State("identity")
	if err != nil {
		t.Fatal(err)
	}
	if v != "" {
		t.Errorf("state after clear = %q, want empty", v)
	}
}
