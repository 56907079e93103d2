package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func push(key, id, text string, offset time.Duration, fromMe bool) Message {
	return Message{ID: id, ConversationKey: key, Text: text, CreatedAt: t0.Add(offset), FromMe: fromMe, Source: SourcePush}
}

func TestUnreadAccounting(t *testing.T) {
	l := NewConversationList()
	l.Ensure("c", "")

	for i, id := range []string{"1", "2", "3"} {
		receipt := l.ObservePush(push("c", id, "hello", time.Duration(i)*time.Second, false), true)
		require.False(t, receipt)
	}
	got, _ := l.Get("c")
	require.Equal(t, 3, got.UnreadCount)

	l.Select("c")
	got, _ = l.Get("c")
	require.Equal(t, 0, got.UnreadCount)
}

func TestSelfAndReplayedPushesDoNotCount(t *testing.T) {
	l := NewConversationList()
	l.ObservePush(push("bob", "1", "mine", 0, true), true)
	l.ObservePush(push("bob", "2", "theirs", time.Second, false), false)

	got, ok := l.Get("bob")
	require.True(t, ok, "push for an unknown correspondent creates the conversation")
	require.Equal(t, 0, got.UnreadCount)
	require.Equal(t, "theirs", got.LatestText)
}

func TestPushForSelectedConversationWantsReceipt(t *testing.T) {
	l := NewConversationList()
	l.Select("alice")

	require.True(t, l.ObservePush(push("alice", "1", "hi", 0, false), true))
	got, _ := l.Get("alice")
	require.Equal(t, 0, got.UnreadCount)
	require.Equal(t, "hi", got.LatestText)
}

func TestPushWhileOtherConversationSelected(t *testing.T) {
	l := NewConversationList()
	l.Ensure("alice", "")
	l.Ensure("bob", "")
	l.Select("alice")

	l.ObservePush(push("bob", "1", "hey", 0, false), true)

	bob, _ := l.Get("bob")
	alice, _ := l.Get("alice")
	require.Equal(t, 1, bob.UnreadCount)
	require.Equal(t, 0, alice.UnreadCount)
	require.Equal(t, "alice", l.Selected())
}

func TestListOrdering(t *testing.T) {
	l := NewConversationList()
	l.Ensure("empty", "")
	l.Ensure("zed", "")
	l.Project(push("old", "1", "a", time.Second, false))
	l.Project(push("new", "2", "b", time.Hour, false))

	var keys []string
	for _, c := range l.List() {
		keys = append(keys, c.CorrespondentID)
	}
	require.Equal(t, []string{"new", "old", "empty", "zed"}, keys)
}

func TestProjectIsMonotonic(t *testing.T) {
	l := NewConversationList()
	require.True(t, l.Project(push("bob", "2", "newer", time.Minute, false)))
	require.False(t, l.Project(push("bob", "1", "older", 0, false)))

	got, _ := l.Get("bob")
	require.Equal(t, "newer", got.LatestText)
}

func TestProjectUnknownTimestampCountsAsNow(t *testing.T) {
	l := NewConversationList()
	now := t0.Add(24 * time.Hour)
	l.now = func() time.Time { return now }

	l.Project(Message{ConversationKey: "bob", ID: "x", Text: "no time"})
	got, _ := l.Get("bob")
	require.True(t, got.LatestAt.Equal(now))
}

func TestSeedKeepsSelectedUnreadAtZero(t *testing.T) {
	l := NewConversationList()
	l.Select("bob")
	l.Seed([]Conversation{
		{CorrespondentID: "bob", LatestText: "x", LatestAt: t0, UnreadCount: 4},
		{CorrespondentID: "carol", DisplayName: "Carol", LatestText: "y", LatestAt: t0, UnreadCount: 2},
	})

	bob, _ := l.Get("bob")
	carol, _ := l.Get("carol")
	require.Equal(t, 0, bob.UnreadCount)
	require.Equal(t, 2, carol.UnreadCount)
	require.Equal(t, "Carol", carol.DisplayName)
	require.Equal(t, 2, l.TotalUnread())

	l.Reset()
	require.Empty(t, l.List())
	require.Equal(t, "", l.Selected())
}
