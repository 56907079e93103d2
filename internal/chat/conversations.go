package chat

import (
	"sort"
	"sync"
	"time"
)

// ConversationList is the ordered, unread-aware summary of every
// correspondent seen this session. Entries are created lazily and never
// removed until Reset.
type ConversationList struct {
	mu       sync.RWMutex
	convs    map[string]*Conversation
	selected string
	now      func() time.Time
}

// NewConversationList returns an empty list.
func NewConversationList() *ConversationList {
	return &ConversationList{
		convs: make(map[string]*Conversation),
		now:   time.Now,
	}
}

// Ensure creates the conversation for key if it does not exist and refreshes
// its display name when one is given. It reports whether the entry was new.
func (l *ConversationList) Ensure(key, displayName string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, created := l.ensure(key)
	if displayName != "" {
		l.convs[key].DisplayName = displayName
	}
	return created
}

func (l *ConversationList) ensure(key string) (*Conversation, bool) {
	if c, ok := l.convs[key]; ok {
		return c, false
	}
	c := &Conversation{CorrespondentID: key}
	l.convs[key] = c
	return c, true
}

// Project moves the latest-message snapshot forward to m. Older messages
// never replace a newer snapshot. A message without a timestamp counts as
// arriving now.
func (l *ConversationList) Project(m Message) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, _ := l.ensure(m.ConversationKey)
	return l.project(c, m)
}

func (l *ConversationList) project(c *Conversation, m Message) bool {
	at := m.CreatedAt
	if at.IsZero() {
		at = l.now()
	}
	if at.Before(c.LatestAt) {
		return false
	}
	c.LatestText = m.Text
	c.LatestAt = at
	return true
}

// ObservePush applies a push-delivered message. fresh must be false when the
// message was already in the log, so replays never count twice. It reports
// whether a read receipt is due because the conversation is on screen.
func (l *ConversationList) ObservePush(m Message, fresh bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, _ := l.ensure(m.ConversationKey)
	l.project(c, m)
	if !fresh || m.FromMe {
		return false
	}
	if m.ConversationKey == l.selected {
		return true
	}
	c.UnreadCount++
	return false
}

// Select makes key the viewed conversation and clears its unread count.
func (l *ConversationList) Select(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, _ := l.ensure(key)
	c.UnreadCount = 0
	l.selected = key
}

// Selected returns the viewed conversation key, or "" when none is.
func (l *ConversationList) Selected() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.selected
}

// Get returns a copy of the conversation for key.
func (l *ConversationList) Get(key string) (Conversation, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.convs[key]
	if !ok {
		return Conversation{}, false
	}
	return *c, true
}

// Seed merges server-side summaries fetched at startup. Server unread counts
// are adopted except for the selected conversation.
func (l *ConversationList) Seed(summaries []Conversation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range summaries {
		if s.CorrespondentID == "" {
			continue
		}
		c, _ := l.ensure(s.CorrespondentID)
		if s.DisplayName != "" {
			c.DisplayName = s.DisplayName
		}
		if s.HasMessages() && !s.LatestAt.Before(c.LatestAt) {
			c.LatestText = s.LatestText
			c.LatestAt = s.LatestAt
		}
		if s.CorrespondentID != l.selected && s.UnreadCount > 0 {
			c.UnreadCount = s.UnreadCount
		}
	}
}

// List returns every conversation, most recent first. Conversations with no
// messages sort last; ties order by correspondent id.
func (l *ConversationList) List() []Conversation {
	l.mu.RLock()
	out := make([]Conversation, 0, len(l.convs))
	for _, c := range l.convs {
		out = append(out, *c)
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.LatestAt.Equal(b.LatestAt) {
			return a.LatestAt.After(b.LatestAt)
		}
		return a.CorrespondentID < b.CorrespondentID
	})
	return out
}

// TotalUnread sums the unread counts of every conversation.
func (l *ConversationList) TotalUnread() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, c := range l.convs {
		n += c.UnreadCount
	}
	return n
}

// Reset forgets every conversation and the selection.
func (l *ConversationList) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.convs = make(map[string]*Conversation)
	l.selected = ""
}
