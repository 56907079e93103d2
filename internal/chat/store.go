package chat

import (
	"sort"
	"sync"
	"time"
)

// DefaultPendingMatchWindow bounds how far apart an optimistic send and its
// server echo may be for the text-based fallback match.
const DefaultPendingMatchWindow = 2 * time.Minute

// MergeResult describes what one Merge call did to a conversation log.
type MergeResult struct {
	Key        string
	Added      int
	Replaced   int
	Superseded int
	Filtered   int
	// Changed holds the final version of every entry that was added, replaced
	// or superseded, in batch order.
	Changed []Message
	// Removed holds ids that no longer exist because a superseding entry was
	// re-keyed to a server id.
	Removed []string
	Log     []Message
	Latest  Message

	kinds map[string]mergeKind
}

// Mutated reports whether the log differs from before the merge.
func (r MergeResult) Mutated() bool {
	return r.Added+r.Replaced+r.Superseded > 0
}

// IsNew reports whether id entered the log in this merge, either appended or
// taking the place of an optimistic entry, rather than overwriting a copy of
// itself.
func (r MergeResult) IsNew(id string) bool {
	k := r.kinds[id]
	return k == kindAdded || k == kindSuperseded
}

type mergeKind int

const (
	kindAdded mergeKind = iota + 1
	kindReplaced
	kindSuperseded
)

type entry struct {
	msg Message
	seq uint64
}

type conversationLog struct {
	entries map[string]*entry
	sorted  []*entry
}

// MessageStore owns the ordered, deduplicated message log of every
// conversation. All writes go through Merge.
type MessageStore struct {
	mu     sync.RWMutex
	logs   map[string]*conversationLog
	seq    uint64
	window time.Duration
}

// StoreOption configures a MessageStore.
type StoreOption func(*MessageStore)

// WithPendingMatchWindow sets the window used to pair an echo without a client
// id to a pending optimistic send. Zero disables the fallback.
func WithPendingMatchWindow(d time.Duration) StoreOption {
	return func(s *MessageStore) { s.window = d }
}

// NewMessageStore returns an empty store.
func NewMessageStore(opts ...StoreOption) *MessageStore {
	s := &MessageStore{
		logs:   make(map[string]*conversationLog),
		window: DefaultPendingMatchWindow,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Merge unions batch into the log for key. Entries are keyed by id with
// last-write-wins on the full record. A confirmed message supersedes the
// optimistic entry it echoes instead of being appended next to it. Entries
// with neither text nor timestamp are dropped. Merging the same batch again
// leaves the log unchanged.
func (s *MessageStore) Merge(key string, batch []Message) MergeResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	cl := s.logs[key]
	if cl == nil {
		cl = &conversationLog{entries: make(map[string]*entry)}
		s.logs[key] = cl
	}

	res := MergeResult{Key: key, kinds: make(map[string]mergeKind)}
	for _, m := range batch {
		if !m.wellFormed() {
			res.Filtered++
			continue
		}
		m.ConversationKey = key
		if m.ID == "" {
			m.ID = firstNonEmpty(m.ClientID, SyntheticID(m.CreatedAt, m.Text))
		}

		// A local copy never overrides what the server confirmed.
		if cur, ok := cl.entries[m.ID]; ok {
			if m.Source == SourceLocal && cur.msg.Source != SourceLocal {
				continue
			}
			next := overwrite(cur.msg, m)
			if sameMessage(next, cur.msg) {
				continue
			}
			cur.msg = next
			res.Replaced++
			res.record(next, kindReplaced)
			continue
		}

		if old := s.supersedable(cl, m); old != nil {
			if m.Source == SourceLocal && old.msg.Source != SourceLocal {
				continue
			}
			delete(cl.entries, old.msg.ID)
			res.Removed = append(res.Removed, old.msg.ID)
			next := overwrite(old.msg, m)
			cl.entries[next.ID] = &entry{msg: next, seq: old.seq}
			res.Superseded++
			res.record(next, kindSuperseded)
			continue
		}

		s.seq++
		cl.entries[m.ID] = &entry{msg: m, seq: s.seq}
		res.Added++
		res.record(m, kindAdded)
	}

	if res.Mutated() {
		cl.resort()
	}
	res.Log = cl.snapshot()
	if n := len(res.Log); n > 0 {
		res.Latest = res.Log[n-1]
	}
	return res
}

// overwrite applies last-write-wins while keeping facts the incoming copy
// does not know about.
func overwrite(cur, in Message) Message {
	if in.CreatedAt.IsZero() {
		in.CreatedAt = cur.CreatedAt
	}
	if in.ClientID == "" {
		in.ClientID = cur.ClientID
	}
	if in.ReadState == ReadUnknown {
		in.ReadState = cur.ReadState
	}
	// A matching client id means the local account wrote it, whatever the
	// sender field says.
	if cur.FromMe && in.ClientID != "" && (in.ClientID == cur.ClientID || in.ClientID == cur.ID) {
		in.FromMe = true
	}
	if in.FromMe && in.Delivery == DeliveryNone && in.Source != SourceLocal {
		in.Delivery = DeliverySent
	}
	return in
}

// supersedable finds the optimistic entry that m confirms, if any.
func (s *MessageStore) supersedable(cl *conversationLog, m Message) *entry {
	if m.ClientID != "" {
		if e, ok := cl.entries[m.ClientID]; ok {
			return e
		}
		for _, e := range cl.entries {
			if e.msg.ClientID == m.ClientID {
				return e
			}
		}
	}
	if s.window <= 0 || !m.FromMe || m.Delivery == DeliveryPending || m.Source == SourceLocal {
		return nil
	}
	var best *entry
	for _, e := range cl.entries {
		if e.msg.Delivery != DeliveryPending || !e.msg.FromMe || e.msg.Text != m.Text {
			continue
		}
		if m.HasTimestamp() && e.msg.HasTimestamp() && absDuration(m.CreatedAt.Sub(e.msg.CreatedAt)) > s.window {
			continue
		}
		if best == nil || e.seq < best.seq {
			best = e
		}
	}
	return best
}

func (r *MergeResult) record(m Message, k mergeKind) {
	r.Changed = append(r.Changed, m)
	r.kinds[m.ID] = k
}

func (cl *conversationLog) resort() {
	cl.sorted = cl.sorted[:0]
	for _, e := range cl.entries {
		cl.sorted = append(cl.sorted, e)
	}
	sort.Slice(cl.sorted, func(i, j int) bool {
		return before(cl.sorted[i], cl.sorted[j])
	})
}

// before orders by CreatedAt with unknown timestamps last, then by
// insertion sequence.
func before(a, b *entry) bool {
	az, bz := a.msg.CreatedAt.IsZero(), b.msg.CreatedAt.IsZero()
	switch {
	case az != bz:
		return bz
	case !az && !a.msg.CreatedAt.Equal(b.msg.CreatedAt):
		return a.msg.CreatedAt.Before(b.msg.CreatedAt)
	default:
		return a.seq < b.seq
	}
}

func (cl *conversationLog) snapshot() []Message {
	out := make([]Message, len(cl.sorted))
	for i, e := range cl.sorted {
		out[i] = e.msg
	}
	return out
}

// Log returns a copy of the ordered log for key.
func (s *MessageStore) Log(key string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cl := s.logs[key]
	if cl == nil {
		return nil
	}
	return cl.snapshot()
}

// Latest returns the most recent entry for key.
func (s *MessageStore) Latest(key string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cl := s.logs[key]
	if cl == nil || len(cl.sorted) == 0 {
		return Message{}, false
	}
	return cl.sorted[len(cl.sorted)-1].msg, true
}

// Get returns the entry with id in the log for key.
func (s *MessageStore) Get(key, id string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cl := s.logs[key]
	if cl == nil {
		return Message{}, false
	}
	e, ok := cl.entries[id]
	if !ok {
		return Message{}, false
	}
	return e.msg, true
}

// Len returns the number of entries logged for key.
func (s *MessageStore) Len(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cl := s.logs[key]; cl != nil {
		return len(cl.sorted)
	}
	return 0
}

// Keys returns every conversation key with a log, sorted.
func (s *MessageStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.logs))
	for k := range s.logs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Reset drops every log.
func (s *MessageStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = make(map[string]*conversationLog)
}

func sameMessage(a, b Message) bool {
	return a.ID == b.ID &&
		a.ClientID == b.ClientID &&
		a.ConversationKey == b.ConversationKey &&
		a.Text == b.Text &&
		a.CreatedAt.Equal(b.CreatedAt) &&
		a.FromMe == b.FromMe &&
		a.ReadState == b.ReadState &&
		a.Delivery == b.Delivery &&
		a.Source == b.Source
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
