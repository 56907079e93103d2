package chat

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// Source records which pipeline produced a Message.
type Source int

const (
	SourceBackfill Source = iota
	SourcePush
	SourceLocal
	SourceAck
)

func (s Source) String() string {
	switch s {
	case SourceBackfill:
		return "backfill"
	case SourcePush:
		return "push"
	case SourceLocal:
		return "local"
	case SourceAck:
		return "ack"
	default:
		return "unknown"
	}
}

// Delivery is the local send state of a self-authored message.
type Delivery string

const (
	DeliveryNone    Delivery = ""
	DeliveryPending Delivery = "pending"
	DeliverySent    Delivery = "sent"
	DeliveryFailed  Delivery = "failed"
)

// ReadState mirrors the server's read flag when it sends one.
type ReadState string

const (
	ReadUnknown ReadState = ""
	ReadUnread  ReadState = "unread"
	ReadRead    ReadState = "read"
)

// Message is the canonical record every payload shape is normalized into.
// A zero CreatedAt means the timestamp is unknown.
type Message struct {
	ID              string
	ClientID        string
	ConversationKey string
	Text            string
	CreatedAt       time.Time
	FromMe          bool
	ReadState       ReadState
	Delivery        Delivery
	Source          Source
}

// HasTimestamp reports whether CreatedAt is known.
func (m Message) HasTimestamp() bool {
	return !m.CreatedAt.IsZero()
}

func (m Message) wellFormed() bool {
	return m.Text != "" || m.HasTimestamp()
}

// SyntheticID derives a stable id from a timestamp and content, used when the
// server omits one. The same inputs always yield the same id, so a replayed
// frame merges onto its first copy. Distinct messages with the same text and
// no timestamp collide too and are kept as a single entry.
func SyntheticID(createdAt time.Time, text string) string {
	var ms int64
	if !createdAt.IsZero() {
		ms = createdAt.UnixMilli()
	}
	sum := sha256.Sum256([]byte(strconv.FormatInt(ms, 10) + "|" + text))
	return "syn-" + hex.EncodeToString(sum[:8])
}

// Correspondent is a user the local account may message.
type Correspondent struct {
	ID          string
	DisplayName string
	Nickname    string
}

// Label returns the best human-readable name.
func (c Correspondent) Label() string {
	switch {
	case c.Nickname != "":
		return c.Nickname
	case c.DisplayName != "":
		return c.DisplayName
	default:
		return c.ID
	}
}

// Conversation is one row of the conversation list.
type Conversation struct {
	CorrespondentID string
	DisplayName     string
	LatestText      string
	LatestAt        time.Time
	UnreadCount     int
}

// HasMessages reports whether any latest message has been projected.
func (c Conversation) HasMessages() bool {
	return !c.LatestAt.IsZero()
}
