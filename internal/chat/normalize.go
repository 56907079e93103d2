package chat

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Normalizer maps the payload shapes of the three message sources onto
// Message. It holds only the local identity and is safe for concurrent use.
type Normalizer struct {
	self string
}

// NewNormalizer returns a Normalizer that classifies messages sent by self
// as FromMe when the payload carries no explicit flag.
func NewNormalizer(self string) *Normalizer {
	return &Normalizer{self: self}
}

// Identity returns the local user id the normalizer compares senders with.
func (n *Normalizer) Identity() string {
	return n.self
}

// wireMessage accepts every field alias the backend endpoints are known to use.
type wireMessage struct {
	ID        json.RawMessage `json:"id"`
	MessageID json.RawMessage `json:"messageId"`
	MongoID   json.RawMessage `json:"_id"`

	Content *string         `json:"content"`
	Text    *string         `json:"text"`
	Body    *string         `json:"body"`
	Message json.RawMessage `json:"message"`

	CreatedAt      json.RawMessage `json:"createdAt"`
	CreatedAtSnake json.RawMessage `json:"created_at"`
	Timestamp      json.RawMessage `json:"timestamp"`
	SentAt         json.RawMessage `json:"sentAt"`

	FromMe *bool `json:"fromMe"`
	IsMine *bool `json:"isMine"`

	Sender         json.RawMessage `json:"sender"`
	SenderID       json.RawMessage `json:"senderId"`
	SenderUsername json.RawMessage `json:"senderUsername"`
	From           json.RawMessage `json:"from"`
	Receiver       json.RawMessage `json:"receiver"`
	ReceiverID     json.RawMessage `json:"receiverId"`
	To             json.RawMessage `json:"to"`

	ClientMsgID *string `json:"clientMsgId"`
	ClientID    *string `json:"clientId"`

	Read   *bool `json:"read"`
	IsRead *bool `json:"isRead"`

	Partner         string `json:"partner"`
	ConversationKey string `json:"conversationKey"`
	Correspondent   string `json:"correspondent"`
	Type            string `json:"type"`
}

var errNoPartner = errors.New("frame does not name a correspondent")

// ErrIgnoredFrame marks a well-formed push frame that carries no message,
// such as a typing or presence notification.
var ErrIgnoredFrame = errors.New("frame carries no message")

// DecodeHistory normalizes one element of a backfill page for conversation key.
func (n *Normalizer) DecodeHistory(key string, raw json.RawMessage) (Message, error) {
	return n.decodeFor(SourceBackfill, key, raw)
}

// DecodeAck normalizes the canonical message returned by a send request.
func (n *Normalizer) DecodeAck(key string, raw json.RawMessage) (Message, error) {
	return n.decodeFor(SourceAck, key, raw)
}

func (n *Normalizer) decodeFor(src Source, key string, raw json.RawMessage) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(raw, &w); err != nil {
		return Message{}, &MalformedPayloadError{Source: src, Err: err}
	}
	// Some endpoints wrap the record as {"message": {...}}.
	if isObject(w.Message) && w.Content == nil && w.Text == nil && w.Body == nil {
		var inner wireMessage
		if err := json.Unmarshal(w.Message, &inner); err != nil {
			return Message{}, &MalformedPayloadError{Source: src, Err: err}
		}
		w = inner
	}
	m, err := n.build(src, w)
	if err != nil {
		return Message{}, err
	}
	m.ConversationKey = key
	return m, nil
}

// DecodePush normalizes one live-channel frame and returns the correspondent it
// belongs to. Accepted shapes are an envelope {"partner": ..., "message": {...}}
// and a flat message carrying its own partner or sender/receiver fields.
func (n *Normalizer) DecodePush(frame []byte) (string, Message, error) {
	var outer wireMessage
	if err := json.Unmarshal(frame, &outer); err != nil {
		return "", Message{}, &MalformedPayloadError{Source: SourcePush, Err: err}
	}
	if !isMessageType(outer.Type) {
		return "", Message{}, ErrIgnoredFrame
	}

	body := outer
	if isObject(outer.Message) {
		body = wireMessage{}
		if err := json.Unmarshal(outer.Message, &body); err != nil {
			return "", Message{}, &MalformedPayloadError{Source: SourcePush, Err: err}
		}
	}

	m, err := n.build(SourcePush, body)
	if err != nil {
		return "", Message{}, err
	}

	key := firstNonEmpty(outer.Partner, outer.ConversationKey, outer.Correspondent,
		body.Partner, body.ConversationKey, body.Correspondent)
	if key == "" {
		if m.FromMe {
			key = firstNonEmpty(rawIdent(body.Receiver), rawIdent(body.ReceiverID), rawIdent(body.To))
		} else {
			key = n.sender(body)
		}
	}
	if key == "" {
		return "", Message{}, &MalformedPayloadError{Source: SourcePush, Err: errNoPartner}
	}
	m.ConversationKey = key
	return key, m, nil
}

func (n *Normalizer) build(src Source, w wireMessage) (Message, error) {
	text := firstNonEmpty(deref(w.Content), deref(w.Text), deref(w.Body), rawText(w.Message))

	var createdAt time.Time
	for _, raw := range []json.RawMessage{w.CreatedAt, w.CreatedAtSnake, w.Timestamp, w.SentAt} {
		if len(raw) == 0 || string(raw) == "null" {
			continue
		}
		ts, err := ParseTimestamp(raw)
		if err != nil {
			return Message{}, &MalformedPayloadError{Source: src, Err: err}
		}
		createdAt = ts
		break
	}

	m := Message{
		ClientID:  firstNonEmpty(deref(w.ClientMsgID), deref(w.ClientID)),
		Text:      text,
		CreatedAt: createdAt,
		FromMe:    n.fromMe(w),
		Source:    src,
	}
	if !m.wellFormed() {
		return Message{}, &MalformedPayloadError{Source: src, Err: errors.New("no text and no timestamp")}
	}

	m.ID = firstNonEmpty(rawIdent(w.ID), rawIdent(w.MessageID), rawIdent(w.MongoID), m.ClientID)
	if m.ID == "" {
		m.ID = SyntheticID(m.CreatedAt, m.Text)
	}

	switch {
	case w.Read != nil && *w.Read, w.IsRead != nil && *w.IsRead:
		m.ReadState = ReadRead
	case w.Read != nil, w.IsRead != nil:
		m.ReadState = ReadUnread
	}
	if m.FromMe && src != SourceLocal {
		m.Delivery = DeliverySent
	}
	return m, nil
}

// fromMe applies the fixed priority: explicit flag, then sender identity.
func (n *Normalizer) fromMe(w wireMessage) bool {
	if w.FromMe != nil {
		return *w.FromMe
	}
	if w.IsMine != nil {
		return *w.IsMine
	}
	if n.self == "" {
		return false
	}
	return strings.EqualFold(n.sender(w), n.self)
}

func (n *Normalizer) sender(w wireMessage) string {
	return firstNonEmpty(rawIdent(w.Sender), rawIdent(w.SenderID), rawIdent(w.SenderUsername), rawIdent(w.From))
}

func isMessageType(t string) bool {
	switch strings.ToLower(t) {
	case "", "message", "chat", "new_message", "chat_message", "dm":
		return true
	default:
		return false
	}
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

// rawIdent reads an identifier that may be a JSON string, a number, or an
// object with a username/id field.
func rawIdent(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return s
	case '{':
		var obj struct {
			Username json.RawMessage `json:"username"`
			ID       json.RawMessage `json:"id"`
			UserID   json.RawMessage `json:"userId"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return ""
		}
		return firstNonEmpty(rawIdent(obj.Username), rawIdent(obj.ID), rawIdent(obj.UserID))
	default:
		var num json.Number
		if err := json.Unmarshal(raw, &num); err != nil {
			return ""
		}
		return num.String()
	}
}

// rawText reads the "message" alias when it is a plain string body.
func rawText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '"' {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// ParseTimestamp accepts RFC 3339 strings, zone-less ISO strings (read as UTC),
// epoch numbers in seconds or milliseconds, and [y,m,d,h,min,s,nanos] arrays.
func ParseTimestamp(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, err
		}
		if s == "" {
			return time.Time{}, nil
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.UTC(), nil
		}
		for _, layout := range localLayouts {
			if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				return t, nil
			}
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return fromEpoch(n), nil
		}
		return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
	case '[':
		var parts []int
		if err := json.Unmarshal(raw, &parts); err != nil {
			return time.Time{}, err
		}
		if len(parts) < 3 {
			return time.Time{}, fmt.Errorf("timestamp array too short: %v", parts)
		}
		for len(parts) < 7 {
			parts = append(parts, 0)
		}
		return time.Date(parts[0], time.Month(parts[1]), parts[2], parts[3], parts[4], parts[5], parts[6], time.UTC), nil
	default:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return time.Time{}, err
		}
		return fromEpoch(int64(f)), nil
	}
}

func fromEpoch(n int64) time.Time {
	if n > 1e11 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
