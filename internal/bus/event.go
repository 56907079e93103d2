package bus

import "time"

// Event kinds published by the daemon. Subscribers filter by prefix, so the
// part before the first dot acts as a namespace.
const (
	KindLiveFrame        = "live.frame"
	KindLiveConnected    = "live.connected"
	KindLiveDisconnected = "live.disconnected"
	KindLiveReconnected  = "live.reconnected"

	KindMessageUpserted   = "message.upserted"
	KindMessageSendAck    = "message.send_ack"
	KindMessageSendFailed = "message.send_failed"

	KindConversationUpdated  = "conversation.updated"
	KindConversationSelected = "conversation.selected"

	KindSessionStatusChanged = "session.status_changed"
	KindSessionInvalidated   = "session.invalidated"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// NewEvent stamps an event with the current time.
func NewEvent(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}

// Namespace returns the prefix of Kind up to and including the first dot.
func (e Event) Namespace() string {
	for i := 0; i < len(e.Kind); i++ {
		if e.Kind[i] == '.' {
			return e.Kind[:i+1]
		}
	}
	return e.Kind
}
