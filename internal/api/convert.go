package api

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/Ae-Ti/BMN-sub000/internal/auth"
	"github.com/Ae-Ti/BMN-sub000/internal/backend"
	"github.com/Ae-Ti/BMN-sub000/internal/bus"
	"github.com/Ae-Ti/BMN-sub000/internal/chat"
	"github.com/Ae-Ti/BMN-sub000/internal/outbox"
	"github.com/Ae-Ti/BMN-sub000/internal/rpc"
	"github.com/Ae-Ti/BMN-sub000/internal/status"
	"github.com/Ae-Ti/BMN-sub000/internal/store"
	"github.com/Ae-Ti/BMN-sub000/internal/sync"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// toStatus maps engine errors onto gRPC codes.
func toStatus(op string, err error) error {
	if err == nil {
		return nil
	}
	var code codes.Code
	switch {
	case chat.IsValidation(err):
		return grpcstatus.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, auth.ErrSessionInvalid), errors.Is(err, auth.ErrNoToken), errors.Is(err, backend.ErrUnauthorized):
		code = codes.Unauthenticated
	case errors.Is(err, chat.ErrLoadInFlight):
		code = codes.Aborted
	case chat.IsTransient(err):
		code = codes.Unavailable
	default:
		code = codes.Internal
	}
	return grpcstatus.Errorf(code, "%s: %v", op, err)
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func conversationToRPC(c chat.Conversation, selected string) rpc.Conversation {
	return rpc.Conversation{
		ID:          c.CorrespondentID,
		DisplayName: c.DisplayName,
		LatestText:  c.LatestText,
		LatestAtMs:  millis(c.LatestAt),
		UnreadCount: c.UnreadCount,
		Selected:    selected != "" && c.CorrespondentID == selected,
	}
}

func conversationsToRPC(convs []chat.Conversation, selected string) []rpc.Conversation {
	out := make([]rpc.Conversation, 0, len(convs))
	for _, c := range convs {
		out = append(out, conversationToRPC(c, selected))
	}
	return out
}

func messageToRPC(m chat.Message) rpc.Message {
	return rpc.Message{
		ID:              m.ID,
		ClientID:        m.ClientID,
		ConversationKey: m.ConversationKey,
		Text:            m.Text,
		CreatedAtMs:     millis(m.CreatedAt),
		FromMe:          m.FromMe,
		Delivery:        string(m.Delivery),
		ReadState:       string(m.ReadState),
		Source:          m.Source.String(),
	}
}

func messagesToRPC(msgs []chat.Message) []rpc.Message {
	out := make([]rpc.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageToRPC(m))
	}
	return out
}

func pageToRPC(p sync.MessagePage) *rpc.MessagesResponse {
	return &rpc.MessagesResponse{
		Conversation: p.ConversationKey,
		Messages:     messagesToRPC(p.Messages),
		HasMore:      p.HasMore,
		Loading:      p.Loading,
	}
}

func outboxToRPC(e store.OutboxEntry) rpc.OutboxEntry {
	return rpc.OutboxEntry{
		ClientID:        e.ClientMsgID,
		ConversationKey: e.ConversationKey,
		Text:            e.Body,
		Status:          e.Status,
		Error:           e.ErrorMessage,
		ServerID:        e.ServerMsgID,
		CreatedAtMs:     e.CreatedAt,
		UpdatedAtMs:     e.UpdatedAt,
	}
}

// statusChange is the wire shape of session.status_changed.
type statusChange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type messagesChanged struct {
	Conversation string        `json:"conversation"`
	Messages     []rpc.Message `json:"messages"`
	Removed      []string      `json:"removed,omitempty"`
}

type sendAck struct {
	Conversation string `json:"conversation"`
	ClientID     string `json:"clientId"`
	ServerID     string `json:"serverId"`
}

type sendFailed struct {
	Conversation string `json:"conversation"`
	ClientID     string `json:"clientId"`
	Error        string `json:"error"`
}

// eventToRPC converts a bus event into its streamed form. Payloads the
// client has no use for are dropped, leaving only the kind.
func eventToRPC(session string, evt bus.Event) (*rpc.Event, error) {
	var payload any
	switch p := evt.Payload.(type) {
	case sync.MessagesChanged:
		payload = messagesChanged{Conversation: p.ConversationKey, Messages: messagesToRPC(p.Messages), Removed: p.Removed}
	case []chat.Conversation:
		payload = conversationsToRPC(p, "")
	case outbox.SendAck:
		payload = sendAck{Conversation: p.ConversationKey, ClientID: p.ClientID, ServerID: p.ServerID}
	case outbox.SendFailed:
		payload = sendFailed{Conversation: p.ConversationKey, ClientID: p.ClientID, Error: p.Error}
	case status.StatusChange:
		payload = statusChange{From: string(p.From), To: string(p.To)}
	case string:
		payload = p
	}

	out := &rpc.Event{
		ID:           uuid.NewString(),
		Session:      session,
		Kind:         evt.Kind,
		OccurredAtMs: evt.Timestamp.UnixMilli(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		out.Payload = raw
	}
	return out, nil
}
