package outbox

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/Ae-Ti/BMN-sub000/internal/bus"
	"github.com/Ae-Ti/BMN-sub000/internal/chat"
	"github.com/Ae-Ti/BMN-sub000/internal/logging"
	"github.com/Ae-Ti/BMN-sub000/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NotFollowedReason is the validation message for a recipient missing from
// the allow-list.
const NotFollowedReason = "you can only message people you follow"

// TextSender posts a message to the backend and returns its canonical echo.
type TextSender interface {
	SendMessage(ctx context.Context, partner, text, clientID string) (json.RawMessage, error)
}

// Recipients reports who may be messaged.
type Recipients interface {
	Contains(id string) bool
}

// SendAck is the payload of message.send_ack.
type SendAck struct {
	ConversationKey string
	ClientID        string
	ServerID        string
}

// SendFailed is the payload of message.send_failed.
type SendFailed struct {
	ConversationKey string
	ClientID        string
	Error           string
}

// Sender runs the optimistic send flow: the message shows up locally at
// once, then is replaced by the server copy or flagged as failed.
type Sender struct {
	db         *store.DB
	sender     TextSender
	recipients Recipients
	norm       *chat.Normalizer
	merge      chat.MergeFunc
	bus        *bus.Bus
	logger     *zap.Logger
	now        func() time.Time
}

// NewSender creates a sender. db may be nil, in which case no audit trail is kept.
func NewSender(db *store.DB, sender TextSender, recipients Recipients, norm *chat.Normalizer, merge chat.MergeFunc, b *bus.Bus, logger *zap.Logger) *Sender {
	logger = logging.OrNop(logger)
	return &Sender{
		db:         db,
		sender:     sender,
		recipients: recipients,
		norm:       norm,
		merge:      merge,
		bus:        b,
		logger:     logger,
		now:        time.Now,
	}
}

// Send validates and posts text to key. The returned message is the final
// local copy: the server version on success, the failed optimistic entry
// otherwise. A failed send is never rolled back.
func (s *Sender) Send(ctx context.Context, key, text string) (chat.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return chat.Message{}, &chat.ValidationError{Reason: "message text is empty"}
	}
	if key == "" || !s.recipients.Contains(key) {
		return chat.Message{}, &chat.ValidationError{Reason: NotFollowedReason}
	}

	clientID := uuid.NewString()
	optimistic := chat.Message{
		ID:              clientID,
		ClientID:        clientID,
		ConversationKey: key,
		Text:            text,
		CreatedAt:       s.now(),
		FromMe:          true,
		Delivery:        chat.DeliveryPending,
		Source:          chat.SourceLocal,
	}
	s.merge(key, []chat.Message{optimistic})
	s.audit("queue", func(db *store.DB) error { return db.QueueOutbox(clientID, key, text) })
	s.audit("mark sending", func(db *store.DB) error { return db.MarkOutboxSending(clientID) })

	raw, err := s.sender.SendMessage(ctx, key, text, clientID)
	if err != nil {
		s.logger.Error("failed to send message", zap.Error(err), zap.String("client_msg_id", clientID))
		failed := optimistic
		failed.Delivery = chat.DeliveryFailed
		res := s.merge(key, []chat.Message{failed})
		if m, ok := echoed(res, clientID); ok {
			// The push channel delivered the echo before the request failed.
			s.logger.Warn("send reported failure after the server echoed it", zap.Error(err), zap.String("client_msg_id", clientID))
			s.audit("mark sent", func(db *store.DB) error { return db.MarkOutboxSent(clientID, m.ID) })
			s.bus.Emit(bus.KindMessageSendAck, SendAck{ConversationKey: key, ClientID: clientID, ServerID: m.ID})
			return m, nil
		}
		s.audit("mark failed", func(db *store.DB) error { return db.MarkOutboxFailed(clientID, err.Error()) })
		s.bus.Emit(bus.KindMessageSendFailed, SendFailed{ConversationKey: key, ClientID: clientID, Error: err.Error()})
		return failed, &chat.TransientError{Op: "send message", Err: err}
	}

	final := s.confirmed(key, optimistic, raw)
	res := s.merge(key, []chat.Message{final})
	if m, ok := latestWithID(res, final.ID); ok {
		final = m
	}
	s.audit("mark sent", func(db *store.DB) error { return db.MarkOutboxSent(clientID, final.ID) })

	s.logger.Info("message sent", zap.String("client_msg_id", clientID), zap.String("server_msg_id", final.ID))
	s.bus.Emit(bus.KindMessageSendAck, SendAck{ConversationKey: key, ClientID: clientID, ServerID: final.ID})
	return final, nil
}

// confirmed turns the backend response into the message that supersedes the
// optimistic one. An unreadable response still confirms the send.
func (s *Sender) confirmed(key string, optimistic chat.Message, raw json.RawMessage) chat.Message {
	ack, err := s.norm.DecodeAck(key, raw)
	if err != nil {
		s.logger.Debug("send response carried no message", zap.Error(err))
		sent := optimistic
		sent.Delivery = chat.DeliverySent
		sent.Source = chat.SourceAck
		return sent
	}
	if ack.ClientID == "" {
		ack.ClientID = optimistic.ClientID
	}
	if ack.Text == "" {
		ack.Text = optimistic.Text
	}
	ack.FromMe = true
	ack.Delivery = chat.DeliverySent
	return ack
}

func (s *Sender) audit(op string, fn func(*store.DB) error) {
	if s.db == nil {
		return
	}
	if err := fn(s.db); err != nil {
		s.logger.Warn("outbox "+op+" failed", zap.Error(err))
	}
}

func latestWithID(res chat.MergeResult, id string) (chat.Message, bool) {
	for i := len(res.Log) - 1; i >= 0; i-- {
		if res.Log[i].ID == id {
			return res.Log[i], true
		}
	}
	return chat.Message{}, false
}

// echoed finds the server-confirmed copy of the message sent as clientID.
func echoed(res chat.MergeResult, clientID string) (chat.Message, bool) {
	for _, m := range res.Log {
		if m.ClientID == clientID && m.Source != chat.SourceLocal {
			return m, true
		}
	}
	return chat.Message{}, false
}
