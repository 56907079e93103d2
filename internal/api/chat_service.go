package api

import (
	"context"
	"strings"

	"github.com/Ae-Ti/BMN-sub000/internal/bus"
	"github.com/Ae-Ti/BMN-sub000/internal/logging"
	"github.com/Ae-Ti/BMN-sub000/internal/outbox"
	"github.com/Ae-Ti/BMN-sub000/internal/rpc"
	"github.com/Ae-Ti/BMN-sub000/internal/sync"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

const (
	defaultSearchLimit = 50
	defaultOutboxLimit = 50
)

// defaultPrefixes is what WatchEvents streams when the client names none.
var defaultPrefixes = []string{"message.", "conversation.", "session."}

// ChatService implements the ChatService gRPC service.
type ChatService struct {
	engine      *sync.Engine
	sender      *outbox.Sender
	bus         *bus.Bus
	sessionName string
	logger      *zap.Logger
}

// NewChatService creates a new chat service backed by the sync engine.
func NewChatService(engine *sync.Engine, sender *outbox.Sender, b *bus.Bus, sessionName string, logger *zap.Logger) *ChatService {
	logger = logging.OrNop(logger)
	return &ChatService{engine: engine, sender: sender, bus: b, sessionName: sessionName, logger: logger}
}

func (s *ChatService) ListConversations(_ context.Context, _ *rpc.Empty) (*rpc.ListConversationsResponse, error) {
	sel := s.engine.Selected()
	return &rpc.ListConversationsResponse{
		Conversations: conversationsToRPC(s.engine.Conversations(), sel),
		Selected:      sel,
		TotalUnread:   s.engine.TotalUnread(),
	}, nil
}

func (s *ChatService) ListMessages(_ context.Context, req *rpc.ConversationRequest) (*rpc.MessagesResponse, error) {
	if req.Conversation == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "conversation is required")
	}
	return pageToRPC(s.engine.Messages(req.Conversation)), nil
}

func (s *ChatService) SelectConversation(ctx context.Context, req *rpc.ConversationRequest) (*rpc.MessagesResponse, error) {
	if err := s.engine.SelectConversation(ctx, req.Conversation); err != nil {
		return nil, toStatus("select conversation", err)
	}
	return pageToRPC(s.engine.Messages(req.Conversation)), nil
}

func (s *ChatService) SendText(ctx context.Context, req *rpc.SendTextRequest) (*rpc.SendTextResponse, error) {
	m, err := s.sender.Send(ctx, req.Conversation, req.Text)
	if err != nil {
		return nil, toStatus("send text", err)
	}
	return &rpc.SendTextResponse{Message: messageToRPC(m)}, nil
}

func (s *ChatService) LoadOlder(ctx context.Context, req *rpc.ConversationRequest) (*rpc.MessagesResponse, error) {
	if err := s.engine.LoadOlder(ctx, req.Conversation); err != nil {
		return nil, toStatus("load older", err)
	}
	return pageToRPC(s.engine.Messages(req.Conversation)), nil
}

func (s *ChatService) SearchCorrespondents(_ context.Context, req *rpc.SearchRequest) (*rpc.SearchCorrespondentsResponse, error) {
	found := s.engine.SearchCorrespondents(req.Query)
	if req.Limit > 0 && len(found) > req.Limit {
		found = found[:req.Limit]
	}
	out := make([]rpc.Correspondent, 0, len(found))
	for _, c := range found {
		out = append(out, rpc.Correspondent{ID: c.ID, DisplayName: c.DisplayName, Nickname: c.Nickname})
	}
	return &rpc.SearchCorrespondentsResponse{Correspondents: out}, nil
}

func (s *ChatService) SearchMessages(_ context.Context, req *rpc.SearchRequest) (*rpc.SearchMessagesResponse, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "query is required")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	hits, err := s.engine.SearchMessages(req.Query, req.Conversation, limit)
	if err != nil {
		return nil, toStatus("search messages", err)
	}
	out := make([]rpc.SearchHit, 0, len(hits))
	for _, h := range hits {
		out = append(out, rpc.SearchHit{
			ConversationKey: h.ConversationKey,
			DisplayName:     h.DisplayName,
			MessageID:       h.MessageID,
			Text:            h.Text,
			Snippet:         h.Snippet,
			FromMe:          h.FromMe,
			CreatedAtMs:     millis(h.CreatedAt),
		})
	}
	return &rpc.SearchMessagesResponse{Results: out}, nil
}

func (s *ChatService) ListOutbox(_ context.Context, req *rpc.ListOutboxRequest) (*rpc.ListOutboxResponse, error) {
	db := s.engine.DB()
	if db == nil {
		return &rpc.ListOutboxResponse{}, nil
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultOutboxLimit
	}
	entries, err := db.ListOutbox(req.Status, limit)
	if err != nil {
		return nil, toStatus("list outbox", err)
	}
	out := make([]rpc.OutboxEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, outboxToRPC(e))
	}
	return &rpc.ListOutboxResponse{Entries: out}, nil
}

func (s *ChatService) WatchEvents(req *rpc.WatchEventsRequest, stream rpc.EventSender) error {
	prefixes := req.Prefixes
	if len(prefixes) == 0 {
		prefixes = defaultPrefixes
	}
	ch, unsub := s.bus.Subscribe("", 256)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			if !matchesAny(evt.Kind, prefixes) {
				continue
			}
			out, err := eventToRPC(s.sessionName, evt)
			if err != nil {
				s.logger.Warn("failed to encode event", zap.String("kind", evt.Kind), zap.Error(err))
				continue
			}
			if err := stream.Send(out); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func matchesAny(kind string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(kind, p) {
			return true
		}
	}
	return false
}
