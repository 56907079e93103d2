package api

import (
	"context"
	"time"

	"github.com/Ae-Ti/BMN-sub000/internal/rpc"
	"github.com/Ae-Ti/BMN-sub000/internal/sync"
)

// LiveStatus reports whether the push channel is attached.
type LiveStatus interface {
	Connected() bool
}

// SessionService implements the SessionService gRPC service.
type SessionService struct {
	sessionName string
	startedAt   time.Time
	engine      *sync.Engine
	live        LiveStatus
}

// NewSessionService creates a new session service. live may be nil.
func NewSessionService(sessionName string, engine *sync.Engine, live LiveStatus) *SessionService {
	return &SessionService{
		sessionName: sessionName,
		startedAt:   time.Now(),
		engine:      engine,
		live:        live,
	}
}

func (s *SessionService) GetSessionStatus(_ context.Context, _ *rpc.Empty) (*rpc.SessionStatus, error) {
	resp := &rpc.SessionStatus{
		Session:       s.sessionName,
		State:         string(s.engine.State()),
		StatusMessage: s.engine.Status(),
		Identity:      s.engine.Normalizer().Identity(),
		UptimeMs:      time.Since(s.startedAt).Milliseconds(),
		TotalUnread:   s.engine.TotalUnread(),
	}
	if s.live != nil {
		resp.LiveConnected = s.live.Connected()
	}

	checks := s.engine.Checkpoints()
	resp.BootstrappedAtMs = millis(checks.StampTime(sync.CheckpointBootstrapped))
	resp.LastPushAtMs = millis(checks.StampTime(sync.CheckpointLastPush))

	if db := s.engine.DB(); db != nil {
		if n, err := db.CorrespondentCount(); err == nil {
			resp.Correspondents = n
		}
		if n, err := db.ConversationCount(); err == nil {
			resp.Conversations = n
		}
		if n, err := db.MessageCount(); err == nil {
			resp.Messages = n
		}
	} else {
		resp.Correspondents = int64(len(s.engine.Directory().All()))
		resp.Conversations = int64(len(s.engine.Conversations()))
	}
	return resp, nil
}

func (s *SessionService) Logout(_ context.Context, _ *rpc.Empty) (*rpc.LogoutResponse, error) {
	if err := s.engine.Logout(); err != nil {
		return nil, toStatus("logout", err)
	}
	return &rpc.LogoutResponse{Success: true, Message: "logged out"}, nil
}
