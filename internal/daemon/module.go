package daemon

import (
	"context"
	"errors"
	"time"

	"github.com/Ae-Ti/BMN-sub000/internal/api"
	"github.com/Ae-Ti/BMN-sub000/internal/auth"
	"github.com/Ae-Ti/BMN-sub000/internal/backend"
	"github.com/Ae-Ti/BMN-sub000/internal/bus"
	"github.com/Ae-Ti/BMN-sub000/internal/chat"
	"github.com/Ae-Ti/BMN-sub000/internal/config"
	"github.com/Ae-Ti/BMN-sub000/internal/live"
	"github.com/Ae-Ti/BMN-sub000/internal/lock"
	"github.com/Ae-Ti/BMN-sub000/internal/logging"
	"github.com/Ae-Ti/BMN-sub000/internal/outbox"
	"github.com/Ae-Ti/BMN-sub000/internal/session"
	"github.com/Ae-Ti/BMN-sub000/internal/status"
	"github.com/Ae-Ti/BMN-sub000/internal/store"
	intsync "github.com/Ae-Ti/BMN-sub000/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string         // optional override for testing; empty = use default
	Config      *config.Config // optional; nil = read ~/.dm/config.toml and .env files
	Token       string         // optional bearer token, wins over config
	Logger      *zap.Logger    // optional; nil = log to the session log file
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideTokens,
			provideNormalizer,
			provideBackend,
			provideStore,
			provideLiveChannel,
			provideSyncEngine,
			provideSender,
			provideSessionService,
			provideChatService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if p.Config != nil {
		return p.Config, nil
	}
	if err := config.LoadDotEnv(session.DotEnvPath(p.SessionName), ".env"); err != nil {
		return nil, err
	}
	return config.LoadOrDefault(session.ConfigPath())
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	if p.Logger != nil {
		return p.Logger, nil
	}
	return logging.New(session.LogPath(p.SessionName), p.SessionName, cfg.Log.Level)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideTokens(p Params, cfg *config.Config, logger *zap.Logger) (*auth.StaticProvider, auth.Provider, error) {
	explicit := p.Token
	if explicit == "" {
		explicit = cfg.Auth.Token
	}
	token, err := auth.LoadToken(explicit, cfg.Auth.TokenFile, session.TokenPath(p.SessionName))
	if err != nil && !errors.Is(err, auth.ErrNoToken) {
		return nil, nil, err
	}
	if token == "" {
		logger.Info("no bearer token found, auth required")
	}
	tokens := auth.NewStaticProvider(token)
	return tokens, tokens, nil
}

func provideNormalizer(cfg *config.Config, tokens *auth.StaticProvider, logger *zap.Logger) *chat.Normalizer {
	self := cfg.Auth.User
	if self == "" {
		if token, err := tokens.Token(); err == nil {
			id, err := auth.ResolveIdentity(token)
			if err != nil {
				logger.Warn("could not read identity from token, set auth.user", zap.Error(err))
			} else {
				self = id.UserID
				if id.Expired(time.Now()) {
					logger.Warn("bearer token has expired", zap.Time("expires_at", id.ExpiresAt))
				}
			}
		}
	}
	logger.Info("local identity resolved", zap.String("user", self))
	return chat.NewNormalizer(self)
}

func provideBackend(cfg *config.Config, tokens *auth.StaticProvider, logger *zap.Logger) *backend.Client {
	return backend.New(
		backend.WithBaseURL(cfg.Backend.BaseURL),
		backend.WithTimeout(cfg.Backend.Timeout),
		backend.WithRateLimit(cfg.Backend.RequestsPerSecond, cfg.Backend.Burst),
		backend.WithTokenProvider(tokens),
		backend.WithUnauthorizedHook(tokens.Invalidate),
		backend.WithLogger(logger.Named("backend")),
	)
}

func provideStore(cfg *config.Config, logger *zap.Logger) (*store.DB, error) {
	db, err := store.Open(cfg.Cache.Path)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Recovered {
		logger.Warn("recovered from an interrupted migration")
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	where := cfg.Cache.Path
	if where == "" {
		where = "memory"
	}
	logger.Info("store initialized", zap.String("path", where))
	return db, nil
}

func provideLiveChannel(cfg *config.Config, tokens auth.Provider, b *bus.Bus, m *status.Machine, logger *zap.Logger) *live.Channel {
	return live.New(live.Config{
		URL:                  cfg.Live.URL,
		TokenParam:           cfg.Live.TokenParam,
		Reconnect:            cfg.Live.Reconnect,
		MaxReconnectInterval: cfg.Live.MaxReconnectInterval,
		MaxReconnectElapsed:  cfg.Live.MaxReconnectElapsed,
	}, tokens, b, m, logger.Named("live"))
}

func provideSyncEngine(client *backend.Client, norm *chat.Normalizer, db *store.DB, b *bus.Bus, m *status.Machine, tokens auth.Provider, cfg *config.Config, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(client, norm, db, b, m, tokens, intsync.Options{
		PageSize:           cfg.Chat.PageSize,
		DirectoryPageSize:  cfg.Chat.DirectoryPageSize,
		ReceiptTimeout:     cfg.Chat.ReceiptTimeout,
		PendingMatchWindow: cfg.Chat.PendingMatchWindow,
	}, logger.Named("sync"))
}

func provideSender(db *store.DB, client *backend.Client, engine *intsync.Engine, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, client, engine.Directory(), engine.Normalizer(), engine.MergeLocal, b, logger.Named("outbox"))
}

func provideSessionService(p Params, engine *intsync.Engine, ch *live.Channel) *api.SessionService {
	return api.NewSessionService(p.SessionName, engine, ch)
}

func provideChatService(p Params, engine *intsync.Engine, sender *outbox.Sender, b *bus.Bus, logger *zap.Logger) *api.ChatService {
	return api.NewChatService(engine, sender, b, p.SessionName, logger.Named("api"))
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, db *store.DB, ch *live.Channel, engine *intsync.Engine, tokens *auth.StaticProvider, machine *status.Machine, logger *zap.Logger) {
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Start sync engine (subscribes to live.* bus events).
			engine.Start(runCtx)

			// Start gRPC server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			if _, err := tokens.Token(); err != nil {
				_ = machine.Transition(status.AuthRequired)
				close(done)
				return nil
			}

			// REST bootstrap first, then the push channel.
			go func() {
				defer close(done)
				if err := engine.Bootstrap(runCtx); err != nil {
					logger.Error("bootstrap failed", zap.Error(err))
					if machine.Current() == status.AuthRequired || runCtx.Err() != nil {
						return
					}
				}
				if err := ch.Start(runCtx); err != nil {
					logger.Warn("live channel unavailable, updates will not arrive", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-ctx.Done():
			}
			ch.Close()
			engine.Stop()
			srv.Stop(ctx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
