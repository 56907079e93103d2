package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/Ae-Ti/BMN-sub000/internal/auth"
	"github.com/Ae-Ti/BMN-sub000/internal/bus"
	"github.com/Ae-Ti/BMN-sub000/internal/logging"
	"github.com/Ae-Ti/BMN-sub000/internal/status"
	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

const readLimit = 1 << 20

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New("live channel closed")

// Frame is the payload of a live.frame event: one inbound JSON document.
type Frame struct {
	Data       []byte
	ReceivedAt time.Time
}

// Config configures the push connection.
type Config struct {
	URL        string
	TokenParam string
	// Reconnect enables bounded exponential backoff after a transport error.
	// When false a dropped connection stays closed.
	Reconnect            bool
	MaxReconnectInterval time.Duration
	MaxReconnectElapsed  time.Duration
	HTTPClient           *http.Client
}

// Channel owns the single push connection of a session. Inbound frames are
// published on the bus; it never interprets message content.
type Channel struct {
	cfg     Config
	tokens  auth.Provider
	bus     *bus.Bus
	machine *status.Machine
	log     *zap.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	started bool
	closed  bool
	ctx     context.Context
	cancel  context.CancelFunc

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a channel. machine may be nil.
func New(cfg Config, tokens auth.Provider, b *bus.Bus, machine *status.Machine, log *zap.Logger) *Channel {
	if cfg.TokenParam == "" {
		cfg.TokenParam = "token"
	}
	log = logging.OrNop(log)
	ctx, cancel := context.WithCancel(context.Background())
	return &Channel{
		cfg:     cfg,
		tokens:  tokens,
		bus:     b,
		machine: machine,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start dials the push endpoint and begins reading. A failed first dial is
// returned unless reconnect is enabled, in which case retries continue in
// the background.
func (c *Channel) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return errors.New("live channel already started")
	}
	c.started = true
	c.mu.Unlock()

	go c.watchSession()

	c.setState(status.Connecting)
	conn, err := c.dial(ctx)
	if err != nil {
		c.setState(status.Offline)
		if !c.cfg.Reconnect || errors.Is(err, auth.ErrSessionInvalid) {
			return fmt.Errorf("connect live channel: %w", err)
		}
		c.log.Warn("live channel dial failed, retrying", zap.Error(err))
		c.wg.Add(1)
		go c.run(nil)
		return nil
	}

	c.setState(status.Ready)
	c.bus.Emit(bus.KindLiveConnected, nil)
	c.log.Info("live channel connected")
	c.wg.Add(1)
	go c.run(conn)
	return nil
}

// Connected reports whether a connection is currently attached.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close tears the connection down. Only the first call has an effect.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		conn := c.conn
		c.conn = nil
		c.mu.Unlock()

		if conn != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "client closing")
		}
		c.cancel()
		c.wg.Wait()
		c.bus.Emit(bus.KindLiveDisconnected, "closed")
		c.log.Info("live channel closed")
	})
}

func (c *Channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Channel) watchSession() {
	if c.tokens == nil {
		return
	}
	select {
	case <-c.tokens.Invalidated():
		c.log.Info("session invalidated, closing live channel")
		c.Close()
	case <-c.ctx.Done():
	}
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse live url: %w", err)
	}
	header := http.Header{}
	if c.tokens != nil {
		token, err := c.tokens.Token()
		if err != nil {
			return nil, err
		}
		q := u.Query()
		q.Set(c.cfg.TokenParam, token)
		u.RawQuery = q.Encode()
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		HTTPClient: c.cfg.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: %v", auth.ErrSessionInvalid, err)
		}
		return nil, err
	}
	conn.SetReadLimit(readLimit)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		_ = conn.Close(websocket.StatusNormalClosure, "client closing")
		return nil, ErrClosed
	}
	c.conn = conn
	return conn, nil
}

// run reads from conn until it fails, then either stops or redials.
func (c *Channel) run(conn *websocket.Conn) {
	defer c.wg.Done()
	for {
		if conn != nil {
			err := c.read(conn)
			c.detach(conn)
			if c.isClosed() {
				return
			}
			c.log.Warn("live channel dropped", zap.Error(err))
			c.setState(status.Offline)
			c.bus.Emit(bus.KindLiveDisconnected, err.Error())
			if !c.cfg.Reconnect {
				return
			}
		}

		conn = c.redial()
		if conn == nil {
			return
		}
		c.setState(status.Ready)
		c.bus.Emit(bus.KindLiveReconnected, nil)
		c.log.Info("live channel reconnected")
	}
}

func (c *Channel) read(conn *websocket.Conn) error {
	for {
		typ, data, err := conn.Read(c.ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText || !json.Valid(data) {
			c.log.Warn("dropping malformed live frame", zap.Int("bytes", len(data)))
			continue
		}
		c.bus.Emit(bus.KindLiveFrame, Frame{Data: data, ReceivedAt: time.Now()})
	}
}

func (c *Channel) detach(conn *websocket.Conn) {
	conn.CloseNow()
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
}

// redial retries with exponential backoff until it connects, the budget
// runs out, the session dies or the channel is closed.
func (c *Channel) redial() *websocket.Conn {
	c.setState(status.Reconnecting)

	b := backoff.NewExponentialBackOff()
	if c.cfg.MaxReconnectInterval > 0 {
		b.MaxInterval = c.cfg.MaxReconnectInterval
	}
	if c.cfg.MaxReconnectElapsed > 0 {
		b.MaxElapsedTime = c.cfg.MaxReconnectElapsed
	}

	var conn *websocket.Conn
	op := func() error {
		cn, err := c.dial(c.ctx)
		if err != nil {
			if errors.Is(err, auth.ErrSessionInvalid) || errors.Is(err, ErrClosed) || c.ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		conn = cn
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.log.Debug("live redial failed", zap.Error(err), zap.Duration("retry_in", wait))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, c.ctx), notify); err != nil {
		if !c.isClosed() {
			c.log.Warn("live channel gave up reconnecting", zap.Error(err))
			c.setState(status.Offline)
		}
		return nil
	}
	return conn
}

func (c *Channel) setState(to status.State) {
	if c.machine == nil || c.machine.Current() == to {
		return
	}
	if err := c.machine.Transition(to); err != nil {
		c.log.Debug("state not changed", zap.Error(err))
	}
}
