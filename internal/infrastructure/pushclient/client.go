// Package pushclient is the reconnecting consumer side of the push channel.
// It is used by the simulate command and by integrations that render
// interventions outside a browser.
package pushclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/AtRiskMedia/intervene/internal/domain/intervention"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/clock"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/messaging"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/webhook"
)

// State is the connection lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateGaveUp       State = "gave-up"
)

var (
	// ErrGaveUp is returned by Run after MaxAttempts reconnects in a row
	// without a connection that lasted a ping interval.
	ErrGaveUp = errors.New("pushclient: gave up reconnecting")
	// ErrNotConnected is returned when reporting an outcome without a socket.
	ErrNotConnected = errors.New("pushclient: not connected")
)

// RenderFunc displays a received intervention.
type RenderFunc func(intervention.Directive)

// Config describes where and how to connect.
type Config struct {
	URL          string
	TenantID     string
	SessionID    string
	MaxAttempts  int
	Backoff      webhook.Backoff
	PingInterval time.Duration
}

// DefaultConfig returns the reconnect policy used by browser collectors:
// base 2, ceiling 30s, 30% jitter, five attempts.
func DefaultConfig(rawURL, tenantID, sessionID string) Config {
	return Config{
		URL:          rawURL,
		TenantID:     tenantID,
		SessionID:    sessionID,
		MaxAttempts:  5,
		Backoff:      webhook.Backoff{Base: 2, Ceiling: 30 * time.Second, JitterRatio: 0.3},
		PingInterval: messaging.DefaultPingInterval,
	}
}

// Client maintains one push socket and reconnects with backoff.
type Client struct {
	cfg     Config
	render  RenderFunc
	dialer  *websocket.Dialer
	clock   clock.Clock
	jitter  func() float64
	onState func(State)
	logger  *logging.ChanneledLogger

	mu    sync.Mutex
	state State
	conn  *websocket.Conn

	writeMu sync.Mutex
}

// Option configures a Client.
type Option func(*Client)

// WithDialer overrides the websocket dialer.
func WithDialer(d *websocket.Dialer) Option { return func(c *Client) { c.dialer = d } }

// WithClock overrides the clock used for reconnect waits and uptime.
func WithClock(clk clock.Clock) Option { return func(c *Client) { c.clock = clk } }

// WithJitter overrides the uniform jitter source.
func WithJitter(f func() float64) Option { return func(c *Client) { c.jitter = f } }

// OnStateChange registers a callback invoked on every transition.
func OnStateChange(f func(State)) Option { return func(c *Client) { c.onState = f } }

// New creates a disconnected client.
func New(cfg Config, render RenderFunc, logger *logging.ChanneledLogger, opts ...Option) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = messaging.DefaultPingInterval
	}
	c := &Client{
		cfg:    cfg,
		render: render,
		dialer: websocket.DefaultDialer,
		clock:  clock.Real{},
		jitter: rand.Float64,
		logger: logger,
		state:  StateDisconnected,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Run connects and keeps the socket alive until ctx is done or reconnection
// is abandoned. Every reconnect, whether after a failed dial or a dropped
// socket, waits out the backoff schedule. The attempt count starts over only
// once a connection has stayed up for a full ping interval; MaxAttempts
// attempts in a row without that give up.
func (c *Client) Run(ctx context.Context) error {
	b := backoff.WithContext(
		backoff.WithMaxRetries(c.cfg.Backoff.Schedule(c.jitter), uint64(c.cfg.MaxAttempts-1)),
		ctx)

	attempts := 0
	op := func() error {
		attempts++
		c.setState(StateConnecting)
		conn, err := c.dial(ctx)
		if err != nil {
			c.setState(StateDisconnected)
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}

		c.attach(conn)
		connectedAt := c.clock.Now()
		readErr := c.readLoop(ctx, conn)
		c.detach()
		c.setState(StateDisconnected)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if c.clock.Now().Sub(connectedAt) >= c.cfg.PingInterval {
			attempts = 1
			b.Reset()
		}
		return fmt.Errorf("push connection lost: %w", readErr)
	}
	notify := func(err error, delay time.Duration) {
		c.logger.WithSession(logging.ChannelPush, c.cfg.TenantID, c.cfg.SessionID).
			Debug("Push reconnect scheduled", "attempt", attempts, "retryIn", delay, "error", err)
	}

	err := backoff.RetryNotifyWithTimer(op, b, notify, &clockTimer{clock: c.clock})
	if ctx.Err() != nil {
		c.setState(StateDisconnected)
		return ctx.Err()
	}
	c.setState(StateGaveUp)
	c.logger.WithSession(logging.ChannelPush, c.cfg.TenantID, c.cfg.SessionID).
		Warn("Push reconnect abandoned", "attempts", attempts, "error", err)
	return fmt.Errorf("%w: %w", ErrGaveUp, err)
}

// Shown reports that the intervention was displayed.
func (c *Client) Shown(directiveID string) error {
	return c.write(messaging.Frame{Type: messaging.FrameShown, DirectiveID: directiveID})
}

// Clicked reports whether the user acted on the intervention.
func (c *Client) Clicked(directiveID string, clicked bool) error {
	return c.write(messaging.Frame{Type: messaging.FrameClicked, DirectiveID: directiveID, Clicked: &clicked})
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse push url: %w", err)
	}
	q := u.Query()
	q.Set("sessionId", c.cfg.SessionID)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("X-Tenant-ID", c.cfg.TenantID)
	conn, _, err := c.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("dial push channel: %w", err)
	}
	return conn, nil
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	deadline := 2 * c.cfg.PingInterval
	conn.SetReadDeadline(time.Now().Add(deadline))
	for {
		var frame messaging.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(deadline))

		switch frame.Type {
		case messaging.FramePing:
			if err := c.write(messaging.Frame{Type: messaging.FramePong}); err != nil {
				return err
			}
		case messaging.FrameIntervention:
			d, ok := frame.Directive()
			if !ok {
				continue
			}
			d.TenantID, d.SessionID = c.cfg.TenantID, c.cfg.SessionID
			if err := c.write(messaging.Frame{Type: messaging.FrameAck, DirectiveID: d.ID}); err != nil {
				c.logger.WithSession(logging.ChannelPush, c.cfg.TenantID, c.cfg.SessionID).
					Debug("Push ack failed", "directiveId", d.ID, "error", err)
			}
			c.deliver(d)
		}
	}
}

func (c *Client) deliver(d intervention.Directive) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.LogRecovered(logging.ChannelPush, "push render", r)
		}
	}()
	if c.render != nil {
		c.render(d)
	}
}

func (c *Client) write(frame messaging.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// clockTimer runs backoff waits on the client's clock.
type clockTimer struct {
	clock clock.Clock
	timer clock.Timer
	ch    chan time.Time
}

func (t *clockTimer) Start(d time.Duration) {
	ch := make(chan time.Time, 1)
	t.ch = ch
	clk := t.clock
	t.timer = clk.AfterFunc(d, func() { ch <- clk.Now() })
}

func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *clockTimer) C() <-chan time.Time { return t.ch }

func (c *Client) attach(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.setState(StateConnected)
}

func (c *Client) detach() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	cb := c.onState
	c.mu.Unlock()
	if cb != nil {
		cb(s)
	}
}
