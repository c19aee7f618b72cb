package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/AtRiskMedia/intervene/internal/domain/events"
	"github.com/AtRiskMedia/intervene/internal/domain/intervention"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/clock"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/observability/metrics"
)

var (
	// ErrNotConnected is returned by Send when the session has no live socket.
	ErrNotConnected = errors.New("push: session not connected")
	// ErrBufferFull is returned by Send when the session's outbound buffer is full.
	ErrBufferFull = errors.New("push: send buffer full")
	// ErrHubStopped is returned by Serve once Run has exited.
	ErrHubStopped = errors.New("push: hub stopped")
)

const (
	DefaultPingInterval = 30 * time.Second
	writeWait           = 10 * time.Second
	maxFrameSize        = 4096
	defaultSendBuffer   = 16
	recentDirectives    = 64
)

type connKey struct {
	tenantID  string
	sessionID string
	channel   string
}

// pushConn is one live browser socket.
type pushConn struct {
	key    connKey
	conn   *websocket.Conn
	send   chan []byte
	recent *lru.Cache[string, intervention.Directive]
}

// PushHub keeps at most one socket per (tenant, session, channel). A newer
// connection for the same key replaces the older one.
type PushHub struct {
	conns      map[connKey]*pushConn
	register   chan *pushConn
	unregister chan *pushConn
	done       chan struct{}
	pumps      sync.WaitGroup
	mu         sync.RWMutex

	upgrader     websocket.Upgrader
	pingInterval time.Duration
	sendBuffer   int
	publisher    events.Publisher
	clock        clock.Clock
	logger       *logging.ChanneledLogger
	metrics      *metrics.Metrics
}

// PushOption configures a PushHub.
type PushOption func(*PushHub)

// WithPingInterval overrides the server ping cadence. The read deadline is
// twice this value.
func WithPingInterval(d time.Duration) PushOption {
	return func(h *PushHub) {
		if d > 0 {
			h.pingInterval = d
		}
	}
}

// WithSendBuffer sets the per-socket outbound queue length.
func WithSendBuffer(n int) PushOption {
	return func(h *PushHub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// WithPushClock sets the clock used to stamp published events.
func WithPushClock(c clock.Clock) PushOption {
	return func(h *PushHub) { h.clock = c }
}

// NewPushHub creates a hub. Run must be started before Serve is called.
func NewPushHub(pub events.Publisher, logger *logging.ChanneledLogger, m *metrics.Metrics, opts ...PushOption) *PushHub {
	h := &PushHub{
		conns:      make(map[connKey]*pushConn),
		register:   make(chan *pushConn),
		unregister: make(chan *pushConn),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origins are enforced by the CORS middleware and tenant header.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		pingInterval: DefaultPingInterval,
		sendBuffer:   defaultSendBuffer,
		publisher:    pub,
		clock:        clock.Real{},
		logger:       logger,
		metrics:      m,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run owns connection registration and the ping ticker until ctx is done.
// On exit every socket is closed and Run waits for the write pumps.
func (h *PushHub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	defer h.pumps.Wait()
	defer close(h.done)
	defer h.closeAll()

	ping, _ := json.Marshal(Frame{Type: FramePing})

	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			if old, ok := h.conns[c.key]; ok {
				close(old.send)
				h.logger.WithSession(logging.ChannelPush, c.key.tenantID, c.key.sessionID).
					Debug("Push connection replaced")
			} else {
				h.metrics.PushConnections.Inc()
			}
			h.conns[c.key] = c
			h.mu.Unlock()
			h.pumps.Add(1)
			go h.writePump(c)
			h.logger.WithSession(logging.ChannelPush, c.key.tenantID, c.key.sessionID).
				Debug("Push client registered")

		case c := <-h.unregister:
			h.mu.Lock()
			if cur, ok := h.conns[c.key]; ok && cur == c {
				delete(h.conns, c.key)
				close(c.send)
				h.metrics.PushConnections.Dec()
				h.logger.WithSession(logging.ChannelPush, c.key.tenantID, c.key.sessionID).
					Debug("Push client unregistered")
			}
			h.mu.Unlock()

		case <-ticker.C:
			h.mu.RLock()
			for _, c := range h.conns {
				select {
				case c.send <- ping:
				default:
				}
			}
			h.mu.RUnlock()

		case <-ctx.Done():
			return
		}
	}
}

func (h *PushHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for key, c := range h.conns {
		close(c.send)
		delete(h.conns, key)
		h.metrics.PushConnections.Dec()
	}
}

// Serve upgrades the request and blocks reading client frames until the
// socket closes.
func (h *PushHub) Serve(w http.ResponseWriter, r *http.Request, tenantID, sessionID string) error {
	select {
	case <-h.done:
		return ErrHubStopped
	default:
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("websocket upgrade: %w", err)
	}
	recent, _ := lru.New[string, intervention.Directive](recentDirectives)
	c := &pushConn{
		key:    connKey{tenantID: tenantID, sessionID: sessionID, channel: PushChannelName},
		conn:   conn,
		send:   make(chan []byte, h.sendBuffer),
		recent: recent,
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return ErrHubStopped
	}

	h.readPump(c)

	select {
	case h.unregister <- c:
	case <-h.done:
	}
	return nil
}

// Send queues a directive for its session. A session without a live socket
// drops the directive.
func (h *PushHub) Send(d intervention.Directive) error {
	frame, err := json.Marshal(InterventionFrame(d))
	if err != nil {
		return fmt.Errorf("marshal push frame: %w", err)
	}

	h.mu.RLock()
	c, ok := h.conns[connKey{tenantID: d.TenantID, sessionID: d.SessionID, channel: PushChannelName}]
	if !ok {
		h.mu.RUnlock()
		h.drop(d, "not-connected")
		return ErrNotConnected
	}
	c.recent.Add(d.ID, d)
	select {
	case c.send <- frame:
		h.mu.RUnlock()
		h.metrics.PushSends.WithLabelValues("sent").Inc()
		return nil
	default:
		h.mu.RUnlock()
		h.drop(d, "buffer-full")
		return ErrBufferFull
	}
}

// Connected reports whether the session has a live socket.
func (h *PushHub) Connected(tenantID, sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[connKey{tenantID: tenantID, sessionID: sessionID, channel: PushChannelName}]
	return ok
}

// ConnectionCount returns the number of live sockets.
func (h *PushHub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *PushHub) drop(d intervention.Directive, reason string) {
	h.metrics.PushSends.WithLabelValues("dropped").Inc()
	h.logger.WithSession(logging.ChannelPush, d.TenantID, d.SessionID).
		Debug("Push directive dropped", "directiveId", d.ID, "reason", reason)
	h.publish(events.PushDropped, d, nil)
}

func (h *PushHub) publish(kind events.Kind, d intervention.Directive, clicked *bool) {
	if h.publisher == nil {
		return
	}
	h.publisher.Publish(events.Event{Kind: kind, Directive: d, Clicked: clicked, At: h.clock.Now()})
}

func (h *PushHub) writePump(c *pushConn) {
	defer h.pumps.Done()
	defer c.conn.Close()

	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.logger.WithSession(logging.ChannelPush, c.key.tenantID, c.key.sessionID).
				Debug("Push write failed", "error", err)
			c.conn.Close()
			// Drain until the hub closes the channel.
			for range c.send {
			}
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *PushHub) readPump(c *pushConn) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.LogRecovered(logging.ChannelPush, "push read pump", r)
		}
	}()

	deadline := 2 * h.pingInterval
	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(deadline))

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.WithSession(logging.ChannelPush, c.key.tenantID, c.key.sessionID).
					Debug("Push socket closed", "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(deadline))

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		h.handleFrame(c, frame)
	}
}

func (h *PushHub) handleFrame(c *pushConn, frame Frame) {
	switch frame.Type {
	case FramePing:
		pong, _ := json.Marshal(Frame{Type: FramePong})
		h.mu.RLock()
		if cur, ok := h.conns[c.key]; ok && cur == c {
			select {
			case c.send <- pong:
			default:
			}
		}
		h.mu.RUnlock()
	case FrameAck:
		h.metrics.PushSends.WithLabelValues("acked").Inc()
		h.publish(events.PushDelivered, h.directiveFor(c, frame.DirectiveID), nil)
	case FrameShown:
		h.metrics.PushSends.WithLabelValues("shown").Inc()
		h.publish(events.PushShown, h.directiveFor(c, frame.DirectiveID), nil)
	case FrameClicked:
		clicked := frame.Clicked != nil && *frame.Clicked
		h.metrics.PushSends.WithLabelValues("clicked").Inc()
		d := h.directiveFor(c, frame.DirectiveID)
		c.recent.Remove(frame.DirectiveID)
		h.publish(events.PushClicked, d, &clicked)
	}
}

// directiveFor returns the directive a client frame refers to, or a stub
// carrying only identifiers when it has aged out.
func (h *PushHub) directiveFor(c *pushConn, id string) intervention.Directive {
	if d, ok := c.recent.Get(id); ok {
		return d
	}
	return intervention.Directive{ID: id, TenantID: c.key.tenantID, SessionID: c.key.sessionID}
}
