package pushclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/AtRiskMedia/intervene/internal/domain/events"
	"github.com/AtRiskMedia/intervene/internal/domain/intervention"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/messaging"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/observability/metrics"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/webhook"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stateLog struct {
	mu     sync.Mutex
	states []State
}

func (l *stateLog) record(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, s)
}

func (l *stateLog) snapshot() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]State(nil), l.states...)
}

type collector struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *collector) Publish(e events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collector) find(kind events.Kind) (events.Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.events {
		if e.Kind == kind {
			return e, true
		}
	}
	return events.Event{}, false
}

func fastConfig(rawURL string) Config {
	cfg := DefaultConfig(rawURL, "acme", "sess-client")
	cfg.Backoff = webhook.Backoff{Base: 2, Ceiling: 5 * time.Millisecond, JitterRatio: 0.3}
	return cfg
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func runClient(t *testing.T, c *Client) (cancel func(), result <-chan error) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		errc <- c.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		stop()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
		}
	})
	return stop, errc
}

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func TestEndToEndWithHub(t *testing.T) {
	pub := &collector{}
	hub := messaging.NewPushHub(pub, logging.NewDiscardLogger(), metrics.NewUnregistered())
	hubCtx, hubCancel := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		hub.Run(hubCtx)
		close(hubDone)
	}()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.Serve(w, r, r.Header.Get("X-Tenant-ID"), r.URL.Query().Get("sessionId"))
	}))
	t.Cleanup(func() {
		hubCancel()
		<-hubDone
		srv.Close()
	})

	rendered := make(chan intervention.Directive, 1)
	client := New(fastConfig(wsURL(srv)), func(d intervention.Directive) { rendered <- d },
		logging.NewDiscardLogger())
	runClient(t, client)

	require.Eventually(t, func() bool { return hub.Connected("acme", "sess-client") },
		2*time.Second, 5*time.Millisecond)
	require.NoError(t, hub.Send(intervention.Directive{
		ID: "dir-e2e", RuleID: "rule-1", TenantID: "acme", SessionID: "sess-client",
		Action:  intervention.ActionPush,
		Payload: intervention.Payload{Action: intervention.ActionPush, Intervention: "help_chat"},
	}))

	var got intervention.Directive
	select {
	case got = <-rendered:
	case <-time.After(2 * time.Second):
		t.Fatal("directive was not rendered")
	}
	assert.Equal(t, "rule-1", got.RuleID)
	assert.Equal(t, "help_chat", got.Payload.Intervention)
	assert.Equal(t, "acme", got.TenantID)
	assert.Equal(t, "sess-client", got.SessionID)
	assert.Equal(t, StateConnected, client.State())

	require.NoError(t, client.Shown(got.ID))
	require.NoError(t, client.Clicked(got.ID, true))
	require.Eventually(t, func() bool {
		_, ok := pub.find(events.PushClicked)
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	_, acked := pub.find(events.PushDelivered)
	assert.True(t, acked)
	ev, _ := pub.find(events.PushClicked)
	assert.Equal(t, "help_chat", ev.Directive.Payload.Intervention)
}

func TestAckPrecedesRender(t *testing.T) {
	ackSeen := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		d := intervention.Directive{ID: "dir-ack", Payload: intervention.Payload{Intervention: "help_chat"}}
		if err := conn.WriteJSON(messaging.InterventionFrame(d)); err != nil {
			return
		}
		for {
			var f messaging.Frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			if f.Type == messaging.FrameAck && f.DirectiveID == "dir-ack" {
				close(ackSeen)
			}
		}
	}))
	t.Cleanup(srv.Close)

	order := make(chan string, 1)
	client := New(fastConfig(wsURL(srv)), func(intervention.Directive) {
		select {
		case <-ackSeen:
			order <- "ack-then-render"
		case <-time.After(2 * time.Second):
			order <- "render-without-ack"
		}
	}, logging.NewDiscardLogger())
	runClient(t, client)

	select {
	case got := <-order:
		assert.Equal(t, "ack-then-render", got)
	case <-time.After(3 * time.Second):
		t.Fatal("render handler never ran")
	}
}

func TestGivesUpAfterMaxAttempts(t *testing.T) {
	var dials atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	states := &stateLog{}
	client := New(fastConfig(wsURL(srv)), nil, logging.NewDiscardLogger(), OnStateChange(states.record))
	_, result := runClient(t, client)

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrGaveUp)
	case <-time.After(2 * time.Second):
		t.Fatal("client did not give up")
	}
	assert.Equal(t, int32(5), dials.Load())
	assert.Equal(t, StateGaveUp, client.State())
	seen := states.snapshot()
	assert.Equal(t, StateConnecting, seen[0])
	assert.Equal(t, StateGaveUp, seen[len(seen)-1])
	assert.NotContains(t, seen, StateConnected)
}

func TestGivesUpWhenServerKeepsClosing(t *testing.T) {
	var accepted atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accepted.Add(1)
		conn.Close()
	}))
	t.Cleanup(srv.Close)

	var dialedAt []time.Time
	var mu sync.Mutex
	cfg := fastConfig(wsURL(srv))
	cfg.Backoff = webhook.Backoff{Base: 2, Ceiling: 20 * time.Millisecond}
	states := &stateLog{}
	client := New(cfg, nil, logging.NewDiscardLogger(), OnStateChange(func(s State) {
		states.record(s)
		if s == StateConnecting {
			mu.Lock()
			dialedAt = append(dialedAt, time.Now())
			mu.Unlock()
		}
	}))
	_, result := runClient(t, client)

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrGaveUp)
	case <-time.After(2 * time.Second):
		t.Fatal("client kept reconnecting")
	}
	assert.Equal(t, int32(5), accepted.Load())
	assert.Equal(t, StateGaveUp, client.State())
	assert.Contains(t, states.snapshot(), StateConnected)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, dialedAt, 5)
	for i := 1; i < len(dialedAt); i++ {
		assert.GreaterOrEqual(t, dialedAt[i].Sub(dialedAt[i-1]), 20*time.Millisecond, "reconnect %d was not delayed", i)
	}
}

func TestReconnectsAfterDrop(t *testing.T) {
	var accepted atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if accepted.Add(1) == 1 {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	states := &stateLog{}
	client := New(fastConfig(wsURL(srv)), nil, logging.NewDiscardLogger(), OnStateChange(states.record))
	cancel, result := runClient(t, client)

	require.Eventually(t, func() bool { return accepted.Load() == 2 && client.State() == StateConnected },
		2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-result:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("client did not stop")
	}
	assert.Equal(t, StateDisconnected, client.State())
	assert.Equal(t, []State{
		StateConnecting, StateConnected, StateDisconnected,
		StateConnecting, StateConnected, StateDisconnected,
	}, states.snapshot())
}

func TestRepliesToServerPing(t *testing.T) {
	pong := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if err := conn.WriteJSON(messaging.Frame{Type: messaging.FramePing}); err != nil {
			return
		}
		var f messaging.Frame
		if err := conn.ReadJSON(&f); err == nil && f.Type == messaging.FramePong {
			close(pong)
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	client := New(fastConfig(wsURL(srv)), nil, logging.NewDiscardLogger())
	runClient(t, client)

	select {
	case <-pong:
	case <-time.After(2 * time.Second):
		t.Fatal("no pong received")
	}
}

func TestReportingRequiresConnection(t *testing.T) {
	client := New(DefaultConfig("ws://127.0.0.1:1/api/v1/push", "acme", "s"), nil, logging.NewDiscardLogger())

	assert.ErrorIs(t, client.Shown("dir-1"), ErrNotConnected)
	assert.ErrorIs(t, client.Clicked("dir-1", false), ErrNotConnected)
	assert.Equal(t, StateDisconnected, client.State())
}
