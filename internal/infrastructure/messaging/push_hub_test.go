package messaging

import (
	"encoding/json"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/AtRiskMedia/intervene/internal/domain/behavior"
	"github.com/AtRiskMedia/intervene/internal/domain/events"
	"github.com/AtRiskMedia/intervene/internal/domain/intervention"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/observability/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
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

type hubHarness struct {
	hub     *PushHub
	pub     *collector
	metrics *metrics.Metrics
	wsURL   string
	stop    func()
}

func startHub(t *testing.T, opts ...PushOption) *hubHarness {
	t.Helper()
	pub := &collector{}
	m := metrics.NewUnregistered()
	hub := NewPushHub(pub, logging.NewDiscardLogger(), m, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.Serve(w, r, r.URL.Query().Get("tenant"), r.URL.Query().Get("session"))
	}))

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			<-stopped
		})
	}
	t.Cleanup(func() {
		stop()
		srv.Close()
	})
	return &hubHarness{
		hub:     hub,
		pub:     pub,
		metrics: m,
		wsURL:   "ws" + strings.TrimPrefix(srv.URL, "http"),
		stop:    stop,
	}
}

func (h *hubHarness) dial(t *testing.T, tenantID, sessionID string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(h.wsURL+"/?tenant="+tenantID+"&session="+sessionID, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return h.hub.Connected(tenantID, sessionID) },
		2*time.Second, 5*time.Millisecond)
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f Frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func testDirective(tenantID, sessionID string) intervention.Directive {
	return intervention.Directive{
		ID:         "dir-1",
		RuleID:     "rule-help",
		TenantID:   tenantID,
		SessionID:  sessionID,
		Action:     intervention.ActionPush,
		Emotion:    behavior.Frustration,
		Confidence: 90,
		Payload: intervention.Payload{
			Action:       intervention.ActionPush,
			Intervention: "help_chat",
			Push:         &intervention.PushContent{Template: "help_chat"},
		},
	}
}

func TestSendWithoutConnectionDrops(t *testing.T) {
	h := startHub(t)

	err := h.hub.Send(testDirective("acme", "sess-offline"))

	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.PushSends.WithLabelValues("dropped")))
	ev, ok := h.pub.find(events.PushDropped)
	require.True(t, ok)
	assert.Equal(t, "dir-1", ev.Directive.ID)
}

func TestInterventionAckShownClicked(t *testing.T) {
	h := startHub(t)
	conn := h.dial(t, "acme", "sess-live")

	require.NoError(t, h.hub.Send(testDirective("acme", "sess-live")))

	f := readFrame(t, conn)
	assert.Equal(t, FrameIntervention, f.Type)
	require.NotNil(t, f.Intervention)
	require.NotNil(t, f.Metadata)
	assert.Equal(t, "help_chat", f.Intervention.Intervention)
	assert.Equal(t, "dir-1", f.Metadata.DirectiveID)
	assert.Equal(t, "rule-help", f.Metadata.RuleID)
	assert.Equal(t, behavior.Frustration, f.Metadata.Emotion)
	assert.Equal(t, 90, f.Metadata.Confidence)

	clicked := true
	require.NoError(t, conn.WriteJSON(Frame{Type: FrameAck, DirectiveID: f.DirectiveID}))
	require.NoError(t, conn.WriteJSON(Frame{Type: FrameShown, DirectiveID: f.DirectiveID}))
	require.NoError(t, conn.WriteJSON(Frame{Type: FrameClicked, DirectiveID: f.DirectiveID, Clicked: &clicked}))

	require.Eventually(t, func() bool {
		_, ok := h.pub.find(events.PushClicked)
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	delivered, ok := h.pub.find(events.PushDelivered)
	require.True(t, ok)
	assert.Equal(t, "rule-help", delivered.Directive.RuleID)

	_, ok = h.pub.find(events.PushShown)
	assert.True(t, ok)

	ev, _ := h.pub.find(events.PushClicked)
	require.NotNil(t, ev.Clicked)
	assert.True(t, *ev.Clicked)
	assert.Equal(t, "help_chat", ev.Directive.Payload.Intervention)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.PushSends.WithLabelValues("sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.PushSends.WithLabelValues("acked")))
}

func TestInterventionFrameWireShape(t *testing.T) {
	d := testDirective("acme", "sess-wire")
	d.IssuedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	data, err := json.Marshal(InterventionFrame(d))
	require.NoError(t, err)

	var wire map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &wire))
	assert.JSONEq(t, `"intervention"`, string(wire["type"]))
	assert.Contains(t, wire, "intervention")
	assert.Contains(t, wire, "metadata")
	assert.NotContains(t, wire, "directive")
	assert.JSONEq(t, `{"directiveId":"dir-1","ruleId":"rule-help","emotion":"frustration",
		"confidence":90,"issuedAt":"2026-03-01T12:00:00Z"}`, string(wire["metadata"]))

	var f Frame
	require.NoError(t, json.Unmarshal(data, &f))
	got, ok := f.Directive()
	require.True(t, ok)
	assert.Equal(t, "rule-help", got.RuleID)
	assert.Equal(t, intervention.ActionPush, got.Action)
	assert.Equal(t, "help_chat", got.Payload.Intervention)

	_, ok = Frame{Type: FramePing}.Directive()
	assert.False(t, ok)
}

func TestClientPingGetsPong(t *testing.T) {
	h := startHub(t)
	conn := h.dial(t, "acme", "sess-ping")

	require.NoError(t, conn.WriteJSON(Frame{Type: FramePing}))

	assert.Equal(t, FramePong, readFrame(t, conn).Type)
}

func TestServerPingsOnInterval(t *testing.T) {
	h := startHub(t, WithPingInterval(50*time.Millisecond))
	conn := h.dial(t, "acme", "sess-heartbeat")

	assert.Equal(t, FramePing, readFrame(t, conn).Type)
}

func TestSilentClientTimesOut(t *testing.T) {
	h := startHub(t, WithPingInterval(50*time.Millisecond))
	h.dial(t, "acme", "sess-silent")

	// Nothing is read or written by the client, so the server read deadline
	// (twice the ping interval) closes the socket.
	require.Eventually(t, func() bool { return !h.hub.Connected("acme", "sess-silent") },
		2*time.Second, 10*time.Millisecond)
}

func TestNewerConnectionReplacesOlder(t *testing.T) {
	h := startHub(t)
	first := h.dial(t, "acme", "sess-dup")
	second := h.dial(t, "acme", "sess-dup")

	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := first.ReadMessage()
	assert.Error(t, err, "replaced socket should be closed")

	require.NoError(t, h.hub.Send(testDirective("acme", "sess-dup")))
	assert.Equal(t, FrameIntervention, readFrame(t, second).Type)
	assert.Equal(t, 1, h.hub.ConnectionCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.PushConnections))
}

func TestSessionsAreTenantScoped(t *testing.T) {
	h := startHub(t)
	h.dial(t, "acme", "shared-session")

	err := h.hub.Send(testDirective("globex", "shared-session"))

	assert.ErrorIs(t, err, ErrNotConnected)
	assert.False(t, h.hub.Connected("globex", "shared-session"))
}

func TestStopClosesSockets(t *testing.T) {
	h := startHub(t)
	conn := h.dial(t, "acme", "sess-stop")

	h.stop()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	assert.Equal(t, 0, h.hub.ConnectionCount())

	_, _, err = websocket.DefaultDialer.Dial(h.wsURL+"/?tenant=acme&session=late", nil)
	assert.Error(t, err)
}
