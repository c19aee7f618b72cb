package email

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/resendlabs/resend-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AtRiskMedia/intervene/internal/domain/events"
	"github.com/AtRiskMedia/intervene/internal/domain/intervention"
)

type staticPolicies map[string]*intervention.TenantPolicy

func (s staticPolicies) Policy(_ context.Context, tenantID string) (*intervention.TenantPolicy, error) {
	if p, ok := s[tenantID]; ok {
		return p, nil
	}
	return nil, intervention.ErrUnknownTenant
}

type outbox struct {
	mu   sync.Mutex
	sent []*resend.SendEmailRequest
	fail bool
}

func (o *outbox) send(_ context.Context, req *resend.SendEmailRequest) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fail {
		return errors.New("resend unavailable")
	}
	o.sent = append(o.sent, req)
	return nil
}

func (o *outbox) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sent)
}

func critical(tenantID, ruleID string) events.Event {
	return events.Event{
		Kind: events.CriticalFailure,
		Directive: intervention.Directive{
			ID: "dir-" + ruleID, RuleID: ruleID, TenantID: tenantID, HighValue: true, Confidence: 82,
		},
		Attempt: &intervention.DeliveryAttempt{
			EndpointID: "crm", AttemptNumber: 6, StatusCode: 503, ErrorClass: intervention.ErrorTransient,
		},
		At: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func startAlerter(t *testing.T, box *outbox) *Alerter {
	t.Helper()
	policies := staticPolicies{
		"acme":  {TenantID: "acme", AlertEmail: "ops@acme.test"},
		"quiet": {TenantID: "quiet"},
	}
	a := NewAlerterWithSender(box.send, "Intervene <alerts@test>", policies, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go a.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-a.Done()
	})
	return a
}

func TestAlerterEmailsTenantOnCriticalFailure(t *testing.T) {
	box := &outbox{}
	a := startAlerter(t, box)

	a.HandleEvent(critical("acme", "vip-cart"))
	require.Eventually(t, func() bool { return box.count() == 1 }, time.Second, 5*time.Millisecond)

	req := box.sent[0]
	assert.Equal(t, []string{"ops@acme.test"}, req.To)
	assert.Equal(t, "Intervene <alerts@test>", req.From)
	assert.Contains(t, req.Subject, "acme")
	assert.Contains(t, req.Html, "dir-vip-cart")
	assert.Contains(t, req.Html, "503")
}

func TestAlerterSuppressesRepeatsWithinCooldown(t *testing.T) {
	box := &outbox{}
	a := startAlerter(t, box)

	a.HandleEvent(critical("acme", "vip-cart"))
	require.Eventually(t, func() bool { return box.count() == 1 }, time.Second, 5*time.Millisecond)

	a.HandleEvent(critical("acme", "vip-cart"))
	a.HandleEvent(critical("acme", "other-rule"))
	require.Eventually(t, func() bool { return box.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, box.sent[1].Html, "dir-other-rule")
}

func TestAlerterIgnoresOtherEventsAndTenantsWithoutAddress(t *testing.T) {
	box := &outbox{}
	a := startAlerter(t, box)

	ev := critical("acme", "vip-cart")
	ev.Kind = events.DeliveryFailed
	a.HandleEvent(ev)
	a.HandleEvent(critical("quiet", "r1"))
	a.HandleEvent(critical("unknown", "r1"))
	a.HandleEvent(critical("acme", "sentinel"))

	require.Eventually(t, func() bool { return box.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, box.sent[0].Html, "dir-sentinel")
}

func TestAlerterRetriesAfterSendFailure(t *testing.T) {
	box := &outbox{fail: true}
	a := startAlerter(t, box)

	a.HandleEvent(critical("acme", "vip-cart"))
	require.Eventually(t, func() bool { return len(a.queue) == 0 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	box.mu.Lock()
	box.fail = false
	box.mu.Unlock()

	a.HandleEvent(critical("acme", "vip-cart"))
	require.Eventually(t, func() bool { return box.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestRenderEscapesValues(t *testing.T) {
	ev := critical("acme", "<script>")
	html := Render(ev)
	assert.NotContains(t, html, "<script>")
	assert.Contains(t, html, "&lt;script&gt;")
}
