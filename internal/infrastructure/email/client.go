// Package email sends operator alerts through Resend when a high-value
// delivery fails for good.
package email

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/resendlabs/resend-go"

	"github.com/AtRiskMedia/intervene/internal/domain/events"
	"github.com/AtRiskMedia/intervene/internal/domain/intervention"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/email/templates"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/intervene/pkg/config"
)

// ErrNotConfigured is returned by NewAlerter without an API key.
var ErrNotConfigured = errors.New("RESEND_API_KEY is not configured")

const (
	alertQueueSize = 32
	alertCooldown  = 15 * time.Minute
	sendTimeout    = 15 * time.Second
)

// SendFunc delivers one email.
type SendFunc func(ctx context.Context, req *resend.SendEmailRequest) error

// Alerter turns critical:failure events into emails to the tenant's alert
// address. One alert per (tenant, rule, endpoint) is sent per cooldown.
type Alerter struct {
	send     SendFunc
	policies intervention.PolicyStore
	from     string
	logger   *logging.ChanneledLogger

	queue    chan events.Event
	recent   *expirable.LRU[string, struct{}]
	stopOnce sync.Once
	done     chan struct{}
}

// NewAlerter builds an alerter backed by the Resend API using pkg/config.
func NewAlerter(policies intervention.PolicyStore, logger *logging.ChanneledLogger) (*Alerter, error) {
	if config.ResendAPIKey == "" {
		return nil, ErrNotConfigured
	}
	client := resend.NewClient(config.ResendAPIKey)
	send := func(_ context.Context, req *resend.SendEmailRequest) error {
		_, err := client.Emails.Send(req)
		return err
	}
	from := fmt.Sprintf("%s <%s>", config.AlertFromName, config.AlertFromEmail)
	return NewAlerterWithSender(send, from, policies, logger), nil
}

// NewAlerterWithSender builds an alerter around an arbitrary sender.
func NewAlerterWithSender(send SendFunc, from string, policies intervention.PolicyStore, logger *logging.ChanneledLogger) *Alerter {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Alerter{
		send:     send,
		policies: policies,
		from:     from,
		logger:   logger,
		queue:    make(chan events.Event, alertQueueSize),
		recent:   expirable.NewLRU[string, struct{}](1024, nil, alertCooldown),
		done:     make(chan struct{}),
	}
}

// HandleEvent queues critical failures. It never blocks; a full queue drops
// the alert with a warning.
func (a *Alerter) HandleEvent(ev events.Event) {
	if ev.Kind != events.CriticalFailure {
		return
	}
	select {
	case a.queue <- ev:
	default:
		a.logger.WithTenant(logging.ChannelAlert, ev.Directive.TenantID).
			Warn("Alert queue full, dropping alert", "directiveId", ev.Directive.ID)
	}
}

// Run sends queued alerts until ctx is cancelled.
func (a *Alerter) Run(ctx context.Context) {
	defer close(a.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-a.queue:
			a.deliver(ctx, ev)
		}
	}
}

// Done is closed when Run returns.
func (a *Alerter) Done() <-chan struct{} { return a.done }

func (a *Alerter) deliver(ctx context.Context, ev events.Event) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.LogRecovered(logging.ChannelAlert, "deliver", r)
		}
	}()

	d := ev.Directive
	log := a.logger.WithTenant(logging.ChannelAlert, d.TenantID)

	endpointID := ""
	if ev.Attempt != nil {
		endpointID = ev.Attempt.EndpointID
	}
	key := d.TenantID + "|" + d.RuleID + "|" + endpointID
	if a.recent.Contains(key) {
		log.Debug("Alert suppressed by cooldown", "ruleId", d.RuleID, "endpointId", endpointID)
		return
	}

	policy, err := a.policies.Policy(ctx, d.TenantID)
	if err != nil {
		log.Warn("Cannot resolve alert address", "error", err)
		return
	}
	if policy.AlertEmail == "" {
		return
	}

	req := &resend.SendEmailRequest{
		From:    a.from,
		To:      []string{policy.AlertEmail},
		Subject: fmt.Sprintf("[%s] High-value intervention delivery failed", d.TenantID),
		Html:    Render(ev),
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := a.send(sendCtx, req); err != nil {
		log.Error("Failed to send alert email via Resend", "error", err, "directiveId", d.ID)
		return
	}
	a.recent.Add(key, struct{}{})
	log.Info("Critical failure alert sent", "directiveId", d.ID, "to", policy.AlertEmail)
}

// Render builds the HTML body for a critical failure event.
func Render(ev events.Event) string {
	d := ev.Directive
	props := templates.FailureEmailProps{
		TenantID:    d.TenantID,
		DirectiveID: d.ID,
		RuleID:      d.RuleID,
		Emotion:     string(d.Emotion),
		Confidence:  d.Confidence,
		FailedAt:    ev.At.UTC().Format(time.RFC1123),
	}
	if a := ev.Attempt; a != nil {
		props.EndpointID = a.EndpointID
		props.Attempts = a.AttemptNumber
		props.StatusCode = a.StatusCode
		props.ErrorClass = string(a.ErrorClass)
		props.Error = a.Error
	}
	return templates.GetEmailLayout(templates.EmailLayoutProps{
		Preheader: "Delivery to " + props.EndpointID + " failed after retries",
		Content:   templates.GetFailureEmailContent(props),
	})
}
