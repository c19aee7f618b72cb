package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AtRiskMedia/intervene/internal/domain/behavior"
	"github.com/AtRiskMedia/intervene/internal/domain/intervention"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/observability/metrics"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/security"
)

// ErrQueueFull is reported when an event could not be handed to the workers.
var ErrQueueFull = errors.New("pipeline queue full")

const policyTimeout = 5 * time.Second

// Router decides whether an emotion event becomes a directive.
type Router interface {
	Route(event behavior.EmotionEvent, policy *intervention.TenantPolicy) (intervention.Directive, bool)
}

// PushSender delivers a directive to the session's live socket.
type PushSender interface {
	Send(d intervention.Directive) error
}

// WebhookDeliverer fans a directive out to matching endpoints.
type WebhookDeliverer interface {
	Deliver(d intervention.Directive, endpoints []intervention.WebhookEndpoint) (int, error)
}

// DispatchResult reports what happened to one directive.
type DispatchResult struct {
	DirectiveID string `json:"directiveId"`
	Pushed      bool   `json:"pushed"`
	PushError   string `json:"pushError,omitempty"`
	Webhooks    int    `json:"webhooks"`
}

// PipelineService moves emotion events from the classifier to the router and
// on to the delivery channels. Ingest only ever enqueues; workers do the
// policy lookups and I/O.
type PipelineService struct {
	router   Router
	policies intervention.PolicyStore
	push     PushSender
	webhooks WebhookDeliverer
	contexts *SessionContexts
	logger   *logging.ChanneledLogger
	metrics  *metrics.Metrics

	queue   chan behavior.EmotionEvent
	workers int
	wg      sync.WaitGroup
}

// NewPipelineService creates a pipeline with a bounded queue.
func NewPipelineService(router Router, policies intervention.PolicyStore, push PushSender, webhooks WebhookDeliverer,
	contexts *SessionContexts, queueSize, workers int, logger *logging.ChanneledLogger, m *metrics.Metrics,
) *PipelineService {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	if m == nil {
		m = metrics.NewUnregistered()
	}
	return &PipelineService{
		router:   router,
		policies: policies,
		push:     push,
		webhooks: webhooks,
		contexts: contexts,
		logger:   logger,
		metrics:  m,
		queue:    make(chan behavior.EmotionEvent, queueSize),
		workers:  workers,
	}
}

// Submit enqueues an event without blocking. A full queue drops the event.
func (s *PipelineService) Submit(event behavior.EmotionEvent) error {
	select {
	case s.queue <- event:
		return nil
	default:
		s.metrics.PipelineDropped.Inc()
		s.logger.WithSession(logging.ChannelRouter, event.TenantID, event.SessionID).
			Warn("Pipeline queue full, dropping emotion event", "emotion", event.Emotion)
		return ErrQueueFull
	}
}

// Pending returns the number of queued events.
func (s *PipelineService) Pending() int { return len(s.queue) }

// Run starts the workers and blocks until ctx is cancelled and every event
// already queued has been processed.
func (s *PipelineService) Run(ctx context.Context) {
	s.logger.Router().Info("Pipeline workers started", "workers", s.workers, "queueSize", cap(s.queue))
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}
	s.wg.Wait()
	s.logger.Router().Info("Pipeline workers stopped")
}

func (s *PipelineService) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case ev := <-s.queue:
			s.handle(ctx, ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-s.queue:
					s.handle(context.Background(), ev)
				default:
					return
				}
			}
		}
	}
}

func (s *PipelineService) handle(ctx context.Context, ev behavior.EmotionEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.LogRecovered(logging.ChannelRouter, "pipeline", r)
		}
	}()
	if _, _, err := s.Process(ctx, ev); err != nil && !errors.Is(err, intervention.ErrUnknownTenant) {
		s.logger.WithSession(logging.ChannelRouter, ev.TenantID, ev.SessionID).
			Error("Failed to process emotion event", "error", err)
	}
}

// Process routes one event synchronously and dispatches the resulting
// directive, if any.
func (s *PipelineService) Process(ctx context.Context, ev behavior.EmotionEvent) (intervention.Directive, bool, error) {
	pctx, cancel := context.WithTimeout(ctx, policyTimeout)
	policy, err := s.policies.Policy(pctx, ev.TenantID)
	cancel()
	if err != nil {
		return intervention.Directive{}, false, fmt.Errorf("resolve policy: %w", err)
	}

	d, ok := s.router.Route(ev, policy)
	if !ok {
		return intervention.Directive{}, false, nil
	}
	if s.contexts != nil {
		pc := s.contexts.Get(ev.TenantID, ev.SessionID)
		d.PageURL = pc.PageURL
		d.CustomerValue = pc.CustomerValue
	}
	s.deliver(d, policy)
	return d, true, nil
}

// Dispatch sends an externally built directive through the tenant's enabled
// channels.
func (s *PipelineService) Dispatch(ctx context.Context, d intervention.Directive) (DispatchResult, error) {
	policy, err := s.policies.Policy(ctx, d.TenantID)
	if err != nil {
		return DispatchResult{}, err
	}
	if !d.Payload.Action.Valid() {
		d.Payload.Action = d.Action
	}
	if !d.Action.Valid() {
		return DispatchResult{}, fmt.Errorf("invalid action %q", d.Action)
	}
	d.Payload = d.Payload.ForAction(d.Action)
	if err := d.Payload.Validate(); err != nil {
		return DispatchResult{}, err
	}
	d.Tier = policy.Tier.Normalize()
	if d.ID == "" {
		d.ID = security.GenerateULID()
	}
	if d.IssuedAt.IsZero() {
		d.IssuedAt = time.Now().UTC()
	}
	return s.deliver(d, policy), nil
}

func (s *PipelineService) deliver(d intervention.Directive, policy *intervention.TenantPolicy) DispatchResult {
	res := DispatchResult{DirectiveID: d.ID}
	log := s.logger.WithSession(logging.ChannelRouter, d.TenantID, d.SessionID)

	if d.Action.Includes(intervention.ChannelPush) && policy.ChannelEnabled(intervention.ChannelPush) && s.push != nil {
		if err := s.push.Send(d); err != nil {
			res.PushError = err.Error()
			log.Debug("Push not delivered", "directiveId", d.ID, "error", err)
		} else {
			res.Pushed = true
		}
	}
	if d.Action.Includes(intervention.ChannelWebhook) && policy.ChannelEnabled(intervention.ChannelWebhook) && s.webhooks != nil {
		n, err := s.webhooks.Deliver(d, policy.Endpoints)
		if err != nil {
			log.Warn("Webhook delivery not started", "directiveId", d.ID, "error", err)
		}
		res.Webhooks = n
	}
	log.Info("Directive dispatched",
		"directiveId", d.ID, "ruleId", d.RuleID, "action", d.Action,
		"pushed", res.Pushed, "webhooks", res.Webhooks)
	return res
}
