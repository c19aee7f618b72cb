package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/AtRiskMedia/intervene/internal/domain/events"
	"github.com/AtRiskMedia/intervene/internal/domain/intervention"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/clock"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/observability/metrics"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/security"
)

// ErrClosed is returned by Deliver after Close has been called.
var ErrClosed = errors.New("webhook dispatcher closed")

const (
	userAgent        = "intervene-webhook/1.0"
	maxResponseBytes = 64 << 10
	storeTimeout     = 5 * time.Second
)

// Config holds dispatcher defaults. Endpoint retry policies override Retry.
type Config struct {
	Timeout time.Duration
	Retry   intervention.RetryPolicy
}

// delivery is one directive bound for one endpoint. It is owned by exactly
// one goroutine or timer at a time.
type delivery struct {
	id        string
	directive intervention.Directive
	endpoint  intervention.WebhookEndpoint
	body      []byte
	schedule  *Schedule
	maxTries  int
	attempt   int
	startedAt time.Time
	timer     clock.Timer
}

// Dispatcher is the WebhookDispatcher. Deliver never blocks on the network;
// each endpoint is attempted in its own goroutine and retries are scheduled
// on the clock.
type Dispatcher struct {
	cfg       Config
	client    *http.Client
	clock     clock.Clock
	jitter    func() float64
	newID     func() string
	publisher events.Publisher
	repo      intervention.DeliveryRepository
	logger    *logging.ChanneledLogger
	metrics   *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	inflight map[string]*delivery
	wg       sync.WaitGroup
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient replaces the HTTP client. Its Timeout is overwritten by
// Config.Timeout when that is set.
func WithHTTPClient(c *http.Client) Option { return func(d *Dispatcher) { d.client = c } }

// WithClock injects the clock used for retry scheduling.
func WithClock(c clock.Clock) Option { return func(d *Dispatcher) { d.clock = c } }

// WithJitter injects the jitter source, uniform in [0, 1).
func WithJitter(f func() float64) Option { return func(d *Dispatcher) { d.jitter = f } }

// WithIDGenerator replaces the delivery id generator.
func WithIDGenerator(f func() string) Option { return func(d *Dispatcher) { d.newID = f } }

// WithRepository persists every attempt for audit.
func WithRepository(r intervention.DeliveryRepository) Option {
	return func(d *Dispatcher) { d.repo = r }
}

// NewDispatcher creates a dispatcher publishing terminal outcomes to pub.
func NewDispatcher(cfg Config, pub events.Publisher, logger *logging.ChanneledLogger, m *metrics.Metrics, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	if m == nil {
		m = metrics.NewUnregistered()
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		cfg:       cfg,
		client:    &http.Client{},
		clock:     clock.Real{},
		jitter:    rand.Float64,
		newID:     security.GenerateULID,
		publisher: pub,
		logger:    logger,
		metrics:   m,
		ctx:       ctx,
		cancel:    cancel,
		inflight:  make(map[string]*delivery),
	}
	for _, opt := range opts {
		opt(d)
	}
	if cfg.Timeout > 0 {
		d.client.Timeout = cfg.Timeout
	}
	return d
}

func (d *Dispatcher) policyFor(ep intervention.WebhookEndpoint) intervention.RetryPolicy {
	if ep.Retry != nil {
		return *ep.Retry
	}
	return d.cfg.Retry
}

// Deliver matches the directive against the endpoints, evaluated fresh on
// every call, and starts one delivery per match. It returns the number of
// deliveries started.
func (d *Dispatcher) Deliver(directive intervention.Directive, endpoints []intervention.WebhookEndpoint) (int, error) {
	var matched []intervention.WebhookEndpoint
	for _, ep := range endpoints {
		if ep.TenantID != "" && ep.TenantID != directive.TenantID {
			continue
		}
		if ep.Accepts(directive) {
			matched = append(matched, ep)
		}
	}
	if len(matched) == 0 {
		return 0, nil
	}

	body, err := json.Marshal(directive)
	if err != nil {
		return 0, fmt.Errorf("failed to encode directive %s: %w", directive.ID, err)
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return 0, ErrClosed
	}
	started := make([]*delivery, 0, len(matched))
	for _, ep := range matched {
		policy := d.policyFor(ep)
		dl := &delivery{
			id:        d.newID(),
			directive: directive,
			endpoint:  ep,
			body:      body,
			schedule:  BackoffFromPolicy(policy).Schedule(d.jitter),
			maxTries:  policy.MaxRetries + 1,
			startedAt: d.clock.Now(),
		}
		d.inflight[dl.id] = dl
		d.wg.Add(1)
		started = append(started, dl)
	}
	d.mu.Unlock()

	d.metrics.WebhookInFlight.Add(float64(len(started)))
	for _, dl := range started {
		go d.run(dl, false)
	}
	return len(started), nil
}

// run performs one attempt and either finishes the delivery or schedules the
// next attempt. final forces a terminal outcome (used while draining).
func (d *Dispatcher) run(dl *delivery, final bool) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.LogRecovered(logging.ChannelWebhook, "webhook delivery", r)
			d.finish(dl, intervention.DeliveryAttempt{
				DirectiveID: dl.directive.ID, DeliveryID: dl.id, TenantID: dl.directive.TenantID,
				EndpointID: dl.endpoint.ID, Channel: intervention.ChannelWebhook,
				AttemptNumber: dl.attempt, Status: intervention.StatusFailed,
				ErrorClass: intervention.ErrorPermanent, Error: fmt.Sprint(r),
				RespondedAt: d.clock.Now(),
			})
		}
	}()

	dl.attempt++
	attempt := d.post(dl)

	retry := attempt.ErrorClass.Retryable() && dl.attempt < dl.maxTries && !final
	switch {
	case attempt.ErrorClass == intervention.ErrorNone:
		attempt.Status = intervention.StatusSuccess
	case retry:
		attempt.Status = intervention.StatusRetrying
	default:
		attempt.Status = intervention.StatusFailed
	}
	d.metrics.WebhookAttempts.WithLabelValues(string(attempt.Status)).Inc()
	d.metrics.WebhookLatency.WithLabelValues(string(attempt.Status)).Observe(attempt.Latency.Seconds())

	if !retry {
		d.finish(dl, attempt)
		return
	}

	d.store(attempt)
	delay := dl.schedule.NextBackOff()

	d.logger.WithTenant(logging.ChannelWebhook, dl.directive.TenantID).Warn("Webhook attempt failed, retry scheduled",
		slog.String("deliveryId", dl.id),
		slog.String("endpointId", dl.endpoint.ID),
		slog.Int("attempt", dl.attempt),
		slog.Int("statusCode", attempt.StatusCode),
		slog.String("errorClass", string(attempt.ErrorClass)),
		slog.Duration("delay", delay))

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		go d.run(dl, true)
		return
	}
	dl.timer = d.clock.AfterFunc(delay, func() { d.fire(dl) })
	d.mu.Unlock()
}

// fire runs a scheduled retry unless draining already claimed it.
func (d *Dispatcher) fire(dl *delivery) {
	d.mu.Lock()
	if _, ok := d.inflight[dl.id]; !ok || dl.timer == nil {
		d.mu.Unlock()
		return
	}
	dl.timer = nil
	d.mu.Unlock()
	d.run(dl, false)
}

func (d *Dispatcher) post(dl *delivery) intervention.DeliveryAttempt {
	attempt := intervention.DeliveryAttempt{
		DirectiveID:   dl.directive.ID,
		DeliveryID:    dl.id,
		TenantID:      dl.directive.TenantID,
		EndpointID:    dl.endpoint.ID,
		Channel:       intervention.ChannelWebhook,
		AttemptNumber: dl.attempt,
		Status:        intervention.StatusPending,
	}

	req, err := http.NewRequestWithContext(d.ctx, http.MethodPost, dl.endpoint.URL, bytes.NewReader(dl.body))
	if err != nil {
		attempt.ErrorClass = intervention.ErrorPermanent
		attempt.Error = err.Error()
		attempt.RespondedAt = d.clock.Now()
		return attempt
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(HeaderSignature, Sign(dl.endpoint.Secret, dl.body))
	req.Header.Set(HeaderEventType, dl.directive.EventType())
	req.Header.Set(HeaderDeliveryID, dl.id)
	req.Header.Set(HeaderAttempt, strconv.Itoa(dl.attempt))

	start := time.Now()
	resp, err := d.client.Do(req)
	attempt.Latency = time.Since(start)
	attempt.RespondedAt = d.clock.Now()
	if err != nil {
		attempt.ErrorClass = Classify(0, err)
		attempt.Error = err.Error()
		return attempt
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	attempt.StatusCode = resp.StatusCode
	attempt.ErrorClass = Classify(resp.StatusCode, nil)
	if attempt.ErrorClass != intervention.ErrorNone {
		attempt.Error = http.StatusText(resp.StatusCode)
	}
	return attempt
}

// finish records the terminal attempt, publishes the outcome and releases
// the delivery.
func (d *Dispatcher) finish(dl *delivery, attempt intervention.DeliveryAttempt) {
	d.mu.Lock()
	_, live := d.inflight[dl.id]
	delete(d.inflight, dl.id)
	d.mu.Unlock()
	if !live {
		return
	}
	defer d.wg.Done()
	d.metrics.WebhookInFlight.Dec()

	d.store(attempt)

	kind := events.DeliverySuccess
	if attempt.Status != intervention.StatusSuccess {
		kind = events.DeliveryFailed
		if dl.directive.HighValue {
			kind = events.CriticalFailure
		}
	}

	log := d.logger.WithTenant(logging.ChannelWebhook, dl.directive.TenantID)
	attrs := []any{
		slog.String("deliveryId", dl.id),
		slog.String("directiveId", dl.directive.ID),
		slog.String("endpointId", dl.endpoint.ID),
		slog.Int("attempts", dl.attempt),
		slog.Duration("elapsed", d.clock.Now().Sub(dl.startedAt)),
	}
	if kind == events.DeliverySuccess {
		log.Info("Webhook delivered", attrs...)
	} else {
		log.Error("Webhook delivery failed", append(attrs,
			slog.String("kind", string(kind)),
			slog.String("errorClass", string(attempt.ErrorClass)),
			slog.Int("statusCode", attempt.StatusCode))...)
	}

	if d.publisher != nil {
		a := attempt
		d.publisher.Publish(events.Event{Kind: kind, Directive: dl.directive, Attempt: &a, At: d.clock.Now()})
	}
}

func (d *Dispatcher) store(attempt intervention.DeliveryAttempt) {
	if d.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := d.repo.StoreAttempt(ctx, attempt); err != nil {
		d.logger.Webhook().Error("Failed to store delivery attempt",
			"error", err, "deliveryId", attempt.DeliveryID, "attempt", attempt.AttemptNumber)
	}
}

// InFlight returns the number of deliveries not yet terminal.
func (d *Dispatcher) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inflight)
}

// Close stops accepting directives and drains in-flight deliveries: pending
// retries are attempted once more immediately and then finalized. It waits
// until every delivery is terminal or ctx expires, at which point outstanding
// requests are cancelled.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	var expedite []*delivery
	for _, dl := range d.inflight {
		if dl.timer != nil && dl.timer.Stop() {
			dl.timer = nil
			expedite = append(expedite, dl)
		}
	}
	d.mu.Unlock()

	d.logger.Shutdown().Info("Draining webhook deliveries", slog.Int("expedited", len(expedite)))
	for _, dl := range expedite {
		go d.run(dl, true)
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return fmt.Errorf("webhook drain interrupted: %w", ctx.Err())
	}
}
