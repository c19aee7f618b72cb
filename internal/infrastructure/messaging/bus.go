package messaging

import (
	"context"
	"sync"

	"github.com/AtRiskMedia/intervene/internal/domain/events"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/observability/logging"
)

const defaultBusBuffer = 1024

// Bus fans delivery events out to subscribers. Publish never blocks: a full
// queue drops the event with a warning.
type Bus struct {
	queue  chan events.Event
	logger *logging.ChanneledLogger

	mu       sync.RWMutex
	handlers map[events.Kind][]events.Handler
	any      []events.Handler
}

// NewBus creates a bus with the given queue size.
func NewBus(buffer int, logger *logging.ChanneledLogger) *Bus {
	if buffer <= 0 {
		buffer = defaultBusBuffer
	}
	return &Bus{
		queue:    make(chan events.Event, buffer),
		logger:   logger,
		handlers: make(map[events.Kind][]events.Handler),
	}
}

// Subscribe registers h for the given kinds, or for every kind when none are
// named.
func (b *Bus) Subscribe(h events.Handler, kinds ...events.Kind) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(kinds) == 0 {
		b.any = append(b.any, h)
		return
	}
	for _, k := range kinds {
		b.handlers[k] = append(b.handlers[k], h)
	}
}

// Publish implements events.Publisher.
func (b *Bus) Publish(event events.Event) {
	select {
	case b.queue <- event:
	default:
		b.logger.System().Warn("Event bus full, event dropped",
			"kind", event.Kind, "directiveId", event.Directive.ID, "tenantId", event.Directive.TenantID)
	}
}

// Run dispatches queued events until ctx is cancelled, then drains what is
// already queued so terminal delivery outcomes reach their subscribers.
func (b *Bus) Run(ctx context.Context) {
	for {
		select {
		case ev := <-b.queue:
			b.dispatch(ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-b.queue:
					b.dispatch(ev)
				default:
					return
				}
			}
		}
	}
}

// Pending returns the number of queued events.
func (b *Bus) Pending() int {
	return len(b.queue)
}

func (b *Bus) dispatch(ev events.Event) {
	b.mu.RLock()
	targets := make([]events.Handler, 0, len(b.any)+len(b.handlers[ev.Kind]))
	targets = append(targets, b.any...)
	targets = append(targets, b.handlers[ev.Kind]...)
	b.mu.RUnlock()

	for _, h := range targets {
		b.invoke(h, ev)
	}
}

func (b *Bus) invoke(h events.Handler, ev events.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.LogRecovered(logging.ChannelSystem, "event handler "+string(ev.Kind), r)
		}
	}()
	h(ev)
}
