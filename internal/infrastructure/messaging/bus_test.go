package messaging

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AtRiskMedia/intervene/internal/domain/events"
	"github.com/AtRiskMedia/intervene/internal/domain/intervention"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/observability/logging"
)

func runBus(t *testing.T, bus *Bus) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		bus.Run(ctx)
		close(done)
	}()
	cancel = func() {
		stop()
		<-done
	}
	t.Cleanup(cancel)
	return cancel
}

func TestBusRoutesByKind(t *testing.T) {
	bus := NewBus(16, logging.NewDiscardLogger())
	var critical, all atomic.Int32
	bus.Subscribe(func(events.Event) { critical.Add(1) }, events.CriticalFailure)
	bus.Subscribe(func(events.Event) { all.Add(1) })
	runBus(t, bus)

	bus.Publish(events.Event{Kind: events.DeliverySuccess})
	bus.Publish(events.Event{Kind: events.CriticalFailure})
	bus.Publish(events.Event{Kind: events.PushClicked})

	require.Eventually(t, func() bool { return all.Load() == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), critical.Load())
}

func TestBusSurvivesHandlerPanic(t *testing.T) {
	bus := NewBus(16, logging.NewDiscardLogger())
	var seen atomic.Int32
	bus.Subscribe(func(events.Event) { panic("boom") }, events.DeliveryFailed)
	bus.Subscribe(func(events.Event) { seen.Add(1) }, events.DeliveryFailed)
	runBus(t, bus)

	bus.Publish(events.Event{Kind: events.DeliveryFailed})
	bus.Publish(events.Event{Kind: events.DeliveryFailed})

	require.Eventually(t, func() bool { return seen.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestBusDropsWhenFull(t *testing.T) {
	bus := NewBus(2, logging.NewDiscardLogger())

	for i := 0; i < 5; i++ {
		bus.Publish(events.Event{Kind: events.PushDropped})
	}

	assert.Equal(t, 2, bus.Pending())
}

func TestBusDrainsOnShutdown(t *testing.T) {
	bus := NewBus(8, logging.NewDiscardLogger())
	var ids []string
	bus.Subscribe(func(e events.Event) { ids = append(ids, e.Directive.ID) })
	for _, id := range []string{"a", "b", "c"} {
		bus.Publish(events.Event{Kind: events.DeliverySuccess, Directive: intervention.Directive{ID: id}})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bus.Run(ctx)

	assert.Equal(t, []string{"a", "b", "c"}, ids)
	assert.Equal(t, 0, bus.Pending())
}
