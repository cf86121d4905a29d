package watcher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dominv "github.com/minishop-io/inventory-engine/internal/domain/inventory"
	domoutbox "github.com/minishop-io/inventory-engine/internal/domain/outbox"
)

type recordingSubscriber struct {
	handlers map[string]domoutbox.Handler
}

func (s *recordingSubscriber) Subscribe(name string, h domoutbox.Handler) {
	if s.handlers == nil {
		s.handlers = make(map[string]domoutbox.Handler)
	}
	s.handlers[name] = h
}

func TestWorkerSubscribesToAllStockEvents(t *testing.T) {
	sub := &recordingSubscriber{}
	New(sub, nil).Start()

	for _, name := range []string{
		dominv.EventStockReceived,
		dominv.EventStockReserved,
		dominv.EventReservationReleased,
		dominv.EventReservationCommitted,
		dominv.EventOutboundConfirmed,
		dominv.EventOutboundCanceled,
	} {
		assert.Contains(t, sub.handlers, name)
	}
}

func TestWorkerHandlesDepletion(t *testing.T) {
	sub := &recordingSubscriber{}
	New(sub, nil).Start()

	handler := sub.handlers[dominv.EventStockReserved]
	require.NotNil(t, handler)

	depleted := dominv.NewStockReservedEvent(dominv.Snapshot{
		ProductID:     1,
		PhysicalTotal: 5,
		Reserved:      5,
		Available:     0,
	}, 5)
	assert.NoError(t, handler(context.Background(), depleted))

	inStock := dominv.NewStockReservedEvent(dominv.Snapshot{
		ProductID:     1,
		PhysicalTotal: 5,
		Reserved:      2,
		Available:     3,
	}, 2)
	assert.NoError(t, handler(context.Background(), inStock))
}

type unnamedEvent struct{}

func (unnamedEvent) EventName() string { return "other.event" }

func TestWorkerIgnoresForeignEvents(t *testing.T) {
	sub := &recordingSubscriber{}
	New(sub, nil).Start()

	handler := sub.handlers[dominv.EventStockReceived]
	require.NotNil(t, handler)

	assert.NoError(t, handler(context.Background(), unnamedEvent{}))
}
