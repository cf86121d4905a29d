package watcher

import (
	"context"

	dominv "github.com/minishop-io/inventory-engine/internal/domain/inventory"
	domoutbox "github.com/minishop-io/inventory-engine/internal/domain/outbox"
	"github.com/minishop-io/inventory-engine/internal/observability"
	"github.com/minishop-io/inventory-engine/internal/observability/logctx"
)

const workerService = "stock_watcher"

// Worker observes mutation events and flags products whose sellable stock
// hit zero, so operations can replenish before orders start failing.
type Worker struct {
	subscriber domoutbox.Subscriber
	log        observability.Logger
	depletions observability.Counter
}

func New(subscriber domoutbox.Subscriber, tel observability.Observability) *Worker {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Worker{
		subscriber: subscriber,
		log:        tel.Logger().With(observability.F("service", workerService)),
		depletions: tel.Metrics().Counter(observability.MStockDepletions),
	}
}

func (w *Worker) Start() {
	if w.subscriber == nil {
		return
	}
	for _, name := range []string{
		dominv.EventStockReceived,
		dominv.EventStockReserved,
		dominv.EventReservationReleased,
		dominv.EventReservationCommitted,
		dominv.EventOutboundConfirmed,
		dominv.EventOutboundCanceled,
	} {
		w.subscriber.Subscribe(name, w.handle)
	}
}

func (w *Worker) handle(ctx context.Context, e domoutbox.Event) error {
	evt, ok := e.(dominv.StockEvent)
	if !ok {
		return nil
	}
	snap := evt.LedgerSnapshot()
	if snap.Available > 0 {
		return nil
	}

	w.depletions.Add(1)
	logctx.FromOr(ctx, w.log).Warn("stock_depleted",
		observability.F("event", e.EventName()),
		observability.F("product_id", snap.ProductID),
		observability.F("physical_total", snap.PhysicalTotal),
		observability.F("reserved", snap.Reserved),
		observability.F("outbound_processing", snap.OutboundProcessing),
	)
	return nil
}
