package inventory

import "time"

// Event names published on the bus after successful mutations. Delivery is
// fire-and-forget; durability comes from the ledger row itself.
const (
	EventStockReceived        = "inventory.stock_received"
	EventStockReserved        = "inventory.stock_reserved"
	EventReservationReleased  = "inventory.reservation_released"
	EventReservationCommitted = "inventory.reservation_committed"
	EventOutboundConfirmed    = "inventory.outbound_confirmed"
	EventOutboundCanceled     = "inventory.outbound_canceled"
)

// StockEvent is implemented by every mutation event so observers can inspect
// the post-mutation counters without switching on concrete types.
type StockEvent interface {
	EventName() string
	LedgerSnapshot() Snapshot
}

// StockReceivedEvent is emitted after a warehouse receipt is applied.
type StockReceivedEvent struct {
	EventID    string
	ProductID  int64
	Quantity   int
	Ledger     Snapshot
	OccurredAt time.Time
}

func (StockReceivedEvent) EventName() string          { return EventStockReceived }
func (e StockReceivedEvent) LedgerSnapshot() Snapshot { return e.Ledger }

func NewStockReceivedEvent(eventID string, snap Snapshot, qty int) StockReceivedEvent {
	return StockReceivedEvent{
		EventID:    eventID,
		ProductID:  snap.ProductID,
		Quantity:   qty,
		Ledger:     snap,
		OccurredAt: time.Now().UTC(),
	}
}

// StockReservedEvent is emitted after stock is held for an in-flight order.
type StockReservedEvent struct {
	ProductID  int64
	Quantity   int
	Ledger     Snapshot
	OccurredAt time.Time
}

func (StockReservedEvent) EventName() string          { return EventStockReserved }
func (e StockReservedEvent) LedgerSnapshot() Snapshot { return e.Ledger }

func NewStockReservedEvent(snap Snapshot, qty int) StockReservedEvent {
	return StockReservedEvent{
		ProductID:  snap.ProductID,
		Quantity:   qty,
		Ledger:     snap,
		OccurredAt: time.Now().UTC(),
	}
}

// ReservationReleasedEvent is emitted after reserved stock returns to the
// sellable pool.
type ReservationReleasedEvent struct {
	ProductID  int64
	Quantity   int
	Ledger     Snapshot
	OccurredAt time.Time
}

func (ReservationReleasedEvent) EventName() string          { return EventReservationReleased }
func (e ReservationReleasedEvent) LedgerSnapshot() Snapshot { return e.Ledger }

func NewReservationReleasedEvent(snap Snapshot, qty int) ReservationReleasedEvent {
	return ReservationReleasedEvent{
		ProductID:  snap.ProductID,
		Quantity:   qty,
		Ledger:     snap,
		OccurredAt: time.Now().UTC(),
	}
}

// ReservationCommittedEvent is emitted after reserved stock moves to outbound
// processing.
type ReservationCommittedEvent struct {
	ProductID  int64
	Quantity   int
	Ledger     Snapshot
	OccurredAt time.Time
}

func (ReservationCommittedEvent) EventName() string          { return EventReservationCommitted }
func (e ReservationCommittedEvent) LedgerSnapshot() Snapshot { return e.Ledger }

func NewReservationCommittedEvent(snap Snapshot, qty int) ReservationCommittedEvent {
	return ReservationCommittedEvent{
		ProductID:  snap.ProductID,
		Quantity:   qty,
		Ledger:     snap,
		OccurredAt: time.Now().UTC(),
	}
}

// OutboundConfirmedEvent is emitted after the warehouse confirms physical
// removal of committed stock.
type OutboundConfirmedEvent struct {
	EventID    string
	ProductID  int64
	Quantity   int
	Ledger     Snapshot
	OccurredAt time.Time
}

func (OutboundConfirmedEvent) EventName() string          { return EventOutboundConfirmed }
func (e OutboundConfirmedEvent) LedgerSnapshot() Snapshot { return e.Ledger }

func NewOutboundConfirmedEvent(eventID string, snap Snapshot, qty int) OutboundConfirmedEvent {
	return OutboundConfirmedEvent{
		EventID:    eventID,
		ProductID:  snap.ProductID,
		Quantity:   qty,
		Ledger:     snap,
		OccurredAt: time.Now().UTC(),
	}
}

// OutboundCanceledEvent is emitted after a canceled shipment returns stock to
// the sellable pool.
type OutboundCanceledEvent struct {
	EventID    string
	ProductID  int64
	Quantity   int
	Ledger     Snapshot
	OccurredAt time.Time
}

func (OutboundCanceledEvent) EventName() string          { return EventOutboundCanceled }
func (e OutboundCanceledEvent) LedgerSnapshot() Snapshot { return e.Ledger }

func NewOutboundCanceledEvent(eventID string, snap Snapshot, qty int) OutboundCanceledEvent {
	return OutboundCanceledEvent{
		EventID:    eventID,
		ProductID:  snap.ProductID,
		Quantity:   qty,
		Ledger:     snap,
		OccurredAt: time.Now().UTC(),
	}
}
