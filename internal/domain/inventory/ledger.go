package inventory

import (
	"time"
)

// Ledger is the per-product counter set. It is the unit of mutual exclusion:
// only the holder of the product lock may read-modify-write it.
//
// The counters form buckets connected by conservation-respecting transfers:
// inbound adds to PhysicalTotal, reserve/release move stock between available
// and Reserved, commit moves between Reserved and OutboundProcessing, a
// confirmed outbound removes from OutboundProcessing and PhysicalTotal
// together, a canceled outbound returns OutboundProcessing to available.
type Ledger struct {
	ProductID          int64
	PhysicalTotal      int
	Reserved           int
	OutboundProcessing int
	// Available is derived (PhysicalTotal - Reserved - OutboundProcessing)
	// and persisted for query convenience.
	Available int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewLedger creates a ledger with all counters at zero. A ledger exists for
// the whole lifetime of its product and is mutated only through the methods
// below.
func NewLedger(productID int64) *Ledger {
	now := time.Now().UTC()
	return &Ledger{
		ProductID: productID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ApplyInbound records a warehouse-confirmed receipt of qty units.
func (l *Ledger) ApplyInbound(qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	l.PhysicalTotal += qty
	return l.recompute()
}

// ApplyOutboundConfirmed records that qty units previously committed for
// shipment have physically left the warehouse.
func (l *Ledger) ApplyOutboundConfirmed(qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if l.OutboundProcessing < qty {
		return ErrOutboundNotReserved
	}
	if l.PhysicalTotal < qty {
		// With the invariant intact, PhysicalTotal >= OutboundProcessing >= qty
		// always holds here, so this is corruption, not a business rejection.
		return l.invariantErr("physical stock below confirmed outbound quantity")
	}
	l.OutboundProcessing -= qty
	l.PhysicalTotal -= qty
	return l.recompute()
}

// ApplyOutboundCanceled returns qty units from outbound processing to the
// sellable pool without touching physical stock.
func (l *Ledger) ApplyOutboundCanceled(qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if l.OutboundProcessing < qty {
		return ErrOutboundNotReserved
	}
	l.OutboundProcessing -= qty
	return l.recompute()
}

// Reserve holds qty units against an in-flight cart or order.
func (l *Ledger) Reserve(qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if l.Available < qty {
		return ErrInsufficientStock
	}
	l.Reserved += qty
	return l.recompute()
}

// Release returns qty reserved units to the sellable pool.
func (l *Ledger) Release(qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if l.Reserved < qty {
		return ErrReservationNotFound
	}
	l.Reserved -= qty
	return l.recompute()
}

// Commit moves qty units from "promised to a buyer" to "being shipped".
// Available is unchanged.
func (l *Ledger) Commit(qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if l.Reserved < qty {
		return ErrReservationNotFound
	}
	l.Reserved -= qty
	l.OutboundProcessing += qty
	return l.recompute()
}

func (l *Ledger) HasAvailableStock() bool {
	return l.Available > 0
}

// Snapshot returns a copy of the counters for callers outside the lock.
func (l *Ledger) Snapshot() Snapshot {
	return Snapshot{
		ProductID:          l.ProductID,
		PhysicalTotal:      l.PhysicalTotal,
		Reserved:           l.Reserved,
		OutboundProcessing: l.OutboundProcessing,
		Available:          l.Available,
		UpdatedAt:          l.UpdatedAt,
	}
}

// recompute rederives Available and revalidates the counter invariant. A
// negative result means a logic or concurrency bug upstream, never caller
// error.
func (l *Ledger) recompute() error {
	available := l.PhysicalTotal - l.Reserved - l.OutboundProcessing
	if available < 0 || l.PhysicalTotal < 0 || l.Reserved < 0 || l.OutboundProcessing < 0 {
		return l.invariantErr("available stock computed negative")
	}
	l.Available = available
	l.touch()
	return nil
}

func (l *Ledger) invariantErr(msg string) error {
	return &InvariantError{
		ProductID:          l.ProductID,
		PhysicalTotal:      l.PhysicalTotal,
		Reserved:           l.Reserved,
		OutboundProcessing: l.OutboundProcessing,
		Msg:                msg,
	}
}

func (l *Ledger) touch() {
	l.UpdatedAt = time.Now().UTC()
}

// Snapshot is a read-only view of a ledger's counters.
type Snapshot struct {
	ProductID          int64
	PhysicalTotal      int
	Reserved           int
	OutboundProcessing int
	Available          int
	UpdatedAt          time.Time
}
