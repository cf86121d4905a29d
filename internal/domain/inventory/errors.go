package inventory

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidQuantity     = errors.New("inventory: quantity must be greater than zero")
	ErrInvalidEventID      = errors.New("inventory: event id must not be blank")
	ErrProductNotFound     = errors.New("inventory: product not found")
	ErrInsufficientStock   = errors.New("inventory: insufficient stock")
	ErrReservationNotFound = errors.New("inventory: reserved quantity below requested")
	ErrOutboundNotReserved = errors.New("inventory: outbound quantity below requested")
	ErrLedgerExists        = errors.New("inventory: ledger already exists")
	ErrLockNotAcquired     = errors.New("inventory: product lock not acquired")
)

// InvariantError reports a violated counter invariant. Retrying will not
// self-heal, and monitoring should page on it separately from business
// rejections.
type InvariantError struct {
	ProductID          int64
	PhysicalTotal      int
	Reserved           int
	OutboundProcessing int
	Msg                string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("inventory: invariant violated for product %d: %s (physical=%d reserved=%d outbound=%d)",
		e.ProductID, e.Msg, e.PhysicalTotal, e.Reserved, e.OutboundProcessing)
}

// Category buckets errors so callers branch on kind instead of message text.
type Category string

const (
	CategoryValidation Category = "validation"
	CategoryNotFound   Category = "not_found"
	CategoryConflict   Category = "conflict"
	CategoryContention Category = "contention"
	CategoryInvariant  Category = "invariant"
	CategoryInternal   Category = "internal"
)

// Categorize maps an error from any engine entry point to its category.
// Unknown errors are internal.
func Categorize(err error) Category {
	var inv *InvariantError
	switch {
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidEventID):
		return CategoryValidation
	case errors.Is(err, ErrProductNotFound):
		return CategoryNotFound
	case errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrReservationNotFound),
		errors.Is(err, ErrOutboundNotReserved),
		errors.Is(err, ErrLedgerExists):
		return CategoryConflict
	case errors.Is(err, ErrLockNotAcquired):
		return CategoryContention
	case errors.As(err, &inv):
		return CategoryInvariant
	default:
		return CategoryInternal
	}
}
