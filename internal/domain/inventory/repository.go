package inventory

import (
	"context"
)

// Store persists ledger rows and the processed-event marker table.
type Store interface {
	// Ledger is a plain read of the current counters.
	// Returns ErrProductNotFound when no ledger exists.
	Ledger(ctx context.Context, productID int64) (*Ledger, error)
	// CreateLedger inserts a zeroed ledger when a product is created.
	// Returns ErrLedgerExists when one is already present.
	CreateLedger(ctx context.Context, productID int64) (*Ledger, error)
	// DeleteLedger removes the ledger when its product is permanently removed.
	DeleteLedger(ctx context.Context, productID int64) error
	// Begin opens a unit of work. Dedup marker and counter update for one
	// event must go through the same Tx so they commit together or not at all.
	Begin(ctx context.Context) (Tx, error)
}

// Tx is a single atomic unit of work against the store.
type Tx interface {
	// MarkEventProcessed inserts the idempotency marker for eventID and
	// reports whether it was newly inserted. The insert is resolved at the
	// storage layer (unique constraint), never check-then-insert. false is
	// only ever reported for a marker whose transaction committed; a marker
	// pending in a concurrent transaction blocks the call until that
	// transaction resolves.
	MarkEventProcessed(ctx context.Context, eventID string) (bool, error)
	// LedgerForUpdate reads the ledger row with a row-level lock so the
	// read-modify-write stays consistent inside the transaction.
	LedgerForUpdate(ctx context.Context, productID int64) (*Ledger, error)
	SaveLedger(ctx context.Context, ledger *Ledger) error
	Commit() error
	// Rollback is a no-op after Commit, so it is safe to defer.
	Rollback() error
}
