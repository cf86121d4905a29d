package memory

import (
	"context"
	"sync"
	"time"

	domain "github.com/minishop-io/inventory-engine/internal/domain/inventory"
)

// Store is an in-memory inventory.Store for single-node runs and tests.
//
// Marker semantics match the Postgres store: an uncommitted marker is pending,
// not visible. A concurrent MarkEventProcessed for a pending id blocks until
// the owning transaction resolves, exactly as a conflicting ON CONFLICT insert
// blocks on the uncommitted row. Only a committed marker yields false.
type Store struct {
	mu        sync.Mutex
	ledgers   map[int64]*domain.Ledger
	processed map[string]time.Time
	pending   map[string]chan struct{}
}

func NewStore() *Store {
	return &Store{
		ledgers:   make(map[int64]*domain.Ledger),
		processed: make(map[string]time.Time),
		pending:   make(map[string]chan struct{}),
	}
}

func (s *Store) Ledger(_ context.Context, productID int64) (*domain.Ledger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	led, ok := s.ledgers[productID]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	return cloneLedger(led), nil
}

func (s *Store) CreateLedger(_ context.Context, productID int64) (*domain.Ledger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ledgers[productID]; ok {
		return nil, domain.ErrLedgerExists
	}
	led := domain.NewLedger(productID)
	s.ledgers[productID] = cloneLedger(led)
	return led, nil
}

func (s *Store) DeleteLedger(_ context.Context, productID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ledgers[productID]; !ok {
		return domain.ErrProductNotFound
	}
	delete(s.ledgers, productID)
	return nil
}

func (s *Store) Begin(_ context.Context) (domain.Tx, error) {
	return &tx{store: s, staged: make(map[int64]*domain.Ledger)}, nil
}

type tx struct {
	store    *Store
	staged   map[int64]*domain.Ledger
	marked   []string
	doneOnce sync.Once
}

// MarkEventProcessed claims the id as pending for this transaction. When
// another open transaction already holds the id pending, the call waits for
// that transaction to commit or roll back before resolving.
func (t *tx) MarkEventProcessed(ctx context.Context, eventID string) (bool, error) {
	for {
		t.store.mu.Lock()
		if _, seen := t.store.processed[eventID]; seen {
			t.store.mu.Unlock()
			return false, nil
		}
		if t.holds(eventID) {
			// Our own uncommitted marker, like a repeated insert in one tx.
			t.store.mu.Unlock()
			return false, nil
		}
		resolved, held := t.store.pending[eventID]
		if !held {
			t.store.pending[eventID] = make(chan struct{})
			t.marked = append(t.marked, eventID)
			t.store.mu.Unlock()
			return true, nil
		}
		t.store.mu.Unlock()

		select {
		case <-resolved:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

func (t *tx) holds(eventID string) bool {
	for _, id := range t.marked {
		if id == eventID {
			return true
		}
	}
	return false
}

func (t *tx) LedgerForUpdate(_ context.Context, productID int64) (*domain.Ledger, error) {
	if staged, ok := t.staged[productID]; ok {
		return cloneLedger(staged), nil
	}

	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	led, ok := t.store.ledgers[productID]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	return cloneLedger(led), nil
}

func (t *tx) SaveLedger(_ context.Context, ledger *domain.Ledger) error {
	if ledger == nil {
		return nil
	}
	t.staged[ledger.ProductID] = cloneLedger(ledger)
	return nil
}

func (t *tx) Commit() error {
	t.doneOnce.Do(func() {
		t.store.mu.Lock()
		defer t.store.mu.Unlock()
		for id, led := range t.staged {
			t.store.ledgers[id] = cloneLedger(led)
		}
		for _, id := range t.marked {
			if resolved, ok := t.store.pending[id]; ok {
				delete(t.store.pending, id)
				t.store.processed[id] = time.Now().UTC()
				close(resolved)
			}
		}
	})
	return nil
}

func (t *tx) Rollback() error {
	t.doneOnce.Do(func() {
		t.store.mu.Lock()
		defer t.store.mu.Unlock()
		for _, id := range t.marked {
			if resolved, ok := t.store.pending[id]; ok {
				delete(t.store.pending, id)
				close(resolved)
			}
		}
	})
	return nil
}

func cloneLedger(led *domain.Ledger) *domain.Ledger {
	if led == nil {
		return nil
	}
	clone := *led
	return &clone
}
