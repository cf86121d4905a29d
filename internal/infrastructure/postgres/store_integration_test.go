package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/minishop-io/inventory-engine/internal/domain/catalog"
	domain "github.com/minishop-io/inventory-engine/internal/domain/inventory"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("inventory"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	cred := &Credentials{
		Host:              host,
		Port:              port.Int(),
		User:              "postgres",
		Password:          "postgres",
		DBName:            "inventory",
		MigrationsDirPath: "../../../migrations",
	}

	store, err := NewStore(cred)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.RunMigrations(cred))
	return store
}

func TestLedgerLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	led, err := store.CreateLedger(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), led.ProductID)
	assert.Equal(t, 0, led.Available)

	_, err = store.CreateLedger(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrLedgerExists)

	loaded, err := store.Ledger(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, loaded.PhysicalTotal)

	require.NoError(t, store.DeleteLedger(ctx, 1))
	_, err = store.Ledger(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestTransactionalMutation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.CreateLedger(ctx, 1)
	require.NoError(t, err)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)

	led, err := tx.LedgerForUpdate(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, led.ApplyInbound(10))
	require.NoError(t, tx.SaveLedger(ctx, led))
	require.NoError(t, tx.Commit())

	loaded, err := store.Ledger(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 10, loaded.PhysicalTotal)
	assert.Equal(t, 10, loaded.Available)
}

func TestRollbackDiscardsMutation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.CreateLedger(ctx, 1)
	require.NoError(t, err)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	led, err := tx.LedgerForUpdate(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, led.ApplyInbound(10))
	require.NoError(t, tx.SaveLedger(ctx, led))
	require.NoError(t, tx.Rollback())

	loaded, err := store.Ledger(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, loaded.PhysicalTotal)
}

func TestEventMarkerInsertOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tx1, err := store.Begin(ctx)
	require.NoError(t, err)
	inserted, err := tx1.MarkEventProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, inserted)
	require.NoError(t, tx1.Commit())

	tx2, err := store.Begin(ctx)
	require.NoError(t, err)
	inserted, err = tx2.MarkEventProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, inserted)
	require.NoError(t, tx2.Rollback())
}

func TestEventMarkerRollbackFreesID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tx1, err := store.Begin(ctx)
	require.NoError(t, err)
	inserted, err := tx1.MarkEventProcessed(ctx, "evt-1")
	require.NoError(t, err)
	require.True(t, inserted)
	require.NoError(t, tx1.Rollback())

	tx2, err := store.Begin(ctx)
	require.NoError(t, err)
	inserted, err = tx2.MarkEventProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, inserted, "rolled back marker must be claimable again")
	require.NoError(t, tx2.Commit())
}

func TestCatalogRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Register(ctx, &catalog.Product{ID: 1, Name: "widget"}))

	p, err := store.Product(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "widget", p.Name)
	assert.False(t, p.Retired)

	require.NoError(t, store.Retire(ctx, 1))
	p, err = store.Product(ctx, 1)
	require.NoError(t, err)
	assert.True(t, p.Retired)

	require.NoError(t, store.Remove(ctx, 1))
	_, err = store.Product(ctx, 1)
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}
