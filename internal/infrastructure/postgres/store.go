package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"

	"github.com/minishop-io/inventory-engine/internal/domain/catalog"
	domain "github.com/minishop-io/inventory-engine/internal/domain/inventory"
)

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}

// Store implements inventory.Store and catalog.Catalog on Postgres. The
// lock-acquiring read is SELECT ... FOR UPDATE; the dedup marker relies on
// the unique event_id constraint, never on a read-then-write.
type Store struct {
	db *sql.DB
}

func NewStore(cred *Credentials) (*Store, error) {
	psqlconn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cred.Host,
		cred.Port,
		cred.User,
		cred.Password,
		cred.DBName)

	db, err := sql.Open("postgres", psqlconn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if e2 := db.Ping(); e2 != nil {
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}

	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(10)
	return &Store{db: db}, nil
}

func (s *Store) RunMigrations(cred *Credentials) error {
	driver, err := migratepg.WithInstance(s.db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", cred.MigrationsDirPath),
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}

	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const ledgerColumns = `product_id, physical_stock_total, reserved, outbound_processing, available, created_at, updated_at`

func (s *Store) Ledger(ctx context.Context, productID int64) (*domain.Ledger, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+ledgerColumns+` FROM inventory_ledger WHERE product_id = $1`,
		productID,
	)
	return scanLedger(row)
}

func (s *Store) CreateLedger(ctx context.Context, productID int64) (*domain.Ledger, error) {
	led := domain.NewLedger(productID)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO inventory_ledger (product_id, physical_stock_total, reserved, outbound_processing, available, created_at, updated_at)
		 VALUES ($1, 0, 0, 0, 0, $2, $2)
		 ON CONFLICT (product_id) DO NOTHING`,
		productID, led.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create ledger: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("create ledger: rows affected: %w", err)
	}
	if inserted == 0 {
		return nil, domain.ErrLedgerExists
	}
	return led, nil
}

func (s *Store) DeleteLedger(ctx context.Context, productID int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM inventory_ledger WHERE product_id = $1`,
		productID,
	)
	if err != nil {
		return fmt.Errorf("delete ledger: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete ledger: rows affected: %w", err)
	}
	if deleted == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

func (s *Store) Begin(ctx context.Context) (domain.Tx, error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &tx{tx: sqlTx}, nil
}

type tx struct {
	tx   *sql.Tx
	done bool
}

func (t *tx) MarkEventProcessed(ctx context.Context, eventID string) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO processed_inbound_events (event_id) VALUES ($1)
		 ON CONFLICT (event_id) DO NOTHING`,
		eventID,
	)
	if err != nil {
		return false, fmt.Errorf("mark event processed: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark event processed: rows affected: %w", err)
	}
	return inserted == 1, nil
}

func (t *tx) LedgerForUpdate(ctx context.Context, productID int64) (*domain.Ledger, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+ledgerColumns+` FROM inventory_ledger WHERE product_id = $1 FOR UPDATE`,
		productID,
	)
	return scanLedger(row)
}

func (t *tx) SaveLedger(ctx context.Context, led *domain.Ledger) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE inventory_ledger
		 SET physical_stock_total = $2, reserved = $3, outbound_processing = $4, available = $5, updated_at = $6
		 WHERE product_id = $1`,
		led.ProductID, led.PhysicalTotal, led.Reserved, led.OutboundProcessing, led.Available, led.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}
	return nil
}

func (t *tx) Commit() error {
	t.done = true
	return t.tx.Commit()
}

func (t *tx) Rollback() error {
	if t.done {
		return nil
	}
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

func scanLedger(row *sql.Row) (*domain.Ledger, error) {
	var led domain.Ledger
	err := row.Scan(
		&led.ProductID,
		&led.PhysicalTotal,
		&led.Reserved,
		&led.OutboundProcessing,
		&led.Available,
		&led.CreatedAt,
		&led.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan ledger: %w", err)
	}
	return &led, nil
}

// Product looks a product up in the engine-local mirror of the catalog.
func (s *Store) Product(ctx context.Context, id int64) (*catalog.Product, error) {
	var p catalog.Product
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, retired, created_at FROM products WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.Name, &p.Retired, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	return &p, nil
}

func (s *Store) Register(ctx context.Context, p *catalog.Product) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO products (id, name, retired, created_at) VALUES ($1, $2, $3, now())
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, retired = EXCLUDED.retired`,
		p.ID, p.Name, p.Retired,
	)
	if err != nil {
		return fmt.Errorf("register product: %w", err)
	}
	return nil
}

func (s *Store) Retire(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE products SET retired = TRUE WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("retire product: %w", err)
	}
	updated, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("retire product: rows affected: %w", err)
	}
	if updated == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM products WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("remove product: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove product: rows affected: %w", err)
	}
	if deleted == 0 {
		return catalog.ErrNotFound
	}
	return nil
}
