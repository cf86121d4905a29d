package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	dominv "github.com/minishop-io/inventory-engine/internal/domain/inventory"
	domoutbox "github.com/minishop-io/inventory-engine/internal/domain/outbox"
	"github.com/minishop-io/inventory-engine/internal/infrastructure/lock"
	"github.com/minishop-io/inventory-engine/internal/observability"
	"github.com/minishop-io/inventory-engine/internal/observability/logctx"
)

const (
	coordinatorService = "reservation-coordinator"
	spanPrefix         = "UC."
	publishPeer        = "outbox"
	publishTimeout     = 300 * time.Millisecond
)

// Coordinator exposes the order-side mutations. Each one takes the identical
// per-product lock as ingestion; without a shared lock, inbound and
// reservation writes race and lose updates.
type Coordinator struct {
	store        dominv.Store
	locks        lock.Coordinator
	publisher    domoutbox.Publisher
	waitTimeout  time.Duration
	holdTimeout  time.Duration
	log          observability.Logger
	tracer       observability.Tracer
	reqCounter   observability.Counter
	durHistogram observability.Histogram
	lockCounter  observability.Counter
	invCounter   observability.Counter
}

func NewCoordinator(
	store dominv.Store,
	locks lock.Coordinator,
	publisher domoutbox.Publisher,
	waitTimeout, holdTimeout time.Duration,
	tel observability.Observability,
) *Coordinator {
	if tel == nil {
		tel = observability.Nop()
	}
	metrics := tel.Metrics()
	return &Coordinator{
		store:        store,
		locks:        locks,
		publisher:    publisher,
		waitTimeout:  waitTimeout,
		holdTimeout:  holdTimeout,
		log:          tel.Logger().With(observability.F("service", coordinatorService)),
		tracer:       tel.Tracer(),
		reqCounter:   metrics.Counter(observability.MUsecaseRequests),
		durHistogram: metrics.Histogram(observability.MUsecaseDuration),
		lockCounter:  metrics.Counter(observability.MLockAcquisitions),
		invCounter:   metrics.Counter(observability.MInvariantViolations),
	}
}

// Reserve holds qty units of a product for an in-flight order.
func (c *Coordinator) Reserve(ctx context.Context, productID int64, qty int) (*dominv.Snapshot, error) {
	return c.mutate(ctx, "inventory.reserve", productID, qty,
		func(led *dominv.Ledger) error { return led.Reserve(qty) },
		func(snap dominv.Snapshot) domoutbox.Event { return dominv.NewStockReservedEvent(snap, qty) },
	)
}

// Release returns qty reserved units to the sellable pool.
func (c *Coordinator) Release(ctx context.Context, productID int64, qty int) (*dominv.Snapshot, error) {
	return c.mutate(ctx, "inventory.release", productID, qty,
		func(led *dominv.Ledger) error { return led.Release(qty) },
		func(snap dominv.Snapshot) domoutbox.Event { return dominv.NewReservationReleasedEvent(snap, qty) },
	)
}

// Commit moves qty reserved units into outbound processing.
func (c *Coordinator) Commit(ctx context.Context, productID int64, qty int) (*dominv.Snapshot, error) {
	return c.mutate(ctx, "inventory.commit", productID, qty,
		func(led *dominv.Ledger) error { return led.Commit(qty) },
		func(snap dominv.Snapshot) domoutbox.Event { return dominv.NewReservationCommittedEvent(snap, qty) },
	)
}

// Stock is a plain read of the current counters.
func (c *Coordinator) Stock(ctx context.Context, productID int64) (*dominv.Snapshot, error) {
	led, err := c.store.Ledger(ctx, productID)
	if err != nil {
		return nil, err
	}
	snap := led.Snapshot()
	return &snap, nil
}

func (c *Coordinator) mutate(
	ctx context.Context,
	useCase string,
	productID int64,
	qty int,
	apply func(*dominv.Ledger) error,
	eventFor func(dominv.Snapshot) domoutbox.Event,
) (_ *dominv.Snapshot, err error) {
	logger := logctx.FromOr(ctx, c.log).With(
		observability.F("use_case", useCase),
		observability.F("product_id", productID),
		observability.F("quantity", qty),
	)

	ctx, span := c.tracer.Start(ctx, spanPrefix+"Reservation",
		attribute.String("use_case", useCase),
		attribute.Int64("product.id", productID),
		attribute.Int("quantity", qty),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"

	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, statusText)
		} else {
			span.SetStatus(codes.Ok, statusText)
		}
		span.End()

		latency := time.Since(start).Seconds()
		c.reqCounter.Add(1,
			observability.L("use_case", useCase),
			observability.L("outcome", outcome),
		)
		c.durHistogram.Observe(latency,
			observability.L("use_case", useCase),
		)

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", statusText),
			observability.F("latency_seconds", latency),
		}
		if err != nil {
			fields = append(fields, observability.F("error", err.Error()))
		}
		logger.Info("use_case_done", fields...)
	}()

	if qty <= 0 {
		outcome, statusText = "error", "INVALID_QUANTITY"
		return nil, dominv.ErrInvalidQuantity
	}

	held, lerr := c.locks.Acquire(ctx, lock.Key(productID), c.waitTimeout, c.holdTimeout)
	if lerr != nil {
		c.lockCounter.Add(1, observability.L("outcome", "timeout"))
		outcome, statusText = "error", "LOCK_TIMEOUT"
		return nil, fmt.Errorf("reservation: %w: %s", dominv.ErrLockNotAcquired, lerr)
	}
	c.lockCounter.Add(1, observability.L("outcome", "acquired"))
	defer func() {
		if rerr := held.Release(context.WithoutCancel(ctx)); rerr != nil {
			logger.Error("lock_release_failed", observability.F("error", rerr.Error()))
		}
	}()

	tx, terr := c.store.Begin(ctx)
	if terr != nil {
		outcome, statusText = "error", "TX_BEGIN_FAILED"
		return nil, fmt.Errorf("reservation: begin tx: %w", terr)
	}
	defer func() { _ = tx.Rollback() }()

	led, gerr := tx.LedgerForUpdate(ctx, productID)
	if gerr != nil {
		if errors.Is(gerr, dominv.ErrProductNotFound) {
			outcome, statusText = "error", "PRODUCT_NOT_FOUND"
			return nil, gerr
		}
		outcome, statusText = "error", "LEDGER_LOAD_FAILED"
		return nil, fmt.Errorf("reservation: load ledger: %w", gerr)
	}

	if aerr := apply(led); aerr != nil {
		var inv *dominv.InvariantError
		if errors.As(aerr, &inv) {
			c.invCounter.Add(1)
			outcome, statusText = "error", "INVARIANT_VIOLATION"
			logger.Error("ledger_invariant_violation", observability.F("error", aerr.Error()))
		} else {
			outcome, statusText = "error", "MUTATION_REJECTED"
		}
		return nil, aerr
	}

	if serr := tx.SaveLedger(ctx, led); serr != nil {
		outcome, statusText = "error", "LEDGER_SAVE_FAILED"
		return nil, fmt.Errorf("reservation: save ledger: %w", serr)
	}
	if cerr := tx.Commit(); cerr != nil {
		outcome, statusText = "error", "TX_COMMIT_FAILED"
		return nil, fmt.Errorf("reservation: commit: %w", cerr)
	}

	snap := led.Snapshot()
	c.publish(ctx, eventFor(snap))
	return &snap, nil
}

func (c *Coordinator) publish(ctx context.Context, event domoutbox.Event) {
	if c.publisher == nil || event == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := c.publisher.Publish(pubCtx, event); err != nil {
		logctx.FromOr(ctx, c.log).Warn("event_publish_failed",
			observability.F("event", event.EventName()),
			observability.F("error", err.Error()),
		)
	}
}
