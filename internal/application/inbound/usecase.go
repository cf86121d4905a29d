package inbound

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/minishop-io/inventory-engine/internal/application"
	"github.com/minishop-io/inventory-engine/internal/domain/catalog"
	dominv "github.com/minishop-io/inventory-engine/internal/domain/inventory"
	domoutbox "github.com/minishop-io/inventory-engine/internal/domain/outbox"
	"github.com/minishop-io/inventory-engine/internal/infrastructure/lock"
	"github.com/minishop-io/inventory-engine/internal/observability"
	"github.com/minishop-io/inventory-engine/internal/observability/logctx"
)

const (
	ingestionService = "inbound-ingestion"
	spanPrefix       = "UC."
	publishPeer      = "outbox"
	publishTimeout   = 300 * time.Millisecond
)

// EventType distinguishes the warehouse confirmations this pipeline ingests.
type EventType string

const (
	TypeReceipt           EventType = "receipt"
	TypeOutboundConfirmed EventType = "outbound_confirmed"
	TypeOutboundCanceled  EventType = "outbound_canceled"
)

// Confirmation is one warehouse-confirmed stock movement. EventID is the
// caller-supplied idempotency key; redelivery of the same id is a success
// no-op.
type Confirmation struct {
	EventID   string
	ProductID int64
	Quantity  int
	Type      EventType
}

// Result is returned for fresh applications and replays alike.
type Result struct {
	EventID     string
	ProductID   int64
	Quantity    int
	ConfirmedAt time.Time
	Replayed    bool
}

// ConfirmStockUseCase ingests warehouse events: validate, resolve product,
// dedup, lock, mutate, persist. The dedup marker and the ledger mutation
// commit in one transaction; a crash between them can therefore never
// produce a delivered-but-lost event.
type ConfirmStockUseCase struct {
	store        dominv.Store
	catalog      catalog.Catalog
	locks        lock.Coordinator
	publisher    domoutbox.Publisher
	waitTimeout  time.Duration
	holdTimeout  time.Duration
	log          observability.Logger
	tracer       observability.Tracer
	reqCounter   observability.Counter
	durHistogram observability.Histogram
	extCounter   observability.Counter
	extHistogram observability.Histogram
	lockCounter  observability.Counter
	invCounter   observability.Counter
}

var _ application.UseCase[Confirmation, *Result] = (*ConfirmStockUseCase)(nil)

func NewConfirmStockUseCase(
	store dominv.Store,
	cat catalog.Catalog,
	locks lock.Coordinator,
	publisher domoutbox.Publisher,
	waitTimeout, holdTimeout time.Duration,
	tel observability.Observability,
) *ConfirmStockUseCase {
	if tel == nil {
		tel = observability.Nop()
	}
	metrics := tel.Metrics()
	return &ConfirmStockUseCase{
		store:        store,
		catalog:      cat,
		locks:        locks,
		publisher:    publisher,
		waitTimeout:  waitTimeout,
		holdTimeout:  holdTimeout,
		log:          tel.Logger().With(observability.F("service", ingestionService)),
		tracer:       tel.Tracer(),
		reqCounter:   metrics.Counter(observability.MUsecaseRequests),
		durHistogram: metrics.Histogram(observability.MUsecaseDuration),
		extCounter:   metrics.Counter(observability.MExternalRequests),
		extHistogram: metrics.Histogram(observability.MExternalRequestDuration),
		lockCounter:  metrics.Counter(observability.MLockAcquisitions),
		invCounter:   metrics.Counter(observability.MInvariantViolations),
	}
}

// Execute runs the ingestion pipeline for one confirmation.
func (uc *ConfirmStockUseCase) Execute(ctx context.Context, cmd Confirmation) (_ *Result, err error) {
	useCase := "inventory.ingest." + string(cmd.Type)
	logger := logctx.FromOr(ctx, uc.log).With(
		observability.F("use_case", useCase),
		observability.F("event_id", cmd.EventID),
		observability.F("product_id", cmd.ProductID),
		observability.F("quantity", cmd.Quantity),
	)

	ctx, span := uc.tracer.Start(ctx, spanPrefix+"ConfirmStock",
		attribute.String("use_case", useCase),
		attribute.String("event.id", cmd.EventID),
		attribute.Int64("product.id", cmd.ProductID),
		attribute.Int("event.quantity", cmd.Quantity),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"
	replayed := false

	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, statusText)
		} else {
			span.SetStatus(codes.Ok, statusText)
		}
		span.End()

		latency := time.Since(start).Seconds()
		uc.reqCounter.Add(1,
			observability.L("use_case", useCase),
			observability.L("outcome", outcome),
		)
		uc.durHistogram.Observe(latency,
			observability.L("use_case", useCase),
		)

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", statusText),
			observability.F("latency_seconds", latency),
			observability.F("replayed", replayed),
		}
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			fields = append(fields,
				observability.F("trace_id", sc.TraceID().String()),
				observability.F("span_id", sc.SpanID().String()),
			)
		}
		if err != nil {
			fields = append(fields, observability.F("error", err.Error()))
		}
		logger.Info("use_case_done", fields...)
	}()

	if cmd.EventID == "" {
		outcome, statusText = "error", "INVALID_EVENT_ID"
		return nil, dominv.ErrInvalidEventID
	}
	if cmd.Quantity <= 0 {
		outcome, statusText = "error", "INVALID_QUANTITY"
		return nil, dominv.ErrInvalidQuantity
	}

	product, perr := uc.catalog.Product(ctx, cmd.ProductID)
	if perr != nil {
		if errors.Is(perr, catalog.ErrNotFound) {
			outcome, statusText = "error", "PRODUCT_NOT_FOUND"
			return nil, dominv.ErrProductNotFound
		}
		outcome, statusText = "error", "CATALOG_LOOKUP_FAILED"
		return nil, fmt.Errorf("inbound: resolve product: %w", perr)
	}
	if product.Retired {
		outcome, statusText = "error", "PRODUCT_RETIRED"
		return nil, dominv.ErrProductNotFound
	}

	tx, terr := uc.store.Begin(ctx)
	if terr != nil {
		outcome, statusText = "error", "TX_BEGIN_FAILED"
		return nil, fmt.Errorf("inbound: begin tx: %w", terr)
	}
	defer func() { _ = tx.Rollback() }()

	inserted, derr := tx.MarkEventProcessed(ctx, cmd.EventID)
	if derr != nil {
		outcome, statusText = "error", "DEDUP_FAILED"
		return nil, fmt.Errorf("inbound: mark processed: %w", derr)
	}
	if !inserted {
		// Idempotent replay: the event was already applied. Same success
		// response, no ledger access.
		replayed = true
		statusText = "REPLAY"
		return uc.result(cmd, true), nil
	}

	// Lock failure rolls the marker back with the tx, so a retry is not
	// mistaken for a replay.
	held, lerr := uc.locks.Acquire(ctx, lock.Key(cmd.ProductID), uc.waitTimeout, uc.holdTimeout)
	if lerr != nil {
		uc.lockCounter.Add(1, observability.L("outcome", "timeout"))
		outcome, statusText = "error", "LOCK_TIMEOUT"
		return nil, fmt.Errorf("inbound: %w: %s", dominv.ErrLockNotAcquired, lerr)
	}
	uc.lockCounter.Add(1, observability.L("outcome", "acquired"))
	defer func() {
		if rerr := held.Release(context.WithoutCancel(ctx)); rerr != nil {
			logger.Error("lock_release_failed", observability.F("error", rerr.Error()))
		}
	}()

	led, gerr := tx.LedgerForUpdate(ctx, cmd.ProductID)
	if gerr != nil {
		outcome, statusText = "error", "LEDGER_LOAD_FAILED"
		return nil, fmt.Errorf("inbound: load ledger: %w", gerr)
	}

	if merr := uc.mutate(led, cmd); merr != nil {
		var inv *dominv.InvariantError
		if errors.As(merr, &inv) {
			uc.invCounter.Add(1)
			outcome, statusText = "error", "INVARIANT_VIOLATION"
			logger.Error("ledger_invariant_violation", observability.F("error", merr.Error()))
		} else {
			outcome, statusText = "error", "MUTATION_REJECTED"
		}
		return nil, merr
	}

	if serr := tx.SaveLedger(ctx, led); serr != nil {
		outcome, statusText = "error", "LEDGER_SAVE_FAILED"
		return nil, fmt.Errorf("inbound: save ledger: %w", serr)
	}
	if cerr := tx.Commit(); cerr != nil {
		outcome, statusText = "error", "TX_COMMIT_FAILED"
		return nil, fmt.Errorf("inbound: commit: %w", cerr)
	}

	span.AddEvent("inventory.mutation_applied",
		trace.WithAttributes(
			attribute.String("event.id", cmd.EventID),
			attribute.String("available", strconv.Itoa(led.Available)),
		),
	)

	uc.publish(ctx, cmd, led.Snapshot())
	return uc.result(cmd, false), nil
}

func (uc *ConfirmStockUseCase) mutate(led *dominv.Ledger, cmd Confirmation) error {
	switch cmd.Type {
	case TypeReceipt:
		return led.ApplyInbound(cmd.Quantity)
	case TypeOutboundConfirmed:
		return led.ApplyOutboundConfirmed(cmd.Quantity)
	case TypeOutboundCanceled:
		return led.ApplyOutboundCanceled(cmd.Quantity)
	default:
		return fmt.Errorf("inbound: unknown event type %q", cmd.Type)
	}
}

func (uc *ConfirmStockUseCase) result(cmd Confirmation, replayed bool) *Result {
	return &Result{
		EventID:     cmd.EventID,
		ProductID:   cmd.ProductID,
		Quantity:    cmd.Quantity,
		ConfirmedAt: time.Now().UTC(),
		Replayed:    replayed,
	}
}

// publish notifies observers after the mutation committed. Fire-and-forget:
// a publish failure is logged and counted but never fails the ingestion.
func (uc *ConfirmStockUseCase) publish(ctx context.Context, cmd Confirmation, snap dominv.Snapshot) {
	if uc.publisher == nil {
		return
	}

	var event domoutbox.Event
	switch cmd.Type {
	case TypeReceipt:
		event = dominv.NewStockReceivedEvent(cmd.EventID, snap, cmd.Quantity)
	case TypeOutboundConfirmed:
		event = dominv.NewOutboundConfirmedEvent(cmd.EventID, snap, cmd.Quantity)
	case TypeOutboundCanceled:
		event = dominv.NewOutboundCanceledEvent(cmd.EventID, snap, cmd.Quantity)
	default:
		return
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	start := time.Now()
	err := uc.publisher.Publish(pubCtx, event)
	outcome := "success"
	if err != nil {
		outcome = "error"
		logctx.FromOr(ctx, uc.log).Warn("event_publish_failed",
			observability.F("event", event.EventName()),
			observability.F("error", err.Error()),
		)
	}

	uc.extCounter.Add(1,
		observability.L("peer", publishPeer),
		observability.L("endpoint", event.EventName()),
		observability.L("outcome", outcome),
	)
	uc.extHistogram.Observe(time.Since(start).Seconds(),
		observability.L("peer", publishPeer),
		observability.L("endpoint", event.EventName()),
	)
}
