package httppresentation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/minishop-io/inventory-engine/internal/application/inbound"
	"github.com/minishop-io/inventory-engine/internal/application/reservation"
	domaincatalog "github.com/minishop-io/inventory-engine/internal/domain/catalog"
	domaininv "github.com/minishop-io/inventory-engine/internal/domain/inventory"
	"github.com/minishop-io/inventory-engine/internal/observability"
	"github.com/minishop-io/inventory-engine/internal/observability/logctx"
)

type Handler struct {
	ingestion   *inbound.ConfirmStockUseCase
	coordinator *reservation.Coordinator
	catalog     domaincatalog.Catalog
	store       domaininv.Store
	log         observability.Logger
	tel         observability.Observability
}

const (
	componentHTTPHandler = "http_server"
	headerRequestID      = "X-Request-ID"
)

func NewHandler(
	ingestion *inbound.ConfirmStockUseCase,
	coordinator *reservation.Coordinator,
	cat domaincatalog.Catalog,
	store domaininv.Store,
	tel observability.Observability,
) *Handler {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Handler{
		ingestion:   ingestion,
		coordinator: coordinator,
		catalog:     cat,
		store:       store,
		log:         tel.Logger().With(observability.F("component", componentHTTPHandler)),
		tel:         tel,
	}
}

func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	h.muxHandle(mux, http.MethodPost, "/inventory/inbound", h.handleConfirmation(inbound.TypeReceipt))
	h.muxHandle(mux, http.MethodPost, "/inventory/outbound/confirm", h.handleConfirmation(inbound.TypeOutboundConfirmed))
	h.muxHandle(mux, http.MethodPost, "/inventory/outbound/cancel", h.handleConfirmation(inbound.TypeOutboundCanceled))
	h.muxHandle(mux, http.MethodPost, "/inventory/reserve", h.handleReservation(h.coordinator.Reserve))
	h.muxHandle(mux, http.MethodPost, "/inventory/release", h.handleReservation(h.coordinator.Release))
	h.muxHandle(mux, http.MethodPost, "/inventory/commit", h.handleReservation(h.coordinator.Commit))
	h.muxHandle(mux, http.MethodGet, "/inventory/stock", h.handleStock)
	h.muxHandle(mux, http.MethodPost, "/products", h.handleRegisterProduct)
	h.muxHandle(mux, http.MethodPost, "/products/retire", h.handleRetireProduct)
	h.muxHandle(mux, http.MethodDelete, "/products/remove", h.handleRemoveProduct)
	h.muxHandle(mux, http.MethodGet, "/health", h.handleHealth)

	return mux
}

func (h *Handler) muxHandle(mux *http.ServeMux, method, route string, handler http.HandlerFunc) {
	// The method guard sits inside the chain so rejected methods still show
	// up in the access log and request metrics.
	guarded := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		handler(w, r)
	})

	wrapped := h.withTrace(
		ObservabilityMiddleware(
			h.log,
			func(r *http.Request) string { return r.Header.Get(headerRequestID) },
			h.tel,
		)(
			h.withAccessLog(
				h.withHTTPMetrics(guarded),
			),
		),
	)

	mux.HandleFunc(route, func(w http.ResponseWriter, r *http.Request) {
		// Stable route template for low-cardinality labels downstream.
		r = r.WithContext(contextWithRoute(r.Context(), route))
		wrapped.ServeHTTP(w, r)
	})
}

type confirmationRequest struct {
	EventID   string `json:"event_id"`
	ProductID int64  `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type confirmationResponse struct {
	EventID     string    `json:"event_id"`
	ProductID   int64     `json:"product_id"`
	Quantity    int       `json:"quantity"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

func (h *Handler) handleConfirmation(eventType inbound.EventType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req confirmationRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		result, err := h.ingestion.Execute(r.Context(), inbound.Confirmation{
			EventID:   req.EventID,
			ProductID: req.ProductID,
			Quantity:  req.Quantity,
			Type:      eventType,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, confirmationResponse{
			EventID:     result.EventID,
			ProductID:   result.ProductID,
			Quantity:    result.Quantity,
			ConfirmedAt: result.ConfirmedAt,
		})
	}
}

type reservationRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type ledgerResponse struct {
	ProductID          int64     `json:"product_id"`
	PhysicalTotal      int       `json:"physical_stock_total"`
	Reserved           int       `json:"reserved"`
	OutboundProcessing int       `json:"outbound_processing"`
	Available          int       `json:"available"`
	InStock            bool      `json:"in_stock"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func (h *Handler) handleReservation(op func(context.Context, int64, int) (*domaininv.Snapshot, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req reservationRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		snap, err := op(r.Context(), req.ProductID, req.Quantity)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toLedgerResponse(snap))
	}
}

func (h *Handler) handleStock(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(r.URL.Query().Get("product_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("product_id must be an integer"))
		return
	}

	snap, err := h.coordinator.Stock(r.Context(), productID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toLedgerResponse(snap))
}

type registerProductRequest struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
}

type registerProductResponse struct {
	ProductID int64 `json:"product_id"`
	Available int   `json:"available"`
}

// handleRegisterProduct mirrors the catalog's product-created hook: register
// the product and create its zeroed ledger.
func (h *Handler) handleRegisterProduct(w http.ResponseWriter, r *http.Request) {
	var req registerProductRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.catalog.Register(r.Context(), &domaincatalog.Product{ID: req.ProductID, Name: req.Name}); err != nil {
		writeDomainError(w, err)
		return
	}

	led, err := h.store.CreateLedger(r.Context(), req.ProductID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, registerProductResponse{
		ProductID: led.ProductID,
		Available: led.Available,
	})
}

// handleRetireProduct stops a product accepting new stock movements. Its
// ledger stays; in-flight reservations drain through release or commit.
func (h *Handler) handleRetireProduct(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(r.URL.Query().Get("product_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("product_id must be an integer"))
		return
	}

	if err := h.catalog.Retire(r.Context(), productID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRemoveProduct mirrors the permanent-removal hook: drop the product
// and its ledger together.
func (h *Handler) handleRemoveProduct(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(r.URL.Query().Get("product_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("product_id must be an integer"))
		return
	}

	if err := h.catalog.Remove(r.Context(), productID); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := h.store.DeleteLedger(r.Context(), productID); err != nil {
		writeDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func toLedgerResponse(snap *domaininv.Snapshot) ledgerResponse {
	return ledgerResponse{
		ProductID:          snap.ProductID,
		PhysicalTotal:      snap.PhysicalTotal,
		Reserved:           snap.Reserved,
		OutboundProcessing: snap.OutboundProcessing,
		Available:          snap.Available,
		InStock:            snap.Available > 0,
		UpdatedAt:          snap.UpdatedAt,
	}
}

// withAccessLog writes a single access log after the handler completes.
// It relies on the request-scoped logger already injected by ObservabilityMiddleware.
func (h *Handler) withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(lrw, r)

		logctx.FromOr(r.Context(), h.log).Info("http_access",
			observability.F("method", r.Method),
			observability.F("route", routeFromContext(r.Context())),
			observability.F("path", r.URL.Path),
			observability.F("status", lrw.status),
			observability.F("latency_ms", time.Since(start).Milliseconds()),
		)
	})
}

// withTrace creates a server span for the request using OTel and W3C propagation.
func (h *Handler) withTrace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tracer := otel.Tracer("inventory-engine.http")
		parentCtx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		route := routeFromContext(parentCtx)
		spanName := route
		if spanName == "unknown" {
			spanName = r.Method + " " + r.URL.Path
		}

		ctxWithSpan, span := tracer.Start(parentCtx,
			spanName,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", route),
				attribute.String("http.target", r.URL.Path),
				attribute.String("http.user_agent", r.UserAgent()),
			),
		)
		defer span.End()

		next.ServeHTTP(w, r.WithContext(ctxWithSpan))
	})
}

// withHTTPMetrics records RED-ish HTTP metrics using injected vectors.
func (h *Handler) withHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(lrw, r)

		metrics := h.tel.Metrics()
		metrics.Counter(observability.MHTTPRequests).Add(1,
			observability.L("method", r.Method),
			observability.L("route", routeFromContext(r.Context())),
			observability.L("status", strconv.Itoa(lrw.status)),
		)
		metrics.Histogram(observability.MHTTPRequestDuration).Observe(time.Since(start).Seconds(),
			observability.L("method", r.Method),
			observability.L("route", routeFromContext(r.Context())),
			observability.L("status", strconv.Itoa(lrw.status)),
		)
	})
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeDomainError maps error categories to status codes. Contention (409)
// means "retry with backoff"; conflict (422) means the requested transition
// was rejected against current counters and retrying unchanged will not help.
func writeDomainError(w http.ResponseWriter, err error) {
	switch domaininv.Categorize(err) {
	case domaininv.CategoryValidation:
		writeError(w, http.StatusBadRequest, err)
	case domaininv.CategoryNotFound:
		writeError(w, http.StatusNotFound, err)
	case domaininv.CategoryContention:
		writeError(w, http.StatusConflict, err)
	case domaininv.CategoryConflict:
		writeError(w, http.StatusUnprocessableEntity, err)
	default:
		if errors.Is(err, domaincatalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
	}
}

type routeKey struct{}

// contextWithRoute stores the stable route template in the context so downstream
// metrics/logging can rely on low-cardinality values.
func contextWithRoute(ctx context.Context, route string) context.Context {
	if route == "" {
		return ctx
	}
	return context.WithValue(ctx, routeKey{}, route)
}

func routeFromContext(ctx context.Context) string {
	if ctx == nil {
		return "unknown"
	}
	if route, ok := ctx.Value(routeKey{}).(string); ok && route != "" {
		return route
	}
	return "unknown"
}
