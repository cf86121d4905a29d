package httppresentation

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minishop-io/inventory-engine/internal/application/inbound"
	"github.com/minishop-io/inventory-engine/internal/application/reservation"
	"github.com/minishop-io/inventory-engine/internal/domain/catalog"
	"github.com/minishop-io/inventory-engine/internal/infrastructure/lock"
	"github.com/minishop-io/inventory-engine/internal/infrastructure/memory"
	"github.com/minishop-io/inventory-engine/internal/observability"
)

type recordingTel struct {
	metrics *recordingMetrics
}

func (t recordingTel) Tracer() observability.Tracer   { return observability.NopTracer() }
func (t recordingTel) Logger() observability.Logger   { return observability.NopLogger() }
func (t recordingTel) Metrics() observability.Metrics { return t.metrics }

type recordingMetrics struct {
	mu       sync.Mutex
	counters map[observability.MetricKey]*recordingCounter
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{counters: make(map[observability.MetricKey]*recordingCounter)}
}

func (m *recordingMetrics) Counter(name observability.MetricKey) observability.Counter {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.counters[name]
	if !ok {
		c = &recordingCounter{}
		m.counters[name] = c
	}
	return c
}

func (m *recordingMetrics) Histogram(observability.MetricKey) observability.Histogram {
	return observability.NopHistogram()
}

func (m *recordingMetrics) counterSamples(name observability.MetricKey) []map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.counters[name]
	if !ok {
		return nil
	}
	return c.snapshot()
}

type recordingCounter struct {
	mu      sync.Mutex
	samples []map[string]string
}

func (c *recordingCounter) Add(_ float64, labels ...observability.Label) {
	sample := make(map[string]string, len(labels))
	for _, l := range labels {
		sample[l.Key] = l.Value
	}
	c.mu.Lock()
	c.samples = append(c.samples, sample)
	c.mu.Unlock()
}

func (c *recordingCounter) Bind(labels ...observability.Label) observability.BoundCounter {
	return &recordingBoundCounter{c: c, labels: labels}
}

func (c *recordingCounter) snapshot() []map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]map[string]string(nil), c.samples...)
}

type recordingBoundCounter struct {
	c      *recordingCounter
	labels []observability.Label
}

func (b *recordingBoundCounter) Add(d float64) { b.c.Add(d, b.labels...) }

func newTestServer(t *testing.T) (*httptest.Server, *memory.Store) {
	srv, store := newTestServerWithTel(t, nil)
	return srv, store
}

func newTestServerWithTel(t *testing.T, tel observability.Observability) (*httptest.Server, *memory.Store) {
	t.Helper()

	store := memory.NewStore()
	cat := memory.NewCatalog()
	locks := lock.NewMemoryCoordinator()

	ingestion := inbound.NewConfirmStockUseCase(store, cat, locks, nil, time.Second, time.Minute, tel)
	coordinator := reservation.NewCoordinator(store, locks, nil, time.Second, time.Minute, tel)

	handler := NewHandler(ingestion, coordinator, cat, store, tel)
	srv := httptest.NewServer(handler.Router())
	t.Cleanup(srv.Close)

	require.NoError(t, cat.Register(context.Background(), &catalog.Product{ID: 1, Name: "widget"}))
	_, err := store.CreateLedger(context.Background(), 1)
	require.NoError(t, err)

	return srv, store
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}

func TestInboundEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/inventory/inbound", map[string]any{
		"event_id": "evt-1", "product_id": 1, "quantity": 10,
	})

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body confirmationResponse
	decodeBody(t, resp, &body)
	assert.Equal(t, "evt-1", body.EventID)
	assert.Equal(t, int64(1), body.ProductID)
	assert.Equal(t, 10, body.Quantity)
}

func TestReserveAndStockEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/inventory/inbound", map[string]any{
		"event_id": "evt-1", "product_id": 1, "quantity": 10,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/inventory/reserve", map[string]any{
		"product_id": 1, "quantity": 4,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var reserved ledgerResponse
	decodeBody(t, resp, &reserved)
	assert.Equal(t, 4, reserved.Reserved)
	assert.Equal(t, 6, reserved.Available)

	stockResp, err := http.Get(srv.URL + "/inventory/stock?product_id=1")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, stockResp.StatusCode)
	var stock ledgerResponse
	decodeBody(t, stockResp, &stock)
	assert.Equal(t, 6, stock.Available)
	assert.True(t, stock.InStock)
}

func TestValidationReturnsBadRequest(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/inventory/inbound", map[string]any{
		"event_id": "", "product_id": 1, "quantity": 10,
	})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUnknownProductReturnsNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/inventory/inbound", map[string]any{
		"event_id": "evt-1", "product_id": 99, "quantity": 10,
	})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestInsufficientStockReturnsUnprocessable(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/inventory/reserve", map[string]any{
		"product_id": 1, "quantity": 5,
	})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/inventory/inbound")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestMethodNotAllowedIsMeasured(t *testing.T) {
	metrics := newRecordingMetrics()
	srv, _ := newTestServerWithTel(t, recordingTel{metrics: metrics})

	resp, err := http.Get(srv.URL + "/inventory/inbound")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	samples := metrics.counterSamples(observability.MHTTPRequests)
	require.Len(t, samples, 1)
	assert.Equal(t, "405", samples[0]["status"])
	assert.Equal(t, "/inventory/inbound", samples[0]["route"])
	assert.Equal(t, http.MethodGet, samples[0]["method"])
}

func TestProductLifecycleEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/products", map[string]any{
		"product_id": 2, "name": "gadget",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created registerProductResponse
	decodeBody(t, resp, &created)
	assert.Equal(t, int64(2), created.ProductID)
	assert.Equal(t, 0, created.Available)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/products/remove?product_id=2", nil)
	require.NoError(t, err)
	delResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer delResp.Body.Close()
	assert.Equal(t, http.StatusNoContent, delResp.StatusCode)

	stockResp, err := http.Get(srv.URL + "/inventory/stock?product_id=2")
	require.NoError(t, err)
	defer stockResp.Body.Close()
	assert.Equal(t, http.StatusNotFound, stockResp.StatusCode)
}

func TestRetiredProductRejectsInbound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/products/retire?product_id=1", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/inventory/inbound", map[string]any{
		"event_id": "evt-1", "product_id": 1, "quantity": 10,
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRequestIDEchoed(t *testing.T) {
	srv, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/inventory/stock?product_id=1", nil)
	require.NoError(t, err)
	req.Header.Set(headerRequestID, "req-42")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "req-42", resp.Header.Get(headerRequestID))
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
