package ops_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/example/integration-relay/internal/failures"
	"github.com/example/integration-relay/internal/models"
	"github.com/example/integration-relay/internal/ops"
	"github.com/example/integration-relay/internal/store"
)

type publisherStub struct {
	err    error
	topics []string
}

func (p *publisherStub) Publish(_ context.Context, topic string, _ *models.Event) error {
	if p.err != nil {
		return p.err
	}
	p.topics = append(p.topics, topic)
	return nil
}

type fixture struct {
	registry *failures.Registry
	orders   *store.Orders
	invoices *store.Invoices
	handler  http.Handler
	ready    map[string]ops.ReadyFunc
}

func newFixture(t *testing.T, pub failures.Publisher) *fixture {
	t.Helper()

	registry := failures.NewRegistry(failures.Config{
		HistoryLimit: 500,
		MaxAttempts:  5,
		Cooldown:     time.Minute,
		InputTopics: map[models.EventKind]string{
			models.KindOrder:   "integrador.pedido.recebido",
			models.KindInvoice: "integrador.nota.recebido",
		},
	}, pub, zerolog.Nop(), nil)

	f := &fixture{
		registry: registry,
		orders:   store.NewOrders(10),
		invoices: store.NewInvoices(10),
		ready:    map[string]ops.ReadyFunc{"kafka": func() bool { return true }},
	}

	srv, err := ops.NewServer(0, ops.Dependencies{
		Registry: registry,
		Orders:   f.orders,
		Invoices: f.invoices,
		Logger:   zerolog.Nop(),
		Ready:    f.ready,
	})
	require.NoError(t, err)
	f.handler = srv.Handler()
	return f
}

func (f *fixture) do(t *testing.T, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func registerFailure(f *fixture, id string) *models.FailureRecord {
	evt := &models.Event{
		ID:      id,
		Type:    "ORDER_RECEIVED",
		Payload: json.RawMessage(`{"orderNumber":"PED-1"}`),
		Status:  models.EventStatusFailed,
	}
	return f.registry.Register(models.KindOrder, evt, "boom", "integrador.pedido.retry", 0, 1)
}

func TestListFailures(t *testing.T) {
	f := newFixture(t, &publisherStub{})
	registerFailure(f, "evt-1")
	registerFailure(f, "evt-2")

	rec := f.do(t, http.MethodGet, "/api/failures")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Total    int               `json:"total"`
		Returned int               `json:"returned"`
		Failures []json.RawMessage `json:"failures"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 2, body.Total)
	require.Equal(t, 2, body.Returned)
	require.Len(t, body.Failures, 2)
}

func TestListFailuresDefaultsToPendingStatus(t *testing.T) {
	f := newFixture(t, &publisherStub{})
	registerFailure(f, "evt-1")
	discarded := registerFailure(f, "evt-2")
	_, err := f.registry.Discard(discarded.ID)
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/api/failures")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Total    int                    `json:"total"`
		Returned int                    `json:"returned"`
		Failures []models.FailureRecord `json:"failures"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 2, body.Total)
	require.Equal(t, 1, body.Returned)
	require.Equal(t, models.FailureStatusPending, body.Failures[0].Status)

	rec = f.do(t, http.MethodGet, "/api/failures?status="+models.FailureStatusDiscarded)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Returned)
	require.Equal(t, models.FailureStatusDiscarded, body.Failures[0].Status)
}

func TestListFailuresDefaultsLimitToOneHundred(t *testing.T) {
	f := newFixture(t, &publisherStub{})
	for i := 0; i < 120; i++ {
		registerFailure(f, fmt.Sprintf("evt-%d", i))
	}

	rec := f.do(t, http.MethodGet, "/api/failures")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Total    int `json:"total"`
		Returned int `json:"returned"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 120, body.Total)
	require.Equal(t, 100, body.Returned)

	rec = f.do(t, http.MethodGet, "/api/failures?limit=10")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 10, body.Returned)
}

func TestListFailuresRejectsBadLimit(t *testing.T) {
	f := newFixture(t, &publisherStub{})
	rec := f.do(t, http.MethodGet, "/api/failures?limit=nope")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetFailure(t *testing.T) {
	f := newFixture(t, &publisherStub{})
	record := registerFailure(f, "evt-1")

	rec := f.do(t, http.MethodGet, "/api/failures/"+record.ID)
	require.Equal(t, http.StatusOK, rec.Code)

	var got models.FailureRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, record.ID, got.ID)

	rec = f.do(t, http.MethodGet, "/api/failures/missing")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReprocessStatusMapping(t *testing.T) {
	pub := &publisherStub{}
	f := newFixture(t, pub)
	record := registerFailure(f, "evt-1")

	rec := f.do(t, http.MethodPost, "/api/failures/"+record.ID+"/reprocess")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"integrador.pedido.recebido"}, pub.topics)

	// A reprocessed record cannot be reprocessed again until it fails anew.
	rec = f.do(t, http.MethodPost, "/api/failures/"+record.ID+"/reprocess")
	require.Equal(t, http.StatusConflict, rec.Code)

	// Failing again reopens the record, but the cooldown gate still holds.
	registerFailure(f, "evt-1")
	rec = f.do(t, http.MethodPost, "/api/failures/"+record.ID+"/reprocess")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/failures/missing/reprocess")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReprocessInvalidStateAndMissingPayload(t *testing.T) {
	f := newFixture(t, &publisherStub{})

	discarded := registerFailure(f, "evt-1")
	_, err := f.registry.Discard(discarded.ID)
	require.NoError(t, err)
	rec := f.do(t, http.MethodPost, "/api/failures/"+discarded.ID+"/reprocess")
	require.Equal(t, http.StatusConflict, rec.Code)

	empty := f.registry.Register(models.KindOrder, &models.Event{
		ID:     "evt-2",
		Type:   "ORDER_RECEIVED",
		Status: models.EventStatusFailed,
	}, "boom", "integrador.pedido.retry", 0, 2)
	rec = f.do(t, http.MethodPost, "/api/failures/"+empty.ID+"/reprocess")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestReprocessPublishErrorMapsToInternal(t *testing.T) {
	f := newFixture(t, &publisherStub{err: errors.New("broker down")})
	record := registerFailure(f, "evt-1")

	rec := f.do(t, http.MethodPost, "/api/failures/"+record.ID+"/reprocess")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestDiscard(t *testing.T) {
	f := newFixture(t, &publisherStub{})
	record := registerFailure(f, "evt-1")

	rec := f.do(t, http.MethodPost, "/api/failures/"+record.ID+"/discard")
	require.Equal(t, http.StatusOK, rec.Code)

	var got models.FailureRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, models.FailureStatusDiscarded, got.Status)

	rec = f.do(t, http.MethodPost, "/api/failures/missing/discard")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOrdersEndpoint(t *testing.T) {
	f := newFixture(t, &publisherStub{})
	require.NoError(t, f.orders.Add(models.Order{OrderNumber: "PED-7", Customer: "ACME"}))

	rec := f.do(t, http.MethodGet, "/api/orders")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Total  int            `json:"total"`
		Orders []models.Order `json:"orders"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Total)

	rec = f.do(t, http.MethodGet, "/api/orders?number=ped-7")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/orders?number=PED-404")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInvoicesEndpoint(t *testing.T) {
	f := newFixture(t, &publisherStub{})
	require.NoError(t, f.invoices.Add(models.Invoice{InvoiceNumber: "NF-1"}))

	rec := f.do(t, http.MethodGet, "/api/invoices?number=NF-1")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthAggregatesReadiness(t *testing.T) {
	f := newFixture(t, &publisherStub{})

	rec := f.do(t, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)

	f.ready["kafka"] = func() bool { return false }
	rec = f.do(t, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
