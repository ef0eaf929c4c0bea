package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/example/integration-relay/internal/models"
	"github.com/example/integration-relay/internal/relay"
	"github.com/example/integration-relay/internal/service"
)

type orderStoreStub struct {
	failures int
	orders   []models.Order
}

func (s *orderStoreStub) Add(order models.Order) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("storage unavailable")
	}
	s.orders = append(s.orders, order)
	return nil
}

type invoiceStoreStub struct {
	invoices []models.Invoice
}

func (s *invoiceStoreStub) Add(invoice models.Invoice) error {
	s.invoices = append(s.invoices, invoice)
	return nil
}

func orderEvent(t *testing.T, order models.Order) *models.Event {
	t.Helper()
	payload, err := json.Marshal(order)
	require.NoError(t, err)
	evt := models.NewEvent("ORDER_RECEIVED", "SYSTEM_A", "SYSTEM_B", payload)
	return evt
}

func delivery() relay.Delivery {
	return relay.Delivery{
		Topic:     "integrador.pedido.recebido",
		Partition: 2,
		Offset:    41,
		Timestamp: time.Unix(100, 0).UTC(),
	}
}

func TestOrdersProcessPersistsAndEnriches(t *testing.T) {
	store := &orderStoreStub{}
	svc, err := service.NewOrders(store, service.OrdersConfig{RetryBase: time.Millisecond, RetryMax: time.Millisecond}, zerolog.Nop())
	require.NoError(t, err)

	evt := orderEvent(t, models.Order{OrderNumber: "PED-10", Customer: "ACME", Quantity: 3})
	enriched, err := svc.Process(context.Background(), evt, delivery())
	require.NoError(t, err)

	require.Len(t, store.orders, 1)
	stored := store.orders[0]
	require.Equal(t, "PED-10", stored.OrderNumber)
	require.Equal(t, service.StatusProcessed, stored.ProcessingStatus)
	require.NotNil(t, stored.ProcessedAt)
	require.Equal(t, "integrador.pedido.recebido", stored.KafkaTopic)
	require.Equal(t, int32(2), stored.KafkaPartition)
	require.Equal(t, int64(41), stored.KafkaOffset)
	require.NotNil(t, stored.KafkaTimestamp)

	var out models.Order
	require.NoError(t, json.Unmarshal(enriched, &out))
	require.Equal(t, service.StatusProcessed, out.ProcessingStatus)
	require.Equal(t, int64(41), out.KafkaOffset)
}

func TestOrdersProcessRejectsBlankOrderNumber(t *testing.T) {
	store := &orderStoreStub{}
	svc, err := service.NewOrders(store, service.OrdersConfig{}, zerolog.Nop())
	require.NoError(t, err)

	evt := orderEvent(t, models.Order{Customer: "ACME"})
	_, err = svc.Process(context.Background(), evt, delivery())
	require.ErrorIs(t, err, relay.ErrValidation)
	require.Empty(t, store.orders)
}

func TestOrdersProcessRejectsMalformedPayload(t *testing.T) {
	svc, err := service.NewOrders(&orderStoreStub{}, service.OrdersConfig{}, zerolog.Nop())
	require.NoError(t, err)

	evt := models.NewEvent("ORDER_RECEIVED", "SYSTEM_A", "SYSTEM_B", json.RawMessage(`{broken`))
	_, err = svc.Process(context.Background(), evt, delivery())
	require.ErrorIs(t, err, relay.ErrValidation)
}

func TestOrdersProcessRetriesPersistence(t *testing.T) {
	store := &orderStoreStub{failures: 1}
	svc, err := service.NewOrders(store, service.OrdersConfig{RetryBase: time.Millisecond, RetryMax: time.Millisecond}, zerolog.Nop())
	require.NoError(t, err)

	evt := orderEvent(t, models.Order{OrderNumber: "PED-10"})
	_, err = svc.Process(context.Background(), evt, delivery())
	require.NoError(t, err)
	require.Len(t, store.orders, 1)
}

func TestOrdersProcessAbortsWhenContextCanceled(t *testing.T) {
	store := &orderStoreStub{failures: 100}
	svc, err := service.NewOrders(store, service.OrdersConfig{RetryBase: time.Millisecond, RetryMax: time.Millisecond}, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	evt := orderEvent(t, models.Order{OrderNumber: "PED-10"})
	_, err = svc.Process(ctx, evt, delivery())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotErrorIs(t, err, relay.ErrValidation)
}

func TestInvoicesProcessPersistsAndEnriches(t *testing.T) {
	store := &invoiceStoreStub{}
	svc, err := service.NewInvoices(store, service.InvoicesConfig{RetryBase: time.Millisecond, RetryMax: time.Millisecond}, zerolog.Nop())
	require.NoError(t, err)

	payload, err := json.Marshal(models.Invoice{InvoiceNumber: "NF-7", OrderNumber: "PED-10"})
	require.NoError(t, err)
	evt := models.NewEvent("INVOICE_RECEIVED", "SYSTEM_A", "SYSTEM_B", payload)

	enriched, err := svc.Process(context.Background(), evt, delivery())
	require.NoError(t, err)
	require.Len(t, store.invoices, 1)
	require.Equal(t, service.StatusProcessed, store.invoices[0].ProcessingStatus)

	var out models.Invoice
	require.NoError(t, json.Unmarshal(enriched, &out))
	require.Equal(t, "NF-7", out.InvoiceNumber)
}

func TestInvoicesProcessRejectsBlankInvoiceNumber(t *testing.T) {
	svc, err := service.NewInvoices(&invoiceStoreStub{}, service.InvoicesConfig{}, zerolog.Nop())
	require.NoError(t, err)

	payload, err := json.Marshal(models.Invoice{OrderNumber: "PED-10"})
	require.NoError(t, err)
	evt := models.NewEvent("INVOICE_RECEIVED", "SYSTEM_A", "SYSTEM_B", payload)

	_, err = svc.Process(context.Background(), evt, delivery())
	require.ErrorIs(t, err, relay.ErrValidation)
}
