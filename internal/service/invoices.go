package service

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/integration-relay/internal/backoff"
	"github.com/example/integration-relay/internal/models"
	"github.com/example/integration-relay/internal/relay"
)

// InvoicePersister is the storage sink for processed invoices.
type InvoicePersister interface {
	Add(invoice models.Invoice) error
}

// InvoicesConfig tunes the persistence retry loop.
type InvoicesConfig struct {
	RetryBase time.Duration
	RetryMax  time.Duration
}

// Invoices is the domain handler for the invoice flow.
type Invoices struct {
	store  InvoicePersister
	cfg    InvoicesConfig
	logger zerolog.Logger
	now    func() time.Time
}

// NewInvoices constructs the invoice handler.
func NewInvoices(store InvoicePersister, cfg InvoicesConfig, logger zerolog.Logger) (*Invoices, error) {
	if store == nil {
		return nil, errors.New("service: invoice store dependency is required")
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 5 * time.Second
	}
	if cfg.RetryMax < cfg.RetryBase {
		cfg.RetryMax = cfg.RetryBase
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &Invoices{
		store:  store,
		cfg:    cfg,
		logger: logger.With().Str("component", "invoice_service").Logger(),
		now:    time.Now,
	}, nil
}

// Process decodes and persists one invoice, returning the enriched payload.
func (s *Invoices) Process(ctx context.Context, evt *models.Event, del relay.Delivery) (json.RawMessage, error) {
	var invoice models.Invoice
	if err := json.Unmarshal(evt.Payload, &invoice); err != nil {
		return nil, relay.WrapValidation(err)
	}
	if invoice.InvoiceNumber == "" {
		return nil, relay.Validationf("invoice %s has no invoiceNumber", evt.ID)
	}

	processedAt := s.now().UTC()
	invoice.ProcessedAt = &processedAt
	invoice.ProcessingStatus = StatusProcessed
	invoice.KafkaTopic = del.Topic
	invoice.KafkaPartition = del.Partition
	invoice.KafkaOffset = del.Offset
	if !del.Timestamp.IsZero() {
		ts := del.Timestamp.UTC()
		invoice.KafkaTimestamp = &ts
	}

	onRetry := func(attempt int, wait time.Duration, err error) {
		s.logger.Warn().
			Str("invoice_number", invoice.InvoiceNumber).
			Int("attempt", attempt).
			Dur("wait", wait).
			Err(err).
			Msg("invoice persistence failed, retrying")
	}
	if err := backoff.Run(ctx, s.cfg.RetryBase, s.cfg.RetryMax, onRetry, func() error {
		return s.store.Add(invoice)
	}); err != nil {
		return nil, err
	}

	enriched, err := json.Marshal(invoice)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("invoice_number", invoice.InvoiceNumber).
		Str("event_id", evt.ID).
		Msg("invoice persisted")
	return enriched, nil
}
