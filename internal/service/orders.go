// Package service implements the business side of the relay: decode the
// envelope payload, validate the business key, persist the record and enrich
// it with delivery metadata before it is forwarded downstream.
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

// StatusProcessed marks records that completed the relay pipeline.
const StatusProcessed = "PROCESSED"

// OrderPersister is the storage sink for processed orders.
type OrderPersister interface {
	Add(order models.Order) error
}

// OrdersConfig tunes the persistence retry loop.
type OrdersConfig struct {
	RetryBase time.Duration
	RetryMax  time.Duration
}

// Orders is the domain handler for the order flow.
type Orders struct {
	store  OrderPersister
	cfg    OrdersConfig
	logger zerolog.Logger
	now    func() time.Time
}

// NewOrders constructs the order handler. The store is required; retry
// durations fall back to sane defaults when unset.
func NewOrders(store OrderPersister, cfg OrdersConfig, logger zerolog.Logger) (*Orders, error) {
	if store == nil {
		return nil, errors.New("service: order store dependency is required")
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
	return &Orders{
		store:  store,
		cfg:    cfg,
		logger: logger.With().Str("component", "order_service").Logger(),
		now:    time.Now,
	}, nil
}

// Process decodes and persists one order, returning the enriched payload.
func (s *Orders) Process(ctx context.Context, evt *models.Event, del relay.Delivery) (json.RawMessage, error) {
	var order models.Order
	if err := json.Unmarshal(evt.Payload, &order); err != nil {
		return nil, relay.WrapValidation(err)
	}
	if order.OrderNumber == "" {
		return nil, relay.Validationf("order %s has no orderNumber", evt.ID)
	}

	processedAt := s.now().UTC()
	order.ProcessedAt = &processedAt
	order.ProcessingStatus = StatusProcessed
	order.KafkaTopic = del.Topic
	order.KafkaPartition = del.Partition
	order.KafkaOffset = del.Offset
	if !del.Timestamp.IsZero() {
		ts := del.Timestamp.UTC()
		order.KafkaTimestamp = &ts
	}

	onRetry := func(attempt int, wait time.Duration, err error) {
		s.logger.Warn().
			Str("order_number", order.OrderNumber).
			Int("attempt", attempt).
			Dur("wait", wait).
			Err(err).
			Msg("order persistence failed, retrying")
	}
	if err := backoff.Run(ctx, s.cfg.RetryBase, s.cfg.RetryMax, onRetry, func() error {
		return s.store.Add(order)
	}); err != nil {
		return nil, err
	}

	enriched, err := json.Marshal(order)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("order_number", order.OrderNumber).
		Str("event_id", evt.ID).
		Msg("order persisted")
	return enriched, nil
}
