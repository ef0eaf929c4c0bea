// Package gateway provides the synchronous publish-and-confirm path to Kafka,
// wrapped with concurrency limiting, circuit breaking and bounded retry.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/example/integration-relay/internal/models"
)

// ErrPublish is the terminal error returned once every resilience policy is
// exhausted or the circuit is open. Callers must treat the publish as failed
// and must not assume persistence: there is no local outbox behind this
// gateway, which is a known gap rather than a hidden one.
var ErrPublish = errors.New("gateway: event not published")

// SyncProducer captures the subset of producer behaviour the gateway needs.
type SyncProducer interface {
	PublishSync(topic string, key []byte, headers map[string][]byte, payload []byte) error
}

// Config tunes the resilience policies, evaluated in order: bulkhead,
// circuit breaker, bounded retry.
type Config struct {
	// PublishTimeout bounds the whole publish call, including the wait for a
	// bulkhead slot.
	PublishTimeout time.Duration
	// MaxConcurrent bounds in-flight publish calls.
	MaxConcurrent int
	// MaxRetries is the number of re-attempts after the first failure.
	MaxRetries int
	// RetryBackoff is the fixed pause between attempts.
	RetryBackoff time.Duration
	// BreakerFailureRate, BreakerMinRequests and BreakerOpenFor configure
	// the circuit breaker window.
	BreakerFailureRate float64
	BreakerMinRequests int
	BreakerOpenFor     time.Duration
}

// Gateway is the single fallible publish operation used by every component
// that writes to Kafka.
type Gateway struct {
	producer SyncProducer
	cfg      Config
	sem      *semaphore.Weighted
	brk      *breaker
	logger   zerolog.Logger
}

// New constructs a Gateway around the supplied producer.
func New(producer SyncProducer, cfg Config, logger zerolog.Logger) (*Gateway, error) {
	if producer == nil {
		return nil, errors.New("gateway: producer is required")
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 10 * time.Second
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	return &Gateway{
		producer: producer,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		brk:      newBreaker(cfg.BreakerFailureRate, cfg.BreakerMinRequests, cfg.BreakerOpenFor, nil),
		logger:   logger.With().Str("component", "publisher_gateway").Logger(),
	}, nil
}

// Publish marshals the envelope and sends it to the topic, keyed by the event
// id, blocking until the broker confirms durability or the policies give up.
func (g *Gateway) Publish(ctx context.Context, topic string, evt *models.Event) error {
	if evt == nil {
		return errors.New("gateway: event is required")
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("gateway: marshal event: %w", err)
	}

	return g.PublishRaw(ctx, topic, []byte(evt.ID), payload)
}

// PublishRaw sends pre-encoded bytes through the same resilience path. Used
// when the inbound bytes never decoded into an envelope but still need to be
// dead-lettered.
func (g *Gateway) PublishRaw(ctx context.Context, topic string, key, payload []byte) error {
	if topic == "" {
		return errors.New("gateway: topic is required")
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.PublishTimeout)
	defer cancel()

	if err := g.sem.Acquire(ctx, 1); err != nil {
		return g.fallback(topic, key, fmt.Errorf("bulkhead full: %w", err))
	}
	defer g.sem.Release(1)

	headers := map[string][]byte{
		"content-type": []byte("application/json"),
	}

	var lastErr error
	for attempt := 0; attempt <= g.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return g.fallback(topic, key, err)
		}
		if !g.brk.Allow() {
			return g.fallback(topic, key, errors.New("circuit open"))
		}

		lastErr = g.producer.PublishSync(topic, key, headers, payload)
		if lastErr == nil {
			g.brk.Success()
			g.logger.Debug().
				Str("topic", topic).
				Str("key", string(key)).
				Int("attempt", attempt+1).
				Msg("event published")
			return nil
		}
		g.brk.Failure()

		g.logger.Warn().
			Str("topic", topic).
			Str("key", string(key)).
			Int("attempt", attempt+1).
			Err(lastErr).
			Msg("publish attempt failed")

		if attempt < g.cfg.MaxRetries && g.cfg.RetryBackoff > 0 {
			timer := time.NewTimer(g.cfg.RetryBackoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return g.fallback(topic, key, ctx.Err())
			case <-timer.C:
			}
		}
	}

	return g.fallback(topic, key, lastErr)
}

// fallback is the terminal path once policies are exhausted: log and raise an
// error carrying the event key so the caller can decide acknowledgment.
func (g *Gateway) fallback(topic string, key []byte, cause error) error {
	g.logger.Error().
		Str("topic", topic).
		Str("key", string(key)).
		Err(cause).
		Msg("publish fallback activated, event was not delivered")
	return fmt.Errorf("%w: topic=%s id=%s: %v", ErrPublish, topic, string(key), cause)
}
