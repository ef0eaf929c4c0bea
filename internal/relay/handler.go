// Package relay drives the per-message consumption state machine: classify
// the outcome of handling an inbound record and acknowledge, escalate to the
// retry topic or dead-letter accordingly.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/integration-relay/internal/models"
)

// Delivery carries the broker-side metadata of one record delivery.
type Delivery struct {
	Topic     string
	Partition int32
	Offset    int64
	Timestamp time.Time
}

// Record is the minimal view of an inbound Kafka record the state machine
// operates on, decoupled from the concrete consumer implementation.
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp time.Time

	ack func(ctx context.Context) error
}

// Ack acknowledges the record with the broker. Records without a bound ack
// function (tests, replays) acknowledge trivially.
func (r *Record) Ack(ctx context.Context) error {
	if r == nil || r.ack == nil {
		return nil
	}
	return r.ack(ctx)
}

// NewRecord constructs a record with the supplied acknowledgment function.
func NewRecord(topic string, partition int32, offset int64, key, value []byte, ts time.Time, ack func(ctx context.Context) error) *Record {
	return &Record{
		Topic:     topic,
		Partition: partition,
		Offset:    offset,
		Key:       key,
		Value:     value,
		Timestamp: ts,
		ack:       ack,
	}
}

// DomainHandler processes the business payload of an envelope. It returns the
// enriched payload to forward downstream, or an error: wrap with
// ErrValidation for permanent failures, anything else is transient.
type DomainHandler interface {
	Process(ctx context.Context, evt *models.Event, del Delivery) (json.RawMessage, error)
}

// Publisher is the outbound gateway used for forwarding, retry escalation and
// dead-lettering.
type Publisher interface {
	Publish(ctx context.Context, topic string, evt *models.Event) error
	PublishRaw(ctx context.Context, topic string, key, payload []byte) error
}

// FailureRegistrar records permanent and retry-exhausted failures for the
// operator surface.
type FailureRegistrar interface {
	Register(kind models.EventKind, evt *models.Event, reason, sourceTopic string, partition int32, offset int64) *models.FailureRecord
}

// Metrics is the two-counter collaborator plus a timing wrapper.
type Metrics interface {
	RecordSuccess()
	RecordFailure()
	TimeOperation(fn func())
}

// NopMetrics discards every observation.
type NopMetrics struct{}

func (NopMetrics) RecordSuccess()          {}
func (NopMetrics) RecordFailure()          {}
func (NopMetrics) TimeOperation(fn func()) { fn() }

// Config describes one domain flow handled by a state machine instance.
type Config struct {
	Kind        models.EventKind
	OutputTopic string
	RetryTopic  string
	DLQTopic    string
	// MaxRetryAttempts is the ceiling for the retry-topic escalation, read
	// against the attempt counter carried inside the envelope.
	MaxRetryAttempts int
}

// Dependencies collects the collaborators required by the handler.
type Dependencies struct {
	Domain   DomainHandler
	Pub      Publisher
	Failures FailureRegistrar
	Metrics  Metrics
	Logger   zerolog.Logger
	Now      func() time.Time
}

// Handler is the consumption state machine for a single (kind, lane) flow.
type Handler struct {
	cfg      Config
	domain   DomainHandler
	pub      Publisher
	failures FailureRegistrar
	metrics  Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

// NewHandler validates configuration and collaborators up front so
// misconfiguration fails at startup rather than on the first message.
func NewHandler(cfg Config, deps Dependencies) (*Handler, error) {
	if cfg.Kind == "" {
		return nil, errors.New("relay: kind must be provided")
	}
	if cfg.OutputTopic == "" || cfg.RetryTopic == "" || cfg.DLQTopic == "" {
		return nil, errors.New("relay: output, retry and dlq topics must be provided")
	}
	if cfg.MaxRetryAttempts < 1 {
		return nil, errors.New("relay: max retry attempts must be >= 1")
	}
	if deps.Domain == nil {
		return nil, errors.New("relay: domain handler dependency is required")
	}
	if deps.Pub == nil {
		return nil, errors.New("relay: publisher dependency is required")
	}
	if deps.Failures == nil {
		return nil, errors.New("relay: failure registrar dependency is required")
	}

	metrics := deps.Metrics
	if metrics == nil {
		metrics = NopMetrics{}
	}

	logger := deps.Logger
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	logger = logger.With().Str("component", "relay_handler").Str("kind", string(cfg.Kind)).Logger()

	nowFunc := deps.Now
	if nowFunc == nil {
		nowFunc = time.Now
	}

	return &Handler{
		cfg:      cfg,
		domain:   deps.Domain,
		pub:      deps.Pub,
		failures: deps.Failures,
		metrics:  metrics,
		logger:   logger,
		now:      nowFunc,
	}, nil
}

// Handle runs one delivery through the state machine. retryDelivery
// distinguishes the primary input lane from the retry lane. A nil return
// means the record was acknowledged (or trivially dropped); a non-nil return
// means the record was deliberately left unacknowledged so the broker's own
// redelivery mechanism takes over.
func (h *Handler) Handle(ctx context.Context, rec *Record, retryDelivery bool) error {
	if rec == nil {
		return nil
	}

	log := h.logger.With().
		Str("topic", rec.Topic).
		Int32("partition", rec.Partition).
		Int64("offset", rec.Offset).
		Bool("retry_delivery", retryDelivery).
		Logger()

	var evt models.Event
	if err := json.Unmarshal(rec.Value, &evt); err != nil {
		// Poison bytes: no envelope to track, so registration no-ops, but
		// the raw message still lands in the DLQ before the ack.
		h.failures.Register(h.cfg.Kind, nil, "undecodable envelope: "+err.Error(), rec.Topic, rec.Partition, rec.Offset)
		log.Warn().Err(err).Msg("envelope did not decode, routing raw bytes to dlq")
		if perr := h.pub.PublishRaw(ctx, h.cfg.DLQTopic, rec.Key, rec.Value); perr != nil {
			log.Error().Err(perr).Msg("dlq publish failed for undecodable envelope")
		}
		h.metrics.RecordFailure()
		return rec.Ack(ctx)
	}

	del := Delivery{Topic: rec.Topic, Partition: rec.Partition, Offset: rec.Offset, Timestamp: rec.Timestamp}

	var (
		enriched json.RawMessage
		perr     error
	)
	h.metrics.TimeOperation(func() {
		enriched, perr = h.domain.Process(ctx, &evt, del)
	})

	switch {
	case perr == nil:
		return h.completeSuccess(ctx, rec, &evt, enriched, log)
	case errors.Is(perr, ErrValidation):
		return h.completePermanent(ctx, rec, &evt, perr, log)
	default:
		return h.completeTransient(ctx, rec, &evt, perr, retryDelivery, log)
	}
}

// completeSuccess forwards the enriched envelope and acknowledges strictly
// after the forward succeeded.
func (h *Handler) completeSuccess(ctx context.Context, rec *Record, evt *models.Event, enriched json.RawMessage, log zerolog.Logger) error {
	if len(enriched) > 0 {
		evt.Payload = enriched
	}
	evt.Status = models.EventStatusSent

	if err := h.pub.Publish(ctx, h.cfg.OutputTopic, evt); err != nil {
		h.metrics.RecordFailure()
		// No ack: the record stays with the broker for redelivery.
		return fmt.Errorf("relay: forward processed event: %w", err)
	}

	h.metrics.RecordSuccess()
	log.Info().
		Str("event_id", evt.ID).
		Str("output_topic", h.cfg.OutputTopic).
		Msg("event processed and forwarded")
	return rec.Ack(ctx)
}

// completePermanent records the failure, dead-letters the envelope and always
// acknowledges so the broker never redelivers an unfixable message.
func (h *Handler) completePermanent(ctx context.Context, rec *Record, evt *models.Event, cause error, log zerolog.Logger) error {
	h.failures.Register(h.cfg.Kind, evt, cause.Error(), rec.Topic, rec.Partition, rec.Offset)

	if err := h.pub.Publish(ctx, h.cfg.DLQTopic, evt); err != nil {
		// The failure is already in the registry, so it is not lost; keep
		// the ack to honour the no-redelivery contract for permanent errors.
		log.Error().Err(err).Str("event_id", evt.ID).Msg("dlq publish failed for permanent failure")
	}

	h.metrics.RecordFailure()
	log.Warn().
		Str("event_id", evt.ID).
		Str("dlq_topic", h.cfg.DLQTopic).
		Err(cause).
		Msg("invalid event routed to dlq")
	return rec.Ack(ctx)
}

// completeTransient applies the two-layer retry policy: broker redelivery on
// the primary lane, counter-driven escalation on the retry lane.
func (h *Handler) completeTransient(ctx context.Context, rec *Record, evt *models.Event, cause error, retryDelivery bool, log zerolog.Logger) error {
	h.metrics.RecordFailure()

	if !retryDelivery {
		log.Error().
			Str("event_id", evt.ID).
			Err(cause).
			Msg("transient failure, record left unacknowledged for broker redelivery")
		return fmt.Errorf("relay: transient failure on primary lane: %w", cause)
	}

	attempt := evt.RetryAttempts
	if attempt <= 0 {
		attempt = 1
	}

	if attempt < h.cfg.MaxRetryAttempts {
		evt.RetryAttempts = attempt + 1
		evt.Status = models.EventStatusFailed
		if err := h.pub.Publish(ctx, h.cfg.RetryTopic, evt); err != nil {
			// Without the republish the incremented copy would be lost;
			// leave the stale record unacknowledged instead.
			return fmt.Errorf("relay: escalate to retry topic: %w", err)
		}
		log.Warn().
			Str("event_id", evt.ID).
			Str("retry_topic", h.cfg.RetryTopic).
			Int("attempt", attempt+1).
			Int("max_attempts", h.cfg.MaxRetryAttempts).
			Err(cause).
			Msg("retry failed, event republished for another attempt")
		return rec.Ack(ctx)
	}

	h.failures.Register(h.cfg.Kind, evt, "retry exhausted: "+cause.Error(), rec.Topic, rec.Partition, rec.Offset)

	if err := h.pub.Publish(ctx, h.cfg.DLQTopic, evt); err != nil {
		log.Error().Err(err).Str("event_id", evt.ID).Msg("dlq publish failed for exhausted retry")
	}

	log.Error().
		Str("event_id", evt.ID).
		Str("dlq_topic", h.cfg.DLQTopic).
		Int("attempt", attempt).
		Int("max_attempts", h.cfg.MaxRetryAttempts).
		Err(cause).
		Msg("retry budget exhausted, event routed to dlq")
	return rec.Ack(ctx)
}
