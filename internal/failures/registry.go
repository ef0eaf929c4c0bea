// Package failures keeps the bounded, deduplicated catalog of messages that
// failed processing, and drives their gated manual reprocessing.
package failures

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/integration-relay/internal/models"
)

// Publisher republishes an event envelope to a topic when a record is
// manually reprocessed.
type Publisher interface {
	Publish(ctx context.Context, topic string, evt *models.Event) error
}

// Config contains the registry tuning knobs.
type Config struct {
	// HistoryLimit bounds how many records are retained; the oldest record
	// is evicted first once the bound is exceeded.
	HistoryLimit int
	// MaxAttempts is the reprocessing ceiling applied to new records.
	MaxAttempts int
	// Cooldown is the minimum interval between manual reprocess calls for
	// the same record.
	Cooldown time.Duration
	// InputTopics maps each event kind to the primary input topic used when
	// republishing.
	InputTopics map[models.EventKind]string
}

// Registry is the in-memory failure catalog. A single mutex guards the record
// store, the insertion-order queue and the dedup index so every logical
// operation updates the three structures as a unit; it also serializes
// Register/Reprocess/Discard races on the same record.
type Registry struct {
	cfg    Config
	pub    Publisher
	logger zerolog.Logger
	now    func() time.Time

	mu      sync.Mutex
	records map[string]*models.FailureRecord
	order   []string
	index   map[string]string
}

// NewRegistry constructs a registry with the supplied configuration. Limits
// below their minimum are clamped.
func NewRegistry(cfg Config, pub Publisher, logger zerolog.Logger, now func() time.Time) *Registry {
	if cfg.HistoryLimit < 1 {
		cfg.HistoryLimit = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Cooldown < time.Second {
		cfg.Cooldown = time.Second
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	if now == nil {
		now = time.Now
	}
	return &Registry{
		cfg:     cfg,
		pub:     pub,
		logger:  logger.With().Str("component", "failure_registry").Logger(),
		now:     now,
		records: make(map[string]*models.FailureRecord),
		index:   make(map[string]string),
	}
}

// Register records a processing failure. Failures for the same (kind, event
// id) update the existing record in place instead of creating a duplicate.
// Returns nil when the envelope or its id is absent: such failures cannot be
// deduplicated or tracked, and are only logged by the caller.
func (r *Registry) Register(kind models.EventKind, evt *models.Event, reason, sourceTopic string, partition int32, offset int64) *models.FailureRecord {
	key := dedupKey(kind, evt)
	if key == "" {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.index[key]; ok {
		if rec, ok := r.records[id]; ok {
			rec.Event = evt.Clone()
			rec.Reason = reason
			rec.SourceTopic = sourceTopic
			rec.SourcePartition = partition
			rec.SourceOffset = offset
			if rec.Exhausted() {
				rec.Status = models.FailureStatusExhausted
			} else {
				rec.Status = models.FailureStatusPending
			}

			r.logger.Warn().
				Str("failure_id", rec.ID).
				Str("kind", string(kind)).
				Int("attempts", rec.Attempts).
				Int("max_attempts", rec.MaxAttempts).
				Str("status", rec.Status).
				Str("reason", reason).
				Msg("failure updated")

			return rec.Clone()
		}
	}

	rec := models.NewFailureRecord(kind, evt.Clone(), reason, sourceTopic, partition, offset, r.cfg.MaxAttempts)
	r.records[rec.ID] = rec
	r.order = append(r.order, rec.ID)
	r.index[key] = rec.ID
	r.enforceHistoryLimit()

	r.logger.Warn().
		Str("failure_id", rec.ID).
		Str("kind", string(kind)).
		Str("topic", sourceTopic).
		Int32("partition", partition).
		Int64("offset", offset).
		Str("reason", reason).
		Msg("failure registered")

	return rec.Clone()
}

// List returns records in insertion order, filtered by kind (empty means any)
// and status, truncated to the most recent limit entries. A non-positive
// limit returns every match. An empty result is an empty slice, never an
// error.
func (r *Registry) List(kind models.EventKind, status string, limit int) []*models.FailureRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	matched := make([]*models.FailureRecord, 0, len(r.order))
	for _, id := range r.order {
		rec, ok := r.records[id]
		if !ok {
			continue
		}
		if kind != "" && rec.Kind != kind {
			continue
		}
		if status != "" && rec.Status != status {
			continue
		}
		matched = append(matched, rec)
	}

	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}

	out := make([]*models.FailureRecord, 0, len(matched))
	for _, rec := range matched {
		out = append(out, rec.Clone())
	}
	return out
}

// Get returns a copy of the record with the given id.
func (r *Registry) Get(id string) (*models.FailureRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: id=%s", ErrNotFound, id)
	}
	return rec.Clone(), nil
}

// Reprocess republishes the stored envelope to the primary input topic for
// its kind. The call is gated: unknown ids, records that are not pending,
// records inside the cool-down window and records without a payload are all
// rejected. Attempt and timestamp mutations applied before the publish are
// not rolled back when the publish fails; that inconsistency is accepted and
// reported to the caller.
func (r *Registry) Reprocess(ctx context.Context, id string) (*models.FailureRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: id=%s", ErrNotFound, id)
	}

	if rec.Status == models.FailureStatusExhausted {
		return nil, fmt.Errorf("%w: attempts exhausted", ErrInvalidState)
	}
	if rec.Status != models.FailureStatusPending {
		return nil, fmt.Errorf("%w: status=%s", ErrInvalidState, rec.Status)
	}
	if rec.Exhausted() {
		rec.Status = models.FailureStatusExhausted
		return nil, fmt.Errorf("%w: attempts exhausted", ErrInvalidState)
	}

	now := r.now()
	if rec.NextRetryAt != nil && now.Before(*rec.NextRetryAt) {
		return nil, fmt.Errorf("%w: blocked until %s", ErrRateLimited, rec.NextRetryAt.Format(time.RFC3339))
	}
	if !rec.Event.HasPayload() {
		return nil, fmt.Errorf("%w: id=%s", ErrMissingPayload, id)
	}

	topic, ok := r.cfg.InputTopics[rec.Kind]
	if !ok || topic == "" {
		return nil, fmt.Errorf("%w: no input topic for kind %s", ErrInvalidState, rec.Kind)
	}

	rec.Attempts++
	last := now
	next := now.Add(r.cfg.Cooldown)
	rec.LastRetryAt = &last
	rec.NextRetryAt = &next
	if rec.Exhausted() {
		rec.Status = models.FailureStatusExhausted
	}

	if err := r.pub.Publish(ctx, topic, rec.Event.Clone()); err != nil {
		r.logger.Error().
			Str("failure_id", rec.ID).
			Str("topic", topic).
			Err(err).
			Msg("reprocess publish failed; attempt counters were already advanced")
		return nil, fmt.Errorf("failures: republish event: %w", err)
	}

	if rec.Status != models.FailureStatusExhausted {
		rec.Status = models.FailureStatusReprocessed
	}
	done := r.now()
	rec.ReprocessedAt = &done

	r.logger.Info().
		Str("failure_id", rec.ID).
		Str("kind", string(rec.Kind)).
		Str("topic", topic).
		Int("attempts", rec.Attempts).
		Int("max_attempts", rec.MaxAttempts).
		Str("status", rec.Status).
		Msg("failure reprocessed")

	return rec.Clone(), nil
}

// Discard marks the record as discarded regardless of its prior status.
// Discarded records stay visible in listings until evicted by the history
// bound.
func (r *Registry) Discard(id string) (*models.FailureRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: id=%s", ErrNotFound, id)
	}

	rec.Status = models.FailureStatusDiscarded
	now := r.now()
	rec.ReprocessedAt = &now

	r.logger.Info().
		Str("failure_id", rec.ID).
		Str("kind", string(rec.Kind)).
		Msg("failure discarded")

	return rec.Clone(), nil
}

// Len returns the number of retained records.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// enforceHistoryLimit evicts the oldest records and their index entries until
// the count is within bound. Caller holds r.mu.
func (r *Registry) enforceHistoryLimit() {
	for len(r.order) > r.cfg.HistoryLimit {
		oldest := r.order[0]
		r.order = r.order[1:]
		rec, ok := r.records[oldest]
		if !ok {
			continue
		}
		delete(r.records, oldest)
		if key := dedupKey(rec.Kind, rec.Event); key != "" {
			delete(r.index, key)
		}
	}
}

func dedupKey(kind models.EventKind, evt *models.Event) string {
	if kind == "" || evt == nil || evt.ID == "" {
		return ""
	}
	return string(kind) + "::" + evt.ID
}
