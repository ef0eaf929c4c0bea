package models

import (
	"time"

	"github.com/google/uuid"
)

// EventKind identifies which domain flow a message belongs to.
type EventKind string

const (
	KindOrder   EventKind = "ORDER"
	KindInvoice EventKind = "INVOICE"
)

// Failure record statuses.
const (
	FailureStatusPending     = "PENDING_REPROCESS"
	FailureStatusReprocessed = "REPROCESSED"
	FailureStatusExhausted   = "EXHAUSTED"
	FailureStatusDiscarded   = "DISCARDED"
)

// FailureRecord is the operator-visible catalog entry for a message that
// failed processing. Records are deduplicated per (kind, event id) and retain
// the original envelope so it can be republished on manual reprocessing.
type FailureRecord struct {
	ID              string     `json:"id"`
	Kind            EventKind  `json:"kind"`
	Event           *Event     `json:"event"`
	Reason          string     `json:"reason"`
	SourceTopic     string     `json:"sourceTopic"`
	SourcePartition int32      `json:"sourcePartition"`
	SourceOffset    int64      `json:"sourceOffset"`
	CreatedAt       time.Time  `json:"createdAt"`
	ReprocessedAt   *time.Time `json:"reprocessedAt,omitempty"`
	LastRetryAt     *time.Time `json:"lastRetryAt,omitempty"`
	NextRetryAt     *time.Time `json:"nextRetryAt,omitempty"`
	Attempts        int        `json:"attempts"`
	MaxAttempts     int        `json:"maxAttempts"`
	Status          string     `json:"status"`
}

// NewFailureRecord constructs a pending record with a generated identifier
// and zero reprocessing attempts.
func NewFailureRecord(kind EventKind, evt *Event, reason, sourceTopic string, partition int32, offset int64, maxAttempts int) *FailureRecord {
	return &FailureRecord{
		ID:              uuid.NewString(),
		Kind:            kind,
		Event:           evt,
		Reason:          reason,
		SourceTopic:     sourceTopic,
		SourcePartition: partition,
		SourceOffset:    offset,
		CreatedAt:       time.Now(),
		Attempts:        0,
		MaxAttempts:     maxAttempts,
		Status:          FailureStatusPending,
	}
}

// Exhausted reports whether the record has consumed its reprocessing budget.
func (f *FailureRecord) Exhausted() bool {
	return f.Attempts >= f.MaxAttempts
}

// Clone returns a deep copy so callers can inspect a record without racing
// against registry mutations.
func (f *FailureRecord) Clone() *FailureRecord {
	if f == nil {
		return nil
	}
	clone := *f
	clone.Event = f.Event.Clone()
	clone.ReprocessedAt = cloneTime(f.ReprocessedAt)
	clone.LastRetryAt = cloneTime(f.LastRetryAt)
	clone.NextRetryAt = cloneTime(f.NextRetryAt)
	return &clone
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
