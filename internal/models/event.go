package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event statuses as they appear on the wire.
const (
	EventStatusReceived   = "RECEIVED"
	EventStatusProcessing = "PROCESSING"
	EventStatusSent       = "SENT"
	EventStatusFailed     = "FAILED"
)

// Event is the transport envelope exchanged on every topic. The identifier is
// stable across retries; RetryAttempts is carried inside the envelope so it
// survives round-trips through the retry topic regardless of broker-level
// redelivery counters.
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Origin        string          `json:"origin"`
	Destination   string          `json:"destination"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"createdAt"`
	Status        string          `json:"status"`
	RetryAttempts int             `json:"retryAttempts,omitempty"`
}

// NewEvent constructs an envelope with a generated identifier and creation
// timestamp.
func NewEvent(eventType, origin, destination string, payload json.RawMessage) *Event {
	return &Event{
		ID:          uuid.NewString(),
		Type:        eventType,
		Origin:      origin,
		Destination: destination,
		Payload:     payload,
		CreatedAt:   time.Now(),
		Status:      EventStatusReceived,
	}
}

// HasPayload reports whether the envelope carries a usable payload. A JSON
// null is treated as absent.
func (e *Event) HasPayload() bool {
	if e == nil || len(e.Payload) == 0 {
		return false
	}
	return string(e.Payload) != "null"
}

// Clone returns a deep copy of the event so concurrent components never
// mutate a shared envelope instance.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	clone := *e
	if len(e.Payload) > 0 {
		clone.Payload = append(json.RawMessage(nil), e.Payload...)
	}
	return &clone
}
