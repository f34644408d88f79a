package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Source identifies the storefront as the producer of an event.
const Source = "storefront"

// Event is the envelope of every message the storefront publishes. Key is
// the partition key; events sharing a key are delivered in order.
type Event struct {
	ID            string            `json:"id"`
	Type          string            `json:"type"`
	Key           string            `json:"key"`
	Source        string            `json:"source"`
	OccurredAt    time.Time         `json:"occurredAt"`
	CorrelationID string            `json:"correlationId,omitempty"`
	Attributes    map[string]string `json:"attributes,omitempty"`
	Data          json.RawMessage   `json:"data"`
}

// EventOption customizes an Event built by NewEvent.
type EventOption func(*Event)

// WithCorrelationID ties the event to the request that caused it.
func WithCorrelationID(id string) EventOption {
	return func(e *Event) { e.CorrelationID = id }
}

// WithAttribute sets a string attribute. Empty values are dropped.
func WithAttribute(key, value string) EventOption {
	return func(e *Event) {
		if value == "" {
			return
		}
		if e.Attributes == nil {
			e.Attributes = map[string]string{}
		}
		e.Attributes[key] = value
	}
}

// NewEvent encodes data into a new event of the given type and key.
func NewEvent(eventType, key string, data any, opts ...EventOption) (*Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", eventType, err)
	}
	e := &Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Key:        key,
		Source:     Source,
		OccurredAt: time.Now().UTC(),
		Data:       raw,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}
