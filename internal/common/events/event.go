// Package events defines the event envelope published on the message bus.
package events

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// Type identifies an event type. The NATS subject is derived from it.
type Type string

const (
	TypeTransferCompleted Type = "transfer.completed"
	TypeTransferFailed    Type = "transfer.failed"
	TypeTransferSkipped   Type = "transfer.skipped"
	TypeBatchCompleted    Type = "transfer.batch.completed"
)

// Event wraps all published events with common metadata.
type Event struct {
	ID            string          `json:"id"`
	Type          Type            `json:"type"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	Data          json.RawMessage `json:"data"`
}

// New creates an event envelope around the given payload.
func New(eventType Type, correlationID string, data any) (*Event, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            ulid.Make().String(),
		Type:          eventType,
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC(),
		Data:          jsonData,
	}, nil
}
