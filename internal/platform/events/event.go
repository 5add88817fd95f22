// Package events records domain events in a transactional outbox and relays
// them to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Booking event types. Each is also the Kafka topic name.
const (
	BookingCreated     = "booking.created"
	BookingRescheduled = "booking.rescheduled"
	BookingConfirmed   = "booking.confirmed"
	BookingCancelled   = "booking.cancelled"
	BookingCompleted   = "booking.completed"
	BookingNoShow      = "booking.no_show"
	NoteSigned         = "note.signed"
)

// Event is the envelope written to the outbox.
type Event struct {
	AggregateType string
	AggregateID   uuid.UUID
	Type          string
	Payload       json.RawMessage
}

// New marshals payload into an Event.
func New(aggregateType string, aggregateID uuid.UUID, eventType string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Type:          eventType,
		Payload:       data,
	}, nil
}

// Emitter records an event as part of the caller's transaction.
type Emitter interface {
	Emit(ctx context.Context, evt Event) error
}

// Discard drops every event.
type Discard struct{}

func (Discard) Emit(context.Context, Event) error { return nil }
