package domain

import "time"

// IntegrationEvent is the envelope handed to the integration layer. It is never
// mutated after construction.
type IntegrationEvent struct {
	EventID       string         `json:"event_id"`
	EventType     string         `json:"event_type"`
	CorrelationID string         `json:"correlation_id"`
	Timestamp     time.Time      `json:"timestamp"`
	Payload       map[string]any `json:"payload"`
}

// DeliveryState tracks an outbox record through delivery.
type DeliveryState string

const (
	DeliveryPending   DeliveryState = "pending"
	DeliveryInFlight  DeliveryState = "in_flight"
	DeliveryDelivered DeliveryState = "delivered"
	DeliveryFailed    DeliveryState = "failed"
)

// Valid reports whether s is a known delivery state.
func (s DeliveryState) Valid() bool {
	switch s {
	case DeliveryPending, DeliveryInFlight, DeliveryDelivered, DeliveryFailed:
		return true
	}
	return false
}

// OutboxRecord is the persisted delivery state of one IntegrationEvent.
type OutboxRecord struct {
	Event        IntegrationEvent
	State        DeliveryState
	Attempts     int
	LastError    string
	ClaimedUntil *time.Time
	DeliveredAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
