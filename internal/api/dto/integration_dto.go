package dto

import (
	"time"

	"github.com/spec-kit/erp-ticketing/internal/domain"
)

// ReorderRequest reports a committed stock level for one material.
type ReorderRequest struct {
	MaterialID    string `json:"material_id"`
	NewQuantity   *int64 `json:"new_quantity"`
	ReorderLevel  *int64 `json:"reorder_level"`
	CorrelationID string `json:"correlation_id"`
}

// ReorderResponse reports the evaluation outcome.
type ReorderResponse struct {
	Outcome           string          `json:"outcome"`
	SuggestedQuantity int64           `json:"suggested_quantity,omitempty"`
	Ticket            *TicketResponse `json:"ticket,omitempty"`
}

// DomainEventRequest records a module-local business event.
type DomainEventRequest struct {
	Module        domain.Module  `json:"module"`
	EventName     string         `json:"event_name"`
	CorrelationID string         `json:"correlation_id"`
	Payload       map[string]any `json:"payload"`
}

// OutboxRecordResponse shows an integration event and its delivery state.
type OutboxRecordResponse struct {
	Event       domain.IntegrationEvent `json:"event"`
	State       domain.DeliveryState    `json:"state"`
	Attempts    int                     `json:"attempts"`
	LastError   string                  `json:"last_error,omitempty"`
	DeliveredAt *time.Time              `json:"delivered_at"`
	CreatedAt   time.Time               `json:"created_at"`
	UpdatedAt   time.Time               `json:"updated_at"`
}

// OutboxListResponse wraps an outbox page.
type OutboxListResponse struct {
	Data []OutboxRecordResponse `json:"data"`
	Meta PageMeta               `json:"meta"`
}

// NewOutboxRecordResponse converts a record.
func NewOutboxRecordResponse(rec *domain.OutboxRecord) OutboxRecordResponse {
	return OutboxRecordResponse{
		Event:       rec.Event,
		State:       rec.State,
		Attempts:    rec.Attempts,
		LastError:   rec.LastError,
		DeliveredAt: rec.DeliveredAt,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
}
