package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spec-kit/erp-ticketing/internal/domain"
)

// Event names; the full event type is prefixed with the owning module.
const (
	NameTicketCreated       = "TICKET_CREATED"
	NameTicketStatusChanged = "TICKET_STATUS_CHANGED"
	NameReorderTriggered    = "REORDER_TRIGGERED"
)

// ErrRejected marks a delivery the integration layer refused outright.
// Retrying will not help.
var ErrRejected = errors.New("event rejected by integration layer")

var eventNamePattern = regexp.MustCompile(`^[A-Z][A-Z0-9]*(_[A-Z0-9]+)*$`)

// Sink hands an event to one integration layer ingress.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, event domain.IntegrationEvent) error
}

// EventType builds the {MODULE}_{NAME} identifier.
func EventType(module domain.Module, name string) string {
	return string(module) + "_" + name
}

// ModuleOf returns the module prefix of an event type.
func ModuleOf(eventType string) string {
	prefix, _, _ := strings.Cut(eventType, "_")
	return prefix
}

// ValidEventName reports whether name is an upper snake case event name.
func ValidEventName(name string) bool {
	return eventNamePattern.MatchString(name)
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	TicketID    string              `json:"ticket_id"`
	Module      domain.Module       `json:"module"`
	TicketType  domain.TicketType   `json:"ticket_type"`
	Priority    domain.Priority     `json:"priority"`
	Status      domain.TicketStatus `json:"status"`
	SLADeadline time.Time           `json:"sla_deadline"`
	CreatedBy   string              `json:"created_by"`
	DomainRef   string              `json:"domain_ref,omitempty"`
}

// TicketStatusChangedPayload payload.
type TicketStatusChangedPayload struct {
	TicketID       string              `json:"ticket_id"`
	PreviousStatus domain.TicketStatus `json:"previous_status"`
	NewStatus      domain.TicketStatus `json:"new_status"`
	ChangedBy      string              `json:"changed_by"`
	Comment        string              `json:"comment,omitempty"`
}

// ReorderTriggeredPayload payload.
type ReorderTriggeredPayload struct {
	TicketID          string `json:"ticket_id"`
	MaterialID        string `json:"material_id"`
	NewQuantity       int64  `json:"new_quantity"`
	ReorderLevel      int64  `json:"reorder_level"`
	Buffer            int64  `json:"buffer"`
	SuggestedQuantity int64  `json:"suggested_quantity"`
}

// toPayload flattens a typed payload into the generic JSON object shape the
// outbox stores.
func toPayload(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return out, nil
}
