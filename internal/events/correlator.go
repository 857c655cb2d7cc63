package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/erp-ticketing/internal/domain"
)

// Correlator builds integration event envelopes. Ticket events inherit the
// ticket's correlation id; module events carry the caller's.
type Correlator struct {
	now   func() time.Time
	newID func() string
}

// NewCorrelator builds a Correlator using now for module event timestamps.
func NewCorrelator(now func() time.Time) *Correlator {
	if now == nil {
		now = time.Now
	}
	return &Correlator{
		now:   now,
		newID: func() string { return uuid.NewString() },
	}
}

// TicketCreated describes a newly created ticket.
func (c *Correlator) TicketCreated(ticket *domain.Ticket) (domain.IntegrationEvent, error) {
	payload, err := toPayload(TicketCreatedPayload{
		TicketID:    ticket.ID,
		Module:      ticket.Module,
		TicketType:  ticket.Type,
		Priority:    ticket.Priority,
		Status:      ticket.Status,
		SLADeadline: ticket.SLADeadline,
		CreatedBy:   ticket.CreatedBy,
		DomainRef:   ticket.DomainRef,
	})
	if err != nil {
		return domain.IntegrationEvent{}, err
	}
	return c.envelope(EventType(ticket.Module, NameTicketCreated), ticket.CorrelationID, ticket.CreatedAt, payload), nil
}

// TicketTransitioned describes the accepted status change recorded by entry.
func (c *Correlator) TicketTransitioned(ticket *domain.Ticket, entry domain.AuditEntry) (domain.IntegrationEvent, error) {
	if entry.PreviousStatus == nil {
		return domain.IntegrationEvent{}, errors.New("transition entry has no previous status")
	}
	payload, err := toPayload(TicketStatusChangedPayload{
		TicketID:       ticket.ID,
		PreviousStatus: *entry.PreviousStatus,
		NewStatus:      entry.NewStatus,
		ChangedBy:      entry.ChangedBy,
		Comment:        entry.Comment,
	})
	if err != nil {
		return domain.IntegrationEvent{}, err
	}
	return c.envelope(EventType(ticket.Module, NameTicketStatusChanged), ticket.CorrelationID, entry.ChangedAt, payload), nil
}

// ReorderTriggered describes the procurement ticket raised for a material.
func (c *Correlator) ReorderTriggered(ticket *domain.Ticket, p ReorderTriggeredPayload) (domain.IntegrationEvent, error) {
	p.TicketID = ticket.ID
	payload, err := toPayload(p)
	if err != nil {
		return domain.IntegrationEvent{}, err
	}
	return c.envelope(EventType(ticket.Module, NameReorderTriggered), ticket.CorrelationID, ticket.CreatedAt, payload), nil
}

// DomainEvent wraps a module-local business event such as a stock movement.
func (c *Correlator) DomainEvent(module domain.Module, name, correlationID string, payload map[string]any) (domain.IntegrationEvent, error) {
	if !module.Valid() {
		return domain.IntegrationEvent{}, fmt.Errorf("unknown module %q", module)
	}
	if !ValidEventName(name) {
		return domain.IntegrationEvent{}, fmt.Errorf("event name %q must be upper snake case", name)
	}
	if correlationID == "" {
		return domain.IntegrationEvent{}, errors.New("correlation id is required")
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return c.envelope(EventType(module, name), correlationID, c.now(), payload), nil
}

func (c *Correlator) envelope(eventType, correlationID string, at time.Time, payload map[string]any) domain.IntegrationEvent {
	return domain.IntegrationEvent{
		EventID:       c.newID(),
		EventType:     eventType,
		CorrelationID: correlationID,
		Timestamp:     at.UTC().Truncate(time.Microsecond),
		Payload:       payload,
	}
}
