package dto

import (
	"time"

	"github.com/spec-kit/erp-ticketing/internal/domain"
)

// CreateTicketRequest payload. CreatedBy defaults to the token subject.
type CreateTicketRequest struct {
	Module        domain.Module     `json:"module"`
	TicketType    domain.TicketType `json:"ticket_type"`
	Priority      domain.Priority   `json:"priority"`
	CreatedBy     string            `json:"created_by"`
	CorrelationID string            `json:"correlation_id"`
	DomainRef     string            `json:"domain_ref"`
	Details       map[string]any    `json:"details"`
}

// TransitionRequest payload. ChangedBy defaults to the token subject.
type TransitionRequest struct {
	Status    domain.TicketStatus `json:"status"`
	ChangedBy string              `json:"changed_by"`
	Comment   string              `json:"comment"`
}

// TicketResponse is the ticket read model.
type TicketResponse struct {
	ID            string               `json:"id"`
	Module        domain.Module        `json:"module"`
	TicketType    domain.TicketType    `json:"ticket_type"`
	Priority      domain.Priority      `json:"priority"`
	Status        domain.TicketStatus  `json:"status"`
	NextStatus    *domain.TicketStatus `json:"next_status"`
	SLADeadline   time.Time            `json:"sla_deadline"`
	SLABreached   bool                 `json:"sla_breached"`
	CreatedAt     time.Time            `json:"created_at"`
	CreatedBy     string               `json:"created_by"`
	CorrelationID string               `json:"correlation_id"`
	DomainRef     string               `json:"domain_ref,omitempty"`
	Details       map[string]any       `json:"details"`
	Version       int                  `json:"version"`
	UpdatedAt     time.Time            `json:"updated_at"`
	ClosedAt      *time.Time           `json:"closed_at"`
}

// TicketDetailResponse adds the audit trail to the ticket.
type TicketDetailResponse struct {
	TicketResponse
	Audit []AuditEntryResponse `json:"audit"`
}

// AuditEntryResponse represents one accepted status change.
type AuditEntryResponse struct {
	ID             string               `json:"id"`
	TicketID       string               `json:"ticket_id"`
	PreviousStatus *domain.TicketStatus `json:"previous_status"`
	NewStatus      domain.TicketStatus  `json:"new_status"`
	ChangedBy      string               `json:"changed_by"`
	ChangedAt      time.Time            `json:"changed_at"`
	Comment        string               `json:"comment,omitempty"`
	CorrelationID  string               `json:"correlation_id"`
}

// PageMeta describes a list page.
type PageMeta struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
}

// TicketListResponse wraps a ticket page.
type TicketListResponse struct {
	Data []TicketResponse `json:"data"`
	Meta PageMeta         `json:"meta"`
}

// NewTicketResponse builds the read model, computing SLA breach at now.
func NewTicketResponse(ticket *domain.Ticket, now time.Time) TicketResponse {
	resp := TicketResponse{
		ID:            ticket.ID,
		Module:        ticket.Module,
		TicketType:    ticket.Type,
		Priority:      ticket.Priority,
		Status:        ticket.Status,
		SLADeadline:   ticket.SLADeadline,
		SLABreached:   ticket.SLABreached(now),
		CreatedAt:     ticket.CreatedAt,
		CreatedBy:     ticket.CreatedBy,
		CorrelationID: ticket.CorrelationID,
		DomainRef:     ticket.DomainRef,
		Details:       ticket.Details,
		Version:       ticket.Version,
		UpdatedAt:     ticket.UpdatedAt,
		ClosedAt:      ticket.ClosedAt,
	}
	if next, ok := domain.NextStatus(ticket.Status); ok {
		resp.NextStatus = &next
	}
	if resp.Details == nil {
		resp.Details = map[string]any{}
	}
	return resp
}

// NewAuditEntryResponses converts entries, never returning nil.
func NewAuditEntryResponses(entries []domain.AuditEntry) []AuditEntryResponse {
	out := make([]AuditEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, AuditEntryResponse{
			ID:             e.ID,
			TicketID:       e.TicketID,
			PreviousStatus: e.PreviousStatus,
			NewStatus:      e.NewStatus,
			ChangedBy:      e.ChangedBy,
			ChangedAt:      e.ChangedAt,
			Comment:        e.Comment,
			CorrelationID:  e.CorrelationID,
		})
	}
	return out
}
