package domain

import (
	"fmt"
	"time"
)

// Module identifies the ERP business module that owns a ticket.
type Module string

const (
	ModulePM Module = "PM"
	ModuleMM Module = "MM"
	ModuleFI Module = "FI"
)

// TicketType enumerates the kinds of work items.
type TicketType string

const (
	TicketTypeIncident        TicketType = "Incident"
	TicketTypeMaintenance     TicketType = "Maintenance"
	TicketTypeProcurement     TicketType = "Procurement"
	TicketTypeFinanceApproval TicketType = "Finance_Approval"
)

// Priority enumerates SLA urgency.
type Priority string

const (
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
	PriorityP3 Priority = "P3"
	PriorityP4 Priority = "P4"
)

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "Open"
	TicketStatusAssigned   TicketStatus = "Assigned"
	TicketStatusInProgress TicketStatus = "In_Progress"
	TicketStatusClosed     TicketStatus = "Closed"
)

// Modules lists every module in a stable order.
var Modules = []Module{ModulePM, ModuleMM, ModuleFI}

// Valid reports whether m is a known module.
func (m Module) Valid() bool {
	switch m {
	case ModulePM, ModuleMM, ModuleFI:
		return true
	}
	return false
}

// Valid reports whether t is a known ticket type.
func (t TicketType) Valid() bool {
	switch t {
	case TicketTypeIncident, TicketTypeMaintenance, TicketTypeProcurement, TicketTypeFinanceApproval:
		return true
	}
	return false
}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityP1, PriorityP2, PriorityP3, PriorityP4:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketStatusOpen, TicketStatusAssigned, TicketStatusInProgress, TicketStatusClosed:
		return true
	}
	return false
}

// ParseModule converts raw input into a Module, rejecting unknown values.
func ParseModule(raw string) (Module, error) {
	m := Module(raw)
	if !m.Valid() {
		return "", fmt.Errorf("unknown module %q", raw)
	}
	return m, nil
}

// ParseTicketType converts raw input into a TicketType, rejecting unknown values.
func ParseTicketType(raw string) (TicketType, error) {
	t := TicketType(raw)
	if !t.Valid() {
		return "", fmt.Errorf("unknown ticket type %q", raw)
	}
	return t, nil
}

// ParsePriority converts raw input into a Priority, rejecting unknown values.
func ParsePriority(raw string) (Priority, error) {
	p := Priority(raw)
	if !p.Valid() {
		return "", fmt.Errorf("unknown priority %q", raw)
	}
	return p, nil
}

// ParseTicketStatus converts raw input into a TicketStatus, rejecting unknown values.
func ParseTicketStatus(raw string) (TicketStatus, error) {
	s := TicketStatus(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown status %q", raw)
	}
	return s, nil
}

// Ticket is the unified work item shared by all modules.
type Ticket struct {
	ID            string
	Module        Module
	Type          TicketType
	Priority      Priority
	Status        TicketStatus
	SLADeadline   time.Time
	CreatedAt     time.Time
	CreatedBy     string
	CorrelationID string
	DomainRef     string
	Details       map[string]any
	Version       int
	UpdatedAt     time.Time
	ClosedAt      *time.Time
}

// SLABreached reports whether an unclosed ticket is past its deadline at now.
func (t *Ticket) SLABreached(now time.Time) bool {
	if t.Status == TicketStatusClosed {
		return false
	}
	return now.After(t.SLADeadline)
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	cp := *t
	if t.Details != nil {
		cp.Details = make(map[string]any, len(t.Details))
		for k, v := range t.Details {
			cp.Details[k] = v
		}
	}
	if t.ClosedAt != nil {
		closed := *t.ClosedAt
		cp.ClosedAt = &closed
	}
	return &cp
}
