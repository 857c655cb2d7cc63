package domain

import "time"

// AuditEntry is an immutable record of one accepted status change.
// The creation entry has a nil PreviousStatus.
type AuditEntry struct {
	ID             string
	TicketID       string
	PreviousStatus *TicketStatus
	NewStatus      TicketStatus
	ChangedBy      string
	ChangedAt      time.Time
	Comment        string
	CorrelationID  string
}

// ValidAuditTrail checks that entries form a walk of the state machine that starts
// with the creation entry and moves strictly forward in time.
func ValidAuditTrail(entries []AuditEntry) bool {
	if len(entries) == 0 {
		return false
	}
	first := entries[0]
	if first.PreviousStatus != nil || first.NewStatus != TicketStatusOpen {
		return false
	}
	for i := 1; i < len(entries); i++ {
		prev, cur := entries[i-1], entries[i]
		if cur.PreviousStatus == nil || *cur.PreviousStatus != prev.NewStatus {
			return false
		}
		if !DecideTransition(prev.NewStatus, cur.NewStatus).Accepted {
			return false
		}
		if !cur.ChangedAt.After(prev.ChangedAt) {
			return false
		}
	}
	return true
}
