package repository

import (
	"context"

	"github.com/spec-kit/erp-ticketing/internal/domain"
)

type auditRepository struct {
	db DBTX
}

// NewAuditRepository builds repository.
func NewAuditRepository(db DBTX) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Append(ctx context.Context, entry *domain.AuditEntry) error {
	const query = `
        INSERT INTO ticket_audit_entries (id, ticket_id, previous_status, new_status, changed_by, changed_at, comment, correlation_id)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := r.db.Exec(ctx, query,
		entry.ID,
		entry.TicketID,
		entry.PreviousStatus,
		entry.NewStatus,
		entry.ChangedBy,
		entry.ChangedAt,
		entry.Comment,
		entry.CorrelationID,
	)
	return err
}

func (r *auditRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.AuditEntry, error) {
	const query = `
        SELECT id, ticket_id, previous_status, new_status, changed_by, changed_at, comment, correlation_id
        FROM ticket_audit_entries WHERE ticket_id=$1 ORDER BY changed_at ASC`
	rows, err := r.db.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []domain.AuditEntry{}
	for rows.Next() {
		var entry domain.AuditEntry
		if err := rows.Scan(
			&entry.ID,
			&entry.TicketID,
			&entry.PreviousStatus,
			&entry.NewStatus,
			&entry.ChangedBy,
			&entry.ChangedAt,
			&entry.Comment,
			&entry.CorrelationID,
		); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}
