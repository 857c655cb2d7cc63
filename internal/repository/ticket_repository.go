package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/erp-ticketing/internal/domain"
)

const (
	ticketColumns = `id, module, ticket_type, priority, status, sla_deadline, created_at, created_by,
               correlation_id, domain_ref, details, version, updated_at, closed_at`

	openProcurementConstraint = "tickets_open_procurement_ref"
	ticketPrimaryKey          = "tickets_pkey"
)

type ticketRepository struct {
	db DBTX
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(db DBTX) TicketRepository {
	return &ticketRepository{db: db}
}

func (r *ticketRepository) Insert(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (id, module, ticket_type, priority, status, sla_deadline, created_at, created_by,
                             correlation_id, domain_ref, details, version, updated_at, closed_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`
	details := ticket.Details
	if details == nil {
		details = map[string]any{}
	}
	_, err := r.db.Exec(ctx, query,
		ticket.ID,
		ticket.Module,
		ticket.Type,
		ticket.Priority,
		ticket.Status,
		ticket.SLADeadline,
		ticket.CreatedAt,
		ticket.CreatedBy,
		ticket.CorrelationID,
		ticket.DomainRef,
		details,
		ticket.Version,
		ticket.UpdatedAt,
		ticket.ClosedAt,
	)
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err, ticketPrimaryKey):
		return fmt.Errorf("%w: %s", ErrDuplicateTicketID, ticket.ID)
	case isUniqueViolation(err, openProcurementConstraint):
		return fmt.Errorf("%w: %s", ErrOpenReorderExists, ticket.DomainRef)
	default:
		return err
	}
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	return r.fetchSingle(ctx, query, id)
}

func (r *ticketRepository) GetForUpdate(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1 FOR UPDATE`
	return r.fetchSingle(ctx, query, id)
}

func (r *ticketRepository) UpdateStatus(ctx context.Context, ticket *domain.Ticket, expectedVersion int) error {
	const query = `
        UPDATE tickets SET status=$1, version=$2, updated_at=$3, closed_at=$4
        WHERE id=$5 AND version=$6`
	cmd, err := r.db.Exec(ctx, query,
		ticket.Status,
		ticket.Version,
		ticket.UpdatedAt,
		ticket.ClosedAt,
		ticket.ID,
		expectedVersion,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, ticket.ID); errors.Is(err, ErrNotFound) {
			return err
		}
		return ErrVersionConflict
	}
	return nil
}

func (r *ticketRepository) FindOpenByReference(ctx context.Context, module domain.Module, ticketType domain.TicketType, ref string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + `
             FROM tickets
             WHERE module=$1 AND ticket_type=$2 AND domain_ref=$3 AND status <> $4
             ORDER BY created_at ASC
             LIMIT 1`
	return r.fetchSingle(ctx, query, module, ticketType, ref, domain.TicketStatusClosed)
}

func (r *ticketRepository) LockReference(ctx context.Context, key string) error {
	_, err := r.db.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key)
	return err
}

func (r *ticketRepository) List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, int, error) {
	clauses := []string{"1=1"}
	args := []any{}

	if filter.Module != nil {
		args = append(args, *filter.Module)
		clauses = append(clauses, fmt.Sprintf("module=$%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		clauses = append(clauses, fmt.Sprintf("status=$%d", len(args)))
	}
	if filter.Priority != nil {
		args = append(args, *filter.Priority)
		clauses = append(clauses, fmt.Sprintf("priority=$%d", len(args)))
	}
	where := strings.Join(clauses, " AND ")

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM tickets WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit, offset := NormalizePage(filter.Limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE %s ORDER BY created_at DESC, id DESC LIMIT %d OFFSET %d`,
		ticketColumns, where, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	tickets, err := scanTickets(rows)
	if err != nil {
		return nil, 0, err
	}
	return tickets, total, nil
}

func (r *ticketRepository) fetchSingle(ctx context.Context, query string, args ...any) (*domain.Ticket, error) {
	ticket, err := scanTicket(r.db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := row.Scan(
		&ticket.ID,
		&ticket.Module,
		&ticket.Type,
		&ticket.Priority,
		&ticket.Status,
		&ticket.SLADeadline,
		&ticket.CreatedAt,
		&ticket.CreatedBy,
		&ticket.CorrelationID,
		&ticket.DomainRef,
		&ticket.Details,
		&ticket.Version,
		&ticket.UpdatedAt,
		&ticket.ClosedAt,
	); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func scanTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	result := []domain.Ticket{}
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}
