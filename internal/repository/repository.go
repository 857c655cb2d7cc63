package repository

import (
	"context"
	"errors"
	"time"

	"github.com/spec-kit/erp-ticketing/internal/domain"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateTicketID means an allocated id already exists. The sequence
	// discipline makes this impossible unless counter state was lost.
	ErrDuplicateTicketID = errors.New("ticket id already exists")
	// ErrOpenReorderExists means a second open procurement ticket was inserted for
	// the same material reference.
	ErrOpenReorderExists = errors.New("open procurement ticket already exists for reference")
	// ErrVersionConflict means the ticket changed between read and write.
	ErrVersionConflict = errors.New("ticket version changed concurrently")
	// ErrStateConflict means an outbox record is not in the state an operation requires.
	ErrStateConflict = errors.New("outbox record in unexpected state")
)

// SequenceRepository issues per-(module, day) ticket sequence numbers.
type SequenceRepository interface {
	// Next increments and returns the counter for (module, day). Inside a
	// transaction the counter row stays locked until commit.
	Next(ctx context.Context, module domain.Module, day string) (int64, error)
}

// TicketFilter captures list parameters.
type TicketFilter struct {
	Module   *domain.Module
	Status   *domain.TicketStatus
	Priority *domain.Priority
	Limit    int
	Offset   int
}

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Insert(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	// GetForUpdate loads a ticket and locks it for the rest of the transaction.
	GetForUpdate(ctx context.Context, id string) (*domain.Ticket, error)
	// UpdateStatus writes status, version, updated_at and closed_at from ticket
	// when the stored version still equals expectedVersion.
	UpdateStatus(ctx context.Context, ticket *domain.Ticket, expectedVersion int) error
	// FindOpenByReference returns a non-Closed ticket of the given module and type
	// referencing ref, or ErrNotFound.
	FindOpenByReference(ctx context.Context, module domain.Module, ticketType domain.TicketType, ref string) (*domain.Ticket, error)
	// LockReference serializes writers on key until the transaction ends.
	LockReference(ctx context.Context, key string) error
	List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, int, error)
}

// AuditRepository stores the append-only audit trail.
type AuditRepository interface {
	Append(ctx context.Context, entry *domain.AuditEntry) error
	ListByTicket(ctx context.Context, ticketID string) ([]domain.AuditEntry, error)
}

// OutboxFilter captures operator listing parameters.
type OutboxFilter struct {
	State  *domain.DeliveryState
	Limit  int
	Offset int
}

// OutboxRepository persists integration events and their delivery state.
type OutboxRepository interface {
	Enqueue(ctx context.Context, event domain.IntegrationEvent) error
	// Claim moves up to limit pending (or lease-expired in-flight) records to
	// in_flight until now+lease and returns them oldest first.
	Claim(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]domain.OutboxRecord, error)
	MarkDelivered(ctx context.Context, eventID string, attempts int, at time.Time) error
	MarkFailed(ctx context.Context, eventID string, attempts int, lastErr string, at time.Time) error
	// Release returns an in-flight record to pending, keeping its attempt count.
	Release(ctx context.Context, eventID string, attempts int, lastErr string, at time.Time) error
	// Requeue moves a failed record back to pending with a fresh attempt budget.
	Requeue(ctx context.Context, eventID string, at time.Time) error
	Get(ctx context.Context, eventID string) (*domain.OutboxRecord, error)
	List(ctx context.Context, filter OutboxFilter) ([]domain.OutboxRecord, int, error)
}

// Repositories bundles repositories bound to one connection or transaction.
type Repositories struct {
	Sequences SequenceRepository
	Tickets   TicketRepository
	Audit     AuditRepository
	Outbox    OutboxRepository
}

// Store hands out repositories and runs transactional units of work.
type Store interface {
	// Repos returns repositories outside any transaction.
	Repos() Repositories
	// WithTx runs fn in one transaction; fn's error rolls everything back.
	WithTx(ctx context.Context, fn func(Repositories) error) error
}

// NormalizePage clamps list paging to sane bounds.
func NormalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
