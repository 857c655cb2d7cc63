package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/erp-ticketing/internal/domain"
	"github.com/spec-kit/erp-ticketing/internal/events"
	"github.com/spec-kit/erp-ticketing/internal/observability"
	"github.com/spec-kit/erp-ticketing/internal/repository"
	apperrors "github.com/spec-kit/erp-ticketing/pkg/util"
)

const maxTransitionRetries = 3

// DeliveryNotifier is woken after a commit that enqueued integration events.
type DeliveryNotifier interface {
	Notify()
}

// TicketingEngine coordinates ticket workflows across the ERP modules.
type TicketingEngine struct {
	store      repository.Store
	correlator *events.Correlator
	notifier   DeliveryNotifier
	logger     *zap.Logger
	metrics    *observability.Metrics
	location   *time.Location
	reorder    ReorderPolicy
	now        func() time.Time
}

// EngineDependencies bundles collaborators for the engine.
type EngineDependencies struct {
	Store      repository.Store
	Correlator *events.Correlator
	Notifier   DeliveryNotifier
	Logger     *zap.Logger
	Metrics    *observability.Metrics
	// Location is the reference zone for the date part of ticket ids.
	Location *time.Location
	Reorder  ReorderPolicy
	Clock    func() time.Time
}

// CreateTicketInput describes ticket creation payload.
type CreateTicketInput struct {
	Module        domain.Module
	Type          domain.TicketType
	Priority      domain.Priority
	CreatedBy     string
	CorrelationID string
	DomainRef     string
	Details       map[string]any
}

// TransitionInput describes a status change request.
type TransitionInput struct {
	TicketID  string
	Status    domain.TicketStatus
	ChangedBy string
	Comment   string
}

// TicketQuery describes listing filters.
type TicketQuery struct {
	Module   *domain.Module
	Status   *domain.TicketStatus
	Priority *domain.Priority
	Limit    int
	Offset   int
}

// TicketPage is one page of tickets plus the total match count.
type TicketPage struct {
	Items  []domain.Ticket
	Total  int
	Limit  int
	Offset int
}

// NewTicketingEngine constructs the engine.
func NewTicketingEngine(deps EngineDependencies) *TicketingEngine {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	loc := deps.Location
	if loc == nil {
		loc = time.UTC
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	correlator := deps.Correlator
	if correlator == nil {
		correlator = events.NewCorrelator(clock)
	}
	return &TicketingEngine{
		store:      deps.Store,
		correlator: correlator,
		notifier:   deps.Notifier,
		logger:     logger,
		metrics:    deps.Metrics,
		location:   loc,
		reorder:    deps.Reorder.withDefaults(),
		now:        clock,
	}
}

// CreateTicket allocates an id, stamps the SLA deadline and persists the ticket,
// its creation audit entry and its creation event in one transaction.
func (s *TicketingEngine) CreateTicket(ctx context.Context, input CreateTicketInput) (*domain.Ticket, error) {
	if err := validateCreate(input); err != nil {
		return nil, err
	}
	input.CorrelationID = s.correlationID(ctx, input.CorrelationID)
	ctx = context.WithoutCancel(observability.ContextWithCorrelationID(ctx, input.CorrelationID))

	var ticket *domain.Ticket
	err := s.store.WithTx(ctx, func(repos repository.Repositories) error {
		created, err := s.createTicketTx(ctx, repos, input)
		if err != nil {
			return err
		}
		ticket = created
		return nil
	})
	if err != nil {
		return nil, s.mapStoreError(ctx, err, map[string]any{"module": input.Module})
	}

	s.metrics.TicketCreated(string(ticket.Module), string(ticket.Type))
	s.notifyOutbox()
	observability.WithCorrelation(s.logger, ctx).Info("ticket created",
		zap.String("ticket_id", ticket.ID),
		zap.String("priority", string(ticket.Priority)),
		zap.Time("sla_deadline", ticket.SLADeadline),
	)
	return ticket, nil
}

func (s *TicketingEngine) createTicketTx(ctx context.Context, repos repository.Repositories, input CreateTicketInput) (*domain.Ticket, error) {
	now := s.timestamp()
	deadline, err := domain.SLADeadline(input.Priority, now)
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error(), map[string]any{"field": "priority"})
	}
	seq, err := repos.Sequences.Next(ctx, input.Module, domain.TicketDay(now, s.location))
	if err != nil {
		return nil, err
	}

	ticket := &domain.Ticket{
		ID:            domain.FormatTicketID(input.Module, now, seq, s.location),
		Module:        input.Module,
		Type:          input.Type,
		Priority:      input.Priority,
		Status:        domain.TicketStatusOpen,
		SLADeadline:   deadline,
		CreatedAt:     now,
		CreatedBy:     input.CreatedBy,
		CorrelationID: input.CorrelationID,
		DomainRef:     input.DomainRef,
		Details:       input.Details,
		Version:       1,
		UpdatedAt:     now,
	}
	if ticket.Details == nil {
		ticket.Details = map[string]any{}
	}
	if err := repos.Tickets.Insert(ctx, ticket); err != nil {
		return nil, err
	}

	entry := &domain.AuditEntry{
		ID:            uuid.NewString(),
		TicketID:      ticket.ID,
		NewStatus:     domain.TicketStatusOpen,
		ChangedBy:     input.CreatedBy,
		ChangedAt:     now,
		Comment:       "created",
		CorrelationID: input.CorrelationID,
	}
	if err := repos.Audit.Append(ctx, entry); err != nil {
		return nil, err
	}

	event, err := s.correlator.TicketCreated(ticket)
	if err != nil {
		return nil, err
	}
	if err := repos.Outbox.Enqueue(ctx, event); err != nil {
		return nil, err
	}
	return ticket, nil
}

// TransitionTicket moves a ticket one edge forward. Rejections leave the ticket
// and its audit trail untouched and carry both statuses for diagnosis.
func (s *TicketingEngine) TransitionTicket(ctx context.Context, input TransitionInput) (*domain.Ticket, error) {
	if strings.TrimSpace(input.TicketID) == "" {
		return nil, apperrors.NewValidationError("ticket_id is required", map[string]any{"field": "ticket_id"})
	}
	if !input.Status.Valid() {
		return nil, apperrors.NewValidationError("unknown status", map[string]any{"field": "status", "value": input.Status})
	}
	if strings.TrimSpace(input.ChangedBy) == "" {
		return nil, apperrors.NewValidationError("changed_by is required", map[string]any{"field": "changed_by"})
	}
	ctx = context.WithoutCancel(ctx)
	details := map[string]any{"ticket_id": input.TicketID}

	var (
		ticket *domain.Ticket
		err    error
	)
	for attempt := 1; attempt <= maxTransitionRetries; attempt++ {
		ticket, err = s.transitionOnce(ctx, input)
		if !errors.Is(err, repository.ErrVersionConflict) {
			break
		}
		s.logger.Debug("transition version conflict; retrying",
			zap.String("ticket_id", input.TicketID),
			zap.Int("attempt", attempt),
		)
	}
	if err != nil {
		if apperrors.IsCode(err, apperrors.CodeBusinessRule) {
			s.metrics.Transition(moduleOf(input.TicketID), string(input.Status), "rejected")
			observability.WithCorrelation(s.logger, ctx).Info("transition rejected",
				zap.String("ticket_id", input.TicketID),
				zap.String("requested_status", string(input.Status)),
				zap.Error(err),
			)
		}
		return nil, s.mapStoreError(ctx, err, details)
	}

	s.metrics.Transition(string(ticket.Module), string(ticket.Status), "accepted")
	s.notifyOutbox()
	observability.WithCorrelation(s.logger, ctx).Info("ticket transitioned",
		zap.String("ticket_id", ticket.ID),
		zap.String("status", string(ticket.Status)),
		zap.String("ticket_correlation_id", ticket.CorrelationID),
	)
	return ticket, nil
}

func (s *TicketingEngine) transitionOnce(ctx context.Context, input TransitionInput) (*domain.Ticket, error) {
	var updated *domain.Ticket
	err := s.store.WithTx(ctx, func(repos repository.Repositories) error {
		current, err := repos.Tickets.GetForUpdate(ctx, input.TicketID)
		if err != nil {
			return err
		}
		decision := domain.DecideTransition(current.Status, input.Status)
		if !decision.Accepted {
			return apperrors.NewBusinessRuleViolation("transition rejected", map[string]any{
				"ticket_id":        current.ID,
				"current_status":   current.Status,
				"requested_status": input.Status,
				"reason":           decision.Reason,
			})
		}

		changedAt := s.timestamp()
		if !changedAt.After(current.UpdatedAt) {
			changedAt = current.UpdatedAt.Add(time.Microsecond)
		}
		previous := current.Status
		next := current.Clone()
		next.Status = input.Status
		next.Version = current.Version + 1
		next.UpdatedAt = changedAt
		if input.Status == domain.TicketStatusClosed {
			next.ClosedAt = &changedAt
		}
		if err := repos.Tickets.UpdateStatus(ctx, next, current.Version); err != nil {
			return err
		}

		entry := domain.AuditEntry{
			ID:             uuid.NewString(),
			TicketID:       current.ID,
			PreviousStatus: &previous,
			NewStatus:      input.Status,
			ChangedBy:      input.ChangedBy,
			ChangedAt:      changedAt,
			Comment:        input.Comment,
			CorrelationID:  current.CorrelationID,
		}
		if err := repos.Audit.Append(ctx, &entry); err != nil {
			return err
		}

		event, err := s.correlator.TicketTransitioned(next, entry)
		if err != nil {
			return err
		}
		if err := repos.Outbox.Enqueue(ctx, event); err != nil {
			return err
		}
		updated = next
		return nil
	})
	return updated, err
}

// GetTicket returns a ticket with its audit trail.
func (s *TicketingEngine) GetTicket(ctx context.Context, ticketID string) (*domain.Ticket, []domain.AuditEntry, error) {
	repos := s.store.Repos()
	ticket, err := repos.Tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, nil, s.mapStoreError(ctx, err, map[string]any{"ticket_id": ticketID})
	}
	audit, err := repos.Audit.ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, nil, s.mapStoreError(ctx, err, nil)
	}
	return ticket, audit, nil
}

// ListAudit returns a ticket's audit entries in acceptance order.
func (s *TicketingEngine) ListAudit(ctx context.Context, ticketID string) ([]domain.AuditEntry, error) {
	repos := s.store.Repos()
	if _, err := repos.Tickets.GetByID(ctx, ticketID); err != nil {
		return nil, s.mapStoreError(ctx, err, map[string]any{"ticket_id": ticketID})
	}
	entries, err := repos.Audit.ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, s.mapStoreError(ctx, err, nil)
	}
	return entries, nil
}

// ListTickets returns a filtered page of tickets, newest first.
func (s *TicketingEngine) ListTickets(ctx context.Context, query TicketQuery) (*TicketPage, error) {
	if query.Module != nil && !query.Module.Valid() {
		return nil, apperrors.NewValidationError("unknown module", map[string]any{"field": "module"})
	}
	if query.Status != nil && !query.Status.Valid() {
		return nil, apperrors.NewValidationError("unknown status", map[string]any{"field": "status"})
	}
	if query.Priority != nil && !query.Priority.Valid() {
		return nil, apperrors.NewValidationError("unknown priority", map[string]any{"field": "priority"})
	}
	limit, offset := repository.NormalizePage(query.Limit, query.Offset)
	items, total, err := s.store.Repos().Tickets.List(ctx, repository.TicketFilter{
		Module:   query.Module,
		Status:   query.Status,
		Priority: query.Priority,
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		return nil, s.mapStoreError(ctx, err, nil)
	}
	return &TicketPage{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}

// PublishDomainEvent records a module-local business event (for example a stock
// movement) for delivery under the caller's correlation id.
func (s *TicketingEngine) PublishDomainEvent(ctx context.Context, module domain.Module, name, correlationID string, payload map[string]any) (domain.IntegrationEvent, error) {
	correlationID = s.correlationID(ctx, correlationID)
	event, err := s.correlator.DomainEvent(module, name, correlationID, payload)
	if err != nil {
		return domain.IntegrationEvent{}, apperrors.NewValidationError(err.Error(), map[string]any{"module": module, "event_name": name})
	}
	if err := s.store.Repos().Outbox.Enqueue(context.WithoutCancel(ctx), event); err != nil {
		return domain.IntegrationEvent{}, s.mapStoreError(ctx, err, nil)
	}
	s.notifyOutbox()
	observability.WithCorrelation(s.logger, ctx).Info("domain event recorded",
		zap.String("event_id", event.EventID),
		zap.String("event_type", event.EventType),
	)
	return event, nil
}

// NotifyOutbox wakes the delivery worker. Callers running EvaluateReorderTx in
// their own transaction call it after commit.
func (s *TicketingEngine) NotifyOutbox() {
	s.notifyOutbox()
}

func (s *TicketingEngine) notifyOutbox() {
	if s.notifier != nil {
		s.notifier.Notify()
	}
}

// correlationID resolves the causal-chain id: explicit value, then the request
// context, then a fresh one.
func (s *TicketingEngine) correlationID(ctx context.Context, explicit string) string {
	if id := strings.TrimSpace(explicit); id != "" {
		return id
	}
	if id := observability.CorrelationID(ctx); id != "" {
		return id
	}
	return observability.NewCorrelationID()
}

func (s *TicketingEngine) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func (s *TicketingEngine) mapStoreError(ctx context.Context, err error, details map[string]any) error {
	var domainErr *apperrors.DomainError
	switch {
	case errors.As(err, &domainErr):
		return err
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NewNotFound("ticket", details)
	case errors.Is(err, repository.ErrVersionConflict):
		return apperrors.NewConflict("ticket was modified concurrently", details)
	case errors.Is(err, repository.ErrOpenReorderExists):
		return apperrors.NewReorderDuplicate(details)
	case errors.Is(err, repository.ErrDuplicateTicketID):
		observability.WithCorrelation(s.logger, ctx).Error("ticket id collision",
			zap.Bool("alert", true),
			zap.Any("details", details),
			zap.Error(err),
		)
		return apperrors.NewIntegrityError("ticket id collision", details, err)
	default:
		return apperrors.NewInternalError(err)
	}
}

func validateCreate(input CreateTicketInput) error {
	switch {
	case !input.Module.Valid():
		return apperrors.NewValidationError("unknown module", map[string]any{"field": "module", "value": input.Module})
	case !input.Type.Valid():
		return apperrors.NewValidationError("unknown ticket_type", map[string]any{"field": "ticket_type", "value": input.Type})
	case !input.Priority.Valid():
		return apperrors.NewValidationError("unknown priority", map[string]any{"field": "priority", "value": input.Priority})
	case strings.TrimSpace(input.CreatedBy) == "":
		return apperrors.NewValidationError("created_by is required", map[string]any{"field": "created_by"})
	}
	return nil
}

func moduleOf(ticketID string) string {
	parts, err := domain.ParseTicketID(ticketID)
	if err != nil {
		return "unknown"
	}
	return string(parts.Module)
}
