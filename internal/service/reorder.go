package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/erp-ticketing/internal/domain"
	"github.com/spec-kit/erp-ticketing/internal/events"
	"github.com/spec-kit/erp-ticketing/internal/observability"
	"github.com/spec-kit/erp-ticketing/internal/repository"
	apperrors "github.com/spec-kit/erp-ticketing/pkg/util"
)

// Reorder evaluation outcomes.
const (
	ReorderNotRequired = "not_required"
	ReorderAlreadyOpen = "already_open"
	ReorderCreated     = "created"
)

// DefaultReorderBuffer is added on top of the shortfall when the policy buffer
// is negative. A zero buffer is honored and orders exactly the shortfall.
const DefaultReorderBuffer = 5

// ReorderPolicy configures automatic procurement tickets.
type ReorderPolicy struct {
	Buffer    int64
	Priority  domain.Priority
	CreatedBy string
}

func (p ReorderPolicy) withDefaults() ReorderPolicy {
	if p.Buffer < 0 {
		p.Buffer = DefaultReorderBuffer
	}
	if !p.Priority.Valid() {
		p.Priority = domain.PriorityP3
	}
	if p.CreatedBy == "" {
		p.CreatedBy = "system:reorder"
	}
	return p
}

// ReorderInput is the stock level reported by the inventory module after a
// committed stock mutation.
type ReorderInput struct {
	MaterialID    string
	NewQuantity   int64
	ReorderLevel  int64
	CorrelationID string
}

// ReorderResult reports what an evaluation did.
type ReorderResult struct {
	Outcome           string
	SuggestedQuantity int64
	Ticket            *domain.Ticket
}

// SuggestedQuantity returns reorder_level - new_quantity + buffer.
func SuggestedQuantity(newQuantity, reorderLevel, buffer int64) int64 {
	return reorderLevel - newQuantity + buffer
}

// EvaluateReorder raises one Procurement ticket for a material that fell below
// its reorder level. Replaying the same stock mutation while that ticket is open
// returns the existing ticket.
func (s *TicketingEngine) EvaluateReorder(ctx context.Context, input ReorderInput) (*ReorderResult, error) {
	if err := validateReorder(input); err != nil {
		return nil, err
	}
	input.CorrelationID = s.correlationID(ctx, input.CorrelationID)
	ctx = context.WithoutCancel(observability.ContextWithCorrelationID(ctx, input.CorrelationID))

	if input.NewQuantity >= input.ReorderLevel {
		s.metrics.Reorder(ReorderNotRequired)
		return &ReorderResult{Outcome: ReorderNotRequired}, nil
	}

	var result *ReorderResult
	err := s.store.WithTx(ctx, func(repos repository.Repositories) error {
		res, err := s.EvaluateReorderTx(ctx, repos, input)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, s.mapStoreError(ctx, err, map[string]any{"material_id": input.MaterialID})
	}

	s.metrics.Reorder(result.Outcome)
	logger := observability.WithCorrelation(s.logger, ctx).With(
		zap.String("material_id", input.MaterialID),
		zap.String("ticket_id", result.Ticket.ID),
	)
	switch result.Outcome {
	case ReorderCreated:
		s.metrics.TicketCreated(string(result.Ticket.Module), string(result.Ticket.Type))
		s.notifyOutbox()
		logger.Info("reorder ticket created", zap.Int64("suggested_quantity", result.SuggestedQuantity))
	case ReorderAlreadyOpen:
		logger.Info("reorder already open")
	}
	return result, nil
}

// EvaluateReorderTx runs the evaluation inside the caller's transaction so a
// stock mutation and its reorder ticket commit together. Call NotifyOutbox
// after the transaction commits.
func (s *TicketingEngine) EvaluateReorderTx(ctx context.Context, repos repository.Repositories, input ReorderInput) (*ReorderResult, error) {
	if err := validateReorder(input); err != nil {
		return nil, err
	}
	if input.NewQuantity >= input.ReorderLevel {
		return &ReorderResult{Outcome: ReorderNotRequired}, nil
	}
	input.CorrelationID = s.correlationID(ctx, input.CorrelationID)

	if err := repos.Tickets.LockReference(ctx, reorderLockKey(input.MaterialID)); err != nil {
		return nil, err
	}
	existing, err := repos.Tickets.FindOpenByReference(ctx, domain.ModuleMM, domain.TicketTypeProcurement, input.MaterialID)
	switch {
	case err == nil:
		return &ReorderResult{
			Outcome:           ReorderAlreadyOpen,
			SuggestedQuantity: suggestedFromDetails(existing.Details),
			Ticket:            existing,
		}, nil
	case !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}

	suggested := SuggestedQuantity(input.NewQuantity, input.ReorderLevel, s.reorder.Buffer)
	ticket, err := s.createTicketTx(ctx, repos, CreateTicketInput{
		Module:        domain.ModuleMM,
		Type:          domain.TicketTypeProcurement,
		Priority:      s.reorder.Priority,
		CreatedBy:     s.reorder.CreatedBy,
		CorrelationID: input.CorrelationID,
		DomainRef:     input.MaterialID,
		Details: map[string]any{
			"material_id":        input.MaterialID,
			"new_quantity":       input.NewQuantity,
			"reorder_level":      input.ReorderLevel,
			"buffer":             s.reorder.Buffer,
			"suggested_quantity": suggested,
		},
	})
	if err != nil {
		return nil, err
	}

	event, err := s.correlator.ReorderTriggered(ticket, events.ReorderTriggeredPayload{
		MaterialID:        input.MaterialID,
		NewQuantity:       input.NewQuantity,
		ReorderLevel:      input.ReorderLevel,
		Buffer:            s.reorder.Buffer,
		SuggestedQuantity: suggested,
	})
	if err != nil {
		return nil, err
	}
	if err := repos.Outbox.Enqueue(ctx, event); err != nil {
		return nil, err
	}
	return &ReorderResult{Outcome: ReorderCreated, SuggestedQuantity: suggested, Ticket: ticket}, nil
}

func reorderLockKey(materialID string) string {
	return "reorder:" + string(domain.ModuleMM) + ":" + materialID
}

// suggestedFromDetails reads the stored quantity back. Details decoded from
// JSONB hold float64; in-process tickets hold int64.
func suggestedFromDetails(details map[string]any) int64 {
	switch v := details["suggested_quantity"].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

func validateReorder(input ReorderInput) error {
	switch {
	case strings.TrimSpace(input.MaterialID) == "":
		return apperrors.NewValidationError("material_id is required", map[string]any{"field": "material_id"})
	case input.NewQuantity < 0:
		return apperrors.NewValidationError("new_quantity must be non-negative", map[string]any{"field": "new_quantity"})
	case input.ReorderLevel < 0:
		return apperrors.NewValidationError("reorder_level must be non-negative", map[string]any{"field": "reorder_level"})
	}
	return nil
}
