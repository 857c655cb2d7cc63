package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/spec-kit/erp-ticketing/internal/domain"
	"github.com/spec-kit/erp-ticketing/internal/observability"
	"github.com/spec-kit/erp-ticketing/internal/repository"
	apperrors "github.com/spec-kit/erp-ticketing/pkg/util"
)

// OutboxPage is one page of integration events with their delivery state.
type OutboxPage struct {
	Items  []domain.OutboxRecord
	Total  int
	Limit  int
	Offset int
}

// ListOutbox lists integration events, optionally by delivery state, so
// operators can see what has not reached the integration layer.
func (s *TicketingEngine) ListOutbox(ctx context.Context, state *domain.DeliveryState, limit, offset int) (*OutboxPage, error) {
	if state != nil && !state.Valid() {
		return nil, apperrors.NewValidationError("unknown delivery state", map[string]any{"field": "state", "value": *state})
	}
	limit, offset = repository.NormalizePage(limit, offset)
	items, total, err := s.store.Repos().Outbox.List(ctx, repository.OutboxFilter{State: state, Limit: limit, Offset: offset})
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return &OutboxPage{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}

// RequeueFailed returns a failed event to pending with a fresh attempt budget.
func (s *TicketingEngine) RequeueFailed(ctx context.Context, eventID string) (*domain.OutboxRecord, error) {
	outbox := s.store.Repos().Outbox
	details := map[string]any{"event_id": eventID}

	err := outbox.Requeue(context.WithoutCancel(ctx), eventID, s.timestamp())
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return nil, apperrors.NewNotFound("integration event", details)
	case errors.Is(err, repository.ErrStateConflict):
		if rec, getErr := outbox.Get(ctx, eventID); getErr == nil {
			details["state"] = rec.State
		}
		return nil, apperrors.NewConflict("only failed events can be retried", details)
	case err != nil:
		return nil, apperrors.NewInternalError(err)
	}

	rec, err := outbox.Get(ctx, eventID)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	s.notifyOutbox()
	observability.WithCorrelation(s.logger, ctx).Info("integration event requeued",
		zap.String("event_id", eventID),
		zap.String("event_correlation_id", rec.Event.CorrelationID),
	)
	return rec, nil
}
