package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/erp-ticketing/internal/api/dto"
	"github.com/spec-kit/erp-ticketing/internal/auth"
	"github.com/spec-kit/erp-ticketing/internal/domain"
	"github.com/spec-kit/erp-ticketing/internal/service"
	apperrors "github.com/spec-kit/erp-ticketing/pkg/util"
)

// EventsHandler records module events and exposes integration delivery state.
type EventsHandler struct {
	engine *service.TicketingEngine
}

// NewEventsHandler constructs handler.
func NewEventsHandler(engine *service.TicketingEngine) *EventsHandler {
	return &EventsHandler{engine: engine}
}

// PublishDomainEvent POST /events.
func (h *EventsHandler) PublishDomainEvent(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.DomainEventRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if !principal.CanActFor(req.Module) {
		return apperrors.NewForbidden("token is not scoped to module " + string(req.Module))
	}

	event, err := h.engine.PublishDomainEvent(c.UserContext(), req.Module, req.EventName, req.CorrelationID, req.Payload)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"data": event})
}

// ListIntegrationEvents GET /integration-events.
func (h *EventsHandler) ListIntegrationEvents(c *fiber.Ctx) error {
	var state *domain.DeliveryState
	if raw := c.Query("state"); raw != "" {
		s := domain.DeliveryState(raw)
		state = &s
	}
	limit, offset := parsePage(c)
	page, err := h.engine.ListOutbox(c.UserContext(), state, limit, offset)
	if err != nil {
		return err
	}
	items := make([]dto.OutboxRecordResponse, 0, len(page.Items))
	for i := range page.Items {
		items = append(items, dto.NewOutboxRecordResponse(&page.Items[i]))
	}
	return c.JSON(dto.OutboxListResponse{
		Data: items,
		Meta: pageMeta(page.Limit, page.Offset, page.Total),
	})
}

// RetryIntegrationEvent POST /integration-events/:id/retry.
func (h *EventsHandler) RetryIntegrationEvent(c *fiber.Ctx) error {
	rec, err := h.engine.RequeueFailed(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewOutboxRecordResponse(rec)})
}
