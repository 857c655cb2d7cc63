package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/erp-ticketing/internal/api/dto"
	"github.com/spec-kit/erp-ticketing/internal/auth"
	"github.com/spec-kit/erp-ticketing/internal/domain"
	"github.com/spec-kit/erp-ticketing/internal/service"
	apperrors "github.com/spec-kit/erp-ticketing/pkg/util"
)

// ReorderHandler receives stock levels from the inventory module.
type ReorderHandler struct {
	engine *service.TicketingEngine
	now    func() time.Time
}

// NewReorderHandler constructs handler.
func NewReorderHandler(engine *service.TicketingEngine, now func() time.Time) *ReorderHandler {
	if now == nil {
		now = time.Now
	}
	return &ReorderHandler{engine: engine, now: now}
}

// Evaluate POST /reorders/evaluate.
func (h *ReorderHandler) Evaluate(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	if !principal.CanActFor(domain.ModuleMM) {
		return apperrors.NewForbidden("reorder evaluation belongs to module MM")
	}
	var req dto.ReorderRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.NewQuantity == nil || req.ReorderLevel == nil {
		return apperrors.NewValidationError("new_quantity and reorder_level are required", nil)
	}

	result, err := h.engine.EvaluateReorder(c.UserContext(), service.ReorderInput{
		MaterialID:    req.MaterialID,
		NewQuantity:   *req.NewQuantity,
		ReorderLevel:  *req.ReorderLevel,
		CorrelationID: req.CorrelationID,
	})
	if err != nil {
		return err
	}

	resp := dto.ReorderResponse{Outcome: result.Outcome, SuggestedQuantity: result.SuggestedQuantity}
	if result.Ticket != nil {
		ticket := dto.NewTicketResponse(result.Ticket, h.now())
		resp.Ticket = &ticket
	}
	status := fiber.StatusOK
	if result.Outcome == service.ReorderCreated {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(fiber.Map{"data": resp})
}
