package handlers

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/erp-ticketing/internal/api/dto"
	"github.com/spec-kit/erp-ticketing/internal/auth"
	"github.com/spec-kit/erp-ticketing/internal/domain"
	"github.com/spec-kit/erp-ticketing/internal/repository"
	"github.com/spec-kit/erp-ticketing/internal/service"
	apperrors "github.com/spec-kit/erp-ticketing/pkg/util"
)

const (
	defaultPageSize = 20
	// maxPage keeps (page-1)*limit far from integer overflow.
	maxPage = 1_000_000
)

// TicketsHandler manages ticket endpoints shared by all modules.
type TicketsHandler struct {
	engine *service.TicketingEngine
	now    func() time.Time
}

// NewTicketsHandler constructs handler. now evaluates SLA breaches in read models.
func NewTicketsHandler(engine *service.TicketingEngine, now func() time.Time) *TicketsHandler {
	if now == nil {
		now = time.Now
	}
	return &TicketsHandler{engine: engine, now: now}
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if !principal.CanActFor(req.Module) {
		return apperrors.NewForbidden("token is not scoped to module " + string(req.Module))
	}
	createdBy := strings.TrimSpace(req.CreatedBy)
	if createdBy == "" {
		createdBy = principal.SubjectID
	}

	ticket, err := h.engine.CreateTicket(c.UserContext(), service.CreateTicketInput{
		Module:        req.Module,
		Type:          req.TicketType,
		Priority:      req.Priority,
		CreatedBy:     createdBy,
		CorrelationID: req.CorrelationID,
		DomainRef:     req.DomainRef,
		Details:       req.Details,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": dto.NewTicketResponse(ticket, h.now())})
}

// ListTickets GET /tickets.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	query, err := parseTicketQuery(c)
	if err != nil {
		return err
	}
	page, err := h.engine.ListTickets(c.UserContext(), query)
	if err != nil {
		return err
	}
	now := h.now()
	items := make([]dto.TicketResponse, 0, len(page.Items))
	for i := range page.Items {
		items = append(items, dto.NewTicketResponse(&page.Items[i], now))
	}
	return c.JSON(dto.TicketListResponse{
		Data: items,
		Meta: pageMeta(page.Limit, page.Offset, page.Total),
	})
}

// GetTicket GET /tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	id, err := ticketIDParam(c)
	if err != nil {
		return err
	}
	ticket, audit, err := h.engine.GetTicket(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.TicketDetailResponse{
		TicketResponse: dto.NewTicketResponse(ticket, h.now()),
		Audit:          dto.NewAuditEntryResponses(audit),
	}})
}

// ListAudit GET /tickets/:id/audit.
func (h *TicketsHandler) ListAudit(c *fiber.Ctx) error {
	id, err := ticketIDParam(c)
	if err != nil {
		return err
	}
	entries, err := h.engine.ListAudit(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewAuditEntryResponses(entries)})
}

// TransitionTicket POST /tickets/:id/transitions.
func (h *TicketsHandler) TransitionTicket(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	id, err := ticketIDParam(c)
	if err != nil {
		return err
	}
	parts, _ := domain.ParseTicketID(id)
	if !principal.CanActFor(parts.Module) {
		return apperrors.NewForbidden("token is not scoped to module " + string(parts.Module))
	}

	var req dto.TransitionRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	changedBy := strings.TrimSpace(req.ChangedBy)
	if changedBy == "" {
		changedBy = principal.SubjectID
	}

	ticket, err := h.engine.TransitionTicket(c.UserContext(), service.TransitionInput{
		TicketID:  id,
		Status:    req.Status,
		ChangedBy: changedBy,
		Comment:   req.Comment,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket, h.now())})
}

func ticketIDParam(c *fiber.Ctx) (string, error) {
	id := c.Params("id")
	if _, err := domain.ParseTicketID(id); err != nil {
		return "", apperrors.NewValidationError("malformed ticket id", map[string]any{"ticket_id": id})
	}
	return id, nil
}

func parseTicketQuery(c *fiber.Ctx) (service.TicketQuery, error) {
	query := service.TicketQuery{}
	if raw := c.Query("module"); raw != "" {
		module, err := domain.ParseModule(raw)
		if err != nil {
			return query, apperrors.NewValidationError(err.Error(), map[string]any{"field": "module"})
		}
		query.Module = &module
	}
	if raw := c.Query("status"); raw != "" {
		status, err := domain.ParseTicketStatus(raw)
		if err != nil {
			return query, apperrors.NewValidationError(err.Error(), map[string]any{"field": "status"})
		}
		query.Status = &status
	}
	if raw := c.Query("priority"); raw != "" {
		priority, err := domain.ParsePriority(raw)
		if err != nil {
			return query, apperrors.NewValidationError(err.Error(), map[string]any{"field": "priority"})
		}
		query.Priority = &priority
	}
	query.Limit, query.Offset = parsePage(c)
	return query, nil
}

func parsePage(c *fiber.Ctx) (limit, offset int) {
	page := min(parseInt(c.Query("page"), 1), maxPage)
	limit, _ = repository.NormalizePage(parseInt(c.Query("limit"), defaultPageSize), 0)
	return limit, (page - 1) * limit
}

func pageMeta(limit, offset, total int) dto.PageMeta {
	page := 1
	if limit > 0 {
		page = offset/limit + 1
	}
	return dto.PageMeta{Page: page, Limit: limit, Total: total}
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
