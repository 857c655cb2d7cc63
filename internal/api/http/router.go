package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spec-kit/erp-ticketing/internal/api/http/handlers"
	"github.com/spec-kit/erp-ticketing/internal/auth"
	"github.com/spec-kit/erp-ticketing/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Tickets        *handlers.TicketsHandler
	Reorders       *handlers.ReorderHandler
	Events         *handlers.EventsHandler
	AuthMiddleware *auth.AuthMiddleware
	// Gatherer serves /metrics when set.
	Gatherer prometheus.Gatherer
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	writers := auth.RequireRole(domain.RoleModule, domain.RoleOperator, domain.RoleAdmin)
	modules := auth.RequireRole(domain.RoleModule, domain.RoleAdmin)
	operators := auth.RequireRole(domain.RoleOperator, domain.RoleAdmin)
	admins := auth.RequireRole(domain.RoleAdmin)

	api := app.Group("/api/v1", cfg.AuthMiddleware.Handle)

	tickets := api.Group("/tickets")
	tickets.Post("/", writers, cfg.Tickets.CreateTicket)
	tickets.Get("/", cfg.Tickets.ListTickets)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Get("/:id/audit", cfg.Tickets.ListAudit)
	tickets.Post("/:id/transitions", writers, cfg.Tickets.TransitionTicket)

	api.Post("/reorders/evaluate", modules, cfg.Reorders.Evaluate)
	api.Post("/events", modules, cfg.Events.PublishDomainEvent)

	integration := api.Group("/integration-events", operators)
	integration.Get("/", cfg.Events.ListIntegrationEvents)
	integration.Post("/:id/retry", admins, cfg.Events.RetryIntegrationEvent)
}
