package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/support-portal/internal/api/http/handlers"
	"github.com/spec-kit/support-portal/internal/auth"
	"github.com/spec-kit/support-portal/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Tickets        *handlers.TicketsHandler
	Messages       *handlers.MessagesHandler
	Preferences    *handlers.PreferencesHandler
	Settings       *handlers.SettingsHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/health/metrics", cfg.Health.Metrics)

	api := app.Group("/api", cfg.AuthMiddleware.Handle)

	tickets := api.Group("/tickets")
	tickets.Post("", cfg.Tickets.CreateTicket)
	tickets.Get("", cfg.Tickets.ListTickets)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Post("/:id/status", cfg.Tickets.Transition)
	tickets.Post("/:id/priority", auth.RequireStaff(), cfg.Tickets.SetPriority)
	tickets.Post("/:id/reopen", cfg.Tickets.Reopen)
	tickets.Post("/:id/assign", auth.RequireStaff(), cfg.Tickets.Assign)

	tickets.Get("/:id/messages", cfg.Messages.ListMessages)
	tickets.Post("/:id/messages", cfg.Messages.PostMessage)
	tickets.Post("/:id/typing", cfg.Messages.Typing)
	tickets.Get("/:id/stream", cfg.Messages.Stream)

	me := api.Group("/me")
	me.Get("/preferences", cfg.Preferences.GetPreferences)
	me.Put("/preferences", cfg.Preferences.UpdatePreferences)
	me.Put("/contact", cfg.Preferences.UpdateContact)

	settings := api.Group("/settings", auth.RequireStaff())
	settings.Get("/sla", cfg.Settings.GetPolicy)
	settings.Put("/peak-mode", auth.RequireRole(domain.RoleAdmin), cfg.Settings.SetPeakMode)
}
