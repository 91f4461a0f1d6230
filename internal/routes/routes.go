package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"EscrowEngine/internal/handlers"
)

// Handlers bundles what the route table needs. Auth is the bearer-token
// middleware applied to every non-public route.
type Handlers struct {
	Auth          fiber.Handler
	Escrow        *handlers.EscrowHandler
	Admin         *handlers.AdminHandler
	Notifications *handlers.NotificationHandler
}

func SetupRoutes(app *fiber.App, h Handlers) {
	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "EscrowEngine",
		})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	SetupTransactionRoutes(app, h)
	SetupAdminRoutes(app, h)
	SetupNotificationRoutes(app, h)
}
