package routes

import (
	"github.com/gofiber/fiber/v2"

	"EscrowEngine/internal/middleware"
)

func SetupAdminRoutes(app *fiber.App, h Handlers) {
	admin := app.Group("/admin", h.Auth, middleware.AdminOnly())

	// Transaction Management
	admin.Get("/transactions", h.Admin.GetAllTransactions)
	admin.Post("/sweep", h.Admin.RunSweep)

	// Dispute Management
	admin.Get("/disputes", h.Admin.GetAllDisputes)
	admin.Post("/disputes/:id/resolve", h.Admin.ResolveDispute)

	// Refund Management
	admin.Post("/refunds/:id/process", h.Admin.ProcessRefund)
}
