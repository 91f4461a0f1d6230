package routes

import (
	"github.com/gofiber/fiber/v2"
)

func SetupTransactionRoutes(app *fiber.App, h Handlers) {
	tx := app.Group("/transactions", h.Auth)

	// Book a provider (buyer)
	tx.Post("/", h.Escrow.CreateTransaction)
	tx.Get("/", h.Escrow.ListTransactions)
	tx.Get("/summary", h.Escrow.Summary)

	tx.Get("/:id", h.Escrow.GetTransaction)
	tx.Get("/:id/events", h.Escrow.ListEvents)
	tx.Get("/:id/refunds", h.Escrow.ListRefunds)

	// Payment authorized, funds held (buyer)
	tx.Post("/:id/escrow", h.Escrow.AuthorizeEscrow)

	// Meeting happened (provider)
	tx.Post("/:id/confirm", h.Escrow.ConfirmMeeting)

	tx.Post("/:id/refund", h.Escrow.RequestRefund)
	tx.Post("/:id/dispute", h.Escrow.RaiseDispute)
	tx.Post("/:id/dispute/evidence", h.Escrow.UploadDisputeEvidence)
}
