package routes

import (
	"github.com/gofiber/fiber/v2"
)

func SetupNotificationRoutes(app *fiber.App, h Handlers) {
	notifications := app.Group("/notifications", h.Auth)

	notifications.Get("/", h.Notifications.GetNotifications)
	notifications.Put("/read-all", h.Notifications.MarkAllAsRead)
	notifications.Put("/:id/read", h.Notifications.MarkAsRead)
}
