package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"EscrowEngine/internal/middleware"
	"EscrowEngine/internal/services"
)

type NotificationHandler struct {
	notifications *services.NotificationService
	log           *logrus.Entry
}

func NewNotificationHandler(notifications *services.NotificationService, log *logrus.Entry) *NotificationHandler {
	return &NotificationHandler{notifications: notifications, log: log}
}

// GetNotifications retrieves the caller's notifications, ?unread_only=true
func (h *NotificationHandler) GetNotifications(c *fiber.Ctx) error {
	limit, offset := pagination(c)
	notifications, unread, err := h.notifications.List(
		c.UserContext(), middleware.UserIDOf(c), c.QueryBool("unread_only", false), limit, offset,
	)
	if err != nil {
		return respondError(c, h.log, err, nil)
	}

	return c.JSON(fiber.Map{
		"notifications": notifications,
		"count":         len(notifications),
		"unread_count":  unread,
	})
}

func (h *NotificationHandler) MarkAsRead(c *fiber.Ctx) error {
	if err := h.notifications.MarkRead(c.UserContext(), middleware.UserIDOf(c), c.Params("id")); err != nil {
		return respondError(c, h.log, err, nil)
	}
	return c.JSON(fiber.Map{
		"message": "Notification marked as read",
	})
}

func (h *NotificationHandler) MarkAllAsRead(c *fiber.Ctx) error {
	n, err := h.notifications.MarkAllRead(c.UserContext(), middleware.UserIDOf(c))
	if err != nil {
		return respondError(c, h.log, err, nil)
	}
	return c.JSON(fiber.Map{
		"message": "All notifications marked as read",
		"updated": n,
	})
}
