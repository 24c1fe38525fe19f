package controllers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/MarcusBreuer/Vendico/app/models"
	"github.com/MarcusBreuer/Vendico/internal/pkg/database"
	"github.com/MarcusBreuer/Vendico/internal/pkg/usercontext"
)

// HandleNotificationsList returns the caller's notifications, newest first.
func HandleNotificationsList(c *fiber.Ctx) error {
	db := database.GetDB()
	if db == nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Database unavailable"})
	}

	unreadOnly := c.QueryBool("unread", false)
	limit := c.QueryInt("limit", 50)

	query := db.Where("user_id = ?", usercontext.GetUserID(c)).Order("created_at DESC").Limit(limit)
	if unreadOnly {
		query = query.Where("is_read = ?", false)
	}

	var notifications []models.Notification
	if err := query.Find(&notifications).Error; err != nil {
		log.Errorf("[API] Failed to load notifications: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load notifications"})
	}

	items := make([]fiber.Map, 0, len(notifications))
	for _, n := range notifications {
		items = append(items, fiber.Map{
			"id":         n.ID,
			"type":       n.Type,
			"title":      n.Title,
			"content":    n.Content,
			"is_read":    n.IsRead,
			"order_id":   n.OrderID,
			"created_at": n.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return c.JSON(fiber.Map{"notifications": items})
}

// HandleNotificationMarkRead markiert eine Benachrichtigung als gelesen.
func HandleNotificationMarkRead(c *fiber.Ctx) error {
	db := database.GetDB()
	if db == nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Database unavailable"})
	}

	notificationID := parseUintParam(c, "id")
	if notificationID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid notification id"})
	}

	var notification models.Notification
	if err := db.Where("id = ? AND user_id = ?", notificationID, usercontext.GetUserID(c)).First(&notification).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Notification not found"})
	}

	if err := notification.MarkAsRead(db); err != nil {
		log.Errorf("[API] Failed to mark notification %d read: %v", notification.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to update notification"})
	}
	return c.JSON(fiber.Map{"read": true})
}
