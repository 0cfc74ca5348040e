package controllers

import (
	"errors"
	"log"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/zuri-app/zuri/app/repository"
	"github.com/zuri-app/zuri/internal/pkg/usercontext"
)

const notificationPageSize = 20

// HandleListNotifications returns the caller's notifications, newest first.
// Supports ?page=N pagination.
func HandleListNotifications(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	page, err := strconv.Atoi(c.Query("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	offset := (page - 1) * notificationPageSize

	repo := repository.GetGlobalFactory().GetNotificationRepository()
	notifications, err := repo.ListByUserID(userCtx.UserID, offset, notificationPageSize)
	if err != nil {
		log.Printf("notifications: listing for user %d failed: %v", userCtx.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load notifications"})
	}

	unread, err := repo.CountUnreadByUserID(userCtx.UserID)
	if err != nil {
		log.Printf("notifications: unread count for user %d failed: %v", userCtx.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load notifications"})
	}

	return c.JSON(fiber.Map{
		"notifications": notifications,
		"unread_count":  unread,
		"page":          page,
	})
}

// HandleMarkNotificationRead marks a single notification as read.
func HandleMarkNotificationRead(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || id == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_id", "message": "Notification id must be a positive integer"})
	}

	repo := repository.GetGlobalFactory().GetNotificationRepository()
	if err := repo.MarkAsRead(uint(id), userCtx.UserID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Notification not found"})
		}
		log.Printf("notifications: marking %d read for user %d failed: %v", id, userCtx.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to update notification"})
	}

	return c.JSON(fiber.Map{"marked_read": true})
}

// HandleMarkAllNotificationsRead marks every unread notification of the
// caller as read.
func HandleMarkAllNotificationsRead(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	repo := repository.GetGlobalFactory().GetNotificationRepository()
	if err := repo.MarkAllAsRead(userCtx.UserID); err != nil {
		log.Printf("notifications: marking all read for user %d failed: %v", userCtx.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to update notifications"})
	}

	return c.JSON(fiber.Map{"marked_read": true})
}
