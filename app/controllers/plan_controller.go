package controllers

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/zuri-app/zuri/app/repository"
	"github.com/zuri-app/zuri/internal/pkg/cache"
	"github.com/zuri-app/zuri/internal/pkg/entitlements"
	"github.com/zuri-app/zuri/internal/pkg/usercontext"
)

// HandleListPlans returns the public plan catalog. No authentication.
func HandleListPlans(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"plans": entitlements.Catalog()})
}

// HandleGetMyPlan returns the caller's effective plan with its entitlements.
// Served from the Redis cache when warm; falls back to the database and
// refills the cache on a miss.
func HandleGetMyPlan(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	plan := cache.GetUserPlan(userCtx.UserID)
	cached := plan != ""
	if !cached {
		repo := repository.GetGlobalFactory().GetUserRepository()
		user, err := repo.GetByID(userCtx.UserID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "User not found"})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load user"})
		}
		plan = user.Plan
		if err := cache.SetUserPlan(userCtx.UserID, plan); err != nil {
			log.Printf("plan: caching plan for user %d failed: %v", userCtx.UserID, err)
		}
	}

	normalized := entitlements.Normalize(plan)
	info, _ := entitlements.Lookup(string(normalized))

	return c.JSON(fiber.Map{
		"plan":               string(normalized),
		"name":               info.Name,
		"messages_per_month": info.MessagesPerMonth,
		"transcription":      info.Transcription,
		"cached":             cached,
	})
}
