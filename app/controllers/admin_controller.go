package controllers

import (
	"log"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/zuri-app/zuri/app/repository"
	"github.com/zuri-app/zuri/internal/pkg/metrics/counter"
)

// HandleAdminWebhookStats returns per-outcome webhook delivery counters from
// Redis plus the durable per-outcome totals from the reconciliation log. The
// Redis counters reset with the cache; the log totals survive.
func HandleAdminWebhookStats(c *fiber.Ctx) error {
	live, err := counter.WebhookOutcomeTotals()
	if err != nil {
		log.Printf("admin: webhook counter read failed: %v", err)
		live = map[string]int64{}
	}

	repo := repository.GetGlobalFactory().GetReconciliationLogRepository()
	durable, err := repo.CountByOutcome()
	if err != nil {
		log.Printf("admin: reconciliation log aggregation failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to aggregate webhook stats"})
	}

	return c.JSON(fiber.Map{
		"counters": live,
		"log":      durable,
	})
}

// HandleAdminRecentReconciliations returns the newest reconciliation log
// entries. Supports ?limit=N up to 200.
func HandleAdminRecentReconciliations(c *fiber.Ctx) error {
	limit, err := strconv.Atoi(c.Query("limit", "50"))
	if err != nil || limit < 1 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	repo := repository.GetGlobalFactory().GetReconciliationLogRepository()
	entries, err := repo.ListRecent(limit)
	if err != nil {
		log.Printf("admin: recent reconciliations read failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load reconciliation log"})
	}

	return c.JSON(fiber.Map{"entries": entries})
}
