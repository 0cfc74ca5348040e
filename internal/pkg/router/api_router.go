package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/zuri-app/zuri/app/controllers"
	"github.com/zuri-app/zuri/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1")

	// Public catalog
	v1.Get("/plans", controllers.HandleListPlans)

	// API-key protected routes
	authed := v1.Group("", middleware.APIKeyAuthMiddleware())
	authed.Get("/me/plan", controllers.HandleGetMyPlan)
	authed.Post("/billing/checkout", controllers.HandleCreateCheckout)
	authed.Post("/billing/resync", controllers.HandleResyncPlan)
	authed.Get("/notifications", controllers.HandleListNotifications)
	authed.Post("/notifications/read-all", controllers.HandleMarkAllNotificationsRead)
	authed.Post("/notifications/:id/read", controllers.HandleMarkNotificationRead)

	// Admin routes
	admin := authed.Group("/admin", middleware.RequireAdminMiddleware())
	admin.Get("/webhook-stats", controllers.HandleAdminWebhookStats)
	admin.Get("/reconciliations", controllers.HandleAdminRecentReconciliations)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
