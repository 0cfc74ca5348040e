package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/zuri-app/zuri/app/controllers"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	app.Get("/up", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Provider webhook ingress. Authenticated by signature, never by API key;
	// must stay outside every auth and rate-limit group so retries from the
	// provider are not throttled away.
	app.Post("/webhooks/payment", controllers.HandlePaymentWebhook)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
