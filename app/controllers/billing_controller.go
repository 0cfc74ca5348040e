package controllers

import (
	"log"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/zuri-app/zuri/internal/pkg/billing"
	"github.com/zuri-app/zuri/internal/pkg/cache"
	"github.com/zuri-app/zuri/internal/pkg/database"
	"github.com/zuri-app/zuri/internal/pkg/usercontext"
)

// CheckoutRequest is the body for opening a subscription checkout.
type CheckoutRequest struct {
	Plan string `json:"plan" validate:"required,oneof=pro premium"`
}

// HandleCreateCheckout opens a provider checkout session for the
// authenticated user. The resulting URL is where the frontend redirects the
// user to pay; everything after that flows back through the webhook.
func HandleCreateCheckout(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	var req CheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload", "message": "Request body could not be parsed"})
	}
	v := validator.New()
	if err := v.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_plan", "message": "Plan must be one of: pro, premium"})
	}

	client := billing.NewStripeClientFromEnv()
	session, err := client.CreateCheckoutSession(c.UserContext(), userCtx.UserID, req.Plan)
	if err != nil {
		log.Printf("billing: checkout session for user %d failed: %v", userCtx.UserID, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "provider_error", "message": "Checkout session could not be created"})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"session_id":   session.ID,
		"checkout_url": session.URL,
	})
}

// HandleResyncPlan recomputes the caller's effective plan from the stored
// subscription state. Recovery hatch for missed or misordered webhooks.
func HandleResyncPlan(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	svc := billing.NewServiceFromDB(database.GetDB())
	plan, err := svc.ReconcileUserPlan(c.UserContext(), userCtx.UserID)
	if err != nil {
		log.Printf("billing: resync for user %d failed: %v", userCtx.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Plan could not be resynced"})
	}

	if err := cache.SetUserPlan(userCtx.UserID, plan); err != nil {
		log.Printf("billing: caching resynced plan for user %d failed: %v", userCtx.UserID, err)
	}

	return c.JSON(fiber.Map{"plan": plan})
}
