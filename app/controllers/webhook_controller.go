package controllers

import (
	"errors"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/zuri-app/zuri/app/models"
	"github.com/zuri-app/zuri/internal/pkg/billing"
	"github.com/zuri-app/zuri/internal/pkg/cache"
	"github.com/zuri-app/zuri/internal/pkg/database"
	"github.com/zuri-app/zuri/internal/pkg/env"
	"github.com/zuri-app/zuri/internal/pkg/metrics/counter"
)

// HandlePaymentWebhook receives provider webhook deliveries. The signature is
// checked over the exact request bytes before anything is parsed or stored.
// Every recognized delivery is acknowledged with 200 so the provider stops
// retrying; only persistence failures return 500 and request a retry.
func HandlePaymentWebhook(c *fiber.Ctx) error {
	return processPaymentWebhook(c, billing.NewServiceFromDB(database.GetDB()))
}

func processPaymentWebhook(c *fiber.Ctx, svc *billing.Service) error {
	secret := strings.TrimSpace(env.GetEnv("STRIPE_WEBHOOK_SECRET", ""))
	if secret == "" {
		log.Print("webhook: STRIPE_WEBHOOK_SECRET is not configured")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Webhook secret not configured"})
	}

	payload := c.BodyRaw()
	signature := c.Get(billing.SignatureHeader)

	ev, err := svc.VerifyAndParse(payload, signature, secret)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrInvalidSignature):
			log.Printf("webhook: rejected delivery with invalid signature: %v", err)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature", "message": "Webhook signature verification failed"})
		case errors.Is(err, billing.ErrMalformedPayload):
			log.Printf("webhook: rejected malformed payload: %v", err)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload", "message": "Webhook payload could not be parsed"})
		default:
			log.Printf("webhook: verification failed: %v", err)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload", "message": "Webhook payload could not be parsed"})
		}
	}

	receipt, err := svc.ProcessWebhookEvent(c.UserContext(), ev)
	if err != nil {
		recordWebhookOutcome(models.ReconOutcomeFailed)
		log.Printf("webhook: processing event %s failed: %v", ev.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Event could not be processed"})
	}

	recordWebhookOutcome(receipt.Outcome)

	// Write-through so plan reads stay warm after a state change.
	if receipt.UserID != 0 && receipt.EffectivePlan != "" {
		if err := cache.SetUserPlan(receipt.UserID, receipt.EffectivePlan); err != nil {
			log.Printf("webhook: caching plan for user %d failed: %v", receipt.UserID, err)
		}
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": true})
}

func recordWebhookOutcome(outcome string) {
	if outcome == "" {
		return
	}
	if err := counter.AddWebhookOutcome(outcome); err != nil {
		log.Printf("webhook: outcome counter update failed: %v", err)
	}
}
