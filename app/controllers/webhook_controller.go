package controllers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/MarcusBreuer/Vendico/internal/pkg/env"
	"github.com/MarcusBreuer/Vendico/internal/pkg/payments"
)

var paymentService *payments.Service

// InitializePaymentWebhookController wires the payments service into the
// webhook route.
func InitializePaymentWebhookController(service *payments.Service) {
	paymentService = service
}

// webhookSecretFor resolves the shared secret of a provider. A provider
// specific PAYMENT_WEBHOOK_SECRET_<PROVIDER> wins over the shared
// PAYMENT_WEBHOOK_SECRET.
func webhookSecretFor(provider string) string {
	key := "PAYMENT_WEBHOOK_SECRET_" + strings.ToUpper(provider)
	if secret := env.GetEnv(key, ""); secret != "" {
		return secret
	}
	return env.GetEnv("PAYMENT_WEBHOOK_SECRET", "")
}

// HandlePaymentWebhook ingests payment provider callbacks. A valid signature
// is required; replayed events are acknowledged without reprocessing. A
// processing failure answers 500 so the provider retries later.
func HandlePaymentWebhook(c *fiber.Ctx) error {
	provider := c.Params("provider")
	body := c.Body()

	secret := webhookSecretFor(provider)
	if secret == "" {
		log.Errorf("[Payments] No webhook secret configured for provider %q", provider)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "service_unavailable", "message": "Webhook intake is not configured"})
	}

	signature := c.Get("X-Webhook-Signature")
	if !payments.VerifyWebhookSignature(body, signature, secret) {
		log.Warnf("[Payments] Rejected webhook from %q with invalid signature", provider)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid webhook signature"})
	}

	if err := paymentService.HandleWebhook(provider, body, true); err != nil {
		log.Errorf("[Payments] Webhook processing failed for %q: %v", provider, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Webhook processing failed"})
	}

	return c.JSON(fiber.Map{"received": true})
}
