package controllers

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/clubpilot/ClubPilot/app/models"
	"github.com/clubpilot/ClubPilot/internal/pkg/payments"
)

// webhookProcessTimeout caps how long one delivery may hold the store. The
// processor checks the deadline before every ledger insert, so a timed-out
// delivery stays unacknowledged and is retried by the provider.
const webhookProcessTimeout = 10 * time.Second

// signatureHeaderNames maps each provider to the request header carrying its
// webhook signature.
var signatureHeaderNames = map[string]string{
	models.PaymentProviderGoCardless: "Webhook-Signature",
	models.PaymentProviderStripe:     "Stripe-Signature",
}

var webhookProcessor *payments.Processor

// InitializeWebhookController wires the processor the webhook endpoint
// dispatches to.
func InitializeWebhookController(processor *payments.Processor) {
	webhookProcessor = processor
}

// HandleProviderWebhook receives one provider delivery. The body is only
// acknowledged with 200 after every event in it has been recorded and
// applied; any earlier failure leaves the delivery unacknowledged so the
// provider retries it.
func HandleProviderWebhook(c *fiber.Ctx) error {
	providerName := c.Params("provider")
	if webhookProcessor == nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "webhook processing unavailable",
		})
	}

	// Copy the raw body: signature verification must see the exact bytes the
	// provider signed, and fiber reuses its buffers after the handler returns.
	rawBody := make([]byte, len(c.BodyRaw()))
	copy(rawBody, c.BodyRaw())

	headerName, ok := signatureHeaderNames[providerName]
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "unknown provider",
		})
	}
	signature := c.Get(headerName)

	ctx, cancel := context.WithTimeout(c.UserContext(), webhookProcessTimeout)
	defer cancel()

	result, err := webhookProcessor.ProcessWebhook(ctx, providerName, rawBody, signature)
	if err != nil {
		return respondWebhookError(c, providerName, err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"received": result.Received,
		"applied":  result.Applied,
		"skipped":  result.Skipped,
		"ignored":  result.Ignored,
	})
}

// respondWebhookError maps processing errors onto status codes. Response
// bodies stay generic; details go to the log only.
func respondWebhookError(c *fiber.Ctx, providerName string, err error) error {
	switch {
	case errors.Is(err, payments.ErrUnknownProvider):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "unknown provider",
		})
	case errors.Is(err, payments.ErrSignatureInvalid):
		log.Printf("[Webhook] rejected %s delivery: %v", providerName, err)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "invalid signature",
		})
	case errors.Is(err, payments.ErrMalformedPayload):
		log.Printf("[Webhook] malformed %s delivery: %v", providerName, err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "malformed payload",
		})
	default:
		var cfgErr *payments.ConfigError
		if errors.As(err, &cfgErr) {
			log.Printf("[Webhook] %s misconfigured: %v", providerName, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "provider not configured",
			})
		}
		log.Printf("[Webhook] processing %s delivery failed: %v", providerName, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "processing failed",
		})
	}
}
