package controllers

import (
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/tradesafe-app/paygate/app/models"
	"github.com/tradesafe-app/paygate/internal/pkg/metrics"
	"github.com/tradesafe-app/paygate/internal/pkg/metrics/counter"
	"github.com/tradesafe-app/paygate/internal/pkg/signature"
	"github.com/tradesafe-app/paygate/internal/pkg/webhookqueue"
)

// Signature header per provider.
var signatureHeaders = map[string]string{
	models.ProviderCoinPayd:  "X-CoinPayd-Signature",
	models.ProviderBlockRail: "X-BlockRail-Signature",
}

// Callback endpoints each provider is allowed to post to.
var providerEndpoints = map[string]map[string]bool{
	models.ProviderCoinPayd:  {"ipn": true},
	models.ProviderBlockRail: {"notify": true},
}

// slowIntakeThreshold flags enqueues that took suspiciously long; the
// whole point of the intake path is to answer providers fast.
const slowIntakeThreshold = 250 * time.Millisecond

// WebhookController accepts provider callbacks, authenticates them and
// hands them to the intake queue. Outside of validation and
// authentication failures it always answers 200, because providers
// treat anything else as "retry later" and we do our own retries.
type WebhookController struct {
	verifier *signature.Verifier
	queue    *webhookqueue.Queue
}

func NewWebhookController(verifier *signature.Verifier, queue *webhookqueue.Queue) *WebhookController {
	return &WebhookController{verifier: verifier, queue: queue}
}

// HandleProviderWebhook is the single intake endpoint:
// POST /webhook/:provider/:endpoint
func (wc *WebhookController) HandleProviderWebhook(c *fiber.Ctx) error {
	provider := c.Params("provider")
	endpoint := c.Params("endpoint")
	clientIP := c.IP()

	endpoints, ok := providerEndpoints[provider]
	if !ok {
		metrics.WebhooksRejected.WithLabelValues(provider, "unknown_provider").Inc()
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"status": "error", "message": "unknown provider",
		})
	}
	if !endpoints[endpoint] {
		metrics.WebhooksRejected.WithLabelValues(provider, "unknown_endpoint").Inc()
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"status": "error", "message": "unknown endpoint",
		})
	}

	settings := models.GetPaymentSettings()
	if !settings.IsProviderEnabled(provider) {
		metrics.WebhooksRejected.WithLabelValues(provider, "provider_disabled").Inc()
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"status": "error", "message": "provider disabled",
		})
	}

	body := c.Body()
	if len(body) == 0 || !json.Valid(body) {
		metrics.WebhooksRejected.WithLabelValues(provider, "malformed_body").Inc()
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"status": "error", "message": "malformed payload",
		})
	}

	sigHeader := c.Get(signatureHeaders[provider])
	if err := wc.verifier.Verify(provider, body, sigHeader, clientIP); err != nil {
		metrics.WebhooksRejected.WithLabelValues(provider, "auth_failed").Inc()
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"status": "error", "message": "authentication failed",
		})
	}

	eventID, tier, latency, err := wc.queue.Enqueue(webhookqueue.EnqueueRequest{
		Provider:       provider,
		Endpoint:       endpoint,
		Payload:        string(body),
		Headers:        map[string]string{signatureHeaders[provider]: sigHeader},
		ClientIP:       clientIP,
		SignatureValid: sigHeader != "",
		Priority:       models.WebhookPriorityHigh,
	})
	if err != nil {
		// Both tiers down. Still 200: the provider will retry and the
		// signature will verify again; a 5xx would only add retry storms
		// on top of an outage.
		log.Errorf("[Webhook] Intake failed for %s/%s from %s: %v", provider, endpoint, clientIP, err)
		return c.JSON(fiber.Map{"status": "ok"})
	}

	if latency > slowIntakeThreshold {
		log.Warnf("[Webhook] Slow intake for %s/%s: %s (tier=%s)", provider, endpoint, latency, tier)
	}

	metrics.WebhooksReceived.WithLabelValues(provider, endpoint).Inc()
	if err := counter.AddIntake(provider); err != nil {
		log.Errorf("[Webhook] Intake counter error: %v", err)
	}

	log.Debugf("[Webhook] Accepted event %s from %s (%s/%s, tier=%s)", eventID, clientIP, provider, endpoint, tier)
	return c.JSON(fiber.Map{"status": "ok"})
}
