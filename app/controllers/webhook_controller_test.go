package controllers

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradesafe-app/paygate/app/models"
	"github.com/tradesafe-app/paygate/internal/pkg/signature"
)

// The rejection paths run entirely before the intake queue is touched,
// so a nil queue is fine here; enqueue behaviour is covered in the
// webhookqueue package.
func newRejectionTestApp(hardened bool) *fiber.App {
	verifier := signature.NewVerifierWithSecrets(hardened, map[string]string{
		models.ProviderCoinPayd: "test-secret",
	})
	wc := NewWebhookController(verifier, nil)

	app := fiber.New()
	app.Post("/webhook/:provider/:endpoint", wc.HandleProviderWebhook)
	return app
}

func TestWebhook_UnknownProviderIs400(t *testing.T) {
	models.ResetPaymentSettingsForTest()
	app := newRejectionTestApp(true)

	req := httptest.NewRequest("POST", "/webhook/stripe/ipn", strings.NewReader(`{}`))
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestWebhook_UnknownEndpointIs400(t *testing.T) {
	models.ResetPaymentSettingsForTest()
	app := newRejectionTestApp(true)

	req := httptest.NewRequest("POST", "/webhook/coinpayd/notify", strings.NewReader(`{}`))
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestWebhook_MalformedBodyIs400(t *testing.T) {
	models.ResetPaymentSettingsForTest()
	app := newRejectionTestApp(true)

	for _, body := range []string{"", "not-json", "{broken"} {
		req := httptest.NewRequest("POST", "/webhook/coinpayd/ipn", strings.NewReader(body))
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode, "body=%q", body)
	}
}

func TestWebhook_DisabledProviderIs400(t *testing.T) {
	models.ResetPaymentSettingsForTest()
	t.Cleanup(models.ResetPaymentSettingsForTest)
	_, err := models.UpdatePaymentSettings(nil, func(s *models.PaymentSettings) {
		s.CoinPaydEnabled = false
	})
	require.NoError(t, err)

	app := newRejectionTestApp(true)
	req := httptest.NewRequest("POST", "/webhook/coinpayd/ipn", strings.NewReader(`{}`))
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestWebhook_HardenedMissingSignatureIs401(t *testing.T) {
	models.ResetPaymentSettingsForTest()
	app := newRejectionTestApp(true)

	req := httptest.NewRequest("POST", "/webhook/coinpayd/ipn", strings.NewReader(`{"txn_id":"t"}`))
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestWebhook_HardenedBadSignatureIs401(t *testing.T) {
	models.ResetPaymentSettingsForTest()
	app := newRejectionTestApp(true)

	req := httptest.NewRequest("POST", "/webhook/coinpayd/ipn", strings.NewReader(`{"txn_id":"t"}`))
	req.Header.Set("X-CoinPayd-Signature", "deadbeef")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}
