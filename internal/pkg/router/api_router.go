package router

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/tradesafe-app/paygate/app/controllers"
	"github.com/tradesafe-app/paygate/app/repository"
	"github.com/tradesafe-app/paygate/internal/pkg/deposit"
	"github.com/tradesafe-app/paygate/internal/pkg/env"
	"github.com/tradesafe-app/paygate/internal/pkg/payment"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	repos := repository.GetGlobalRepositories()

	api := app.Group("/api", limiter.New())
	v1 := api.Group("/v1")

	orderCtrl := controllers.NewOrderController(repos, payment.NewFailoverManagerFromEnv(), deposit.GetService())
	orders := v1.Group("/orders")
	orders.Post("/", orderCtrl.HandleCreateOrder)
	orders.Get("/:id", orderCtrl.HandleGetOrder)
	orders.Post("/:id/payment-address", orderCtrl.HandleCreatePaymentAddress)
	orders.Get("/:id/payment-status", orderCtrl.HandleCheckPaymentStatus)

	adminCtrl := controllers.NewAdminPaymentController(repos)
	admin := v1.Group("/admin", adminKeyMiddleware)
	admin.Get("/payment/settings", adminCtrl.HandleGetSettings)
	admin.Put("/payment/settings", adminCtrl.HandleUpdateSettings)
	admin.Get("/webhooks/dead", adminCtrl.HandleListDeadEvents)
	admin.Post("/tokens", adminCtrl.HandleMintActionToken)
	// One-shot actions; each consumes a single-use token.
	admin.Post("/webhooks/:id/retry", adminCtrl.HandleRetryEvent)
	admin.Post("/orders/:id/refund", adminCtrl.HandleRefundOrder)
	admin.Post("/orders/:id/decline", adminCtrl.HandleDeclineOrder)
}

// adminKeyMiddleware gates the admin group behind a static API key.
// Sensitive actions additionally require single-use action tokens.
func adminKeyMiddleware(c *fiber.Ctx) error {
	key := env.GetEnv("ADMIN_API_KEY", "")
	if key == "" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "error", "message": "admin API is not configured",
		})
	}
	given := c.Get("X-Admin-Key")
	if subtle.ConstantTimeCompare([]byte(key), []byte(given)) != 1 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"status": "error", "message": "unauthorized",
		})
	}
	return c.Next()
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
