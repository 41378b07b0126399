package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tradesafe-app/paygate/app/controllers"
	"github.com/tradesafe-app/paygate/internal/pkg/env"
	"github.com/tradesafe-app/paygate/internal/pkg/signature"
	"github.com/tradesafe-app/paygate/internal/pkg/webhookqueue"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	webhookCtrl := controllers.NewWebhookController(
		signature.NewVerifier(),
		webhookqueue.GetManager().GetQueue(),
	)

	// Provider callbacks. One route, provider/endpoint resolved inside.
	app.Post("/webhook/:provider/:endpoint", webhookCtrl.HandleProviderWebhook)

	// Probes
	app.Get("/up", controllers.HandleLiveness)
	app.Get("/health", controllers.HandleHealth)

	// Prometheus scrape endpoint plus the fiber runtime dashboard,
	// both behind basic auth.
	metricsAuth := basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "metrics"): env.GetEnv("METRICS_PASSWORD", "metrics"),
		},
	})
	app.Get("/metrics", metricsAuth, adaptor.HTTPHandler(promhttp.Handler()))
	app.Get("/metrics/runtime", metricsAuth, monitor.New())
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
