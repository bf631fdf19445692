package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/payrecon/api/controllers"
	webhookcontrollers "github.com/angelmondragon/payrecon/api/controllers/webhooks"
	"github.com/angelmondragon/payrecon/api/middleware"
	"github.com/angelmondragon/payrecon/pkg/logger"
	"github.com/angelmondragon/payrecon/pkg/metrics"
)

// Params collects everything the HTTP surface depends on.
type Params struct {
	Logger         *logger.Logger
	Payments       controllers.PaymentsService
	GatewayWebhook webhookcontrollers.GatewayWebhookService
	Readiness      map[string]controllers.Pinger
	Gatherer       prometheus.Gatherer
	HTTPMetrics    *metrics.HTTPMetrics
}

func NewRouter(p Params) http.Handler {
	logg := p.Logger
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.Metrics(p.HTTPMetrics),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive())
		r.Get("/ready", controllers.HealthReady(logg, p.Readiness))
	})

	if p.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(p.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/gateway", webhookcontrollers.GatewayWebhook(p.GatewayWebhook, logg))
	})

	r.Route("/api/v1/payments/{orderId}", func(r chi.Router) {
		r.Get("/", controllers.PaymentLedger(p.Payments, logg))
		r.Post("/initiate", controllers.PaymentInitiate(p.Payments, logg))
		r.Post("/check", controllers.PaymentCheck(p.Payments, logg))
		r.Post("/polling", controllers.PaymentStartPolling(p.Payments, logg))
	})

	r.Get("/api/v1/polling", controllers.PollingStatus(p.Payments, logg))

	return r
}
