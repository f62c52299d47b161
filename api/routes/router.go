package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brunopacheco/pixgate-backend/api/controllers"
	webhookcontrollers "github.com/brunopacheco/pixgate-backend/api/controllers/webhooks"
	"github.com/brunopacheco/pixgate-backend/api/middleware"
	"github.com/brunopacheco/pixgate-backend/pkg/config"
	"github.com/brunopacheco/pixgate-backend/pkg/logger"
)

// RouterParams carry the wired services the HTTP surface exposes.
type RouterParams struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       controllers.Pinger
	Redis    controllers.Pinger
	Creator  controllers.PreferenceCreator
	Checker  controllers.StatusChecker
	Webhook  webhookcontrollers.MercadoPagoService
	Verifier webhookcontrollers.SignatureVerifier
	Metrics  prometheus.Gatherer
}

func NewRouter(params RouterParams) http.Handler {
	cfg := params.Config
	logg := params.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.CORS),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"database": params.DB,
			"redis":    params.Redis,
		}))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(params.Metrics, promhttp.HandlerOpts{}))
	}

	webhook := webhookcontrollers.MercadoPago(params.Webhook, params.Verifier, logg)

	r.Route("/pix", func(r chi.Router) {
		r.Post("/create-preference", controllers.CreatePreference(params.Creator, logg))
		r.Get("/status/{transactionID}", controllers.TransactionStatus(params.Checker, logg))
		r.Post("/webhook", webhook)
	})

	// Path registered with Mercado Pago dashboards before the /pix prefix
	// existed.
	r.Post("/api/v1/webhooks/mercadopago", webhook)

	return r
}
