package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jmwhitfield/clubpay-backend/api/controllers"
	webhookcontrollers "github.com/jmwhitfield/clubpay-backend/api/controllers/webhooks"
	"github.com/jmwhitfield/clubpay-backend/api/middleware"
	"github.com/jmwhitfield/clubpay-backend/internal/lifecycle"
	gcwebhook "github.com/jmwhitfield/clubpay-backend/internal/webhooks/gocardless"
	"github.com/jmwhitfield/clubpay-backend/pkg/config"
	"github.com/jmwhitfield/clubpay-backend/pkg/gocardless"
	"github.com/jmwhitfield/clubpay-backend/pkg/logger"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// NewRouter wires the HTTP surface: registration intake, processor webhooks
// and health checks.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP pinger,
	redisP pinger,
	registrationService controllers.RegistrationService,
	lifecycleService *lifecycle.Service,
	gcClient *gocardless.Client,
	webhookGuard *gcwebhook.IdempotencyGuard,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisP))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/registrations", controllers.RegistrationCreate(registrationService, logg))
		r.Route("/webhooks", func(r chi.Router) {
			r.Post("/gocardless", webhookcontrollers.GoCardlessWebhook(lifecycleService, gcClient, webhookGuard, logg))
		})
	})

	return r
}
