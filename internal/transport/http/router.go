package http

import (
	"net/http"

	"github.com/ecothreads-notify/internal/config"
	"github.com/ecothreads-notify/internal/transport/http/handler"
	appmiddleware "github.com/ecothreads-notify/internal/transport/http/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"
)

// RoleService is the JWT role required on trigger routes.
const RoleService = "service"

// NewRouter builds and returns the application router.
func NewRouter(cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	if cfg.TrustProxyHeaders {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// 5 requests/second, burst of 10, for the public e-mail call.
	emailRL := appmiddleware.NewRateLimiter(rate.Limit(5), 10)

	healthH := handler.NewHealthHandler()
	triggerH := handler.NewTriggerHandler(deps.Router)
	emailH := handler.NewEmailHandler(deps.Mail)

	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health-check/{action}", healthH.Ping)
		r.With(emailRL.Limit).Post("/emails/verification", emailH.SendVerification)

		r.Group(func(r chi.Router) {
			if deps.Verifier != nil {
				r.Use(appmiddleware.Auth(deps.Verifier))
				r.Use(appmiddleware.RequireRole(RoleService))
			}

			r.Post("/notifications", triggerH.CreateNotification)
			r.Post("/notifications/{id}/replay", triggerH.Replay)
			r.Post("/donations", triggerH.NewDonation)
			r.Post("/subscriptions", triggerH.SubscriberAdded)
			r.Post("/sweeps/shipped-followup", triggerH.SweepShippedFollowups)
		})
	})

	return r
}
