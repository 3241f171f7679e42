package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/verification-api/internal/config"
	"github.com/verification-api/internal/transport/http/handler"
	appmiddleware "github.com/verification-api/internal/transport/http/middleware"
	"golang.org/x/time/rate"
)

// NewRouter builds and returns the application router.
func NewRouter(cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Api-Key"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	var authMw func(http.Handler) http.Handler
	if deps.JWTProvider != nil {
		authMw = appmiddleware.Auth(deps.JWTProvider)
	} else {
		authMw = func(next http.Handler) http.Handler { return next }
	}
	gatewayMw := appmiddleware.GatewayKey(cfg.GatewayKeyHash)

	// 5 requests/second, burst of 10. Redemption is the brute-forceable
	// surface; issue and ticket-open are limited with it so a gateway bug
	// cannot flood the platform with channels.
	sensitiveRL := appmiddleware.NewRateLimiter(rate.Limit(5), 10)

	healthH := handler.NewHealthHandler()
	ticketH := handler.NewTicketHandler(deps.Service)
	verifH := handler.NewVerificationHandler(deps.Service, cfg.CodeTTL)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health-check/{action}", healthH.Ping)
		r.Post("/health-check/{action}", healthH.Ping)

		// Gateway routes: called by the trusted frontend that owns the
		// requester and external identities.
		r.Group(func(r chi.Router) {
			r.Use(gatewayMw)

			r.With(sensitiveRL.Limit).Post("/tickets", ticketH.Open)
			r.Delete("/tickets/{requesterId}", ticketH.Close)
			r.With(sensitiveRL.Limit).Post("/verifications", verifH.Issue)
			r.With(sensitiveRL.Limit).Post("/verifications/redeem", verifH.Redeem)
		})

		// Operator routes.
		r.Group(func(r chi.Router) {
			r.Use(authMw)
			r.Use(appmiddleware.RequireRole("operator", "admin"))

			r.Get("/verifications/{requesterId}", verifH.Get)
		})
	})

	return r
}
