package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/openclaw/auth-broker-go/internal/config"
	"github.com/openclaw/auth-broker-go/internal/middleware"
)

type RouterDeps struct {
	Pairing *PairingHandler
	Session *SessionHandler
	Limiter middleware.Limiter
	// IsHTTPS enables HSTS.
	IsHTTPS bool
	// TrustProxyHeaders takes the client IP from X-Forwarded-For / X-Real-IP.
	// Only safe behind a proxy that overwrites them.
	TrustProxyHeaders bool
}

func NewRouter(deps RouterDeps) http.Handler {
	rateLimit := middleware.NewRateLimitMiddleware(deps.Limiter)
	bearerAuth := middleware.NewBearerAuthMiddleware()
	securityHeaders := middleware.NewSecurityHeadersMiddleware(deps.IsHTTPS)
	bodyLimit := middleware.NewBodyLimitMiddleware(0)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	if deps.TrustProxyHeaders {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(securityHeaders.Handler)
	r.Use(middleware.CORS)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(bodyLimit.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(rateLimit.Handler(middleware.RouteClassAll))

		r.With(rateLimit.Handler(middleware.RouteClassPair)).Post("/pair", deps.Pairing.StartPairing)
		r.With(rateLimit.Handler(middleware.RouteClassPoll)).Get("/pair/{pairId}", deps.Pairing.PollStatus)
		r.Get("/callback", deps.Pairing.Callback)

		r.Group(func(r chi.Router) {
			r.Use(bearerAuth.Handler)
			r.With(rateLimit.Handler(middleware.RouteClassToken)).Post("/access-token", deps.Session.AccessToken)
			r.Post("/logout", deps.Session.Logout)
		})
	})

	return r
}
