package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"medrecord-api/internal/config"
	"medrecord-api/internal/handler"
	"medrecord-api/internal/metrics"
	"medrecord-api/internal/middleware"
	"medrecord-api/internal/model"
)

type Handlers struct {
	Auth      *handler.AuthHandler
	TwoFactor *handler.TwoFactorHandler
	User      *handler.UserHandler
	Audit     *handler.AuditHandler
}

// New wires the middleware chain. The bypass list is fixed here at wiring
// time: login, refresh, register, health and metrics never pass through the
// authorization gate or the transport encryption layer. Everything else
// under /api/v1 does, in a fixed order: gate, then decrypt, then handler,
// then encrypt, with the audit recorder outermost so it sees wire bytes.
func New(
	cfg *config.Config,
	authMiddleware *middleware.AuthMiddleware,
	encryption *middleware.EncryptionMiddleware,
	audit *middleware.AuditRecorder,
	m *metrics.Metrics,
	handlers Handlers,
	resources func(chi.Router),
) http.Handler {
	r := chi.NewRouter()
	rateLimit := middleware.NewRateLimitMiddleware(cfg.RateLimitRPM, cfg.AuthRateLimitRPM)

	r.Use(middleware.Logging)
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(m.Instrument)
	r.Use(rateLimit.Handler)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", m.Handler())

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(middleware.Timeout(cfg.RequestTimeout))
		api.Use(audit.Handler)
		api.Use(middleware.Recovery)

		// Public credential endpoints: their clients cannot hold tokens or
		// speak the encrypted envelope yet.
		api.Post("/auth/login", handlers.Auth.Login)
		api.Post("/auth/refresh", handlers.Auth.Refresh)
		api.Post("/auth/register", handlers.Auth.Register)

		api.Group(func(protected chi.Router) {
			protected.Use(authMiddleware.RequireAuth)
			protected.Use(encryption.Handler)

			protected.Post("/auth/password", handlers.Auth.ChangePassword)
			protected.Post("/auth/2fa/enable", handlers.TwoFactor.Enable)
			protected.Post("/auth/2fa/verify", handlers.TwoFactor.Verify)
			protected.Post("/auth/2fa/disable", handlers.TwoFactor.Disable)

			protected.Get("/users/me", handlers.User.Me)

			// Account provisioning and deactivation are admin-only; the
			// public register route cannot create elevated roles.
			admin := authMiddleware.RequireRoles(model.RoleAdmin)
			protected.With(admin).Post("/users", handlers.User.Create)
			protected.With(admin).Patch("/users/{id}/active", handlers.User.SetActive)

			protected.With(admin).Get("/audit", handlers.Audit.List)

			// Resource controllers (patients, appointments, messages, ...)
			// mount here and inherit the full chain.
			if resources != nil {
				resources(protected)
			}
		})
	})

	return r
}
