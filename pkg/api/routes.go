package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter constructs the chi router with all routes and middleware.
func (s *server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)
	r.Use(metricsMiddleware)
	r.Use(s.corsMiddleware())

	if s.cfg.Metrics.Enabled {
		r.Method(http.MethodGet, s.cfg.Metrics.Path, promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Every route below may create a guard for a client-supplied token,
		// so the limiters run first.
		authenticatedLimit := func(next http.Handler) http.Handler { return next }

		if s.cfg.Server.RateLimit.Enabled {
			authenticatedLimit = s.rateLimitMiddleware(
				s.cfg.Server.RateLimit.Authenticated,
			)
		}

		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				if s.cfg.Server.RateLimit.Enabled {
					r.Use(s.rateLimitMiddleware(
						s.cfg.Server.RateLimit.Auth,
					))
				}

				r.Post("/login", s.handleLogin)
				r.Post("/logout", s.handleLogout)
				r.Get("/session", s.handleSession)
			})

			r.With(authenticatedLimit).Post("/activity", s.handleActivity)
		})

		// Everything below needs a live session and an allowed role.
		r.Group(func(r chi.Router) {
			r.Use(authenticatedLimit)
			r.Use(s.requireSession)
			r.Use(s.requireRole)

			r.Get("/me", s.handleGetMe)
			r.Put("/me", s.handleUpdateMe)
			r.Post("/me/password", s.handleChangePassword)

			r.Route("/control", func(r chi.Router) {
				r.Get("/status", s.handleControlStatus)
				r.Put("/emergency-stop", s.handleSetEmergencyStop)
				r.Put("/all-automations", s.handleSetAllAutomations)
				r.Get("/users/{userID}", s.handleGetUserAutomation)
				r.Post("/users/{userID}", s.handleSetUserAutomation)
				r.Get("/activity", s.handleListActivity)
			})
		})
	})

	return r
}

// corsMiddleware returns a CORS handler configured from the API config.
func (s *server) corsMiddleware() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods:   []string{"GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}

	origins := s.cfg.Server.CORSOrigins

	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		// Reflect the requesting origin so credentials work from any origin.
		opts.AllowOriginFunc = func(_ *http.Request, _ string) bool {
			return true
		}
	} else {
		opts.AllowedOrigins = origins
	}

	return cors.Handler(opts)
}
