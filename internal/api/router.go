package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/studysync/authcore/internal/auth"
)

// corsMaxAge is how long browsers may cache a preflight response, in seconds.
const corsMaxAge = 86400

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(cors.Handler(s.corsOptions()))
	r.Use(s.bodySizeLimitMiddleware)

	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	// Realtime handshake authenticates itself so the credential may arrive
	// as a query parameter.
	r.Get(s.wsPath(), s.handleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleSystemMetrics)

		// Credential-minting endpoints (rate limited, no auth required)
		r.Group(func(r chi.Router) {
			if s.secCfg.RateLimit.Enabled {
				r.Use(httprate.LimitByIP(s.secCfg.RateLimit.RequestsPerMinute, time.Minute))
			}
			r.Post("/auth/login", s.handleLogin)
			r.Post("/auth/refresh", s.handleRefresh)
		})

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/auth/me", s.handleMe)
			r.With(s.requirePermission(auth.PermSessionManage)).Post("/auth/logout", s.handleLogout)
			r.With(s.requirePermission(auth.PermPasswordChange)).Post("/auth/password", s.handleChangePassword)

			r.With(s.requirePermission(auth.PermSecurityAudit)).Get("/audit/events", s.handleListSecurityEvents)

			r.Route("/users/{id}", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermUserDeactivate)).Post("/deactivate", s.handleDeactivateUser)
				r.With(s.requirePermission(auth.PermRevocationsAudit)).Get("/revocations", s.handleListRevocations)
			})
		})
	})

	return r
}

// corsOptions maps the CORS config onto go-chi/cors. An empty origin list
// allows all origins (dev mode).
func (s *Server) corsOptions() cors.Options {
	origins := s.cfg.CORS.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	methods := s.cfg.CORS.AllowedMethods
	if len(methods) == 0 {
		methods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	}
	headers := s.cfg.CORS.AllowedHeaders
	if len(headers) == 0 {
		headers = []string{"Authorization", "Content-Type", "X-Request-ID"}
	}
	return cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: methods,
		AllowedHeaders: headers,
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         corsMaxAge,
	}
}

func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if s.db != nil {
		if err := s.db.HealthCheck(r.Context()); err != nil {
			s.logger.Warn("database health check failed", "error", err)
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, map[string]any{
		"status":  status,
		"version": s.version,
	})
}
