package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/andr2000/camera-be/internal/auth"
)

// healthCheckTimeout bounds each component check.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "no such endpoint")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Route("/cameras", func(r chi.Router) {
			r.Get("/", s.handleListCameras)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetCamera)
				r.With(s.requireScope(auth.ScopeControlWrite)).
					Put("/controls/{name}", s.handleSetControl)
			})
		})

		r.Get("/sessions", s.handleListSessions)
		r.Get("/groups", s.handleListGroups)
	})

	return r
}

// ComponentHealth is one entry of the health response.
type ComponentHealth struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// handleHealth runs every configured check. Any failure answers 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := "ok"
	code := http.StatusOK
	components := make(map[string]ComponentHealth, len(names))
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := s.checks[name].HealthCheck(ctx)
		cancel()

		if err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
			components[name] = ComponentHealth{Status: "error", Error: err.Error()}
			continue
		}
		components[name] = ComponentHealth{Status: "ok"}
	}

	writeJSON(w, code, map[string]any{
		"status":     status,
		"version":    s.version,
		"components": components,
	})
}
