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
	r.Use(s.corsMiddleware())

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if s.cfg.Server.RateLimit.Enabled {
			r.Use(s.rateLimitMiddleware(
				s.cfg.Server.RateLimit.RequestsPerMinute,
			))
		}

		// Public endpoints.
		r.Get("/health", s.handleHealth)
		r.Get("/durations", s.handleDurations)
		r.Get("/nodes", s.handleNodes)
		r.Post("/split", s.handleSplit)

		// Write endpoints.
		r.Group(func(r chi.Router) {
			r.Use(s.requireToken)

			r.Put("/nodes/{nodeID}/durations", s.handlePutNodeDurations)
			r.Post("/compile", s.handleCompile)
		})

		// History endpoints (when history is enabled).
		if s.tracker.History() != nil {
			r.Route("/history", func(r chi.Router) {
				r.Get("/", s.handleTestHistory)
				r.Get("/compilations", s.handleCompilations)
			})
		}
	})

	return r
}

// corsMiddleware returns a CORS handler configured from the API config.
func (s *server) corsMiddleware() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods: []string{"GET", "HEAD", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	}

	origins := s.cfg.Server.CORSOrigins

	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		opts.AllowedOrigins = []string{"*"}
	} else {
		opts.AllowedOrigins = origins
	}

	return cors.Handler(opts)
}
